// Package keys derives cache keys and local paths from remote locations.
package keys

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Location returns the index/lock key for a remote location within a namespace.
func Location(namespace, location string) string {
	ns := sanitizeNamespace(strings.TrimSpace(namespace))
	return fmt.Sprintf("loc:%s:%016x", ns, xxhash.Sum64String(normalizeLocation(location)))
}

// RelPath maps a remote location to its content-addressed path under the cache
// root: <ns>/<hh>/<hash16>-<basename>. The remote suffix is preserved so the
// file type can be recognised from the local path.
func RelPath(namespace, location string) string {
	ns := sanitizeNamespace(strings.TrimSpace(namespace))
	norm := normalizeLocation(location)
	sum := fmt.Sprintf("%016x", xxhash.Sum64String(norm))

	base := baseName(norm)
	const maxBaseLen = 96
	if len(base) > maxBaseLen {
		ext := path.Ext(base)
		if len(ext) > 16 {
			ext = ""
		}
		base = base[:maxBaseLen-len(ext)] + ext
	}
	if base == "" {
		return path.Join(ns, sum[:2], sum)
	}
	return path.Join(ns, sum[:2], sum+"-"+base)
}

// scheme and host are case-insensitive; fragments never reach the server
func normalizeLocation(loc string) string {
	loc = strings.TrimSpace(loc)
	u, err := url.Parse(loc)
	if err != nil || u.Host == "" {
		return loc
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String()
}

func baseName(loc string) string {
	p := loc
	if u, err := url.Parse(loc); err == nil && u.Path != "" {
		p = u.Path
	}
	b := path.Base(p)
	if b == "." || b == "/" {
		return ""
	}
	return sanitizeFileName(b)
}

func sanitizeFileName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := r
		if !(isAlphaNum(r) || r == '.' || r == '_' || r == '-') {
			out = '_'
		}
		if out == '_' && prev == '_' {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return strings.TrimLeft(b.String(), ".")
}

func sanitizeNamespace(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
