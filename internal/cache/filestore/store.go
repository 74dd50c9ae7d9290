// Package filestore keeps cached remote files on local disk.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("filestore root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("filestore root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating filestore root: %w", err)
	}
	return &Store{root: abs}, nil
}

func (s *Store) Root() string { return s.root }

// Path resolves a slash-separated relative path under the root.
func (s *Store) Path(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// Exists reports whether a complete file is present at rel. Partially written
// files only ever live under temp names, so a regular file here is complete.
func (s *Store) Exists(rel string) (bool, error) {
	fi, err := os.Stat(s.Path(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %q: %w", rel, err)
	}
	return fi.Mode().IsRegular(), nil
}

type Written struct {
	Path   string
	Size   int64
	SHA256 string
}

// WriteFrom streams r into rel through a temp file in the same directory and
// renames it into place, so readers see either nothing or the whole file.
func (s *Store) WriteFrom(ctx context.Context, rel string, r io.Reader) (Written, error) {
	dst := s.Path(rel)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Written{}, fmt.Errorf("creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".tmp.*")
	if err != nil {
		return Written{}, fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), ctxReader{ctx: ctx, r: r})
	if err != nil {
		return Written{}, fmt.Errorf("writing %q: %w", rel, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return Written{}, fmt.Errorf("chmod %q: %w", rel, err)
	}
	_ = tmp.Sync() // best-effort durability
	if err := tmp.Close(); err != nil {
		return Written{}, fmt.Errorf("closing %q: %w", rel, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return Written{}, fmt.Errorf("committing %q: %w", rel, err)
	}
	committed = true
	return Written{Path: dst, Size: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

// Remove deletes rel if present.
func (s *Store) Remove(rel string) error {
	err := os.Remove(s.Path(rel))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %q: %w", rel, err)
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
