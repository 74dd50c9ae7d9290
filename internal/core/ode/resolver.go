package ode

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mohammed-shakir/ode-browse-cache/internal/core/model"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/observability"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/query"
)

// ErrNoResults is returned when the catalog answered but no file survived the filters.
var ErrNoResults = errors.New("ode: no matching files")

// RemoteQueryError wraps every failure to obtain a usable catalog answer.
type RemoteQueryError struct {
	URL    string
	Status int    // HTTP status, 0 when the request never completed
	Remote string // message from an <Error> element
	Err    error
}

func (e *RemoteQueryError) Error() string {
	switch {
	case e.Remote != "":
		return fmt.Sprintf("ode query failed: %s", e.Remote)
	case e.Status != 0:
		return fmt.Sprintf("ode query failed: status %d", e.Status)
	default:
		return fmt.Sprintf("ode query failed: %v", e.Err)
	}
}

func (e *RemoteQueryError) Unwrap() error { return e.Err }

type Interface interface {
	Resolve(ctx context.Context, d query.Descriptor) (*model.Resources, error)
}

type Resolver struct {
	logger  *slog.Logger
	client  *http.Client
	baseURL *url.URL
	maxBody int64
}

var _ Interface = (*Resolver)(nil)

func New(logger *slog.Logger, client *http.Client, base string) (*Resolver, error) {
	u, err := url.Parse(RESTEndpoint(base))
	if err != nil {
		return nil, fmt.Errorf("parse ode url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parse ode url: %q is not absolute", base)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{logger: logger, client: client, baseURL: u, maxBody: 32 << 20}, nil
}

// QueryURL is the full catalog request for d.
func (r *Resolver) QueryURL(d query.Descriptor) string {
	u := *r.baseURL
	u.RawQuery = BuildProductQueryParams(d).Encode()
	return u.String()
}

// Resolve runs the catalog query and returns the browse files to fetch, keyed
// by URL in response order.
func (r *Resolver) Resolve(ctx context.Context, d query.Descriptor) (*model.Resources, error) {
	qurl := r.QueryURL(d)
	r.logger.InfoContext(ctx, "ode query", "url", qurl)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, qurl, nil)
	if err != nil {
		return nil, &RemoteQueryError{URL: qurl, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/xml, text/xml")

	start := time.Now()
	resp, err := r.client.Do(req)
	observability.ObserveUpstreamLatency("ode", time.Since(start).Seconds())
	if err != nil {
		return nil, &RemoteQueryError{URL: qurl, Err: fmt.Errorf("do request: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &RemoteQueryError{
			URL:    qurl,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))),
		}
	}

	var res odeResults
	if err := xml.NewDecoder(io.LimitReader(resp.Body, r.maxBody)).Decode(&res); err != nil {
		return nil, &RemoteQueryError{URL: qurl, Err: fmt.Errorf("decode xml: %w", err)}
	}
	if msg := strings.TrimSpace(res.Error); msg != "" {
		if emptyResultMessage(msg) {
			r.logger.InfoContext(ctx, "ode reported no products", "message", msg)
			return nil, ErrNoResults
		}
		return nil, &RemoteQueryError{URL: qurl, Remote: msg, Err: errors.New(msg)}
	}

	rs, err := selectFiles(res, d.ResourceType(), d.FileName())
	if err != nil {
		return nil, err
	}
	for _, it := range rs.Items() {
		r.logger.DebugContext(ctx, "file selected",
			"product", it.ProductID, "description", it.Description, "url", it.Location)
	}
	if rs.Len() == 0 {
		r.logger.InfoContext(ctx, "ode query matched no files", "products", len(res.Products))
		return nil, ErrNoResults
	}
	r.logger.InfoContext(ctx, "ode query resolved", "products", len(res.Products), "files", rs.Len())
	return rs, nil
}

// ODE reports an empty search through <Error> on some endpoints.
func emptyResultMessage(msg string) bool {
	m := strings.ToLower(msg)
	for _, s := range []string{"no products", "no product found", "no results", "no files"} {
		if strings.Contains(m, s) {
			return true
		}
	}
	return false
}

func selectFiles(res odeResults, fileType, pattern string) (*model.Resources, error) {
	re, err := GlobRegexp(pattern)
	if err != nil {
		return nil, err
	}
	rs := model.NewResources()
	for _, p := range res.Products {
		pid := strings.TrimSpace(p.PDSID)
		for _, f := range p.Files {
			if strings.TrimSpace(f.Type) != fileType {
				continue
			}
			loc := strings.TrimSpace(f.URL)
			if loc == "" || !re.MatchString(f.name()) {
				continue
			}
			rs.Put(model.Resource{
				Key:         loc,
				ProductID:   pid,
				Description: strings.TrimSpace(f.Description),
				Location:    loc,
			})
		}
	}
	return rs, nil
}

// GlobRegexp compiles a file-name pattern where * matches any run of
// characters. Everything else is literal. The pattern may match anywhere in
// the name, so "RED" selects "ESP_011277_1825_RED.browse.jpg".
func GlobRegexp(pattern string) (*regexp.Regexp, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		pattern = "*"
	}
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile(strings.Join(parts, ".*"))
	if err != nil {
		return nil, fmt.Errorf("file name pattern %q: %w", pattern, err)
	}
	return re, nil
}
