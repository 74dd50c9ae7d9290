// Package router turns HTTP requests into browse queries.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/ode-browse-cache/internal/assemble"
	"github.com/mohammed-shakir/ode-browse-cache/internal/browse"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/observability"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/ode"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/query"
)

// runs a validated browse query
type BrowseService interface {
	Browse(ctx context.Context, d query.Descriptor) (*assemble.ImageWrapper, browse.Diagnostics, error)
}

type FetchFailure struct {
	Index    int    `json:"index"`
	Location string `json:"location"`
	Error    string `json:"error"`
}

type DecodeFailure struct {
	Key   string `json:"key"`
	Path  string `json:"path"`
	Error string `json:"error"`
}

type BrowseResponse struct {
	Query          string                 `json:"query"`
	Results        *assemble.ImageWrapper `json:"results"`
	FetchFailures  []FetchFailure         `json:"fetch_failures,omitempty"`
	DecodeFailures []DecodeFailure        `json:"decode_failures,omitempty"`
}

// HandleBrowse validates the query string and runs it through svc.
func HandleBrowse(logger *slog.Logger, svc BrowseService) http.HandlerFunc {
	const route = "/browse"
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
		}()

		p, err := ParseBrowseParams(r.URL.Query())
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			return
		}
		d, err := query.New(p)
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			return
		}

		res, diag, err := svc.Browse(r.Context(), d)
		if err != nil {
			code := statusFor(err)
			logger.WarnContext(r.Context(), "browse failed", "status", code, "err", err)
			http.Error(sw, err.Error(), code)
			return
		}

		out := BrowseResponse{Query: d.Fingerprint(), Results: res}
		for _, fe := range diag.Fetch {
			out.FetchFailures = append(out.FetchFailures, FetchFailure{Index: fe.Index, Location: fe.Location, Error: fe.Err.Error()})
		}
		for _, de := range diag.Decode {
			out.DecodeFailures = append(out.DecodeFailures, DecodeFailure{Key: de.Key, Path: de.Path, Error: de.Err.Error()})
		}
		sw.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(sw).Encode(out); err != nil {
			logger.WarnContext(r.Context(), "write response", "err", err)
		}
	}
}

func statusFor(err error) int {
	var rq *ode.RemoteQueryError
	switch {
	case errors.Is(err, query.ErrValidation):
		return http.StatusBadRequest
	case errors.As(err, &rq):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// client went away
		return 499
	default:
		return http.StatusInternalServerError
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// ParseBrowseParams reads query.Params from URL values. Anything absent keeps
// its default; range checks are left to query.New.
func ParseBrowseParams(v url.Values) (query.Params, error) {
	get := func(k string) string { return strings.TrimSpace(v.Get(k)) }

	p := query.DefaultParams(get("target"), get("mission"), get("instrument"), get("product_type"))

	for _, f := range []struct {
		key string
		dst **float64
	}{
		{"western_lon", &p.WesternLon},
		{"eastern_lon", &p.EasternLon},
		{"min_lat", &p.MinLat},
		{"max_lat", &p.MaxLat},
	} {
		raw := get(f.key)
		if raw == "" {
			continue
		}
		x, err := parseFloat(raw)
		if err != nil {
			return query.Params{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = &x
	}

	p.MinObTime = get("min_ob_time")
	p.MaxObTime = get("max_ob_time")
	p.ProductID = get("product_id")
	if s := get("file_name"); s != "" {
		p.FileName = s
	}

	for _, f := range []struct {
		key string
		dst *int
	}{
		{"limit", &p.Limit},
		{"offset", &p.Offset},
	} {
		raw := get(f.key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return query.Params{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = n
	}

	if raw := get("remove_ndv"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return query.Params{}, fmt.Errorf("remove_ndv: %w", err)
		}
		p.RemoveNoData = b
	}
	return p, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}
