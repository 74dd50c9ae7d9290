package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/ode-browse-cache/internal/core/health"
	middleware "github.com/mohammed-shakir/ode-browse-cache/internal/core/middleware"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/router"
	"github.com/mohammed-shakir/ode-browse-cache/internal/hotness/expdecay"
)

// HotLister exposes the hottest footprint cells.
type HotLister interface {
	Hottest(n int) []expdecay.Scored
}

type Routes struct {
	Browse  router.BrowseService
	Metrics http.Handler // nil disables /metrics
	Ready   map[string]health.Check
	Hot     HotLister // nil disables /hot
}

func Handler(logger *slog.Logger, rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.AccessLog(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(rt.Ready))
	if rt.Metrics != nil {
		r.Get("/metrics", rt.Metrics.ServeHTTP)
	}
	if rt.Hot != nil {
		r.Get("/hot", hotHandler(rt.Hot))
	}
	r.Get("/browse", router.HandleBrowse(logger, rt.Browse))
	return r
}

func hotHandler(h HotLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := 20
		if v, err := strconv.Atoi(r.URL.Query().Get("n")); err == nil && v > 0 && v <= 1000 {
			n = v
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h.Hottest(n))
	}
}

// sets up http and starts serving
func Run(ctx context.Context, addr string, logger *slog.Logger, rt Routes) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(logger, rt),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// cold queries download every file before answering
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
