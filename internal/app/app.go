// Package app wires configuration into a ready-to-use browse service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mohammed-shakir/ode-browse-cache/internal/assemble"
	"github.com/mohammed-shakir/ode-browse-cache/internal/browse"
	"github.com/mohammed-shakir/ode-browse-cache/internal/cache/fetch"
	"github.com/mohammed-shakir/ode-browse-cache/internal/cache/filestore"
	"github.com/mohammed-shakir/ode-browse-cache/internal/cache/index"
	"github.com/mohammed-shakir/ode-browse-cache/internal/cache/lock"
	"github.com/mohammed-shakir/ode-browse-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/config"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/health"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/httpclient"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/observability"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/ode"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/query"
	"github.com/mohammed-shakir/ode-browse-cache/internal/fetchevents"
	"github.com/mohammed-shakir/ode-browse-cache/internal/footprint"
	"github.com/mohammed-shakir/ode-browse-cache/internal/hotness/expdecay"
	"github.com/mohammed-shakir/ode-browse-cache/internal/hotness/metricswrap"
	"github.com/mohammed-shakir/ode-browse-cache/internal/imagery"
)

type App struct {
	logger    *slog.Logger
	cfg       config.Config
	store     *filestore.Store
	resolver  *ode.Resolver
	cache     *fetch.Manager
	hot       *expdecay.Tracker
	footprint *footprint.Tracker
	redis     *redisstore.Client
	events    *fetchevents.Publisher
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	a := &App{logger: logger, cfg: cfg}

	client := httpclient.NewOutbound(httpclient.Options{
		Timeout:         cfg.FetchTimeout,
		MaxConnsPerHost: cfg.CacheFillMaxWorkers,
	})
	res, err := ode.New(logger.With("component", "ode"), client, cfg.ODEURL)
	if err != nil {
		return nil, err
	}
	a.resolver = res

	a.store, err = filestore.New(cfg.CacheDir)
	if err != nil {
		return nil, err
	}

	opts := []fetch.Option{
		fetch.WithWorkers(cfg.CacheFillMaxWorkers, cfg.CacheFillQueue),
		fetch.WithFetchTimeout(cfg.FetchTimeout),
	}

	switch cfg.CacheIndex {
	case "redis":
		rctx, cancel := context.WithTimeout(ctx, cfg.CacheOpTimeout*8)
		rc, err := redisstore.New(rctx, cfg.RedisAddr,
			redisstore.WithPrefix(cfg.RedisPrefix),
			redisstore.WithOpTimeout(cfg.CacheOpTimeout))
		cancel()
		if err != nil {
			return nil, fmt.Errorf("cache index: %w", err)
		}
		a.redis = rc
		idx, err := index.WithLRU(index.NewRedis(rc, 0), cfg.CacheLRUSize)
		if err != nil {
			_ = rc.Close()
			return nil, err
		}
		opts = append(opts, fetch.WithIndex(idx), fetch.WithLocker(lock.NewRedis(rc, cfg.CacheLockTTL)))
	case "memory", "":
	default:
		return nil, fmt.Errorf("unknown CACHE_INDEX %q (memory|redis)", cfg.CacheIndex)
	}

	if cfg.Events.Enabled {
		pub, err := fetchevents.NewPublisher(logger.With("component", "fetchevents"),
			splitBrokers(cfg.Events.Brokers), cfg.Events.Topic, cfg.Events.Queue)
		if err != nil {
			a.closeRedis()
			return nil, err
		}
		a.events = pub
		opts = append(opts, fetch.WithEventSink(pub))
	}

	a.cache, err = fetch.New(logger.With("component", "cache"), a.store,
		fetch.NewHTTPDownloader(client), opts...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.hot = expdecay.New(cfg.HotHalfLife)
	wrapped := metricswrap.New(a.hot, logger.With("component", "hotness"), metricswrap.Options{
		Threshold: cfg.HotThreshold,
		Sample:    cfg.HotSample,
	})
	a.footprint = footprint.NewTracker(logger, wrapped, cfg.FootprintRes)

	logger.Info("browse service ready",
		"ode", cfg.ODEURL,
		"cache_dir", a.store.Root(),
		"index", cfg.CacheIndex,
		"events", cfg.Events.Enabled)
	return a, nil
}

func splitBrokers(s string) []string {
	var out []string
	for b := range strings.SplitSeq(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Browse runs one query. It satisfies router.BrowseService.
func (a *App) Browse(ctx context.Context, d query.Descriptor) (*assemble.ImageWrapper, browse.Diagnostics, error) {
	f, err := browse.New(d, browse.Deps{
		Logger:   a.logger,
		Resolver: a.resolver,
		Cache:    a.cache,
		Assembler: &assemble.Assembler{
			Decoder:    imagery.Decoder{RemoveNoData: d.RemoveNoData()},
			Extensions: a.cfg.ImageExtensions,
			Workers:    a.cfg.DecodeWorkers,
			Logger:     a.logger,
		},
		Namespace: a.cfg.CacheNamespace,
		Footprint: a.footprint,
	})
	if err != nil {
		return nil, browse.Diagnostics{}, err
	}
	return f.Output(ctx)
}

func (a *App) Hot() *expdecay.Tracker { return a.hot }

// coldScore is where a footprint cell stops being worth remembering.
const coldScore = 0.01

// RunJanitor prunes cold footprint cells every interval until ctx is done.
func (a *App) RunJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = a.hot.HalfLife
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.hot.Prune(coldScore); n > 0 {
				observability.SetHotCells(a.hot.Size())
				a.logger.Debug("pruned cold footprint cells", "removed", n, "tracked", a.hot.Size())
			}
		}
	}
}

// Readiness lists the checks for /readyz.
func (a *App) Readiness() map[string]health.Check {
	checks := map[string]health.Check{
		"cache_dir": func(context.Context) error {
			fi, err := os.Stat(a.store.Root())
			if err != nil {
				return err
			}
			if !fi.IsDir() {
				return errors.New("not a directory")
			}
			return nil
		},
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Ping
	}
	return checks
}

// Close flushes pending download events and releases the redis pool.
func (a *App) Close() error {
	var errs []error
	if a.events != nil {
		errs = append(errs, a.events.Close())
	}
	errs = append(errs, a.closeRedis())
	return errors.Join(errs...)
}

func (a *App) closeRedis() error {
	if a.redis == nil {
		return nil
	}
	err := a.redis.Close()
	a.redis = nil
	return err
}
