package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/ode-browse-cache/internal/app"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/config"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/observability"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/server"
	"github.com/mohammed-shakir/ode-browse-cache/internal/logger"
	"github.com/mohammed-shakir/ode-browse-cache/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug|info|warn|error")
	flag.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "local download cache directory")
	flag.Parse()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Namespace: cfg.CacheNamespace,
		Component: "browse-server",
		Version:   Version,
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	appLog.Info("starting browse-server",
		"addr", cfg.Addr,
		"version", Version,
		"ode", cfg.ODEURL,
		"cache_dir", cfg.CacheDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	routes := server.Routes{}
	if cfg.MetricsEnabled {
		addr := strings.TrimSpace(os.Getenv("METRICS_ADDR"))
		p := metrics.Init(metrics.Config{
			Enabled: true,
			Addr:    addr,
			Path:    os.Getenv("METRICS_PATH"),
			Build:   metrics.BuildInfoFromEnv(Version),
		})
		observability.Init(p.Registerer(), true)
		if addr == "" {
			routes.Metrics = p.Handler()
		} else {
			go func() {
				if err := p.Serve(ctx, appLog); err != nil {
					appLog.Error("metrics server exited", "err", err)
				}
			}()
		}
	}

	svc, err := app.New(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("browse service setup failed", "err", err)
		return 1
	}
	defer func() {
		if err := svc.Close(); err != nil {
			appLog.Warn("close", "err", err)
		}
	}()

	go svc.RunJanitor(ctx, cfg.HotHalfLife)

	routes.Browse = svc
	routes.Ready = svc.Readiness()
	routes.Hot = svc.Hot()

	if err := server.Run(ctx, cfg.Addr, appLog, routes); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
