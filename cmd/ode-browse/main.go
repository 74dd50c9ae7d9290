// Command ode-browse runs a single browse query against ODE and prints the
// grouped result as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/mohammed-shakir/ode-browse-cache/internal/app"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/config"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/query"
	"github.com/mohammed-shakir/ode-browse-cache/internal/logger"
)

// optFloat is a flag that records whether it was set.
type optFloat struct{ v *float64 }

func (o *optFloat) String() string {
	if o.v == nil {
		return ""
	}
	return strconv.FormatFloat(*o.v, 'g', -1, 64)
}

func (o *optFloat) Set(s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	o.v = &f
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()
	p := query.DefaultParams("", "", "", "")
	var west, east, minLat, maxLat optFloat

	fs := flag.NewFlagSet("ode-browse", flag.ContinueOnError)
	fs.StringVar(&p.Target, "target", "", "planetary body: Mars, Mercury, Moon, Phobos or Venus")
	fs.StringVar(&p.Mission, "mission", "", "mission id, e.g. MRO")
	fs.StringVar(&p.Instrument, "instrument", "", "instrument id, e.g. HIRISE")
	fs.StringVar(&p.ProductType, "product-type", "", "product type, e.g. RDRV11")
	fs.Var(&west, "western-lon", "western longitude, 0..360")
	fs.Var(&east, "eastern-lon", "eastern longitude, 0..360")
	fs.Var(&minLat, "min-lat", "minimum latitude, -90..90")
	fs.Var(&maxLat, "max-lat", "maximum latitude, -90..90")
	fs.StringVar(&p.MinObTime, "min-ob-time", "", "minimum observation time (UTC prefix)")
	fs.StringVar(&p.MaxObTime, "max-ob-time", "", "maximum observation time (UTC prefix)")
	fs.StringVar(&p.ProductID, "product-id", "", "PDS product id pattern, * allowed")
	fs.StringVar(&p.FileName, "file-name", p.FileName, "file name pattern, * allowed")
	fs.IntVar(&p.Limit, "limit", p.Limit, "max products, 1..100")
	fs.IntVar(&p.Offset, "offset", p.Offset, "result offset")
	fs.BoolVar(&p.RemoveNoData, "remove-ndv", p.RemoveNoData, "turn no-data pixels into NaN")
	fs.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "local download cache directory")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 2
	}
	p.WesternLon, p.EasternLon, p.MinLat, p.MaxLat = west.v, east.v, minLat.v, maxLat.v

	d, err := query.New(p)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   true,
		Namespace: cfg.CacheNamespace,
		Component: "ode-browse",
	}, os.Stderr)
	log := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("setup failed", "err", err)
		return 1
	}
	defer func() { _ = svc.Close() }()

	res, diag, err := svc.Browse(ctx, d)
	if err != nil {
		log.Error("browse failed", "err", err)
		return 1
	}
	for _, fe := range diag.Fetch {
		log.Warn("not downloaded", "url", fe.Location, "err", fe.Err)
	}
	for _, de := range diag.Decode {
		log.Warn("not decoded", "path", de.Path, "err", de.Err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Error("write result", "err", err)
		return 1
	}
	return 0
}
