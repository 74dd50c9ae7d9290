// Package browse runs one browse query end to end: resolve the catalog,
// fetch through the cache, decode and group the images.
package browse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/ode-browse-cache/internal/assemble"
	"github.com/mohammed-shakir/ode-browse-cache/internal/cache"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/ode"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/query"
	mylog "github.com/mohammed-shakir/ode-browse-cache/internal/logger"
)

const DefaultNamespace = "ode"

// Diagnostics lists per-entry problems that did not fail the call.
type Diagnostics struct {
	Fetch  []*cache.FetchError
	Decode []*assemble.DecodeError
}

func (d Diagnostics) Empty() bool { return len(d.Fetch) == 0 && len(d.Decode) == 0 }

// Recorder is told about every query that reaches the catalog.
type Recorder interface {
	Record(ctx context.Context, d query.Descriptor) ([]string, error)
}

type Deps struct {
	Logger    *slog.Logger
	Resolver  ode.Interface
	Cache     cache.Interface
	Assembler *assemble.Assembler
	Namespace string
	Footprint Recorder
}

type Fetcher struct {
	d    query.Descriptor
	deps Deps
}

func New(d query.Descriptor, deps Deps) (*Fetcher, error) {
	if deps.Resolver == nil {
		return nil, errors.New("browse: resolver is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("browse: cache is required")
	}
	if deps.Assembler == nil {
		deps.Assembler = &assemble.Assembler{}
	}
	if deps.Namespace == "" {
		deps.Namespace = DefaultNamespace
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &Fetcher{d: d, deps: deps}, nil
}

func (f *Fetcher) Descriptor() query.Descriptor { return f.d }

// Output returns the grouped images for the descriptor. An empty catalog
// answer gives an empty result. Catalog failures and fatal cache errors are
// returned unchanged; per-entry failures land in Diagnostics.
func (f *Fetcher) Output(ctx context.Context) (*assemble.ImageWrapper, Diagnostics, error) {
	ctx = mylog.WithQuery(ctx, f.d.Fingerprint())
	log := f.deps.Logger
	start := time.Now()

	if f.deps.Footprint != nil {
		if _, err := f.deps.Footprint.Record(ctx, f.d); err != nil {
			log.WarnContext(ctx, "footprint not recorded", "err", err)
		}
	}

	rs, err := f.deps.Resolver.Resolve(ctx, f.d)
	if errors.Is(err, ode.ErrNoResults) {
		log.InfoContext(ctx, "no files found")
		return assemble.NewImageWrapper(nil), Diagnostics{}, nil
	}
	if err != nil {
		return nil, Diagnostics{}, err
	}

	items := rs.Items()
	batch, err := f.deps.Cache.Fetch(ctx, f.deps.Namespace, rs.Locations())
	if err != nil {
		return nil, Diagnostics{}, fmt.Errorf("browse: cache fetch: %w", err)
	}
	for _, fe := range batch.Failures {
		log.WarnContext(ctx, "file not fetched", "url", fe.Location, "err", fe.Err)
	}

	g, decodeErrs, err := f.deps.Assembler.Assemble(ctx, items, batch.Paths)
	if err != nil {
		return nil, Diagnostics{}, fmt.Errorf("browse: assemble: %w", err)
	}

	diag := Diagnostics{Fetch: batch.Failures, Decode: decodeErrs}
	log.InfoContext(ctx, "processing complete",
		"files", len(items),
		"products", g.Len(),
		"images", g.Images(),
		"fetch_failures", len(diag.Fetch),
		"decode_failures", len(diag.Decode),
		"dur", time.Since(start).String())
	return assemble.NewImageWrapper(g), diag, nil
}
