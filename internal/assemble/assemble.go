// Package assemble pairs resolved resources with their cached files, decodes
// the images and groups them by product and description.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/ode-browse-cache/internal/core/model"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/observability"
	"github.com/mohammed-shakir/ode-browse-cache/internal/imagery"
)

// DefaultExtensions are the file suffixes treated as images when none are configured.
var DefaultExtensions = []string{".jpg", ".png"}

// ErrLengthMismatch means the cache returned a path list that does not line up
// with the resources. Nothing is assembled.
var ErrLengthMismatch = errors.New("assemble: resources and paths differ in length")

// DecodeError reports one cached file that could not be decoded.
type DecodeError struct {
	Key  string
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s (%s): %v", e.Key, e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoder turns a cached file into an image; imagery.Decoder is the default.
type Decoder interface {
	Decode(path string) (*imagery.Image, error)
}

// Assembler pairs resolved resources with cached paths and decodes the images.
type Assembler struct {
	Decoder    Decoder
	Extensions []string
	Workers    int
	Logger     *slog.Logger
}

type decoded struct {
	img *imagery.Image
	err error
}

// Assemble walks resources and paths in lock-step. Empty paths are fetch
// failures the cache already reported and are skipped, as are files whose
// suffix is not a supported image type. Decoding runs in parallel but results
// are inserted in pairing order.
func (a *Assembler) Assemble(ctx context.Context, resources []model.Resource, paths []string) (*Grouped, []*DecodeError, error) {
	if len(resources) != len(paths) {
		return nil, nil, fmt.Errorf("%w: %d resources, %d paths", ErrLengthMismatch, len(resources), len(paths))
	}
	dec := a.Decoder
	if dec == nil {
		dec = imagery.Decoder{RemoveNoData: true}
	}
	logger := a.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var eligible []int
	for i, p := range paths {
		if p == "" {
			continue
		}
		if !a.supported(p) {
			logger.DebugContext(ctx, "skipping non-image file", "key", resources[i].Key, "path", p)
			continue
		}
		eligible = append(eligible, i)
	}

	out := make([]decoded, len(eligible))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers())
	for j, i := range eligible {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, err := dec.Decode(paths[i])
			out[j] = decoded{img: img, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	res := NewGrouped()
	var failures []*DecodeError
	for j, i := range eligible {
		r := resources[i]
		if out[j].err != nil {
			failures = append(failures, &DecodeError{Key: r.Key, Path: paths[i], Err: out[j].err})
			logger.WarnContext(ctx, "decode failed", "key", r.Key, "path", paths[i], "err", out[j].err)
			continue
		}
		res.Insert(r.ProductID, r.Description, out[j].img)
	}
	observability.AddDecodeFailures(len(failures))
	observability.ObserveImagesAssembled(res.Images())
	return res, failures, nil
}

func (a *Assembler) supported(path string) bool {
	exts := a.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	ext := strings.ToLower(filepath.Ext(path))
	return ext != "" && slices.ContainsFunc(exts, func(e string) bool { return strings.EqualFold(e, ext) })
}

func (a *Assembler) workers() int {
	if a.Workers > 0 {
		return a.Workers
	}
	return runtime.GOMAXPROCS(0)
}
