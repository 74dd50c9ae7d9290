package footprint

import (
	"context"
	"log/slog"

	"github.com/mohammed-shakir/ode-browse-cache/internal/core/query"
	"github.com/mohammed-shakir/ode-browse-cache/internal/hotness"
)

// Tracker records the footprint of every query into a hotness model.
type Tracker struct {
	logger *slog.Logger
	hot    hotness.Interface
	res    int
}

func NewTracker(logger *slog.Logger, hot hotness.Interface, res int) *Tracker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tracker{logger: logger, hot: hot, res: res}
}

// Record bumps every cell under the query window and returns the cells.
func (t *Tracker) Record(ctx context.Context, d query.Descriptor) ([]string, error) {
	cells, res, err := Cells(FromDescriptor(d), t.res)
	if err != nil {
		return nil, err
	}
	for _, c := range cells {
		t.hot.Inc(c)
	}
	t.logger.DebugContext(ctx, "footprint recorded", "cells", len(cells), "res", res)
	return cells, nil
}

// Score is the summed hotness of the query window.
func (t *Tracker) Score(d query.Descriptor) float64 {
	cells, _, err := Cells(FromDescriptor(d), t.res)
	if err != nil {
		return 0
	}
	total := 0.0
	for _, c := range cells {
		total += t.hot.Score(c)
	}
	return total
}
