// Package metricswrap reports hotness activity to Prometheus and the log.
package metricswrap

import (
	"log/slog"

	xx "github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/ode-browse-cache/internal/core/observability"
	"github.com/mohammed-shakir/ode-browse-cache/internal/hotness"
)

type Sizer interface{ Size() int }

type Options struct {
	// Threshold above which a key is logged as hot. 0 disables the log line.
	Threshold float64
	// Sample is the fraction of keys whose scores are logged and observed.
	Sample float64
}

type WithMetrics struct {
	inner  hotness.Interface
	logger *slog.Logger
	opts   Options
}

var _ hotness.Interface = (*WithMetrics)(nil)

func New(inner hotness.Interface, logger *slog.Logger, opts Options) *WithMetrics {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WithMetrics{inner: inner, logger: logger, opts: opts}
}

func (w *WithMetrics) Inc(key string) {
	w.inner.Inc(key)
	if shouldSample(w.opts.Sample, key) {
		score := w.inner.Score(key)
		observability.ObserveHotnessValueSample(score)
		if w.opts.Threshold > 0 && score >= w.opts.Threshold {
			w.logger.Info("hot footprint cell above threshold", "cell", key, "score", score)
		}
	}
	w.updateSize()
}

func (w *WithMetrics) Score(key string) float64 {
	return w.inner.Score(key)
}

func (w *WithMetrics) Reset(keys ...string) {
	w.inner.Reset(keys...)
	w.updateSize()
}

func (w *WithMetrics) updateSize() {
	if s, ok := w.inner.(Sizer); ok {
		observability.SetHotCells(s.Size())
	}
}

// deterministic per key so the same keys are always sampled
func shouldSample(sample float64, key string) bool {
	if sample <= 0 {
		return false
	}
	if sample >= 1 {
		return true
	}
	const denom = 10000 // 0.01 => 100/10000
	threshold := uint64(sample*denom + 0.5)
	if threshold == 0 {
		return false
	}
	h := xx.Sum64String(key)
	return (h % denom) < threshold
}
