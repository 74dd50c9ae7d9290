package metricswrap

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/ode-browse-cache/internal/core/observability"
	"github.com/mohammed-shakir/ode-browse-cache/internal/hotness/expdecay"
	"github.com/mohammed-shakir/ode-browse-cache/internal/metrics"
)

func Test_HotCellsGauge_Updates(t *testing.T) {
	p := metrics.Init(metrics.Config{})
	observability.Init(p.Registerer(), true)

	tr := expdecay.New(30 * time.Second)
	w := New(tr, nil, Options{Sample: 1})

	w.Inc("cellA")
	w.Inc("cellB")
	w.Reset("cellA")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	body := rr.Body.String()

	if !strings.Contains(body, "footprint_hot_cells 1") {
		t.Fatalf("expected footprint_hot_cells == 1, got:\n%s", body)
	}
	if !strings.Contains(body, "footprint_hotness_score_count") {
		t.Fatalf("expected sampled hotness histogram, got:\n%s", body)
	}
}

func Test_ThresholdLogsHotKey(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	// the second hit lands a hair under 2 because the first one already decayed
	w := New(expdecay.New(time.Hour), logger, Options{Threshold: 1.5, Sample: 1})

	w.Inc("k")
	if buf.Len() != 0 {
		t.Fatalf("score 1 must not log: %s", buf.String())
	}
	w.Inc("k")
	if n := strings.Count(buf.String(), "hot footprint cell above threshold"); n != 1 {
		t.Fatalf("expected one hot log line, got %d in %q", n, buf.String())
	}
	if !strings.Contains(buf.String(), "cell=k") {
		t.Fatalf("hot log line must name the cell: %q", buf.String())
	}
	if s := w.Score("k"); s < 1.5 || s > 2 {
		t.Fatalf("score=%v want in [1.5,2]", s)
	}
}

func Test_ShouldSample_Bounds(t *testing.T) {
	if shouldSample(0, "x") || !shouldSample(1, "x") {
		t.Fatalf("bounds wrong")
	}
	if shouldSample(0.5, "abc") != shouldSample(0.5, "abc") {
		t.Fatalf("sampling must be deterministic")
	}
}
