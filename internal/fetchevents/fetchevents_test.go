package fetchevents

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"

	"github.com/mohammed-shakir/ode-browse-cache/internal/cache/fetch"
)

func TestPublisher_WritesJSONKeyedByLocation(t *testing.T) {
	cfg := mocks.NewTestConfig()
	prod := mocks.NewAsyncProducer(t, cfg)

	ev := fetch.Event{
		Namespace: "ode",
		Location:  "http://files/a.jpg",
		Path:      "/cache/ode/ab/a.jpg",
		Size:      42,
		SHA256:    "deadbeef",
		Duration:  1500 * time.Millisecond,
		FetchedAt: time.Unix(1700000000, 0).UTC(),
	}
	prod.ExpectInputWithCheckerFunctionAndSucceed(func(b []byte) error {
		var m Message
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		if m.Location != ev.Location || m.Size != 42 || m.DurationMS != 1500 || !m.TS.Equal(ev.FetchedAt) {
			t.Errorf("message=%+v", m)
		}
		return nil
	})

	p := newWithProducer(nil, prod, "browse-downloads", 4)
	p.Downloaded(context.Background(), ev)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close must be a no-op: %v", err)
	}
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, mocks.NewTestConfig())
	p := &Publisher{events: make(chan fetch.Event, 1), prod: prod, stopped: make(chan struct{})}
	close(p.stopped)

	p.Downloaded(context.Background(), fetch.Event{Location: "a"})
	p.Downloaded(context.Background(), fetch.Event{Location: "b"})
	if p.Dropped() != 1 {
		t.Fatalf("dropped=%d want 1", p.Dropped())
	}
	close(p.events)
	_ = prod.Close()
}

func TestPublisher_EventAfterCloseIsDropped(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, mocks.NewTestConfig())
	p := newWithProducer(nil, prod, "browse-downloads", 4)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	p.Downloaded(context.Background(), fetch.Event{Location: "late"})
	if p.Dropped() != 1 {
		t.Fatalf("dropped=%d want 1", p.Dropped())
	}
}
