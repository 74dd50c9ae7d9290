// Package fetchevents publishes completed cache downloads to Kafka.
package fetchevents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/ode-browse-cache/internal/cache/fetch"
	"github.com/mohammed-shakir/ode-browse-cache/internal/cache/keys"
)

// Message is the JSON value written to the topic.
type Message struct {
	Namespace  string    `json:"namespace"`
	Location   string    `json:"location"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	SHA256     string    `json:"sha256"`
	DurationMS int64     `json:"duration_ms"`
	TS         time.Time `json:"ts"`
}

type Publisher struct {
	logger  *slog.Logger
	topic   string
	events  chan fetch.Event
	prod    sarama.AsyncProducer
	stopped chan struct{}
	once    sync.Once
	dropped atomic.Int64

	mu     sync.RWMutex // guards closed against sends racing Close
	closed bool
}

var _ fetch.EventSink = (*Publisher)(nil)

func NewPublisher(logger *slog.Logger, brokers []string, topic string, queueSize int) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("fetchevents: create async producer: %w", err)
	}
	return newWithProducer(logger, prod, topic, queueSize), nil
}

func newWithProducer(logger *slog.Logger, prod sarama.AsyncProducer, topic string, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Publisher{
		logger:  logger,
		topic:   topic,
		events:  make(chan fetch.Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(toMessage(ev))
			if err != nil {
				p.logger.Error("fetchevents: marshal", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				// same location, same partition
				Key:   sarama.StringEncoder(keys.Location(ev.Namespace, ev.Location)),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("fetchevents: producer error", "err", err)
			}
		}
	}()

	return p
}

func toMessage(ev fetch.Event) Message {
	return Message{
		Namespace:  ev.Namespace,
		Location:   ev.Location,
		Path:       ev.Path,
		Size:       ev.Size,
		SHA256:     ev.SHA256,
		DurationMS: ev.Duration.Milliseconds(),
		TS:         ev.FetchedAt,
	}
}

// Downloaded enqueues ev. It never blocks; when the queue is full or the
// publisher is closed the event is dropped and counted.
func (p *Publisher) Downloaded(_ context.Context, ev fetch.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return
	}
	select {
	case p.events <- ev:
	default:
		p.dropped.Add(1)
	}
}

func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Close drains queued events and closes the producer. Later events are
// dropped.
func (p *Publisher) Close() error {
	var err error
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.events)
		p.mu.Unlock()
		<-p.stopped
		if cerr := p.prod.Close(); cerr != nil {
			err = fmt.Errorf("fetchevents: close producer: %w", cerr)
		}
	})
	return err
}
