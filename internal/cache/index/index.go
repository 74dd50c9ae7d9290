// Package index records which remote locations have been cached and where.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/ode-browse-cache/internal/cache/redisstore"
)

type Entry struct {
	Location  string    `json:"location"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Index holds metadata about cached files (size and sha256), shared
// with other processes through redis. It is not a fast path:
// the file store decides whether a location is cached, and a hit here is
// always confirmed on disk.
type Index interface {
	// Get returns ok=false when key is not indexed.
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
}

type memoryIndex struct {
	mu sync.RWMutex
	m  map[string]Entry
}

// NewMemory is a process-local index; the file store stays the source of truth
// across restarts.
func NewMemory() Index {
	return &memoryIndex{m: map[string]Entry{}}
}

func (mi *memoryIndex) Get(_ context.Context, key string) (Entry, bool, error) {
	mi.mu.RLock()
	defer mi.mu.RUnlock()
	e, ok := mi.m[key]
	return e, ok, nil
}

func (mi *memoryIndex) Put(_ context.Context, key string, e Entry) error {
	mi.mu.Lock()
	mi.m[key] = e
	mi.mu.Unlock()
	return nil
}

func (mi *memoryIndex) Delete(_ context.Context, key string) error {
	mi.mu.Lock()
	delete(mi.m, key)
	mi.mu.Unlock()
	return nil
}

type redisIndex struct {
	cli *redisstore.Client
	ttl time.Duration
}

// NewRedis stores entries as JSON so several processes sharing a cache
// directory also share one index. ttl=0 keeps entries forever.
func NewRedis(cli *redisstore.Client, ttl time.Duration) Index {
	return &redisIndex{cli: cli, ttl: ttl}
}

func (ri *redisIndex) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, ok, err := ri.cli.Get(ctx, key)
	if err != nil {
		return Entry{}, false, fmt.Errorf("index redis: %w", err)
	}
	if !ok || len(raw) == 0 {
		return Entry{}, false, nil
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("index decode %q: %w", key, err)
	}
	return e, true, nil
}

func (ri *redisIndex) Put(ctx context.Context, key string, e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("index encode %q: %w", key, err)
	}
	if err := ri.cli.Set(ctx, key, payload, ri.ttl); err != nil {
		return fmt.Errorf("index redis SET %q: %w", key, err)
	}
	return nil
}

func (ri *redisIndex) Delete(ctx context.Context, key string) error {
	if err := ri.cli.Del(ctx, key); err != nil {
		return fmt.Errorf("index redis DEL %q: %w", key, err)
	}
	return nil
}

type lruIndex struct {
	front *lru.Cache[string, Entry]
	back  Index
}

// WithLRU puts a bounded in-process cache in front of back. Entries are
// immutable once written, so the front never needs invalidation except on
// Delete.
func WithLRU(back Index, size int) (Index, error) {
	if size <= 0 {
		return back, nil
	}
	c, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("index lru: %w", err)
	}
	return &lruIndex{front: c, back: back}, nil
}

func (li *lruIndex) Get(ctx context.Context, key string) (Entry, bool, error) {
	if e, ok := li.front.Get(key); ok {
		return e, true, nil
	}
	e, ok, err := li.back.Get(ctx, key)
	if err != nil || !ok {
		return e, ok, err
	}
	li.front.Add(key, e)
	return e, true, nil
}

func (li *lruIndex) Put(ctx context.Context, key string, e Entry) error {
	if err := li.back.Put(ctx, key, e); err != nil {
		return err
	}
	li.front.Add(key, e)
	return nil
}

func (li *lruIndex) Delete(ctx context.Context, key string) error {
	li.front.Remove(key)
	return li.back.Delete(ctx, key)
}
