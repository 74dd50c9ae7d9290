// Package fetch implements the download cache: each remote location is fetched
// at most once per namespace, however many callers ask for it concurrently.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/ode-browse-cache/internal/cache"
	"github.com/mohammed-shakir/ode-browse-cache/internal/cache/filestore"
	"github.com/mohammed-shakir/ode-browse-cache/internal/cache/index"
	"github.com/mohammed-shakir/ode-browse-cache/internal/cache/keys"
	"github.com/mohammed-shakir/ode-browse-cache/internal/cache/lock"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/observability"
	mylog "github.com/mohammed-shakir/ode-browse-cache/internal/logger"
)

// Event describes one completed download.
type Event struct {
	Namespace string
	Location  string
	Path      string
	Size      int64
	SHA256    string
	Duration  time.Duration
	FetchedAt time.Time
}

type EventSink interface {
	Downloaded(ctx context.Context, ev Event)
}

type Manager struct {
	logger       *slog.Logger
	store        *filestore.Store
	idx          index.Index
	locker       lock.Locker
	dl           Downloader
	sink         EventSink
	group        singleflight.Group
	maxWorkers   int
	queueSize    int
	fetchTimeout time.Duration
	now          func() time.Time
}

var _ cache.Interface = (*Manager)(nil)

type Option func(*Manager)

func WithIndex(idx index.Index) Option {
	return func(m *Manager) { m.idx = idx }
}

// WithLocker replaces the in-process lock table, e.g. with a redis lock when
// several processes share one cache directory.
func WithLocker(l lock.Locker) Option {
	return func(m *Manager) { m.locker = l }
}

func WithEventSink(s EventSink) Option {
	return func(m *Manager) { m.sink = s }
}

func WithWorkers(n, queue int) Option {
	return func(m *Manager) { m.maxWorkers, m.queueSize = n, queue }
}

func WithFetchTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.fetchTimeout = d
		}
	}
}

func New(logger *slog.Logger, store *filestore.Store, dl Downloader, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("fetch: file store is required")
	}
	if dl == nil {
		return nil, errors.New("fetch: downloader is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &Manager{
		logger:       logger,
		store:        store,
		dl:           dl,
		idx:          index.NewMemory(),
		locker:       lock.NewLocal(),
		maxWorkers:   8,
		queueSize:    64,
		fetchTimeout: 2 * time.Minute,
		now:          time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if m.maxWorkers <= 0 {
		m.maxWorkers = 8
	}
	if m.queueSize < 0 {
		m.queueSize = 0
	}
	return m, nil
}

type result struct {
	slot int
	path string
	err  error
}

// Fetch resolves every location to a local path, downloading those not yet
// cached. Duplicate locations within one call share a single fetch. Only
// namespace errors and context cancellation are returned as err.
func (m *Manager) Fetch(ctx context.Context, namespace string, locations []string) (cache.Batch, error) {
	if strings.TrimSpace(namespace) == "" {
		return cache.Batch{}, errors.New("fetch: namespace is required")
	}
	batch := cache.Batch{Paths: make([]string, len(locations))}
	if len(locations) == 0 {
		return batch, nil
	}
	ctx = mylog.WithNamespace(ctx, namespace)
	start := time.Now()

	// unique locations in first-seen order, each with the positions it fills
	var uniq []string
	slots := map[string][]int{}
	for i, loc := range locations {
		if _, ok := slots[loc]; !ok {
			uniq = append(uniq, loc)
		}
		slots[loc] = append(slots[loc], i)
	}

	jobs := make(chan int, m.queueSize)
	results := make(chan result, len(uniq))

	workerN := min(m.maxWorkers, len(uniq))
	var wg sync.WaitGroup
	wg.Add(workerN)
	for range workerN {
		go func() {
			defer wg.Done()
			for u := range jobs {
				p, err := m.ensure(ctx, namespace, uniq[u])
				results <- result{slot: u, path: p, err: err}
			}
		}()
	}

feed:
	for u := range uniq {
		select {
		case jobs <- u:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	done := 0
	for r := range results {
		done++
		loc := uniq[r.slot]
		for _, i := range slots[loc] {
			if r.err != nil {
				batch.Failures = append(batch.Failures, &cache.FetchError{Index: i, Location: loc, Err: r.err})
				continue
			}
			batch.Paths[i] = r.path
		}
	}
	slices.SortFunc(batch.Failures, func(a, b *cache.FetchError) int { return a.Index - b.Index })

	if err := ctx.Err(); err != nil {
		return batch, fmt.Errorf("fetch %d locations (%d attempted): %w", len(uniq), done, err)
	}

	m.logger.InfoContext(ctx, "cache fetch done",
		"locations", len(locations), "unique", len(uniq),
		"ok", batch.OK(), "failed", len(batch.Failures),
		"dur", time.Since(start).String())
	return batch, nil
}

// ensure returns the local path for loc, downloading it if needed.
func (m *Manager) ensure(ctx context.Context, ns, loc string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := keys.Location(ns, loc)
	rel := keys.RelPath(ns, loc)

	if p, ok := m.lookup(ctx, key, rel, loc); ok {
		observability.IncCacheHit(ns)
		return p, nil
	}
	observability.IncCacheMiss(ns)

	ch := m.group.DoChan(key, func() (any, error) {
		// detached so one caller's cancellation does not fail the others
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.fetchTimeout)
		defer cancel()
		return m.fill(fctx, ns, key, rel, loc)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// lookup trusts the file store, never the index alone: an index entry without
// its file is stale and dropped, a file without an entry is backfilled.
func (m *Manager) lookup(ctx context.Context, key, rel, loc string) (string, bool) {
	e, ok, err := m.idx.Get(ctx, key)
	if err != nil {
		m.logger.WarnContext(ctx, "cache index get failed, checking disk", "key", key, "err", err)
	}
	exists, serr := m.store.Exists(rel)
	if serr != nil {
		m.logger.WarnContext(ctx, "cache stat failed", "key", key, "err", serr)
		return "", false
	}
	if !exists {
		if ok {
			_ = m.idx.Delete(ctx, key)
		}
		return "", false
	}
	path := m.store.Path(rel)
	if !ok || e.Path != path {
		m.putIndex(ctx, key, index.Entry{Location: loc, Path: path, FetchedAt: m.now().UTC()})
	}
	return path, true
}

func (m *Manager) fill(ctx context.Context, ns, key, rel, loc string) (string, error) {
	unlock, err := m.locker.Lock(ctx, key)
	if err != nil {
		return "", err
	}
	defer unlock()

	// another process may have finished while we waited
	if exists, _ := m.store.Exists(rel); exists {
		return m.store.Path(rel), nil
	}

	start := m.now()
	body, err := m.dl.Download(ctx, loc)
	if err != nil {
		observability.ObserveDownload(ns, 0, err)
		return "", err
	}
	defer func() { _ = body.Close() }()

	w, err := m.store.WriteFrom(ctx, rel, body)
	observability.ObserveDownload(ns, w.Size, err)
	if err != nil {
		return "", err
	}
	ev := Event{
		Namespace: ns,
		Location:  loc,
		Path:      w.Path,
		Size:      w.Size,
		SHA256:    w.SHA256,
		Duration:  m.now().Sub(start),
		FetchedAt: m.now().UTC(),
	}
	m.putIndex(ctx, key, index.Entry{Location: loc, Path: w.Path, Size: w.Size, SHA256: w.SHA256, FetchedAt: ev.FetchedAt})

	m.logger.DebugContext(ctx, "downloaded", "location", loc, "path", w.Path, "bytes", w.Size, "dur", ev.Duration.String())
	if m.sink != nil {
		m.sink.Downloaded(ctx, ev)
	}
	return w.Path, nil
}

func (m *Manager) putIndex(ctx context.Context, key string, e index.Entry) {
	if err := m.idx.Put(ctx, key, e); err != nil {
		m.logger.WarnContext(ctx, "cache index put failed", "key", key, "err", err)
	}
}
