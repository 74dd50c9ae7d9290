// Package lock serialises work on one cache key, within a process or across
// processes sharing a redis instance.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/ode-browse-cache/internal/cache/redisstore"
)

type Locker interface {
	// Lock blocks until key is held or ctx is done. The returned func releases it.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

const numShards = 64

type entry struct {
	ch   chan struct{} // one slot; holding the slot is holding the lock
	refs int
}

type shard struct {
	mu sync.Mutex
	m  map[string]*entry
}

// Local is an in-process keyed mutex table. Entries are dropped once nobody
// holds or waits on them.
type Local struct {
	shards [numShards]shard
}

func NewLocal() *Local {
	l := &Local{}
	for i := range l.shards {
		l.shards[i].m = make(map[string]*entry)
	}
	return l
}

func (l *Local) pick(key string) *shard {
	return &l.shards[xxhash.Sum64String(key)&(numShards-1)]
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	s := l.pick(key)
	s.mu.Lock()
	e := s.m[key]
	if e == nil {
		e = &entry{ch: make(chan struct{}, 1)}
		s.m[key] = e
	}
	e.refs++
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(s.m, key)
		}
		s.mu.Unlock()
	}

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		release()
		return nil, fmt.Errorf("lock %q: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			release()
		})
	}, nil
}

// Held reports how many keys currently have holders or waiters.
func (l *Local) Held() int {
	n := 0
	for i := range l.shards {
		l.shards[i].mu.Lock()
		n += len(l.shards[i].m)
		l.shards[i].mu.Unlock()
	}
	return n
}

type Redis struct {
	cli     *redisstore.Client
	ttl     time.Duration
	renew   time.Duration
	minWait time.Duration
	maxWait time.Duration
}

// NewRedis returns a lease-based lock. The holder renews the lease every ttl/3
// until it unlocks, so ttl only bounds how long a crashed holder blocks others.
func NewRedis(cli *redisstore.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Redis{
		cli:     cli,
		ttl:     ttl,
		renew:   ttl / 3,
		minWait: 10 * time.Millisecond,
		maxWait: 500 * time.Millisecond,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := "lock:" + key
	token := newToken()
	wait := r.minWait
	for {
		ok, err := r.cli.SetNX(ctx, lockKey, token, r.ttl)
		if err != nil {
			return nil, fmt.Errorf("lock %q: %w", key, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("lock %q: %w", key, ctx.Err())
		case <-t.C:
		}
		wait = min(wait*2, r.maxWait)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(lockKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// release must outlive a canceled caller context
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, _ = r.cli.DelIfEqual(rctx, lockKey, token)
		})
	}, nil
}

// keepAlive extends the lease until stop is closed or the lease is lost.
func (r *Redis) keepAlive(lockKey string, token []byte, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(r.renew)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.renew)
			ok, err := r.cli.ExtendIfEqual(ctx, lockKey, token, r.ttl)
			cancel()
			if err == nil && !ok {
				return
			}
		}
	}
}

func newToken() []byte {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return []byte(hex.EncodeToString(b[:]))
}
