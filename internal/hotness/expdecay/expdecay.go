// Package expdecay implements hotness.Interface with exponentially decaying
// per-key counters. Keys are footprint cells; a key touched once scores 1 and
// halves every HalfLife.
package expdecay

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/ode-browse-cache/internal/hotness"
)

const numShards = 64

type Tracker struct {
	HalfLife time.Duration

	now    func() time.Time
	shards [numShards]shard
}

type shard struct {
	mu sync.RWMutex
	m  map[string]counter
}

// score as of last
type counter struct {
	score float64
	last  time.Time
}

var _ hotness.Interface = (*Tracker)(nil)

func New(halfLife time.Duration) *Tracker {
	if halfLife <= 0 {
		halfLife = time.Minute
	}
	t := &Tracker{HalfLife: halfLife, now: time.Now}
	for i := range t.shards {
		t.shards[i].m = make(map[string]counter)
	}
	return t
}

func (t *Tracker) at(c counter, now time.Time) float64 {
	return decay(c.score, now.Sub(c.last).Seconds(), t.HalfLife.Seconds())
}

func (t *Tracker) Inc(key string) {
	if key == "" {
		return
	}
	s := t.pick(key)
	now := t.now()
	s.mu.Lock()
	c, ok := s.m[key]
	if ok {
		c.score = t.at(c, now)
	}
	s.m[key] = counter{score: c.score + 1, last: now}
	s.mu.Unlock()
}

func (t *Tracker) Score(key string) float64 {
	if key == "" {
		return 0
	}
	s := t.pick(key)
	s.mu.RLock()
	c, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return t.at(c, t.now())
}

func (t *Tracker) Reset(keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		s := t.pick(key)
		s.mu.Lock()
		delete(s.m, key)
		s.mu.Unlock()
	}
}

// e^(-ln2/halfLife * dt)
func decay(score, dt, halfLife float64) float64 {
	if score == 0 || dt <= 0 || halfLife <= 0 {
		return score
	}
	return score * math.Exp(-math.Ln2/halfLife*dt)
}

func (t *Tracker) pick(key string) *shard {
	return &t.shards[xxhash.Sum64String(key)&(numShards-1)]
}

// Size is the number of keys currently tracked.
func (t *Tracker) Size() int {
	total := 0
	for i := range t.shards {
		t.shards[i].mu.RLock()
		total += len(t.shards[i].m)
		t.shards[i].mu.RUnlock()
	}
	return total
}

// Prune forgets keys whose decayed score fell below floor and returns how many
// were removed.
func (t *Tracker) Prune(floor float64) int {
	now := t.now()
	removed := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for k, c := range s.m {
			if t.at(c, now) < floor {
				delete(s.m, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

type Scored struct {
	Key   string  `json:"key"`
	Score float64 `json:"score"`
}

// Hottest returns up to n keys ordered by current score, highest first. Ties
// are broken by key.
func (t *Tracker) Hottest(n int) []Scored {
	if n <= 0 {
		return nil
	}
	now := t.now()
	var all []Scored
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		for k, c := range s.m {
			all = append(all, Scored{Key: k, Score: t.at(c, now)})
		}
		s.mu.RUnlock()
	}
	slices.SortFunc(all, func(a, b Scored) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
	return all[:min(n, len(all))]
}
