// Package redisstore wraps the Redis operations behind the shared download
// index and the cross-process download locks. Every key is namespaced with an
// optional prefix so several deployments can share one Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/ode-browse-cache/internal/core/observability"
)

type settings struct {
	ro     redis.Options
	prefix string
}

type Option func(*settings)

func WithPoolSize(n int) Option {
	return func(s *settings) { s.ro.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(s *settings) { s.ro.DialTimeout = d }
}

// WithOpTimeout sets both the read and write timeout of single commands.
func WithOpTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.ro.ReadTimeout, s.ro.WriteTimeout = d, d
		}
	}
}

// WithPrefix prepends p to every key, e.g. "odebrowse:".
func WithPrefix(p string) Option {
	return func(s *settings) { s.prefix = p }
}

type Client struct {
	rdb    *redis.Client
	prefix string
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	s := &settings{ro: redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}}
	for _, f := range opts {
		f(s)
	}

	rdb := redis.NewClient(&s.ro)
	c := &Client{rdb: rdb, prefix: s.prefix}
	if err := c.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return c, nil
}

func (c *Client) k(key string) string { return c.prefix + key }

func observe(op string, start time.Time, err error) {
	if errors.Is(err, redis.Nil) {
		err = nil
	}
	observability.ObserveCacheOp(op, err, time.Since(start).Seconds())
}

// Get returns the value at key; ok is false when the key is absent.
func (c *Client) Get(ctx context.Context, key string) (val []byte, ok bool, err error) {
	start := time.Now()
	val, err = c.rdb.Get(ctx, c.k(key)).Bytes()
	observe("get", start, err)
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return val, true, nil
}

// MGet returns the found keys with their values. Missing keys are left out.
func (c *Client) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.k(k)
	}

	start := time.Now()
	vals, err := c.rdb.MGet(ctx, full...).Result()
	observe("mget", start, err)
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d keys: %w", len(keys), err)
	}

	out := make(map[string][]byte, len(vals))
	for i, v := range vals {
		switch t := v.(type) {
		case nil:
		case string:
			out[keys[i]] = []byte(t)
		case []byte:
			out[keys[i]] = t
		default:
			out[keys[i]] = fmt.Append(nil, t)
		}
	}
	return out, nil
}

// Set stores val; ttl=0 keeps it until deleted.
func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.rdb.Set(ctx, c.k(key), val, ttl).Err()
	observe("set", start, err)
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.k(k)
	}
	start := time.Now()
	err := c.rdb.Del(ctx, full...).Err()
	observe("del", start, err)
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

// SetNX sets key only when absent and reports whether it did.
func (c *Client) SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := c.rdb.SetNX(ctx, c.k(key), val, ttl).Result()
	observe("setnx", start, err)
	if err != nil {
		return false, fmt.Errorf("redis SETNX %q: %w", key, err)
	}
	return ok, nil
}

// the owner token guards both scripts: a holder whose lease expired and was
// taken over cannot release or extend the new holder's lease
var (
	delIfEqual = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
	extendIfEqual = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

func (c *Client) DelIfEqual(ctx context.Context, key string, val []byte) (bool, error) {
	start := time.Now()
	n, err := delIfEqual.Run(ctx, c.rdb, []string{c.k(key)}, val).Int64()
	observe("del_if_equal", start, err)
	if err != nil {
		return false, fmt.Errorf("redis DEL-IF-EQUAL %q: %w", key, err)
	}
	return n == 1, nil
}

// ExtendIfEqual resets the ttl of key when it still holds val.
func (c *Client) ExtendIfEqual(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	start := time.Now()
	n, err := extendIfEqual.Run(ctx, c.rdb, []string{c.k(key)}, val, ttl.Milliseconds()).Int64()
	observe("extend_if_equal", start, err)
	if err != nil {
		return false, fmt.Errorf("redis EXTEND-IF-EQUAL %q: %w", key, err)
	}
	return n == 1, nil
}

// Ping checks the connection, for readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	observe("ping", start, err)
	return err
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
