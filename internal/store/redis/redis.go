// Package redis is the fast shared store adapter (C3): counters, sets,
// lists, and TTL keys used by the rate limiter, rotation controller, and
// background loops.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/feen-dev/feen-gateway/internal/config"
	"github.com/feen-dev/feen-gateway/internal/logging"
)

// FastStore is the minimal operation set named in spec.md §4.2. A Redis
// implementation and a miniredis-backed fake both satisfy it.
type FastStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	LPush(ctx context.Context, key string, values ...string) error
	RPop(ctx context.Context, key string) (string, bool, error)
	LLen(ctx context.Context, key string) (int64, error)
	KeysByPrefix(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// ErrNotFound mirrors redis.Nil so callers don't need to import go-redis to
// recognize a cache miss.
var ErrNotFound = goredis.Nil

// Client is the go-redis-backed FastStore, grounded on the teacher's
// engine/infra/cache/redis.go RedisInterface wrapper.
type Client struct {
	rdb goredis.UniversalClient
}

// New builds a Client from cfg, parsing cfg.URL with redis.ParseURL.
func New(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis: config is required")
	}
	opt, err := goredis.ParseURL(cfg.URL.Reveal())
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}
	rdb := goredis.NewClient(opt)
	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	logging.FromContext(ctx).Info("redis fast store connected", "pool_size", opt.PoolSize)
	return &Client{rdb: rdb}, nil
}

// NewFromUniversalClient wraps an already-constructed client (used by tests
// against miniredis).
func NewFromUniversalClient(rdb goredis.UniversalClient) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return c.rdb.Incr(ctx, key).Result()
}

func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

func (c *Client) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.rdb.SAdd(ctx, key, args...).Err()
}

func (c *Client) SRem(ctx context.Context, key string, members ...string) error {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.rdb.SRem(ctx, key, args...).Err()
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.rdb.SMembers(ctx, key).Result()
}

func (c *Client) LPush(ctx context.Context, key string, values ...string) error {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return c.rdb.LPush(ctx, key, args...).Err()
}

func (c *Client) RPop(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.RPop(ctx, key).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	return c.rdb.LLen(ctx, key).Result()
}

func (c *Client) KeysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	return c.rdb.Keys(ctx, prefix+"*").Result()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// UniversalClient exposes the underlying go-redis client for callers that
// need to hand it to a library expecting one directly (ulule/limiter's
// Redis store driver).
func (c *Client) UniversalClient() goredis.UniversalClient {
	return c.rdb
}
