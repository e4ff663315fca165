// Package kv provides the key-value coordination store used by the debounce
// coordinator. It is a thin adapter over Redis; callers treat failures as a
// signal to degrade, never as fatal.
package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/YangSeungWon/photo-timeline/pkg/logger"
)

// Store is the coordination-store contract. The production implementation
// is Redis; tests use an in-memory fake.
type Store interface {
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// Client is the Redis-backed Store.
type Client struct {
	rdb    *redis.Client
	logger *logger.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, redisURL string, log *logger.Logger) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Client{
		rdb:    rdb,
		logger: log.WithField("component", "kv"),
	}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SetEx sets a key with a TTL.
func (c *Client) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.SetEx(ctx, key, value, ttl).Err()
}

// Get returns the value and whether the key exists.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Incr atomically increments an integer key.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return c.rdb.Incr(ctx, key).Result()
}

// Exists reports whether the key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TTL returns the remaining lifetime of a key. Returns a negative duration
// for missing keys or keys without expiry, matching Redis semantics.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.rdb.TTL(ctx, key).Result()
}

// Delete removes the given keys.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// Keys returns keys matching a glob pattern. Operational sweeps only; never
// called on the hot path.
func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	return c.rdb.Keys(ctx, pattern).Result()
}
