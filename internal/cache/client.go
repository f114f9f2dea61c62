package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrNotConnected is returned when the store is unreachable. Callers treat it
// like any other cache error: log, fall back to a no-op, keep running.
var ErrNotConnected = errors.New("cache: not connected")

// Client wraps a Redis connection with the pipeline's key prefix. Every
// method tolerates a down server by returning an error; the pipeline never
// stops on cache unavailability.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// Config holds connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient opens a connection. The connection is verified lazily; a store
// that is down at startup becomes usable as soon as it comes back.
func NewClient(cfg Config, prefix string) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return &Client{rdb: rdb, prefix: prefix}
}

// Close releases the connection.
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// IsOpen reports whether the store currently answers a ping.
func (c *Client) IsOpen(ctx context.Context) bool {
	if c.rdb == nil {
		return false
	}
	return c.rdb.Ping(ctx).Err() == nil
}

func (c *Client) key(k string) string {
	return c.prefix + k
}

// SetWithTTL stores a value under the prefixed key with an expiry.
func (c *Client) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if c.rdb == nil {
		return ErrNotConnected
	}
	if err := c.rdb.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Get fetches a value. A missing key returns ("", nil).
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c.rdb == nil {
		return "", ErrNotConnected
	}
	val, err := c.rdb.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, nil
}

// Delete removes a key.
func (c *Client) Delete(ctx context.Context, key string) error {
	if c.rdb == nil {
		return ErrNotConnected
	}
	if err := c.rdb.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// TTL returns the remaining lifetime of a key. Keys with no expiry or missing
// keys report a non-positive duration.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	if c.rdb == nil {
		return 0, ErrNotConnected
	}
	d, err := c.rdb.TTL(ctx, c.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("cache ttl %s: %w", key, err)
	}
	return d, nil
}

// KeysByPrefix scans for keys under the given sub-prefix and returns them
// with the global prefix stripped, so results can be passed back to Get and
// Delete unchanged.
func (c *Client) KeysByPrefix(ctx context.Context, subPrefix string) ([]string, error) {
	if c.rdb == nil {
		return nil, ErrNotConnected
	}
	pattern := c.key(subPrefix) + "*"
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), c.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("cache scan %s: %w", pattern, err)
	}
	return keys, nil
}

// ListPushLeft prepends a value to a list.
func (c *Client) ListPushLeft(ctx context.Context, key, value string) error {
	if c.rdb == nil {
		return ErrNotConnected
	}
	if err := c.rdb.LPush(ctx, c.key(key), value).Err(); err != nil {
		return fmt.Errorf("cache lpush %s: %w", key, err)
	}
	return nil
}

// ListTrim keeps only the elements in [start, stop].
func (c *Client) ListTrim(ctx context.Context, key string, start, stop int64) error {
	if c.rdb == nil {
		return ErrNotConnected
	}
	if err := c.rdb.LTrim(ctx, c.key(key), start, stop).Err(); err != nil {
		return fmt.Errorf("cache ltrim %s: %w", key, err)
	}
	return nil
}

// ListRange returns the elements in [start, stop].
func (c *Client) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if c.rdb == nil {
		return nil, ErrNotConnected
	}
	vals, err := c.rdb.LRange(ctx, c.key(key), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("cache lrange %s: %w", key, err)
	}
	return vals, nil
}

// SweepExpired deletes keys under the sub-prefix whose TTL is non-positive.
// Redis expires keys on its own; this is a periodic cleanup for keys written
// without an expiry by older versions or by hand.
func (c *Client) SweepExpired(ctx context.Context, subPrefix string) int {
	keys, err := c.KeysByPrefix(ctx, subPrefix)
	if err != nil {
		log.Warn().Err(err).Msg("Cache sweep scan failed")
		return 0
	}
	removed := 0
	for _, k := range keys {
		ttl, err := c.TTL(ctx, k)
		if err != nil {
			continue
		}
		if ttl <= 0 {
			if err := c.Delete(ctx, k); err == nil {
				removed++
			}
		}
	}
	return removed
}
