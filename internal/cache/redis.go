// Package cache holds the Redis-backed bundle cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a cached bundle list lives without a write.
const DefaultTTL = 5 * time.Minute

// RedisBundleCache implements core.BundleCache. Entries are stored under
// the current generation; Invalidate bumps the generation so every older
// entry becomes unreachable at once and expires on its own TTL.
type RedisBundleCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisClient connects to addr and checks the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisBundleCache wraps client. A non-positive ttl uses DefaultTTL.
func NewRedisBundleCache(client *redis.Client, prefix string, ttl time.Duration) *RedisBundleCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "bundles"
	}
	return &RedisBundleCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisBundleCache) genKey() string {
	return c.prefix + ":gen"
}

func (c *RedisBundleCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisBundleCache) entryKey(gen int64, key string) string {
	return fmt.Sprintf("%s:%d:%s", c.prefix, gen, key)
}

// Get returns the cached bytes for key in the current generation, and that
// generation.
func (c *RedisBundleCache) Get(ctx context.Context, key string) ([]byte, int64, bool, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return nil, 0, false, fmt.Errorf("cache generation: %w", err)
	}
	data, err := c.client.Get(ctx, c.entryKey(gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, gen, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return data, gen, true, nil
}

// errStaleGeneration aborts a Set whose generation was invalidated.
var errStaleGeneration = errors.New("cache generation moved")

// Set stores data for key under gen, but only while gen is still the
// current generation. The check and the write run in one WATCH/MULTI
// transaction; a concurrent Invalidate makes Set a no-op.
func (c *RedisBundleCache) Set(ctx context.Context, key string, gen int64, data []byte) error {
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, c.genKey()).Int64()
		if errors.Is(err, redis.Nil) {
			cur, err = 0, nil
		}
		if err != nil {
			return err
		}
		if cur != gen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.entryKey(gen, key), data, c.ttl)
			return nil
		})
		return err
	}, c.genKey())

	switch {
	case err == nil, errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		return nil
	default:
		return fmt.Errorf("cache set %s: %w", key, err)
	}
}

// Invalidate drops every entry by advancing the generation.
func (c *RedisBundleCache) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.genKey()).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (c *RedisBundleCache) Close() error {
	return c.client.Close()
}
