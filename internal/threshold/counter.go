// Package threshold implements the Threshold Counter (component D): a
// monotone per-(url, publisher) demand gauge consumed exclusively by the
// fast path before any admission decision.
package threshold

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Counter is the Threshold Counter's single operation.
type Counter interface {
	IncrementAndGet(ctx context.Context, url, publisherID string) (int64, error)
}

// RedisCounter implements Counter over Redis with an atomic INCR.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter dials Redis using addr/password/db, as declared by
// RedisConfig.
func NewRedisCounter(addr, password string, db int) *RedisCounter {
	return &RedisCounter{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// NewRedisCounterFromClient wraps an already-constructed client, for tests
// that point at a miniredis instance or a shared pool.
func NewRedisCounterFromClient(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func key(url, publisherID string) string {
	return fmt.Sprintf("threshold:%s:%s", publisherID, url)
}

// IncrementAndGet atomically upserts and returns the post-increment value.
func (c *RedisCounter) IncrementAndGet(ctx context.Context, url, publisherID string) (int64, error) {
	return c.client.Incr(ctx, key(url, publisherID)).Result()
}

// Close releases the underlying connection pool.
func (c *RedisCounter) Close() error {
	return c.client.Close()
}

// Ping verifies connectivity, used at process startup.
func (c *RedisCounter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
