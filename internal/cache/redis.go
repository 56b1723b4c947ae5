package cache

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisCommander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// RedisBackendConfig configures the Redis-backed cache.
type RedisBackendConfig struct {
	Namespace string
}

// RedisBackend keeps day records in Redis, one string value per date plus a
// set indexing the cached dates.
type RedisBackend struct {
	client    redisCommander
	closeFn   func() error
	namespace string
}

// NewRedisBackend creates a Redis-backed cache backend.
func NewRedisBackend(client redis.UniversalClient, cfg RedisBackendConfig) *RedisBackend {
	closeFn := func() error { return nil }
	if client != nil {
		closeFn = client.Close
	}
	return newRedisBackendFromCommander(client, closeFn, cfg)
}

func newRedisBackendFromCommander(client redisCommander, closeFn func() error, cfg RedisBackendConfig) *RedisBackend {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "org-pulse"
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return &RedisBackend{
		client:    client,
		closeFn:   closeFn,
		namespace: namespace,
	}
}

// Close closes the underlying Redis client.
func (b *RedisBackend) Close() error {
	if b == nil || b.closeFn == nil {
		return nil
	}
	return b.closeFn()
}

// Read returns the stored payload for a date, or ErrNotFound.
func (b *RedisBackend) Read(date string) ([]byte, error) {
	payload, err := b.client.Get(context.Background(), b.dayKey(date)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read cache record for %s: %w", date, err)
	}
	return payload, nil
}

// Write stores the payload for a date and indexes the date.
func (b *RedisBackend) Write(date string, payload []byte) error {
	ctx := context.Background()
	if err := b.client.Set(ctx, b.dayKey(date), payload, 0).Err(); err != nil {
		return fmt.Errorf("write cache record for %s: %w", date, err)
	}
	if err := b.client.SAdd(ctx, b.indexKey(), date).Err(); err != nil {
		return fmt.Errorf("index cache date %s: %w", date, err)
	}
	return nil
}

// Exists reports whether a record is stored for a date.
func (b *RedisBackend) Exists(date string) (bool, error) {
	count, err := b.client.Exists(context.Background(), b.dayKey(date)).Result()
	if err != nil {
		return false, fmt.Errorf("check cache record for %s: %w", date, err)
	}
	return count > 0, nil
}

// ListDates returns all cached dates in ascending order.
func (b *RedisBackend) ListDates() ([]string, error) {
	dates, err := b.client.SMembers(context.Background(), b.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list cache dates: %w", err)
	}
	valid := dates[:0]
	for _, date := range dates {
		if _, err := time.Parse("2006-01-02", date); err == nil {
			valid = append(valid, date)
		}
	}
	sort.Strings(valid)
	return valid, nil
}

// Delete removes the record and index entry for a date.
func (b *RedisBackend) Delete(date string) error {
	ctx := context.Background()
	if err := b.client.Del(ctx, b.dayKey(date)).Err(); err != nil {
		return fmt.Errorf("delete cache record for %s: %w", date, err)
	}
	if err := b.client.SRem(ctx, b.indexKey(), date).Err(); err != nil {
		return fmt.Errorf("deindex cache date %s: %w", date, err)
	}
	return nil
}

// ReadMetadata returns the stored metadata payload, or ErrNotFound.
func (b *RedisBackend) ReadMetadata() ([]byte, error) {
	payload, err := b.client.Get(context.Background(), b.metadataKey()).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read cache metadata: %w", err)
	}
	return payload, nil
}

// WriteMetadata stores the metadata payload.
func (b *RedisBackend) WriteMetadata(payload []byte) error {
	if err := b.client.Set(context.Background(), b.metadataKey(), payload, 0).Err(); err != nil {
		return fmt.Errorf("write cache metadata: %w", err)
	}
	return nil
}

func (b *RedisBackend) dayKey(date string) string {
	return b.namespace + ":day:" + date
}

func (b *RedisBackend) indexKey() string {
	return b.namespace + ":days"
}

func (b *RedisBackend) metadataKey() string {
	return b.namespace + ":metadata"
}

var _ Backend = (*RedisBackend)(nil)
