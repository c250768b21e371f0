package counter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore adapts a shared *redis.Client into Store using INCRBYFLOAT for
// the single-round-trip atomic Add the spec requires of a remote backend.
// The caller owns the client's lifecycle (construction, Close), matching how
// the teacher's registry takes a pre-built *redis.Client rather than owning
// connection setup itself.
type RedisStore struct {
	client *redis.Client
	// TTL bounds how long a bucket's key lives; remote backends rely on this
	// instead of MemoryStore's Sweep since Redis has no in-process sweep loop.
	// Buckets are given generous headroom past their own window so concurrent
	// in-flight requests never race an expiring key mid-window.
	TTL time.Duration
}

// NewRedisStore wraps an existing Redis client. ttl should comfortably exceed
// the longest-lived bucket window in active use (e.g. 32 days covers a
// monthly bucket); pass 0 to disable expiry and rely on application-level
// cleanup instead.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, TTL: ttl}
}

// Add implements Store using a single INCRBYFLOAT round-trip.
func (s *RedisStore) Add(ctx context.Context, key Key, delta float64) (float64, error) {
	k := key.String()
	v, err := s.client.IncrByFloat(ctx, k, delta).Result()
	if err != nil {
		return 0, err
	}
	if s.TTL > 0 {
		// Best-effort; a failed expire still leaves the value correct, just
		// without a TTL, so the error is not surfaced to the caller.
		s.client.Expire(ctx, k, s.TTL)
	}
	return v, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key Key) (float64, error) {
	v, err := s.client.Get(ctx, key.String()).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// Sweep is a no-op for RedisStore: expiry is handled by per-key TTLs set in Add.
func (s *RedisStore) Sweep(context.Context, time.Time) error { return nil }
