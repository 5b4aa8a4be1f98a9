package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ownership-checked scripts. A holder can only release or extend a key that
// still carries its own token.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker implements Locker on a Redis key per lock (SET NX PX).
// The key's value is the holder's token, so Release and Extend never touch a
// lock that has expired and passed to another holder.
type RedisLocker struct {
	client redis.UniversalClient
}

// NewRedisLocker creates a new RedisLocker using client.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire attempts to acquire a lock.
// Returns an empty token if the key is held by another holder.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := generateToken()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis lock acquire %s: %w", key, err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// AcquireWithRetry attempts to acquire a lock with retries.
func (l *RedisLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (string, error) {
	return acquireWithRetry(ctx, func() (string, error) {
		return l.Acquire(ctx, key, ttl)
	}, maxRetries, retryDelay)
}

// Release deletes key if it still carries token.
func (l *RedisLocker) Release(ctx context.Context, key, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("redis lock release %s: %w", key, err)
	}
	return n == 1, nil
}

// Extend resets the TTL of key if it still carries token.
func (l *RedisLocker) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if token == "" {
		return false, nil
	}
	n, err := extendScript.Run(ctx, l.client, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis lock extend %s: %w", key, err)
	}
	return n == 1, nil
}

// IsHeld checks if the lock is currently held by anyone.
func (l *RedisLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	err := l.client.Get(ctx, key).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis lock check %s: %w", key, err)
	}
	return true, nil
}

// Ensure RedisLocker implements Locker
var _ Locker = (*RedisLocker)(nil)
