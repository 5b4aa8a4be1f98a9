// Package lock provides distributed and local locking abstractions.
// For single-node deployments, memory-based locks are used.
// For multi-instance deployments, Redis-based locks serialize writers
// across processes.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotAcquired indicates the lock stayed busy for every retry.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker defines the interface for distributed/local locking.
// Business logic only sees this interface, so the backend can be switched
// from configuration.
type Locker interface {
	// Acquire attempts to acquire a lock and returns the holder's token.
	// An empty token means the key is held by someone else.
	// The lock will automatically expire after the specified TTL.
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)

	// AcquireWithRetry attempts to acquire a lock with retries.
	// Will retry up to maxRetries times with retryDelay between attempts.
	AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (string, error)

	// Release frees key if it still carries token.
	// Returns false if the lock expired or passed to another holder.
	Release(ctx context.Context, key, token string) (bool, error)

	// Extend pushes the expiry of key if it still carries token.
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// IsHeld checks if the lock is currently held.
	IsHeld(ctx context.Context, key string) (bool, error)
}

// Options configures WithLock.
type Options struct {
	TTL        time.Duration
	Retries    int
	RetryDelay time.Duration
}

// WithLock runs fn while holding key. It returns ErrNotAcquired when the
// lock could not be taken within opts.Retries attempts. The lock is released
// even when fn fails.
func WithLock(ctx context.Context, locker Locker, key string, opts Options, fn func(ctx context.Context) error) error {
	token, err := locker.AcquireWithRetry(ctx, key, opts.TTL, opts.Retries, opts.RetryDelay)
	if err != nil {
		return err
	}
	if token == "" {
		return ErrNotAcquired
	}
	defer func() {
		// Release with a fresh context so a cancelled request still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_, _ = locker.Release(releaseCtx, key, token)
	}()

	return fn(ctx)
}

// acquireWithRetry is the retry loop shared by the lockers.
func acquireWithRetry(ctx context.Context, acquire func() (string, error), maxRetries int, retryDelay time.Duration) (string, error) {
	for i := 0; i <= maxRetries; i++ {
		token, err := acquire()
		if err != nil {
			return "", err
		}
		if token != "" {
			return token, nil
		}

		// Don't sleep on the last attempt.
		if i < maxRetries {
			timer := time.NewTimer(retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}
	}
	return "", nil
}

// generateToken creates a unique token for lock ownership.
func generateToken() string {
	return uuid.NewString()
}

// =============================================================================
// Common Lock Keys
// =============================================================================

// Keys provides lock key generation for common scenarios.
var Keys = lockKeys{}

type lockKeys struct{}

// Movie returns the lock key guarding writes to a single movie.
// Updates, deletes and ratings of the same movie are serialized on it.
func (lockKeys) Movie(id uuid.UUID) string {
	return "lock:movie:" + id.String()
}
