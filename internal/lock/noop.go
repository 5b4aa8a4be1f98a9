package lock

import (
	"context"
	"time"
)

// NoOpLocker grants every request immediately. It is selected by
// lock.backend = "none"; concurrent writers are then serialized only by
// database constraints and transactions.
type NoOpLocker struct{}

// NewNoOpLocker creates a new no-op locker.
func NewNoOpLocker() *NoOpLocker {
	return &NoOpLocker{}
}

// noopToken is handed to every caller.
const noopToken = "noop"

func (NoOpLocker) Acquire(ctx context.Context, _ string, _ time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return noopToken, nil
}

func (n NoOpLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, _ int, _ time.Duration) (string, error) {
	return n.Acquire(ctx, key, ttl)
}

func (NoOpLocker) Release(ctx context.Context, _, _ string) (bool, error) {
	return granted(ctx)
}

func (NoOpLocker) Extend(ctx context.Context, _, _ string, _ time.Duration) (bool, error) {
	return granted(ctx)
}

// IsHeld is always false: nothing is ever recorded.
func (NoOpLocker) IsHeld(ctx context.Context, _ string) (bool, error) {
	return false, ctx.Err()
}

// granted succeeds unless ctx is already done.
func granted(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Ensure NoOpLocker implements Locker.
var _ Locker = (*NoOpLocker)(nil)
