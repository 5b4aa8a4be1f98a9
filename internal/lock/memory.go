package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker serializes movie writers within one process. It is the
// default backend; run several instances only with the redis backend.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
	now   func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// lockEntry represents a single lock.
type lockEntry struct {
	expiresAt time.Time
	token     string
}

// NewMemoryLocker creates a new in-memory locker. Call Close to stop the
// background sweeper.
func NewMemoryLocker() *MemoryLocker {
	return newMemoryLocker(30 * time.Second)
}

func newMemoryLocker(sweepEvery time.Duration) *MemoryLocker {
	ml := &MemoryLocker{
		locks: make(map[string]*lockEntry),
		now:   time.Now,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	go ml.cleanupLoop(sweepEvery)

	return ml
}

// Close stops the sweeper goroutine. It is safe to call more than once.
func (m *MemoryLocker) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
	return nil
}

// cleanupLoop periodically removes expired locks.
func (m *MemoryLocker) cleanupLoop(every time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup removes expired locks.
func (m *MemoryLocker) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, entry := range m.locks {
		if now.After(entry.expiresAt) {
			delete(m.locks, key)
		}
	}
}

// Acquire takes key for ttl and returns the new holder's token.
func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.live(key); held {
		return "", nil
	}

	token := generateToken()
	m.locks[key] = &lockEntry{
		expiresAt: m.now().Add(ttl),
		token:     token,
	}
	return token, nil
}

// AcquireWithRetry attempts to acquire a lock with retries.
func (m *MemoryLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (string, error) {
	return acquireWithRetry(ctx, func() (string, error) {
		return m.Acquire(ctx, key, ttl)
	}, maxRetries, retryDelay)
}

// Release frees key when token still holds it. An expired key or one taken
// over by a later holder is left alone.
func (m *MemoryLocker) Release(ctx context.Context, key, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.owned(key, token); !ok {
		return false, nil
	}
	delete(m.locks, key)
	return true, nil
}

// Extend pushes the expiry of key to now+ttl when token still holds it.
func (m *MemoryLocker) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.owned(key, token)
	if !ok {
		return false, nil
	}
	entry.expiresAt = m.now().Add(ttl)
	return true, nil
}

// IsHeld reports whether key is held and unexpired.
func (m *MemoryLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.live(key)
	return ok, nil
}

// owned returns the live entry for key if it carries token. Callers must hold m.mu.
func (m *MemoryLocker) owned(key, token string) (*lockEntry, bool) {
	entry, ok := m.live(key)
	if !ok || token == "" || entry.token != token {
		return nil, false
	}
	return entry, true
}

// live returns the entry for key if it has not expired, dropping stale
// entries on the way. Callers must hold m.mu.
func (m *MemoryLocker) live(key string) (*lockEntry, bool) {
	entry, exists := m.locks[key]
	if !exists {
		return nil, false
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.locks, key)
		return nil, false
	}
	return entry, true
}

// Ensure MemoryLocker implements Locker.
var _ Locker = (*MemoryLocker)(nil)
