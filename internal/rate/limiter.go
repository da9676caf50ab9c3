package rate

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goGuard/clock"
)

// DefaultStaleTimeout is the age after which a lock is considered abandoned.
const DefaultStaleTimeout = 30 * time.Second

// Config holds lock table tuning parameters.
type Config struct {
	StaleTimeout time.Duration
}

// Lock is a live single-flight claim on a key.
type Lock struct {
	Key        string
	AcquiredAt time.Time
	RequestID  string
}

// Limiter is a mutex-guarded table of live locks keyed by user id.
type Limiter struct {
	mu    sync.Mutex
	locks map[string]Lock
	stale time.Duration
	clock clock.Clock
	newID func() string
}

// New creates a [Limiter]. A nil clock selects wall time.
func New(cfg Config, clk clock.Clock) *Limiter {
	stale := cfg.StaleTimeout
	if stale <= 0 {
		stale = DefaultStaleTimeout
	}
	return &Limiter{
		locks: make(map[string]Lock),
		stale: stale,
		clock: clock.OrReal(clk),
		newID: uuid.NewString,
	}
}

// Acquire claims key if no live lock exists. It returns the stored lock and
// true on success, or the blocking lock and false when denied.
func (l *Limiter) Acquire(key string) (Lock, bool) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now)
	if held, ok := l.locks[key]; ok {
		return held, false
	}
	lock := Lock{Key: key, AcquiredAt: now, RequestID: l.newID()}
	l.locks[key] = lock
	return lock, true
}

// Release removes key unconditionally. Releasing an absent key is a no-op.
func (l *Limiter) Release(key string) {
	l.mu.Lock()
	delete(l.locks, key)
	l.mu.Unlock()
}

// ReleaseIf removes key only while it is still held by requestID, so a
// request that outlived its stale window cannot free a newer holder's lock.
func (l *Limiter) ReleaseIf(key, requestID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	held, ok := l.locks[key]
	if !ok || held.RequestID != requestID {
		return false
	}
	delete(l.locks, key)
	return true
}

// ActiveCount sweeps stale locks and returns the number still live.
func (l *Limiter) ActiveCount() int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now)
	return len(l.locks)
}

// Lookup returns the live lock for key, if any.
func (l *Limiter) Lookup(key string) (Lock, bool) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	held, ok := l.locks[key]
	if !ok || l.isStale(held, now) {
		return Lock{}, false
	}
	return held, true
}

// Run acquires key, runs fn and releases the key on every exit path,
// including a panic in fn.
func (l *Limiter) Run(key string, fn func(Lock) error) error {
	if key == "" {
		return ErrEmptyKey
	}
	lock, ok := l.Acquire(key)
	if !ok {
		return ErrLockHeld
	}
	defer l.ReleaseIf(key, lock.RequestID)
	return fn(lock)
}

// StaleTimeout reports the configured staleness window.
func (l *Limiter) StaleTimeout() time.Duration {
	return l.stale
}

func (l *Limiter) sweepLocked(now time.Time) {
	for key, held := range l.locks {
		if l.isStale(held, now) {
			delete(l.locks, key)
		}
	}
}

// isStale is the complement of liveness: a lock is live while its age is
// strictly below the timeout.
func (l *Limiter) isStale(lock Lock, now time.Time) bool {
	return now.Sub(lock.AcquiredAt) >= l.stale
}
