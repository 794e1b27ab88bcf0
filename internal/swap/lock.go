package swap

import (
	"log/slog"
	"sync"
	"time"
)

// Lock is the single-slot gate that keeps at most one swap attempt active.
// It is held across the waits of a session on purpose.
type Lock struct {
	mu       sync.Mutex
	held     bool
	lockedAt time.Time
	logger   *slog.Logger
}

// NewLock creates an unheld lock.
func NewLock(logger *slog.Logger) *Lock {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lock{logger: logger}
}

// TryAcquire takes the lock without blocking. It returns false if the lock
// is already held.
func (l *Lock) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return false
	}
	l.held = true
	l.lockedAt = time.Now()
	l.logger.Debug("swap lock acquired")
	return true
}

// Release frees the lock. Releasing an unheld lock is a programming error
// and panics.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		panic("swap: release of unheld lock")
	}
	l.held = false
	l.logger.Debug("swap lock released", "held_for", time.Since(l.lockedAt))
}

// Held reports whether a swap is in progress.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// HeldSince returns when the lock was taken, or the zero time if free.
func (l *Lock) HeldSince() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return time.Time{}
	}
	return l.lockedAt
}
