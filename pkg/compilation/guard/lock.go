package guard

import (
	"sync"
	"time"
)

// WaitObserver receives how long Acquire waited for the lock
type WaitObserver func(wait time.Duration)

// Lock is the process-wide compilation lock. It is re-entrant per session:
// a session holding the lock may acquire it again, e.g. when building a unit
// requires building its dependencies first.
type Lock struct {
	mu       sync.Mutex
	observer WaitObserver

	ownerMu sync.Mutex
	owner   *Session
}

// NewLock creates a compilation lock
func NewLock(observer WaitObserver) *Lock {
	return &Lock{observer: observer}
}

// Acquire takes the lock for sess. A nil session always blocks until the
// lock is free and is not re-entrant.
func (l *Lock) Acquire(sess *Session) {
	if sess != nil && l.heldBy(sess) {
		sess.mu.Lock()
		sess.depth++
		sess.mu.Unlock()
		return
	}

	start := time.Now()
	l.mu.Lock()
	if l.observer != nil {
		l.observer(time.Since(start))
	}

	l.ownerMu.Lock()
	l.owner = sess
	l.ownerMu.Unlock()

	if sess != nil {
		sess.mu.Lock()
		sess.depth = 1
		sess.mu.Unlock()
	}
}

// Release gives up one level of ownership
func (l *Lock) Release(sess *Session) {
	if sess != nil {
		sess.mu.Lock()
		sess.depth--
		remaining := sess.depth
		sess.mu.Unlock()
		if remaining > 0 {
			return
		}
	}

	l.ownerMu.Lock()
	l.owner = nil
	l.ownerMu.Unlock()
	l.mu.Unlock()
}

// HeldBy reports whether sess currently owns the lock
func (l *Lock) HeldBy(sess *Session) bool {
	return sess != nil && l.heldBy(sess)
}

func (l *Lock) heldBy(sess *Session) bool {
	l.ownerMu.Lock()
	defer l.ownerMu.Unlock()
	return l.owner == sess
}
