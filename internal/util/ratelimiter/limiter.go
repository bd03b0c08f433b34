package ratelimiter

import (
	"sync"
	"time"
)

// Limiter lets at most one action through per interval.
// It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// New creates a limiter that admits one action per interval
func New(interval time.Duration) *Limiter {
	return &Limiter{
		interval: interval,
		now:      time.Now,
	}
}

// Allow reports whether an action may run now. When it may, the current
// time is recorded; otherwise the remaining wait is returned.
func (l *Limiter) Allow() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.last.IsZero() || now.Sub(l.last) >= l.interval {
		l.last = now
		return true, 0
	}
	return false, l.interval - now.Sub(l.last)
}

// Do runs fn if the limiter admits it and reports whether it ran.
// fn runs outside the limiter's lock.
func (l *Limiter) Do(fn func()) bool {
	ok, _ := l.Allow()
	if ok {
		fn()
	}
	return ok
}

// Reset lets the next action through immediately
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.last = time.Time{}
	l.mu.Unlock()
}

// Last returns when an action was last admitted, or the zero time
func (l *Limiter) Last() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Interval returns the configured interval
func (l *Limiter) Interval() time.Duration {
	return l.interval
}
