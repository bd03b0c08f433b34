// Package keylock serializes work per key while letting different keys
// proceed in parallel.
package keylock

import "sync"

// Locks hands out one mutex per key. Entries are dropped once no
// goroutine holds or waits for them.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty lock table
func New() *Locks {
	return &Locks{locks: make(map[string]*entry)}
}

// Lock blocks until key is free and returns the matching unlock func
func (l *Locks) Lock(key string) func() {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of keys currently held or waited on
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
