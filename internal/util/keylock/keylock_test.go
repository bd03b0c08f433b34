package keylock

import (
	"sync"
	"testing"
	"time"
)

func TestLocks_SameKeySerializes(t *testing.T) {
	l := New()
	unlock := l.Lock("a")

	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		l.Lock("a")()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock on the same key did not block")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
}

func TestLocks_DifferentKeysDoNotBlock(t *testing.T) {
	l := New()
	unlock := l.Lock("a")
	defer unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Lock("b")()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Lock on another key blocked")
	}
}

func TestLocks_ReleasesEntries(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Lock("shared")()
		}()
	}
	wg.Wait()

	if n := l.Len(); n != 0 {
		t.Errorf("Len() = %d after all unlocks, want 0", n)
	}
}
