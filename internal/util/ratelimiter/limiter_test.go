package ratelimiter

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is advanced by hand
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(interval time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(interval)
	l.now = clock.Now
	return l, clock
}

func TestLimiter_Allow(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		advances []time.Duration // clock advance before each Allow() call
		want     []bool
	}{
		{
			name:     "first call always allowed",
			interval: time.Minute,
			advances: []time.Duration{0},
			want:     []bool{true},
		},
		{
			name:     "second call within interval is blocked",
			interval: time.Minute,
			advances: []time.Duration{0, 30 * time.Second},
			want:     []bool{true, false},
		},
		{
			name:     "call exactly at interval is allowed",
			interval: time.Minute,
			advances: []time.Duration{0, time.Minute},
			want:     []bool{true, true},
		},
		{
			name:     "blocked calls do not extend the window",
			interval: time.Minute,
			advances: []time.Duration{0, 40 * time.Second, 20 * time.Second},
			want:     []bool{true, false, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, clock := newTestLimiter(tt.interval)
			for i, d := range tt.advances {
				clock.Advance(d)
				got, wait := l.Allow()
				if got != tt.want[i] {
					t.Errorf("call %d: Allow() = %v, want %v", i, got, tt.want[i])
				}
				if !got && wait <= 0 {
					t.Errorf("call %d: blocked call returned wait %v", i, wait)
				}
			}
		})
	}
}

func TestLimiter_RemainingWait(t *testing.T) {
	l, clock := newTestLimiter(time.Minute)
	l.Allow()
	clock.Advance(45 * time.Second)

	_, wait := l.Allow()
	if wait != 15*time.Second {
		t.Errorf("wait = %v, want %v", wait, 15*time.Second)
	}
}

func TestLimiter_Do(t *testing.T) {
	l, clock := newTestLimiter(time.Hour)
	runs := 0

	if !l.Do(func() { runs++ }) {
		t.Error("first Do() should run")
	}
	if l.Do(func() { runs++ }) {
		t.Error("second Do() within interval should not run")
	}
	clock.Advance(time.Hour)
	l.Do(func() { runs++ })

	if runs != 2 {
		t.Errorf("runs = %d, want 2", runs)
	}
}

func TestLimiter_ResetAndLast(t *testing.T) {
	l, clock := newTestLimiter(time.Hour)
	if !l.Last().IsZero() {
		t.Error("Last() should be zero before any action")
	}

	l.Allow()
	if !l.Last().Equal(clock.Now()) {
		t.Errorf("Last() = %v, want %v", l.Last(), clock.Now())
	}

	l.Reset()
	if ok, _ := l.Allow(); !ok {
		t.Error("Allow() after Reset() should succeed")
	}
	if l.Interval() != time.Hour {
		t.Errorf("Interval() = %v, want %v", l.Interval(), time.Hour)
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	l := New(time.Hour)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow(); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != 1 {
		t.Errorf("allowed = %d, want 1", allowed.Load())
	}
}
