package event

import (
	"sync"
)

// Sink receives events emitted by the engine. Delivery is best-effort.
type Sink interface {
	Emit(event DomainEvent)
}

// NullSink drops every event
type NullSink struct{}

// Emit does nothing
func (NullSink) Emit(DomainEvent) {}

// BufferedSink forwards events to a dispatcher once the receiver has
// declared itself ready. Events emitted before that are kept in a bounded
// buffer; when the buffer is full the oldest event is dropped.
type BufferedSink struct {
	dispatcher EventDispatcher
	capacity   int

	mu      sync.Mutex
	ready   bool
	pending []DomainEvent
	dropped int
}

// NewBufferedSink creates a sink that buffers up to capacity pre-ready events
func NewBufferedSink(dispatcher EventDispatcher, capacity int) *BufferedSink {
	if capacity <= 0 {
		capacity = 256
	}
	return &BufferedSink{
		dispatcher: dispatcher,
		capacity:   capacity,
	}
}

// Emit dispatches the event, or buffers it if the sink is not ready
func (s *BufferedSink) Emit(event DomainEvent) {
	s.mu.Lock()
	if !s.ready {
		if len(s.pending) >= s.capacity {
			s.pending = s.pending[1:]
			s.dropped++
		}
		s.pending = append(s.pending, event)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.dispatcher.Dispatch(event)
}

// MarkReady flushes buffered events in order and switches to direct delivery
func (s *BufferedSink) MarkReady() {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return
	}
	pending := s.pending
	s.pending = nil
	s.ready = true
	s.mu.Unlock()

	for _, e := range pending {
		s.dispatcher.Dispatch(e)
	}
}

// MarkNotReady returns the sink to buffering mode
func (s *BufferedSink) MarkNotReady() {
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
}

// Dropped returns the number of events dropped while buffering
func (s *BufferedSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
