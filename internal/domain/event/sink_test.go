package event

import (
	"sync"
	"testing"

	"github.com/vertextoedge/offline-stream/internal/domain"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []DomainEvent
}

func (h *recordingHandler) Handle(e DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
	return nil
}

func (h *recordingHandler) HandledEvents() []string { return []string{AllEvents} }

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func TestBufferedSink_BuffersUntilReady(t *testing.T) {
	d := NewInMemoryDispatcher(nil)
	h := &recordingHandler{}
	d.Subscribe(h)

	sink := NewBufferedSink(d, 10)
	sink.Emit(NewDownloadCanceled("a"))
	sink.Emit(NewDownloadCanceled("b"))

	if h.count() != 0 {
		t.Fatalf("events delivered before ready: %d", h.count())
	}

	sink.MarkReady()
	if h.count() != 2 {
		t.Fatalf("expected 2 flushed events, got %d", h.count())
	}
	if h.events[0].(DownloadCanceled).DownloadID != "a" {
		t.Errorf("flush order not preserved")
	}

	sink.Emit(NewDownloadCanceled("c"))
	if h.count() != 3 {
		t.Errorf("expected direct delivery after ready, got %d", h.count())
	}
}

func TestBufferedSink_DropsOldestWhenFull(t *testing.T) {
	d := NewInMemoryDispatcher(nil)
	h := &recordingHandler{}
	d.Subscribe(h)

	sink := NewBufferedSink(d, 2)
	sink.Emit(NewDownloadCanceled("a"))
	sink.Emit(NewDownloadCanceled("b"))
	sink.Emit(NewDownloadCanceled("c"))

	if sink.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", sink.Dropped())
	}
	sink.MarkReady()
	if h.count() != 2 {
		t.Fatalf("expected 2 events, got %d", h.count())
	}
	if got := h.events[0].(DownloadCanceled).DownloadID; got != "b" {
		t.Errorf("first delivered = %s, want b", got)
	}
}

func TestDispatcher_UnsubscribeOnlyHandler(t *testing.T) {
	d := NewInMemoryDispatcher(nil)
	h := &recordingHandler{}
	d.Subscribe(h)
	d.Unsubscribe(h)

	d.Dispatch(NewDownloadFailed("x", domain.ErrNetworkUnavailable))
	if h.count() != 0 {
		t.Errorf("unsubscribed handler received %d events", h.count())
	}
}

func TestMetricsHandler_Counts(t *testing.T) {
	m := NewMetricsHandler()
	d := NewInMemoryDispatcher(nil)
	d.Subscribe(m)

	d.Dispatch(NewDownloadCompleted("a", "/x", 100, 0))
	d.Dispatch(NewDownloadCompleted("b", "/y", 50, 0))
	d.Dispatch(NewDownloadFailed("c", nil))
	d.Dispatch(NewDownloadProgress(domain.Progress{DownloadID: "a"}))

	got := m.GetMetrics()
	if got["downloads_completed"] != 2 {
		t.Errorf("downloads_completed = %d, want 2", got["downloads_completed"])
	}
	if got["bytes_downloaded"] != 150 {
		t.Errorf("bytes_downloaded = %d, want 150", got["bytes_downloaded"])
	}
	if got["downloads_failed"] != 1 {
		t.Errorf("downloads_failed = %d, want 1", got["downloads_failed"])
	}
}

func TestNewDownloadProgress_CompletedIsFull(t *testing.T) {
	e := NewDownloadProgress(domain.Progress{
		DownloadID:      "a",
		BytesDownloaded: 10,
		TotalBytes:      100,
		State:           domain.StateCompleted,
	})
	if e.Progress != 100 {
		t.Errorf("Progress = %v, want 100", e.Progress)
	}
}
