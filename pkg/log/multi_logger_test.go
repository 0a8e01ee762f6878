package log

import (
	"sync"
	"testing"
	"time"
)

// recordingLogger keeps every event it receives.
type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingLogger) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestMultiLoggerCallsAll(t *testing.T) {
	a, b, c := &recordingLogger{}, &recordingLogger{}, &recordingLogger{}
	multi := NewMultiLogger(a, b, c)

	multi.Log(Event{Timestamp: time.Now(), ConnectionID: "conn-123"})

	for i, r := range []*recordingLogger{a, b, c} {
		events := r.Events()
		if len(events) != 1 {
			t.Errorf("logger %d: got %d events, want 1", i, len(events))
			continue
		}
		if events[0].ConnectionID != "conn-123" {
			t.Errorf("logger %d: ConnectionID = %q, want %q", i, events[0].ConnectionID, "conn-123")
		}
	}
}

func TestMultiLoggerSkipsNil(t *testing.T) {
	r := &recordingLogger{}
	multi := NewMultiLogger(nil, r, nil)

	if multi.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", multi.Len())
	}
	multi.Log(Event{})
	if len(r.Events()) != 1 {
		t.Errorf("got %d events, want 1", len(r.Events()))
	}
}

func TestMultiLoggerEmptyList(t *testing.T) {
	NewMultiLogger().Log(Event{Timestamp: time.Now()})
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) should return NoopLogger")
	}
	r := &recordingLogger{}
	if OrNoop(r) != Logger(r) {
		t.Error("OrNoop should return a non-nil logger unchanged")
	}
}

func TestLoggerFunc(t *testing.T) {
	var got []Event
	var l Logger = LoggerFunc(func(e Event) { got = append(got, e) })

	l.Log(Event{ConnectionID: "conn-1"})
	if len(got) != 1 || got[0].ConnectionID != "conn-1" {
		t.Errorf("LoggerFunc did not forward event: %+v", got)
	}
}
