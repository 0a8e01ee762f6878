package commands

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/chanmux/chanmux-go/pkg/log"
)

func readAll(t *testing.T, path string) []log.Event {
	t.Helper()
	reader, err := log.NewReader(path)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer reader.Close()

	var events []log.Event
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		if err != nil {
			t.Fatalf("failed to read event: %v", err)
		}
		events = append(events, event)
	}
}

func TestFilterByConnectionID(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, ConnectionID: "conn-1", Category: log.CategoryMessage},
		{Timestamp: ts, ConnectionID: "conn-2", Category: log.CategoryMessage},
		{Timestamp: ts, ConnectionID: "conn-1", Category: log.CategoryMessage},
	}

	path := createTestLogFile(t, events)
	outPath := filepath.Join(t.TempDir(), "filtered.clog")

	n, err := RunFilter(path, FilterOptions{Output: outPath, ConnID: "conn-1"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 events written, got %d", n)
	}

	got := readAll(t, outPath)
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	for _, e := range got {
		if e.ConnectionID != "conn-1" {
			t.Errorf("expected conn-1, got %s", e.ConnectionID)
		}
	}
}

func TestFilterByChannel(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, ChannelID: testChannel, Envelope: &log.EnvelopeEvent{Type: log.EnvelopeListen}},
		{Timestamp: ts, ChannelID: "other", Envelope: &log.EnvelopeEvent{Type: log.EnvelopeListen}},
		{Timestamp: ts, ChannelID: testChannel, Envelope: &log.EnvelopeEvent{Type: log.EnvelopePush}},
	}

	path := createTestLogFile(t, events)
	outPath := filepath.Join(t.TempDir(), "filtered.clog")

	if _, err := RunFilter(path, FilterOptions{Output: outPath, ChannelID: testChannel}); err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}

	got := readAll(t, outPath)
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[1].Envelope == nil || got[1].Envelope.Type != log.EnvelopePush {
		t.Errorf("expected push envelope second, got %+v", got[1].Envelope)
	}
}

func TestFilterByTimeRange(t *testing.T) {
	base := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: base, ConnectionID: "conn-1"},
		{Timestamp: base.Add(time.Hour), ConnectionID: "conn-1"},
		{Timestamp: base.Add(2 * time.Hour), ConnectionID: "conn-1"},
	}

	path := createTestLogFile(t, events)
	outPath := filepath.Join(t.TempDir(), "filtered.clog")

	_, err := RunFilter(path, FilterOptions{
		Output:    outPath,
		TimeStart: base.Add(30 * time.Minute).Format(time.RFC3339),
		TimeEnd:   base.Add(90 * time.Minute).Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}

	got := readAll(t, outPath)
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if !got[0].Timestamp.Equal(base.Add(time.Hour)) {
		t.Errorf("unexpected timestamp %s", got[0].Timestamp)
	}
}

func TestFilterCommandByLayer(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, Layer: log.LayerTransport},
		{Timestamp: ts, Layer: log.LayerWire},
		{Timestamp: ts, Layer: log.LayerClient},
		{Timestamp: ts, Layer: log.LayerWire},
	}

	path := createTestLogFile(t, events)
	outPath := filepath.Join(t.TempDir(), "filtered.clog")

	n, err := RunFilter(path, FilterOptions{Output: outPath, Layer: "wire"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 events, got %d", n)
	}
	for _, e := range readAll(t, outPath) {
		if e.Layer != log.LayerWire {
			t.Errorf("expected WIRE layer, got %s", e.Layer)
		}
	}
}

func TestFilterInvalidOptions(t *testing.T) {
	path := createTestLogFile(t, []log.Event{{Timestamp: time.Now()}})
	outPath := filepath.Join(t.TempDir(), "filtered.clog")

	tests := []struct {
		name string
		opts FilterOptions
	}{
		{"time-start", FilterOptions{Output: outPath, TimeStart: "yesterday"}},
		{"time-end", FilterOptions{Output: outPath, TimeEnd: "tomorrow"}},
		{"layer", FilterOptions{Output: outPath, Layer: "service"}},
		{"direction", FilterOptions{Output: outPath, Direction: "up"}},
		{"category", FilterOptions{Output: outPath, Category: "snapshot"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := RunFilter(path, tt.opts); err == nil {
				t.Errorf("expected error for invalid %s", tt.name)
			}
		})
	}
}
