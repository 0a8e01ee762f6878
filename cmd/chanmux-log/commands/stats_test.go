package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/chanmux/chanmux-go/pkg/log"
)

func TestStats(t *testing.T) {
	base := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	one, two := 1, 2
	closeCode := 1006
	events := []log.Event{
		{Timestamp: base, ConnectionID: "conn-aaaa-1", Endpoint: "ws://example.test/", Layer: log.LayerTransport, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{Entity: log.StateEntityConnection, NewState: "CONNECTED"}},
		{Timestamp: base.Add(time.Second), ConnectionID: "conn-aaaa-1", Direction: log.DirectionOut, Layer: log.LayerWire, Category: log.CategoryMessage,
			ChannelID: testChannel, Envelope: &log.EnvelopeEvent{Type: log.EnvelopeListen}},
		{Timestamp: base.Add(2 * time.Second), ConnectionID: "conn-aaaa-1", Direction: log.DirectionIn, Layer: log.LayerWire, Category: log.CategoryMessage,
			ChannelID: testChannel, Envelope: &log.EnvelopeEvent{Type: log.EnvelopePush, Delivered: &one}},
		{Timestamp: base.Add(3 * time.Second), ConnectionID: "conn-aaaa-1", Direction: log.DirectionIn, Layer: log.LayerWire, Category: log.CategoryMessage,
			ChannelID: testChannel, Envelope: &log.EnvelopeEvent{Type: log.EnvelopePush, Delivered: &two}},
		{Timestamp: base.Add(4 * time.Second), ConnectionID: "conn-aaaa-1", Direction: log.DirectionIn, Layer: log.LayerTransport, Category: log.CategoryControl,
			ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgClose, CloseCode: &closeCode}},
		{Timestamp: base.Add(5 * time.Second), ConnectionID: "conn-bbbb-2", Layer: log.LayerWire, Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerWire, Message: "bad frame"}},
	}
	path := createTestLogFile(t, events)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"Total Events: 6",
		"TRANSPORT:",
		"WIRE:",
		"CONTROL:",
		"Connections: 2",
		"[conn-aaa] 5 events",
		"Endpoint: ws://example.test/",
		"Closed: 1006",
		"Channels: 1",
		testChannel + " listen=1 ignore=0 push=2 delivered=3",
		"Errors: 1",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
	if strings.Contains(output, "CLIENT:") {
		t.Errorf("CLIENT layer has no events, got:\n%s", output)
	}
}

func TestStatsEmptyFile(t *testing.T) {
	path := createTestLogFile(t, nil)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	output := buf.String()
	if !strings.Contains(output, "Total Events: 0") {
		t.Errorf("expected zero events, got:\n%s", output)
	}
	if strings.Contains(output, "Time Range") {
		t.Errorf("empty log should have no time range, got:\n%s", output)
	}
}
