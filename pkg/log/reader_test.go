package log

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestLogFile(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.clog")

	logger, err := NewFileLogger(path)
	require.NoError(t, err)
	for _, e := range events {
		logger.Log(e)
	}
	require.NoError(t, logger.Close())
	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	var out []Event
	for {
		event, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, event)
	}
}

func TestReaderIteratesEvents(t *testing.T) {
	path := createTestLogFile(t, []Event{
		{Timestamp: time.Now(), ConnectionID: "conn-1", Layer: LayerTransport},
		{Timestamp: time.Now(), ConnectionID: "conn-2", Layer: LayerWire},
		{Timestamp: time.Now(), ConnectionID: "conn-3", Layer: LayerClient},
	})

	reader, err := NewReader(path)
	require.NoError(t, err)
	defer reader.Close()

	read := readAll(t, reader)
	require.Len(t, read, 3)
	assert.Equal(t, "conn-1", read[0].ConnectionID)
	assert.Equal(t, "conn-3", read[2].ConnectionID)
}

func TestReaderHandlesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.clog")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	reader, err := NewReader(path)
	require.NoError(t, err)
	defer reader.Close()

	_, err = reader.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderHandlesTruncatedFile(t *testing.T) {
	path := createTestLogFile(t, []Event{
		{Timestamp: time.Now(), ConnectionID: "conn-1"},
		{Timestamp: time.Now(), ConnectionID: "conn-2"},
	})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0644))

	reader, err := NewReader(path)
	require.NoError(t, err)
	defer reader.Close()

	first, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, "conn-1", first.ConnectionID)

	_, err = reader.Next()
	assert.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestReaderFilters(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []Event{
		{Timestamp: base, ConnectionID: "conn-1", Direction: DirectionIn, Layer: LayerTransport, Category: CategoryMessage},
		{Timestamp: base.Add(time.Second), ConnectionID: "conn-1", Direction: DirectionOut, Layer: LayerWire, Category: CategoryMessage, ChannelID: "chan-a"},
		{Timestamp: base.Add(2 * time.Second), ConnectionID: "conn-2", Direction: DirectionIn, Layer: LayerWire, Category: CategoryMessage, ChannelID: "chan-b"},
		{Timestamp: base.Add(3 * time.Second), ConnectionID: "conn-2", Direction: DirectionIn, Layer: LayerTransport, Category: CategoryError},
	}
	path := createTestLogFile(t, events)

	dirIn := DirectionIn
	layerWire := LayerWire
	catErr := CategoryError
	start := base.Add(time.Second)
	end := base.Add(3 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   []int
	}{
		{"none", Filter{}, []int{0, 1, 2, 3}},
		{"connection", Filter{ConnectionID: "conn-1"}, []int{0, 1}},
		{"channel", Filter{ChannelID: "chan-b"}, []int{2}},
		{"direction", Filter{Direction: &dirIn}, []int{0, 2, 3}},
		{"layer", Filter{Layer: &layerWire}, []int{1, 2}},
		{"category", Filter{Category: &catErr}, []int{3}},
		{"time range", Filter{TimeStart: &start, TimeEnd: &end}, []int{1, 2}},
		{"combined", Filter{ConnectionID: "conn-2", Direction: &dirIn, Layer: &layerWire}, []int{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewFilteredReader(path, tt.filter)
			require.NoError(t, err)
			defer reader.Close()

			got := readAll(t, reader)
			require.Len(t, got, len(tt.want))
			for i, idx := range tt.want {
				assert.True(t, events[idx].Timestamp.Equal(got[i].Timestamp), "event %d", i)
			}
		})
	}
}

func TestNewReaderMissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "nope.clog"))
	assert.Error(t, err)
}
