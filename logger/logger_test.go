package logger

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line, root           string
		node, level, message string
	}{
		{"12:00:00.000\tINFO\thermes.10.0.0.1:7000\tnode started", "hermes", "10.0.0.1:7000", "INFO", "node started"},
		{"12:00:00.000\tWARN\thermes\tno seeds\t{\"n\": 0}", "hermes", "system", "WARN", "no seeds {\"n\": 0}"},
		{"12:00:00.000\tDEBUG\tother\tx", "hermes", "other", "DEBUG", "x"},
		{"12:00:00.000\tINFO\thermes.a\tx", "", "hermes.a", "INFO", "x"},
		{"not a console line", "hermes", "system", "", "not a console line"},
	}
	for _, tt := range tests {
		node, level, message := parseLine(tt.line, tt.root)
		assert.Equal(t, tt.node, node, tt.line)
		assert.Equal(t, tt.level, level, tt.line)
		assert.Equal(t, tt.message, message, tt.line)
	}
}

func TestLogBuffer(t *testing.T) {
	lb := NewLogBuffer(3)
	for i := range 5 {
		lb.Add(fmt.Sprintf("n%d", i%2), "INFO", fmt.Sprintf("m%d", i))
	}
	assert.Equal(t, 3, lb.Len())

	recent := lb.GetRecent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "m3", recent[0].Message)
	assert.Equal(t, "m4", recent[1].Message)

	assert.Len(t, lb.GetRecent(10), 3)

	n0 := lb.GetRecentFor("n0", 10)
	require.Len(t, n0, 2)
	assert.Equal(t, "m2", n0[0].Message)
	assert.Equal(t, "m4", n0[1].Message)

	lb.Clear()
	assert.Zero(t, lb.Len())
	assert.Empty(t, lb.GetRecent(1))
}

func TestFormatLogEntry(t *testing.T) {
	entry := LogEntry{
		Timestamp: time.Date(2024, 1, 1, 9, 8, 7, 0, time.UTC),
		NodeID:    "10.0.0.1:7000",
		Level:     "INFO",
		Message:   "hello",
	}
	assert.Equal(t, "[09:08:07] INFO 10.0.0.1:7000: hello", FormatLogEntry(entry))
}

func TestLogBufferWriterKeepsPartialLines(t *testing.T) {
	Init("hermes", false)
	lb := NewLogBuffer(10)
	w := NewLogBufferWriter(lb)

	n, err := w.Write([]byte("12:00:00.000\tINFO\thermes.a:1\tfirst\n12:00:00.000\tINFO\ther"))
	require.NoError(t, err)
	assert.Equal(t, 56, n)
	assert.Equal(t, 1, lb.Len())

	_, err = w.Write([]byte("mes.b:2\tsecond\n\n"))
	require.NoError(t, err)
	entries := lb.GetRecent(10)
	require.Len(t, entries, 2)
	assert.Equal(t, "a:1", entries[0].NodeID)
	assert.Equal(t, "b:2", entries[1].NodeID)
	assert.Equal(t, "second", entries[1].Message)
}

func TestNamedLoggerReachesOutputs(t *testing.T) {
	Init("hermes", false)
	lb := NewLogBuffer(10)
	w := NewLogBufferWriter(lb)
	require.NoError(t, AddOutput(w))
	defer func() { require.NoError(t, RemoveOutput(w)) }()

	Named("10.0.0.1:7000").Infow("node started", "generation", 7)
	Named("10.0.0.1:7000").Debugw("hidden")

	entries := lb.GetRecentFor("10.0.0.1:7000", 10)
	require.Len(t, entries, 1)
	assert.Equal(t, "INFO", entries[0].Level)
	assert.Contains(t, entries[0].Message, "node started")
	assert.Contains(t, entries[0].Message, `"generation": 7`)

	require.NoError(t, SetLevel("debug"))
	defer func() { require.NoError(t, SetLevel("info")) }()
	Named("10.0.0.1:7000").Debugw("shown")
	assert.Len(t, lb.GetRecentFor("10.0.0.1:7000", 10), 2)

	require.NoError(t, SetEnabled(false))
	Named("10.0.0.1:7000").Infow("muted")
	require.NoError(t, SetEnabled(true))
	assert.Len(t, lb.GetRecentFor("10.0.0.1:7000", 10), 2)

	assert.Error(t, SetLevel("loud"))
}
