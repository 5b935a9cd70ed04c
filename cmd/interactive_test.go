package cmd

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamgarcia4/goLearning/hermes/logger"
	"github.com/adamgarcia4/goLearning/hermes/node"
)

func press(t *testing.T, m model, key string) model {
	t.Helper()
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)})
	return next.(model)
}

func messages(entries []logger.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func TestInteractiveLogControls(t *testing.T) {
	m := initialModel(node.ManagerConfig{
		ClusterID:    "tui-test",
		ManualGossip: true,
		RingDelay:    time.Minute,
	})
	t.Cleanup(func() {
		_ = m.manager.StopAll(context.Background())
		_ = logger.RemoveOutput(m.logWriter)
		_ = logger.SetEnabled(true)
	})

	m = press(t, m, "c")
	m = press(t, m, "c")
	require.Len(t, m.nodes, 2)
	a, b := m.nodes[0].Endpoint().String(), m.nodes[1].Endpoint().String()

	m = press(t, m, "x")
	assert.Zero(t, m.logBuffer.Len())

	logger.Named(a).Infow("from a")
	logger.Named(b).Infow("from b")

	m = press(t, m, "f")
	assert.Equal(t, a, m.logFilter)
	assert.Equal(t, []string{"from a"}, messages(m.recentLogs(10)))
	assert.Contains(t, m.logView(), "Logs of "+a)
	assert.NotContains(t, m.logView(), "from b")

	m = press(t, m, "f")
	assert.Equal(t, b, m.logFilter)
	assert.Equal(t, []string{"from b"}, messages(m.recentLogs(10)))

	m = press(t, m, "f")
	assert.Empty(t, m.logFilter, "back to every node")
	assert.Equal(t, []string{"from a", "from b"}, messages(m.recentLogs(10)))

	m = press(t, m, "p")
	assert.True(t, m.logsPaused)
	assert.Contains(t, m.logView(), "(paused)")
	logger.Named(a).Infow("while paused")
	m = press(t, m, "p")
	assert.False(t, m.logsPaused)
	logger.Named(a).Infow("resumed")
	assert.Equal(t, []string{"from a", "from b", "resumed"}, messages(m.recentLogs(10)))

	// quitting detaches the screen from the logger
	next, cmd := m.Update(shutdownCompleteMsg{})
	m = next.(model)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	logger.Named(a).Infow("after quit")
	assert.NotContains(t, messages(m.recentLogs(10)), "after quit")
}
