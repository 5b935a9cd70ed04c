package logger

import (
	"fmt"
	"sync"
	"time"
)

// LogEntry is one line captured for the TUI.
type LogEntry struct {
	Timestamp time.Time
	NodeID    string
	Level     string
	Message   string
}

// LogBuffer keeps the last maxSize entries.
type LogBuffer struct {
	entries []LogEntry
	maxSize int
	mu      sync.RWMutex
}

func NewLogBuffer(maxSize int) *LogBuffer {
	return &LogBuffer{
		entries: make([]LogEntry, 0, maxSize),
		maxSize: maxSize,
	}
}

func (lb *LogBuffer) Add(nodeID, level, message string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.entries = append(lb.entries, LogEntry{
		Timestamp: time.Now(),
		NodeID:    nodeID,
		Level:     level,
		Message:   message,
	})
	if len(lb.entries) > lb.maxSize {
		lb.entries = lb.entries[len(lb.entries)-lb.maxSize:]
	}
}

// GetRecent returns up to count of the newest entries, oldest first.
func (lb *LogBuffer) GetRecent(count int) []LogEntry {
	return lb.recent(count, func(LogEntry) bool { return true })
}

// GetRecentFor is GetRecent restricted to one node.
func (lb *LogBuffer) GetRecentFor(nodeID string, count int) []LogEntry {
	return lb.recent(count, func(e LogEntry) bool { return e.NodeID == nodeID })
}

func (lb *LogBuffer) recent(count int, keep func(LogEntry) bool) []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	var result []LogEntry
	for i := len(lb.entries) - 1; i >= 0 && len(result) < count; i-- {
		if keep(lb.entries[i]) {
			result = append(result, lb.entries[i])
		}
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

func (lb *LogBuffer) Len() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return len(lb.entries)
}

func (lb *LogBuffer) Clear() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.entries = make([]LogEntry, 0, lb.maxSize)
}

// FormatLogEntry formats a log entry for display
func FormatLogEntry(entry LogEntry) string {
	return fmt.Sprintf("[%s] %s %s: %s",
		entry.Timestamp.Format("15:04:05"),
		entry.Level,
		entry.NodeID,
		entry.Message,
	)
}
