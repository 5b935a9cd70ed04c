package logger

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// LogBufferWriter is an io.Writer that writes to the log buffer.
// It reads the console lines of the root logger, "time\tlevel\tname\tmessage",
// and files each under the node named in the logger name.
type LogBufferWriter struct {
	buffer *LogBuffer
	buf    bytes.Buffer
	mu     sync.Mutex
}

// NewLogBufferWriter creates a new writer that writes to the log buffer
func NewLogBufferWriter(buffer *LogBuffer) *LogBufferWriter {
	return &LogBufferWriter{
		buffer: buffer,
	}
}

// Write implements io.Writer
func (lw *LogBufferWriter) Write(p []byte) (n int, err error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	// Buffer until we get a newline
	lw.buf.Write(p)

	for {
		line, err := lw.buf.ReadString('\n')
		if err == io.EOF {
			// keep the partial line for the next write
			lw.buf.WriteString(line)
			break
		}
		if err != nil {
			return len(p), err
		}

		line = strings.TrimSuffix(line, "\n")
		if len(line) == 0 {
			continue
		}
		nodeID, level, message := parseLine(line, prefix())
		lw.buffer.Add(nodeID, level, message)
	}

	return len(p), nil
}

// parseLine splits a console encoded line into the node it concerns, the
// level and the message with its fields. Lines it does not recognise belong
// to "system".
func parseLine(line, root string) (nodeID, level, message string) {
	parts := strings.SplitN(line, "\t", 4)
	if len(parts) < 4 {
		return "system", "", line
	}
	level, name := parts[1], parts[2]
	message = strings.ReplaceAll(parts[3], "\t", " ")

	switch {
	case root != "" && name == root:
		return "system", level, message
	case root != "" && strings.HasPrefix(name, root+"."):
		return strings.TrimPrefix(name, root+"."), level, message
	default:
		return name, level, message
	}
}
