// Package logger provides the process wide zap logger. Every line it writes
// goes through a fan-out writer, so outputs such as the TUI log buffer can be
// attached and detached at run time.
// Init must be called early in the application lifecycle before using other logger functions.
// Functions like AddOutput and SetEnabled will return errors if called before Init.
package logger

import (
	"errors"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the fan-out writer behind the zap core.
type Logger struct {
	mu      sync.Mutex
	outputs []io.Writer
	prefix  string
	enabled bool

	level zap.AtomicLevel
	zl    *zap.Logger
}

var (
	globalLogger *Logger
	once         sync.Once
	globalBuffer *LogBuffer
	bufferOnce   sync.Once

	errNotInitialized = errors.New("logger not initialized: call logger.Init() first")
)

// GetGlobalLogBuffer returns the global log buffer
func GetGlobalLogBuffer() *LogBuffer {
	bufferOnce.Do(func() {
		globalBuffer = NewLogBuffer(1000) // Keep last 1000 log entries
	})
	return globalBuffer
}

// Init initializes the global logger. Every logger handed out is named below
// prefix.
func Init(prefix string, writeToStdout bool) {
	once.Do(func() {
		globalLogger = newLogger(prefix, writeToStdout)
	})
}

func newLogger(prefix string, writeToStdout bool) *Logger {
	if prefix == "" {
		prefix = "hermes"
	}
	l := &Logger{
		prefix:  prefix,
		enabled: true,
		level:   zap.NewAtomicLevelAt(zapcore.InfoLevel),
	}
	if writeToStdout {
		l.outputs = append(l.outputs, os.Stdout)
	}

	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	enc.CallerKey = zapcore.OmitKey
	enc.StacktraceKey = zapcore.OmitKey
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(l), l.level)
	l.zl = zap.New(core).Named(prefix)
	return l
}

// Write fans p out to every output. zap calls it once per entry.
func (l *Logger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return len(p), nil
	}
	for _, output := range l.outputs {
		_, _ = output.Write(p)
	}
	return len(p), nil
}

// AddOutput adds an additional output writer (e.g., for TUI log buffer).
// Returns an error if called before Init.
func AddOutput(w io.Writer) error {
	if globalLogger == nil {
		return errNotInitialized
	}
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()
	globalLogger.outputs = append(globalLogger.outputs, w)
	return nil
}

// RemoveOutput removes an output writer.
// Returns an error if called before Init.
func RemoveOutput(w io.Writer) error {
	if globalLogger == nil {
		return errNotInitialized
	}
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()

	newOutputs := []io.Writer{}
	for _, output := range globalLogger.outputs {
		if output != w {
			newOutputs = append(newOutputs, output)
		}
	}
	globalLogger.outputs = newOutputs
	return nil
}

// SetEnabled enables or disables logging.
// Returns an error if called before Init.
func SetEnabled(enabled bool) error {
	if globalLogger == nil {
		return errNotInitialized
	}
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()
	globalLogger.enabled = enabled
	return nil
}

// SetLevel changes the minimum level, e.g. "debug" or "warn".
func SetLevel(level string) error {
	if globalLogger == nil {
		return errNotInitialized
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	globalLogger.level.SetLevel(lvl)
	return nil
}

// L returns the root logger. Before Init it discards everything.
func L() *zap.SugaredLogger {
	if globalLogger == nil {
		return zap.NewNop().Sugar()
	}
	return globalLogger.zl.Sugar()
}

// Named returns a child logger; node loggers are named after their endpoint.
func Named(name string) *zap.SugaredLogger {
	return L().Named(name)
}

// Sync flushes the root logger.
func Sync() error {
	if globalLogger == nil {
		return nil
	}
	return globalLogger.zl.Sync()
}

// Infof logs an info-level formatted message
func Infof(format string, v ...any) {
	L().Infof(format, v...)
}

// Errorf logs an error-level formatted message
func Errorf(format string, v ...any) {
	L().Errorf(format, v...)
}

func prefix() string {
	if globalLogger == nil {
		return ""
	}
	return globalLogger.prefix
}
