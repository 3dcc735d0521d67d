// Package sklogimpl defines the interface for the logger that sklog routes
// to, along with the level filter and entry-length cap applied before any
// sink sees a message.
package sklogimpl

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type Severity int

const (
	Debug Severity = iota
	Info
	Warning
	Error
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	}
	return "UNKNOWN"
}

// SeverityFromString maps the config logger.level strings onto a Severity.
// "notset" logs everything.
func SeverityFromString(s string) (Severity, error) {
	switch s {
	case "notset", "debug":
		return Debug, nil
	case "info", "":
		return Info, nil
	case "warning":
		return Warning, nil
	case "error":
		return Error, nil
	case "critical":
		return Fatal, nil
	}
	return Info, fmt.Errorf("unknown log level %q", s)
}

// Logger is a sink for log entries. Implementations must be goroutine-safe.
type Logger interface {
	// Log formats the message (fmt == "" means fmt.Sprint) and records it.
	// depth is how many stack frames to skip when attributing the call site.
	Log(depth int, severity Severity, fmt string, args ...interface{})

	// Flush blocks until buffered entries are written.
	Flush()
}

var (
	mtx      sync.RWMutex
	loggers  []Logger
	minLevel atomic.Int32

	// maxEntryLength caps the formatted message length. <= 0 means unlimited.
	maxEntryLength atomic.Int32
)

// SetLogger replaces all registered sinks with the given one.
func SetLogger(l Logger) {
	mtx.Lock()
	defer mtx.Unlock()
	loggers = []Logger{l}
}

// AddLogger registers an additional sink, e.g. a log file or a chat webhook
// next to stderr.
func AddLogger(l Logger) {
	mtx.Lock()
	defer mtx.Unlock()
	loggers = append(loggers, l)
}

// SetMinLogLevel drops all entries below the given severity.
func SetMinLogLevel(s Severity) {
	minLevel.Store(int32(s))
}

// SetMaxEntryLength truncates formatted messages to n bytes. n <= 0 removes
// the cap.
func SetMaxEntryLength(n int) {
	maxEntryLength.Store(int32(n))
}

// Truncate applies the configured entry-length cap to msg.
func Truncate(msg string) string {
	n := int(maxEntryLength.Load())
	if n > 0 && len(msg) > n {
		return msg[:n]
	}
	return msg
}

// Log dispatches one entry to every registered sink, applying the level
// filter. Fatal entries flush all sinks before the process exits; the exit
// itself is the responsibility of the sink handling Fatal.
func Log(depth int, severity Severity, format string, args ...interface{}) {
	if int32(severity) < minLevel.Load() {
		return
	}
	mtx.RLock()
	defer mtx.RUnlock()
	for _, l := range loggers {
		l.Log(depth+1, severity, format, args...)
	}
}

// Flush flushes every registered sink.
func Flush() {
	mtx.RLock()
	defer mtx.RUnlock()
	for _, l := range loggers {
		l.Flush()
	}
}
