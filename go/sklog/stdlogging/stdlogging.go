// Package stdlogging implements sklogimpl.Logger and logs to a SyncWriter,
// such as os.Stderr or an opened log file.
package stdlogging

import (
	"fmt"

	logger "github.com/jcgregorio/logger"

	"go.h2hdb.org/infra/go/sklog/sklogimpl"
)

type stdlog struct {
	logger *logger.Logger
}

// New returns a sklogimpl.Logger that writes to a SyncWriter, such as
// os.Stdout or os.Stderr.
func New(dst logger.SyncWriter) sklogimpl.Logger {
	l := logger.NewFromOptions(&logger.Options{
		SyncWriter:   dst,
		DepthDelta:   3,
		IncludeDebug: true,
	})
	return &stdlog{
		logger: l,
	}
}

// Log implements sklogimpl.Logger.
func (s stdlog) Log(_ int, severity sklogimpl.Severity, format string, args ...interface{}) {
	var msg string
	if format == "" {
		msg = fmt.Sprint(args...)
	} else {
		msg = fmt.Sprintf(format, args...)
	}
	msg = sklogimpl.Truncate(msg)
	switch severity {
	case sklogimpl.Debug:
		s.logger.Debug(msg)
	case sklogimpl.Info:
		s.logger.Info(msg)
	case sklogimpl.Warning:
		s.logger.Warning(msg)
	case sklogimpl.Error:
		s.logger.Error(msg)
	case sklogimpl.Fatal:
		s.logger.Fatal(msg)
	default:
		s.logger.Error(msg)
	}
}

// Flush implements sklogimpl.Logger.
func (s stdlog) Flush() {
	// noop
}
