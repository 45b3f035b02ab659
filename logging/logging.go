// Package logging configures the process-wide structured logger.
package logging

import (
	"os"
	"time"

	"github.com/phuslu/log"
)

// Configure sets the global phuslu/log logger used by every component.
// debug widens the level to Debug; otherwise components log at Info and
// above, matching the teacher's gin.ReleaseMode/DebugMode split.
func Configure(debug bool) {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}

	log.DefaultLogger = log.Logger{
		Level:      level,
		TimeFormat: time.RFC3339,
		Writer: &log.ConsoleWriter{
			Writer:      os.Stdout,
			ColorOutput: true,
		},
	}
}

// Component returns a logger tagged with the owning component name, so
// every line it writes carries {"component": name, ...}.
func Component(name string) *log.Logger {
	l := log.DefaultLogger
	l.Context = log.NewContext(nil).Str("component", name).Value()
	return &l
}

// Fields is a small convenience for the {userID?, component, kind,
// retryable, elapsed_ms} error-logging contract the matching engine and
// collector scheduler follow.
type Fields struct {
	UserID    string
	Component string
	Kind      string
	Retryable bool
	ElapsedMS int64
}

// LogError writes one structured error line with the standard field set.
func LogError(l *log.Logger, f Fields, err error, msg string) {
	e := l.Error().
		Str("component", f.Component).
		Str("kind", f.Kind).
		Bool("retryable", f.Retryable).
		Int64("elapsed_ms", f.ElapsedMS)
	if f.UserID != "" {
		e = e.Str("user_id", f.UserID)
	}
	e.Err(err).Msg(msg)
}
