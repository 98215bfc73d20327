// Package logger provides the structured logger dforkctl and callers
// that want visibility into a command tree's lifecycle can use. The
// dfork package itself never logs — logging is an opt-in the caller
// wires up, not something the library imposes.
package logger

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is a thread-safe wrapper around a logrus.Logger, scoped to one
// fields context (set once via AddContext).
type Logger struct {
	entry *logrus.Entry
	mu    sync.Mutex
}

// Ctx is a set of structured fields attached to every line a Logger
// emits, e.g. the control fd and pid of the Handle being logged for.
type Ctx map[string]any

// New creates a Logger writing text-formatted lines to w (os.Stderr if
// w is nil).
func New(w *os.File) *Logger {
	if w == nil {
		w = os.Stderr
	}

	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return &Logger{entry: logrus.NewEntry(l)}
}

// AddContext returns a Logger that prepends ctx's fields to every
// subsequent line, without mutating the receiver.
func (lg *Logger) AddContext(ctx Ctx) *Logger {
	return &Logger{entry: lg.entry.WithFields(logrus.Fields(ctx))}
}

func (lg *Logger) log(level logrus.Level, msg string, fields Ctx) {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	entry := lg.entry
	if len(fields) > 0 {
		entry = entry.WithFields(logrus.Fields(fields))
	}

	entry.Log(level, msg)
}

// Debug logs msg at debug level with optional structured fields.
func (lg *Logger) Debug(msg string, fields ...Ctx) { lg.log(logrus.DebugLevel, msg, firstOrNil(fields)) }

// Info logs msg at info level with optional structured fields.
func (lg *Logger) Info(msg string, fields ...Ctx) { lg.log(logrus.InfoLevel, msg, firstOrNil(fields)) }

// Warn logs msg at warn level with optional structured fields.
func (lg *Logger) Warn(msg string, fields ...Ctx) { lg.log(logrus.WarnLevel, msg, firstOrNil(fields)) }

// Error logs msg at error level with optional structured fields.
func (lg *Logger) Error(msg string, fields ...Ctx) { lg.log(logrus.ErrorLevel, msg, firstOrNil(fields)) }

func firstOrNil(fields []Ctx) Ctx {
	if len(fields) == 0 {
		return nil
	}

	return fields[0]
}
