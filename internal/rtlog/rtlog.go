// Package rtlog is the runtime-wide structured logging facade shared by the
// niocoro, ioloop and monitor packages and cmd/echoserver.
//
// It follows a package-level global-logger pattern (a logger is configured
// once at process startup and read on every log call, defaulting to disabled
// so the runtime is silent until the embedder opts in); ioloop logs through
// it as well. This facade is built directly on logiface+stumpy: the monitor, pool and hook domains all want structured
// key/value fields and leveled output, which is exactly what logiface
// already provides. logiface.Builder is nil-safe (Enabled() guards every
// field/Log call), so a disabled logger costs one pointer check per field
// rather than a branch per call site here.
package rtlog

import (
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

var (
	mu     sync.RWMutex
	logger = stumpy.L.New(
		stumpy.L.WithStumpy(),
		stumpy.L.WithLevel(logiface.LevelDisabled),
	)
)

// SetLogger replaces the package-level logger, e.g. to redirect output or
// change the minimum level. Passing nil restores the disabled default.
func SetLogger(l *logiface.Logger[*stumpy.Event]) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = stumpy.L.New(
			stumpy.L.WithStumpy(),
			stumpy.L.WithLevel(logiface.LevelDisabled),
		)
	}
	logger = l
}

// SetLevel replaces the package-level logger with a fresh default stumpy
// logger at the given minimum level. A writer or other configuration
// installed through SetLogger is not kept. Use logiface.LevelDisabled to
// silence output entirely (the default) or logiface.LevelTrace to see
// everything.
func SetLevel(level logiface.Level) {
	mu.Lock()
	defer mu.Unlock()
	logger = stumpy.L.New(
		stumpy.L.WithStumpy(),
		stumpy.L.WithLevel(level),
	)
}

func current() *logiface.Logger[*stumpy.Event] {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Fields is a convenience alias for a set of key/value pairs attached to a
// single log call.
type Fields map[string]any

func emit(b *logiface.Builder[*stumpy.Event], msg string, fields Fields) {
	for k, v := range fields {
		b.Any(k, v)
	}
	b.Log(msg)
}

// Debug logs a debug-level message with the given fields.
func Debug(msg string, fields Fields) { emit(current().Debug(), msg, fields) }

// Info logs an informational message with the given fields.
func Info(msg string, fields Fields) { emit(current().Info(), msg, fields) }

// Warn logs a warning message with the given fields.
func Warn(msg string, fields Fields) { emit(current().Warning(), msg, fields) }

// Error logs an error-level message, attaching err itself as a field
// alongside the rest.
func Error(msg string, err error, fields Fields) {
	b := current().Err()
	if b.Enabled() && err != nil {
		b.Err(err)
	}
	emit(b, msg, fields)
}
