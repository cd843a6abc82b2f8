package logx

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stderr, useColor())
)

// detecta color mode
func useColor() bool {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = os.Getenv("ENV")
	}
	return env == "local" || env == "dev"
}

func newLogger(w io.Writer, console bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// SetOutput redirects all component logs to w. Console formatting is
// kept when console is true.
func SetOutput(w io.Writer, console bool) {
	l := newLogger(w, console)
	mu.Lock()
	logger = l
	mu.Unlock()
}

// SetLevel sets the global level from its name (trace, debug, info,
// warn, error). Unknown names fall back to info.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// --- Public API ---

func Debug(component, msg string, args ...any) {
	logGeneric(zerolog.DebugLevel, "", component, msg, args...)
}

func Info(component, msg string, args ...any) {
	logGeneric(zerolog.InfoLevel, "", component, msg, args...)
}

func Warn(component, msg string, args ...any) {
	logGeneric(zerolog.WarnLevel, "", component, msg, args...)
}

func Error(component, msg string, args ...any) {
	logGeneric(zerolog.ErrorLevel, "", component, msg, args...)
}

// L logs at info level tagged with a request id.
func L(id, component, msg string, args ...any) {
	logGeneric(zerolog.InfoLevel, id, component, msg, args...)
}

// LError is L at error level.
func LError(id, component, msg string, args ...any) {
	logGeneric(zerolog.ErrorLevel, id, component, msg, args...)
}

// G logs startup messages that belong to no request.
func G(component, msg string, args ...any) {
	logGeneric(zerolog.InfoLevel, "", component, msg, args...)
}

// --- Core ---

func logGeneric(level zerolog.Level, id, component, msg string, args ...any) {
	l := current()
	ev := l.WithLevel(level)
	if ev == nil {
		return
	}
	ev = ev.Str("component", component)
	if id != "" {
		ev = ev.Str("id", id)
	}
	ev.Msgf(msg, args...)
}
