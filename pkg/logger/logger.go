// Package logger is a thin component-tagged facade over zerolog. Every
// message carries a component name so the console output of one process
// mixing channels, agent loop and stores stays greppable.
package logger

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	DEBUG = zerolog.DebugLevel
	INFO  = zerolog.InfoLevel
	WARN  = zerolog.WarnLevel
	ERROR = zerolog.ErrorLevel
)

var (
	mu  sync.RWMutex
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(zerolog.InfoLevel).
		With().Timestamp().Logger()
)

// SetLevel changes the global threshold. DEBUG enables the per-iteration
// agent loop traces, which are noisy; the default is INFO.
func SetLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	log = log.Level(level)
}

// SetOutput redirects log output. Tests pass an io.Discard-backed writer.
func SetOutput(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func emit(ev *zerolog.Event, component, msg string, fields map[string]interface{}) {
	ev = ev.Str("component", component)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func DebugC(component, msg string) { l := current(); emit(l.Debug(), component, msg, nil) }
func InfoC(component, msg string)  { l := current(); emit(l.Info(), component, msg, nil) }
func WarnC(component, msg string)  { l := current(); emit(l.Warn(), component, msg, nil) }
func ErrorC(component, msg string) { l := current(); emit(l.Error(), component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	l := current()
	emit(l.Debug(), component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	l := current()
	emit(l.Info(), component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	l := current()
	emit(l.Warn(), component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	l := current()
	emit(l.Error(), component, msg, fields)
}
