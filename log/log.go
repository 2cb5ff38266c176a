// Package log is the structured logging facade used throughout Conductor.
// It follows the ancestor codebase's calling convention —
// log.Info("message", "key", value, "key2", value2) — backed by logrus.
package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

var root = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: false, DisableTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel sets the minimum level that will be emitted. Valid values are
// "debug", "info", "warn", "error", "crit".
func SetLevel(level string) {
	if level == "crit" {
		root.SetLevel(logrus.FatalLevel)
		return
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	root.SetLevel(lvl)
}

func fields(kv []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		f[key] = kv[i+1]
	}
	return f
}

// Debug logs low-level, high-volume diagnostic events (dropped messages,
// duplicate echoes, cache misses).
func Debug(msg string, kv ...interface{}) { root.WithFields(fields(kv)).Debug(msg) }

// Info logs normal state transitions (epoch advanced, block committed, day
// advanced).
func Info(msg string, kv ...interface{}) { root.WithFields(fields(kv)).Info(msg) }

// Warn logs evidence, blacklist ballots, and other anomaly events that do
// not by themselves break safety or liveness.
func Warn(msg string, kv ...interface{}) { root.WithFields(fields(kv)).Warn(msg) }

// Error logs a failed operation that the caller will retry or otherwise
// recover from.
func Error(msg string, kv ...interface{}) { root.WithFields(fields(kv)).Error(msg) }

// Crit logs an unrecoverable invariant violation and terminates the
// process, matching spec §7's Fatal propagation policy. Callers should
// flush storage before calling Crit where possible.
func Crit(msg string, kv ...interface{}) {
	root.WithFields(fields(kv)).Error(msg)
	os.Exit(1)
}

// New returns a namespaced logger that prefixes every message with a
// component tag, mirroring the ancestor's per-package logger instances.
func New(component string) *Logger {
	return &Logger{entry: root.WithField("component", component)}
}

// Logger is a component-scoped logging handle.
type Logger struct {
	entry *logrus.Entry
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.entry.WithFields(fields(kv)).Debug(msg) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.entry.WithFields(fields(kv)).Info(msg) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.entry.WithFields(fields(kv)).Warn(msg) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.entry.WithFields(fields(kv)).Error(msg) }
func (l *Logger) Crit(msg string, kv ...interface{}) {
	l.entry.WithFields(fields(kv)).Error(msg)
	os.Exit(1)
}
