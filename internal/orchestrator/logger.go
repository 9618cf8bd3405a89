package orchestrator

import "log"

// Logger is the minimal logging interface the orchestrator writes to.
type Logger interface {
	Logf(format string, args ...any)
}

// stdLogger writes to the standard library logger with a fixed prefix.
type stdLogger struct{}

func (stdLogger) Logf(format string, args ...any) {
	log.Printf("[orchestrator] "+format, args...)
}

// nopLogger discards all output. Used in tests.
type nopLogger struct{}

func (nopLogger) Logf(string, ...any) {}
