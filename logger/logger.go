// Package logger defines the minimal structured logging surface the engine
// writes its audit and diagnostics through, with slog and phuslu-style
// backends.
package logger

// Logger accepts alternating key/value pairs as variadic arguments. The
// interface is kept small so tests can swap in a recording implementation.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// TraceIDFunc generates a correlation/trace ID string for each audit line.
// It must be cheap and safe for concurrent calls.
type TraceIDFunc func() string
