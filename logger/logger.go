package logger

// Logger is the minimal structured logging interface used across the
// module. Implementations accept alternating key/value pairs as variadic
// arguments, which keeps the interface small and easy to fake in tests.
type Logger interface {
	Error(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Debug(msg string, keyvals ...any)
}

// TraceIDFunc generates a correlation ID stamped onto explained decisions.
// It must be cheap and safe for concurrent calls.
type TraceIDFunc func() string
