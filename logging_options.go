package pathacl

import "github.com/oarkflow/pathacl/logger"

// Logger is re-exported so callers can supply implementations without
// importing the logger package directly.
type Logger = logger.Logger

// WithLogger attaches a structured logger to the resolver. Reload outcomes
// are logged; the query path stays silent.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) error {
		if l != nil {
			r.logger = l
		}
		return nil
	}
}

// WithTraceIDFunc sets the generator used to stamp trace IDs onto Explain
// decisions.
func WithTraceIDFunc(fn logger.TraceIDFunc) Option {
	return func(r *Resolver) error {
		r.traceIDFunc = fn
		return nil
	}
}
