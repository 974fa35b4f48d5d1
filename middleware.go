package pathacl

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// ============================================================================
// HTTP MIDDLEWARE
// ============================================================================

type decisionContextKey struct{}

// ContextWithDecision returns a context carrying the decision.
func ContextWithDecision(ctx context.Context, decision *Decision) context.Context {
	return context.WithValue(ctx, decisionContextKey{}, decision)
}

// DecisionFromContext extracts the decision stored by the middleware.
func DecisionFromContext(ctx context.Context) (*Decision, bool) {
	decision, ok := ctx.Value(decisionContextKey{}).(*Decision)
	return decision, ok
}

// MiddlewareOptions configures the net/http authorization middleware. The
// Identity extractor is supplied by the application; session and token
// handling are out of scope here.
type MiddlewareOptions struct {
	Resolver          *Resolver
	Identity          func(r *http.Request) Identity
	SkipPrefixes      []string
	OnUnauthenticated func(w http.ResponseWriter, r *http.Request)
	OnDenied          func(w http.ResponseWriter, r *http.Request, decision *Decision)
	OnError           func(w http.ResponseWriter, r *http.Request, err error)
}

// DefaultMiddlewareOptions returns plain-text handlers for the three outcome
// hooks but leaves the Identity extractor nil so callers must provide one.
func DefaultMiddlewareOptions() *MiddlewareOptions {
	return &MiddlewareOptions{
		OnUnauthenticated: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("authentication required"))
		},
		OnDenied: func(w http.ResponseWriter, r *http.Request, decision *Decision) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("forbidden"))
		},
		OnError: func(w http.ResponseWriter, r *http.Request, err error) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("internal error"))
		},
	}
}

// NewHTTPMiddleware returns a handler wrapper that authorizes each request
// path against the resolver. Paths under a skip prefix bypass the check so
// login and static routes stay reachable.
func NewHTTPMiddleware(opts *MiddlewareOptions) func(next http.Handler) http.Handler {
	if opts == nil {
		opts = DefaultMiddlewareOptions()
	}
	defaults := DefaultMiddlewareOptions()
	if opts.OnUnauthenticated == nil {
		opts.OnUnauthenticated = defaults.OnUnauthenticated
	}
	if opts.OnDenied == nil {
		opts.OnDenied = defaults.OnDenied
	}
	if opts.OnError == nil {
		opts.OnError = defaults.OnError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if path == "" {
				path = "/"
			}
			for _, prefix := range opts.SkipPrefixes {
				if strings.HasPrefix(path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			if opts.Resolver == nil {
				next.ServeHTTP(w, r)
				return
			}
			if opts.Identity == nil {
				opts.OnError(w, r, fmt.Errorf("middleware misconfigured: Identity extractor is required"))
				return
			}

			id := opts.Identity(r)
			if id.Email == "" {
				opts.OnUnauthenticated(w, r)
				return
			}

			decision, err := opts.Resolver.Authorize(id, path)
			if err != nil {
				opts.OnError(w, r, err)
				return
			}
			r = r.WithContext(ContextWithDecision(r.Context(), decision))

			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			opts.OnDenied(w, r, decision)
		})
	}
}
