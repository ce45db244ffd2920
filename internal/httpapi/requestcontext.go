package httpapi

import "context"

type contextKey string

const requestContextKey contextKey = "feen.requestContext"

// RequestContext is the caller identity resolved once by the identity
// middleware and threaded through context.Context, grounded on the
// teacher's WithUser/UserFromContext pattern rather than a process-global.
type RequestContext struct {
	CallerUserID string
	CallerRoles  []string
}

// WithRequestContext returns a copy of ctx carrying rc.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// RequestContextFrom retrieves the RequestContext stashed by the identity
// middleware. ok is false for routes that never ran that middleware (the
// proxy surface authenticates via the shared-token policy evaluator instead).
func RequestContextFrom(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey).(*RequestContext)
	return rc, ok
}

// HasRole reports whether the caller was tagged with role.
func (rc *RequestContext) HasRole(role string) bool {
	for _, r := range rc.CallerRoles {
		if r == role {
			return true
		}
	}
	return false
}
