package permbit

import (
	"context"
	"net/http"
	"strings"
)

// Principal is the verified, request-scoped identity every authorization
// decision runs against. It is constructed once per request from a verified
// external token, is immutable afterwards, and must never outlive the
// request or be shared with another one.
type Principal struct {
	Username string
	Admin    bool
	EntityID int64
	Roles    []string
}

// Authenticated reports whether the principal represents a signed-in user.
// A zero entity id is the unauthenticated sentinel.
func (p *Principal) Authenticated() bool {
	return p != nil && p.EntityID != 0
}

// HasRole reports whether the principal holds the named role.
func (p *Principal) HasRole(name string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == name {
			return true
		}
	}
	return false
}

type principalKey struct{}

// WithPrincipal binds a principal to the context for the duration of one
// request. This is the only sanctioned way to carry identity; nothing in
// this package keeps identity in process-global state.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal bound to the context, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}

// TokenVerifier is the identity-propagation contract the transport layer
// implements: verify an opaque token and produce the principal it encodes.
// Token formats and signature schemes are the verifier's own concern.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// AuthMiddleware verifies a bearer token on each inbound request and binds
// the resulting principal to the request context. Requests without a token
// proceed without a principal; the enforcement chain decides whether that is
// acceptable for the intercepted method.
func AuthMiddleware(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token != "" && v != nil {
				if p, err := v.Verify(r.Context(), token); err == nil && p != nil {
					r = r.WithContext(WithPrincipal(r.Context(), p))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
