package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned when a session credential cannot be
// resolved to a user.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is a resolved user session.
type Identity struct {
	UserID string
	Name   string
	Avatar string
}

// SessionResolver turns a session credential into a user identity.
// Session issuance lives elsewhere; the gateway only consumes it.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

// StaticResolver resolves sessions from a fixed token map. Used for
// development and tests.
type StaticResolver map[string]Identity

func (r StaticResolver) Resolve(_ context.Context, token string) (Identity, error) {
	id, ok := r[token]
	if !ok {
		return Identity{}, ErrUnauthorized
	}
	return id, nil
}

// sessionToken extracts the credential from a request: the session
// cookie, or a bearer token as fallback.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie("session"); err == nil && c.Value != "" {
		return c.Value
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

type contextKey int

const identityKey contextKey = 0

// withIdentity stores a resolved identity on the request context.
func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// identityFrom returns the identity stored by the auth middleware.
func identityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// authMiddleware resolves the session on every presence REST request.
func (g *Gateway) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := g.sessions.Resolve(r.Context(), sessionToken(r))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}
