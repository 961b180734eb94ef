// Package identity authenticates users and carries the caller through the
// request context.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/store"
)

type contextKey int

const (
	userKey contextKey = iota
)

var (
	errNoToken      = errors.New("no token provided")
	errUserInactive = errors.New("user not found or inactive")
)

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *domain.User {
	if v, ok := ctx.Value(userKey).(*domain.User); ok {
		return v
	}
	return nil
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if u := UserFromContext(ctx); u != nil {
		return u.ID
	}
	return ""
}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// Authenticator resolves a bearer token to a live, active user.
type Authenticator struct {
	tokens *Tokens
	users  store.UserRepository
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(tokens *Tokens, users store.UserRepository) *Authenticator {
	return &Authenticator{tokens: tokens, users: users}
}

// Authenticate validates the token and re-checks the user's active flag, so
// deactivating a user revokes all their outstanding tokens on next use.
// Every failure wraps domain.ErrUnauthenticated.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, errNoToken)
	}
	claims, err := a.tokens.Validate(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}
	user, err := a.users.GetUser(ctx, claims.UserID())
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil || !user.Active {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, errUserInactive)
	}
	return user, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// Middleware rejects requests without a valid token for an active user and
// injects the user into the request context.
func Middleware(auth *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := auth.Authenticate(r.Context(), BearerToken(r))
			if err != nil {
				if !errors.Is(err, domain.ErrUnauthenticated) {
					slog.Error("Authentication lookup failed", "error", err)
					writeError(w, http.StatusInternalServerError, "Internal Server Error")
					return
				}
				slog.Debug("Rejected request", "path", r.URL.Path, "reason", err)
				writeError(w, http.StatusUnauthorized, unauthenticatedMessage(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireAdmin allows only admin users through. It must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		if user == nil {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		if !user.IsAdmin() {
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthenticatedMessage(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "Session expired, please log in again"
	case errors.Is(err, errNoToken):
		return "No token provided"
	case errors.Is(err, errUserInactive):
		return "User not found or inactive"
	default:
		return "Invalid authentication"
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"message": message}); err != nil {
		slog.Debug("failed to write auth error", "error", err)
	}
}

// IPFromRequest returns a normalized remote IP for rate limiting and tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
