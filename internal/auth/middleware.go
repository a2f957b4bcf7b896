package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// PrincipalContextKey is the key for storing the authenticated caller in context
	PrincipalContextKey contextKey = "principal"
)

// SessionValidator is the slice of the session service the middleware needs
type SessionValidator interface {
	ValidateSession(ctx context.Context, id string) (*models.Session, error)
	TokenMatches(session *models.Session, rawToken string) bool
	TouchActivity(id string)
}

// SessionAuth validates the bearer token, the session it names, and that the
// token is the credential bound to that session
func SessionAuth(tm *TokenManager, sessions SessionValidator, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				pkghttp.WriteUnauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				pkghttp.WriteUnauthorized(w, "invalid authorization header format")
				return
			}
			tokenString := parts[1]

			claims, err := tm.ValidateToken(tokenString)
			if err != nil {
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			session, err := sessions.ValidateSession(r.Context(), claims.SessionID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteUnauthorized(w, "session has ended")
					return
				}
				logger.Error("failed to validate session",
					slog.String("session_id", claims.SessionID),
					slog.Any("error", err))
				pkghttp.WriteInternalError(w, "unable to verify session")
				return
			}

			// A token minted for one session must never open another
			if session.CustomerID != claims.CustomerID || !sessions.TokenMatches(session, tokenString) {
				logger.Warn("token does not match session",
					slog.String("session_id", claims.SessionID))
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			sessions.TouchActivity(session.ID)

			principal := &models.Principal{
				CustomerID: claims.CustomerID,
				Email:      claims.Email,
				SessionID:  session.ID,
			}
			ctx := context.WithValue(r.Context(), PrincipalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated caller from request context
func GetPrincipal(r *http.Request) *models.Principal {
	p, ok := r.Context().Value(PrincipalContextKey).(*models.Principal)
	if !ok {
		return nil
	}
	return p
}

// WithPrincipal returns a copy of ctx carrying p
func WithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}
