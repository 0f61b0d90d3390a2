package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"shopauth/internal/identity"
	"shopauth/pkg/sentinel"
	"shopauth/pkg/shopify"
)

// Authenticator resolves a session token to the application user.
type Authenticator interface {
	Verify(ctx context.Context, token string) (*identity.User, error)
}

// RequireSession authenticates the caller from the identity session cookie,
// falling back to `Authorization: Bearer <token>`, and stores the user in the
// request context.
func RequireSession(auth Authenticator, cookieName string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionToken(r, cookieName)
			if token == "" {
				WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing session token")
				return
			}

			u, err := auth.Verify(r.Context(), token)
			if err != nil {
				if errors.Is(err, sentinel.ErrUnavailable) {
					logger.ErrorContext(r.Context(), "identity provider unavailable", "error", err)
					WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "identity provider unavailable")
					return
				}
				logger.DebugContext(r.Context(), "session token rejected", "error", err)
				WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid session token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

// SessionToken returns the caller's session token, or "" when none was sent.
func SessionToken(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

// ShopFromRequest reads the target shop from `X-Shop-Domain` or `?shop=`.
func ShopFromRequest(r *http.Request) (string, error) {
	s := r.Header.Get("X-Shop-Domain")
	if strings.TrimSpace(s) == "" {
		s = r.URL.Query().Get("shop")
	}
	s = shopify.NormalizeShopDomain(s)
	if s == "" {
		return "", errors.New("missing shop domain")
	}
	if !shopify.ValidShopDomain(s) {
		return "", shopify.ErrInvalidShop
	}
	return s, nil
}
