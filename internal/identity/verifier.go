// Package identity authenticates the application user behind a request from
// the identity provider's session token.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"shopauth/pkg/config"
	"shopauth/pkg/sentinel"
)

// Claims is the subset of the provider's session token we rely on.
type Claims struct {
	jwt.RegisteredClaims

	// SessionID is the provider-side session the token was minted for.
	SessionID string `json:"sid,omitempty"`
}

// User is an authenticated application user.
type User struct {
	ID        string
	SessionID string
	ExpiresAt time.Time
}

// SessionChecker confirms a provider session is still active server-side.
type SessionChecker interface {
	CheckSession(ctx context.Context, sessionID, userID string) error
}

// Verifier checks session tokens (HS256 with a shared secret or RS256 with the
// provider's public key) and optionally asks the provider whether the session
// is still active.
type Verifier struct {
	method  string
	key     any
	issuer  string
	checker SessionChecker
	now     func() time.Time
}

type VerifierOption func(*Verifier)

func WithSessionChecker(c SessionChecker) VerifierOption {
	return func(v *Verifier) { v.checker = c }
}

func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier builds a Verifier from cfg. The RS256 public key wins when both
// a key and a secret are configured.
func NewVerifier(cfg config.IdentityConfig, opts ...VerifierOption) (*Verifier, error) {
	v := &Verifier{issuer: cfg.Issuer, now: time.Now}

	switch {
	case strings.TrimSpace(cfg.JWTPublicKeyPEM) != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.JWTPublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parse identity public key: %w", err)
		}
		v.method, v.key = jwt.SigningMethodRS256.Alg(), key
	case cfg.JWTSecret != "":
		v.method, v.key = jwt.SigningMethodHS256.Alg(), []byte(cfg.JWTSecret)
	default:
		return nil, errors.New("identity: IDENTITY_JWT_PUBLIC_KEY or IDENTITY_JWT_SECRET is required")
	}

	if cfg.ProviderAPIURL != "" {
		v.checker = NewProviderClient(cfg.ProviderAPIURL, cfg.ProviderSecretKey)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Verify returns the user the token was issued to. Every failure wraps
// sentinel.ErrUnauthenticated; provider outages also wrap
// sentinel.ErrUnavailable so callers can answer 503 instead of 401.
func (v *Verifier) Verify(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, fmt.Errorf("missing session token: %w", sentinel.ErrUnauthenticated)
	}

	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.method}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		popts = append(popts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	tok, err := jwt.NewParser(popts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("verify session token: %w: %w", sentinel.ErrUnauthenticated, err)
	}
	if !tok.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("session token without subject: %w", sentinel.ErrUnauthenticated)
	}

	if v.checker != nil {
		if claims.SessionID == "" {
			return nil, fmt.Errorf("session token without sid: %w", sentinel.ErrUnauthenticated)
		}
		if err := v.checker.CheckSession(ctx, claims.SessionID, claims.Subject); err != nil {
			return nil, err
		}
	}

	return &User{
		ID:        claims.Subject,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
