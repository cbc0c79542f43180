package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rl1809/fish-market/internal/core/domain"
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Role    string
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 bearer tokens carrying sub and role claims.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

func (v *TokenVerifier) Verify(raw string) (Principal, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if c.Subject == "" {
		return Principal{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}
	if c.Role != RoleCustomer && c.Role != RoleAdmin {
		return Principal{}, fmt.Errorf("%w: unknown role %q", domain.ErrUnauthorized, c.Role)
	}
	return Principal{Subject: c.Subject, Role: c.Role}, nil
}

// Issue signs a token for subject. ttl <= 0 issues a token without expiry.
func (v *TokenVerifier) Issue(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}

// bearerToken extracts the token from an "Authorization: Bearer x" value.
func bearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: missing bearer token", domain.ErrUnauthorized)
	}
	return strings.TrimSpace(token), nil
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// authorizeCustomer allows admins and the customer addressing their own data.
func authorizeCustomer(ctx context.Context, customerID string) error {
	p, ok := principalFrom(ctx)
	if !ok {
		return domain.ErrUnauthorized
	}
	if p.IsAdmin() || p.Subject == customerID {
		return nil
	}
	return fmt.Errorf("%w: cannot access another customer's data", domain.ErrForbidden)
}

func authorizeAdmin(ctx context.Context) error {
	p, ok := principalFrom(ctx)
	if !ok {
		return domain.ErrUnauthorized
	}
	if !p.IsAdmin() {
		return fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	return nil
}

// Authenticate rejects requests without a valid bearer token.
func (h *HTTPHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r.Header.Get("Authorization"))
		if err == nil {
			var p Principal
			if p, err = h.verifier.Verify(token); err == nil {
				next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
				return
			}
		}
		h.writeError(w, r, err)
	})
}

// RequireAdmin must run after Authenticate.
func (h *HTTPHandler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := authorizeAdmin(r.Context()); err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
