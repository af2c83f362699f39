package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "sponsorship/auth"

// Claims are the JWT claims the service expects. The subject carries the
// caller's account id.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier validates JWT tokens and extracts claims.
type Verifier struct {
	KeySet KeySet
}

// NewVerifier creates a verifier with the given KeySet.
func NewVerifier(ks KeySet) *Verifier {
	if ks == nil {
		return nil
	}
	return &Verifier{KeySet: ks}
}

// Verify parses and validates a JWT token string.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	if v == nil || v.KeySet == nil {
		return nil, fmt.Errorf("verifier uninitialized")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.KeySet.KeyFunc())
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token failed validation")
	}
	return claims, nil
}

// MintToken issues a signed token for the given account. Used by the
// operator tooling to create credentials for submitters and the owner.
func MintToken(ctx context.Context, ks KeySet, account AccountID, ttl time.Duration) (string, error) {
	if err := account.Validate(); err != nil {
		return "", err
	}
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    tokenIssuer,
		},
	}
	return ks.Sign(ctx, claims)
}

// publicPaths can be hit without a token, so probes and load balancers
// need no credentials.
var publicPaths = []string{
	"/healthz",
	"/readyz",
}

// isPublicPath checks if the request should be accessible without auth.
// Read-only queries are open; every mutation requires a token.
func isPublicPath(method, path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	if method == http.MethodGet || method == http.MethodHead {
		return strings.HasPrefix(path, "/v1/")
	}
	return false
}

// RejectFunc writes an authentication failure response.
type RejectFunc func(w http.ResponseWriter, detail string)

// NewMiddleware creates JWT auth middleware. The reject function renders
// the 401 response so this package stays independent of the HTTP error
// vocabulary. If verifier is nil, all protected requests are rejected
// (fail closed).
func NewMiddleware(verifier *Verifier, reject RejectFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			raw := r.Header.Get("Authorization")
			if raw == "" {
				reject(w, "Missing Authorization header")
				return
			}

			tokenStr, ok := strings.CutPrefix(raw, "Bearer ")
			if !ok || tokenStr == "" {
				reject(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			if verifier == nil {
				reject(w, "Authentication not configured")
				return
			}

			claims, err := verifier.Verify(tokenStr)
			if err != nil {
				reject(w, "Invalid or expired token")
				return
			}

			account := AccountID(claims.Subject)
			if err := account.Validate(); err != nil {
				reject(w, "Token subject is not a valid account")
				return
			}

			ctx := WithPrincipal(r.Context(), &BasePrincipal{ID: account})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
