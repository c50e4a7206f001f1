// Package auth verifies bearer JWTs issued by an OIDC provider and exposes
// the caller's identity to handlers.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// PermissionWriteThresholds allows changing the live threshold config.
const PermissionWriteThresholds = "thresholds:write"

// Config holds the identity provider settings.
type Config struct {
	Domain   string // issuer base URL, e.g. "https://auth.example.com"
	Audience string // optional API audience
}

// TokenClaims are the claims cascade reads from an access token.
type TokenClaims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email,omitempty"`
	Name        string   `json:"name,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Verifier checks RS256 tokens against the issuer's JWKS.
type Verifier struct {
	keyfunc  jwt.Keyfunc
	issuer   string
	audience string
}

// NewVerifier creates a verifier that fetches signing keys from
// <Domain>/.well-known/jwks.json and refreshes them in the background.
func NewVerifier(cfg Config) (*Verifier, error) {
	issuer := strings.TrimSuffix(cfg.Domain, "/")
	if issuer == "" {
		return nil, errors.New("auth domain is required")
	}
	jwks, err := keyfunc.NewDefault([]string{issuer + "/.well-known/jwks.json"})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS keyfunc: %w", err)
	}
	return newVerifier(issuer, cfg.Audience, jwks.Keyfunc), nil
}

func newVerifier(issuer, audience string, kf jwt.Keyfunc) *Verifier {
	return &Verifier{keyfunc: kf, issuer: issuer, audience: audience}
}

// Verify validates a token and returns its claims.
func (v *Verifier) Verify(tokenString string) (*TokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, v.keyfunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// claims in the request context.
func Middleware(verifier *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing token")
				return
			}
			claims, err := verifier.Verify(token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequirePermission rejects authenticated requests lacking permission. It
// must run inside Middleware.
func RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsAuthenticated(r.Context()) {
				writeAuthError(w, http.StatusUnauthorized, "missing token")
				return
			}
			if !HasPermission(r.Context(), permission) {
				writeAuthError(w, http.StatusForbidden, "missing permission "+permission)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
