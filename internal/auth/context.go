package auth

import (
	"context"
	"slices"
)

type contextKey int

const (
	claimsKey contextKey = iota
)

// WithClaims returns a context carrying claims.
func WithClaims(ctx context.Context, claims *TokenClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// Claims returns the token claims from context, or nil if not authenticated.
func Claims(ctx context.Context) *TokenClaims {
	claims, _ := ctx.Value(claimsKey).(*TokenClaims)
	return claims
}

// Subject returns the token subject, or "" if not authenticated.
func Subject(ctx context.Context) string {
	if claims := Claims(ctx); claims != nil {
		return claims.Subject
	}
	return ""
}

// Email returns the caller's email, or "" if not available.
func Email(ctx context.Context) string {
	if claims := Claims(ctx); claims != nil {
		return claims.Email
	}
	return ""
}

// Actor names the caller for audit records: email if present, else subject.
func Actor(ctx context.Context) string {
	if email := Email(ctx); email != "" {
		return email
	}
	return Subject(ctx)
}

// IsAuthenticated returns true if the request has valid authentication.
func IsAuthenticated(ctx context.Context) bool {
	return Claims(ctx) != nil
}

// HasPermission checks if the caller holds permission.
func HasPermission(ctx context.Context, permission string) bool {
	claims := Claims(ctx)
	return claims != nil && slices.Contains(claims.Permissions, permission)
}
