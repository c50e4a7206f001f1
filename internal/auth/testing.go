package auth

import (
	"crypto/rsa"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// NewTestClaims creates claims with the given subject, email and
// permissions. This is primarily for testing purposes.
func NewTestClaims(subject, email string, permissions ...string) *TokenClaims {
	return &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
		Email:            email,
		Permissions:      permissions,
	}
}

// NewStaticVerifier creates a verifier that trusts a single public key
// instead of fetching a JWKS. This is primarily for testing purposes.
func NewStaticVerifier(issuer, audience string, key *rsa.PublicKey) *Verifier {
	return newVerifier(issuer, audience, func(*jwt.Token) (any, error) {
		return key, nil
	})
}

// SignTestToken signs claims with key as an RS256 token issued by issuer,
// valid for one hour. This is primarily for testing purposes.
func SignTestToken(key *rsa.PrivateKey, issuer string, claims *TokenClaims) (string, error) {
	claims.Issuer = issuer
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}
