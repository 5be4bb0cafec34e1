package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type discriminators. Every token carries exactly one; verification
// pins the expected value so an access token can never stand in for a
// refresh token or vice versa.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Default token TTLs. Short-lived access tokens limit the blast radius of a
// leaked bearer token; refresh tokens trade that off for user convenience.
const (
	DefaultAccessTokenTTL  = 30 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Claims are the JWT claims minted by this service. Keep changes additive to
// preserve compatibility with tokens already in the wild.
type Claims struct {
	jwt.RegisteredClaims

	// Type discriminates access tokens from refresh tokens.
	Type string `json:"type"`

	// Permissions is the permission snapshot for access tokens, resolved
	// from the account's role at mint time.
	Permissions []string `json:"permissions,omitempty"`

	// MFAVerified records whether a second factor was presented for this
	// session. Downstream policy can require it for sensitive operations.
	MFAVerified bool `json:"mfa,omitempty"`

	// SessionID binds a token to its session row. Refresh verification
	// requires it; access tokens carry it so session-scoped operations know
	// which session the caller is on.
	SessionID string `json:"sid,omitempty"`
}

// NewAccessClaims builds claims for a short-lived access token.
func NewAccessClaims(
	subject string,
	permissions []string,
	mfaVerified bool,
	issuer string,
	ttl time.Duration,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Type:        TokenTypeAccess,
		Permissions: permissions,
		MFAVerified: mfaVerified,
	}
}

// NewRefreshClaims builds claims for a long-lived refresh token bound to a
// session.
func NewRefreshClaims(
	subject, sessionID string,
	issuer string,
	ttl time.Duration,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Type:      TokenTypeRefresh,
		SessionID: sessionID,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim. The jti
// exists so a future revocation list can key on it.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}
