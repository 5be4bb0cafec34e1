package jwtx

import (
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is the single error surfaced for every verification
// failure: bad signature, expiry, malformed compact form, wrong type, wrong
// algorithm. Callers must not learn which check failed, so a rejected token
// gives an attacker no oracle to probe.
var ErrInvalidToken = errors.New("jwtx: invalid token")

// Verifier validates JWTs against the service's RSA public key. Only RS256
// is accepted; a token claiming any other algorithm (including "none") fails
// before signature checking.
type Verifier struct {
	pub    *rsa.PublicKey
	issuer string
	leeway time.Duration
}

// NewVerifier builds a Verifier for the given public key. Leeway is the
// clock-skew tolerance applied to exp/nbf/iat comparisons; zero keeps the
// library's strict UTC comparison.
func NewVerifier(pub *rsa.PublicKey, issuer string, leeway time.Duration) *Verifier {
	return &Verifier{pub: pub, issuer: issuer, leeway: leeway}
}

// Verify parses and validates the token, requiring the exp, iat, sub and
// type claims and the expected token type. Every failure collapses into
// ErrInvalidToken.
func (v *Verifier) Verify(tokenStr, expectedType string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(v.leeway))
	}

	parser := jwt.NewParser(opts...)

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return v.pub, nil
	})
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	// Required claims beyond what the parser enforces.
	if claims.Subject == "" || claims.IssuedAt == nil || claims.Type == "" {
		return Claims{}, ErrInvalidToken
	}

	// Token-type isolation: a refresh token must never pass where an
	// access token is expected, even with a valid signature.
	if claims.Type != expectedType {
		return Claims{}, ErrInvalidToken
	}

	return *claims, nil
}
