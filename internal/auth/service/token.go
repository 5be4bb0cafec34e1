package service

import (
	"time"

	"github.com/opendenkaru/emr-auth/internal/auth/domain"
	"github.com/opendenkaru/emr-auth/pkg/cryptox"
	"github.com/opendenkaru/emr-auth/pkg/jwtx"
)

// TokenService mints and verifies the JWT pairs issued by login and refresh.
// Both tokens are RS256 JWTs; the refresh token additionally carries the
// session ID so it can be pinned to a session row by fingerprint.
type TokenService struct {
	KeyManager *jwtx.KeyManager
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func NewTokenService(km *jwtx.KeyManager, issuer string, accessTTL, refreshTTL time.Duration) *TokenService {
	if accessTTL <= 0 {
		accessTTL = jwtx.DefaultAccessTokenTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = jwtx.DefaultRefreshTokenTTL
	}
	return &TokenService{
		KeyManager: km,
		Issuer:     issuer,
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
	}
}

// MintPair signs a fresh access/refresh pair for a session. It returns the
// pair plus the refresh token's fingerprint, which the caller stores on the
// session row so reuse of a rotated-out token can be detected.
func (s *TokenService) MintPair(
	a domain.Account,
	permissions []string,
	mfaVerified bool,
	sessionID string,
	now time.Time,
) (*domain.TokenPair, string, error) {
	access, err := s.MintAccess(a, permissions, mfaVerified, sessionID, now)
	if err != nil {
		return nil, "", err
	}

	refresh, err := s.KeyManager.Signer.Sign(
		jwtx.NewRefreshClaims(a.ID, sessionID, s.Issuer, s.RefreshTTL, now))
	if err != nil {
		return nil, "", err
	}

	pair := &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    s.AccessTTL,
	}
	return pair, cryptox.FingerprintToken(refresh), nil
}

// MintAccess signs a new access token only, reusing an existing session.
func (s *TokenService) MintAccess(
	a domain.Account,
	permissions []string,
	mfaVerified bool,
	sessionID string,
	now time.Time,
) (string, error) {
	claims := jwtx.NewAccessClaims(a.ID, permissions, mfaVerified, s.Issuer, s.AccessTTL, now)
	claims.SessionID = sessionID
	return s.KeyManager.Signer.Sign(claims)
}

// VerifyAccess validates an access token and returns its claims.
func (s *TokenService) VerifyAccess(token string) (jwtx.Claims, error) {
	return s.KeyManager.Verifier.Verify(token, jwtx.TokenTypeAccess)
}

// VerifyRefresh validates a refresh token and returns its claims. The caller
// still has to check the claims against the stored session.
func (s *TokenService) VerifyRefresh(token string) (jwtx.Claims, error) {
	return s.KeyManager.Verifier.Verify(token, jwtx.TokenTypeRefresh)
}
