package domain

import "time"

// Session models a stored login session. Each refresh token JWT carries the
// session ID as its sid claim, and RefreshTokenHash pins the currently valid
// refresh token to the row so a rotated-out token can be detected on reuse.
type Session struct {
	ID               string
	UserID           string
	RefreshTokenHash string // deterministic fingerprint (base64url SHA-256)
	IPAddress        string
	UserAgent        string
	ExpiresAt        time.Time
	LastAccessedAt   time.Time
	IsActive         bool
	RevokedAt        *time.Time
	CreatedAt        time.Time
}

// Live reports whether the session can still mint access tokens at now.
func (s *Session) Live(now time.Time) bool {
	return s.IsActive && s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
