package domain

import "time"

// MFASession represents a pending MFA challenge between the password step and
// the TOTP step of a login.
type MFASession struct {
	ID        string // opaque challenge token handed to the client (base64url)
	UserID    string
	IPAddress string
	UserAgent string
	Attempts  int // Failed MFA attempts (capped to prevent brute force)
	CreatedAt time.Time
	ExpiresAt time.Time
}

type MFAEnrollResponse struct {
	Secret  string // Base32 encoded secret for TOTP
	QRCode  string // otpauth:// URL for QR code generation
	Issuer  string // Issuer name (e.g., service name)
	Account string // Account name (e.g., user email)
}
