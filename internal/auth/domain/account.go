package domain

import "time"

type Account struct {
	ID                  string
	Username            string
	Email               string
	FullName            string
	PasswordHash        string // argon2 encoded
	PasswordChangedAt   time.Time
	FailedLoginAttempts int
	LockedUntil         *time.Time // Lockout expiry (nullable)
	MFAEnabled          bool
	MFASecret           *string // TOTP secret (nullable, base32 encoded)
	IsActive            bool
	IsVerified          bool
	LastLoginAt         *time.Time
	RoleID              string // Foreign key to roles table
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Locked reports whether the account is under an active lockout at now.
func (a *Account) Locked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}
