package service

import (
	"errors"
	"strings"
)

// Sentinel errors surfaced to the HTTP layer. Credential failures collapse
// into ErrInvalidCredentials so a caller cannot distinguish an unknown
// username from a wrong password or a locked account.
var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrInvalidRefresh     = errors.New("invalid_refresh_token")
	ErrTooManyAttempts    = errors.New("too_many_attempts")
	ErrMFANotEnabled      = errors.New("mfa_not_enabled")
	ErrMFAAlreadyEnabled  = errors.New("mfa_already_enabled")
	ErrInvalidMFACode     = errors.New("invalid_mfa_code")
	ErrSessionNotFound    = errors.New("session_not_found")
	ErrAccountExists      = errors.New("account_exists")
)

// MFARequiredError is returned by Login when the password step succeeded but
// the account has a second factor enrolled. It carries the challenge token
// the client must present to CompleteMFALogin.
type MFARequiredError struct {
	MFAToken string
	Methods  []string
}

func (e *MFARequiredError) Error() string { return "mfa_required" }

// PasswordPolicyError reports every rule a candidate password violated, not
// just the first, so the client can show the full list.
type PasswordPolicyError struct {
	Violations []string
}

func (e *PasswordPolicyError) Error() string {
	return "password_policy: " + strings.Join(e.Violations, "; ")
}
