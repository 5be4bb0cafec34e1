package http

import "time"

// Request/response bodies for the auth endpoints. The service is its own
// API surface; no shared SDK package.

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`

	// MFA completion fields. When MFAToken is set the username/password
	// fields are ignored and the request finishes a pending challenge.
	MFAToken string `json:"mfa_token,omitempty"`
	Method   string `json:"method,omitempty"` // "totp" or "backup_codes"
	Code     string `json:"code,omitempty"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
}

type MFARequiredResponse struct {
	MFARequired bool     `json:"mfa_required"`
	MFAToken    string   `json:"mfa_token"`
	Methods     []string `json:"methods"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type MeResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	FullName    string     `json:"full_name"`
	Role        string     `json:"role"`
	Permissions []string   `json:"permissions"`
	MFAEnabled  bool       `json:"mfa_enabled"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

type SessionInfo struct {
	ID             string    `json:"id"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Current        bool      `json:"current"`
}

type TOTPEnrollResponse struct {
	Secret  string `json:"secret"`
	QRCode  string `json:"qr_code"`
	Issuer  string `json:"issuer"`
	Account string `json:"account"`
}

type TOTPVerifyRequest struct {
	Code string `json:"code"`
}

type BackupCodesResponse struct {
	Codes []string `json:"codes"`
}

type MFADisableRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

type HealthChecks struct {
	Database  string `json:"database"`
	RateLimit string `json:"rate_limit"`
}
