package domain

import "time"

// Audit actions recorded by the auth service.
const (
	AuditLogin            = "login"
	AuditLoginFailed      = "login_failed"
	AuditAccountLocked    = "account_locked"
	AuditLogout           = "logout"
	AuditTokenRefresh     = "token_refresh"
	AuditTokenReuse       = "refresh_token_reuse"
	AuditPasswordChange   = "password_change"
	AuditMFAEnroll        = "mfa_enroll"
	AuditMFAVerify        = "mfa_verify"
	AuditMFADisable       = "mfa_disable"
	AuditBackupCodeUsed   = "backup_code_used"
	AuditSessionRevoked   = "session_revoked"
	AuditEmergencyAccess  = "emergency_access"
	AuditPHIRecordViewed  = "phi_record_viewed"
	AuditPHIRecordChanged = "phi_record_changed"
)

// AuditEvent is an append-only record of a security-relevant action.
type AuditEvent struct {
	ID         string
	Action     string
	ActorID    string // User ID, or empty for anonymous attempts
	Subject    string // Username or resource the action targeted
	Success    bool
	IPAddress  string
	UserAgent  string
	RiskScore  int  // 0-100 at the time of the event
	PHIAccess  bool // Whether the action touched protected health information
	Detail     string
	OccurredAt time.Time
}
