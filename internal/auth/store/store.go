package store

import (
	"context"
	"errors"
	"time"

	"github.com/opendenkaru/emr-auth/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite, postgres)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable. We can change having the sub-repos as methods later but we do it
// now so we can have more control and actively stop people from accidently
// doing transactions within transactions.
type Store interface {
	Accounts() Accounts
	Sessions() Sessions
	Roles() Roles
	BackupCodes() BackupCodes
	MFASessions() MFASessions
	AuditEvents() AuditEvents

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// Use it for multi-step operations that must be atomic (e.g., refresh rotation).
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	// This is the recommended way to handle transactions as it automatically
	// handles commit/rollback logic.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources (optional for sqlite).
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Accounts interface {
	// GetAccountByID returns an account by id.
	GetAccountByID(ctx context.Context, id string) (domain.Account, error)

	// GetAccountByUsername is used during the password login step.
	GetAccountByUsername(ctx context.Context, username string) (domain.Account, error)

	// CreateAccount inserts a new account (id is provided by app via ULID).
	CreateAccount(ctx context.Context, a domain.Account) error

	// UpdatePasswordHash sets the password_hash (argon2), stamps
	// password_changed_at and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, accountID string, newHash string) error

	// RecordLoginFailure atomically increments failed_login_attempts and, when
	// the count reaches maxAttempts, sets locked_until. Returns the new count.
	RecordLoginFailure(ctx context.Context, accountID string, maxAttempts int, lockFor time.Duration) (int, error)

	// RecordLoginSuccess clears failed_login_attempts and locked_until and
	// stamps last_login_at.
	RecordLoginSuccess(ctx context.Context, accountID string) error

	// UpdateMFASecret sets the pending TOTP secret for an account.
	UpdateMFASecret(ctx context.Context, accountID string, secret string) error

	// EnableMFA marks MFA as enabled for an account.
	EnableMFA(ctx context.Context, accountID string) error

	// DisableMFA disables MFA for an account (clears mfa_enabled and mfa_secret).
	DisableMFA(ctx context.Context, accountID string) error

	// SetActive flips the is_active flag (admin deactivation).
	SetActive(ctx context.Context, accountID string, active bool) error

	// IsEmpty returns true if there are no accounts.
	IsEmpty(ctx context.Context) (bool, error)
}

type Sessions interface {
	// CreateSession stores a new session record.
	CreateSession(ctx context.Context, s domain.Session) error

	// GetSessionByID returns a session by id regardless of state. Callers
	// decide how to treat revoked or expired rows.
	GetSessionByID(ctx context.Context, id string) (domain.Session, error)

	// ListActiveSessions returns the live sessions for a user, newest first.
	ListActiveSessions(ctx context.Context, userID string) ([]domain.Session, error)

	// TouchSession stamps last_accessed_at.
	TouchSession(ctx context.Context, id string) error

	// RotateRefreshToken swaps the stored refresh token fingerprint on an
	// active session. Used when rotation-on-refresh is enabled.
	RotateRefreshToken(ctx context.Context, id string, newHash string) error

	// RevokeSession flips is_active=0 and stamps revoked_at.
	RevokeSession(ctx context.Context, id string) error

	// RevokeAllUserSessions bulk revocation for a user (e.g., password change,
	// refresh token reuse). exceptID may be empty to revoke everything.
	RevokeAllUserSessions(ctx context.Context, userID string, exceptID string) error

	// DeleteExpiredSessions is optional housekeeping.
	DeleteExpiredSessions(ctx context.Context) error
}

type Roles interface {
	// GetRoleByID fetches a role by its ID
	GetRoleByID(ctx context.Context, id string) (domain.Role, error)

	// GetRoleByName fetches a role by its name (for bootstrap)
	GetRoleByName(ctx context.Context, name string) (domain.Role, error)

	// ListAll returns all roles in the system
	ListAll(ctx context.Context) ([]domain.Role, error)

	// CreateRole inserts a new role (id is ULID)
	CreateRole(ctx context.Context, r domain.Role) error

	// UpdateRolePermissions modifies the permissions for a role
	UpdateRolePermissions(ctx context.Context, roleID string, permissions []string) error

	// IsEmpty returns true if there are no roles
	IsEmpty(ctx context.Context) (bool, error)
}

type BackupCodes interface {
	// CreateBackupCode stores a backup code hash for a user.
	CreateBackupCode(ctx context.Context, userID string, codeHash string) error

	// ConsumeBackupCode marks an unused backup code as used. It returns
	// ErrNotFound when no matching unused code exists, making the check and
	// the burn a single atomic step.
	ConsumeBackupCode(ctx context.Context, userID string, codeHash string) error

	// DeleteAllBackupCodes removes all backup codes for a user.
	DeleteAllBackupCodes(ctx context.Context, userID string) error

	// CountUnusedBackupCodes returns the number of remaining codes for a user.
	CountUnusedBackupCodes(ctx context.Context, userID string) (int, error)
}

type MFASessions interface {
	// CreateMFASession creates a new MFA challenge session.
	CreateMFASession(ctx context.Context, session domain.MFASession) error

	// GetMFASession retrieves an MFA session by its token (only if not expired).
	GetMFASession(ctx context.Context, mfaToken string) (domain.MFASession, error)

	// IncrementMFASessionAttempts increments the failed attempt counter for an
	// MFA session and returns the updated record.
	IncrementMFASessionAttempts(ctx context.Context, mfaToken string) (domain.MFASession, error)

	// DeleteMFASession removes an MFA session by its token.
	DeleteMFASession(ctx context.Context, mfaToken string) error

	// DeleteExpiredMFASessions removes all expired MFA sessions (housekeeping).
	DeleteExpiredMFASessions(ctx context.Context) error
}

type AuditEvents interface {
	// AppendAuditEvent writes an event to the append-only audit log.
	AppendAuditEvent(ctx context.Context, ev domain.AuditEvent) error

	// ListRecentAuditEvents returns the newest events for an actor, capped at
	// limit. Used by the risk scorer to count recent failures.
	ListRecentAuditEvents(ctx context.Context, actorID string, limit int) ([]domain.AuditEvent, error)

	// CountRecentFailures counts failed login events for a subject since the
	// given time. Subject matching lets the count include pre-auth attempts.
	CountRecentFailures(ctx context.Context, subject string, since time.Time) (int, error)
}
