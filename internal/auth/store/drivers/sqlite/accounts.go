package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/opendenkaru/emr-auth/internal/auth/domain"
	"github.com/opendenkaru/emr-auth/internal/auth/store"
)

type accountsRepo struct {
	db dbtx
}

const accountColumns = `id, username, email, full_name, password_hash, password_changed_at,
	failed_login_attempts, locked_until, mfa_enabled, mfa_secret,
	is_active, is_verified, last_login_at, role_id, created_at, updated_at`

func scanAccount(row *sql.Row) (domain.Account, error) {
	var (
		a           domain.Account
		lockedUntil sql.NullTime
		mfaSecret   sql.NullString
		lastLoginAt sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.Username, &a.Email, &a.FullName, &a.PasswordHash, &a.PasswordChangedAt,
		&a.FailedLoginAttempts, &lockedUntil, &a.MFAEnabled, &mfaSecret,
		&a.IsActive, &a.IsVerified, &lastLoginAt, &a.RoleID, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Account{}, mapNotFound(err)
	}
	a.LockedUntil = mapNullTimePtr(lockedUntil)
	a.MFASecret = mapNullStringPtr(mfaSecret)
	a.LastLoginAt = mapNullTimePtr(lastLoginAt)
	return a, nil
}

func (r *accountsRepo) GetAccountByID(ctx context.Context, id string) (domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func (r *accountsRepo) GetAccountByUsername(ctx context.Context, username string) (domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username)
	return scanAccount(row)
}

func (r *accountsRepo) CreateAccount(ctx context.Context, a domain.Account) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, username, email, full_name, password_hash, password_changed_at,
			mfa_secret, is_active, is_verified, role_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Username, a.Email, a.FullName, a.PasswordHash, now,
		mapOptionalString(a.MFASecret), a.IsActive, a.IsVerified, a.RoleID, now, now,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *accountsRepo) UpdatePasswordHash(ctx context.Context, accountID string, newHash string) error {
	now := time.Now().UTC()
	return r.exec(ctx, `
		UPDATE accounts SET password_hash = ?, password_changed_at = ?, updated_at = ?
		WHERE id = ?`,
		newHash, now, now, accountID,
	)
}

func (r *accountsRepo) RecordLoginFailure(ctx context.Context, accountID string, maxAttempts int, lockFor time.Duration) (int, error) {
	now := time.Now().UTC()
	lockedUntil := now.Add(lockFor)

	// Increment and lock in one statement so concurrent failures can't race
	// past the threshold.
	row := r.db.QueryRowContext(ctx, `
		UPDATE accounts SET
			failed_login_attempts = failed_login_attempts + 1,
			locked_until = CASE
				WHEN failed_login_attempts + 1 >= ? THEN ?
				ELSE locked_until
			END,
			updated_at = ?
		WHERE id = ?
		RETURNING failed_login_attempts`,
		maxAttempts, lockedUntil, now, accountID,
	)

	var attempts int
	if err := row.Scan(&attempts); err != nil {
		return 0, mapNotFound(err)
	}
	return attempts, nil
}

func (r *accountsRepo) RecordLoginSuccess(ctx context.Context, accountID string) error {
	now := time.Now().UTC()
	return r.exec(ctx, `
		UPDATE accounts SET
			failed_login_attempts = 0,
			locked_until = NULL,
			last_login_at = ?,
			updated_at = ?
		WHERE id = ?`,
		now, now, accountID,
	)
}

func (r *accountsRepo) UpdateMFASecret(ctx context.Context, accountID string, secret string) error {
	return r.exec(ctx,
		`UPDATE accounts SET mfa_secret = ?, updated_at = ? WHERE id = ?`,
		secret, time.Now().UTC(), accountID,
	)
}

func (r *accountsRepo) EnableMFA(ctx context.Context, accountID string) error {
	return r.exec(ctx,
		`UPDATE accounts SET mfa_enabled = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), accountID,
	)
}

func (r *accountsRepo) DisableMFA(ctx context.Context, accountID string) error {
	return r.exec(ctx,
		`UPDATE accounts SET mfa_enabled = 0, mfa_secret = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), accountID,
	)
}

func (r *accountsRepo) SetActive(ctx context.Context, accountID string, active bool) error {
	return r.exec(ctx,
		`UPDATE accounts SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), accountID,
	)
}

func (r *accountsRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

// exec runs an UPDATE that must match exactly one account row.
func (r *accountsRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
