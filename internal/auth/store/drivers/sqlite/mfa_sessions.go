package sqlite

import (
	"context"
	"time"

	"github.com/opendenkaru/emr-auth/internal/auth/domain"
)

type mfaSessionsRepo struct {
	db dbtx
}

func (r *mfaSessionsRepo) CreateMFASession(ctx context.Context, s domain.MFASession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mfa_sessions (id, user_id, ip_address, user_agent, attempts, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.IPAddress, s.UserAgent, s.Attempts, s.CreatedAt, s.ExpiresAt,
	)
	return err
}

func (r *mfaSessionsRepo) GetMFASession(ctx context.Context, mfaToken string) (domain.MFASession, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, ip_address, user_agent, attempts, created_at, expires_at
		FROM mfa_sessions WHERE id = ? AND expires_at > ?`,
		mfaToken, time.Now().UTC(),
	)

	var s domain.MFASession
	err := row.Scan(&s.ID, &s.UserID, &s.IPAddress, &s.UserAgent, &s.Attempts, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		return domain.MFASession{}, mapNotFound(err)
	}
	return s, nil
}

func (r *mfaSessionsRepo) IncrementMFASessionAttempts(ctx context.Context, mfaToken string) (domain.MFASession, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE mfa_sessions SET attempts = attempts + 1
		WHERE id = ?
		RETURNING id, user_id, ip_address, user_agent, attempts, created_at, expires_at`,
		mfaToken,
	)

	var s domain.MFASession
	err := row.Scan(&s.ID, &s.UserID, &s.IPAddress, &s.UserAgent, &s.Attempts, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		return domain.MFASession{}, mapNotFound(err)
	}
	return s, nil
}

func (r *mfaSessionsRepo) DeleteMFASession(ctx context.Context, mfaToken string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM mfa_sessions WHERE id = ?`, mfaToken)
	return err
}

func (r *mfaSessionsRepo) DeleteExpiredMFASessions(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM mfa_sessions WHERE expires_at <= ?`, time.Now().UTC())
	return err
}
