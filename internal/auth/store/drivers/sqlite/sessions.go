package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/opendenkaru/emr-auth/internal/auth/domain"
	"github.com/opendenkaru/emr-auth/internal/auth/store"
)

type sessionsRepo struct {
	db dbtx
}

const sessionColumns = `id, user_id, refresh_token_hash, ip_address, user_agent,
	expires_at, last_accessed_at, is_active, revoked_at, created_at`

func scanSession(scan func(dest ...any) error) (domain.Session, error) {
	var (
		s         domain.Session
		revokedAt sql.NullTime
	)
	err := scan(
		&s.ID, &s.UserID, &s.RefreshTokenHash, &s.IPAddress, &s.UserAgent,
		&s.ExpiresAt, &s.LastAccessedAt, &s.IsActive, &revokedAt, &s.CreatedAt,
	)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	s.RevokedAt = mapNullTimePtr(revokedAt)
	return s, nil
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, user_id, refresh_token_hash, ip_address, user_agent,
			expires_at, last_accessed_at, is_active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		s.ID, s.UserID, s.RefreshTokenHash, s.IPAddress, s.UserAgent,
		s.ExpiresAt, s.LastAccessedAt, s.CreatedAt,
	)
	return err
}

func (r *sessionsRepo) GetSessionByID(ctx context.Context, id string) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row.Scan)
}

func (r *sessionsRepo) ListActiveSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ? AND is_active = 1 AND revoked_at IS NULL AND expires_at > ?
		ORDER BY created_at DESC`,
		userID, time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *sessionsRepo) TouchSession(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_accessed_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	return err
}

func (r *sessionsRepo) RotateRefreshToken(ctx context.Context, id string, newHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET refresh_token_hash = ?, last_accessed_at = ?
		WHERE id = ? AND is_active = 1 AND revoked_at IS NULL`,
		newHash, time.Now().UTC(), id,
	)
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

func (r *sessionsRepo) RevokeSession(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET is_active = 0, revoked_at = ?
		WHERE id = ? AND revoked_at IS NULL`,
		time.Now().UTC(), id,
	)
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

func (r *sessionsRepo) RevokeAllUserSessions(ctx context.Context, userID string, exceptID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET is_active = 0, revoked_at = ?
		WHERE user_id = ? AND revoked_at IS NULL AND id != ?`,
		time.Now().UTC(), userID, exceptID,
	)
	return err
}

func (r *sessionsRepo) DeleteExpiredSessions(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ?`, time.Now().UTC())
	return err
}
