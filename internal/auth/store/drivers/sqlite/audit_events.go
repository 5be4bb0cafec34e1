package sqlite

import (
	"context"
	"time"

	"github.com/opendenkaru/emr-auth/internal/auth/domain"
)

type auditEventsRepo struct {
	db dbtx
}

func (r *auditEventsRepo) AppendAuditEvent(ctx context.Context, ev domain.AuditEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, action, actor_id, subject, success, ip_address, user_agent,
			risk_score, phi_access, detail, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Action, ev.ActorID, ev.Subject, ev.Success, ev.IPAddress, ev.UserAgent,
		ev.RiskScore, ev.PHIAccess, ev.Detail, ev.OccurredAt,
	)
	return err
}

func (r *auditEventsRepo) ListRecentAuditEvents(ctx context.Context, actorID string, limit int) ([]domain.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, action, actor_id, subject, success, ip_address, user_agent,
			risk_score, phi_access, detail, occurred_at
		FROM audit_events
		WHERE actor_id = ?
		ORDER BY occurred_at DESC
		LIMIT ?`,
		actorID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var ev domain.AuditEvent
		err := rows.Scan(
			&ev.ID, &ev.Action, &ev.ActorID, &ev.Subject, &ev.Success, &ev.IPAddress, &ev.UserAgent,
			&ev.RiskScore, &ev.PHIAccess, &ev.Detail, &ev.OccurredAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *auditEventsRepo) CountRecentFailures(ctx context.Context, subject string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_events
		WHERE subject = ? AND action = ? AND success = 0 AND occurred_at >= ?`,
		subject, domain.AuditLoginFailed, since,
	).Scan(&count)
	return count, err
}
