package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/opendenkaru/emr-auth/internal/auth/domain"
	"github.com/opendenkaru/emr-auth/internal/auth/store"
)

type rolesRepo struct {
	db dbtx
}

func (r *rolesRepo) GetRoleByID(ctx context.Context, id string) (domain.Role, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, permissions, created_at, updated_at FROM roles WHERE id = ?`, id)

	var role domain.Role
	var perms string
	if err := row.Scan(&role.ID, &role.Name, &perms, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return domain.Role{}, mapNotFound(err)
	}
	role.Permissions = splitAndFilter(perms)
	return role, nil
}

func (r *rolesRepo) GetRoleByName(ctx context.Context, name string) (domain.Role, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, permissions, created_at, updated_at FROM roles WHERE name = ?`, name)

	var role domain.Role
	var perms string
	if err := row.Scan(&role.ID, &role.Name, &perms, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return domain.Role{}, mapNotFound(err)
	}
	role.Permissions = splitAndFilter(perms)
	return role, nil
}

func (r *rolesRepo) ListAll(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, permissions, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Role
	for rows.Next() {
		var role domain.Role
		var perms string
		if err := rows.Scan(&role.ID, &role.Name, &perms, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		role.Permissions = splitAndFilter(perms)
		out = append(out, role)
	}
	return out, rows.Err()
}

func (r *rolesRepo) CreateRole(ctx context.Context, role domain.Role) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO roles (id, name, permissions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		role.ID, role.Name, joinSpaced(role.Permissions), now, now,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *rolesRepo) UpdateRolePermissions(ctx context.Context, roleID string, permissions []string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE roles SET permissions = ?, updated_at = ? WHERE id = ?`,
		joinSpaced(permissions), time.Now().UTC(), roleID,
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

func (r *rolesRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roles`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}
