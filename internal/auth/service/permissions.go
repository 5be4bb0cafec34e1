package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/opendenkaru/emr-auth/internal/auth/domain"
	"github.com/opendenkaru/emr-auth/internal/auth/store"
	"github.com/opendenkaru/emr-auth/pkg/idx"
)

// Clinical role names.
const (
	RoleAdmin        = "admin"
	RoleDoctor       = "doctor"
	RoleNurse        = "nurse"
	RolePharmacist   = "pharmacist"
	RoleReceptionist = "receptionist"
)

// DefaultRolePermissions maps each clinical role to its permission set.
// Permissions are resource:verb strings embedded into access tokens at mint
// time, so changing a role here only affects tokens issued afterwards.
func DefaultRolePermissions() map[string][]string {
	return map[string][]string{
		RoleAdmin: {
			"patients:read", "patients:write",
			"prescriptions:read", "prescriptions:write",
			"labs:read", "labs:write",
			"appointments:read", "appointments:write",
			"users:manage", "roles:manage", "audit:read",
		},
		RoleDoctor: {
			"patients:read", "patients:write",
			"prescriptions:read", "prescriptions:write",
			"labs:read", "labs:write",
			"appointments:read", "appointments:write",
		},
		RoleNurse: {
			"patients:read", "patients:write",
			"labs:read",
			"appointments:read", "appointments:write",
		},
		RolePharmacist: {
			"patients:read",
			"prescriptions:read", "prescriptions:dispense",
		},
		RoleReceptionist: {
			"patients:read",
			"appointments:read", "appointments:write",
		},
	}
}

// EnsureDefaultRoles creates any missing clinical roles at startup. Existing
// roles are left untouched so operator edits survive restarts.
func EnsureDefaultRoles(ctx context.Context, st store.Store, logger *slog.Logger) error {
	for name, perms := range DefaultRolePermissions() {
		_, err := st.Roles().GetRoleByName(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		role := domain.Role{
			ID:          idx.New().String(),
			Name:        name,
			Permissions: perms,
		}
		if err := st.Roles().CreateRole(ctx, role); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
			return err
		}
		logger.Info("seeded role", "role", name, "permissions", len(perms))
	}
	return nil
}
