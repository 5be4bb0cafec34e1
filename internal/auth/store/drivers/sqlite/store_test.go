package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opendenkaru/emr-auth/internal/auth/domain"
	"github.com/opendenkaru/emr-auth/internal/auth/store"
	"github.com/opendenkaru/emr-auth/pkg/idx"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()

	st, err := NewStore("file:" + filepath.Join(t.TempDir(), "store_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

func seedRole(t *testing.T, st *Store) domain.Role {
	t.Helper()

	role := domain.Role{
		ID:          idx.New().String(),
		Name:        "doctor",
		Permissions: []string{"patients:read", "patients:write"},
	}
	require.NoError(t, st.Roles().CreateRole(context.Background(), role))
	return role
}

func seedAccount(t *testing.T, st *Store, roleID, username string) domain.Account {
	t.Helper()

	a := domain.Account{
		ID:           idx.New().String(),
		Username:     username,
		Email:        username + "@clinic.example",
		FullName:     "Test Clinician",
		PasswordHash: "$argon2id$v=19$m=19456,t=2,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaGhhc2hoYXNoaGFzaGhhc2g",
		IsActive:     true,
		RoleID:       roleID,
	}
	require.NoError(t, st.Accounts().CreateAccount(context.Background(), a))
	return a
}

func TestAccountsCRUD(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	role := seedRole(t, st)

	empty, err := st.Accounts().IsEmpty(ctx)
	require.NoError(t, err)
	require.True(t, empty)

	a := seedAccount(t, st, role.ID, "dr.tanaka")

	empty, err = st.Accounts().IsEmpty(ctx)
	require.NoError(t, err)
	require.False(t, empty)

	got, err := st.Accounts().GetAccountByUsername(ctx, "dr.tanaka")
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)
	require.True(t, got.IsActive)
	require.Nil(t, got.LockedUntil)
	require.Nil(t, got.LastLoginAt)

	_, err = st.Accounts().GetAccountByUsername(ctx, "nobody")
	require.ErrorIs(t, err, store.ErrNotFound)

	// Duplicate username maps to ErrAlreadyExists.
	dup := a
	dup.ID = idx.New().String()
	require.ErrorIs(t, st.Accounts().CreateAccount(ctx, dup), store.ErrAlreadyExists)
}

func TestAccountsLoginFailureTracking(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	role := seedRole(t, st)
	a := seedAccount(t, st, role.ID, "dr.tanaka")

	// Below the threshold: counter climbs, no lock.
	for i := 1; i <= 2; i++ {
		attempts, err := st.Accounts().RecordLoginFailure(ctx, a.ID, 3, 30*time.Minute)
		require.NoError(t, err)
		require.Equal(t, i, attempts)
	}
	got, err := st.Accounts().GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.Nil(t, got.LockedUntil)

	// Hitting the threshold sets locked_until in the same statement.
	attempts, err := st.Accounts().RecordLoginFailure(ctx, a.ID, 3, 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 3, attempts)

	got, err = st.Accounts().GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LockedUntil)
	require.True(t, got.Locked(time.Now().UTC()))

	require.NoError(t, st.Accounts().RecordLoginSuccess(ctx, a.ID))
	got, err = st.Accounts().GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.Zero(t, got.FailedLoginAttempts)
	require.Nil(t, got.LockedUntil)
	require.NotNil(t, got.LastLoginAt)

	_, err = st.Accounts().RecordLoginFailure(ctx, "no-such-id", 3, time.Minute)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAccountsPasswordHashUpdateStampsChangedAt(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	role := seedRole(t, st)
	a := seedAccount(t, st, role.ID, "dr.tanaka")

	before, err := st.Accounts().GetAccountByID(ctx, a.ID)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, st.Accounts().UpdatePasswordHash(ctx, a.ID, "new-hash"))

	after, err := st.Accounts().GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "new-hash", after.PasswordHash)
	require.True(t, after.PasswordChangedAt.After(before.PasswordChangedAt))
}

func TestSessionsLifecycle(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	role := seedRole(t, st)
	a := seedAccount(t, st, role.ID, "dr.tanaka")

	now := time.Now().UTC()
	mkSession := func(id string) domain.Session {
		return domain.Session{
			ID:               id,
			UserID:           a.ID,
			RefreshTokenHash: "fp-" + id,
			IPAddress:        "203.0.113.7",
			UserAgent:        "test-client/1.0",
			ExpiresAt:        now.Add(time.Hour),
			LastAccessedAt:   now,
			IsActive:         true,
			CreatedAt:        now,
		}
	}

	require.NoError(t, st.Sessions().CreateSession(ctx, mkSession("s1")))
	require.NoError(t, st.Sessions().CreateSession(ctx, mkSession("s2")))
	require.NoError(t, st.Sessions().CreateSession(ctx, mkSession("s3")))

	live, err := st.Sessions().ListActiveSessions(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, live, 3)

	require.NoError(t, st.Sessions().RotateRefreshToken(ctx, "s1", "fp-rotated"))
	got, err := st.Sessions().GetSessionByID(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "fp-rotated", got.RefreshTokenHash)

	require.NoError(t, st.Sessions().RevokeSession(ctx, "s3"))
	got, err = st.Sessions().GetSessionByID(ctx, "s3")
	require.NoError(t, err)
	require.False(t, got.IsActive)
	require.NotNil(t, got.RevokedAt)
	require.False(t, got.Live(now))

	// Revoke everything except s1.
	require.NoError(t, st.Sessions().RevokeAllUserSessions(ctx, a.ID, "s1"))
	live, err = st.Sessions().ListActiveSessions(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Equal(t, "s1", live[0].ID)

	// Empty exceptID revokes everything.
	require.NoError(t, st.Sessions().RevokeAllUserSessions(ctx, a.ID, ""))
	live, err = st.Sessions().ListActiveSessions(ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, live)
}

func TestRolesPermissionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	role := seedRole(t, st)

	got, err := st.Roles().GetRoleByName(ctx, "doctor")
	require.NoError(t, err)
	require.Equal(t, role.Permissions, got.Permissions)

	require.NoError(t, st.Roles().UpdateRolePermissions(ctx, role.ID,
		[]string{"patients:read", "labs:read"}))

	got, err = st.Roles().GetRoleByID(ctx, role.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"patients:read", "labs:read"}, got.Permissions)

	_, err = st.Roles().GetRoleByName(ctx, "janitor")
	require.ErrorIs(t, err, store.ErrNotFound)

	dup := domain.Role{ID: idx.New().String(), Name: "doctor"}
	require.ErrorIs(t, st.Roles().CreateRole(ctx, dup), store.ErrAlreadyExists)
}

func TestBackupCodesConsumeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	role := seedRole(t, st)
	a := seedAccount(t, st, role.ID, "dr.tanaka")

	require.NoError(t, st.BackupCodes().CreateBackupCode(ctx, a.ID, "hash-1"))
	require.NoError(t, st.BackupCodes().CreateBackupCode(ctx, a.ID, "hash-2"))

	count, err := st.BackupCodes().CountUnusedBackupCodes(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	require.NoError(t, st.BackupCodes().ConsumeBackupCode(ctx, a.ID, "hash-1"))
	require.ErrorIs(t, st.BackupCodes().ConsumeBackupCode(ctx, a.ID, "hash-1"), store.ErrNotFound)
	require.ErrorIs(t, st.BackupCodes().ConsumeBackupCode(ctx, a.ID, "unknown"), store.ErrNotFound)

	count, err = st.BackupCodes().CountUnusedBackupCodes(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, st.BackupCodes().DeleteAllBackupCodes(ctx, a.ID))
	count, err = st.BackupCodes().CountUnusedBackupCodes(ctx, a.ID)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestMFASessionsExpiryAndAttempts(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	role := seedRole(t, st)
	a := seedAccount(t, st, role.ID, "dr.tanaka")

	now := time.Now().UTC()
	require.NoError(t, st.MFASessions().CreateMFASession(ctx, domain.MFASession{
		ID:        "challenge-1",
		UserID:    a.ID,
		IPAddress: "203.0.113.7",
		CreatedAt: now,
		ExpiresAt: now.Add(5 * time.Minute),
	}))
	require.NoError(t, st.MFASessions().CreateMFASession(ctx, domain.MFASession{
		ID:        "challenge-stale",
		UserID:    a.ID,
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(-55 * time.Minute),
	}))

	got, err := st.MFASessions().GetMFASession(ctx, "challenge-1")
	require.NoError(t, err)
	require.Zero(t, got.Attempts)

	// Expired challenges are invisible.
	_, err = st.MFASessions().GetMFASession(ctx, "challenge-stale")
	require.ErrorIs(t, err, store.ErrNotFound)

	got, err = st.MFASessions().IncrementMFASessionAttempts(ctx, "challenge-1")
	require.NoError(t, err)
	require.Equal(t, 1, got.Attempts)

	require.NoError(t, st.MFASessions().DeleteMFASession(ctx, "challenge-1"))
	_, err = st.MFASessions().GetMFASession(ctx, "challenge-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, st.MFASessions().DeleteExpiredMFASessions(ctx))
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	role := seedRole(t, st)
	a := seedAccount(t, st, role.ID, "dr.tanaka")

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Accounts().UpdatePasswordHash(ctx, a.ID, "tx-hash"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := st.Accounts().GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.NotEqual(t, "tx-hash", got.PasswordHash)

	// Committed path persists.
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		return tx.Accounts().UpdatePasswordHash(ctx, a.ID, "tx-hash")
	}))
	got, err = st.Accounts().GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "tx-hash", got.PasswordHash)
}

func TestNestedTransactionsAreRejected(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	err := st.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.Tx(ctx)
		return err
	})
	require.Error(t, err)
}

func TestAuditEventsAppendOnly(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	now := time.Now().UTC()
	for i, action := range []string{domain.AuditLoginFailed, domain.AuditLoginFailed, domain.AuditLogin} {
		require.NoError(t, st.AuditEvents().AppendAuditEvent(ctx, domain.AuditEvent{
			ID:         idx.New().String(),
			Action:     action,
			ActorID:    "user-1",
			Subject:    "dr.tanaka",
			Success:    action == domain.AuditLogin,
			OccurredAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	events, err := st.AuditEvents().ListRecentAuditEvents(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.AuditLogin, events[0].Action)

	failures, err := st.AuditEvents().CountRecentFailures(ctx, "dr.tanaka", now.Add(-time.Minute))
	require.NoError(t, err)
	require.Equal(t, 2, failures)

	failures, err = st.AuditEvents().CountRecentFailures(ctx, "dr.tanaka", now.Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, failures)
}

func TestSplitAndFilter(t *testing.T) {
	require.Nil(t, splitAndFilter(""))
	require.Nil(t, splitAndFilter("   "))
	require.Equal(t, []string{"a", "b"}, splitAndFilter("a b"))
	require.Equal(t, []string{"a", "b"}, splitAndFilter("  a   b  a "))
}
