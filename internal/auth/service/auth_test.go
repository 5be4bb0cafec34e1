package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/opendenkaru/emr-auth/internal/auth/domain"
	"github.com/opendenkaru/emr-auth/internal/auth/store"
	"github.com/opendenkaru/emr-auth/internal/auth/store/drivers/sqlite"
	"github.com/opendenkaru/emr-auth/pkg/jwtx"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/argon2"
)

const (
	testIssuer   = "test-issuer"
	testPassword = "Correct-Horse-9-Battery!"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.NewStore("file:" + filepath.Join(t.TempDir(), "auth_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	require.NoError(t, EnsureDefaultRoles(context.Background(), st, discardLogger()))
	return st
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestAuthService(t *testing.T, st store.Store) *AuthService {
	t.Helper()

	km, err := jwtx.LoadKeyManager(jwtx.Options{
		KeyPath: filepath.Join(t.TempDir(), "signing.pem"),
		Issuer:  testIssuer,
	})
	require.NoError(t, err)

	audit := NewAuditLog(st, nil, discardLogger(), 64)
	t.Cleanup(audit.Close)

	svc, err := NewAuthService(
		st,
		NewTokenService(km, testIssuer, time.Minute, time.Hour),
		&RiskScorer{Store: st},
		audit,
	)
	require.NoError(t, err)
	return svc
}

func registerAccount(t *testing.T, svc *AuthService, username string) domain.Account {
	t.Helper()

	a, err := svc.Register(context.Background(), RegisterParams{
		Username: username,
		Email:    username + "@clinic.example",
		FullName: "Test Clinician",
		Password: testPassword,
		Role:     RoleDoctor,
	})
	require.NoError(t, err)
	return a
}

func loginParams(username, password string) LoginParams {
	return LoginParams{
		Username:  username,
		Password:  password,
		IPAddress: "203.0.113.7",
		UserAgent: "test-client/1.0",
	}
}

func TestRegisterEnforcesPasswordPolicy(t *testing.T) {
	svc := newTestAuthService(t, newTestStore(t))

	_, err := svc.Register(context.Background(), RegisterParams{
		Username: "weak",
		Email:    "weak@clinic.example",
		Password: "short",
		Role:     RoleNurse,
	})

	var policyErr *PasswordPolicyError
	require.ErrorAs(t, err, &policyErr)
	require.NotEmpty(t, policyErr.Violations)
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	svc := newTestAuthService(t, newTestStore(t))
	registerAccount(t, svc, "dr.tanaka")

	_, err := svc.Register(context.Background(), RegisterParams{
		Username: "dr.tanaka",
		Email:    "other@clinic.example",
		Password: testPassword,
		Role:     RoleDoctor,
	})
	require.ErrorIs(t, err, ErrAccountExists)
}

func TestLoginSuccess(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestAuthService(t, st)
	a := registerAccount(t, svc, "dr.tanaka")

	pair, err := svc.Login(ctx, loginParams("dr.tanaka", testPassword))
	require.NoError(t, err)
	require.Equal(t, "Bearer", pair.TokenType)

	claims, err := svc.Tokens.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, a.ID, claims.Subject)
	require.NotEmpty(t, claims.SessionID)
	require.False(t, claims.MFAVerified)
	require.Contains(t, claims.Permissions, "patients:read")

	sessions, err := svc.ListSessions(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, claims.SessionID, sessions[0].ID)
	require.Equal(t, "203.0.113.7", sessions[0].IPAddress)

	got, err := st.Accounts().GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLoginAt)
	require.Zero(t, got.FailedLoginAttempts)
}

func TestLoginFailuresAreUniform(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuthService(t, newTestStore(t))
	registerAccount(t, svc, "dr.tanaka")

	// Unknown username and wrong password must be indistinguishable.
	_, err := svc.Login(ctx, loginParams("no-such-user", testPassword))
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, loginParams("dr.tanaka", "Wrong-Password-123!"))
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginRejectsDeactivatedAccount(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestAuthService(t, st)
	a := registerAccount(t, svc, "dr.tanaka")

	require.NoError(t, st.Accounts().SetActive(ctx, a.ID, false))

	_, err := svc.Login(ctx, loginParams("dr.tanaka", testPassword))
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestAuthService(t, st)
	a := registerAccount(t, svc, "dr.tanaka")

	for range svc.MaxLoginAttempts {
		_, err := svc.Login(ctx, loginParams("dr.tanaka", "Wrong-Password-123!"))
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	got, err := st.Accounts().GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, svc.MaxLoginAttempts, got.FailedLoginAttempts)
	require.NotNil(t, got.LockedUntil)
	require.True(t, got.LockedUntil.After(time.Now().UTC()))

	// The correct password is also refused while the account is locked.
	_, err = svc.Login(ctx, loginParams("dr.tanaka", testPassword))
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginSuccessResetsFailureCount(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestAuthService(t, st)
	a := registerAccount(t, svc, "dr.tanaka")

	for range 2 {
		_, err := svc.Login(ctx, loginParams("dr.tanaka", "Wrong-Password-123!"))
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := svc.Login(ctx, loginParams("dr.tanaka", testPassword))
	require.NoError(t, err)

	got, err := st.Accounts().GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.Zero(t, got.FailedLoginAttempts)
	require.Nil(t, got.LockedUntil)
}

func TestLoginRehashesLegacyHash(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestAuthService(t, st)
	a := registerAccount(t, svc, "dr.tanaka")

	// Simulate a hash minted under older, weaker argon2 parameters.
	salt := []byte("0123456789abcdef")
	legacy := argon2.IDKey([]byte(testPassword), salt, 1, 4096, 1, 32)
	legacyHash := fmt.Sprintf("$argon2id$v=19$m=4096,t=1,p=1$%s$%s",
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(legacy))
	require.NoError(t, st.Accounts().UpdatePasswordHash(ctx, a.ID, legacyHash))

	_, err := svc.Login(ctx, loginParams("dr.tanaka", testPassword))
	require.NoError(t, err)

	got, err := st.Accounts().GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.NotEqual(t, legacyHash, got.PasswordHash)
}

func enrollMFA(t *testing.T, st store.Store, svc *AuthService, userID string) (secret string, backupCodes []string) {
	t.Helper()

	mfa := &MFAService{Store: st, Issuer: testIssuer, Audit: svc.Audit}

	enroll, err := mfa.EnrollTOTP(context.Background(), userID)
	require.NoError(t, err)

	code, err := totp.GenerateCode(enroll.Secret, time.Now())
	require.NoError(t, err)

	codes, err := mfa.VerifyTOTP(context.Background(), userID, code)
	require.NoError(t, err)
	return enroll.Secret, codes
}

func TestLoginWithMFAReturnsChallenge(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestAuthService(t, st)
	a := registerAccount(t, svc, "dr.tanaka")
	secret, _ := enrollMFA(t, st, svc, a.ID)

	_, err := svc.Login(ctx, loginParams("dr.tanaka", testPassword))

	var mfaErr *MFARequiredError
	require.ErrorAs(t, err, &mfaErr)
	require.NotEmpty(t, mfaErr.MFAToken)
	require.Contains(t, mfaErr.Methods, MFAMethodTOTP)
	require.Contains(t, mfaErr.Methods, MFAMethodBackupCode)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	pair, err := svc.CompleteMFALogin(ctx, MFALoginParams{
		MFAToken:  mfaErr.MFAToken,
		Method:    MFAMethodTOTP,
		Code:      code,
		IPAddress: "203.0.113.7",
		UserAgent: "test-client/1.0",
	})
	require.NoError(t, err)

	claims, err := svc.Tokens.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	require.True(t, claims.MFAVerified)

	// The challenge is single-use.
	_, err = svc.CompleteMFALogin(ctx, MFALoginParams{
		MFAToken: mfaErr.MFAToken,
		Method:   MFAMethodTOTP,
		Code:     code,
	})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCompleteMFALoginWithBackupCode(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestAuthService(t, st)
	a := registerAccount(t, svc, "dr.tanaka")
	_, codes := enrollMFA(t, st, svc, a.ID)
	require.Len(t, codes, 8)

	startChallenge := func() string {
		_, err := svc.Login(ctx, loginParams("dr.tanaka", testPassword))
		var mfaErr *MFARequiredError
		require.ErrorAs(t, err, &mfaErr)
		return mfaErr.MFAToken
	}

	_, err := svc.CompleteMFALogin(ctx, MFALoginParams{
		MFAToken: startChallenge(),
		Method:   MFAMethodBackupCode,
		Code:     codes[0],
	})
	require.NoError(t, err)

	remaining, err := st.BackupCodes().CountUnusedBackupCodes(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, 7, remaining)

	// A consumed code cannot be replayed.
	_, err = svc.CompleteMFALogin(ctx, MFALoginParams{
		MFAToken: startChallenge(),
		Method:   MFAMethodBackupCode,
		Code:     codes[0],
	})
	require.ErrorIs(t, err, ErrInvalidMFACode)
}

func TestCompleteMFALoginAttemptsCap(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestAuthService(t, st)
	a := registerAccount(t, svc, "dr.tanaka")
	enrollMFA(t, st, svc, a.ID)

	_, err := svc.Login(ctx, loginParams("dr.tanaka", testPassword))
	var mfaErr *MFARequiredError
	require.ErrorAs(t, err, &mfaErr)

	for range MaxMFAAttempts {
		_, err := svc.CompleteMFALogin(ctx, MFALoginParams{
			MFAToken: mfaErr.MFAToken,
			Method:   MFAMethodTOTP,
			Code:     "000000",
		})
		require.ErrorIs(t, err, ErrInvalidMFACode)
	}

	// The exhausted challenge is destroyed, not retried.
	_, err = svc.CompleteMFALogin(ctx, MFALoginParams{
		MFAToken: mfaErr.MFAToken,
		Method:   MFAMethodTOTP,
		Code:     "000000",
	})
	require.ErrorIs(t, err, ErrTooManyAttempts)

	_, err = svc.CompleteMFALogin(ctx, MFALoginParams{
		MFAToken: mfaErr.MFAToken,
		Method:   MFAMethodTOTP,
		Code:     "000000",
	})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCompleteMFALoginRejectsLockedAccount(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestAuthService(t, st)
	a := registerAccount(t, svc, "dr.tanaka")
	secret, _ := enrollMFA(t, st, svc, a.ID)

	_, err := svc.Login(ctx, loginParams("dr.tanaka", testPassword))
	var mfaErr *MFARequiredError
	require.ErrorAs(t, err, &mfaErr)

	// The account gets locked while the challenge is still pending.
	for range svc.MaxLoginAttempts {
		_, err := svc.Login(ctx, loginParams("dr.tanaka", "Wrong-Password-123!"))
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	locked, err := st.Accounts().GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, locked.Locked(time.Now().UTC()))

	// A valid code must not finish the login for a locked account.
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	_, err = svc.CompleteMFALogin(ctx, MFALoginParams{
		MFAToken:  mfaErr.MFAToken,
		Method:    MFAMethodTOTP,
		Code:      code,
		IPAddress: "203.0.113.7",
	})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	// The challenge is destroyed, not left for a retry after the lockout.
	_, err = svc.CompleteMFALogin(ctx, MFALoginParams{
		MFAToken: mfaErr.MFAToken,
		Method:   MFAMethodTOTP,
		Code:     code,
	})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCompleteMFALoginRejectsDeactivatedAccount(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestAuthService(t, st)
	a := registerAccount(t, svc, "dr.tanaka")
	secret, _ := enrollMFA(t, st, svc, a.ID)

	_, err := svc.Login(ctx, loginParams("dr.tanaka", testPassword))
	var mfaErr *MFARequiredError
	require.ErrorAs(t, err, &mfaErr)

	require.NoError(t, st.Accounts().SetActive(ctx, a.ID, false))

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	_, err = svc.CompleteMFALogin(ctx, MFALoginParams{
		MFAToken: mfaErr.MFAToken,
		Method:   MFAMethodTOTP,
		Code:     code,
	})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestFailedLoginAuditCarriesRiskScore(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestAuthService(t, st)
	a := registerAccount(t, svc, "dr.tanaka")

	for range svc.MaxLoginAttempts {
		_, err := svc.Login(ctx, loginParams("dr.tanaka", "Wrong-Password-123!"))
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	svc.Audit.Close()

	events, err := st.AuditEvents().ListRecentAuditEvents(ctx, a.ID, 20)
	require.NoError(t, err)

	var failures, lockEvents int
	for _, ev := range events {
		switch ev.Action {
		case domain.AuditLoginFailed:
			failures++
			// No session has seen this IP, so the new-device signal alone
			// puts the score above zero.
			require.GreaterOrEqual(t, ev.RiskScore, riskNewDevice)
		case domain.AuditAccountLocked:
			lockEvents++
			require.Positive(t, ev.RiskScore)
		}
	}
	require.Equal(t, svc.MaxLoginAttempts, failures)
	require.Equal(t, 1, lockEvents)
}

func TestRefreshIssuesNewAccessToken(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuthService(t, newTestStore(t))
	registerAccount(t, svc, "dr.tanaka")

	pair, err := svc.Login(ctx, loginParams("dr.tanaka", testPassword))
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, pair.RefreshToken, "203.0.113.7", "test-client/1.0")
	require.NoError(t, err)
	require.NotEmpty(t, refreshed.AccessToken)

	// Rotation is off by default: the same refresh token keeps working.
	require.Equal(t, pair.RefreshToken, refreshed.RefreshToken)
	_, err = svc.Refresh(ctx, pair.RefreshToken, "203.0.113.7", "test-client/1.0")
	require.NoError(t, err)
}

func TestRefreshRotationDetectsReuse(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestAuthService(t, st)
	a := registerAccount(t, svc, "dr.tanaka")
	svc.RotateRefreshTokens = true

	pair, err := svc.Login(ctx, loginParams("dr.tanaka", testPassword))
	require.NoError(t, err)

	rotated, err := svc.Refresh(ctx, pair.RefreshToken, "203.0.113.7", "test-client/1.0")
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// Replaying the rotated-out token is treated as theft: the refresh fails
	// and every session the user has is revoked.
	_, err = svc.Refresh(ctx, pair.RefreshToken, "198.51.100.9", "other-client/1.0")
	require.ErrorIs(t, err, ErrInvalidRefresh)

	sessions, err := svc.ListSessions(ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, sessions)

	_, err = svc.Refresh(ctx, rotated.RefreshToken, "203.0.113.7", "test-client/1.0")
	require.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestRefreshRejectsInvalidTokens(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuthService(t, newTestStore(t))
	registerAccount(t, svc, "dr.tanaka")

	_, err := svc.Refresh(ctx, "garbage", "203.0.113.7", "test-client/1.0")
	require.ErrorIs(t, err, ErrInvalidRefresh)

	// An access token is not accepted on the refresh path.
	pair, err := svc.Login(ctx, loginParams("dr.tanaka", testPassword))
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, pair.AccessToken, "203.0.113.7", "test-client/1.0")
	require.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestRefreshRejectsRevokedSession(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuthService(t, newTestStore(t))
	a := registerAccount(t, svc, "dr.tanaka")

	pair, err := svc.Login(ctx, loginParams("dr.tanaka", testPassword))
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, a.ID, "203.0.113.7", "test-client/1.0"))

	_, err = svc.Refresh(ctx, pair.RefreshToken, "203.0.113.7", "test-client/1.0")
	require.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestRefreshRejectsDeactivatedAccount(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestAuthService(t, st)
	a := registerAccount(t, svc, "dr.tanaka")

	pair, err := svc.Login(ctx, loginParams("dr.tanaka", testPassword))
	require.NoError(t, err)

	require.NoError(t, st.Accounts().SetActive(ctx, a.ID, false))

	_, err = svc.Refresh(ctx, pair.RefreshToken, "203.0.113.7", "test-client/1.0")
	require.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestLogoutRevokesAllSessions(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuthService(t, newTestStore(t))
	a := registerAccount(t, svc, "dr.tanaka")

	_, err := svc.Login(ctx, loginParams("dr.tanaka", testPassword))
	require.NoError(t, err)
	_, err = svc.Login(ctx, loginParams("dr.tanaka", testPassword))
	require.NoError(t, err)

	sessions, err := svc.ListSessions(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	require.NoError(t, svc.Logout(ctx, a.ID, "203.0.113.7", "test-client/1.0"))

	sessions, err = svc.ListSessions(ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestRevokeSessionChecksOwnership(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuthService(t, newTestStore(t))
	alice := registerAccount(t, svc, "dr.tanaka")
	mallory := registerAccount(t, svc, "dr.mallory")

	_, err := svc.Login(ctx, loginParams("dr.tanaka", testPassword))
	require.NoError(t, err)
	sessions, err := svc.ListSessions(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	// Someone else's session looks like it does not exist.
	err = svc.RevokeSession(ctx, mallory.ID, sessions[0].ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	err = svc.RevokeSession(ctx, mallory.ID, "no-such-session")
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, svc.RevokeSession(ctx, alice.ID, sessions[0].ID))
	sessions, err = svc.ListSessions(ctx, alice.ID)
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuthService(t, newTestStore(t))
	a := registerAccount(t, svc, "dr.tanaka")

	// Two sessions: the one performing the change and one elsewhere.
	other, err := svc.Login(ctx, loginParams("dr.tanaka", testPassword))
	require.NoError(t, err)
	current, err := svc.Login(ctx, loginParams("dr.tanaka", testPassword))
	require.NoError(t, err)

	claims, err := svc.Tokens.VerifyAccess(current.AccessToken)
	require.NoError(t, err)
	currentSessionID := claims.SessionID

	err = svc.ChangePassword(ctx, a.ID, currentSessionID, "Wrong-Password-123!", "New-Password-2024!!")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	var policyErr *PasswordPolicyError
	err = svc.ChangePassword(ctx, a.ID, currentSessionID, testPassword, "weak")
	require.ErrorAs(t, err, &policyErr)

	require.NoError(t, svc.ChangePassword(ctx, a.ID, currentSessionID, testPassword, "New-Password-2024!!"))

	// The session performing the change survives; the other one is revoked.
	sessions, err := svc.ListSessions(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, currentSessionID, sessions[0].ID)

	_, err = svc.Refresh(ctx, other.RefreshToken, "203.0.113.7", "test-client/1.0")
	require.ErrorIs(t, err, ErrInvalidRefresh)

	_, err = svc.Login(ctx, loginParams("dr.tanaka", testPassword))
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, loginParams("dr.tanaka", "New-Password-2024!!"))
	require.NoError(t, err)
}

func TestHousekeepingRemovesExpiredRows(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestAuthService(t, st)
	a := registerAccount(t, svc, "dr.tanaka")

	past := time.Now().UTC().Add(-time.Hour)
	expired := domain.Session{
		ID:               "expired-session",
		UserID:           a.ID,
		RefreshTokenHash: "fp",
		ExpiresAt:        past,
		LastAccessedAt:   past,
		IsActive:         true,
		CreatedAt:        past.Add(-time.Hour),
	}
	require.NoError(t, st.Sessions().CreateSession(ctx, expired))
	require.NoError(t, st.MFASessions().CreateMFASession(ctx, domain.MFASession{
		ID:        "expired-challenge",
		UserID:    a.ID,
		CreatedAt: past,
		ExpiresAt: past.Add(5 * time.Minute),
	}))

	hk := NewHousekeepingService(st, discardLogger(), time.Hour)
	hk.cleanup()

	_, err := st.Sessions().GetSessionByID(ctx, "expired-session")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.MFASessions().GetMFASession(ctx, "expired-challenge")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEnsureDefaultRolesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	// newTestStore already seeded once; a second pass must not duplicate.
	require.NoError(t, EnsureDefaultRoles(ctx, st, discardLogger()))

	roles, err := st.Roles().ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, roles, len(DefaultRolePermissions()))

	admin, err := st.Roles().GetRoleByName(ctx, RoleAdmin)
	require.NoError(t, err)
	require.NotEmpty(t, admin.Permissions)
}
