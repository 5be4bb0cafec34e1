package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opendenkaru/emr-auth/internal/auth/domain"
	"github.com/opendenkaru/emr-auth/internal/auth/store"
	"github.com/opendenkaru/emr-auth/pkg/cryptox"
	"github.com/opendenkaru/emr-auth/pkg/idx"
	"github.com/opendenkaru/emr-auth/pkg/slogx"
	"github.com/pquerna/otp/totp"
)

const (
	// Account lockout policy.
	DefaultMaxLoginAttempts = 5
	DefaultLockoutDuration  = 30 * time.Minute

	// MaxMFAAttempts is the maximum number of failed MFA attempts allowed per
	// challenge session.
	MaxMFAAttempts = 5

	// MFAChallengeTTL bounds how long a password-verified login can wait for
	// its second factor.
	MFAChallengeTTL = 5 * time.Minute
)

// MFA challenge methods.
const (
	MFAMethodTOTP       = "totp"
	MFAMethodBackupCode = "backup_codes"
)

// AuthService is the login state machine: password verification, lockout,
// the MFA branch, session issuance, refresh and revocation.
type AuthService struct {
	Store  store.Store
	Tokens *TokenService
	Risk   *RiskScorer
	Audit  *AuditLog

	MaxLoginAttempts int
	LockoutDuration  time.Duration

	// RotateRefreshTokens swaps the refresh token on every refresh. Off by
	// default: rotation breaks clients that retry a refresh after a network
	// timeout, so it is an operator opt-in.
	RotateRefreshTokens bool

	// dummyHash is verified against when the username is unknown or the
	// account is locked, keeping response timing uniform across failure
	// modes.
	dummyHash string
}

func NewAuthService(st store.Store, tokens *TokenService, risk *RiskScorer, audit *AuditLog) (*AuthService, error) {
	dummy, err := cryptox.HashPassword(cryptox.FingerprintToken("timing-uniformity"))
	if err != nil {
		return nil, err
	}
	return &AuthService{
		Store:            st,
		Tokens:           tokens,
		Risk:             risk,
		Audit:            audit,
		MaxLoginAttempts: DefaultMaxLoginAttempts,
		LockoutDuration:  DefaultLockoutDuration,
		dummyHash:        dummy,
	}, nil
}

type RegisterParams struct {
	Username string
	Email    string
	FullName string
	Password string
	Role     string
}

// Register creates a new account after enforcing the password policy. The
// account starts active but unverified.
func (s *AuthService) Register(ctx context.Context, p RegisterParams) (domain.Account, error) {
	if violations := cryptox.ValidateStrength(p.Password); len(violations) > 0 {
		return domain.Account{}, &PasswordPolicyError{Violations: violations}
	}

	role, err := s.Store.Roles().GetRoleByName(ctx, p.Role)
	if err != nil {
		return domain.Account{}, fmt.Errorf("resolve role %q: %w", p.Role, err)
	}

	hash, err := cryptox.HashPassword(p.Password)
	if err != nil {
		return domain.Account{}, err
	}

	a := domain.Account{
		ID:           idx.New().String(),
		Username:     p.Username,
		Email:        p.Email,
		FullName:     p.FullName,
		PasswordHash: hash,
		IsActive:     true,
		RoleID:       role.ID,
	}
	if err := s.Store.Accounts().CreateAccount(ctx, a); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.Account{}, ErrAccountExists
		}
		return domain.Account{}, err
	}
	return a, nil
}

type LoginParams struct {
	Username  string
	Password  string
	IPAddress string
	UserAgent string
}

// Login runs the password step. On success it either issues a token pair or,
// when the account has MFA enrolled, returns an MFARequiredError carrying a
// challenge token for CompleteMFALogin.
//
// Every credential failure, unknown username, wrong password, locked or
// deactivated account, comes back as ErrInvalidCredentials with an argon2
// verification spent on each path.
func (s *AuthService) Login(ctx context.Context, p LoginParams) (*domain.TokenPair, error) {
	now := time.Now().UTC()
	l := slogx.FromContext(ctx)

	a, err := s.Store.Accounts().GetAccountByUsername(ctx, p.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = cryptox.VerifyPassword(p.Password, s.dummyHash)
			s.auditLoginFailure(ctx, p, "", "unknown_username", now)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if a.Locked(now) || !a.IsActive {
		_ = cryptox.VerifyPassword(p.Password, s.dummyHash)
		s.auditLoginFailure(ctx, p, a.ID, "locked_or_inactive", now)
		return nil, ErrInvalidCredentials
	}

	if err := cryptox.VerifyPassword(p.Password, a.PasswordHash); err != nil {
		attempts, ferr := s.Store.Accounts().RecordLoginFailure(ctx, a.ID, s.MaxLoginAttempts, s.LockoutDuration)
		if ferr != nil {
			l.Error("failed to record login failure", "error", ferr, "user_id", a.ID)
		}
		risk := s.auditLoginFailure(ctx, p, a.ID, "wrong_password", now)
		if attempts >= s.MaxLoginAttempts {
			l.Warn("account locked after repeated failures",
				slog.String("user_id", a.ID), slog.Int("attempts", attempts))
			s.Audit.Record(domain.AuditEvent{
				Action:    domain.AuditAccountLocked,
				ActorID:   a.ID,
				Subject:   p.Username,
				Success:   true,
				IPAddress: p.IPAddress,
				UserAgent: p.UserAgent,
				RiskScore: risk,
			})
		}
		return nil, ErrInvalidCredentials
	}

	// Transparent rehash: if the stored hash predates the current argon2
	// parameters, upgrade it while we hold the plaintext.
	if cryptox.NeedsRehash(a.PasswordHash) {
		if newHash, herr := cryptox.HashPassword(p.Password); herr == nil {
			if uerr := s.Store.Accounts().UpdatePasswordHash(ctx, a.ID, newHash); uerr != nil {
				l.Warn("password rehash not persisted", "error", uerr, "user_id", a.ID)
			}
		}
	}

	if a.MFAEnabled {
		// The challenge token is a bearer secret handed back to the client,
		// so it is random rather than a time-sortable ID.
		challengeToken, err := cryptox.GenerateToken(cryptox.TokenSize128)
		if err != nil {
			return nil, err
		}
		challenge := domain.MFASession{
			ID:        challengeToken,
			UserID:    a.ID,
			IPAddress: p.IPAddress,
			UserAgent: p.UserAgent,
			CreatedAt: now,
			ExpiresAt: now.Add(MFAChallengeTTL),
		}
		if err := s.Store.MFASessions().CreateMFASession(ctx, challenge); err != nil {
			return nil, err
		}
		return nil, &MFARequiredError{
			MFAToken: challenge.ID,
			Methods:  []string{MFAMethodTOTP, MFAMethodBackupCode},
		}
	}

	return s.issueSession(ctx, a, false, p.IPAddress, p.UserAgent, now)
}

type MFALoginParams struct {
	MFAToken  string
	Method    string
	Code      string
	IPAddress string
	UserAgent string
}

// CompleteMFALogin finishes a login that Login parked behind an MFA
// challenge. The challenge allows MaxMFAAttempts failures before it is
// destroyed and the user must start over with their password.
func (s *AuthService) CompleteMFALogin(ctx context.Context, p MFALoginParams) (*domain.TokenPair, error) {
	now := time.Now().UTC()
	l := slogx.FromContext(ctx)

	challenge, err := s.Store.MFASessions().GetMFASession(ctx, p.MFAToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if challenge.Attempts >= MaxMFAAttempts {
		_ = s.Store.MFASessions().DeleteMFASession(ctx, p.MFAToken)
		l.Warn("MFA challenge exceeded max attempts",
			"user_id", challenge.UserID, "attempts", challenge.Attempts)
		return nil, ErrTooManyAttempts
	}

	a, err := s.Store.Accounts().GetAccountByID(ctx, challenge.UserID)
	if err != nil {
		return nil, err
	}

	// The account can be locked or deactivated while the challenge waits for
	// its second factor. Re-check here so a valid code cannot finish a login
	// the password step would now refuse.
	if a.Locked(now) || !a.IsActive {
		_ = s.Store.MFASessions().DeleteMFASession(ctx, p.MFAToken)
		s.Audit.Record(domain.AuditEvent{
			Action:    domain.AuditLoginFailed,
			ActorID:   a.ID,
			Subject:   a.Username,
			Success:   false,
			IPAddress: p.IPAddress,
			UserAgent: p.UserAgent,
			Detail:    "locked_or_inactive",
			RiskScore: s.Risk.Assess(ctx, a.Username, a.ID, p.IPAddress, now),
		})
		return nil, ErrInvalidCredentials
	}

	var ok bool
	switch p.Method {
	case MFAMethodTOTP:
		ok = a.MFASecret != nil && totp.Validate(p.Code, *a.MFASecret)

	case MFAMethodBackupCode:
		hash := cryptox.FingerprintToken(NormalizeBackupCode(p.Code))
		switch err := s.Store.BackupCodes().ConsumeBackupCode(ctx, a.ID, hash); {
		case err == nil:
			ok = true
			s.Audit.Record(domain.AuditEvent{
				Action:    domain.AuditBackupCodeUsed,
				ActorID:   a.ID,
				Subject:   a.Username,
				Success:   true,
				IPAddress: p.IPAddress,
				UserAgent: p.UserAgent,
			})
		case errors.Is(err, store.ErrNotFound):
			ok = false
		default:
			return nil, err
		}

	default:
		return nil, ErrInvalidMFACode
	}

	if !ok {
		updated, ierr := s.Store.MFASessions().IncrementMFASessionAttempts(ctx, p.MFAToken)
		if ierr != nil {
			l.Error("failed to increment MFA attempts", "error", ierr)
		} else {
			l.Warn("MFA validation failed",
				"user_id", a.ID, "attempts", updated.Attempts, "method", p.Method)
		}
		return nil, ErrInvalidMFACode
	}

	if err := s.Store.MFASessions().DeleteMFASession(ctx, p.MFAToken); err != nil {
		l.Warn("failed to delete MFA challenge", "error", err)
	}

	return s.issueSession(ctx, a, true, p.IPAddress, p.UserAgent, now)
}

// Refresh exchanges a refresh token for a new access token. The token must
// verify as a refresh JWT AND match the fingerprint pinned to its session
// row; a verified token whose fingerprint does not match means a rotated-out
// token is being replayed, which is treated as theft and revokes every
// session the user has.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, ip, ua string) (*domain.TokenPair, error) {
	now := time.Now().UTC()
	l := slogx.FromContext(ctx)

	claims, err := s.Tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefresh
	}

	sess, err := s.Store.Sessions().GetSessionByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}
	if sess.UserID != claims.Subject || !sess.Live(now) {
		return nil, ErrInvalidRefresh
	}

	if cryptox.FingerprintToken(refreshToken) != sess.RefreshTokenHash {
		l.Warn("refresh token reuse detected, revoking all sessions",
			slog.String("user_id", sess.UserID), slog.String("session_id", sess.ID))
		if rerr := s.Store.Sessions().RevokeAllUserSessions(ctx, sess.UserID, ""); rerr != nil {
			l.Error("failed to revoke sessions after token reuse", "error", rerr)
		}
		s.Audit.Record(domain.AuditEvent{
			Action:    domain.AuditTokenReuse,
			ActorID:   sess.UserID,
			Success:   false,
			IPAddress: ip,
			UserAgent: ua,
			RiskScore: riskMax,
		})
		return nil, ErrInvalidRefresh
	}

	a, err := s.Store.Accounts().GetAccountByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if !a.IsActive || a.Locked(now) {
		return nil, ErrInvalidRefresh
	}

	perms, err := s.permissionsFor(ctx, a)
	if err != nil {
		return nil, err
	}

	var pair *domain.TokenPair
	if s.RotateRefreshTokens {
		var fp string
		pair, fp, err = s.Tokens.MintPair(a, perms, a.MFAEnabled, sess.ID, now)
		if err != nil {
			return nil, err
		}
		if err := s.Store.Sessions().RotateRefreshToken(ctx, sess.ID, fp); err != nil {
			return nil, err
		}
	} else {
		access, aerr := s.Tokens.MintAccess(a, perms, a.MFAEnabled, sess.ID, now)
		if aerr != nil {
			return nil, aerr
		}
		pair = &domain.TokenPair{
			AccessToken:  access,
			RefreshToken: refreshToken,
			TokenType:    "Bearer",
			ExpiresIn:    s.Tokens.AccessTTL,
		}
		if terr := s.Store.Sessions().TouchSession(ctx, sess.ID); terr != nil {
			l.Warn("failed to touch session", "error", terr)
		}
	}

	s.Audit.Record(domain.AuditEvent{
		Action:    domain.AuditTokenRefresh,
		ActorID:   a.ID,
		Subject:   a.Username,
		Success:   true,
		IPAddress: ip,
		UserAgent: ua,
	})
	return pair, nil
}

// Logout revokes every session the user has. All refresh tokens stop
// working; outstanding access tokens expire on their own short TTL.
func (s *AuthService) Logout(ctx context.Context, userID, ip, ua string) error {
	if err := s.Store.Sessions().RevokeAllUserSessions(ctx, userID, ""); err != nil {
		return err
	}
	s.Audit.Record(domain.AuditEvent{
		Action:    domain.AuditLogout,
		ActorID:   userID,
		Success:   true,
		IPAddress: ip,
		UserAgent: ua,
	})
	return nil
}

// ListSessions returns the user's live sessions for review.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	return s.Store.Sessions().ListActiveSessions(ctx, userID)
}

// RevokeSession revokes a single session, checking ownership first so a user
// cannot revoke someone else's session by guessing IDs.
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	sess, err := s.Store.Sessions().GetSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if sess.UserID != userID {
		return ErrSessionNotFound
	}
	if err := s.Store.Sessions().RevokeSession(ctx, sessionID); err != nil {
		return err
	}
	s.Audit.Record(domain.AuditEvent{
		Action:  domain.AuditSessionRevoked,
		ActorID: userID,
		Subject: sessionID,
		Success: true,
	})
	return nil
}

// ChangePassword verifies the current password, enforces the policy on the
// new one, then swaps the hash and revokes every other session in one
// transaction. The session performing the change stays alive.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentSessionID, oldPassword, newPassword string) error {
	a, err := s.Store.Accounts().GetAccountByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := cryptox.VerifyPassword(oldPassword, a.PasswordHash); err != nil {
		return ErrInvalidCredentials
	}
	if violations := cryptox.ValidateStrength(newPassword); len(violations) > 0 {
		return &PasswordPolicyError{Violations: violations}
	}

	newHash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Accounts().UpdatePasswordHash(ctx, userID, newHash); err != nil {
			return err
		}
		return tx.Sessions().RevokeAllUserSessions(ctx, userID, currentSessionID)
	})
	if err != nil {
		return err
	}

	s.Audit.Record(domain.AuditEvent{
		Action:  domain.AuditPasswordChange,
		ActorID: userID,
		Subject: a.Username,
		Success: true,
	})
	return nil
}

// issueSession creates a session row and mints the token pair for a fully
// authenticated login.
func (s *AuthService) issueSession(
	ctx context.Context,
	a domain.Account,
	mfaVerified bool,
	ip, ua string,
	now time.Time,
) (*domain.TokenPair, error) {
	l := slogx.FromContext(ctx)

	perms, err := s.permissionsFor(ctx, a)
	if err != nil {
		return nil, err
	}

	risk := s.Risk.Assess(ctx, a.Username, a.ID, ip, now)

	sessionID := idx.New().String()
	pair, refreshFP, err := s.Tokens.MintPair(a, perms, mfaVerified, sessionID, now)
	if err != nil {
		return nil, err
	}

	sess := domain.Session{
		ID:               sessionID,
		UserID:           a.ID,
		RefreshTokenHash: refreshFP,
		IPAddress:        ip,
		UserAgent:        ua,
		ExpiresAt:        now.Add(s.Tokens.RefreshTTL),
		LastAccessedAt:   now,
		IsActive:         true,
		CreatedAt:        now,
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Sessions().CreateSession(ctx, sess); err != nil {
			return err
		}
		return tx.Accounts().RecordLoginSuccess(ctx, a.ID)
	})
	if err != nil {
		return nil, err
	}

	l.Info("login succeeded",
		slog.String("user_id", a.ID),
		slog.Bool("mfa", mfaVerified),
		slog.Int("risk_score", risk))

	s.Audit.Record(domain.AuditEvent{
		Action:    domain.AuditLogin,
		ActorID:   a.ID,
		Subject:   a.Username,
		Success:   true,
		IPAddress: ip,
		UserAgent: ua,
		RiskScore: risk,
	})

	return pair, nil
}

func (s *AuthService) permissionsFor(ctx context.Context, a domain.Account) ([]string, error) {
	role, err := s.Store.Roles().GetRoleByID(ctx, a.RoleID)
	if err != nil {
		return nil, fmt.Errorf("resolve role for %s: %w", a.ID, err)
	}
	return role.Permissions, nil
}

// auditLoginFailure records a rejected password step. Risk is scored on
// failures too so repeated probing stands out in review; the score is
// returned for follow-up events covering the same attempt.
func (s *AuthService) auditLoginFailure(ctx context.Context, p LoginParams, actorID, detail string, now time.Time) int {
	risk := s.Risk.Assess(ctx, p.Username, actorID, p.IPAddress, now)
	s.Audit.Record(domain.AuditEvent{
		Action:     domain.AuditLoginFailed,
		ActorID:    actorID,
		Subject:    p.Username,
		Success:    false,
		IPAddress:  p.IPAddress,
		UserAgent:  p.UserAgent,
		Detail:     detail,
		RiskScore:  risk,
		OccurredAt: now,
	})
	return risk
}
