package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/opendenkaru/emr-auth/internal/auth/domain"
	"github.com/opendenkaru/emr-auth/internal/auth/store"
	"github.com/opendenkaru/emr-auth/pkg/cryptox"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	backupCodeCount = 8
	backupCodeBytes = 4 // hex-encoded to 8 uppercase characters
)

type MFAService struct {
	Store  store.Store
	Issuer string // Issuer name for TOTP (e.g., "Open Denkaru EMR")
	Audit  *AuditLog
}

// EnrollTOTP generates a TOTP secret for the user and returns it along with a
// provisioning URL. This does NOT enable MFA yet, the user must verify a code
// first.
func (s *MFAService) EnrollTOTP(ctx context.Context, userID string) (domain.MFAEnrollResponse, error) {
	a, err := s.Store.Accounts().GetAccountByID(ctx, userID)
	if err != nil {
		return domain.MFAEnrollResponse{}, fmt.Errorf("failed to get account: %w", err)
	}
	if a.MFAEnabled {
		return domain.MFAEnrollResponse{}, ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: a.Email,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return domain.MFAEnrollResponse{}, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	// Store the secret (but don't enable MFA yet)
	if err := s.Store.Accounts().UpdateMFASecret(ctx, userID, key.Secret()); err != nil {
		return domain.MFAEnrollResponse{}, fmt.Errorf("failed to store MFA secret: %w", err)
	}

	s.Audit.Record(domain.AuditEvent{
		Action:  domain.AuditMFAEnroll,
		ActorID: userID,
		Subject: a.Username,
		Success: true,
	})

	return domain.MFAEnrollResponse{
		Secret:  key.Secret(),
		QRCode:  key.URL(),
		Issuer:  s.Issuer,
		Account: a.Email,
	}, nil
}

// VerifyTOTP verifies a TOTP code against the enrolled secret and enables
// MFA for the user if valid. It also generates backup codes, returning the
// plaintext codes exactly once.
func (s *MFAService) VerifyTOTP(ctx context.Context, userID string, code string) ([]string, error) {
	a, err := s.Store.Accounts().GetAccountByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if a.MFASecret == nil || *a.MFASecret == "" {
		return nil, ErrMFANotEnabled
	}
	if a.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	if !totp.Validate(code, *a.MFASecret) {
		s.Audit.Record(domain.AuditEvent{
			Action:  domain.AuditMFAVerify,
			ActorID: userID,
			Subject: a.Username,
			Success: false,
		})
		return nil, ErrInvalidMFACode
	}

	backupCodes, err := generateBackupCodes()
	if err != nil {
		return nil, err
	}

	// Store backup codes and enable MFA in a transaction
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		for _, c := range backupCodes {
			if err := tx.BackupCodes().CreateBackupCode(ctx, userID, cryptox.FingerprintToken(c)); err != nil {
				return fmt.Errorf("failed to store backup code: %w", err)
			}
		}
		return tx.Accounts().EnableMFA(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	s.Audit.Record(domain.AuditEvent{
		Action:  domain.AuditMFAVerify,
		ActorID: userID,
		Subject: a.Username,
		Success: true,
	})

	return backupCodes, nil
}

// RegenerateBackupCodes replaces the user's backup codes after verifying a
// TOTP code. Previously issued codes stop working immediately.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, userID string, totpCode string) ([]string, error) {
	if err := s.verifyTOTPCode(ctx, userID, totpCode); err != nil {
		return nil, err
	}

	backupCodes, err := generateBackupCodes()
	if err != nil {
		return nil, err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete old backup codes: %w", err)
		}
		for _, c := range backupCodes {
			if err := tx.BackupCodes().CreateBackupCode(ctx, userID, cryptox.FingerprintToken(c)); err != nil {
				return fmt.Errorf("failed to store backup code: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return backupCodes, nil
}

// RemoveMFA disables MFA for a user after verifying their password and a
// current TOTP code. Both factors are required so a hijacked session cannot
// silently strip the second factor.
func (s *MFAService) RemoveMFA(ctx context.Context, userID, password, totpCode string) error {
	a, err := s.Store.Accounts().GetAccountByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get account: %w", err)
	}
	if err := cryptox.VerifyPassword(password, a.PasswordHash); err != nil {
		return ErrInvalidCredentials
	}
	if err := s.verifyTOTPCode(ctx, userID, totpCode); err != nil {
		return err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete backup codes: %w", err)
		}
		return tx.Accounts().DisableMFA(ctx, userID)
	})
	if err != nil {
		return err
	}

	s.Audit.Record(domain.AuditEvent{
		Action:  domain.AuditMFADisable,
		ActorID: userID,
		Subject: a.Username,
		Success: true,
	})
	return nil
}

// BackupCodesRemaining reports how many unused backup codes the user has.
func (s *MFAService) BackupCodesRemaining(ctx context.Context, userID string) (int, error) {
	return s.Store.BackupCodes().CountUnusedBackupCodes(ctx, userID)
}

// verifyTOTPCode is a helper that verifies a TOTP code for a user with MFA
// enabled.
func (s *MFAService) verifyTOTPCode(ctx context.Context, userID string, code string) error {
	a, err := s.Store.Accounts().GetAccountByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get account: %w", err)
	}
	if !a.MFAEnabled || a.MFASecret == nil || *a.MFASecret == "" {
		return ErrMFANotEnabled
	}
	if !totp.Validate(code, *a.MFASecret) {
		return ErrInvalidMFACode
	}
	return nil
}

// generateBackupCodes mints 8 single-use recovery codes, each 8 uppercase
// hex characters.
func generateBackupCodes() ([]string, error) {
	codes := make([]string, backupCodeCount)
	for i := range codes {
		var b [backupCodeBytes]byte
		if _, err := rand.Read(b[:]); err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		codes[i] = strings.ToUpper(hex.EncodeToString(b[:]))
	}
	return codes, nil
}

// NormalizeBackupCode canonicalises user input before fingerprinting.
func NormalizeBackupCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
