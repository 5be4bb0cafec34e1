package http

import (
	"encoding/json"
	"net/http"

	"github.com/opendenkaru/emr-auth/internal/auth/service"
	"github.com/opendenkaru/emr-auth/pkg/httpx"
	"github.com/opendenkaru/emr-auth/pkg/slogx"
)

// MFAHandler handles the MFA lifecycle endpoints.
type MFAHandler struct {
	MFAService *service.MFAService
}

// HandleEnroll handles POST /v1/auth/mfa/enroll. Generates a TOTP secret and
// provisioning URL; MFA is not enabled until a code is verified.
func (h *MFAHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Not authenticated")
		return
	}

	enroll, err := h.MFAService.EnrollTOTP(ctx, userID)
	if err != nil {
		log.Warn("MFA enroll rejected", "user_id", userID, "err", err)
		writeServiceError(w, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, TOTPEnrollResponse{
		Secret:  enroll.Secret,
		QRCode:  enroll.QRCode,
		Issuer:  enroll.Issuer,
		Account: enroll.Account,
	})
}

// HandleVerify handles POST /v1/auth/mfa/verify. Confirms the enrolled
// secret and enables MFA, returning the backup codes exactly once.
func (h *MFAHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Not authenticated")
		return
	}

	var req TOTPVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON body")
		return
	}

	codes, err := h.MFAService.VerifyTOTP(ctx, userID, req.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, BackupCodesResponse{Codes: codes})
}

// HandleDisable handles POST /v1/auth/mfa/disable. Requires the current
// password and a valid TOTP code.
func (h *MFAHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Not authenticated")
		return
	}

	var req MFADisableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON body")
		return
	}

	if err := h.MFAService.RemoveMFA(ctx, userID, req.Password, req.Code); err != nil {
		writeServiceError(w, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "MFA disabled"})
}

// HandleRegenerateBackupCodes handles POST /v1/auth/mfa/backup-codes.
// Replaces the backup codes after TOTP verification.
func (h *MFAHandler) HandleRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Not authenticated")
		return
	}

	var req TOTPVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON body")
		return
	}

	codes, err := h.MFAService.RegenerateBackupCodes(ctx, userID, req.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, BackupCodesResponse{Codes: codes})
}
