package http

import (
	"encoding/json"
	"net/http"

	"github.com/opendenkaru/emr-auth/internal/auth/service"
	"github.com/opendenkaru/emr-auth/pkg/httpx"
	"github.com/opendenkaru/emr-auth/pkg/slogx"
)

// ChangePasswordHandler handles POST /v1/auth/change-password. Every other
// session is revoked on success; the session making the call survives.
type ChangePasswordHandler struct {
	AuthService *service.AuthService
}

func (h *ChangePasswordHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Not authenticated")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeBadRequest(w, "current_password and new_password are required")
		return
	}

	sessionID := httpx.SessionIDFromContext(ctx)
	if err := h.AuthService.ChangePassword(ctx, userID, sessionID, req.CurrentPassword, req.NewPassword); err != nil {
		log.Warn("password change rejected", "user_id", userID, "err", err)
		writeServiceError(w, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
}
