package http

import (
	"net/http"

	"github.com/opendenkaru/emr-auth/internal/auth/service"
	"github.com/opendenkaru/emr-auth/internal/auth/store"
	"github.com/opendenkaru/emr-auth/pkg/httpx"
	"github.com/opendenkaru/emr-auth/pkg/slogx"
)

// MeHandler handles GET /v1/auth/me.
type MeHandler struct {
	Store store.Store
}

func (h *MeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Not authenticated")
		return
	}

	a, err := h.Store.Accounts().GetAccountByID(ctx, userID)
	if err != nil {
		log.Error("failed to load account", "user_id", userID, "err", err)
		writeServiceError(w, err)
		return
	}

	role, err := h.Store.Roles().GetRoleByID(ctx, a.RoleID)
	if err != nil {
		log.Error("failed to load role", "user_id", userID, "err", err)
		writeServiceError(w, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, MeResponse{
		ID:          a.ID,
		Username:    a.Username,
		Email:       a.Email,
		FullName:    a.FullName,
		Role:        role.Name,
		Permissions: role.Permissions,
		MFAEnabled:  a.MFAEnabled,
		LastLoginAt: a.LastLoginAt,
	})
}

// SessionsHandler handles GET /v1/auth/sessions and
// DELETE /v1/auth/sessions/{id}.
type SessionsHandler struct {
	AuthService *service.AuthService
}

func (h *SessionsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Not authenticated")
		return
	}

	sessions, err := h.AuthService.ListSessions(ctx, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	current := httpx.SessionIDFromContext(ctx)
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			ID:             s.ID,
			IPAddress:      s.IPAddress,
			UserAgent:      s.UserAgent,
			CreatedAt:      s.CreatedAt,
			LastAccessedAt: s.LastAccessedAt,
			ExpiresAt:      s.ExpiresAt,
			Current:        s.ID == current,
		})
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *SessionsHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Not authenticated")
		return
	}

	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeBadRequest(w, "session id is required")
		return
	}

	if err := h.AuthService.RevokeSession(ctx, userID, sessionID); err != nil {
		writeServiceError(w, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "session revoked"})
}
