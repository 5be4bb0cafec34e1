package http

import (
	"encoding/json"
	"net/http"

	"github.com/opendenkaru/emr-auth/internal/auth/domain"
	"github.com/opendenkaru/emr-auth/internal/auth/service"
	"github.com/opendenkaru/emr-auth/pkg/httpx"
	"github.com/opendenkaru/emr-auth/pkg/ratelimit"
)

// RefreshHandler handles POST /v1/auth/refresh.
type RefreshHandler struct {
	AuthService *service.AuthService
}

func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON body")
		return
	}
	if req.RefreshToken == "" {
		writeBadRequest(w, "refresh_token is required")
		return
	}

	pair, err := h.AuthService.Refresh(ctx, req.RefreshToken, ratelimit.ClientIP(r), r.UserAgent())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeTokenPair(w, pair)
}

// LogoutHandler handles POST /v1/auth/logout. Revokes every session the
// authenticated user has.
type LogoutHandler struct {
	AuthService *service.AuthService
}

func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Not authenticated")
		return
	}

	if err := h.AuthService.Logout(ctx, userID, ratelimit.ClientIP(r), r.UserAgent()); err != nil {
		writeServiceError(w, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func writeTokenPair(w http.ResponseWriter, pair *domain.TokenPair) {
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    int64(pair.ExpiresIn.Seconds()),
	})
}
