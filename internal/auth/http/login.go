package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opendenkaru/emr-auth/internal/auth/service"
	"github.com/opendenkaru/emr-auth/pkg/httpx"
	"github.com/opendenkaru/emr-auth/pkg/ratelimit"
	"github.com/opendenkaru/emr-auth/pkg/slogx"
)

// LoginHandler handles POST /v1/auth/login. The endpoint serves both steps
// of a login: the password step, and (when the response asked for it) the
// MFA completion step carrying the challenge token.
type LoginHandler struct {
	AuthService *service.AuthService
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON body")
		return
	}

	ip := ratelimit.ClientIP(r)
	ua := r.UserAgent()

	if req.MFAToken != "" {
		pair, err := h.AuthService.CompleteMFALogin(ctx, service.MFALoginParams{
			MFAToken:  req.MFAToken,
			Method:    req.Method,
			Code:      req.Code,
			IPAddress: ip,
			UserAgent: ua,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeTokenPair(w, pair)
		return
	}

	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	pair, err := h.AuthService.Login(ctx, service.LoginParams{
		Username:  req.Username,
		Password:  req.Password,
		IPAddress: ip,
		UserAgent: ua,
	})
	if err != nil {
		var mfaErr *service.MFARequiredError
		if errors.As(err, &mfaErr) {
			httpx.NoCache(w)
			httpx.WriteJSON(w, http.StatusOK, MFARequiredResponse{
				MFARequired: true,
				MFAToken:    mfaErr.MFAToken,
				Methods:     mfaErr.Methods,
			})
			return
		}
		if !errors.Is(err, service.ErrInvalidCredentials) {
			log.Error("login failed", "err", err)
		}
		writeServiceError(w, err)
		return
	}

	writeTokenPair(w, pair)
}
