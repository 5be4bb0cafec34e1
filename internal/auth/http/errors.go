package http

import (
	"errors"
	"net/http"

	"github.com/opendenkaru/emr-auth/internal/auth/service"
	"github.com/opendenkaru/emr-auth/pkg/httpx"
)

// writeServiceError maps service-layer errors onto HTTP responses. Anything
// unmapped is a 500 with a generic body; internal detail never crosses the
// boundary.
func writeServiceError(w http.ResponseWriter, err error) {
	var policyErr *service.PasswordPolicyError
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials",
			"Invalid username or password")

	case errors.Is(err, service.ErrInvalidRefresh):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_refresh_token",
			"Refresh token is invalid or expired")

	case errors.Is(err, service.ErrTooManyAttempts):
		httpx.WriteError(w, http.StatusUnauthorized, "too_many_attempts",
			"Too many failed attempts, start over")

	case errors.Is(err, service.ErrInvalidMFACode):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_code",
			"Invalid verification code")

	case errors.Is(err, service.ErrMFANotEnabled):
		httpx.WriteError(w, http.StatusBadRequest, "mfa_not_enabled",
			"MFA is not enabled for this user")

	case errors.Is(err, service.ErrMFAAlreadyEnabled):
		httpx.WriteError(w, http.StatusBadRequest, "mfa_already_enabled",
			"MFA is already enabled for this user")

	case errors.Is(err, service.ErrSessionNotFound):
		httpx.WriteError(w, http.StatusNotFound, "session_not_found",
			"No such session")

	case errors.As(err, &policyErr):
		body := httpx.ErrorBody{
			Error:   "weak_password",
			Detail:  "Password does not meet the policy",
			Details: policyErr.Violations,
		}
		httpx.WriteJSON(w, http.StatusBadRequest, body)

	default:
		httpx.WriteError(w, http.StatusInternalServerError, "server_error",
			"Internal server error")
	}
}

func writeBadRequest(w http.ResponseWriter, detail string) {
	httpx.WriteError(w, http.StatusBadRequest, "invalid_request", detail)
}
