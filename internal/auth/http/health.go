package http

import (
	"context"
	"net/http"
	"time"

	"github.com/opendenkaru/emr-auth/internal/auth/store"
	"github.com/opendenkaru/emr-auth/pkg/httpx"
	"github.com/opendenkaru/emr-auth/pkg/ratelimit"
)

// LivezHandler returns 200 whenever the process is up.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler checks the database and the rate-limit backend. A dead
// rate-limit store degrades the report but does not fail readiness: the
// limiter fails open, so the service can still authenticate users.
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.Store,
	limitStore ratelimit.Store,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &HealthChecks{
			Database:  "ok",
			RateLimit: "ok",
		}
		overallStatus := "ok"
		statusCode := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Database = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		if err := pingLimitStore(r.Context(), limitStore); err != nil {
			checks.RateLimit = "degraded: " + err.Error()
			if overallStatus == "ok" {
				overallStatus = "degraded"
			}
		}

		httpx.WriteJSON(w, statusCode, HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}

func pingLimitStore(ctx context.Context, s ratelimit.Store) error {
	type pinger interface {
		Ping(ctx context.Context) error
	}
	if p, ok := s.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
