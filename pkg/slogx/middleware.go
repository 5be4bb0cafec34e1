package slogx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/opendenkaru/emr-auth/pkg/idx"
)

// HTTPMiddleware attaches a request-scoped logger (request id, method,
// path, peer) to the context and logs one line per request on the way
// out. Server errors log at Error and client errors at Warn so rejected
// requests are visible without raising the level.
//
// Request bodies and query strings are never logged; in this service
// they can carry credentials and patient identifiers.
func HTTPMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = idx.New().String()
			}
			// Echo the id so clients can quote it when reporting problems.
			rw.Header().Set("X-Request-ID", reqID)

			logger := base.With(
				slog.String("req_id", reqID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)

			next.ServeHTTP(rw, r.WithContext(WithContext(r.Context(), logger)))

			lvl := slog.LevelInfo
			switch {
			case rw.status >= 500:
				lvl = slog.LevelError
			case rw.status >= 400:
				lvl = slog.LevelWarn
			}
			logger.Log(r.Context(), lvl, "http_request",
				slog.Int("status", rw.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("user_agent", r.UserAgent()),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter

	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
