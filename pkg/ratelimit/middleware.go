package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
)

// KeyExtractor derives the client identity used to partition limits:
// authenticated account id when available, otherwise a normalized client
// IP.
type KeyExtractor func(*http.Request) string

// ClassResolver maps a request to its limit class.
type ClassResolver func(*http.Request) string

// ClientIP extracts the client address, honoring the first hop of an
// X-Forwarded-For chain and X-Real-IP for proxied deployments, then falling
// back to the direct peer.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok || first != "" {
			return strings.TrimSpace(first)
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// IPKey is a KeyExtractor over ClientIP.
func IPKey(r *http.Request) string { return "ip:" + ClientIP(r) }

// UserKey prefers an account id from userID, falling back to the client IP.
// The userID func typically reads the authenticated principal from the
// request context.
func UserKey(userID func(*http.Request) string) KeyExtractor {
	return func(r *http.Request) string {
		if id := userID(r); id != "" {
			return "user:" + id
		}
		return IPKey(r)
	}
}

// FixedClass resolves every request to one class.
func FixedClass(class string) ClassResolver {
	return func(*http.Request) string { return class }
}

// EmergencyOverride upgrades requests carrying the emergency access header
// to the emergency class; everything else keeps the base class. The header
// is trusted here; auditing of emergency access happens downstream.
func EmergencyOverride(base string) ClassResolver {
	return func(r *http.Request) string {
		if r.Header.Get("X-Emergency-Access") == "true" {
			return ClassEmergency
		}
		return base
	}
}

// Middleware gates each request through the limiter before the handler
// runs. Rejections get 429 with Retry-After; admitted responses still carry
// the X-RateLimit-* budget headers so clients can pace themselves.
func Middleware(l *Limiter, key KeyExtractor, class ClassResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := l.Check(r.Context(), key(r), class(r))

			if res.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
				if !res.Reset.IsZero() {
					w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
				}
			}

			if !res.Allowed {
				retryAfter := int(res.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded","retry_after":` +
					strconv.Itoa(retryAfter) + `}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
