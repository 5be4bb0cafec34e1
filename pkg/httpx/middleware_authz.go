package httpx

import (
	"net/http"
	"strings"
)

// RequireAnyPermission admits the request when the caller holds at least
// one of the listed permissions.
func RequireAnyPermission(required ...string) Middleware {
	want := make(map[string]struct{}, len(required))
	for _, p := range required {
		want[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			have := permissionsFromCtx(r.Context())

			for _, p := range have {
				if _, ok := want[p]; ok {
					next.ServeHTTP(w, r)
					return
				}
			}

			writePermissionError(w, required...)
		})
	}
}

// RequireAllPermissions admits the request only when every listed
// permission is held.
func RequireAllPermissions(required ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			have := make(map[string]struct{})
			for _, p := range permissionsFromCtx(r.Context()) {
				have[p] = struct{}{}
			}

			for _, req := range required {
				if _, ok := have[req]; !ok {
					writePermissionError(w, required...)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writePermissionError(w http.ResponseWriter, required ...string) {
	w.Header().
		Set("WWW-Authenticate", `Bearer error="insufficient_scope", scope="`+strings.Join(required, " ")+`"`)
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte("insufficient_permission"))
}
