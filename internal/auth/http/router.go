package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/opendenkaru/emr-auth/internal/auth/service"
	"github.com/opendenkaru/emr-auth/internal/auth/store"
	"github.com/opendenkaru/emr-auth/pkg/httpx"
	"github.com/opendenkaru/emr-auth/pkg/jwtx"
	"github.com/opendenkaru/emr-auth/pkg/ratelimit"
	"github.com/opendenkaru/emr-auth/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	verifier     *jwtx.Verifier
	limiter      *ratelimit.Limiter
	limitStore   ratelimit.Store
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store       store.Store
	AuthService *service.AuthService
	MFAService  *service.MFAService
}

func NewRouter(
	verifier *jwtx.Verifier,
	limiter *ratelimit.Limiter,
	limitStore ratelimit.Store,
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		verifier:     verifier,
		limiter:      limiter,
		limitStore:   limitStore,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerMFA()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// userKey resolves the rate-limit subject for authenticated routes: the
// account id when present, the caller IP otherwise.
func userKey() ratelimit.KeyExtractor {
	return ratelimit.UserKey(func(req *http.Request) string {
		return httpx.UserIDFromContext(req.Context())
	})
}

// authed wraps an authenticated route with two rate-limit gates around
// token verification. The outer gate is keyed by IP so a flood of invalid
// bearer tokens consumes a budget before any verification work; the inner
// gate charges the verified user. Both gates resolve the same class, so
// an emergency override applies to either.
func (r *Router) authed(next http.Handler, class ratelimit.ClassResolver) http.Handler {
	return httpx.Chain(next,
		ratelimit.Middleware(r.limiter, ratelimit.IPKey, class),
		httpx.AuthnMiddleware(r.verifier),
		ratelimit.Middleware(r.limiter, userKey(), class),
	)
}

func (r *Router) registerAuth() {
	// POST /login - strict limit by IP (credential attempts)
	login := &LoginHandler{AuthService: r.AuthService}
	r.Mux.Handle("POST /v1/auth/login",
		httpx.Chain(login,
			ratelimit.Middleware(r.limiter, ratelimit.IPKey, ratelimit.FixedClass(ratelimit.ClassLogin)),
		),
	)

	// POST /refresh - unauthenticated API limit by IP
	refresh := &RefreshHandler{AuthService: r.AuthService}
	r.Mux.Handle("POST /v1/auth/refresh",
		httpx.Chain(refresh,
			ratelimit.Middleware(r.limiter, ratelimit.IPKey, ratelimit.FixedClass(ratelimit.ClassUnauthenticated)),
		),
	)

	// POST /logout - authenticated, limited by user
	logout := &LogoutHandler{AuthService: r.AuthService}
	r.Mux.Handle("POST /v1/auth/logout",
		r.authed(logout, ratelimit.FixedClass(ratelimit.ClassAuthenticated)))

	// POST /change-password - credential-reset budget by user
	changePassword := &ChangePasswordHandler{AuthService: r.AuthService}
	r.Mux.Handle("POST /v1/auth/change-password",
		r.authed(changePassword, ratelimit.FixedClass(ratelimit.ClassPasswordReset)))

	// GET /me and session listing honour the emergency-access override so a
	// clinician mid-emergency is never throttled to the normal API budget.
	me := &MeHandler{Store: r.store}
	r.Mux.Handle("GET /v1/auth/me",
		r.authed(me, ratelimit.EmergencyOverride(ratelimit.ClassAuthenticated)))

	sessions := &SessionsHandler{AuthService: r.AuthService}
	r.Mux.Handle("GET /v1/auth/sessions",
		r.authed(http.HandlerFunc(sessions.HandleList),
			ratelimit.EmergencyOverride(ratelimit.ClassAuthenticated)))
	r.Mux.Handle("DELETE /v1/auth/sessions/{id}",
		r.authed(http.HandlerFunc(sessions.HandleRevoke),
			ratelimit.FixedClass(ratelimit.ClassAuthenticated)))
}

func (r *Router) registerMFA() {
	h := &MFAHandler{MFAService: r.MFAService}

	authed := func(next http.Handler) http.Handler {
		return r.authed(next, ratelimit.FixedClass(ratelimit.ClassAuthenticated))
	}

	r.Mux.Handle("POST /v1/auth/mfa/enroll", authed(http.HandlerFunc(h.HandleEnroll)))
	r.Mux.Handle("POST /v1/auth/mfa/verify", authed(http.HandlerFunc(h.HandleVerify)))
	r.Mux.Handle("POST /v1/auth/mfa/disable", authed(http.HandlerFunc(h.HandleDisable)))
	r.Mux.Handle("POST /v1/auth/mfa/backup-codes", authed(http.HandlerFunc(h.HandleRegenerateBackupCodes)))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			ratelimit.Middleware(r.limiter, ratelimit.IPKey, ratelimit.FixedClass(ratelimit.ClassUnauthenticated)),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.limitStore),
			ratelimit.Middleware(r.limiter, ratelimit.IPKey, ratelimit.FixedClass(ratelimit.ClassUnauthenticated)),
		),
	)
}
