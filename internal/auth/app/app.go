package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/opendenkaru/emr-auth/internal/auth/http"
	"github.com/opendenkaru/emr-auth/internal/auth/service"
	"github.com/opendenkaru/emr-auth/internal/auth/store"
	"github.com/opendenkaru/emr-auth/internal/auth/store/drivers/sqlite"
	"github.com/opendenkaru/emr-auth/pkg/cryptox"
	"github.com/opendenkaru/emr-auth/pkg/jwtx"
	"github.com/opendenkaru/emr-auth/pkg/ratelimit"
	"github.com/opendenkaru/emr-auth/pkg/slogx"
	"github.com/redis/go-redis/v9"
)

// BuildVersion is overridden at build time via ldflags.
var BuildVersion = "v0.1.0"

// Application encapsulates the auth service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db          store.Store
	keyManager  *jwtx.KeyManager
	fieldCipher *cryptox.FieldCipher
	redisClient *redis.Client
	limitStore  ratelimit.Store
	limiter     *ratelimit.Limiter

	// Services
	tokenService        *service.TokenService
	authService         *service.AuthService
	mfaService          *service.MFAService
	auditLog            *service.AuditLog
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "emr-auth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	keyManager, fieldCipher, err := initKeys(cfg)
	if err != nil {
		return nil, err
	}
	app.keyManager = keyManager
	app.fieldCipher = fieldCipher

	app.initRateLimiter()

	if err := app.initServices(); err != nil {
		return nil, err
	}

	if err := app.bootstrap(context.Background()); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("auth service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	// Drain outstanding audit events before closing the database they write to.
	app.auditLog.Close()

	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initRateLimiter selects the rate-limit backend: Redis when configured,
// otherwise the in-memory store (single-process deployments).
func (app *Application) initRateLimiter() {
	if app.cfg.RedisAddr != "" {
		app.redisClient = redis.NewClient(&redis.Options{Addr: app.cfg.RedisAddr})
		app.limitStore = ratelimit.NewRedisStore(app.redisClient)
		app.logger.Info("rate limiting backed by redis", "addr", app.cfg.RedisAddr)
	} else {
		app.limitStore = ratelimit.NewMemoryStore()
		app.logger.Info("rate limiting backed by in-memory store")
	}

	app.limiter = ratelimit.New(app.limitStore, ratelimit.DefaultLimits(), app.logger)
}

// initServices initializes all business logic services
func (app *Application) initServices() error {
	app.auditLog = service.NewAuditLog(app.db, app.fieldCipher, app.logger, app.cfg.AuditBuffer)

	app.tokenService = service.NewTokenService(
		app.keyManager,
		app.cfg.Issuer,
		app.cfg.AccessTokenTTL,
		app.cfg.RefreshTokenTTL,
	)

	authService, err := service.NewAuthService(
		app.db,
		app.tokenService,
		&service.RiskScorer{Store: app.db},
		app.auditLog,
	)
	if err != nil {
		return fmt.Errorf("auth service: %w", err)
	}
	authService.RotateRefreshTokens = app.cfg.RotateRefreshTokens
	app.authService = authService

	app.mfaService = &service.MFAService{
		Store:  app.db,
		Issuer: app.cfg.Issuer,
		Audit:  app.auditLog,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)

	return nil
}

// bootstrap seeds the clinical roles and, when configured and the database
// is empty, the initial admin account.
func (app *Application) bootstrap(ctx context.Context) error {
	if err := service.EnsureDefaultRoles(ctx, app.db, app.logger); err != nil {
		return err
	}

	if app.cfg.AdminUsername == "" || app.cfg.AdminPassword == "" {
		return nil
	}

	empty, err := app.db.Accounts().IsEmpty(ctx)
	if err != nil {
		return err
	}
	if !empty {
		return nil
	}

	_, err = app.authService.Register(ctx, service.RegisterParams{
		Username: app.cfg.AdminUsername,
		Email:    app.cfg.AdminEmail,
		FullName: "Administrator",
		Password: app.cfg.AdminPassword,
		Role:     service.RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("seed admin account: %w", err)
	}

	app.logger.Info("seeded initial admin account", "username", app.cfg.AdminUsername)
	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keyManager.Verifier,
		app.limiter,
		app.limitStore,
		BuildVersion,
		app.db,
		app.logger,
	)

	router.AuthService = app.authService
	router.MFAService = app.mfaService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
