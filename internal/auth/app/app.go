package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	httpapi "github.com/aussiebroadwan/lapse/internal/auth/http"
	"github.com/aussiebroadwan/lapse/internal/auth/domain"
	"github.com/aussiebroadwan/lapse/internal/auth/service"
	"github.com/aussiebroadwan/lapse/internal/auth/store"
	"github.com/aussiebroadwan/lapse/pkg/mailx"
	"github.com/aussiebroadwan/lapse/pkg/slogx"
)

// BuildVersion is overridden at build time via -ldflags.
var BuildVersion = "v0.1.0"

// NewLogger builds the service logger from cfg.
func NewLogger(cfg Config) *slog.Logger {
	return slogx.New(slogx.Config{
		Service: "lapse",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})
}

// Application encapsulates the auth service application with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db     store.Store
	mailer mailx.Sender

	// Services
	magicLinkService *service.MagicLinkService
	sessionService   *service.SessionService
	sweeperService   *service.SweeperService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		cfg:    cfg,
		logger: logger,
	}

	// Refuse to start without a signing key.
	sessions, err := InitSessionService(cfg, logger)
	if err != nil {
		return nil, err
	}
	app.sessionService = sessions

	mailer, err := mailx.New(cfg.Mail(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mailer: %w", err)
	}
	app.mailer = mailer
	logger.Info("mailer ready", "mode", cfg.MailMode)

	if err := app.initStore(ctx); err != nil {
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Handler exposes the router, mainly for tests.
func (app *Application) Handler() http.Handler { return app.router }

// Run starts the sweeper and HTTP server and blocks until ctx is cancelled
// or the server fails.
func (app *Application) Run(ctx context.Context) error {
	app.sweeperService.Start()

	app.logger.Info("lapse starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"store", app.cfg.StoreDriver,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		_ = app.Shutdown()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		app.logger.Info("shutdown signal received")
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down lapse...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.sweeperService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing store", "error", err)
		return err
	}

	app.logger.Info("lapse stopped")
	return nil
}

// initStore connects to the token store and applies migrations
func (app *Application) initStore(ctx context.Context) error {
	db, err := OpenStore(ctx, app.cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply store migrations: %w", err)
	}

	app.logger.Info("store ready", "driver", app.cfg.StoreDriver)
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	app.magicLinkService = service.NewMagicLinkService(
		app.db,
		app.mailer,
		service.NewAllowList(app.cfg.AllowedEmails),
		domain.NewIdentityPolicy(app.cfg.AllowedDomains),
		service.MagicLinkConfig{
			BaseURL:     app.cfg.BaseURL,
			TTL:         app.cfg.MagicLinkTTL(),
			MailTimeout: app.cfg.MailTimeout,
		},
	)

	app.sweeperService = service.NewSweeperService(app.db, app.logger, app.cfg.SweepInterval)
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.logger)

	router.MagicLinkService = app.magicLinkService
	router.SessionService = app.sessionService
	router.Cookie = httpapi.CookieConfig{
		Name:   app.cfg.CookieName,
		Domain: app.cfg.CookieDomain,
		Secure: !app.cfg.IsDev(),
	}
	router.SuccessRedirect = app.cfg.SuccessRedirect
	router.LoginURL = app.cfg.LoginURL
	router.RateLimits = httpapi.RateLimits{
		Link:    app.cfg.RateLimitLink,
		Consume: app.cfg.RateLimitConsume,
		Session: app.cfg.RateLimitSession,
	}
	// Validate has already rejected a bad list.
	router.TrustedProxies, _ = app.cfg.Proxies()
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
