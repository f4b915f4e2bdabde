// Package app assembles the licensed web server: configuration,
// logging, telemetry, the license service, and the chi router with the
// license gate in front of every application route.
package app

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"licctl/internal/config"
	"licctl/internal/infrastructure"
	"licctl/internal/license"
	"licctl/internal/middleware"
	"licctl/internal/security"
)

// Application is the licensed web server.
type Application struct {
	cfg       *config.Config
	paths     *config.Paths
	logger    *slog.Logger
	providers *infrastructure.OTelProviders
	service   *LicenseService
	gate      *middleware.LicenseGate
	router    chi.Router
}

// NewApplication builds the server from configuration.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	paths, err := config.GetPaths(cfg.Paths)
	if err != nil {
		return nil, err
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	public, err := loadPublicKey(cfg, paths)
	if err != nil {
		return nil, err
	}

	metrics, err := license.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create license metrics: %w", err)
	}

	fingerprint := security.NewFingerprintManager(logger)
	machineID, err := fingerprint.MachineID()
	if err != nil {
		return nil, fmt.Errorf("failed to compute machine fingerprint: %w", err)
	}

	service := NewLicenseService(
		paths.LicenseFile,
		license.NewVerifier(public, metrics, logger),
		fingerprint,
		security.NewTimeValidator(paths.StateFile, machineID, logger),
		cfg.License.StrictTimeCheck,
		logger,
	)
	gate := middleware.NewLicenseGate(service, cfg.License.RevalidateInterval, logger)

	app := &Application{
		cfg:       cfg,
		paths:     paths,
		logger:    logger,
		providers: providers,
		service:   service,
		gate:      gate,
	}
	app.router = app.routes()
	return app, nil
}

// loadPublicKey prefers the key embedded in configuration; licensed
// deployments ship without the key store.
func loadPublicKey(cfg *config.Config, paths *config.Paths) (*rsa.PublicKey, error) {
	if cfg.License.PublicKeyPEM != "" {
		return license.ParsePublicKeyPEM([]byte(cfg.License.PublicKeyPEM))
	}
	return license.NewKeyStore(paths.KeysDir, nil).LoadPublicKey()
}

func (a *Application) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RateLimit(a.cfg.Server.RateLimit, a.logger))
	r.Use(a.gate.Handler)

	r.Get("/healthz", a.handleHealth)
	if a.providers.PrometheusHTTP != nil {
		r.Handle("/metrics", a.providers.PrometheusHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/license", func(r chi.Router) {
			r.Get("/status", a.handleLicenseStatus)
			r.Get("/machine-id", a.handleMachineID)
		})
		// Everything below is gated: reachable only with a valid
		// license.
		r.Get("/app/status", a.handleAppStatus)
	})
	return r
}

// Run serves until SIGINT/SIGTERM, then drains connections.
func (a *Application) Run() error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("licensed web server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		a.logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if a.providers != nil {
		if err := a.providers.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}
	return infrastructure.CloseLogger()
}

// Router exposes the handler for tests.
func (a *Application) Router() http.Handler {
	return a.router
}

// StartupCheck refuses to boot without a valid license. The gate then
// keeps enforcing at runtime as the license ages or is swapped.
func (a *Application) StartupCheck(ctx context.Context) error {
	result, err := a.service.Check(ctx)
	if err != nil {
		return err
	}
	if !result.Valid() {
		return fmt.Errorf("installed license is %s", result.Code)
	}
	a.logger.Info("license verified",
		slog.String("license_id", result.Payload.LicenseID),
		slog.String("licensee", result.Payload.Licensee),
		slog.String("type", string(result.Payload.Type)))
	return nil
}
