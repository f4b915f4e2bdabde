// Package middleware provides the HTTP middleware for license-gated
// services: the license gate itself and request rate limiting.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	licerrors "licctl/internal/errors"
	"licctl/internal/license"
	"licctl/internal/security"
)

// Checker produces the current license verdict. The error return is
// for infrastructure failures (missing or unreadable license file,
// clock rollback); protocol-level rejections come back inside the
// VerificationResult.
type Checker interface {
	Check(ctx context.Context) (license.VerificationResult, error)
}

// LicenseGate refuses requests while the installed license does not
// verify. Verdicts are cached for a revalidation interval so the gate
// costs one RSA operation per interval, not per request.
type LicenseGate struct {
	checker       Checker
	logger        *slog.Logger
	revalidate    time.Duration
	excludedPaths []string

	mu        sync.Mutex
	cached    *license.VerificationResult
	cachedErr error
	checkedAt time.Time
}

// NewLicenseGate creates the gate. Paths under the excluded prefixes
// (health, metrics, the license status endpoint itself) bypass the
// check so an unlicensed service can still report why it refuses to
// serve.
func NewLicenseGate(checker Checker, revalidate time.Duration, logger *slog.Logger) *LicenseGate {
	if logger == nil {
		logger = slog.Default()
	}
	if revalidate <= 0 {
		revalidate = 5 * time.Minute
	}
	return &LicenseGate{
		checker:    checker,
		logger:     logger.With(slog.String("component", "license_gate")),
		revalidate: revalidate,
		excludedPaths: []string{
			"/healthz",
			"/metrics",
			"/api/license/",
		},
	}
}

// Handler returns the middleware handler.
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tracer := otel.Tracer("license-gate")
		ctx, span := tracer.Start(ctx, "license_gate.check",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.Path),
			),
		)
		defer span.End()

		if g.excluded(r.URL.Path) {
			span.SetAttributes(attribute.String("license.check", "excluded"))
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		result, err := g.verdict(ctx)
		reqID := chimw.GetReqID(ctx)
		if err != nil {
			span.SetAttributes(attribute.String("license.check", "error"))
			g.logger.WarnContext(ctx, "license check failed",
				slog.String("request_id", reqID),
				slog.String("error", err.Error()))
			render.Render(w, r, responseForError(err))
			return
		}
		if !result.Valid() {
			span.SetAttributes(attribute.String("license.check", string(result.Code)))
			g.logger.WarnContext(ctx, "request rejected, license invalid",
				slog.String("request_id", reqID),
				slog.String("reason", string(result.Code)))
			render.Render(w, r, responseForResult(*result))
			return
		}

		span.SetAttributes(attribute.String("license.check", "valid"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Invalidate drops the cached verdict so the next request re-checks,
// e.g. after a new license file was installed.
func (g *LicenseGate) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cached = nil
	g.cachedErr = nil
}

func (g *LicenseGate) verdict(ctx context.Context) (*license.VerificationResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if (g.cached != nil || g.cachedErr != nil) && time.Since(g.checkedAt) < g.revalidate {
		return g.cached, g.cachedErr
	}

	result, err := g.checker.Check(ctx)
	g.checkedAt = time.Now()
	if err != nil {
		g.cached, g.cachedErr = nil, err
		return nil, err
	}
	g.cached, g.cachedErr = &result, nil
	return g.cached, nil
}

func (g *LicenseGate) excluded(path string) bool {
	for _, prefix := range g.excludedPaths {
		if path == strings.TrimSuffix(prefix, "/") || strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func responseForResult(result license.VerificationResult) render.Renderer {
	switch result.Code {
	case license.ResultMalformed:
		if result.Err != nil {
			return licerrors.MalformedResponse(result.Err)
		}
		return licerrors.MalformedResponse(licerrors.ErrMalformedArtifact)
	case license.ResultSignatureMismatch:
		return licerrors.ErrRespSignatureMismatch
	case license.ResultExpired:
		return licerrors.ErrRespLicenseExpired
	case license.ResultMachineMismatch:
		return licerrors.ErrRespMachineMismatch
	default:
		return licerrors.InternalResponse(errors.New("unexpected verification result"))
	}
}

func responseForError(err error) render.Renderer {
	switch {
	case errors.Is(err, security.ErrClockRollback):
		return licerrors.ErrRespClockRollback
	case errors.Is(err, os.ErrNotExist):
		return licerrors.ErrRespLicenseNotFound
	default:
		return licerrors.InternalResponse(err)
	}
}
