package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	"licctl/internal/config"
	licerrors "licctl/internal/errors"
)

// RateLimit bounds the request rate across the whole server. The
// license status endpoints are cheap but sit in front of an RSA
// verification on cache expiry, so an unauthenticated client should
// not be able to spin that loop freely.
func RateLimit(cfg config.RateLimitConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)

	return func(next http.Handler) http.Handler {
		if !cfg.Enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.Warn("request rate limited",
					slog.String("path", r.URL.Path),
					slog.String("remote", r.RemoteAddr))
				render.Render(w, r, licerrors.ErrRespRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
