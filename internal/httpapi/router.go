// Package httpapi exposes the gateway's admin HTTP surface: health,
// aggregate stats, and provider introspection, built on the same
// chi router and middleware stack used for transport elsewhere in
// this codebase.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/iruldev/apigatewaycore/internal/apierrors"
)

// NewRouter builds the chi router for the admin surface. rps bounds
// inbound requests per second per client IP, using the same
// httprate-based limiter shape used elsewhere in this codebase.
func NewRouter(logger *slog.Logger, api *API, rps int) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(logger))

	if rps > 0 {
		r.Use(httprate.Limit(
			rps, time.Second,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(rateLimitExceeded),
			httprate.WithResponseHeaders(httprate.ResponseHeaders{
				Limit:      "X-RateLimit-Limit",
				Remaining:  "X-RateLimit-Remaining",
				Reset:      "X-RateLimit-Reset",
				RetryAfter: "Retry-After",
			}),
		))
	}

	r.Get("/health", api.Health)
	r.Get("/stats", api.Stats)
	r.Get("/providers", api.Providers)
	r.Post("/providers/{name}/breaker/force-open", api.ForceOpenBreaker)
	r.Post("/providers/{name}/breaker/reset", api.ResetBreaker)

	return r
}

func rateLimitExceeded(w http.ResponseWriter, r *http.Request) {
	writeProblem(w, apierrors.New(apierrors.KindRateLimited, "admin surface rate limit exceeded"))
}

// requestLogger logs each admin-surface request at Info level with
// method, path, status, and duration.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("admin request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"request_id", chimiddleware.GetReqID(r.Context()),
			)
		})
	}
}
