package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geoprox/proxcache/internal/health"
	"github.com/geoprox/proxcache/internal/middleware"
)

// NewRouter wires the public HTTP surface: health, metrics, and the
// proximity-cache endpoints, behind the standard recover/logging/CORS/
// rate-limit middleware chain (spec section 6).
func NewRouter(logger *slog.Logger, h *Handlers, rateLimit int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover())
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())
	if rateLimit > 0 {
		r.Use(middleware.NewRateLimiter(rateLimit, time.Minute).Middleware())
	}

	r.Get("/healthz", health.Liveness())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1/properties", func(r chi.Router) {
		r.Get("/", h.ListProperties)
		r.Post("/", h.AddProperty)
		r.Get("/nearby", h.Nearby)
		r.Get("/coordinate-range-indexing", h.RangeQuery)
		r.Get("/aggregate", h.Facets)
		r.Get("/get-property/{id}", h.GetProperty)
		r.Get("/cacheStats", h.CacheStats)
		r.Delete("/clear-cache", h.ClearCache)
	})

	return r
}
