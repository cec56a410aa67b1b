package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(g.metrics.middleware)

	// Public: no auth required.
	r.Get("/health", g.handleHealth())
	r.Handle("/metrics", promhttp.HandlerFor(g.deps.Gatherer, promhttp.HandlerOpts{}))

	// Admin endpoints are not mounted without a token.
	if g.config.BearerToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(g.config.BearerToken, g.logger))
			r.Get("/status", g.handleStatus())
			if g.deps.Resetter != nil {
				r.Route("/api/reset", func(r chi.Router) {
					r.Get("/summary", g.handleResetSummary())
					r.Post("/", g.handleReset())
				})
			}
		})
	}

	return r
}
