/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zerolog request log line
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus counters and latency by route
  5. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/1.0/*     Public read API
  /api/admin/*   Admin operations
  /metrics       Prometheus
  /healthz       Liveness and snapshot status

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

// NewRouter creates a new router with all routes configured. metrics may
// be nil.
func NewRouter(h *Handler, metrics *Metrics, origins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if metrics != nil {
		r.Use(metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/1.0", func(r chi.Router) {
			// Spending routes
			r.Get("/spending/", h.TotalSpending)
			r.Get("/spending_by_ccg/", h.SpendingByCCG)
			r.Get("/spending_by_practice/", h.SpendingByPractice)
			r.Get("/spending_by_org/", h.SpendingByOrg)

			// Concession routes
			r.Get("/tariff/", h.Tariff)
			r.Route("/concessions", func(r chi.Router) {
				r.Get("/compare/", h.CompareConcessions)
				r.Get("/all_england/", h.ConcessionSummary)
				r.Get("/all_england/breakdown/", h.ConcessionBreakdown)
				r.Get("/{org_type}/{code}/", h.ConcessionSummary)
				r.Get("/{org_type}/{code}/breakdown/", h.ConcessionBreakdown)
			})
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/snapshot/reload", h.ReloadSnapshot)
		})
	})

	r.Get("/healthz", h.Health)
	if metrics != nil {
		r.Handle("/metrics", metrics.Handler())
	}

	return r
}

// requestLogger writes one zerolog line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}
