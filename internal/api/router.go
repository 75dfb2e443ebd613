package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/fashcheck/fashcheck/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Quota status and tier catalogue
	ListQuota http.HandlerFunc
	GetQuota  http.HandlerFunc
	ListTiers http.HandlerFunc
	GetMyTier http.HandlerFunc

	// Gated AI operations, one route per action key
	GatedActions []string
	RequireQuota func(action string) func(http.Handler) http.Handler
	AIAction     func(action string) http.HandlerFunc

	// Activity log
	ListActivity  http.HandlerFunc
	ActivityStats http.HandlerFunc

	// Analytics
	RecordFeedback http.HandlerFunc
	GetAnalytics   http.HandlerFunc

	// Auth middleware
	AuthMiddleware func(http.Handler) http.Handler
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	APIRateLimiter     func(http.Handler) http.Handler
	// HealthChecks are probed by /health/ready. A nil entry is reported as
	// "not configured".
	HealthChecks map[string]HealthCheck
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		health := map[string]string{"status": "healthy"}
		status := http.StatusOK
		for name, check := range cfg.HealthChecks {
			if check == nil {
				health[name] = "not configured"
				continue
			}
			if err := check(ctx); err != nil {
				health[name] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			health[name] = "healthy"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.APIRateLimiter != nil {
			r.Use(cfg.APIRateLimiter)
		}

		// Public tier catalogue
		r.Get("/tiers", h.ListTiers)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/tiers/me", h.GetMyTier)

			r.Route("/quota", func(r chi.Router) {
				r.Get("/", h.ListQuota)
				r.Get("/{action}", h.GetQuota)
			})

			if h.AIAction != nil {
				r.Route("/ai", func(r chi.Router) {
					for _, action := range h.GatedActions {
						r.With(h.RequireQuota(action)).Post("/"+action, h.AIAction(action))
					}
				})
			}

			r.Route("/activity", func(r chi.Router) {
				r.Get("/", h.ListActivity)
				r.Get("/stats", h.ActivityStats)
			})

			r.Route("/analytics", func(r chi.Router) {
				r.Get("/", h.GetAnalytics)
				r.Post("/feedback", h.RecordFeedback)
			})
		})
	})

	return r
}
