// Package api exposes the directory over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aryangodara/dalil"
	"github.com/aryangodara/dalil/config"
	"github.com/aryangodara/dalil/metrics"
)

type RouterConfig struct {
	Service    ListingService
	Limiter    dalil.Strategy
	RateLimits config.RateLimitConfig
	AdminToken string
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	// Gatherer backs GET /metrics; nil leaves the endpoint out.
	Gatherer prometheus.Gatherer
}

// NewRouter wires every route with its rate limit policy.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := NewHandler(cfg.Service, logger)

	limit := func(policy string, extractor dalil.Extractor) func(http.Handler) http.Handler {
		return dalil.RateLimit(&dalil.RateLimiterConfig{
			Extractor: extractor,
			Strategy:  cfg.Limiter,
			Policy:    cfg.RateLimits.Policy(policy),
			Logger:    logger,
			Metrics:   cfg.Metrics,
		})
	}
	byIP := func(policy string) func(http.Handler) http.Handler {
		return limit(policy, dalil.NewActionExtractor(policy, dalil.NewClientIPExtractor()))
	}
	byUser := func(policy string) func(http.Handler) http.Handler {
		return limit(policy, dalil.NewActionExtractor(policy, dalil.NewHttpHeaderExtractor(headerUserID)))
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.Recoverer)
	r.Use(AccessLog(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.With(byIP(config.PolicyDetectLocation)).Post("/location/detect", h.HandleDetectLocation)

		r.Route("/listings", func(r chi.Router) {
			r.With(byIP(config.PolicySearch)).Get("/", h.HandleSearch)
			r.With(byUser(config.PolicyCreateListing)).Post("/", h.HandleSubmit)
			r.Get("/{id}", h.HandleGet)
			r.With(byUser(config.PolicyConfirmLocation)).Post("/{id}/location-confirmation", h.HandleConfirmLocation)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdminToken(cfg.AdminToken, logger))
			r.Get("/review-queue", h.HandleReviewQueue)
			r.Post("/listings/{id}/approve", h.HandleApprove)
			r.Post("/listings/{id}/reject", h.HandleReject)
			r.Post("/listings/{id}/verify-location", h.HandleVerifyLocation)
		})
	})

	return r
}
