package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-billing/internal/app"
	"github.com/noah-isme/backend-billing/internal/common"
	"github.com/noah-isme/backend-billing/internal/health"
	"github.com/noah-isme/backend-billing/internal/invoice"
	"github.com/noah-isme/backend-billing/internal/obs"
	"github.com/noah-isme/backend-billing/internal/ratelimit"
	"github.com/noah-isme/backend-billing/internal/security"
)

type routerConfig struct {
	Deps        *app.Dependencies
	Logger      zerolog.Logger
	Tracing     bool
	Metrics     bool
	HTTPMetrics *obs.HTTPMetrics
	// MetricsHandler defaults to promhttp.Handler().
	MetricsHandler http.Handler
	Pprof          http.Handler
	Health         health.Handler
	// HSTSMaxAge enables Strict-Transport-Security on TLS requests.
	HSTSMaxAge time.Duration
}

func newRouter(rc routerConfig) http.Handler {
	cfg := rc.Deps.Config

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if rc.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if rc.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: rc.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: rc.Logger}.Middleware)
	r.Use(security.Headers{Enable: cfg.SecurityHeadersEnabled, HSTSMaxAge: rc.HSTSMaxAge}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", common.IdempotencyHeader},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	if rc.Metrics {
		metricsHandler := rc.MetricsHandler
		if metricsHandler == nil {
			metricsHandler = promhttp.Handler()
		}
		r.Handle("/metrics", metricsHandler)
	}
	if rc.Pprof != nil {
		r.Mount("/debug/pprof", rc.Pprof)
	}
	r.Get("/health/live", rc.Health.Live)
	r.Get("/health/ready", rc.Health.Ready)

	limit := ratelimit.Handler{
		Limiter: rc.Deps.Limiter,
		Config: ratelimit.Config{
			Key:    ratelimit.KeyByClientIP("api:"),
			Window: cfg.RateLimitWindow,
			Max:    cfg.RateLimitMax,
		},
		OnError: func(err error) {
			rc.Logger.Error().Err(err).Msg("rate limiter unavailable")
		},
	}
	invoiceHandler := &invoice.Handler{Svc: rc.Deps.Invoice}

	var paymentMW []func(http.Handler) http.Handler
	if rc.Deps.Redis != nil {
		paymentMW = append(paymentMW, common.Idem{R: rc.Deps.Redis, TTL: cfg.IdempotencyTTL}.Middleware)
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(limit.Middleware)
		v.Use(security.BodyLimit{Max: cfg.BodyLimitBytes, JSONOnly: true}.Middleware)
		invoiceHandler.Routes(v, paymentMW...)
	})
	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
