// Package api is the HTTP surface: routing, middleware, request
// decoding, and the mapping from domain outcomes to status codes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Ajkolaganti/VoiceScriptAi/internal/cache"
	"github.com/Ajkolaganti/VoiceScriptAi/internal/config"
	"github.com/Ajkolaganti/VoiceScriptAi/internal/database"
	"github.com/Ajkolaganti/VoiceScriptAi/internal/metrics"
)

// Deps bundles the collaborators the router hands to its handlers.
type Deps struct {
	DB        *database.DB
	Cache     *cache.Cache
	Orch      Submitter
	Billing   CheckoutClient
	Lifecycle EventProcessor
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, deps Deps, version string, startTime time.Time, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	health := NewHealthHandler(deps.DB, cacheChecker(deps.Cache), version, startTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	// The webhook authenticates itself by signature; bearer auth and
	// rate limiting would only break the provider's deliveries.
	webhook := NewWebhookHandler(deps.Lifecycle, cfg.StripeWebhookSecret, log)
	r.Post("/api/v1/webhooks/stripe", webhook.ServeHTTP)

	transcribe := NewTranscribeHandler(deps.Orch, cfg.MaxUploadBytes, log)
	profile := NewProfileHandler(deps.DB, cfg.SignupCredits, log)
	billing := NewBillingHandler(deps.DB, deps.Billing, log)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))

		// Only the billable endpoint is rate limited.
		limit := RateLimit(rateLimiter(deps.Cache), cfg.RateLimitMax, cfg.RateLimitWindow)
		r.With(limit).Post("/api/v1/transcribe", transcribe.ServeHTTP)

		r.Post("/api/v1/profile", profile.Ensure)
		r.Get("/api/v1/profile/{userID}", profile.Get)
		r.Get("/api/v1/transcripts/{userID}", profile.Transcripts)
		r.Post("/api/v1/checkout-session", billing.CreateCheckout)
		r.Post("/api/v1/cancel-subscription", billing.CancelSubscription)
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// rateLimiter and cacheChecker keep typed nils out of the interfaces
// when no cache is configured.
func rateLimiter(c *cache.Cache) RateLimiter {
	if c == nil {
		return nil
	}
	return c
}

func cacheChecker(c *cache.Cache) CacheChecker {
	if c == nil {
		return nil
	}
	return c
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
