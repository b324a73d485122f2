package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Usmaexe/artisanal-moroccan-market/pkg/health"
	"github.com/Usmaexe/artisanal-moroccan-market/pkg/middleware"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/service"
)

// RouterConfig holds the transport settings of the review API.
type RouterConfig struct {
	ServiceName string

	// TokenValidator verifies bearer tokens. Nil disables bearer auth.
	TokenValidator middleware.TokenValidator
	// TrustGatewayHeaders accepts X-User-ID / X-User-Role set by the gateway.
	TrustGatewayHeaders bool

	SubmitRateLimitRPS   float64
	SubmitRateLimitBurst int

	CORS           middleware.CORSConfig
	PprofCIDRs     []string
	RequestTimeout time.Duration
}

// NewRouter creates a chi router with all review service routes registered.
// Background work started by the router (rate-limit eviction) stops when ctx
// is done.
func NewRouter(
	ctx context.Context,
	reviewService *service.ReviewService,
	healthHandler *health.Handler,
	cfg RouterConfig,
	logger *slog.Logger,
) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(cfg.RequestTimeout))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	if len(cfg.PprofCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)
	}

	reviewHandler := NewReviewHandler(reviewService, logger)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.TokenValidator, cfg.TrustGatewayHeaders))
		r.Use(middleware.RequestLogger(logger))
		r.Use(ContentTypeJSON)

		r.Route("/api/v1/products/{productId}/reviews", func(r chi.Router) {
			r.Get("/", reviewHandler.ListReviews)

			r.With(submitLimiter(ctx, cfg, logger)).Post("/", reviewHandler.SubmitReview)
		})

		r.Route("/api/v1/reviews/{reviewId}", func(r chi.Router) {
			r.Get("/", reviewHandler.GetReview)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAuth)
				r.Put("/", reviewHandler.UpdateReview)
				r.Delete("/", reviewHandler.DeleteReview)
			})
		})

		r.Route("/api/v1/admin/products/{productId}/reviews", func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Use(middleware.RequireRole(service.RoleAdmin))
			r.Delete("/", reviewHandler.PurgeProductReviews)
		})
	})

	return r
}

func submitLimiter(ctx context.Context, cfg RouterConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if cfg.SubmitRateLimitRPS <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	burst := max(cfg.SubmitRateLimitBurst, 1)
	return middleware.RateLimit(ctx, cfg.SubmitRateLimitRPS, burst, logger)
}
