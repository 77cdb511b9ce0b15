package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tophergates/mws-restaurant-reviews/pkg/health"
	"github.com/tophergates/mws-restaurant-reviews/pkg/httputil"
	"github.com/tophergates/mws-restaurant-reviews/pkg/middleware"
)

const serviceName = "restaurant-reviews"

// RouterOptions carries the edge settings of the router.
type RouterOptions struct {
	CORS       middleware.CORSConfig
	PprofCIDRs []string
	// RateLimit guards the JSON API. Nil disables rate limiting.
	RateLimit func(http.Handler) http.Handler
	// Assets serves every path outside the API, normally the cache proxy.
	// Nil answers 404.
	Assets http.Handler
}

// NewRouter creates a chi router with the JSON API, health, metrics and the
// asset proxy mounted.
func NewRouter(
	restaurants *RestaurantHandler,
	healthHandler *health.Handler,
	logger *slog.Logger,
	opts RouterOptions,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	middleware.RegisterPprof(r, opts.PprofCIDRs, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(opts.CORS))
		r.Use(middleware.NoStore())
		r.Use(chimw.Compress(5))
		r.Use(chimw.Timeout(30 * time.Second))
		if opts.RateLimit != nil {
			r.Use(opts.RateLimit)
		}
		r.Use(ContentTypeJSON)

		r.Route("/restaurants", func(r chi.Router) {
			r.Get("/", restaurants.ListRestaurants)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", restaurants.GetRestaurant)
				r.Put("/favorite", restaurants.SetFavorite)
				r.Get("/reviews", restaurants.ListRestaurantReviews)
				r.Post("/reviews", restaurants.AddReview)
				r.Post("/reviews/sync", restaurants.SyncRestaurantReviews)
			})
		})

		r.Get("/neighborhoods", restaurants.ListNeighborhoods)
		r.Get("/cuisines", restaurants.ListCuisines)

		r.Get("/reviews", restaurants.ListReviews)
		r.Post("/reviews/sync", restaurants.SyncPending)
		r.Get("/reviews/{id}", restaurants.GetReview)
	})

	if opts.Assets != nil {
		r.NotFound(opts.Assets.ServeHTTP)
	}

	return r
}

// ContentTypeJSON rejects request bodies that are not JSON.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "UNSUPPORTED_MEDIA_TYPE", Message: "Content-Type must be application/json"},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
