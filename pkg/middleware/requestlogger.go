package middleware

import (
	"log/slog"
	"net/http"

	"github.com/tophergates/mws-restaurant-reviews/pkg/logger"
)

// RequestLogger stores a request-scoped logger, enriched with correlation_id,
// trace_id and span_id, in the request context. Handlers fetch it with
// logger.FromContext.
//
// Mount it after RequestLogging and Tracing.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			enriched := logger.WithContext(ctx, base).With(
				slog.String("route", r.Method+" "+r.URL.Path),
			)
			next.ServeHTTP(w, r.WithContext(logger.NewContext(ctx, enriched)))
		})
	}
}
