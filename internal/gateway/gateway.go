// Package gateway is the client for the remote restaurant API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tophergates/mws-restaurant-reviews/internal/domain"
	apperrors "github.com/tophergates/mws-restaurant-reviews/pkg/errors"
	"github.com/tophergates/mws-restaurant-reviews/pkg/httpclient"
	"github.com/tophergates/mws-restaurant-reviews/pkg/tracing"
	"github.com/tophergates/mws-restaurant-reviews/pkg/validator"
)

const (
	upstream   = "restaurant-api"
	tracerName = "github.com/tophergates/mws-restaurant-reviews/internal/gateway"

	// maxDrain bounds how much of an unwanted response body is read so the
	// connection can be reused.
	maxDrain = 64 << 10
)

// Gateway talks to the restaurant API. It never retries. Transport failures
// and temporary statuses are returned as network errors for the caller to
// fall back on; other refusals are returned as rejections.
type Gateway struct {
	baseURL string
	client  httpclient.Doer
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a gateway. An empty baseURL is allowed and makes every call fail
// with a configuration error. A zero timeout leaves requests bounded only by ctx.
func New(baseURL string, client httpclient.Doer, timeout time.Duration, logger *slog.Logger) *Gateway {
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		timeout: timeout,
		logger:  logger,
	}
}

// BaseURL returns the configured API base URL.
func (g *Gateway) BaseURL() string { return g.baseURL }

// Request performs one API call. body, if non-nil, is sent as JSON; out, if
// non-nil, receives the decoded response.
func (g *Gateway) Request(ctx context.Context, method, path string, body, out any) (err error) {
	if g.baseURL == "" {
		return apperrors.ConfigError("restaurant API base URL is not configured")
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	ctx, span := tracing.Tracer(tracerName).Start(ctx, "gateway "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer func() { tracing.End(span, err) }()

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return apperrors.ConfigError(fmt.Sprintf("invalid API request %s %s: %v", method, path, err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tracing.InjectHeaders(ctx, req.Header)

	start := time.Now()
	resp, err := g.client.Do(ctx, req)
	if err != nil {
		var serr *httpclient.StatusError
		if errors.As(err, &serr) {
			// The breaker turns 5xx replies into errors.
			return apperrors.NetworkError(fmt.Sprintf("%s %s returned %d", method, path, serr.StatusCode), err)
		}
		return apperrors.NetworkError(fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	g.logger.DebugContext(ctx, "api request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if err := httpclient.CheckResponse(resp, upstream); err != nil {
		msg := fmt.Sprintf("%s %s returned %d", method, path, resp.StatusCode)
		var serr *httpclient.StatusError
		if errors.As(err, &serr) && !serr.Temporary() {
			return apperrors.Rejected(msg, err)
		}
		return apperrors.NetworkError(msg, err)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NetworkError(fmt.Sprintf("decode %s %s response", method, path), err)
	}
	return nil
}

func invalidPayload(what string, err error) error {
	return apperrors.NetworkError("invalid "+what+" payload", err)
}

// Restaurants fetches every restaurant.
func (g *Gateway) Restaurants(ctx context.Context) ([]domain.Restaurant, error) {
	var out []domain.Restaurant
	if err := g.Request(ctx, http.MethodGet, "/restaurants", nil, &out); err != nil {
		return nil, err
	}
	if err := validator.ValidateSlice(out); err != nil {
		return nil, invalidPayload("restaurants", err)
	}
	return out, nil
}

// Restaurant fetches one restaurant.
func (g *Gateway) Restaurant(ctx context.Context, id int64) (domain.Restaurant, error) {
	var out domain.Restaurant
	if err := g.Request(ctx, http.MethodGet, "/restaurants/"+strconv.FormatInt(id, 10), nil, &out); err != nil {
		return domain.Restaurant{}, err
	}
	if err := validator.Validate(out); err != nil {
		return domain.Restaurant{}, invalidPayload("restaurant", err)
	}
	return out, nil
}

// Reviews fetches every review.
func (g *Gateway) Reviews(ctx context.Context) ([]domain.Review, error) {
	return g.reviews(ctx, "/reviews/")
}

// RestaurantReviews fetches the reviews of one restaurant.
func (g *Gateway) RestaurantReviews(ctx context.Context, restaurantID int64) ([]domain.Review, error) {
	q := url.Values{"restaurant_id": {strconv.FormatInt(restaurantID, 10)}}
	return g.reviews(ctx, "/reviews/?"+q.Encode())
}

func (g *Gateway) reviews(ctx context.Context, path string) ([]domain.Review, error) {
	var out []domain.Review
	if err := g.Request(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if err := validator.ValidateSlice(out); err != nil {
		return nil, invalidPayload("reviews", err)
	}
	return out, nil
}

// Review fetches one review.
func (g *Gateway) Review(ctx context.Context, id int64) (domain.Review, error) {
	var out domain.Review
	if err := g.Request(ctx, http.MethodGet, "/reviews/"+strconv.FormatInt(id, 10), nil, &out); err != nil {
		return domain.Review{}, err
	}
	if err := validator.Validate(out); err != nil {
		return domain.Review{}, invalidPayload("review", err)
	}
	return out, nil
}

// PostReview submits a review and returns the server-issued record.
func (g *Gateway) PostReview(ctx context.Context, draft domain.ReviewDraft) (domain.Review, error) {
	var out domain.Review
	if err := g.Request(ctx, http.MethodPost, "/reviews/", draft, &out); err != nil {
		return domain.Review{}, err
	}
	if err := validator.Validate(out); err != nil {
		return domain.Review{}, invalidPayload("review", err)
	}
	return out, nil
}

// SetFavorite updates a restaurant's favorite flag and returns the updated record.
func (g *Gateway) SetFavorite(ctx context.Context, id int64, favorite bool) (domain.Restaurant, error) {
	path := fmt.Sprintf("/restaurants/%d/?is_favorite=%t", id, favorite)
	var out domain.Restaurant
	if err := g.Request(ctx, http.MethodPut, path, nil, &out); err != nil {
		return domain.Restaurant{}, err
	}
	if err := validator.Validate(out); err != nil {
		return domain.Restaurant{}, invalidPayload("restaurant", err)
	}
	return out, nil
}

// Ping checks that the API answers. It sends a HEAD request, and any reply
// that is not a temporary failure counts as reachable, including a refusal.
func (g *Gateway) Ping(ctx context.Context) error {
	err := g.Request(ctx, http.MethodHead, "/restaurants", nil, nil)
	if apperrors.IsRejected(err) {
		return nil
	}
	return err
}
