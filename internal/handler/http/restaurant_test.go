package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tophergates/mws-restaurant-reviews/internal/domain"
	"github.com/tophergates/mws-restaurant-reviews/internal/gateway"
	"github.com/tophergates/mws-restaurant-reviews/internal/service"
	"github.com/tophergates/mws-restaurant-reviews/internal/store"
	"github.com/tophergates/mws-restaurant-reviews/internal/store/memory"
	"github.com/tophergates/mws-restaurant-reviews/pkg/health"
	"github.com/tophergates/mws-restaurant-reviews/pkg/httpclient"
	"github.com/tophergates/mws-restaurant-reviews/pkg/middleware"
)

// ============================================================================
// Fake restaurant API
// ============================================================================

type fakeAPI struct {
	mu          sync.Mutex
	restaurants []domain.Restaurant
	reviews     []domain.Review
	posted      []domain.ReviewDraft
	down        atomic.Bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		restaurants: []domain.Restaurant{
			{ID: 1, Name: "Mission Chinese Food", Neighborhood: "Manhattan", CuisineType: "Asian", Photograph: "1"},
			{ID: 2, Name: "Emily", Neighborhood: "Brooklyn", CuisineType: "Pizza", IsFavorite: true},
		},
		reviews: []domain.Review{
			{ID: 1, RestaurantID: 1, Name: "Steve", Rating: 5, Comments: "Great"},
			{ID: 2, RestaurantID: 1, Name: "Morgan", Rating: 3, Comments: "Fine"},
		},
	}
}

func (f *fakeAPI) handler() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if f.down.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/restaurants", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		apiJSON(w, http.StatusOK, f.restaurants)
	})
	r.Get("/restaurants/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		for _, rest := range f.restaurants {
			if rest.ID == id {
				apiJSON(w, http.StatusOK, rest)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})
	r.Put("/restaurants/{id}/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		for i, rest := range f.restaurants {
			if rest.ID == id {
				f.restaurants[i].IsFavorite = r.URL.Query().Get("is_favorite") == "true"
				// The API echoes the flag back as a string.
				apiJSON(w, http.StatusOK, map[string]any{
					"id": rest.ID, "name": rest.Name, "neighborhood": rest.Neighborhood,
					"cuisine_type": rest.CuisineType, "is_favorite": r.URL.Query().Get("is_favorite"),
				})
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/reviews/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		out := []domain.Review{}
		want := r.URL.Query().Get("restaurant_id")
		for _, rev := range f.reviews {
			if want == "" || want == strconv.FormatInt(rev.RestaurantID, 10) {
				out = append(out, rev)
			}
		}
		apiJSON(w, http.StatusOK, out)
	})
	r.Get("/reviews/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		for _, rev := range f.reviews {
			if rev.ID == id {
				apiJSON(w, http.StatusOK, rev)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})
	r.Post("/reviews/", func(w http.ResponseWriter, r *http.Request) {
		var draft domain.ReviewDraft
		if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.posted = append(f.posted, draft)
		if !f.hasRestaurant(draft.RestaurantID) {
			apiJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "unknown restaurant"})
			return
		}
		rev := domain.Review{
			ID:           int64(len(f.reviews) + 1),
			RestaurantID: draft.RestaurantID,
			Name:         draft.Name,
			Rating:       draft.Rating,
			Comments:     draft.Comments,
			CreatedAt:    draft.CreatedAt,
		}
		f.reviews = append(f.reviews, rev)
		apiJSON(w, http.StatusCreated, rev)
	})
	return r
}

// hasRestaurant must be called with f.mu held.
func (f *fakeAPI) hasRestaurant(id int64) bool {
	for _, r := range f.restaurants {
		if r.ID == id {
			return true
		}
	}
	return false
}

func (f *fakeAPI) postedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posted)
}

func apiJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================================================
// Test helpers
// ============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	api    *fakeAPI
	router http.Handler
	repo   *store.Repository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	api := newFakeAPI()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	repo := store.NewRepository(memory.New())
	require.NoError(t, repo.Open(context.Background()))

	gw := gateway.New(srv.URL, httpclient.New(httpclient.DefaultConfig()), 2*time.Second, testLogger())
	svc := service.NewRestaurantService(gw, repo, nil, service.Options{
		URLs: domain.URLBuilder{BaseURL: "http://ui.test"},
		Now:  func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) },
	}, testLogger())

	assets := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Cache", "HIT")
		_, _ = io.WriteString(w, "asset "+r.URL.Path)
	})

	router := NewRouter(NewRestaurantHandler(svc, testLogger()), health.NewHandler(), testLogger(), RouterOptions{
		CORS:   middleware.DefaultCORSConfig(),
		Assets: assets,
	})
	return &testEnv{api: api, router: router, repo: repo}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type envelope[T any] struct {
	Data  T `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
	TotalCount int `json:"total_count"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env), rec.Body.String())
	return env
}

// ============================================================================
// Restaurants
// ============================================================================

func TestListRestaurants(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/restaurants", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	env := decode[[]RestaurantView](t, rec)
	require.Len(t, env.Data, 2)
	assert.Equal(t, 2, env.TotalCount)
	assert.Equal(t, "http://ui.test/restaurant.html?id=1", env.Data[0].URL)
	assert.Equal(t, "http://ui.test/images/1-small.jpg", env.Data[0].Images["small"])
	assert.Equal(t, "http://ui.test/images/2-large.jpg", env.Data[1].Images["large"])
	assert.Equal(t, 5, env.Data[0].MaxScore)

	stored, err := e.repo.Restaurants(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestListRestaurants_Filters(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		query string
		want  []int64
	}{
		{"", []int64{1, 2}},
		{"?favorites=true", []int64{2}},
		{"?favorites=false", []int64{1, 2}},
		{"?cuisine=Pizza", []int64{2}},
		{"?cuisine=all&neighborhood=Manhattan", []int64{1}},
		{"?neighborhood=Queens", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := e.do(t, http.MethodGet, "/api/v1/restaurants"+tt.query, "")
			require.Equal(t, http.StatusOK, rec.Code)

			var ids []int64
			for _, r := range decode[[]RestaurantView](t, rec).Data {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	rec := e.do(t, http.MethodGet, "/api/v1/restaurants?favorites=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PARAMETER", decode[any](t, rec).Error.Code)
}

func TestListRestaurants_OfflineUsesStore(t *testing.T) {
	e := newTestEnv(t)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/v1/restaurants", "").Code)
	e.api.down.Store(true)

	rec := e.do(t, http.MethodGet, "/api/v1/restaurants", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]RestaurantView](t, rec).Data, 2)
}

func TestListRestaurants_Unavailable(t *testing.T) {
	e := newTestEnv(t)
	e.api.down.Store(true)

	rec := e.do(t, http.MethodGet, "/api/v1/restaurants", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "DATA_UNAVAILABLE", decode[any](t, rec).Error.Code)
}

func TestGetRestaurant_WithReviews(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/restaurants/1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[RestaurantView](t, rec).Data
	assert.Equal(t, int64(1), view.ID)
	assert.Len(t, view.Reviews, 2)
	assert.InDelta(t, 80.0, view.AverageReview, 1e-9)
	assert.InDelta(t, 80.0, view.DisplayAverage, 1e-9)
}

func TestGetRestaurant_NoReviews(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/restaurants/2", "")

	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[RestaurantView](t, rec).Data
	assert.Empty(t, view.Reviews)
	assert.Zero(t, view.AverageReview)
}

func TestGetRestaurant_InvalidID(t *testing.T) {
	e := newTestEnv(t)

	for _, id := range []string{"abc", "0", "-3"} {
		rec := e.do(t, http.MethodGet, "/api/v1/restaurants/"+id, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, id)
	}
}

func TestSetFavorite(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPut, "/api/v1/restaurants/1/favorite?is_favorite=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bool(decode[RestaurantView](t, rec).Data.IsFavorite))

	stored, ok, err := e.repo.Restaurant(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, bool(stored.IsFavorite))

	rec = e.do(t, http.MethodPut, "/api/v1/restaurants/1/favorite", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	e.api.down.Store(true)
	rec = e.do(t, http.MethodPut, "/api/v1/restaurants/1/favorite?is_favorite=false", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "NETWORK_ERROR", decode[any](t, rec).Error.Code)
}

func TestNeighborhoodsAndCuisines(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/neighborhoods", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Manhattan", "Brooklyn"}, decode[[]string](t, rec).Data)

	rec = e.do(t, http.MethodGet, "/api/v1/cuisines", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Asian", "Pizza"}, decode[[]string](t, rec).Data)
}

// ============================================================================
// Reviews
// ============================================================================

func TestAddReview_Confirmed(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/restaurants/1/reviews", `{"name":"Ana","rating":4,"comments":"Good noodles"}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sub := decode[service.Submission](t, rec).Data
	assert.False(t, sub.Pending)
	assert.Equal(t, int64(3), sub.Review.ID)
	assert.Equal(t, domain.NewTimestamp(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)), sub.Review.CreatedAt)
	assert.Len(t, sub.Reviews, 3)
	assert.Equal(t, 1, e.api.postedCount())
}

func TestAddReview_OfflineQueuesThenSyncs(t *testing.T) {
	e := newTestEnv(t)
	e.api.down.Store(true)

	rec := e.do(t, http.MethodPost, "/api/v1/restaurants/1/reviews", `{"name":"Ana","rating":4,"comments":"Queued"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	sub := decode[service.Submission](t, rec).Data
	assert.True(t, sub.Pending)
	assert.True(t, sub.Review.Pending)

	rec = e.do(t, http.MethodGet, "/api/v1/restaurants/1/reviews", "")
	require.Equal(t, http.StatusOK, rec.Code)
	reviews := decode[[]domain.Review](t, rec).Data
	require.NotEmpty(t, reviews)
	assert.True(t, reviews[0].Pending)
	assert.Equal(t, "Queued", reviews[0].Comments)

	e.api.down.Store(false)
	rec = e.do(t, http.MethodPost, "/api/v1/restaurants/1/reviews/sync", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reviews = decode[[]domain.Review](t, rec).Data
	require.Len(t, reviews, 3)
	for _, r := range reviews {
		assert.False(t, r.Pending)
	}
	assert.Equal(t, 1, e.api.postedCount())

	pending, err := e.repo.PendingReviews(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAddReview_RefusedByAPI(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/restaurants/42/reviews", `{"name":"Ana","rating":4}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Equal(t, "UPSTREAM_REJECTED", decode[any](t, rec).Error.Code)
	assert.Equal(t, 1, e.api.postedCount())

	pending, err := e.repo.PendingReviews(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSyncPending_All(t *testing.T) {
	e := newTestEnv(t)
	e.api.down.Store(true)
	require.Equal(t, http.StatusAccepted, e.do(t, http.MethodPost, "/api/v1/restaurants/1/reviews", `{"name":"A","rating":2}`).Code)
	require.Equal(t, http.StatusAccepted, e.do(t, http.MethodPost, "/api/v1/restaurants/2/reviews", `{"name":"B","rating":5}`).Code)
	e.api.down.Store(false)

	rec := e.do(t, http.MethodPost, "/api/v1/reviews/sync", "")

	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[service.FlushResult](t, rec).Data
	assert.Equal(t, 2, res.Posted)
	assert.ElementsMatch(t, []int64{1, 2}, res.Restaurants)
}

func TestAddReview_Invalid(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed", `{"name":`, "INVALID_INPUT"},
		{"blank name", `{"name":"  ","rating":3}`, "VALIDATION_ERROR"},
		{"zero rating", `{"name":"Ana","rating":0}`, "VALIDATION_ERROR"},
		{"rating above max", `{"name":"Ana","rating":9}`, "INVALID_INPUT"},
		{"long comment", `{"name":"Ana","rating":3,"comments":"` + strings.Repeat("x", domain.MaxCommentLength+1) + `"}`, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/api/v1/restaurants/1/reviews", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode[any](t, rec).Error.Code)
		})
	}
	assert.Zero(t, e.api.postedCount())
}

func TestAddReview_RequiresJSON(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/restaurants/1/reviews", strings.NewReader("name=Ana"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestReviews(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/reviews", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Review](t, rec).Data, 2)

	rec = e.do(t, http.MethodGet, "/api/v1/reviews/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Morgan", decode[domain.Review](t, rec).Data.Name)
}

// ============================================================================
// Edge
// ============================================================================

func TestRouter_AssetsFallThrough(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/restaurant.html?id=3", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "asset /restaurant.html", rec.Body.String())
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestRouter_Health(t *testing.T) {
	e := newTestEnv(t)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health/live", "").Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health/ready", "").Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/metrics", "").Code)
}
