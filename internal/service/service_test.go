package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tophergates/mws-restaurant-reviews/internal/domain"
	"github.com/tophergates/mws-restaurant-reviews/internal/store"
	"github.com/tophergates/mws-restaurant-reviews/internal/store/memory"
	apperrors "github.com/tophergates/mws-restaurant-reviews/pkg/errors"
	"github.com/tophergates/mws-restaurant-reviews/pkg/validator"
)

// --- Mock Gateway ---

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Restaurants(ctx context.Context) ([]domain.Restaurant, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Restaurant), args.Error(1)
}

func (m *mockGateway) Restaurant(ctx context.Context, id int64) (domain.Restaurant, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Restaurant), args.Error(1)
}

func (m *mockGateway) Reviews(ctx context.Context) ([]domain.Review, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Review), args.Error(1)
}

func (m *mockGateway) Review(ctx context.Context, id int64) (domain.Review, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Review), args.Error(1)
}

func (m *mockGateway) RestaurantReviews(ctx context.Context, restaurantID int64) ([]domain.Review, error) {
	args := m.Called(ctx, restaurantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Review), args.Error(1)
}

func (m *mockGateway) PostReview(ctx context.Context, draft domain.ReviewDraft) (domain.Review, error) {
	args := m.Called(ctx, draft)
	return args.Get(0).(domain.Review), args.Error(1)
}

func (m *mockGateway) SetFavorite(ctx context.Context, id int64, favorite bool) (domain.Restaurant, error) {
	args := m.Called(ctx, id, favorite)
	return args.Get(0).(domain.Restaurant), args.Error(1)
}

// --- Test Helpers ---

type fakeConn struct {
	online atomic.Bool
}

func newFakeConn() *fakeConn {
	c := &fakeConn{}
	c.online.Store(true)
	return c
}

func (c *fakeConn) Online() bool { return c.online.Load() }
func (c *fakeConn) MarkOffline() { c.online.Store(false) }

// failingStore fails every restaurant and review write.
type failingStore struct {
	*store.Repository
}

func (failingStore) SaveRestaurants(context.Context, ...domain.Restaurant) error {
	return apperrors.StoreWriteError(store.Restaurants, errors.New("disk full"))
}

func (failingStore) SaveReviews(context.Context, ...domain.Review) error {
	return apperrors.StoreWriteError(store.Reviews, errors.New("disk full"))
}

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRepo(t *testing.T) *store.Repository {
	t.Helper()
	repo := store.NewRepository(memory.New())
	require.NoError(t, repo.Open(context.Background()))
	return repo
}

func newTestService(t *testing.T, gw *mockGateway, st Store, conn Connectivity) *RestaurantService {
	t.Helper()
	return NewRestaurantService(gw, st, conn, Options{
		Now: func() time.Time { return fixedNow },
	}, newTestLogger())
}

func offline() error {
	return apperrors.NetworkError("GET /restaurants failed", errors.New("connection refused"))
}

func sampleRestaurants() []domain.Restaurant {
	return []domain.Restaurant{
		{ID: 1, Name: "Mission Chinese Food", Neighborhood: "Manhattan", CuisineType: "Asian", IsFavorite: true},
		{ID: 2, Name: "Emily", Neighborhood: "Brooklyn", CuisineType: "Pizza"},
		{ID: 3, Name: "Kang Ho Dong Baekjeong", Neighborhood: "Manhattan", CuisineType: "Asian"},
	}
}

var ctx = context.Background()

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func TestFetchRestaurants_NetworkWinsAndIsStored(t *testing.T) {
	gw := new(mockGateway)
	repo := newTestRepo(t)
	require.NoError(t, repo.SaveRestaurants(ctx, domain.Restaurant{ID: 9, Name: "Stale"}))
	gw.On("Restaurants", mock.Anything).Return(sampleRestaurants(), nil)

	svc := newTestService(t, gw, repo, nil)
	got, err := svc.FetchRestaurants(ctx)

	require.NoError(t, err)
	assert.Equal(t, sampleRestaurants(), got)

	for _, want := range sampleRestaurants() {
		stored, ok, err := repo.Restaurant(ctx, want.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, stored)
	}
	gw.AssertExpectations(t)
}

func TestFetchRestaurants_FallsBackToStore(t *testing.T) {
	gw := new(mockGateway)
	repo := newTestRepo(t)
	require.NoError(t, repo.SaveRestaurants(ctx, sampleRestaurants()...))
	gw.On("Restaurants", mock.Anything).Return(nil, offline())
	conn := newFakeConn()

	svc := newTestService(t, gw, repo, conn)
	got, err := svc.FetchRestaurants(ctx)

	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.False(t, conn.Online())
}

func TestFetchRestaurants_EmptyNetworkFallsBackToStore(t *testing.T) {
	gw := new(mockGateway)
	repo := newTestRepo(t)
	require.NoError(t, repo.SaveRestaurants(ctx, sampleRestaurants()...))
	gw.On("Restaurants", mock.Anything).Return([]domain.Restaurant{}, nil)

	svc := newTestService(t, gw, repo, nil)
	got, err := svc.FetchRestaurants(ctx)

	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestFetchRestaurants_BothFail(t *testing.T) {
	gw := new(mockGateway)
	gw.On("Restaurants", mock.Anything).Return(nil, offline())

	svc := newTestService(t, gw, newTestRepo(t), nil)
	_, err := svc.FetchRestaurants(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDataUnavailable)
	assert.ErrorIs(t, err, apperrors.ErrNetwork)
}

func TestFetchRestaurants_ConfigErrorSurfaces(t *testing.T) {
	gw := new(mockGateway)
	repo := newTestRepo(t)
	require.NoError(t, repo.SaveRestaurants(ctx, sampleRestaurants()...))
	gw.On("Restaurants", mock.Anything).Return(nil, apperrors.ConfigError("no base url"))

	svc := newTestService(t, gw, repo, nil)
	_, err := svc.FetchRestaurants(ctx)

	assert.ErrorIs(t, err, apperrors.ErrConfig)
}

func TestFetchRestaurants_StoreWriteFailureStillReturnsNetworkResult(t *testing.T) {
	gw := new(mockGateway)
	gw.On("Restaurants", mock.Anything).Return(sampleRestaurants(), nil)

	svc := newTestService(t, gw, failingStore{newTestRepo(t)}, nil)
	got, err := svc.FetchRestaurants(ctx)

	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestFetchRestaurant_FromStore(t *testing.T) {
	gw := new(mockGateway)
	repo := newTestRepo(t)
	require.NoError(t, repo.SaveRestaurants(ctx, sampleRestaurants()...))
	gw.On("Restaurant", mock.Anything, int64(2)).Return(domain.Restaurant{}, offline())

	svc := newTestService(t, gw, repo, nil)
	got, err := svc.FetchRestaurant(ctx, 2)

	require.NoError(t, err)
	assert.Equal(t, "Emily", got.Name)
}

func TestFetchRestaurant_Missing(t *testing.T) {
	gw := new(mockGateway)
	gw.On("Restaurant", mock.Anything, int64(7)).Return(domain.Restaurant{}, offline())

	svc := newTestService(t, gw, newTestRepo(t), nil)
	_, err := svc.FetchRestaurant(ctx, 7)

	assert.ErrorIs(t, err, apperrors.ErrDataUnavailable)
}

func TestFetchRestaurantWithReviews_RecomputesAverage(t *testing.T) {
	tests := []struct {
		name    string
		ratings []int
		want    float64
	}{
		{"no reviews", nil, 0},
		{"all fives", []int{5, 5, 5, 5, 5}, 100},
		{"one and three", []int{1, 3}, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := new(mockGateway)
			reviews := make([]domain.Review, len(tt.ratings))
			for i, r := range tt.ratings {
				reviews[i] = domain.Review{ID: int64(i + 1), RestaurantID: 1, Rating: r}
			}
			gw.On("Restaurant", mock.Anything, int64(1)).
				Return(domain.Restaurant{ID: 1, Name: "Katz's", AverageReview: 12.5}, nil)
			gw.On("RestaurantReviews", mock.Anything, int64(1)).Return(reviews, nil)

			svc := newTestService(t, gw, newTestRepo(t), nil)
			got, err := svc.FetchRestaurantWithReviews(ctx, 1)

			require.NoError(t, err)
			assert.InDelta(t, tt.want, got.AverageReview, 1e-9)
			assert.Len(t, got.Reviews, len(tt.ratings))
			assert.NotNil(t, got.Reviews)
		})
	}
}

func TestFetchRestaurantWithReviews_ReviewsUnavailable(t *testing.T) {
	gw := new(mockGateway)
	gw.On("Restaurant", mock.Anything, int64(1)).Return(domain.Restaurant{ID: 1, Name: "Katz's"}, nil)
	gw.On("RestaurantReviews", mock.Anything, int64(1)).Return(nil, offline())

	svc := newTestService(t, gw, newTestRepo(t), nil)
	got, err := svc.FetchRestaurantWithReviews(ctx, 1)

	require.NoError(t, err)
	assert.Empty(t, got.Reviews)
	assert.Zero(t, got.AverageReview)
}

func TestFilterAndDistinct(t *testing.T) {
	gw := new(mockGateway)
	gw.On("Restaurants", mock.Anything).Return(sampleRestaurants(), nil)
	svc := newTestService(t, gw, newTestRepo(t), nil)

	favorites, err := svc.FetchFavoriteRestaurants(ctx)
	require.NoError(t, err)
	require.Len(t, favorites, 1)
	assert.Equal(t, int64(1), favorites[0].ID)

	asian, err := svc.FilterRestaurants(ctx, domain.RestaurantFilter{Cuisine: "Asian", Neighborhood: "all"})
	require.NoError(t, err)
	assert.Len(t, asian, 2)

	hoods, err := svc.Neighborhoods(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Manhattan", "Brooklyn"}, hoods)

	cuisines, err := svc.Cuisines(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Asian", "Pizza"}, cuisines)
}

func TestFetchReviewAndReviews(t *testing.T) {
	gw := new(mockGateway)
	repo := newTestRepo(t)
	require.NoError(t, repo.SaveReviews(ctx, domain.Review{ID: 4, RestaurantID: 1, Rating: 3}))
	gw.On("Reviews", mock.Anything).Return(nil, offline())
	gw.On("Review", mock.Anything, int64(4)).Return(domain.Review{}, offline())

	svc := newTestService(t, gw, repo, nil)

	all, err := svc.FetchReviews(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	one, err := svc.FetchReview(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, one.Rating)
}

// ---------------------------------------------------------------------------
// Submission
// ---------------------------------------------------------------------------

func TestAddRestaurantReview_Validation(t *testing.T) {
	svc := newTestService(t, new(mockGateway), newTestRepo(t), nil)
	long := make([]byte, domain.MaxCommentLength+1)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name  string
		draft domain.ReviewDraft
	}{
		{"missing restaurant", domain.ReviewDraft{Name: "A", Rating: 3}},
		{"blank name", domain.ReviewDraft{RestaurantID: 1, Name: "  ", Rating: 3}},
		{"zero rating", domain.ReviewDraft{RestaurantID: 1, Name: "A"}},
		{"rating above max", domain.ReviewDraft{RestaurantID: 1, Name: "A", Rating: 6}},
		{"long comment", domain.ReviewDraft{RestaurantID: 1, Name: "A", Rating: 3, Comments: string(long)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddRestaurantReview(ctx, tt.draft)
			require.Error(t, err)

			var verr *validator.ValidationError
			isValidation := errors.As(err, &verr)
			assert.True(t, isValidation || errors.Is(err, apperrors.ErrInvalidInput), "got %v", err)
		})
	}
}

func TestAddRestaurantReview_Confirmed(t *testing.T) {
	gw := new(mockGateway)
	repo := newTestRepo(t)
	draft := domain.ReviewDraft{RestaurantID: 1, Name: "Ann", Rating: 4, Comments: "Lovely"}
	stamped := draft.Stamp(fixedNow)
	posted := domain.Review{ID: 30, RestaurantID: 1, Name: "Ann", Rating: 4, Comments: "Lovely", CreatedAt: stamped.CreatedAt}

	gw.On("PostReview", mock.Anything, stamped).Return(posted, nil)
	gw.On("RestaurantReviews", mock.Anything, int64(1)).Return([]domain.Review{posted}, nil)

	svc := newTestService(t, gw, repo, nil)
	sub, err := svc.AddRestaurantReview(ctx, draft)

	require.NoError(t, err)
	assert.False(t, sub.Pending)
	assert.Equal(t, posted, sub.Review)
	assert.Equal(t, []domain.Review{posted}, sub.Reviews)

	stored, ok, err := repo.Review(ctx, 30)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, posted, stored)
	gw.AssertExpectations(t)
}

func TestAddRestaurantReview_OfflineQueuesAndShowsPending(t *testing.T) {
	gw := new(mockGateway)
	repo := newTestRepo(t)
	conn := newFakeConn()
	gw.On("PostReview", mock.Anything, mock.Anything).Return(domain.Review{}, offline())
	gw.On("RestaurantReviews", mock.Anything, int64(1)).
		Return([]domain.Review{{ID: 1, RestaurantID: 1, Name: "Old", Rating: 5}}, nil)

	svc := newTestService(t, gw, repo, conn)
	sub, err := svc.AddRestaurantReview(ctx, domain.ReviewDraft{RestaurantID: 1, Name: "Ann", Rating: 4})

	require.NoError(t, err)
	assert.True(t, sub.Pending)
	assert.True(t, sub.Review.Pending)
	assert.Equal(t, domain.NewTimestamp(fixedNow), sub.Review.CreatedAt)
	assert.False(t, conn.Online())

	queued, err := repo.PendingReviews(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.True(t, queued[0].Pending)

	reviews, err := svc.FetchRestaurantReviews(ctx, 1)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, "Ann", reviews[0].Name)
	assert.True(t, reviews[0].Pending)
	assert.False(t, reviews[1].Pending)
}

func TestAddRestaurantReview_ConfigErrorIsNotQueued(t *testing.T) {
	gw := new(mockGateway)
	repo := newTestRepo(t)
	gw.On("PostReview", mock.Anything, mock.Anything).Return(domain.Review{}, apperrors.ConfigError("no base url"))

	svc := newTestService(t, gw, repo, nil)
	_, err := svc.AddRestaurantReview(ctx, domain.ReviewDraft{RestaurantID: 1, Name: "Ann", Rating: 4})

	assert.ErrorIs(t, err, apperrors.ErrConfig)
	queued, err := repo.PendingReviews(ctx)
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestFetchRestaurantReviews_PendingOnlyWhenUnavailable(t *testing.T) {
	gw := new(mockGateway)
	repo := newTestRepo(t)
	_, err := repo.QueueReview(ctx, domain.ReviewDraft{RestaurantID: 2, Name: "Q", Rating: 2})
	require.NoError(t, err)
	gw.On("RestaurantReviews", mock.Anything, int64(2)).Return(nil, offline())

	svc := newTestService(t, gw, repo, nil)
	got, err := svc.FetchRestaurantReviews(ctx, 2)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Pending)
}

// ---------------------------------------------------------------------------
// Flush
// ---------------------------------------------------------------------------

func TestAddPendingReviews_FlushesQueue(t *testing.T) {
	gw := new(mockGateway)
	repo := newTestRepo(t)
	queued, err := repo.QueueReview(ctx, domain.ReviewDraft{RestaurantID: 1, Name: "Ann", Rating: 4, CreatedAt: 5})
	require.NoError(t, err)

	synced := domain.Review{ID: 77, RestaurantID: 1, Name: "Ann", Rating: 4, CreatedAt: 5}
	gw.On("PostReview", mock.Anything, queued.Draft()).Return(synced, nil).Once()
	gw.On("RestaurantReviews", mock.Anything, int64(1)).Return([]domain.Review{synced}, nil)

	svc := newTestService(t, gw, repo, nil)
	got, err := svc.AddPendingReviews(ctx, 1)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(77), got[0].ID)
	assert.False(t, got[0].Pending)

	left, err := repo.PendingRestaurantReviews(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, left)

	stored, err := repo.RestaurantReviews(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.False(t, stored[0].Pending)
	gw.AssertExpectations(t)
}

func TestAddPendingReviews_Offline(t *testing.T) {
	conn := newFakeConn()
	conn.MarkOffline()
	svc := newTestService(t, new(mockGateway), newTestRepo(t), conn)

	_, err := svc.AddPendingReviews(ctx, 1)

	assert.ErrorIs(t, err, apperrors.ErrOffline)
}

func TestFlush_RequeuesFailures(t *testing.T) {
	gw := new(mockGateway)
	repo := newTestRepo(t)
	ok, err := repo.QueueReview(ctx, domain.ReviewDraft{RestaurantID: 1, Name: "ok", Rating: 4})
	require.NoError(t, err)
	bad, err := repo.QueueReview(ctx, domain.ReviewDraft{RestaurantID: 2, Name: "bad", Rating: 2})
	require.NoError(t, err)

	gw.On("PostReview", mock.Anything, ok.Draft()).Return(domain.Review{ID: 50, RestaurantID: 1, Name: "ok", Rating: 4}, nil)
	gw.On("PostReview", mock.Anything, bad.Draft()).Return(domain.Review{}, offline())

	svc := newTestService(t, gw, repo, nil)
	res, err := svc.flush(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Posted)
	assert.Equal(t, 1, res.Requeued)
	assert.Zero(t, res.Dropped)
	assert.ElementsMatch(t, []int64{1, 2}, res.Restaurants)

	left, err := repo.PendingReviews(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, bad.ID, left[0].ID)
}

func TestFlush_DropPolicy(t *testing.T) {
	gw := new(mockGateway)
	repo := newTestRepo(t)
	_, err := repo.QueueReview(ctx, domain.ReviewDraft{RestaurantID: 1, Name: "bad", Rating: 2})
	require.NoError(t, err)
	gw.On("PostReview", mock.Anything, mock.Anything).Return(domain.Review{}, offline())

	svc := NewRestaurantService(gw, repo, nil, Options{FlushPolicy: FlushDrop}, newTestLogger())
	res, err := svc.flush(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)

	left, err := repo.PendingReviews(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSyncPending_RefreshesAffectedRestaurants(t *testing.T) {
	gw := new(mockGateway)
	repo := newTestRepo(t)
	_, err := repo.QueueReview(ctx, domain.ReviewDraft{RestaurantID: 3, Name: "A", Rating: 5})
	require.NoError(t, err)

	gw.On("PostReview", mock.Anything, mock.Anything).Return(domain.Review{ID: 8, RestaurantID: 3, Name: "A", Rating: 5}, nil)
	gw.On("RestaurantReviews", mock.Anything, int64(3)).Return([]domain.Review{{ID: 8, RestaurantID: 3, Rating: 5}}, nil).Once()

	svc := newTestService(t, gw, repo, nil)
	res, err := svc.SyncPending(ctx)

	require.NoError(t, err)
	assert.Equal(t, []int64{3}, res.Restaurants)
	gw.AssertExpectations(t)
}

func TestSyncPending_EmptyQueue(t *testing.T) {
	gw := new(mockGateway)
	svc := newTestService(t, gw, newTestRepo(t), nil)

	res, err := svc.SyncPending(ctx)

	require.NoError(t, err)
	assert.Zero(t, res.Posted)
	gw.AssertNotCalled(t, "PostReview", mock.Anything, mock.Anything)
}

// ---------------------------------------------------------------------------
// Favorites
// ---------------------------------------------------------------------------

func TestSetFavoriteRestaurant_Success(t *testing.T) {
	gw := new(mockGateway)
	repo := newTestRepo(t)
	updated := domain.Restaurant{ID: 2, Name: "Emily", IsFavorite: true}
	gw.On("SetFavorite", mock.Anything, int64(2), true).Return(updated, nil)

	svc := newTestService(t, gw, repo, nil)
	got, err := svc.SetFavoriteRestaurant(ctx, 2, true)

	require.NoError(t, err)
	assert.True(t, bool(got.IsFavorite))

	stored, ok, err := repo.Restaurant(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, bool(stored.IsFavorite))
}

func TestSetFavoriteRestaurant_FailureLeavesStoreAlone(t *testing.T) {
	gw := new(mockGateway)
	repo := newTestRepo(t)
	require.NoError(t, repo.SaveRestaurants(ctx, domain.Restaurant{ID: 2, Name: "Emily"}))
	gw.On("SetFavorite", mock.Anything, int64(2), true).Return(domain.Restaurant{}, offline())

	svc := newTestService(t, gw, repo, nil)
	_, err := svc.SetFavoriteRestaurant(ctx, 2, true)

	assert.True(t, apperrors.IsNetwork(err))
	stored, _, err := repo.Restaurant(ctx, 2)
	require.NoError(t, err)
	assert.False(t, bool(stored.IsFavorite))
}

func TestURLHelpers(t *testing.T) {
	svc := NewRestaurantService(new(mockGateway), newTestRepo(t), nil, Options{
		URLs: domain.URLBuilder{BaseURL: "http://localhost:8000"},
	}, newTestLogger())

	assert.Equal(t, "http://localhost:8000/restaurant.html?id=4", svc.RestaurantURL(4, false))
	assert.Equal(t, "./images/4-medium.jpg", svc.RestaurantImageURL(domain.Restaurant{ID: 4}, "medium", true))
	assert.Equal(t, domain.DefaultMaxScore, svc.MaxScore())
}

func TestParseFlushPolicy(t *testing.T) {
	p, err := ParseFlushPolicy("drop")
	require.NoError(t, err)
	assert.Equal(t, FlushDrop, p)

	_, err = ParseFlushPolicy("retry")
	assert.Error(t, err)
}
