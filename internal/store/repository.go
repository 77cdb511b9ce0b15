package store

import (
	"context"
	"fmt"

	"github.com/tophergates/mws-restaurant-reviews/internal/domain"
)

// Repository gives typed access to the application collections.
type Repository struct {
	backend Backend
}

// NewRepository creates a repository over a backend.
func NewRepository(backend Backend) *Repository {
	return &Repository{backend: backend}
}

// Open initializes the collections at SchemaVersion.
func (r *Repository) Open(ctx context.Context) error {
	if err := r.backend.Open(ctx, SchemaVersion); err != nil {
		return fmt.Errorf("open store v%d: %w", SchemaVersion, err)
	}
	return nil
}

// Restaurants returns every stored restaurant.
func (r *Repository) Restaurants(ctx context.Context) ([]domain.Restaurant, error) {
	return AllRecords[domain.Restaurant](ctx, r.backend, Restaurants)
}

// Restaurant returns one restaurant.
func (r *Repository) Restaurant(ctx context.Context, id int64) (domain.Restaurant, bool, error) {
	return GetRecord[domain.Restaurant](ctx, r.backend, Restaurants, id)
}

// SaveRestaurants upserts restaurants without their read-time fields.
func (r *Repository) SaveRestaurants(ctx context.Context, restaurants ...domain.Restaurant) error {
	persist := make([]domain.Restaurant, len(restaurants))
	for i, rest := range restaurants {
		persist[i] = rest.Persistable()
	}
	_, err := PutRecords(ctx, r.backend, Restaurants, persist...)
	return err
}

// Reviews returns every stored review.
func (r *Repository) Reviews(ctx context.Context) ([]domain.Review, error) {
	return AllRecords[domain.Review](ctx, r.backend, Reviews)
}

// Review returns one review.
func (r *Repository) Review(ctx context.Context, id int64) (domain.Review, bool, error) {
	return GetRecord[domain.Review](ctx, r.backend, Reviews, id)
}

// RestaurantReviews returns the stored reviews of one restaurant.
func (r *Repository) RestaurantReviews(ctx context.Context, restaurantID int64) ([]domain.Review, error) {
	return RecordsByIndex[domain.Review](ctx, r.backend, Reviews, domain.IndexRestaurant, restaurantID)
}

// SaveReviews upserts server-issued reviews.
func (r *Repository) SaveReviews(ctx context.Context, reviews ...domain.Review) error {
	confirmed := make([]domain.Review, len(reviews))
	for i, rev := range reviews {
		rev.Pending = false
		confirmed[i] = rev
	}
	_, err := PutRecords(ctx, r.backend, Reviews, confirmed...)
	return err
}

// QueueReview appends a draft to the pending queue and returns it with its
// queue key.
func (r *Repository) QueueReview(ctx context.Context, draft domain.ReviewDraft) (domain.Review, error) {
	saved, err := PutRecords(ctx, r.backend, PendingReviews, draft.Pending())
	if err != nil {
		return domain.Review{}, err
	}
	return saved[0], nil
}

// RequeueReviews puts previously queued reviews back under their keys.
func (r *Repository) RequeueReviews(ctx context.Context, reviews ...domain.Review) error {
	_, err := PutRecords(ctx, r.backend, PendingReviews, domain.MarkPending(reviews)...)
	return err
}

// PendingReviews returns the whole queue in submission order.
func (r *Repository) PendingReviews(ctx context.Context) ([]domain.Review, error) {
	reviews, err := AllRecords[domain.Review](ctx, r.backend, PendingReviews)
	if err != nil {
		return nil, err
	}
	return domain.MarkPending(reviews), nil
}

// PendingRestaurantReviews returns the queued reviews of one restaurant.
func (r *Repository) PendingRestaurantReviews(ctx context.Context, restaurantID int64) ([]domain.Review, error) {
	reviews, err := RecordsByIndex[domain.Review](ctx, r.backend, PendingReviews, domain.IndexRestaurant, restaurantID)
	if err != nil {
		return nil, err
	}
	return domain.MarkPending(reviews), nil
}

// ClearPending empties the queue.
func (r *Repository) ClearPending(ctx context.Context) error {
	return r.backend.Clear(ctx, PendingReviews)
}
