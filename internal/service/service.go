// Package service is the data access facade: it resolves reads from the
// restaurant API and the local store, queues reviews submitted while offline
// and replays them on reconnect.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tophergates/mws-restaurant-reviews/internal/domain"
	"github.com/tophergates/mws-restaurant-reviews/pkg/logger"
)

// Gateway is the remote restaurant API.
type Gateway interface {
	Restaurants(ctx context.Context) ([]domain.Restaurant, error)
	Restaurant(ctx context.Context, id int64) (domain.Restaurant, error)
	Reviews(ctx context.Context) ([]domain.Review, error)
	Review(ctx context.Context, id int64) (domain.Review, error)
	RestaurantReviews(ctx context.Context, restaurantID int64) ([]domain.Review, error)
	PostReview(ctx context.Context, draft domain.ReviewDraft) (domain.Review, error)
	SetFavorite(ctx context.Context, id int64, favorite bool) (domain.Restaurant, error)
}

// Store is the local persistent store.
type Store interface {
	Restaurants(ctx context.Context) ([]domain.Restaurant, error)
	Restaurant(ctx context.Context, id int64) (domain.Restaurant, bool, error)
	SaveRestaurants(ctx context.Context, restaurants ...domain.Restaurant) error
	Reviews(ctx context.Context) ([]domain.Review, error)
	Review(ctx context.Context, id int64) (domain.Review, bool, error)
	RestaurantReviews(ctx context.Context, restaurantID int64) ([]domain.Review, error)
	SaveReviews(ctx context.Context, reviews ...domain.Review) error
	QueueReview(ctx context.Context, draft domain.ReviewDraft) (domain.Review, error)
	RequeueReviews(ctx context.Context, reviews ...domain.Review) error
	PendingReviews(ctx context.Context) ([]domain.Review, error)
	PendingRestaurantReviews(ctx context.Context, restaurantID int64) ([]domain.Review, error)
	ClearPending(ctx context.Context) error
}

// Connectivity reports whether the API is believed reachable.
type Connectivity interface {
	Online() bool
	MarkOffline()
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }
func (alwaysOnline) MarkOffline() {}

// FlushPolicy decides what happens to queued reviews that fail to post
// during a flush.
type FlushPolicy string

const (
	// FlushRequeue puts failed reviews back in the queue under their old keys.
	FlushRequeue FlushPolicy = "requeue"
	// FlushDrop discards failed reviews and logs each one.
	FlushDrop FlushPolicy = "drop"
)

// ParseFlushPolicy validates a policy name.
func ParseFlushPolicy(s string) (FlushPolicy, error) {
	switch p := FlushPolicy(s); p {
	case FlushRequeue, FlushDrop:
		return p, nil
	default:
		return "", fmt.Errorf("unknown pending flush policy %q", s)
	}
}

// Options tunes the facade.
type Options struct {
	MaxScore         int
	FlushPolicy      FlushPolicy
	FlushConcurrency int
	URLs             domain.URLBuilder
	Now              func() time.Time
}

// DefaultOptions returns the defaults used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		MaxScore:         domain.DefaultMaxScore,
		FlushPolicy:      FlushRequeue,
		FlushConcurrency: 4,
		Now:              time.Now,
	}
}

// RestaurantService implements the data access facade.
type RestaurantService struct {
	gateway Gateway
	store   Store
	conn    Connectivity
	opts    Options
	logger  *slog.Logger

	// flushing serializes queue flushes.
	flushing chan struct{}
}

// NewRestaurantService creates the facade. conn may be nil, in which case the
// API is always assumed reachable.
func NewRestaurantService(gw Gateway, st Store, conn Connectivity, opts Options, log *slog.Logger) *RestaurantService {
	def := DefaultOptions()
	if opts.MaxScore <= 0 {
		opts.MaxScore = def.MaxScore
	}
	if opts.FlushPolicy == "" {
		opts.FlushPolicy = def.FlushPolicy
	}
	if opts.FlushConcurrency <= 0 {
		opts.FlushConcurrency = def.FlushConcurrency
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if conn == nil {
		conn = alwaysOnline{}
	}

	return &RestaurantService{
		gateway:  gw,
		store:    st,
		conn:     conn,
		opts:     opts,
		logger:   logger.Component(log, "facade"),
		flushing: make(chan struct{}, 1),
	}
}

// MaxScore returns the highest accepted rating.
func (s *RestaurantService) MaxScore() int { return s.opts.MaxScore }

// RestaurantImageURL returns the image link for a restaurant at a size suffix.
func (s *RestaurantService) RestaurantImageURL(r domain.Restaurant, size string, relative bool) string {
	return s.opts.URLs.RestaurantImageURL(r, size, relative)
}

// RestaurantURL returns the detail page link for a restaurant.
func (s *RestaurantService) RestaurantURL(id int64, relative bool) string {
	return s.opts.URLs.RestaurantURL(id, relative)
}
