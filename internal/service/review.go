package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tophergates/mws-restaurant-reviews/internal/domain"
	"github.com/tophergates/mws-restaurant-reviews/internal/store"
	apperrors "github.com/tophergates/mws-restaurant-reviews/pkg/errors"
	"github.com/tophergates/mws-restaurant-reviews/pkg/validator"
)

// Submission is the outcome of AddRestaurantReview. When Pending is true the
// API was unreachable, Review is the queued copy and Reviews is empty.
// Otherwise Review is the server-issued record and Reviews the refreshed list.
type Submission struct {
	Pending bool            `json:"pending"`
	Review  domain.Review   `json:"review"`
	Reviews []domain.Review `json:"reviews,omitempty"`
}

// FlushResult summarizes one pass over the pending queue.
type FlushResult struct {
	Posted      int     `json:"posted"`
	Requeued    int     `json:"requeued"`
	Dropped     int     `json:"dropped"`
	Restaurants []int64 `json:"restaurants"`
}

// FetchReviews returns every review.
func (s *RestaurantService) FetchReviews(ctx context.Context) ([]domain.Review, error) {
	return resolve(ctx, s, read[[]domain.Review]{
		resource: store.Reviews,
		fetch:    s.gateway.Reviews,
		load:     listLoader(s.store.Reviews),
		empty:    emptySlice[domain.Review],
		save: func(ctx context.Context, v []domain.Review) error {
			return s.store.SaveReviews(ctx, v...)
		},
	})
}

// FetchReview returns one review.
func (s *RestaurantService) FetchReview(ctx context.Context, id int64) (domain.Review, error) {
	return resolve(ctx, s, read[domain.Review]{
		resource: "review " + strconv.FormatInt(id, 10),
		fetch: func(ctx context.Context) (domain.Review, error) {
			return s.gateway.Review(ctx, id)
		},
		load: func(ctx context.Context) (domain.Review, bool, error) {
			return s.store.Review(ctx, id)
		},
		empty: func(r domain.Review) bool { return r.ID == 0 },
		save: func(ctx context.Context, r domain.Review) error {
			return s.store.SaveReviews(ctx, r)
		},
	})
}

// FetchRestaurantReviews returns the queued reviews of a restaurant, marked
// pending, followed by its resolved reviews. Queued reviews alone are
// returned when the resolved list is unavailable.
func (s *RestaurantService) FetchRestaurantReviews(ctx context.Context, restaurantID int64) ([]domain.Review, error) {
	pending, err := s.store.PendingRestaurantReviews(ctx, restaurantID)
	if err != nil {
		s.logger.WarnContext(ctx, "pending queue read failed",
			slog.Int64("restaurant_id", restaurantID),
			slog.String("error", err.Error()),
		)
		pending = nil
	}

	resolved, err := resolve(ctx, s, read[[]domain.Review]{
		resource: "reviews of restaurant " + strconv.FormatInt(restaurantID, 10),
		fetch: func(ctx context.Context) ([]domain.Review, error) {
			return s.gateway.RestaurantReviews(ctx, restaurantID)
		},
		load: func(ctx context.Context) ([]domain.Review, bool, error) {
			v, err := s.store.RestaurantReviews(ctx, restaurantID)
			return v, err == nil, err
		},
		empty: emptySlice[domain.Review],
		save: func(ctx context.Context, v []domain.Review) error {
			return s.store.SaveReviews(ctx, v...)
		},
	})
	if err != nil {
		if len(pending) > 0 && errors.Is(err, apperrors.ErrDataUnavailable) {
			return pending, nil
		}
		return nil, err
	}

	out := make([]domain.Review, 0, len(pending)+len(resolved))
	out = append(out, pending...)
	return append(out, resolved...), nil
}

// AddRestaurantReview validates and posts a review. If the API cannot be
// reached the review is queued and echoed back as pending. A review the API
// refuses is returned as an error and never queued.
func (s *RestaurantService) AddRestaurantReview(ctx context.Context, draft domain.ReviewDraft) (Submission, error) {
	if err := validator.Validate(draft); err != nil {
		return Submission{}, err
	}
	if draft.Rating > s.opts.MaxScore {
		return Submission{}, apperrors.InvalidInput(fmt.Sprintf("rating must be between 1 and %d", s.opts.MaxScore))
	}
	draft = draft.Stamp(s.opts.Now())

	posted, err := s.gateway.PostReview(ctx, draft)
	if err != nil {
		if apperrors.IsNetwork(err) {
			return s.queueReview(ctx, draft, err)
		}
		return Submission{}, err
	}

	if err := s.store.SaveReviews(ctx, posted); err != nil {
		s.logStoreWrite(ctx, store.Reviews, err)
	}
	s.logger.InfoContext(ctx, "review posted",
		slog.Int64("review_id", posted.ID),
		slog.Int64("restaurant_id", posted.RestaurantID),
	)

	reviews, err := s.FetchRestaurantReviews(ctx, draft.RestaurantID)
	if err != nil {
		s.logger.WarnContext(ctx, "refresh after posting review failed",
			slog.Int64("restaurant_id", draft.RestaurantID),
			slog.String("error", err.Error()),
		)
	}
	return Submission{Review: posted, Reviews: reviews}, nil
}

func (s *RestaurantService) queueReview(ctx context.Context, draft domain.ReviewDraft, postErr error) (Submission, error) {
	s.conn.MarkOffline()

	queued, err := s.store.QueueReview(ctx, draft)
	if err != nil {
		s.logger.ErrorContext(ctx, "could not queue review",
			slog.Int64("restaurant_id", draft.RestaurantID),
			slog.String("post_error", postErr.Error()),
			slog.String("error", err.Error()),
		)
		return Submission{}, fmt.Errorf("queue review: %w", err)
	}
	pendingReviews.Inc()

	s.logger.InfoContext(ctx, "review queued for later",
		slog.Int64("queue_key", queued.ID),
		slog.Int64("restaurant_id", queued.RestaurantID),
		slog.String("reason", postErr.Error()),
	)
	return Submission{Pending: true, Review: queued}, nil
}

// AddPendingReviews flushes the queue and returns the refreshed reviews of a
// restaurant. It fails fast while the API is known to be offline.
func (s *RestaurantService) AddPendingReviews(ctx context.Context, restaurantID int64) ([]domain.Review, error) {
	if !s.conn.Online() {
		return nil, apperrors.Offline("unable to post pending reviews while offline")
	}
	if _, err := s.flush(ctx); err != nil {
		return nil, err
	}
	return s.FetchRestaurantReviews(ctx, restaurantID)
}

// SyncPending flushes the queue and refreshes the reviews of every restaurant
// that had queued reviews.
func (s *RestaurantService) SyncPending(ctx context.Context) (FlushResult, error) {
	res, err := s.flush(ctx)
	if err != nil {
		return res, err
	}
	for _, id := range res.Restaurants {
		if _, err := s.FetchRestaurantReviews(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "refresh after sync failed",
				slog.Int64("restaurant_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return res, nil
}

// flush reads and clears the queue, then posts every queued review. Reviews
// the API refuses are dropped. Other failed posts are handled per the flush
// policy, and only network failures mark the API offline.
func (s *RestaurantService) flush(ctx context.Context) (FlushResult, error) {
	select {
	case s.flushing <- struct{}{}:
		defer func() { <-s.flushing }()
	case <-ctx.Done():
		return FlushResult{}, ctx.Err()
	}

	queued, err := s.store.PendingReviews(ctx)
	if err != nil {
		return FlushResult{}, fmt.Errorf("read pending queue: %w", err)
	}
	res := FlushResult{Restaurants: affectedRestaurants(queued)}
	if len(queued) == 0 {
		pendingReviews.Set(0)
		return res, nil
	}

	if err := s.store.ClearPending(ctx); err != nil {
		return FlushResult{}, err
	}

	var (
		mu          sync.Mutex
		failed      []domain.Review
		rejected    []domain.Review
		posted      []domain.Review
		unreachable bool
		g           errgroup.Group
	)
	g.SetLimit(s.opts.FlushConcurrency)
	for _, q := range queued {
		q := q
		g.Go(func() error {
			review, err := s.gateway.PostReview(ctx, q.Draft())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				posted = append(posted, review)
			case apperrors.IsRejected(err):
				s.logger.WarnContext(ctx, "queued review rejected by the API, dropping it",
					slog.Int64("queue_key", q.ID),
					slog.Int64("restaurant_id", q.RestaurantID),
					slog.String("name", q.Name),
					slog.Int("rating", q.Rating),
					slog.String("error", err.Error()),
				)
				rejected = append(rejected, q)
			default:
				s.logger.WarnContext(ctx, "posting queued review failed",
					slog.Int64("queue_key", q.ID),
					slog.Int64("restaurant_id", q.RestaurantID),
					slog.String("error", err.Error()),
				)
				unreachable = unreachable || apperrors.IsNetwork(err)
				failed = append(failed, q)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Posted = len(posted)
	flushedReviewsTotal.WithLabelValues("posted").Add(float64(len(posted)))
	if len(posted) > 0 {
		if err := s.store.SaveReviews(ctx, posted...); err != nil {
			s.logStoreWrite(ctx, store.Reviews, err)
		}
	}

	res.Dropped = len(rejected)
	flushedReviewsTotal.WithLabelValues("rejected").Add(float64(len(rejected)))

	if unreachable {
		s.conn.MarkOffline()
	}
	if len(failed) > 0 {
		s.settleFailed(ctx, failed, &res)
	}
	pendingReviews.Set(float64(res.Requeued))

	s.logger.InfoContext(ctx, "pending queue flushed",
		slog.Int("posted", res.Posted),
		slog.Int("requeued", res.Requeued),
		slog.Int("dropped", res.Dropped),
	)
	return res, nil
}

func (s *RestaurantService) settleFailed(ctx context.Context, failed []domain.Review, res *FlushResult) {
	if s.opts.FlushPolicy == FlushRequeue {
		err := s.store.RequeueReviews(ctx, failed...)
		if err == nil {
			res.Requeued = len(failed)
			flushedReviewsTotal.WithLabelValues("requeued").Add(float64(len(failed)))
			return
		}
		s.logStoreWrite(ctx, store.PendingReviews, err)
	}

	for _, r := range failed {
		s.logger.WarnContext(ctx, "queued review dropped",
			slog.Int64("queue_key", r.ID),
			slog.Int64("restaurant_id", r.RestaurantID),
			slog.String("name", r.Name),
			slog.Int("rating", r.Rating),
		)
	}
	res.Dropped += len(failed)
	flushedReviewsTotal.WithLabelValues("dropped").Add(float64(len(failed)))
}

func affectedRestaurants(reviews []domain.Review) []int64 {
	seen := make(map[int64]struct{}, len(reviews))
	out := make([]int64, 0)
	for _, r := range reviews {
		if _, ok := seen[r.RestaurantID]; ok {
			continue
		}
		seen[r.RestaurantID] = struct{}{}
		out = append(out, r.RestaurantID)
	}
	return out
}
