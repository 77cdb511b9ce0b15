package service

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/tophergates/mws-restaurant-reviews/internal/domain"
	"github.com/tophergates/mws-restaurant-reviews/internal/store"
)

// FetchRestaurants returns every restaurant.
func (s *RestaurantService) FetchRestaurants(ctx context.Context) ([]domain.Restaurant, error) {
	return resolve(ctx, s, read[[]domain.Restaurant]{
		resource: store.Restaurants,
		fetch:    s.gateway.Restaurants,
		load:     listLoader(s.store.Restaurants),
		empty:    emptySlice[domain.Restaurant],
		save: func(ctx context.Context, v []domain.Restaurant) error {
			return s.store.SaveRestaurants(ctx, v...)
		},
	})
}

// FetchRestaurant returns one restaurant without reviews.
func (s *RestaurantService) FetchRestaurant(ctx context.Context, id int64) (domain.Restaurant, error) {
	return resolve(ctx, s, read[domain.Restaurant]{
		resource: "restaurant " + strconv.FormatInt(id, 10),
		fetch: func(ctx context.Context) (domain.Restaurant, error) {
			return s.gateway.Restaurant(ctx, id)
		},
		load: func(ctx context.Context) (domain.Restaurant, bool, error) {
			return s.store.Restaurant(ctx, id)
		},
		empty: func(r domain.Restaurant) bool { return r.ID == 0 },
		save: func(ctx context.Context, r domain.Restaurant) error {
			return s.store.SaveRestaurants(ctx, r)
		},
	})
}

// FetchRestaurantWithReviews returns a restaurant with its reviews attached,
// queued ones first, and the average rating recomputed from them. A failure
// to resolve reviews leaves the restaurant with none.
func (s *RestaurantService) FetchRestaurantWithReviews(ctx context.Context, id int64) (domain.Restaurant, error) {
	restaurant, err := s.FetchRestaurant(ctx, id)
	if err != nil {
		return domain.Restaurant{}, err
	}

	reviews, err := s.FetchRestaurantReviews(ctx, id)
	if err != nil {
		s.logger.WarnContext(ctx, "reviews unavailable, returning restaurant without them",
			slog.Int64("restaurant_id", id),
			slog.String("error", err.Error()),
		)
		reviews = nil
	}

	return restaurant.WithReviews(reviews, s.opts.MaxScore), nil
}

// FetchFavoriteRestaurants returns the restaurants marked as favorite.
func (s *RestaurantService) FetchFavoriteRestaurants(ctx context.Context) ([]domain.Restaurant, error) {
	return s.FilterRestaurants(ctx, domain.RestaurantFilter{FavoritesOnly: true})
}

// FilterRestaurants returns the restaurants matching f.
func (s *RestaurantService) FilterRestaurants(ctx context.Context, f domain.RestaurantFilter) ([]domain.Restaurant, error) {
	restaurants, err := s.FetchRestaurants(ctx)
	if err != nil {
		return nil, err
	}
	return f.Apply(restaurants), nil
}

// Neighborhoods returns the distinct neighborhoods of all restaurants.
func (s *RestaurantService) Neighborhoods(ctx context.Context) ([]string, error) {
	restaurants, err := s.FetchRestaurants(ctx)
	if err != nil {
		return nil, err
	}
	return domain.Neighborhoods(restaurants), nil
}

// Cuisines returns the distinct cuisine types of all restaurants.
func (s *RestaurantService) Cuisines(ctx context.Context) ([]string, error) {
	restaurants, err := s.FetchRestaurants(ctx)
	if err != nil {
		return nil, err
	}
	return domain.Cuisines(restaurants), nil
}

// SetFavoriteRestaurant updates the favorite flag through the API and stores
// the updated restaurant. Nothing is changed locally when the API call fails.
func (s *RestaurantService) SetFavoriteRestaurant(ctx context.Context, id int64, favorite bool) (domain.Restaurant, error) {
	updated, err := s.gateway.SetFavorite(ctx, id, favorite)
	if err != nil {
		s.noteNetworkFailure(ctx, "favorite", err)
		return domain.Restaurant{}, err
	}

	if err := s.store.SaveRestaurants(ctx, updated); err != nil {
		s.logStoreWrite(ctx, store.Restaurants, err)
	}

	s.logger.InfoContext(ctx, "favorite updated",
		slog.Int64("restaurant_id", id),
		slog.Bool("is_favorite", bool(updated.IsFavorite)),
	)
	return updated, nil
}
