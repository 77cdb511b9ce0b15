package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tophergates/mws-restaurant-reviews/internal/domain"
	"github.com/tophergates/mws-restaurant-reviews/internal/service"
	"github.com/tophergates/mws-restaurant-reviews/pkg/httputil"
	"github.com/tophergates/mws-restaurant-reviews/pkg/validator"
)

// Image size suffixes published with every restaurant.
var imageSizes = []string{"small", "medium", "large"}

// RestaurantHandler handles HTTP requests for the restaurant and review endpoints.
type RestaurantHandler struct {
	service *service.RestaurantService
	logger  *slog.Logger
}

// NewRestaurantHandler creates a new restaurant HTTP handler.
func NewRestaurantHandler(svc *service.RestaurantService, logger *slog.Logger) *RestaurantHandler {
	return &RestaurantHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// ReviewRequest is the JSON body for submitting a review. The restaurant
// comes from the path.
type ReviewRequest struct {
	Name     string           `json:"name" validate:"notblank,max=100"`
	Rating   int              `json:"rating" validate:"gte=1"`
	Comments string           `json:"comments" validate:"max=300"`
	Created  domain.Timestamp `json:"createdAt,omitempty"`
}

// --- Views ---

// RestaurantView is a restaurant with the links the UI renders.
type RestaurantView struct {
	domain.Restaurant
	URL            string            `json:"url"`
	Images         map[string]string `json:"images"`
	DisplayAverage float64           `json:"display_average"`
	MaxScore       int               `json:"max_score"`
}

func (h *RestaurantHandler) view(r domain.Restaurant) RestaurantView {
	images := make(map[string]string, len(imageSizes))
	for _, size := range imageSizes {
		images[size] = h.service.RestaurantImageURL(r, size, false)
	}
	return RestaurantView{
		Restaurant:     r,
		URL:            h.service.RestaurantURL(r.ID, false),
		Images:         images,
		DisplayAverage: r.DisplayAverage(),
		MaxScore:       h.service.MaxScore(),
	}
}

func (h *RestaurantHandler) views(rs []domain.Restaurant) []RestaurantView {
	out := make([]RestaurantView, len(rs))
	for i, r := range rs {
		out[i] = h.view(r)
	}
	return out
}

// --- Handlers ---

// ListRestaurants handles GET /api/v1/restaurants
func (h *RestaurantHandler) ListRestaurants(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.RestaurantFilter{
		Cuisine:      q.Get("cuisine"),
		Neighborhood: q.Get("neighborhood"),
	}
	if raw := q.Get("favorites"); raw != "" {
		fav, ok := httputil.ParseBool(w, "favorites", raw)
		if !ok {
			return
		}
		filter.FavoritesOnly = fav
	}

	var (
		restaurants []domain.Restaurant
		err         error
	)
	switch {
	case filter == domain.RestaurantFilter{}:
		restaurants, err = h.service.FetchRestaurants(r.Context())
	case filter == domain.RestaurantFilter{FavoritesOnly: true}:
		restaurants, err = h.service.FetchFavoriteRestaurants(r.Context())
	default:
		restaurants, err = h.service.FilterRestaurants(r.Context(), filter)
	}
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewListResponse(h.views(restaurants)))
}

// GetRestaurant handles GET /api/v1/restaurants/{id}
func (h *RestaurantHandler) GetRestaurant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	restaurant, err := h.service.FetchRestaurantWithReviews(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.view(restaurant)})
}

// SetFavorite handles PUT /api/v1/restaurants/{id}/favorite?is_favorite=
func (h *RestaurantHandler) SetFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	favorite, ok := httputil.ParseBool(w, "is_favorite", r.URL.Query().Get("is_favorite"))
	if !ok {
		return
	}

	restaurant, err := h.service.SetFavoriteRestaurant(r.Context(), id, favorite)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.view(restaurant)})
}

// ListNeighborhoods handles GET /api/v1/neighborhoods
func (h *RestaurantHandler) ListNeighborhoods(w http.ResponseWriter, r *http.Request) {
	names, err := h.service.Neighborhoods(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewListResponse(names))
}

// ListCuisines handles GET /api/v1/cuisines
func (h *RestaurantHandler) ListCuisines(w http.ResponseWriter, r *http.Request) {
	names, err := h.service.Cuisines(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewListResponse(names))
}

// ListRestaurantReviews handles GET /api/v1/restaurants/{id}/reviews
func (h *RestaurantHandler) ListRestaurantReviews(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	reviews, err := h.service.FetchRestaurantReviews(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewListResponse(reviews))
}

// AddReview handles POST /api/v1/restaurants/{id}/reviews. A review the API
// accepted answers 201, a review queued while offline answers 202 and a review
// the API refused answers 422.
func (h *RestaurantHandler) AddReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req ReviewRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	sub, err := h.service.AddRestaurantReview(r.Context(), domain.ReviewDraft{
		RestaurantID: id,
		Name:         req.Name,
		Rating:       req.Rating,
		Comments:     req.Comments,
		CreatedAt:    req.Created,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	status := http.StatusCreated
	if sub.Pending {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, httputil.Response{Data: sub})
}

// SyncRestaurantReviews handles POST /api/v1/restaurants/{id}/reviews/sync
func (h *RestaurantHandler) SyncRestaurantReviews(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	reviews, err := h.service.AddPendingReviews(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewListResponse(reviews))
}

// SyncPending handles POST /api/v1/reviews/sync
func (h *RestaurantHandler) SyncPending(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.SyncPending(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: res})
}

// ListReviews handles GET /api/v1/reviews
func (h *RestaurantHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.service.FetchReviews(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewListResponse(reviews))
}

// GetReview handles GET /api/v1/reviews/{id}
func (h *RestaurantHandler) GetReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	review, err := h.service.FetchReview(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: review})
}
