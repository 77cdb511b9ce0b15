package domain

import "strconv"

// LatLng is a restaurant's map position.
type LatLng struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

// Restaurant as served by the restaurant API. Reviews and AverageReview are
// attached at read time and never persisted with the restaurant.
type Restaurant struct {
	ID             int64             `json:"id" validate:"gt=0"`
	Name           string            `json:"name" validate:"required"`
	Neighborhood   string            `json:"neighborhood"`
	Photograph     string            `json:"photograph,omitempty"`
	Address        string            `json:"address"`
	LatLng         LatLng            `json:"latlng"`
	CuisineType    string            `json:"cuisine_type"`
	OperatingHours map[string]string `json:"operating_hours,omitempty"`
	IsFavorite     Flag              `json:"is_favorite"`
	CreatedAt      Timestamp         `json:"createdAt,omitempty"`
	UpdatedAt      Timestamp         `json:"updatedAt,omitempty"`

	Reviews       []Review `json:"reviews,omitempty"`
	AverageReview float64  `json:"averageReview"`
}

// Key returns the primary key.
func (r Restaurant) Key() int64 { return r.ID }

// Persistable returns a copy without the read-time fields.
func (r Restaurant) Persistable() Restaurant {
	r.Reviews = nil
	r.AverageReview = 0
	return r
}

// WithReviews attaches reviews and recomputes the average from them.
func (r Restaurant) WithReviews(reviews []Review, maxScore int) Restaurant {
	if reviews == nil {
		reviews = []Review{}
	}
	r.Reviews = reviews
	r.AverageReview = AverageReview(reviews, maxScore)
	return r
}

// DisplayAverage is the one-decimal rating shown as text.
func (r Restaurant) DisplayAverage() float64 {
	return RoundAverage(r.AverageReview)
}

// PhotoID is the image name stem, falling back to the id when the API
// omits the photograph.
func (r Restaurant) PhotoID() string {
	if r.Photograph != "" {
		return r.Photograph
	}
	return strconv.FormatInt(r.ID, 10)
}
