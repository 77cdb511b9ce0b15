package domain

import "time"

// IndexRestaurant is the secondary index on review-bearing collections.
const IndexRestaurant = "restaurant"

// MaxCommentLength bounds review comments at submission.
const MaxCommentLength = 300

// Review is a restaurant review. Pending is true only for locally queued
// reviews that the API has not accepted yet.
type Review struct {
	ID           int64     `json:"id" validate:"gte=0"`
	RestaurantID int64     `json:"restaurant_id" validate:"gt=0"`
	Name         string    `json:"name"`
	Rating       int       `json:"rating" validate:"gte=0"`
	Comments     string    `json:"comments"`
	CreatedAt    Timestamp `json:"createdAt,omitempty"`
	UpdatedAt    Timestamp `json:"updatedAt,omitempty"`
	Pending      bool      `json:"pending,omitempty"`
}

// Key returns the primary key.
func (r Review) Key() int64 { return r.ID }

// SetKey assigns a generated key.
func (r *Review) SetKey(id int64) { r.ID = id }

// IndexValues maps index names to the values this record is filed under.
func (r Review) IndexValues() map[string]int64 {
	return map[string]int64{IndexRestaurant: r.RestaurantID}
}

// Draft strips server and queue fields, leaving what is posted to the API.
func (r Review) Draft() ReviewDraft {
	return ReviewDraft{
		RestaurantID: r.RestaurantID,
		Name:         r.Name,
		Rating:       r.Rating,
		Comments:     r.Comments,
		CreatedAt:    r.CreatedAt,
	}
}

// ReviewDraft is a review submitted by the user. The upper rating bound is
// configurable and checked by the caller.
type ReviewDraft struct {
	RestaurantID int64     `json:"restaurant_id" validate:"gt=0"`
	Name         string    `json:"name" validate:"notblank,max=100"`
	Rating       int       `json:"rating" validate:"gte=1"`
	Comments     string    `json:"comments" validate:"max=300"`
	CreatedAt    Timestamp `json:"createdAt"`
}

// Stamp sets CreatedAt to now if it is unset.
func (d ReviewDraft) Stamp(now time.Time) ReviewDraft {
	if d.CreatedAt == 0 {
		d.CreatedAt = NewTimestamp(now)
	}
	return d
}

// Pending converts the draft into a queued review. The key is assigned by the store.
func (d ReviewDraft) Pending() Review {
	return Review{
		RestaurantID: d.RestaurantID,
		Name:         d.Name,
		Rating:       d.Rating,
		Comments:     d.Comments,
		CreatedAt:    d.CreatedAt,
		Pending:      true,
	}
}

// MarkPending returns copies of reviews flagged as pending.
func MarkPending(reviews []Review) []Review {
	out := make([]Review, len(reviews))
	for i, r := range reviews {
		r.Pending = true
		out[i] = r
	}
	return out
}
