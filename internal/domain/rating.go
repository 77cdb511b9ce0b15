package domain

import "math"

// DefaultMaxScore is the highest star rating.
const DefaultMaxScore = 5

// AverageReview returns sum(ratings)/(count*maxScore)*100 without rounding.
// It is 0 for no reviews or a non-positive maxScore.
func AverageReview(reviews []Review, maxScore int) float64 {
	if len(reviews) == 0 || maxScore <= 0 {
		return 0
	}
	var sum int
	for _, r := range reviews {
		sum += r.Rating
	}
	return float64(sum) / float64(len(reviews)*maxScore) * 100
}

// RoundAverage rounds a raw percentage to one decimal place for display.
func RoundAverage(raw float64) float64 {
	return math.Round(raw*10) / 10
}
