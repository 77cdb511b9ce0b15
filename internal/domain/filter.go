package domain

// FilterAll disables a restaurant filter.
const FilterAll = "all"

// RestaurantFilter selects restaurants by cuisine and neighborhood. Empty or
// "all" fields match everything.
type RestaurantFilter struct {
	Cuisine       string
	Neighborhood  string
	FavoritesOnly bool
}

func (f RestaurantFilter) matches(r Restaurant) bool {
	if f.Cuisine != "" && f.Cuisine != FilterAll && r.CuisineType != f.Cuisine {
		return false
	}
	if f.Neighborhood != "" && f.Neighborhood != FilterAll && r.Neighborhood != f.Neighborhood {
		return false
	}
	if f.FavoritesOnly && !bool(r.IsFavorite) {
		return false
	}
	return true
}

// Apply returns the restaurants matching f, keeping their order.
func (f RestaurantFilter) Apply(restaurants []Restaurant) []Restaurant {
	out := make([]Restaurant, 0, len(restaurants))
	for _, r := range restaurants {
		if f.matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// Neighborhoods returns the distinct neighborhoods in first-seen order.
func Neighborhoods(restaurants []Restaurant) []string {
	return distinct(restaurants, func(r Restaurant) string { return r.Neighborhood })
}

// Cuisines returns the distinct cuisine types in first-seen order.
func Cuisines(restaurants []Restaurant) []string {
	return distinct(restaurants, func(r Restaurant) string { return r.CuisineType })
}

func distinct(restaurants []Restaurant, field func(Restaurant) string) []string {
	seen := make(map[string]struct{}, len(restaurants))
	out := make([]string, 0)
	for _, r := range restaurants {
		v := field(r)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
