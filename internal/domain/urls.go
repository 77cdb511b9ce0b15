package domain

import (
	"fmt"
	"strings"
)

// URLBuilder renders links to restaurant pages and images, either relative or
// absolute against the client base URL.
type URLBuilder struct {
	BaseURL string
}

// RestaurantImageURL returns the image path for a restaurant at a given size
// suffix ("small", "medium", "large", ...).
func (b URLBuilder) RestaurantImageURL(r Restaurant, size string, relative bool) string {
	path := fmt.Sprintf("/images/%s-%s.jpg", r.PhotoID(), size)
	return b.resolve(path, relative)
}

// RestaurantURL returns the detail page path for a restaurant id.
func (b URLBuilder) RestaurantURL(id int64, relative bool) string {
	return b.resolve(fmt.Sprintf("/restaurant.html?id=%d", id), relative)
}

func (b URLBuilder) resolve(path string, relative bool) string {
	if relative || b.BaseURL == "" {
		return "." + path
	}
	return strings.TrimRight(b.BaseURL, "/") + path
}
