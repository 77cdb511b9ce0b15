package middleware

import "net/http"

// NoStore forbids caching of any response. The JSON API is mounted behind it
// so browsers and intermediaries never serve stale restaurant data.
func NoStore() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
