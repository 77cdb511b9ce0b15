package cacheproxy

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DefaultManifest is the static shell prefetched on install.
var DefaultManifest = []string{
	"/",
	"/index.html",
	"/restaurant.html",
	"/favicon.ico",
	"/css/style.min.css",
	"/js/app.min.js",
	"/js/home.min.js",
	"/js/restaurant.min.js",
	"/data/restaurants.json",
	"https://fonts.googleapis.com/css?family=Montserrat|Noto+Sans|Roboto+Slab",
}

// DefaultExclusions are URL fragments of map provider calls that must never
// be cached.
var DefaultExclusions = []string{
	"AuthenticationService.Authenticate",
	"QuotaService.RecordEvent",
	"ViewportInfoService.GetViewportInfo",
}

// DefaultRuntimeAllowlist routes map tiles to the trimmed runtime cache.
var DefaultRuntimeAllowlist = []string{"maps/vt"}

// Config controls the cache proxy.
type Config struct {
	// Prefix and Version name the cache generations.
	Prefix  string
	Version string

	// Origin is the upstream serving the static assets.
	Origin string

	// Manifest lists the URLs seeded on install. Relative entries resolve
	// against Origin.
	Manifest []string

	// RuntimeAllowlist holds URL fragments routed to the runtime cache,
	// which keeps at most RuntimeMaxEntries responses.
	RuntimeAllowlist  []string
	RuntimeMaxEntries int

	// Exclusions holds URL fragments never stored. ExcludedOrigins holds
	// origins never stored, such as the JSON API.
	Exclusions      []string
	ExcludedOrigins []string

	// IgnoreSearchForNavigation matches same-origin page loads without their
	// query string.
	IgnoreSearchForNavigation bool

	// OfflinePage, when set, is served from the static cache for page loads
	// that miss the cache while the origin is down.
	OfflinePage string

	MaxEntryBytes      int64
	InstallConcurrency int
	FetchTimeout       time.Duration
}

// DefaultConfig returns the configuration for a local origin.
func DefaultConfig(origin string) Config {
	return Config{
		Prefix:                    "restaurant-reviews",
		Version:                   "v1",
		Origin:                    origin,
		Manifest:                  DefaultManifest,
		RuntimeAllowlist:          DefaultRuntimeAllowlist,
		RuntimeMaxEntries:         50,
		Exclusions:                DefaultExclusions,
		IgnoreSearchForNavigation: true,
		MaxEntryBytes:             10 << 20,
		InstallConcurrency:        8,
		FetchTimeout:              30 * time.Second,
	}
}

// StaticCacheName is the generation holding the prefetched shell.
func (c Config) StaticCacheName() string {
	return fmt.Sprintf("%s-static-%s", c.Prefix, c.Version)
}

// RuntimeCacheName is the generation holding runtime map tiles.
func (c Config) RuntimeCacheName() string {
	return fmt.Sprintf("%s-maps-%s", c.Prefix, c.Version)
}

func (c Config) validate() error {
	if c.Prefix == "" || c.Version == "" {
		return fmt.Errorf("cache prefix and version are required")
	}
	u, err := url.Parse(c.Origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid cache origin %q", c.Origin)
	}
	for _, o := range c.ExcludedOrigins {
		if _, err := parseOrigin(o); err != nil {
			return err
		}
	}
	return nil
}

func parseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", raw)
	}
	return u, nil
}
