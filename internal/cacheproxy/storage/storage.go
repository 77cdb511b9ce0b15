// Package storage defines named response caches used by the cache proxy.
package storage

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrNoCache is returned for operations on a cache that was never opened.
var ErrNoCache = errors.New("cache does not exist")

// Response is a captured HTTP response.
type Response struct {
	URL        string      `json:"url"`
	StatusCode int         `json:"status"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"stored_at"`
}

// Storage holds named caches, each a URL keyed map of responses that keeps
// insertion order. Overwriting a key keeps its original position.
type Storage interface {
	// Open creates the cache if it does not exist.
	Open(ctx context.Context, cache string) error
	// Caches lists cache names in lexical order.
	Caches(ctx context.Context) ([]string, error)
	// DeleteCache removes a cache and all of its entries. Missing caches are ignored.
	DeleteCache(ctx context.Context, cache string) error

	Put(ctx context.Context, cache, key string, resp Response) error
	Get(ctx context.Context, cache, key string) (Response, bool, error)
	// Keys lists keys oldest first.
	Keys(ctx context.Context, cache string) ([]string, error)
	Delete(ctx context.Context, cache, key string) error

	Ping(ctx context.Context) error
}
