package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tophergates/mws-restaurant-reviews/internal/cacheproxy"
	cachememory "github.com/tophergates/mws-restaurant-reviews/internal/cacheproxy/storage/memory"
	"github.com/tophergates/mws-restaurant-reviews/pkg/httpclient"
)

func newTestProxy(t *testing.T) *cacheproxy.Proxy {
	t.Helper()
	cfg := cacheproxy.DefaultConfig("http://origin.test")
	cfg.OfflinePage = ""
	p, err := cacheproxy.New(cfg, cachememory.New(), httpclient.New(httpclient.DefaultConfig()),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return p
}

func TestOfflineFallback_PageLoad(t *testing.T) {
	fallback := offlineFallback(newTestProxy(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	req, err := http.NewRequest(http.MethodGet, "http://origin.test/restaurant.html?id=3", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := fallback(context.Background(), req, errors.New("connection refused"))

	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "FALLBACK", resp.Header.Get("X-Cache"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "You are offline")
}

func TestOfflineFallback_AssetKeepsError(t *testing.T) {
	fallback := offlineFallback(newTestProxy(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	req, err := http.NewRequest(http.MethodGet, "http://origin.test/images/1-320.jpg", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("Accept", "image/webp,*/*")
	cause := errors.New("connection refused")

	resp, err := fallback(context.Background(), req, cause)

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, cause)
}
