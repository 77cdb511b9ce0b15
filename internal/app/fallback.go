package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tophergates/mws-restaurant-reviews/internal/cacheproxy"
	"github.com/tophergates/mws-restaurant-reviews/pkg/middleware"
)

const offlineHTML = `<!DOCTYPE html>
<html lang="en"><head><meta charset="utf-8"><title>Offline</title></head>
<body><h1>You are offline</h1><p>This page is not cached yet. Reconnect and try again.</p></body></html>
`

// offlineFallback answers page loads the proxy could neither serve from cache
// nor fetch. The cached offline page wins when one is configured; otherwise a
// minimal 503 page is returned. Non-page requests keep failing.
func offlineFallback(p *cacheproxy.Proxy, log *slog.Logger) cacheproxy.FallbackFunc {
	return func(ctx context.Context, req *http.Request, cause error) (*http.Response, error) {
		if resp, err := p.OfflinePage(ctx, req, cause); err == nil {
			return resp, nil
		}
		if req.Header.Get("Sec-Fetch-Mode") != "navigate" && !strings.Contains(req.Header.Get("Accept"), "text/html") {
			return nil, cause
		}

		log.WarnContext(ctx, "origin unreachable, serving offline notice",
			slog.String("url", req.URL.Redacted()),
			slog.String("error", cause.Error()),
		)
		header := http.Header{}
		header.Set("Content-Type", "text/html; charset=utf-8")
		header.Set("Cache-Control", "no-store")
		header.Set("Retry-After", "30")
		header.Set(middleware.CacheStatusHeader, "FALLBACK")
		return &http.Response{
			Status:        "503 Service Unavailable",
			StatusCode:    http.StatusServiceUnavailable,
			Proto:         "HTTP/1.1",
			ProtoMajor:    1,
			ProtoMinor:    1,
			Header:        header,
			Body:          io.NopCloser(strings.NewReader(offlineHTML)),
			ContentLength: int64(len(offlineHTML)),
			Request:       req,
		}, nil
	}
}
