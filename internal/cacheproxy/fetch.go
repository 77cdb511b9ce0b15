package cacheproxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tophergates/mws-restaurant-reviews/internal/cacheproxy/storage"
	apperrors "github.com/tophergates/mws-restaurant-reviews/pkg/errors"
	"github.com/tophergates/mws-restaurant-reviews/pkg/httputil"
	"github.com/tophergates/mws-restaurant-reviews/pkg/middleware"
)

const cacheStatusHeader = middleware.CacheStatusHeader

// Values of the cache status header.
const (
	statusHit      = "HIT"
	statusMiss     = "MISS"
	statusBypass   = "BYPASS"
	statusFallback = "FALLBACK"
)

// route describes where a GET request is looked up and stored.
type route struct {
	cache string
	key   string
	trim  bool
}

// Fetch answers req from the caches or the network. Requests without an
// absolute URL resolve against the origin.
func (p *Proxy) Fetch(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	target := p.resolve(req.URL)

	if req.Method != http.MethodGet || !p.Activated() {
		resp, err := p.forward(ctx, req, target)
		if err != nil {
			lookupsTotal.WithLabelValues("none", "error").Inc()
			return nil, apperrors.NetworkError("fetch "+target.Redacted(), err)
		}
		lookupsTotal.WithLabelValues("none", "bypass").Inc()
		resp.Header.Set(cacheStatusHeader, statusBypass)
		return resp, nil
	}

	rt := p.route(req, target)
	if cached, ok := p.lookup(ctx, rt); ok {
		lookupsTotal.WithLabelValues(rt.cache, "hit").Inc()
		return toHTTP(req, cached, statusHit), nil
	}

	resp, err := p.forward(ctx, req, target)
	if err != nil {
		return p.fallbackOrFail(ctx, req, rt, err)
	}
	lookupsTotal.WithLabelValues(rt.cache, "miss").Inc()
	resp.Header.Set(cacheStatusHeader, statusMiss)

	if resp.StatusCode != http.StatusOK || p.isExcluded(target) {
		return resp, nil
	}
	return p.store(ctx, rt, resp)
}

// ServeHTTP serves origin requests through the caches. Uncached requests are
// reverse proxied to the origin as is.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !r.URL.IsAbs() && (r.Method != http.MethodGet || !p.Activated()) {
		lookupsTotal.WithLabelValues("none", "bypass").Inc()
		p.passthru.ServeHTTP(w, r)
		return
	}

	resp, err := p.Fetch(r)
	if err != nil {
		httputil.WriteError(w, r, err, p.logger)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for k, vs := range resp.Header {
		header[k] = append([]string(nil), vs...)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.WarnContext(r.Context(), "failed to write proxied body",
			slog.String("url", r.URL.Redacted()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Proxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.ErrorContext(r.Context(), "proxy error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	httputil.WriteError(w, r, apperrors.NetworkError("origin unavailable", err), p.logger)
}

// resolve makes u absolute against the origin.
func (p *Proxy) resolve(u *url.URL) *url.URL {
	if u.IsAbs() {
		return u
	}
	return p.origin.ResolveReference(u)
}

func (p *Proxy) route(req *http.Request, target *url.URL) route {
	key := cacheKey(target)
	for _, pattern := range p.cfg.RuntimeAllowlist {
		if strings.Contains(key, pattern) {
			return route{cache: p.cfg.RuntimeCacheName(), key: key, trim: p.cfg.RuntimeMaxEntries > 0}
		}
	}

	if p.cfg.IgnoreSearchForNavigation && p.sameOrigin(target) && isNavigation(req) {
		stripped := *target
		stripped.RawQuery = ""
		stripped.ForceQuery = false
		key = cacheKey(&stripped)
	}
	return route{cache: p.cfg.StaticCacheName(), key: key}
}

func (p *Proxy) lookup(ctx context.Context, rt route) (storage.Response, bool) {
	cached, ok, err := p.caches.Get(ctx, rt.cache, rt.key)
	if err != nil {
		p.logger.WarnContext(ctx, "cache lookup failed, using network",
			slog.String("cache", rt.cache),
			slog.String("key", rt.key),
			slog.String("error", err.Error()),
		)
		return storage.Response{}, false
	}
	return cached, ok
}

// store clones resp into the routed cache and returns a response that replays
// the body for the caller. Storage failures never fail the fetch.
func (p *Proxy) store(ctx context.Context, rt route, resp *http.Response) (*http.Response, error) {
	captured, rest, err := p.capture(rt.key, resp)
	switch {
	case errors.Is(err, errEntryTooLarge):
		p.logger.DebugContext(ctx, "response too large to cache", slog.String("key", rt.key))
		resp.Body = replayBody{Reader: rest, Closer: resp.Body}
		return resp, nil
	case err != nil:
		resp.Body.Close()
		return nil, apperrors.NetworkError("read "+rt.key, err)
	}
	resp.Body.Close()
	captured.Header.Del(cacheStatusHeader)

	if err := p.caches.Put(ctx, rt.cache, rt.key, captured); err != nil {
		p.logger.WarnContext(ctx, "failed to cache response",
			slog.String("cache", rt.cache),
			slog.String("key", rt.key),
			slog.String("error", err.Error()),
		)
	} else if rt.trim {
		p.trim(ctx, rt.cache)
	}

	resp.Body = io.NopCloser(bytes.NewReader(captured.Body))
	resp.ContentLength = int64(len(captured.Body))
	return resp, nil
}

// replayBody re-reads an already consumed prefix before the rest of the
// original body, which it closes.
type replayBody struct {
	io.Reader
	io.Closer
}

// trim evicts the oldest entries until the cache holds at most
// RuntimeMaxEntries responses.
func (p *Proxy) trim(ctx context.Context, cache string) {
	keys, err := p.caches.Keys(ctx, cache)
	if err != nil {
		p.logger.WarnContext(ctx, "failed to list cache keys", slog.String("cache", cache), slog.String("error", err.Error()))
		return
	}
	for len(keys) > p.cfg.RuntimeMaxEntries {
		if err := p.caches.Delete(ctx, cache, keys[0]); err != nil {
			p.logger.WarnContext(ctx, "failed to trim cache", slog.String("cache", cache), slog.String("error", err.Error()))
			return
		}
		trimmedTotal.WithLabelValues(cache).Inc()
		keys = keys[1:]
	}
}

// fallbackOrFail handles a cache miss whose network fetch failed.
func (p *Proxy) fallbackOrFail(ctx context.Context, req *http.Request, rt route, cause error) (*http.Response, error) {
	if p.fallback != nil {
		resp, err := p.fallback(ctx, req, cause)
		if err == nil && resp != nil {
			lookupsTotal.WithLabelValues(rt.cache, "fallback").Inc()
			return resp, nil
		}
	}
	lookupsTotal.WithLabelValues(rt.cache, "error").Inc()
	return nil, apperrors.NetworkError("fetch "+rt.key, cause)
}

// OfflinePage is the default fallback: page loads get the configured offline
// page from the static cache. Anything else fails with cause.
func (p *Proxy) OfflinePage(ctx context.Context, req *http.Request, cause error) (*http.Response, error) {
	if p.cfg.OfflinePage == "" || !isNavigation(req) {
		return nil, cause
	}
	page, err := p.origin.Parse(p.cfg.OfflinePage)
	if err != nil {
		return nil, fmt.Errorf("invalid offline page: %w", err)
	}
	cached, ok := p.lookup(ctx, route{cache: p.cfg.StaticCacheName(), key: cacheKey(page)})
	if !ok {
		return nil, cause
	}
	return toHTTP(req, cached, statusFallback), nil
}

func (p *Proxy) forward(ctx context.Context, req *http.Request, target *url.URL) (*http.Response, error) {
	body := req.Body
	if body == nil {
		body = http.NoBody
	}
	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	out.Header = req.Header.Clone()
	out.ContentLength = req.ContentLength
	return p.client.Do(ctx, out)
}

func (p *Proxy) isExcluded(target *url.URL) bool {
	for _, o := range p.excluded {
		if strings.EqualFold(o.Scheme, target.Scheme) && strings.EqualFold(o.Host, target.Host) {
			return true
		}
	}
	s := target.String()
	for _, pattern := range p.cfg.Exclusions {
		if strings.Contains(s, pattern) {
			return true
		}
	}
	return false
}

func (p *Proxy) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, p.origin.Scheme) && strings.EqualFold(u.Host, p.origin.Host)
}

func isNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

func cacheKey(u *url.URL) string {
	k := *u
	k.Fragment = ""
	k.RawFragment = ""
	return k.String()
}

func toHTTP(req *http.Request, cached storage.Response, status string) *http.Response {
	header := cached.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(cacheStatusHeader, status)
	header.Set("Content-Length", strconv.Itoa(len(cached.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", cached.StatusCode, http.StatusText(cached.StatusCode)),
		StatusCode:    cached.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(cached.Body)),
		ContentLength: int64(len(cached.Body)),
		Request:       req,
	}
}
