// Package cacheproxy serves the static asset surface through versioned
// response caches so the UI keeps loading while the origin is unreachable.
package cacheproxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/looplab/fsm"
	"golang.org/x/sync/errgroup"

	"github.com/tophergates/mws-restaurant-reviews/internal/cacheproxy/storage"
	"github.com/tophergates/mws-restaurant-reviews/pkg/httpclient"
	"github.com/tophergates/mws-restaurant-reviews/pkg/logger"
)

var errEntryTooLarge = errors.New("response exceeds cache entry limit")

// FallbackFunc produces a substitute response for a cache miss whose network
// fetch failed with err.
type FallbackFunc func(ctx context.Context, req *http.Request, err error) (*http.Response, error)

// Proxy is a caching proxy in front of the asset origin.
type Proxy struct {
	cfg      Config
	origin   *url.URL
	manifest []*url.URL
	excluded []*url.URL

	caches    storage.Storage
	client    httpclient.Doer
	fallback  FallbackFunc
	passthru  *httputil.ReverseProxy
	lifecycle *fsm.FSM
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a proxy in the new state. The client performs every network
// fetch, including the install prefetch.
func New(cfg Config, caches storage.Storage, client httpclient.Doer, log *slog.Logger) (*Proxy, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.InstallConcurrency <= 0 {
		cfg.InstallConcurrency = 1
	}

	origin, err := parseOrigin(cfg.Origin)
	if err != nil {
		return nil, err
	}

	manifest := make([]*url.URL, 0, len(cfg.Manifest))
	for _, raw := range cfg.Manifest {
		u, err := origin.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid manifest entry %q: %w", raw, err)
		}
		manifest = append(manifest, u)
	}

	excluded := make([]*url.URL, 0, len(cfg.ExcludedOrigins))
	for _, raw := range cfg.ExcludedOrigins {
		u, _ := parseOrigin(raw)
		excluded = append(excluded, u)
	}

	l := logger.Component(log, "cacheproxy")
	p := &Proxy{
		cfg:       cfg,
		origin:    origin,
		manifest:  manifest,
		excluded:  excluded,
		caches:    caches,
		client:    client,
		lifecycle: newLifecycle(l),
		logger:    l,
		now:       time.Now,
	}

	p.passthru = httputil.NewSingleHostReverseProxy(origin)
	p.passthru.ModifyResponse = func(resp *http.Response) error {
		resp.Header.Set(cacheStatusHeader, statusBypass)
		return nil
	}
	p.passthru.ErrorHandler = p.errorHandler
	p.fallback = p.OfflinePage
	return p, nil
}

// WithFallback replaces the hook consulted when a cache miss cannot be
// fetched. A nil hook disables the fallback.
func (p *Proxy) WithFallback(fn FallbackFunc) *Proxy {
	p.fallback = fn
	return p
}

// Install fetches every manifest URL and seeds the static cache. Any failed
// fetch fails the install and the proxy becomes redundant; nothing is stored
// unless every fetch succeeded.
func (p *Proxy) Install(ctx context.Context) error {
	if err := p.transition(ctx, eventInstall); err != nil {
		return err
	}

	if err := p.install(ctx); err != nil {
		p.logger.ErrorContext(ctx, "cache install failed", slog.String("error", err.Error()))
		if terr := p.transition(ctx, eventInstallFailed); terr != nil {
			return errors.Join(err, terr)
		}
		return err
	}

	p.logger.InfoContext(ctx, "cache installed",
		slog.String("cache", p.cfg.StaticCacheName()),
		slog.Int("entries", len(p.manifest)),
	)
	return p.transition(ctx, eventInstallDone)
}

func (p *Proxy) install(ctx context.Context) error {
	fetched := make([]storage.Response, len(p.manifest))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.InstallConcurrency)
	for i, u := range p.manifest {
		i, u := i, u
		g.Go(func() error {
			resp, err := p.prefetch(gctx, u)
			if err != nil {
				return fmt.Errorf("prefetch %s: %w", u, err)
			}
			fetched[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	name := p.cfg.StaticCacheName()
	if err := p.caches.Open(ctx, name); err != nil {
		return fmt.Errorf("open cache %s: %w", name, err)
	}
	for _, resp := range fetched {
		if err := p.caches.Put(ctx, name, resp.URL, resp); err != nil {
			if derr := p.caches.DeleteCache(ctx, name); derr != nil {
				p.logger.ErrorContext(ctx, "failed to discard partial cache",
					slog.String("cache", name),
					slog.String("error", derr.Error()),
				)
			}
			return fmt.Errorf("store %s: %w", resp.URL, err)
		}
	}
	return nil
}

func (p *Proxy) prefetch(ctx context.Context, u *url.URL) (storage.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return storage.Response{}, err
	}
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return storage.Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return storage.Response{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	captured, _, err := p.capture(cacheKey(u), resp)
	return captured, err
}

// Activate removes every cache generation other than the current static and
// runtime caches, after which requests are served through the caches.
func (p *Proxy) Activate(ctx context.Context) error {
	if err := p.transition(ctx, eventActivate); err != nil {
		return err
	}

	if err := p.activate(ctx); err != nil {
		p.logger.ErrorContext(ctx, "cache activation failed", slog.String("error", err.Error()))
		if terr := p.transition(ctx, eventActivateAbort); terr != nil {
			return errors.Join(err, terr)
		}
		return err
	}
	return p.transition(ctx, eventActivateDone)
}

func (p *Proxy) activate(ctx context.Context) error {
	static, runtime := p.cfg.StaticCacheName(), p.cfg.RuntimeCacheName()

	names, err := p.caches.Caches(ctx)
	if err != nil {
		return fmt.Errorf("list caches: %w", err)
	}
	for _, name := range names {
		if name == static || name == runtime {
			continue
		}
		if err := p.caches.DeleteCache(ctx, name); err != nil {
			return fmt.Errorf("delete cache %s: %w", name, err)
		}
		p.logger.InfoContext(ctx, "deleted stale cache", slog.String("cache", name))
	}

	if err := p.caches.Open(ctx, runtime); err != nil {
		return fmt.Errorf("open cache %s: %w", runtime, err)
	}
	return nil
}

// Ping checks the cache storage.
func (p *Proxy) Ping(ctx context.Context) error {
	return p.caches.Ping(ctx)
}

// capture reads resp into a storable response. When the body exceeds the
// entry limit it returns errEntryTooLarge along with a reader that replays
// the full body.
func (p *Proxy) capture(key string, resp *http.Response) (storage.Response, io.Reader, error) {
	limit := p.cfg.MaxEntryBytes
	reader := io.Reader(resp.Body)
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return storage.Response{}, nil, fmt.Errorf("read body: %w", err)
	}
	if limit > 0 && int64(len(body)) > limit {
		return storage.Response{}, io.MultiReader(bytes.NewReader(body), resp.Body), errEntryTooLarge
	}

	return storage.Response{
		URL:        key,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		StoredAt:   p.now().UTC(),
	}, nil, nil
}
