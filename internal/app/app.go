package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/tophergates/mws-restaurant-reviews/internal/cacheproxy"
	"github.com/tophergates/mws-restaurant-reviews/internal/cacheproxy/storage"
	cachememory "github.com/tophergates/mws-restaurant-reviews/internal/cacheproxy/storage/memory"
	cacheredis "github.com/tophergates/mws-restaurant-reviews/internal/cacheproxy/storage/redis"
	"github.com/tophergates/mws-restaurant-reviews/internal/config"
	"github.com/tophergates/mws-restaurant-reviews/internal/domain"
	"github.com/tophergates/mws-restaurant-reviews/internal/gateway"
	handler "github.com/tophergates/mws-restaurant-reviews/internal/handler/http"
	"github.com/tophergates/mws-restaurant-reviews/internal/service"
	"github.com/tophergates/mws-restaurant-reviews/internal/store"
	storememory "github.com/tophergates/mws-restaurant-reviews/internal/store/memory"
	storeredis "github.com/tophergates/mws-restaurant-reviews/internal/store/redis"
	"github.com/tophergates/mws-restaurant-reviews/pkg/database"
	"github.com/tophergates/mws-restaurant-reviews/pkg/health"
	"github.com/tophergates/mws-restaurant-reviews/pkg/httpclient"
	"github.com/tophergates/mws-restaurant-reviews/pkg/logger"
	"github.com/tophergates/mws-restaurant-reviews/pkg/middleware"
	"github.com/tophergates/mws-restaurant-reviews/pkg/tracing"
)

const (
	serviceName   = "restaurant-reviews"
	installWindow = 2 * time.Minute
)

// App wires together all dependencies and runs the restaurant reviews server.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	service *service.RestaurantService
	monitor *service.Monitor
	proxy   *cacheproxy.Proxy

	redisClients   []*redis.Client
	tracerShutdown func(context.Context) error
	httpServer     *http.Server

	// background is cancelled on shutdown and stops the monitor, the cache
	// install and the rate limiter cleanup.
	background context.Context
	stop       context.CancelFunc
	wg         sync.WaitGroup
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, log *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: log}
	a.background, a.stop = context.WithCancel(context.Background())
	defer func() {
		if err != nil {
			a.release()
		}
	}()

	tracingCfg := tracing.DefaultConfig(serviceName)
	tracingCfg.Environment = cfg.Environment
	tracingCfg.Enabled = cfg.OTELEnabled
	tracingCfg.OTLPEndpoint = cfg.OTELEndpoint
	tracingCfg.SampleRate = cfg.OTELSampleRate
	a.tracerShutdown, err = tracing.InitTracer(ctx, tracingCfg)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	database.SetSlowOpLogging(cfg.SlowOpThreshold, logger.Component(log, "storage"))
	healthHandler := health.NewHandler()

	// Persistent store.
	backend, err := a.storeBackend(ctx, healthHandler)
	if err != nil {
		return nil, err
	}
	repo := store.NewRepository(backend)
	if err := repo.Open(ctx); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	log.Info("store opened",
		slog.String("backend", cfg.StoreBackend),
		slog.Int("schema_version", store.SchemaVersion),
	)

	// Restaurant API behind a circuit breaker.
	apiClient := httpclient.New(httpclient.Config{
		Timeout:         cfg.APITimeout,
		RetryWaitMin:    200 * time.Millisecond,
		RetryWaitMax:    2 * time.Second,
		MaxConnsPerHost: 32,
		UserAgent:       serviceName,
	})
	cbCfg := httpclient.DefaultCircuitBreakerConfig("restaurant-api")
	cbCfg.MaxRequests = cfg.APIBreakerMaxRequests
	cbCfg.Interval = cfg.APIBreakerInterval
	cbCfg.Timeout = cfg.APIBreakerTimeout
	cbCfg.FailureRatio = cfg.APIBreakerFailureRatio
	cbCfg.MinRequests = cfg.APIBreakerMinRequests
	breaker := httpclient.NewCircuitBreakerClient(apiClient, cbCfg, log)
	healthHandler.RegisterNonCritical("restaurant-api-breaker", breaker.Check)
	gw := gateway.New(cfg.APIURL(), breaker, cfg.APITimeout, logger.Component(log, "gateway"))
	if gw.BaseURL() == "" {
		log.Warn("restaurant API is not configured; reads will fail")
	}

	// Facade and connectivity monitor.
	policy, err := service.ParseFlushPolicy(cfg.PendingFlushPolicy)
	if err != nil {
		return nil, err
	}
	a.monitor = service.NewMonitor(gw, cfg.ConnectivityProbeInterval, log)
	a.service = service.NewRestaurantService(gw, repo, a.monitor, service.Options{
		MaxScore:         cfg.MaxReviewScore,
		FlushPolicy:      policy,
		FlushConcurrency: cfg.PendingFlushConcurrency,
		URLs:             domain.URLBuilder{BaseURL: cfg.ClientBaseURL},
	}, log)
	a.monitor.OnReconnect(a.syncPending)
	healthHandler.RegisterNonCritical("restaurant-api", gw.Ping)

	// Cache proxy.
	var assets http.Handler
	if cfg.CacheEnabled {
		a.proxy, err = a.cacheProxy(ctx, healthHandler)
		if err != nil {
			return nil, err
		}
		assets = a.proxy
	}

	log.Info("health checks registered", slog.Any("checks", healthHandler.Names()))

	// HTTP router.
	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORSAllowedOrigins
	router := handler.NewRouter(handler.NewRestaurantHandler(a.service, log), healthHandler, log, handler.RouterOptions{
		CORS:       cors,
		PprofCIDRs: cfg.PprofAllowedCIDRs,
		RateLimit:  handler.RateLimit(a.background, cfg.RateLimitRPS, cfg.RateLimitBurst, log),
		Assets:     assets,
	})

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return a, nil
}

func (a *App) storeBackend(ctx context.Context, h *health.Handler) (store.Backend, error) {
	if a.cfg.StoreBackend == config.BackendMemory {
		a.logger.Warn("using in-memory store; queued reviews are lost on restart")
		return storememory.New(), nil
	}

	client, err := a.redisClient(ctx, a.cfg.RedisDB, "store")
	if err != nil {
		return nil, err
	}
	h.RegisterCritical("store", database.RedisChecker(client))
	return storeredis.New(client, a.cfg.StoreNamespace), nil
}

func (a *App) cacheProxy(ctx context.Context, h *health.Handler) (*cacheproxy.Proxy, error) {
	cfg := a.cfg

	var caches storage.Storage
	if cfg.CacheStorageBackend() == config.BackendMemory {
		caches = cachememory.New()
	} else {
		client, err := a.redisClient(ctx, cfg.CacheRedisDB, "cache")
		if err != nil {
			return nil, err
		}
		caches = cacheredis.New(client, cfg.CacheNamespace)
	}

	pcfg := cacheproxy.DefaultConfig(cfg.CacheOrigin)
	pcfg.Prefix = cfg.CachePrefix
	pcfg.Version = cfg.CacheVersion
	if len(cfg.CacheManifest) > 0 {
		pcfg.Manifest = cfg.CacheManifest
	}
	pcfg.RuntimeMaxEntries = cfg.CacheRuntimeMaxEntries
	pcfg.OfflinePage = cfg.CacheOfflinePage
	pcfg.IgnoreSearchForNavigation = cfg.CacheIgnoreSearch
	pcfg.MaxEntryBytes = cfg.CacheMaxEntryBytes
	if api := cfg.APIURL(); api != "" {
		pcfg.ExcludedOrigins = []string{api}
	}

	client := httpclient.New(httpclient.Config{
		Timeout:         pcfg.FetchTimeout,
		MaxRetries:      1,
		RetryWaitMin:    200 * time.Millisecond,
		RetryWaitMax:    time.Second,
		MaxConnsPerHost: 32,
		UserAgent:       serviceName,
	})
	proxy, err := cacheproxy.New(pcfg, caches, client, a.logger)
	if err != nil {
		return nil, fmt.Errorf("create cache proxy: %w", err)
	}
	proxy.WithFallback(offlineFallback(proxy, a.logger))
	h.RegisterNonCritical("cache", proxy.Ping)
	return proxy, nil
}

func (a *App) redisClient(ctx context.Context, db int, pool string) (*redis.Client, error) {
	rcfg := database.DefaultRedisConfig()
	rcfg.Host = a.cfg.RedisHost
	rcfg.Port = a.cfg.RedisPort
	rcfg.Password = a.cfg.RedisPassword
	rcfg.DB = db
	rcfg.PoolSize = a.cfg.RedisPoolSize

	client, err := database.NewRedisClient(ctx, rcfg)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redisClients = append(a.redisClients, client)

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, client, pool); err != nil {
		a.logger.Warn("redis pool metrics not registered", slog.String("pool", pool), slog.String("error", err.Error()))
	}
	a.logger.Info("connected to Redis",
		slog.String("addr", rcfg.Addr()),
		slog.Int("db", db),
		slog.String("pool", pool),
	)
	return client, nil
}

func (a *App) syncPending(ctx context.Context) {
	res, err := a.service.SyncPending(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "pending review sync failed", slog.String("error", err.Error()))
		return
	}
	if res.Posted+res.Requeued+res.Dropped > 0 {
		a.logger.InfoContext(ctx, "pending reviews synced",
			slog.Int("posted", res.Posted),
			slog.Int("requeued", res.Requeued),
			slog.Int("dropped", res.Dropped),
		)
	}
}

// installCache runs the cache proxy install and activate steps. Until they
// succeed every asset request passes through to the origin.
func (a *App) installCache(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, installWindow)
	defer cancel()

	if err := a.proxy.Install(ctx); err != nil {
		a.logger.Error("cache proxy install failed, serving assets uncached", slog.String("error", err.Error()))
		return
	}
	if err := a.proxy.Activate(ctx); err != nil {
		a.logger.Error("cache proxy activation failed, serving assets uncached", slog.String("error", err.Error()))
	}
}

// Run starts the HTTP server and background workers and blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.monitor.Run(a.background)
	}()

	if a.proxy != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.installCache(a.background)
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	// Graceful HTTP server shutdown with a 10-second deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	a.stop()
	a.wg.Wait()

	if err := a.tracerShutdown(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
	}
	a.closeRedis()

	a.logger.Info("application shutdown complete")
	return nil
}

// release frees what NewApp acquired before failing.
func (a *App) release() {
	a.stop()
	if a.tracerShutdown != nil {
		_ = a.tracerShutdown(context.Background())
	}
	a.closeRedis()
}

func (a *App) closeRedis() {
	for _, c := range a.redisClients {
		if err := c.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	a.redisClients = nil
}
