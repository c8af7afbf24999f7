package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"quote_pulse/internal/alert"
	"quote_pulse/internal/api"
	"quote_pulse/internal/broadcast"
	"quote_pulse/internal/cache"
	"quote_pulse/internal/domain"
	"quote_pulse/internal/event"
	"quote_pulse/internal/infra"
	"quote_pulse/internal/infra/quotes"
	"quote_pulse/internal/infra/storage"
	"quote_pulse/internal/infra/ws"
	"quote_pulse/internal/registry"
	"quote_pulse/internal/scheduler"
	"quote_pulse/internal/service"

	"github.com/gin-gonic/gin"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config   *infra.Config
	Storage  *storage.Storage
	Cache    cache.Cache
	Registry *registry.Registry
	Store    *service.QuoteStore
	Hub      *ws.Hub

	Quotes    *service.QuoteService
	Watchlist *service.WatchlistService
	Alerts    *service.AlertService

	Scheduler   *scheduler.Scheduler
	Maintenance *scheduler.Maintenance
	Server      *http.Server

	memory  *cache.Memory
	redis   *cache.Redis
	metrics *infra.Metrics
	wg      sync.WaitGroup
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{metrics: infra.GlobalMetrics}
}

// Initialize loads configuration and builds every component.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("🚀 Bootstrapping Quote Pulse...", slog.String("source", cfg.Source.Mode), slog.String("cache", cfg.Cache.Backend))

	// 3. Initialize Storage (DB)
	db, err := storage.NewStorage(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	b.Storage = db
	slog.Info("✅ Database initialized")

	// 4. Cache
	if err := b.initCache(ctx); err != nil {
		return err
	}

	// 5. Core components
	b.Registry = registry.New()
	b.Store = service.NewQuoteStore()
	source := b.newSource()

	b.Quotes = service.NewQuoteService(b.Store, b.Cache, source, db, db, b.metrics)
	if _, err := b.Quotes.WarmStart(ctx); err != nil {
		slog.Warn("Quote warm start failed", slog.Any("error", err))
	}

	// Watchlist subscriptions go through the hub so offline users stay unsubscribed.
	replay := ws.ReplayFunc(func(ctx context.Context, userID string) ([]string, error) {
		return b.Watchlist.Replay(ctx, userID)
	})
	b.Hub = ws.NewHub(b.Registry, replay, b.metrics, cfg.Server.AllowedOrigins)
	b.Watchlist = service.NewWatchlistService(db, b.Cache, b.Hub,
		cfg.Scheduler.PopularThreshold, cfg.Scheduler.PopularLimit)
	b.Alerts = service.NewAlertService(db)

	fanout := broadcast.NewFanout(b.Registry, b.Hub, b.metrics)
	engine := alert.NewEngine(db, fanout, alert.WithObserver(b.metrics))

	// Derived data first, then clients, then alerts.
	dispatcher := event.NewDispatcher(b.Quotes, fanout, engine)

	b.Scheduler = scheduler.New(scheduler.Config{
		FastInterval:     cfg.Scheduler.FastInterval.Std(),
		SlowInterval:     cfg.Scheduler.SlowInterval.Std(),
		FetchTimeout:     cfg.Scheduler.FetchTimeout.Std(),
		PanicBackoff:     cfg.Scheduler.PanicBackoff.Std(),
		PopularThreshold: cfg.Scheduler.PopularThreshold,
		PopularLimit:     cfg.Scheduler.PopularLimit,
	}, scheduler.Deps{
		Source:     source,
		Store:      b.Store,
		Watched:    b.Registry,
		Repo:       db,
		Dispatcher: dispatcher,
		Popular:    fanout,
		Observer:   b.metrics,
	})

	retention := time.Duration(cfg.Storage.RetentionDays) * 24 * time.Hour
	b.Maintenance = scheduler.NewMaintenance(db, retention, cfg.Storage.PruneAt)

	// 6. HTTP
	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(&api.Handler{
		Quotes:    b.Quotes,
		Watchlist: b.Watchlist,
		Alerts:    b.Alerts,
		WS:        b.Hub,
		Metrics:   infra.MetricsHandler(b.metrics),
		Health:    b.health,
	})
	b.Server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}

func (b *Bootstrap) initCache(ctx context.Context) error {
	cfg := b.Config.Cache
	switch cfg.Backend {
	case "redis":
		r, err := cache.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KeyPrefix)
		if err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		b.redis = r
		b.Cache = cache.Instrument(r, b.metrics)
		slog.Info("✅ Redis cache connected", slog.String("addr", cfg.RedisAddr))
	default:
		b.memory = cache.NewMemory()
		b.Cache = cache.Instrument(b.memory, b.metrics)
		slog.Info("✅ In-memory cache ready")
	}
	return nil
}

func (b *Bootstrap) newSource() domain.QuoteSource {
	cfg := b.Config.Source
	if cfg.Mode == "http" {
		slog.Info("Using HTTP quote source", slog.String("url", cfg.URL))
		return quotes.NewHTTPSource(cfg.URL, cfg.APIKey,
			quotes.WithHTTPClient(&http.Client{Timeout: cfg.Timeout.Std()}),
			quotes.WithRateLimit(cfg.RatePerSec, cfg.RateBurst),
			quotes.WithRetry(cfg.MaxRetries, 250*time.Millisecond),
		)
	}
	slog.Info("Using demo quote simulator", slog.Int64("seed", cfg.DemoSeed))
	return quotes.NewSimulator(cfg.DemoSeed, cfg.DemoStep)
}

func (b *Bootstrap) health() gin.H {
	return gin.H{
		"connections": b.Hub.ConnectionCount(),
		"quotes":      b.Store.Len(),
		"registry":    b.Registry.Stats(),
		"metrics":     b.metrics.Snapshot(),
	}
}

// Run starts background work and serves HTTP until ctx is cancelled or the server fails.
func (b *Bootstrap) Run(ctx context.Context) error {
	if b.memory != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.memory.RunSweeper(ctx, b.Config.Cache.SweepInterval.Std())
		}()
	}

	if err := b.Scheduler.Start(ctx); err != nil {
		return err
	}

	if err := b.Maintenance.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("✨ Quote Pulse listening", slog.String("addr", b.Server.Addr))
		if err := b.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops every component in reverse start order.
func (b *Bootstrap) Shutdown() {
	slog.Info("👋 Shutting down gracefully...")

	if b.Server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), b.Config.Server.ShutdownTimeout.Std())
		if err := b.Server.Shutdown(ctx); err != nil {
			slog.Warn("HTTP shutdown incomplete", slog.Any("error", err))
		}
		cancel()
	}
	if b.Hub != nil {
		b.Hub.Close()
	}
	if b.Scheduler != nil {
		b.Scheduler.Stop()
	}
	if b.Maintenance != nil {
		b.Maintenance.Stop()
	}
	b.wg.Wait()
	if b.Registry != nil {
		b.Registry.Close()
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			slog.Warn("Redis close failed", slog.Any("error", err))
		}
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Database close failed", slog.Any("error", err))
		}
	}
	slog.Info("Shutdown complete", slog.Any("metrics", b.metrics.Snapshot()))
}
