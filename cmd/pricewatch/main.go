// Package main wires together the price intelligence service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/saddleworth/pricewatch/internal/api"
	"github.com/saddleworth/pricewatch/internal/cache"
	"github.com/saddleworth/pricewatch/internal/clock/system"
	"github.com/saddleworth/pricewatch/internal/config"
	"github.com/saddleworth/pricewatch/internal/fetcher"
	headlessfetcher "github.com/saddleworth/pricewatch/internal/fetcher/headless"
	staticfetcher "github.com/saddleworth/pricewatch/internal/fetcher/static"
	"github.com/saddleworth/pricewatch/internal/hash/sha256"
	"github.com/saddleworth/pricewatch/internal/id/uuid"
	"github.com/saddleworth/pricewatch/internal/logging"
	"github.com/saddleworth/pricewatch/internal/policy/ratelimit"
	"github.com/saddleworth/pricewatch/internal/pricing"
	memorypublisher "github.com/saddleworth/pricewatch/internal/publisher/memory"
	pubsubpublisher "github.com/saddleworth/pricewatch/internal/publisher/pubsub"
	queuememory "github.com/saddleworth/pricewatch/internal/queue/memory"
	"github.com/saddleworth/pricewatch/internal/sales"
	"github.com/saddleworth/pricewatch/internal/scheduler"
	"github.com/saddleworth/pricewatch/internal/storage/gcs"
	"github.com/saddleworth/pricewatch/internal/storage/local"
	storagememory "github.com/saddleworth/pricewatch/internal/storage/memory"
	"github.com/saddleworth/pricewatch/internal/storage/postgres"
	"github.com/saddleworth/pricewatch/internal/telemetry"
	"github.com/saddleworth/pricewatch/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)
	telemetry.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	anti := fetcher.NewAntidetect(fetcher.AntidetectConfig{
		UserAgents: cfg.Antidetect.UserAgents,
		Proxies:    cfg.Antidetect.Proxies,
		DelayMin:   time.Duration(cfg.Antidetect.DelayMinMs) * time.Millisecond,
		DelayMax:   time.Duration(cfg.Antidetect.DelayMaxMs) * time.Millisecond,
	})

	static := staticfetcher.New(staticfetcher.Config{
		Timeout:    cfg.FetchTimeout(),
		Antidetect: anti,
	})

	var headless fetcher.PageFetcher
	if needsHeadless(cfg) {
		hf, err := headlessfetcher.New(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			Antidetect:        anti,
		})
		if err != nil {
			logger.Fatal("headless fetcher init failed", zap.Error(err))
		}
		defer hf.Close()
		headless = hf
	}

	registry, err := fetcher.NewRegistry(cfg.Stores, static, headless, anti)
	if err != nil {
		logger.Fatal("fetcher registry init failed", zap.Error(err))
	}
	logger.Info("fetchers configured", zap.Strings("stores", registry.Stores()))

	queue := queuememory.NewQueue(queuememory.Config{
		Capacity:     cfg.Scraper.QueueDepth,
		LeaseTimeout: cfg.LeaseTimeout(),
	}, clock)

	limiter := ratelimit.New(limiterConfig(cfg), clock)

	store, catalog := buildStores(ctx, cfg, clock, logger)
	blobs := buildBlobStore(ctx, cfg, logger)
	publisher := buildPublisher(ctx, cfg, logger)

	bpCache := cache.New(cfg.CacheTTL(), clock)
	refresher := cache.NewRefresher(store, bpCache, catalog, cfg.FreshnessWindow(), logger.Named("cache"))
	service := pricing.NewService(store, bpCache, clock, logger.Named("service"))
	detector := sales.NewDetector(store)

	pool := worker.NewPool(queue, registry, limiter, store, publisher, blobs, hasher, clock, worker.Config{
		Concurrency:   cfg.Scraper.Concurrency,
		MaxAttempts:   cfg.Scraper.MaxAttempts,
		BackoffBase:   cfg.BackoffBase(),
		FetchTimeout:  cfg.FetchTimeout(),
		StoreCooldown: cfg.StoreCooldown(),
		CapturePrefix: cfg.Capture.Prefix,
	}, logger.Named("worker"))

	sched := scheduler.New(catalog, queue, store, refresher, idGen, clock, scheduler.Config{
		FullSweepEvery:     time.Duration(cfg.Scheduler.FullSweepHours) * time.Hour,
		PrioritySweepEvery: time.Duration(cfg.Scheduler.PrioritySweepHours) * time.Hour,
		CacheRefreshEvery:  time.Duration(cfg.Scheduler.CacheRefreshMin) * time.Minute,
		RetentionDays:      cfg.Scheduler.RetentionDays,
	}, logger.Named("scheduler"))

	apiServer := api.NewServer(service, detector, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("worker pool started", zap.Int("concurrency", cfg.Scraper.Concurrency))
		pool.Run(ctx)
	}()
	go func() {
		logger.Info("scheduler started")
		sched.Run(ctx)
	}()
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	if stopper, ok := publisher.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	logger.Info("shutdown complete")
}

func needsHeadless(cfg config.Config) bool {
	for _, sc := range cfg.Stores {
		if sc.Strategy == "headless" {
			return true
		}
	}
	return false
}

func limiterConfig(cfg config.Config) ratelimit.Config {
	out := ratelimit.Config{
		DefaultRPS:   1,
		DefaultBurst: 1,
		DefaultSlots: cfg.Scraper.PerStoreMax,
		Stores:       make(map[string]ratelimit.StoreLimits, len(cfg.Stores)),
	}
	for name, sc := range cfg.Stores {
		out.Stores[name] = ratelimit.StoreLimits{
			RPS:           sc.RPS,
			Burst:         sc.Burst,
			MaxConcurrent: sc.MaxConcurrent,
		}
	}
	return out
}

// buildStores returns Postgres-backed stores when a DSN is configured and
// in-memory ones otherwise. The in-memory pair is for development only;
// it starts empty and forgets everything on restart.
func buildStores(ctx context.Context, cfg config.Config, clock pricing.Clock, logger *zap.Logger) (pricing.PriceStore, pricing.Catalog) {
	if cfg.DB.DSN == "" {
		logger.Warn("no database configured, using in-memory stores")
		return storagememory.NewPriceStore(cfg.FreshnessWindow(), clock), storagememory.NewCatalog(nil)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN)
	if err != nil {
		logger.Fatal("parse postgres dsn failed", zap.Error(err))
	}
	if cfg.DB.MaxConns > 0 {
		poolCfg.MaxConns = cfg.DB.MaxConns
	}
	if cfg.DB.MinConns > 0 {
		poolCfg.MinConns = cfg.DB.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Fatal("connect postgres failed", zap.Error(err))
	}

	store, err := postgres.NewPriceStoreWithPool(pool, cfg.FreshnessWindow(), clock)
	if err != nil {
		logger.Fatal("price store init failed", zap.Error(err))
	}
	catalog, err := postgres.NewCatalogWithPool(pool, clock)
	if err != nil {
		logger.Fatal("catalog init failed", zap.Error(err))
	}
	return store, catalog
}

func buildBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) pricing.BlobStore {
	switch cfg.Capture.Provider {
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("gcs client init failed", zap.Error(err))
		}
		blobs, err := gcs.New(client, gcs.Config{Bucket: cfg.Capture.GCSBucket})
		if err != nil {
			logger.Fatal("gcs blob store init failed", zap.Error(err))
		}
		return blobs
	case "local":
		blobs, err := local.New(local.Config{BaseDir: cfg.Capture.LocalDir})
		if err != nil {
			logger.Fatal("local blob store init failed", zap.Error(err))
		}
		return blobs
	default:
		logger.Warn("no capture provider configured, parse failures stay in memory")
		return storagememory.NewBlobStore()
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) pricing.Publisher {
	if !cfg.PubSub.Enabled {
		return memorypublisher.New()
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Fatal("pubsub client init failed", zap.Error(err))
	}
	return pubsubpublisher.New(client.Topic(cfg.PubSub.TopicName))
}
