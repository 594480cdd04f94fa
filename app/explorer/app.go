// Package explorer owns the process lifecycle: it constructs every
// service at start, runs the schedulers and the read API, and tears
// everything down on shutdown.
package explorer

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/verus-network/vrscx/app/query"
	querytypes "github.com/verus-network/vrscx/app/query/types"
	"github.com/verus-network/vrscx/pkg/cache"
	"github.com/verus-network/vrscx/pkg/db"
	"github.com/verus-network/vrscx/pkg/indexer"
	"github.com/verus-network/vrscx/pkg/logging"
	"github.com/verus-network/vrscx/pkg/mempool"
	"github.com/verus-network/vrscx/pkg/redis"
	"github.com/verus-network/vrscx/pkg/rpc"
	"github.com/verus-network/vrscx/pkg/utils"
)

type App struct {
	Logger  *zap.Logger
	Store   *db.DB
	RPC     *rpc.Client
	Redis   *redis.Client
	Indexer *indexer.Service
	Cache   *cache.Cache
	Mempool *mempool.Tracker

	Query *querytypes.App
	Cron  *cron.Cron
}

// Initialize builds the full service graph. Redis is optional: if it is
// unreachable the process runs without real-time events.
func Initialize(ctx context.Context) (*App, error) {
	logger, err := logging.New()
	if err != nil {
		panic(err)
	}

	store, err := db.New(ctx, logger.Named("db"))
	if err != nil {
		logger.Error("Unable to initialize store", zap.Error(err))
		return nil, err
	}

	gateway := rpc.New(rpc.OptsFromEnv(logger.Named("rpc")))

	var redisClient *redis.Client
	if utils.Env("REDIS_ENABLED", "true") == "true" {
		redisClient, err = redis.NewClient(ctx, logger.Named("redis"))
		if err != nil {
			logger.Warn("Redis unavailable, real-time events disabled", zap.Error(err))
			redisClient = nil
		}
	}

	var events indexer.EventSink
	if redisClient != nil {
		events = redisClient
	}

	idx := indexer.New(logger.Named("indexer"), gateway, store, events, indexer.Opts{
		Workers:   utils.EnvInt("INDEXER_WORKERS", 2),
		QueueSize: utils.EnvInt("INDEXER_QUEUE_SIZE", 256),
	})
	cacheLayer := cache.New(logger.Named("cache"), store, gateway, idx, idx)

	var mempoolEvents mempool.EventSink
	if redisClient != nil {
		mempoolEvents = redisClient
	}
	tracker := mempool.New(logger.Named("mempool"), gateway, mempoolEvents,
		utils.EnvInt("MEMPOOL_CAPACITY", mempool.DefaultCapacity))

	app := &App{
		Logger:  logger,
		Store:   store,
		RPC:     gateway,
		Redis:   redisClient,
		Indexer: idx,
		Cache:   cacheLayer,
		Mempool: tracker,
	}

	adminHash, err := utils.HashOrRead(utils.Env("ADMIN_PASSWORD", ""))
	if err != nil {
		logger.Warn("invalid admin password configuration", zap.Error(err))
		adminHash = nil
	}
	if utils.Env("ADMIN_PASSWORD", "") == "" {
		adminHash = nil
	}

	app.Query = &querytypes.App{
		Logger:      logger.Named("query"),
		Store:       store,
		Cache:       cacheLayer,
		Indexer:     idx,
		Mempool:     tracker,
		RedisClient: redisClient,
		JWTSecret:   []byte(utils.Env("JWT_SECRET", "")),
		AdminHash:   adminHash,
	}
	if err := query.NewServer(app.Query); err != nil {
		return nil, err
	}

	if err := app.setupScheduler(ctx); err != nil {
		return nil, err
	}

	return app, nil
}

// setupScheduler registers the background ticks: the mempool poll and a
// nightly rollup refresh over every indexed address.
func (a *App) setupScheduler(ctx context.Context) error {
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	pollSpec := utils.Env("MEMPOOL_POLL_SPEC", "*/10 * * * * *")
	if _, err := a.Cron.AddFunc(pollSpec, func() {
		pctx, cancel := context.WithTimeout(ctx, 25*time.Second)
		defer cancel()
		a.Mempool.Poll(pctx)
	}); err != nil {
		return err
	}

	rollupSpec := utils.Env("ROLLUP_REFRESH_SPEC", "0 10 0 * * *")
	if _, err := a.Cron.AddFunc(rollupSpec, func() {
		rctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
		a.refreshRollups(rctx)
	}); err != nil {
		return err
	}

	return nil
}

// refreshRollups recomputes the daily aggregates for every indexed
// address. Rollups are regenerable at any time, so a failed address is
// just logged.
func (a *App) refreshRollups(ctx context.Context) {
	addresses, err := a.Store.IndexedAddresses(ctx)
	if err != nil {
		a.Logger.Warn("rollup refresh: listing addresses failed", zap.Error(err))
		return
	}
	for _, addr := range addresses {
		if ctx.Err() != nil {
			return
		}
		if err := a.Store.RebuildRollups(ctx, addr); err != nil {
			a.Logger.Warn("rollup refresh failed", zap.String("address", addr), zap.Error(err))
		}
	}
	a.Logger.Info("rollup refresh complete", zap.Int("addresses", len(addresses)))
}

// Start runs until ctx is cancelled, then shuts everything down.
func (a *App) Start(ctx context.Context) {
	a.Cron.Start()
	a.Logger.Info("Cron started")

	go func() {
		if err := a.Query.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	a.Shutdown()
}

// Shutdown stops the schedulers, drains the indexer, and closes every
// connection.
func (a *App) Shutdown() {
	a.Logger.Info("Shutting down")

	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.Query != nil && a.Query.Server != nil {
		_ = a.Query.Server.Shutdown(shutdownCtx)
	}

	a.Indexer.Close()

	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("store close failed", zap.Error(err))
	}

	_ = a.Logger.Sync()
}
