package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/leonunix/portalindex/internal/admin"
	"github.com/leonunix/portalindex/internal/backend"
	"github.com/leonunix/portalindex/internal/config"
	"github.com/leonunix/portalindex/internal/indexer"
	"github.com/leonunix/portalindex/internal/lock"
	"github.com/leonunix/portalindex/internal/metrics"
	"github.com/leonunix/portalindex/internal/util"
)

func main() {
	configPath := flag.String("config", "portalindex.yaml", "path to configuration file")
	once := flag.Bool("once", false, "rebuild once and exit (ignore schedule)")
	filter := flag.String("collections", "", "only handle collections matching this wildcard")
	cleanupOnly := flag.Bool("cleanup", false, "delete unbound generations and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	util.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("portalindex starting",
		"elasticsearch", cfg.Elasticsearch.URLs,
		"collections", len(cfg.Collections),
		"prefix", cfg.Indexing.Prefix,
		"chunk_size", cfg.Indexing.ChunkSize,
		"max_failures", cfg.Indexing.MaxFailures,
		"parallelism", cfg.Indexing.Parallelism,
		"lock", cfg.Lock.Backend,
	)

	transport, err := util.NewTLSTransport(cfg.Elasticsearch.TLS)
	if err != nil {
		slog.Error("failed to configure TLS", "error", err)
		os.Exit(1)
	}
	client, err := backend.NewClient(engineConfig(cfg, transport))
	if err != nil {
		slog.Error("failed to create search engine client", "error", err)
		os.Exit(1)
	}

	var db *sql.DB
	if needsDatabase(cfg) {
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		defer db.Close()
	}

	cols, err := buildCollections(cfg, db)
	if err != nil {
		slog.Error("failed to load collections", "error", err)
		os.Exit(1)
	}
	registry, err := indexer.NewRegistry(cols...)
	if err != nil {
		slog.Error("invalid collections", "error", err)
		os.Exit(1)
	}

	metrics.Register(nil)

	opts := []indexer.Option{
		indexer.WithOpType(cfg.Indexing.OpType),
		indexer.WithChunkSize(cfg.Indexing.ChunkSize, cfg.Indexing.MaxChunkBytes),
		indexer.WithMaxFailures(cfg.Indexing.MaxFailures),
		indexer.WithParallelism(cfg.Indexing.Parallelism),
		indexer.WithLockTTL(cfg.Lock.TTL),
	}
	switch cfg.Lock.Backend {
	case config.LockElastic:
		opts = append(opts, indexer.WithDistLock(lock.NewElastic(client, cfg.Lock.Index)))
	case config.LockRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Lock.Redis.Addr,
			Password: cfg.Lock.Redis.Password,
			DB:       cfg.Lock.Redis.DB,
		})
		defer rdb.Close()
		rl := lock.NewRedis(rdb)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rl.Ping(pingCtx)
		cancel()
		if err != nil {
			slog.Error("failed to reach redis", "addr", cfg.Lock.Redis.Addr, "error", err)
			os.Exit(1)
		}
		opts = append(opts, indexer.WithDistLock(rl))
	}
	if cfg.Runs.Enabled {
		opts = append(opts, indexer.WithRunRecorder(indexer.NewElasticRunStore(client, cfg.Runs.Index)))
	}
	manager := indexer.NewManager(client, registry, opts...)

	names := util.FilterWildcard(*filter, registry.Names())
	if len(names) == 0 {
		slog.Error("no collection matches filter", "filter", *filter)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *cleanupOnly {
		failed := false
		for _, name := range names {
			deleted, err := manager.Cleanup(ctx, name)
			if err != nil {
				slog.Error("cleanup failed", "collection", name, "error", err)
				failed = true
				continue
			}
			slog.Info("cleanup completed", "collection", name, "deleted", len(deleted))
		}
		if failed {
			os.Exit(1)
		}
		return
	}

	if *once {
		failed := false
		for _, res := range manager.RegenerateEach(ctx, names) {
			if res.Status == indexer.StatusFailed {
				failed = true
			}
		}
		if failed {
			slog.Error("rebuild finished with failures, exiting")
			os.Exit(1)
		}
		slog.Info("rebuild completed, exiting")
		return
	}

	// Run on a cron schedule.
	c := cron.New()
	_, err = c.AddFunc(cfg.Indexing.Schedule, func() {
		slog.Info("scheduled rebuild starting")
		manager.RegenerateEach(ctx, names)
	})
	if err != nil {
		slog.Error("invalid cron schedule", "schedule", cfg.Indexing.Schedule, "error", err)
		os.Exit(1)
	}

	adminServer := admin.New(ctx, manager, func(ctx context.Context) error {
		_, err := client.Dialect(ctx)
		return err
	})
	srv := &http.Server{
		Addr:              cfg.Admin.Listen,
		Handler:           adminServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("admin server listening", "addr", cfg.Admin.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin server failed", "error", err)
			stop()
		}
	}()

	c.Start()
	slog.Info("rebuild scheduler started", "schedule", cfg.Indexing.Schedule)

	// Wait for shutdown signal.
	<-ctx.Done()

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("admin server shutdown", "error", err)
	}
	cronCtx := c.Stop()
	<-cronCtx.Done()
	adminServer.Wait()
	slog.Info("portalindex stopped")
}
