package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/redis/go-redis/v9"

	"github.com/aegisiot/sentinel/internal/analyzer"
	"github.com/aegisiot/sentinel/internal/batcher"
	"github.com/aegisiot/sentinel/internal/cache"
	"github.com/aegisiot/sentinel/internal/config"
	"github.com/aegisiot/sentinel/internal/dlq"
	"github.com/aegisiot/sentinel/internal/handlers"
	"github.com/aegisiot/sentinel/internal/hub"
	"github.com/aegisiot/sentinel/internal/logging"
	"github.com/aegisiot/sentinel/internal/mlclient"
	"github.com/aegisiot/sentinel/internal/pipeline"
	"github.com/aegisiot/sentinel/internal/repository"
	"github.com/aegisiot/sentinel/internal/retention"
	"github.com/aegisiot/sentinel/internal/server"
	"github.com/aegisiot/sentinel/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).
		With(logging.Service("sentinel"))
	logging.SetDefault(logger)

	connString := cfg.Database.ConnString()

	// Run database migrations
	slog.Info("running database migrations")
	m, err := migrate.New("file://migrations", connString)
	if err != nil {
		log.Fatalf("Failed to initialize migrations: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	repo, err := repository.NewPostgresRepository(context.Background(), connString)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer repo.Close()

	// Optional latest-report cache
	var reportCache *cache.ReportCache
	if cfg.Redis.Enabled {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		reportCache = cache.New(redis.NewClient(redisOpts), cfg.Redis.TTL)
		if err := reportCache.Ping(context.Background()); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer reportCache.Close()
	}

	// Optional dead letter stream
	var deadLetter *dlq.DeadLetter
	if cfg.DLQ.Enabled {
		deadLetter, err = dlq.New(context.Background(), cfg.DLQ.NatsURL)
		if err != nil {
			log.Fatalf("Failed to set up dead letter stream: %v", err)
		}
		defer deadLetter.Close()
	}

	detector := mlclient.New(cfg.ML.URL, cfg.ML.Timeout, cfg.ML.Explained)

	liveHub := hub.New()
	go liveHub.Run()

	flusher := batcher.New(repo, cfg.Pipeline.BatchSize, cfg.Pipeline.FlushInterval)
	flusher.Start(context.Background())

	var analysisCache analyzer.ReportCache
	if reportCache != nil {
		analysisCache = reportCache
	}
	aggregator := analyzer.New(detector, liveHub, analysisCache, analyzer.Config{
		WindowCapacity:    cfg.Analysis.WindowCapacity,
		SnapshotSize:      cfg.Analysis.SnapshotSize,
		MinDevices:        cfg.Analysis.MinDevices,
		ThrottleInterval:  cfg.Analysis.ThrottleInterval,
		TimeWindowMinutes: cfg.Analysis.TimeWindowMinutes,
	})

	var pipeDLQ pipeline.DeadLetter
	if deadLetter != nil {
		pipeDLQ = deadLetter
	}
	pipe := pipeline.New(detector, flusher, liveHub, aggregator, pipeDLQ, cfg.Pipeline.Concurrency)

	// Telemetry bus subscriber
	subCfg := transport.DefaultConfig()
	subCfg.URL = cfg.NATS.URL
	subCfg.Subject = cfg.NATS.Subject
	var subDLQ transport.DeadLetter
	if deadLetter != nil {
		subDLQ = deadLetter
	}
	subscriber, err := transport.Connect(subCfg, pipe, subDLQ)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	if err := subscriber.Start(); err != nil {
		log.Fatalf("Failed to subscribe to telemetry: %v", err)
	}

	sweeper := retention.New(repo, cfg.Retention.Age, cfg.Retention.SweepInterval)
	sweeper.Start(context.Background())

	handler := handlers.New(repo, reportSource(reportCache), pipe, flusher, subscriber, detector)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(handler, liveHub),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("sentinel listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutdown signal received")

	// Stop intake first, then let in-flight work settle, then flush whatever
	// the batcher still holds.
	if err := subscriber.Drain(); err != nil {
		slog.Warn("bus drain failed", slog.String("error", err.Error()))
	}
	pipe.Stop()
	aggregator.Stop()
	sweeper.Stop()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	flusher.Drain(drainCtx)
	drainCancel()
	flusher.Stop()

	liveHub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("sentinel stopped")
}

// reportSource avoids handing the handler a non-nil interface wrapping a nil
// cache when Redis is disabled.
func reportSource(c *cache.ReportCache) handlers.ReportSource {
	if c == nil {
		return nil
	}
	return c
}
