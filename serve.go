package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rps-match-service/config"
	"rps-match-service/handlers"
	"rps-match-service/services"
	"rps-match-service/utils"
	"rps-match-service/workers"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ServeCmd runs the REST, SSE and WebSocket surfaces plus background workers.
type ServeCmd struct {
	Config string `short:"c" default:"rpsd.hcl" help:"Path to an optional HCL config file"`
	Debug  bool   `help:"Enable debug logging"`
}

func (c *ServeCmd) Run() error {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, reading environment variables directly")
	}

	cfg, err := config.Load(c.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if c.Debug {
		level = log.DebugLevel
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	hub := services.NewHub(logger, 64)
	metrics := services.NewMetrics()
	g, gctx := errgroup.WithContext(ctx)

	// With Redis every instance publishes there and relays back into its
	// own hub, so local subscribers see events from all instances.
	var notifier services.Notifier = hub
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		notifier = services.NewRedisNotifier(rdb)
		relay := workers.NewRedisRelay(rdb, hub, logger)
		g.Go(func() error { return relay.Start(gctx) })
		logger.Info("Cross-instance fan-out via Redis enabled")
	}

	svc := services.NewMatchService(store, notifier, quartz.NewReal(), logger,
		services.WithConfig(services.MatchConfig{
			CommitWindow: cfg.CommitWindow,
			RevealWindow: cfg.RevealWindow,
			MaxAttempts:  cfg.MaxAttempts,
			CacheSize:    cfg.CacheSize,
		}),
		services.WithMetrics(metrics),
	)

	if cfg.SweepInterval > 0 {
		sched, err := svc.StartDeadlineSweeper(gctx, cfg.SweepInterval)
		if err != nil {
			return err
		}
		defer func() { _ = sched.Shutdown() }()
	}

	if cfg.Archive.Enabled() {
		r2, err := utils.NewR2Client(ctx, cfg.Archive.AccountID, cfg.Archive.AccessKeyID, cfg.Archive.AccessKeySecret, cfg.Archive.Bucket)
		if err != nil {
			return fmt.Errorf("initialize R2 client: %w", err)
		}
		archiver := workers.NewArchiveWorker(hub, svc, r2, cfg.Archive.Prefix, logger)
		g.Go(func() error { return archiver.Start(gctx) })
	}

	app := handlers.NewApp(handlers.AppOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		ServiceToken:   cfg.ServiceToken,
		RateLimit:      cfg.RateLimit,
	}, svc, hub, metrics, logger)

	ws := handlers.NewWSServer(hub, logger, cfg.AllowedOrigins)
	wsServer := &http.Server{
		Addr:              cfg.WSAddr,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", "addr", cfg.HTTPAddr)
		return app.Listen(cfg.HTTPAddr)
	})
	g.Go(func() error {
		logger.Info("Starting WebSocket server", "addr", cfg.WSAddr)
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down servers...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		ws.Close()
		wsErr := wsServer.Shutdown(shutdownCtx)
		appErr := app.ShutdownWithContext(shutdownCtx)
		return errors.Join(wsErr, appErr)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

// openStore returns the Postgres store, or the in-memory one when no
// DATABASE_URL is configured.
func openStore(cfg *config.Config, logger *log.Logger) (services.MatchStore, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, matches are kept in memory only")
		return services.NewMemoryStore(), nil
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	store := services.NewGormStore(db)
	if err := store.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("Connected to Postgres")
	return store, nil
}
