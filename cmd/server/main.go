// Package main provides the entry point for the strategy optimizer service:
// grid-search optimization of take-profit / stop-loss parameters over
// historical positions, and continuous evaluation of deployed Sets.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-desktop/strategy-optimizer/internal/api"
	"github.com/atlas-desktop/strategy-optimizer/internal/config"
	"github.com/atlas-desktop/strategy-optimizer/internal/data"
	"github.com/atlas-desktop/strategy-optimizer/internal/evaluation"
	"github.com/atlas-desktop/strategy-optimizer/internal/observability"
	"github.com/atlas-desktop/strategy-optimizer/internal/optimization"
	"github.com/atlas-desktop/strategy-optimizer/internal/storage"
	"github.com/atlas-desktop/strategy-optimizer/internal/storage/memory"
	"github.com/atlas-desktop/strategy-optimizer/internal/storage/migrations"
	"github.com/atlas-desktop/strategy-optimizer/internal/storage/postgres"
	"github.com/atlas-desktop/strategy-optimizer/internal/workers"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// repositories bundles the storage backends selected at startup.
type repositories struct {
	positions storage.PositionRepository
	results   storage.ResultStore
	sets      storage.SetRepository
	db        *sql.DB
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the config file")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger := setupLogger(cfg.Log.Level)
	defer logger.Sync()

	logger.Info("Starting strategy optimizer",
		zap.String("addr", cfg.Addr()),
		zap.Bool("postgres", cfg.Database.DSN != ""),
		zap.Int("workers", cfg.Optimizer.Workers),
		zap.Duration("evaluation_interval", cfg.Evaluator.Interval),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repos, err := openRepositories(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	if repos.db != nil {
		defer repos.db.Close()
	}

	metrics := observability.NewMetrics("")

	poolConfig := workers.DefaultPoolConfig("sweep")
	poolConfig.NumWorkers = cfg.Optimizer.Workers
	poolConfig.QueueSize = cfg.Optimizer.QueueSize
	pool := workers.NewPool(logger, poolConfig)
	pool.Start()
	metrics.RegisterGauge("workers", "queue_depth", "Tasks waiting in the sweep worker pool",
		func() float64 { return float64(pool.QueueLength()) })

	optimizer := optimization.NewOptimizer(logger, &optimization.OptimizerConfig{
		GridSteps:     cfg.Optimizer.GridSteps,
		MaxGridSteps:  cfg.Optimizer.MaxGridSteps,
		PersistLimit:  cfg.Optimizer.PersistLimit,
		ResponseLimit: cfg.Optimizer.ResponseLimit,
	}, repos.positions, repos.results, pool, metrics)

	evaluator := evaluation.NewEvaluator(logger, repos.sets, repos.positions, metrics,
		evaluation.WithDefaultSampleSize(cfg.Evaluator.DefaultSampleSize))
	scheduler := evaluation.NewScheduler(logger, evaluator, metrics, cfg.Evaluator.RunOnStart)

	hub := api.NewHub(logger)
	go hub.Run(ctx)

	optimizer.OnComplete(hub.BroadcastOptimizationComplete)
	evaluator.OnDisable(hub.BroadcastSetDisabled)
	scheduler.OnPass(hub.BroadcastEvaluationPass)

	server := api.NewServer(logger, &cfg.Server, api.Dependencies{
		Optimizer: optimizer,
		Results:   repos.results,
		Sets:      repos.sets,
		Scheduler: scheduler,
		Hub:       hub,
		Pool:      pool,
		Metrics:   metrics,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := scheduler.Start(ctx, cfg.Evaluator.Interval); err != nil {
		logger.Fatal("Failed to start evaluation scheduler", zap.Error(err))
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.Info("Server started successfully",
		zap.String("http", fmt.Sprintf("http://%s/api/v1", cfg.Addr())),
		zap.String("ws", fmt.Sprintf("ws://%s%s", cfg.Addr(), cfg.Server.WebSocketPath)),
	)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		logger.Error("Server error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	// stops new ticks and waits for an in-flight pass
	scheduler.Stop()
	cancel()

	if err := pool.Stop(); err != nil {
		logger.Error("Error stopping worker pool", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// openRepositories selects PostgreSQL when a DSN is configured and falls back
// to in-memory stores seeded from the fixture directory.
func openRepositories(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*repositories, error) {
	if cfg.Database.DSN == "" {
		fx, err := data.Load(logger, cfg.Data.Dir)
		if err != nil {
			return nil, err
		}
		return &repositories{
			positions: fx.Positions,
			results:   memory.NewResultStore(),
			sets:      fx.Sets,
		}, nil
	}

	db, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Migrate {
		if err := migrations.Run(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("Database migrations applied")
	}

	return &repositories{
		positions: postgres.NewPositionStore(db),
		results:   postgres.NewResultStore(db, logger),
		sets:      postgres.NewSetStore(db),
		db:        db,
	}, nil
}

func setupLogger(level string) *zap.Logger {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
