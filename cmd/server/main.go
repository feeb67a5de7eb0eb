// Package main provides the entry point for the citation verification HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/citation-verification-service/internal/app"
	"github.com/helixir/citation-verification-service/internal/config"
	"github.com/helixir/citation-verification-service/internal/database"
	"github.com/helixir/citation-verification-service/internal/events"
	"github.com/helixir/citation-verification-service/internal/observability"
	"github.com/helixir/citation-verification-service/internal/repository"
	httpserver "github.com/helixir/citation-verification-service/internal/server/http"
	"github.com/helixir/citation-verification-service/internal/service"
	"github.com/helixir/citation-verification-service/internal/verification"
)

const serviceName = "citation-verification-service"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(cfg.LoggerConfig())
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("citation-verification-service server starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	// Connect to PostgreSQL when persistence is enabled.
	var (
		db   *database.DB
		repo repository.RunRepository
	)
	if cfg.Database.Enabled {
		db, err = database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		logger.Info().Msg("database connection established")

		if cfg.Database.MigrationAutoRun {
			if err := migrateUp(db, logger); err != nil {
				return err
			}
		}
		repo = repository.NewPgRunRepository(db)
	} else {
		logger.Warn().Msg("database disabled; runs are kept in memory")
		repo = repository.NewMemoryRunRepository()
	}

	// Build the sources and the engine.
	engine, err := app.NewEngine(ctx, cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("build verification engine: %w", err)
	}
	defer func() {
		if closeErr := engine.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close lookup cache")
		}
	}()

	publisher := events.New(cfg.Kafka, logger)
	defer func() {
		if closeErr := publisher.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close event publisher")
		}
	}()

	runnerOpts := []verification.RunnerOption{
		verification.WithWorkers(cfg.Verification.Workers),
		verification.WithLogger(logger),
	}
	if metrics != nil {
		runnerOpts = append(runnerOpts, verification.WithMetrics(metrics))
	}

	svc := service.New(engine,
		service.WithRepository(repo),
		service.WithEmitter(events.NewEmitter(publisher, serviceName)),
		service.WithLogger(logger),
		service.WithRunnerOptions(runnerOpts...),
	)

	// Background runs outlive the request that started them but not the process.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	httpCfg := httpserver.Config{
		Address:       cfg.Server.HTTPAddress(),
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		IdleTimeout:   cfg.Server.ReadTimeout * 4,
		MaxReferences: cfg.Server.MaxReferences,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
	}

	var health httpserver.HealthChecker
	if db != nil {
		health = db
	}
	httpSrv := httpserver.NewServer(runCtx, httpCfg, svc, health, logger)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.ReadTimeout,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 2)

	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().
		Str("http_address", httpCfg.Address).
		Bool("persistence", db != nil).
		Bool("kafka", cfg.Kafka.Enabled).
		Int("sources", len(engine.Registry.EnabledSources()))
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("citation-verification-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down citation-verification-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	// Cancel in-flight runs and wait for their results to be recorded.
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("background runs did not finish before the shutdown timeout")
	}

	logger.Info().Msg("citation-verification-service shutdown complete")
	return nil
}

// migrateUp applies the embedded migrations.
func migrateUp(db *database.DB, logger zerolog.Logger) error {
	migrator, err := database.NewEmbeddedMigrator(db, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
