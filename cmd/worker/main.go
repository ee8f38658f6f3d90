package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/digiy/pulse-dispatch/internal/client"
	"github.com/digiy/pulse-dispatch/internal/config"
	"github.com/digiy/pulse-dispatch/internal/infra/postgresql"
	"github.com/digiy/pulse-dispatch/internal/infra/postgresql/migrations"
	"github.com/digiy/pulse-dispatch/internal/observability"
	"github.com/digiy/pulse-dispatch/internal/outbox"
	"github.com/digiy/pulse-dispatch/internal/outboxrpc"
	"github.com/digiy/pulse-dispatch/internal/repository"
	"github.com/digiy/pulse-dispatch/internal/service"
	"github.com/digiy/pulse-dispatch/internal/transport"
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	metrics := observability.NewMetrics()

	queue, err := buildQueue(cfg)
	if err != nil {
		logger.Fatal("outbox backend initialization failed", zap.Error(err))
	}

	dispatcher, err := client.NewPulseClient(
		cfg.PulseAPIBase,
		cfg.PulseAPIKey,
		cfg.WorkerName,
		cfg.DispatchTimeout(),
	)
	if err != nil {
		logger.Fatal("pulse client initialization failed", zap.Error(err))
	}

	worker, err := service.NewWorkerService(
		queue,
		dispatcher,
		cfg.WorkerName,
		cfg.WorkerBatch,
		cfg.WorkerInterval(),
		cfg.WorkerErrorBackoff(),
		cfg.WorkerConcurrency,
		logger,
	)
	if err != nil {
		logger.Fatal("worker initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	// Scrape surface for the dispatch counters the worker accumulates.
	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("pulse-dispatch worker started",
		zap.String("worker", cfg.WorkerName),
		zap.String("outboxBackend", cfg.OutboxBackend),
		zap.Int("batch", cfg.WorkerBatch),
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("metricsPort", cfg.WorkerMetricsPort),
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Listen(fmt.Sprintf(":%d", cfg.WorkerMetricsPort))
	})
	g.Go(func() error {
		return worker.Start(gCtx)
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down worker")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker terminated", zap.Error(err))
	}
	logger.Info("worker stopped")
}

func buildQueue(cfg *config.Config) (outbox.Queue, error) {
	if cfg.OutboxBackend == config.BackendRPC {
		return outboxrpc.NewClient(cfg.OutboxRPCURL, cfg.OutboxRPCKey, cfg.WorkerName)
	}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := migrations.Migrate(db); err != nil {
		return nil, err
	}

	return repository.NewOutboxRepo(db, cfg.WorkerName, cfg.VisibilityTimeout(), cfg.MaxAttempts), nil
}
