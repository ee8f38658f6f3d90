package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/digiy/pulse-dispatch/internal/config"
	"github.com/digiy/pulse-dispatch/internal/domain"
	"github.com/digiy/pulse-dispatch/internal/handler"
	"github.com/digiy/pulse-dispatch/internal/infra/postgresql"
	"github.com/digiy/pulse-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/digiy/pulse-dispatch/internal/infra/redis"
	"github.com/digiy/pulse-dispatch/internal/observability"
	"github.com/digiy/pulse-dispatch/internal/provider"
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

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	var (
		sqlDB    *sql.DB
		enqueuer handler.OutboxEnqueuer
	)
	if cfg.OutboxBackend == config.BackendPostgres {
		db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("postgres initialization failed", zap.Error(err))
		}

		if err := migrations.Migrate(db); err != nil {
			logger.Fatal("database migrations failed", zap.Error(err))
		}

		sqlDB, err = db.DB()
		if err != nil {
			logger.Fatal("postgres underlying db init failed", zap.Error(err))
		}
		defer sqlDB.Close()

		enqueuer = repository.NewOutboxRepo(db, "api", cfg.VisibilityTimeout(), cfg.MaxAttempts)
	}

	providers, err := buildProviderRegistry(cfg, logger)
	if err != nil {
		logger.Fatal("provider registry initialization failed", zap.Error(err))
	}

	pulseService, err := service.NewPulseService(
		providers,
		limiter,
		cfg.DefaultCountryCode,
		cfg.PushTimeout(),
		logger,
	)
	if err != nil {
		logger.Fatal("pulse service initialization failed", zap.Error(err))
	}
	pulseService.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	if err := handler.RegisterPulseRoutes(app, pulseService, enqueuer, cfg.PulseAPIKey, cfg.DefaultCountryCode); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("pulse-dispatch api started",
			zap.Int("port", cfg.APIPort),
			zap.String("outboxBackend", cfg.OutboxBackend),
		)
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("api terminated", zap.Error(err))
	}
	logger.Info("api stopped")
}

// buildProviderRegistry wires webhook-backed whatsapp and sms providers when a
// provider endpoint is configured, and in-process stubs otherwise. Push has no
// external provider yet and always runs on the stub.
func buildProviderRegistry(cfg *config.Config, logger *zap.Logger) (provider.Registry, error) {
	registry := provider.Registry{
		domain.ChannelPush: provider.NewStubProvider(domain.ChannelPush, logger),
	}

	if cfg.WebhookProviderURL == "" {
		registry[domain.ChannelWhatsApp] = provider.NewStubProvider(domain.ChannelWhatsApp, logger)
		registry[domain.ChannelSMS] = provider.NewStubProvider(domain.ChannelSMS, logger)
		return registry, nil
	}

	for _, channel := range []domain.Channel{domain.ChannelWhatsApp, domain.ChannelSMS} {
		p, err := provider.NewWebhookProvider(cfg.WebhookProviderURL, channel)
		if err != nil {
			return nil, err
		}
		registry[channel] = p
	}

	return registry, nil
}
