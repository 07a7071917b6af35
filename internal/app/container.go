// Package app wires the application container: storage, partitions,
// services, outbox processor, feed scheduler, and the API server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramxx/tminus/adapter/api"
	feedsapp "github.com/ramxx/tminus/internal/feeds/application"
	govapp "github.com/ramxx/tminus/internal/governance/application"
	govinfra "github.com/ramxx/tminus/internal/governance/infrastructure"
	onboardingapp "github.com/ramxx/tminus/internal/onboarding/application"
	onboardingpersist "github.com/ramxx/tminus/internal/onboarding/infrastructure/persistence"
	"github.com/ramxx/tminus/internal/shared/infrastructure/database"
	_ "github.com/ramxx/tminus/internal/shared/infrastructure/database/postgres" // register driver
	_ "github.com/ramxx/tminus/internal/shared/infrastructure/database/sqlite"   // register driver
	"github.com/ramxx/tminus/internal/shared/infrastructure/eventbus"
	"github.com/ramxx/tminus/internal/shared/infrastructure/migrations"
	"github.com/ramxx/tminus/internal/shared/infrastructure/outbox"
	storeapp "github.com/ramxx/tminus/internal/store/application"
	storepersist "github.com/ramxx/tminus/internal/store/infrastructure/persistence"
	"github.com/ramxx/tminus/pkg/config"
	"github.com/ramxx/tminus/pkg/observability"
)

// Container holds the wired application.
type Container struct {
	Config     *config.Config
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	Health     *observability.HealthRegistry
	Conn       database.Connection
	Redis      *redis.Client
	Partitions *storeapp.PartitionManager
	Store      *storeapp.Service
	Onboarding *onboardingapp.Service
	Feeds      *feedsapp.Service
	Governance *govapp.Service
	Outbox     *outbox.Processor
	Bus        eventbus.Publisher
	Scheduler  *feedsapp.Scheduler
	Auth       *api.StaticAuthenticator
}

// New builds the container from configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = observability.LoggerFromEnv()
	}
	metrics := observability.NewMetrics()
	health := observability.NewHealthRegistry()

	conn, err := database.NewConnection(ctx, database.Config{
		Driver:     database.Driver(cfg.DatabaseDriver),
		URL:        cfg.DatabaseURL,
		SQLitePath: cfg.SQLitePath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	health.Register("database", func(ctx context.Context) observability.HealthCheckResult {
		if err := conn.Ping(ctx); err != nil {
			return observability.HealthCheckResult{Status: observability.HealthStatusUnhealthy, Message: err.Error()}
		}
		return observability.HealthCheckResult{Status: observability.HealthStatusHealthy}
	})

	runner := migrations.NewRunner()
	partitions := storeapp.NewPartitionManager(metrics, logger)
	driver := conn.Driver()

	outboxRepo := outbox.NewSQLRepository(conn)
	storeService := storeapp.NewService(storeapp.Deps{
		Conn:        conn,
		Runner:      runner,
		Partitions:  partitions,
		Events:      storepersist.NewSQLEventRepository(driver),
		Accounts:    storepersist.NewSQLAccountRepository(driver),
		Constraints: storepersist.NewSQLConstraintRepository(driver),
		Vips:        storepersist.NewSQLVipPolicyRepository(driver),
		Allocations: storepersist.NewSQLAllocationRepository(driver),
		Commitments: storepersist.NewSQLCommitmentRepository(driver),
		Outbox:      outboxRepo,
		Metrics:     metrics,
		Logger:      logger,
	})

	onboardingService := onboardingapp.NewService(
		conn, runner, partitions,
		onboardingpersist.NewSQLSessionRepository(driver),
		cfg.OnboardingRetention,
		logger,
	)

	// Local mode runs without redis and rabbitmq; the in-process
	// fallbacks keep behavior identical for a single node.
	var redisClient *redis.Client
	var gate feedsapp.RefreshGate = feedsapp.NewMemoryRefreshGate()
	if !cfg.LocalMode {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		gate = feedsapp.NewRedisRefreshGate(redisClient)
		health.Register("redis", func(ctx context.Context) observability.HealthCheckResult {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return observability.HealthCheckResult{Status: observability.HealthStatusDegraded, Message: err.Error()}
			}
			return observability.HealthCheckResult{Status: observability.HealthStatusHealthy}
		})
	}

	var bus eventbus.Publisher
	if cfg.LocalMode {
		bus = eventbus.NewInProcessBus(0)
	} else {
		rabbit, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		bus = rabbit
	}

	outboxConfig := outbox.DefaultProcessorConfig()
	outboxConfig.PollInterval = cfg.OutboxPollInterval
	outboxConfig.BatchSize = cfg.OutboxBatchSize
	outboxConfig.MaxRetries = cfg.OutboxMaxRetries
	outboxConfig.Retention = time.Duration(cfg.OutboxRetentionDays) * 24 * time.Hour
	outboxConfig.CleanupInterval = cfg.OutboxCleanupInterval
	outboxProcessor := outbox.NewProcessor(outboxRepo, bus, outboxConfig, logger)

	fetcher := feedsapp.NewFetcher(feedsapp.FetcherConfig{
		Timeout:      cfg.FeedFetchTimeout,
		MaxBodyBytes: cfg.FeedMaxBodyBytes,
		Logger:       logger,
	})
	feedService := feedsapp.NewService(storeService, fetcher, gate, metrics, logger)
	scheduler := feedsapp.NewScheduler(feedService, storeService, cfg.FeedSchedulerSpec, cfg.ExternalCallTimeout, logger)

	blobs, err := govinfra.NewFSBlobStore(cfg.ProofStorageRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open proof storage: %w", err)
	}
	governance := govapp.NewService(storeService, blobs, metrics, logger)

	return &Container{
		Config:     cfg,
		Logger:     logger,
		Metrics:    metrics,
		Health:     health,
		Conn:       conn,
		Redis:      redisClient,
		Partitions: partitions,
		Store:      storeService,
		Onboarding: onboardingService,
		Feeds:      feedService,
		Governance: governance,
		Outbox:     outboxProcessor,
		Bus:        bus,
		Scheduler:  scheduler,
		Auth:       api.NewStaticAuthenticator(),
	}, nil
}

// APIServer builds the HTTP server over the container's services.
func (c *Container) APIServer() *api.Server {
	return api.NewServer(api.ServerConfig{
		Addr:         c.Config.APIAddr,
		ReadTimeout:  c.Config.APIReadTimeout,
		WriteTimeout: c.Config.APIWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}, api.Services{
		Auth:       c.Auth,
		Store:      c.Store,
		Onboarding: c.Onboarding,
		Feeds:      c.Feeds,
		Governance: c.Governance,
		Metrics:    c.Metrics,
		Health:     c.Health,
	}, c.Logger)
}

// Close releases container resources.
func (c *Container) Close() {
	if c.Outbox != nil {
		c.Outbox.Stop()
	}
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	c.Partitions.Close()
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	_ = c.Conn.Close()
}
