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
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/resume-pipeline/internal/api/handler"
	"github.com/cuongbtq/resume-pipeline/internal/api/router"
	"github.com/cuongbtq/resume-pipeline/internal/config"
	"github.com/cuongbtq/resume-pipeline/internal/document"
	"github.com/cuongbtq/resume-pipeline/internal/events"
	"github.com/cuongbtq/resume-pipeline/internal/generation/gemini"
	"github.com/cuongbtq/resume-pipeline/internal/intake"
	"github.com/cuongbtq/resume-pipeline/internal/orchestrator"
	"github.com/cuongbtq/resume-pipeline/internal/queue"
	"github.com/cuongbtq/resume-pipeline/internal/ratelimit"
	"github.com/cuongbtq/resume-pipeline/internal/scheduler"
	pebblestore "github.com/cuongbtq/resume-pipeline/internal/storage/pebble"
	postgresstore "github.com/cuongbtq/resume-pipeline/internal/storage/postgres"
	"github.com/cuongbtq/resume-pipeline/shared/logger"
	"github.com/cuongbtq/resume-pipeline/shared/postgresql"
	"github.com/cuongbtq/resume-pipeline/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("persistence", cfg.Persistence.Driver),
	)

	// Root context for startup and background maintenance
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the snapshot store
	store, closeStore, err := initSnapshotStore(ctx, cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize persistence: %w", err)
	}
	defer closeStore()

	// Initialize RabbitMQ client, shared by intake and event publishing
	var rabbitClient *rabbitmq.Client
	if cfg.Intake.Enabled || cfg.Events.Publish {
		queueName := ""
		if cfg.Intake.Enabled {
			queueName = cfg.RabbitMQ.Queue.Name
		}
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, queueName, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		appLogger.Info("RabbitMQ connection established")
	}

	// Event fan-out
	bus := events.NewBus()
	eventLog := events.NewLogObserver(appLogger.Logger)
	bus.SubscribeQueue(eventLog)
	bus.SubscribeBatch(eventLog)
	bus.SubscribeHealth(eventLog)
	if cfg.Events.Publish {
		forwarder := events.NewBrokerObserver(rabbitClient, cfg.Events.PublishTimeout, appLogger.Logger)
		bus.SubscribeBatch(forwarder)
		bus.SubscribeHealth(forwarder)
	}

	// Work queue, restored from the last snapshot
	workQueue := queue.New(queueConfig(&cfg.Queue), store, appLogger.Logger, queue.WithObserver(bus))
	if err := workQueue.Load(ctx); err != nil {
		return fmt.Errorf("failed to restore queue: %w", err)
	}

	var maintenance sync.WaitGroup
	maintenance.Add(1)
	go func() {
		defer maintenance.Done()
		workQueue.Run(ctx)
	}()

	// Generation service
	generator, err := gemini.New(ctx, gemini.Config{
		APIKey:          cfg.Gemini.APIKey,
		Model:           cfg.Gemini.Model,
		Temperature:     cfg.Gemini.Temperature,
		MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize generator: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		RequestsPerDay:    cfg.RateLimit.RequestsPerDay,
	})

	// Orchestrator
	orch, err := orchestrator.New(orchestratorConfig(&cfg.Processing), orchestrator.Deps{
		Queue:     workQueue,
		Scheduler: scheduler.New(schedulerConfig(&cfg.Scheduler), appLogger.Logger),
		Generator: generator,
		Limiter:   limiter,
		Extractor: document.NewExtractor(document.ExtractorConfig{
			MinWords:   cfg.Extraction.MinWords,
			MinQuality: cfg.Extraction.MinQuality,
		}),
		Optimizer: document.NewOptimizer(),
		Batches:   bus,
		Health:    bus,
		Logger:    appLogger.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	// AMQP intake
	var consumer *intake.Consumer
	if cfg.Intake.Enabled {
		consumer = intake.NewConsumer(intake.Config{
			ConsumerTag:  cfg.Intake.ConsumerTag,
			Concurrency:  cfg.Intake.Concurrency,
			RequeueDelay: cfg.Intake.RequeueDelay,
			Logger:       appLogger.Logger,
		}, rabbitClient, orch)
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start intake: %w", err)
		}
	}

	// Monitoring and producer HTTP surface
	deps := &handler.Dependencies{
		Logger:   appLogger.Logger,
		Pipeline: orch,
	}
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := initServer(&cfg.Server, router.SetupWorkerRouter(deps))

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully",
		slog.String("address", srv.Addr),
		slog.Bool("intake", cfg.Intake.Enabled),
		slog.Bool("publish_events", cfg.Events.Publish),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		appLogger.Error("HTTP server failed",
			slog.Any("error", runErr),
		)
	}

	// Stop producers first so nothing new lands while the queue drains
	if consumer != nil {
		consumer.Stop()
	}

	httpCtx, httpCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(httpCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
	}
	httpCancel()

	// Let the in-flight batch finish, then persist
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Processing.ShutdownTimeout)
	if err := orch.Stop(stopCtx); err != nil {
		appLogger.Error("Orchestrator stop failed",
			slog.Any("error", err),
		)
		if runErr == nil {
			runErr = err
		}
	}
	stopCancel()

	cancel()
	maintenance.Wait()

	appLogger.Info("Worker service shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableSource,
		NoColor:      cfg.NoColor,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initSnapshotStore opens the configured snapshot backend. The returned
// closer is always safe to call.
func initSnapshotStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (queue.SnapshotStore, func(), error) {
	switch cfg.Persistence.Driver {
	case config.DriverPebble:
		store, err := pebblestore.Open(pebblestore.Options{
			DataDir: cfg.Persistence.DataDir,
			Sync:    cfg.Persistence.Sync,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close pebble store", slog.Any("error", err))
			}
		}, nil

	case config.DriverPostgres:
		dbClient, err := initPostgreSQL(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		store := postgresstore.NewStore(dbClient.DB(), logger)
		if err := store.EnsureSchema(ctx); err != nil {
			dbClient.Close()
			return nil, nil, err
		}
		logger.Info("Database connection established")
		return store, func() { dbClient.Close() }, nil

	case config.DriverMemory:
		return queue.NewMemoryStore(), func() {}, nil

	default:
		logger.Warn("Queue persistence disabled, pending work is lost on restart")
		return nil, func() {}, nil
	}
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectTimeout:  cfg.ConnectTimeout,
	}

	return postgresql.NewClient(ctx, dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client. An empty queueName gives a
// publish-only client.
func initRabbitMQ(cfg *config.RabbitMQConfig, queueName string, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          queueName,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initServer wraps the router in an HTTP server with the configured limits
func initServer(cfg *config.ServerConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      http.MaxBytesHandler(h, cfg.MaxBodyBytes),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func queueConfig(cfg *config.QueueConfig) queue.Config {
	return queue.Config{
		MaxQueueSize:         cfg.MaxQueueSize,
		MaxRetries:           cfg.MaxRetries,
		RetryDelay:           cfg.RetryDelay,
		CompletedHistorySize: cfg.CompletedHistorySize,
		FailedHistorySize:    cfg.FailedHistorySize,
		HistoryMaxAge:        cfg.HistoryMaxAge,
		PersistInterval:      cfg.PersistInterval,
		PurgeInterval:        cfg.PurgeInterval,
	}
}

func schedulerConfig(cfg *config.SchedulerConfig) scheduler.Config {
	return scheduler.Config{
		MaxTokensPerRequest:  cfg.MaxTokensPerRequest,
		PromptTemplateTokens: cfg.PromptTemplateTokens,
		SafetyBufferTokens:   cfg.SafetyBufferTokens,
		WordsPerToken:        cfg.WordsPerToken,
		MinBatchSize:         cfg.MinBatchSize,
		MaxBatchSize:         cfg.MaxBatchSize,
		GroupingEnabled:      cfg.GroupingEnabled != nil && *cfg.GroupingEnabled,
		GroupingThreshold:    cfg.GroupingThreshold,
		SimilarityThreshold:  cfg.SimilarityThreshold,
	}
}

func orchestratorConfig(cfg *config.ProcessingConfig) orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.PollInterval = cfg.PollInterval
	oc.BatchSize = cfg.BatchSize
	oc.RequestTimeout = cfg.RequestTimeout
	oc.RateLimitBackoff = cfg.RateLimitBackoff
	oc.HealthInterval = cfg.HealthInterval
	oc.BusinessHours = orchestrator.BusinessHours{
		Enabled:   cfg.BusinessHours.Enabled,
		StartHour: cfg.BusinessHours.StartHour,
		EndHour:   cfg.BusinessHours.EndHour,
	}
	oc.Health = orchestrator.HealthThresholds{
		QueueDepthThreshold:  cfg.Health.QueueDepthThreshold,
		MinThroughputPerHour: cfg.Health.MinThroughputPerHour,
		MaxFailureRate:       cfg.Health.MaxFailureRate,
	}
	return oc
}
