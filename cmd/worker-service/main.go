package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ndquangr/txingest/internal/config"
	"github.com/ndquangr/txingest/internal/filestore"
	"github.com/ndquangr/txingest/internal/orchestrator"
	"github.com/ndquangr/txingest/internal/processor"
	"github.com/ndquangr/txingest/internal/progress"
	"github.com/ndquangr/txingest/internal/storage/postgres"
	"github.com/ndquangr/txingest/internal/worker"
	"github.com/ndquangr/txingest/shared/logger"
	"github.com/ndquangr/txingest/shared/postgresql"
	"github.com/ndquangr/txingest/shared/rabbitmq"
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

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	// Consumer on the jobs queue for start messages
	jobsClient, err := initRabbitMQ(&cfg.RabbitMQ, cfg.RabbitMQ.Jobs, false, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize jobs RabbitMQ client: %w", err)
	}
	defer jobsClient.Close()

	// Publisher on the progress fanout exchange
	progressClient, err := initRabbitMQ(&cfg.RabbitMQ, cfg.RabbitMQ.Progress, true, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize progress RabbitMQ client: %w", err)
	}
	defer progressClient.Close()

	appLogger.Info("RabbitMQ connections established")

	// Upload store holding the job CSV files
	files, err := filestore.NewStore(cfg.Ingest.UploadDir)
	if err != nil {
		return fmt.Errorf("failed to initialize file store: %w", err)
	}

	store := postgres.NewStore(dbClient.GetDB(), appLogger.Logger)
	store.SetClaimStaleAfter(cfg.Worker.ClaimStaleAfter)
	sink := progress.NewAMQPSink(progressClient)
	chunks := processor.New(appLogger.Logger, store, files, sink)

	// One identity for the run claim and the consumer tag.
	workerID := "worker-" + uuid.New().String()

	runner := orchestrator.NewRunner(&orchestrator.Config{
		Logger:   appLogger.Logger,
		Store:    store,
		Source:   files,
		Chunks:   chunks,
		Sink:     sink,
		Policy:   retryPolicy(&cfg.Worker),
		Timeouts: stepTimeouts(&cfg.Worker),
		WorkerID: workerID,
	})

	w := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Logger,
		RabbitClient:  jobsClient,
		Runner:        runner,
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		WorkerID:      workerID,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(ctx)
	}()

	appLogger.Info("Worker service is running",
		slog.String("worker_id", w.WorkerID()),
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)

	// Wait for interrupt signal or consumer failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Worker stopped unexpectedly",
				slog.Any("error", err),
			)
			return err
		}
		appLogger.Warn("Worker consumer channel closed")
	}

	appLogger.Info("Shutting down worker service...")
	cancel()

	// Give in-flight runs a bounded window to finish
	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		appLogger.Info("Worker shutdown complete")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timed out; exiting with runs in flight",
			slog.Duration("timeout", cfg.Worker.ShutdownTimeout),
		)
	}

	return nil
}

// retryPolicy maps worker config onto the orchestrator's step retry policy
func retryPolicy(cfg *config.WorkerConfig) orchestrator.RetryPolicy {
	policy := orchestrator.DefaultRetryPolicy()
	if cfg.RetryInitialInterval > 0 {
		policy.InitialInterval = cfg.RetryInitialInterval
	}
	if cfg.RetryMaxInterval > 0 {
		policy.MaxInterval = cfg.RetryMaxInterval
	}
	if cfg.RetryBackoff > 0 {
		policy.BackoffCoefficient = cfg.RetryBackoff
	}
	if cfg.RetryMaxAttempts > 0 {
		policy.MaxAttempts = cfg.RetryMaxAttempts
	}
	return policy
}

// stepTimeouts maps worker config onto the orchestrator's step timeouts
func stepTimeouts(cfg *config.WorkerConfig) orchestrator.Timeouts {
	timeouts := orchestrator.DefaultTimeouts()
	if cfg.InitTimeout > 0 {
		timeouts.Init = cfg.InitTimeout
	}
	if cfg.ChunkTimeout > 0 {
		timeouts.Chunk = cfg.ChunkTimeout
	}
	if cfg.FinalizeTimeout > 0 {
		timeouts.Finalize = cfg.FinalizeTimeout
	}
	if cfg.HeartbeatInterval > 0 {
		timeouts.HeartbeatInterval = cfg.HeartbeatInterval
	}
	return timeouts
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
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
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ creates one RabbitMQ client bound to the given topology
func initRabbitMQ(cfg *config.RabbitMQConfig, topology config.TopologyConfig, publisherOnly bool, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       topology.Exchange.Name,
		ExchangeType:       topology.Exchange.Type,
		ExchangeDurable:    topology.Exchange.Durable,
		ExchangeAutoDelete: topology.Exchange.AutoDelete,
		QueueName:          topology.Queue.Name,
		QueueDurable:       topology.Queue.Durable,
		QueueAutoDelete:    topology.Queue.AutoDelete,
		QueueExclusive:     topology.Queue.Exclusive,
		RoutingKey:         topology.RoutingKey,
		PublisherOnly:      publisherOnly,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
