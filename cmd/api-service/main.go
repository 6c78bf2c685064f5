package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/ndquangr/txingest/internal/api/handler"
	"github.com/ndquangr/txingest/internal/api/relay"
	"github.com/ndquangr/txingest/internal/api/router"
	"github.com/ndquangr/txingest/internal/config"
	"github.com/ndquangr/txingest/internal/filestore"
	"github.com/ndquangr/txingest/internal/jobs"
	"github.com/ndquangr/txingest/internal/progress"
	"github.com/ndquangr/txingest/internal/storage/postgres"
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
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Publisher for start messages on the jobs queue
	jobsClient, err := initRabbitMQ(&cfg.RabbitMQ, cfg.RabbitMQ.Jobs, false, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize jobs RabbitMQ client: %w", err)
	}

	// Consumer on the progress fanout exchange. The queue name is left
	// empty so every gateway instance gets its own server-named exclusive
	// queue and sees every event.
	progressTopology := cfg.RabbitMQ.Progress
	progressTopology.Queue.Name = ""
	progressTopology.Queue.Exclusive = true
	progressClient, err := initRabbitMQ(&cfg.RabbitMQ, progressTopology, false, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize progress RabbitMQ client: %w", err)
	}

	appLogger.Info("RabbitMQ connections established")

	// Upload store for job CSV files
	files, err := filestore.NewStore(cfg.Ingest.UploadDir)
	if err != nil {
		return fmt.Errorf("failed to initialize file store: %w", err)
	}

	store := postgres.NewStore(dbClient.GetDB(), appLogger.Logger)
	dispatcher := jobs.NewAMQPDispatcher(jobsClient)
	jobService := jobs.NewService(appLogger.Logger, store, files, dispatcher)

	// WebSocket fan-out fed by the progress relay
	fanout := progress.NewManager(appLogger.Logger)
	progressRelay := relay.New(appLogger.Logger, progressClient, fanout)

	relayCtx, relayCancel := context.WithCancel(context.Background())
	defer relayCancel()
	go func() {
		if err := progressRelay.Run(relayCtx, "api-progress-relay"); err != nil {
			appLogger.Error("Progress relay stopped",
				slog.Any("error", err),
			)
		}
	}()

	// Initialize router
	r := initRouter(cfg.App.Environment, appLogger.Logger, jobService, fanout, dbClient)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	// Cleanup function to close all resources
	cleanup := func() {
		cancel()
		relayCancel()
		if dbClient != nil {
			dbClient.Close()
		}
		if jobsClient != nil {
			jobsClient.Close()
		}
		if progressClient != nil {
			progressClient.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
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

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, logger *slog.Logger, jobService *jobs.Service, fanout *progress.Manager, dbClient *postgresql.Client) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:  logger,
		Jobs:    jobService,
		Fanout:  fanout,
		Healthz: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return dbClient.HealthCheck(ctx)
		},
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}
