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

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/openreel/publisher-be/internal/config"
	"github.com/openreel/publisher-be/internal/credentials"
	"github.com/openreel/publisher-be/internal/credits"
	"github.com/openreel/publisher-be/internal/destination"
	"github.com/openreel/publisher-be/internal/events"
	"github.com/openreel/publisher-be/internal/orchestrator"
	"github.com/openreel/publisher-be/internal/queue"
	"github.com/openreel/publisher-be/internal/video"
	"github.com/openreel/publisher-be/internal/worker"
	"github.com/openreel/publisher-be/shared/logger"
	"github.com/openreel/publisher-be/shared/postgresql"
	"github.com/openreel/publisher-be/shared/rabbitmq"
	"github.com/openreel/publisher-be/shared/redis"
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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorker(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	redisClient, err := initRedis(&cfg.Redis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	defer redisClient.Close()

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize rabbitmq: %w", err)
	}
	defer rabbitClient.Close()

	credStore, err := credentials.Open(cfg.Credentials.Path, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	defer credStore.Close()

	videoStore := video.NewStorage(dbClient)
	ledger := credits.NewLedger(dbClient, appLogger.Logger)
	jobQueue := queue.New(redisClient.GetClient(), queue.Config{
		MetadataTTL: cfg.Queue.MetadataTTL,
		MaxRetries:  cfg.Queue.MaxRetries,
		Backoff:     queue.Backoff{Base: cfg.Queue.BackoffBase, Cap: cfg.Queue.BackoffCap},
	}, appLogger.Logger)
	publisher := events.NewRabbitMQPublisher(rabbitClient, appLogger.Logger)

	uploaders := buildUploaders(cfg, credStore, appLogger.Logger)
	if len(uploaders) == 0 {
		appLogger.Warn("no destinations configured, passes will have nothing to upload to")
	}

	orch := orchestrator.New(videoStore, ledger, uploaders, publisher, appLogger.Logger, orchestrator.Config{})

	w := worker.NewWorker(&worker.Config{
		Logger:         appLogger.Logger,
		Queue:          jobQueue,
		Runner:         orch,
		Concurrency:    cfg.Worker.Concurrency,
		JobTimeout:     cfg.Worker.JobTimeout,
		DequeueTimeout: cfg.Queue.DequeueTimeout,
		StaleTimeout:   cfg.Queue.StaleTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(ctx)
	}()

	appLogger.Info("worker service started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("received signal, shutting down", slog.String("signal", sig.String()))
	case err := <-errChan:
		if err != nil {
			appLogger.Error("worker failed", slog.Any("error", err))
			return err
		}
		return nil
	}

	w.Stop()

	select {
	case err := <-errChan:
		if err != nil {
			appLogger.Error("worker stopped with error", slog.Any("error", err))
			return err
		}
		appLogger.Info("worker service shutdown complete")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("worker shutdown timeout exceeded, forcing exit")
	}

	return nil
}

// buildUploaders constructs one uploader per configured destination. Tokens
// are renewed out of band, so every uploader runs without a refresher.
func buildUploaders(cfg *config.Config, creds *credentials.Store, logger *slog.Logger) map[video.Destination]orchestrator.Uploader {
	constructors := map[video.Destination]func(destination.Client, destination.CredentialStore, destination.Refresher, *slog.Logger, rate.Limit, int) *destination.Uploader{
		video.DestYouTube:   destination.NewYouTube,
		video.DestTikTok:    destination.NewTikTok,
		video.DestInstagram: destination.NewInstagram,
	}

	uploaders := make(map[video.Destination]orchestrator.Uploader)
	for name, dc := range cfg.Destinations {
		kind := video.Destination(name)
		construct, ok := constructors[kind]
		if !ok {
			logger.Warn("unknown destination in config, skipping", slog.String("destination", name))
			continue
		}

		client := destination.NewHTTPClient(dc.Endpoint, dc.UploadTimeout)
		uploaders[kind] = construct(client, creds, destination.NoRefresh, logger, rate.Limit(dc.RateLimit), dc.Burst)

		logger.Info("destination configured",
			slog.String("destination", name),
			slog.String("endpoint", dc.Endpoint),
			slog.Float64("rate_limit", dc.RateLimit),
		)
	}

	return uploaders
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

// initRedis initializes the Redis client backing the job queue
func initRedis(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	redisConfig := &redis.Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}

	return redis.NewClient(redisConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ publisher for status events
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
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
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
