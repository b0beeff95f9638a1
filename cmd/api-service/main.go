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
	"golang.org/x/time/rate"

	"github.com/openreel/publisher-be/internal/api/handler"
	"github.com/openreel/publisher-be/internal/api/router"
	"github.com/openreel/publisher-be/internal/config"
	"github.com/openreel/publisher-be/internal/credentials"
	"github.com/openreel/publisher-be/internal/credits"
	"github.com/openreel/publisher-be/internal/destination"
	"github.com/openreel/publisher-be/internal/events"
	"github.com/openreel/publisher-be/internal/orchestrator"
	"github.com/openreel/publisher-be/internal/queue"
	"github.com/openreel/publisher-be/internal/video"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPI(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("starting api service",
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

	videoStore := video.NewStorage(dbClient)
	ledger := credits.NewLedger(dbClient, appLogger.Logger)
	jobQueue := queue.New(redisClient.GetClient(), queue.Config{
		MetadataTTL: cfg.Queue.MetadataTTL,
		MaxRetries:  cfg.Queue.MaxRetries,
		Backoff:     queue.Backoff{Base: cfg.Queue.BackoffBase, Cap: cfg.Queue.BackoffCap},
	}, appLogger.Logger)
	publisher := events.NewRabbitMQPublisher(rabbitClient, appLogger.Logger)

	// The credential store is exclusive to one process, so the API only
	// opens its own copy when a path is configured. Without it remote
	// status probes are unavailable and the endpoint reports 503.
	probers := make(map[video.Destination]handler.StatusProber)
	if cfg.Credentials.Path != "" {
		credStore, err := credentials.Open(cfg.Credentials.Path, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to open credential store: %w", err)
		}
		defer credStore.Close()
		probers = buildProbers(cfg, credStore, appLogger.Logger)
	} else {
		appLogger.Info("credential store not configured, remote status probes disabled")
	}

	// Cancel and retry never run upload passes, so the control
	// orchestrator needs no uploaders.
	control := orchestrator.New(videoStore, ledger, nil, publisher, appLogger.Logger, orchestrator.Config{})

	deps := &handler.Dependencies{
		Logger:  appLogger.Logger,
		Queue:   jobQueue,
		Videos:  videoStore,
		Control: control,
		Ledger:  ledger,
		Probers: probers,
		Checks: map[string]handler.HealthChecker{
			"postgres": dbClient,
			"redis":    redisClient,
		},
		Pricing:    credits.NewPricing(cfg.Pricing.BytesPerCredit),
		Schedule:   video.Plan{Interval: cfg.Scheduling.Interval, DailyAt: cfg.Scheduling.DailyAt},
		MaxRetries: cfg.Queue.MaxRetries,
	}

	r := initRouter(cfg.App.Environment, deps)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("api service is running",
		slog.String("address", addr),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("server shutdown complete")
	return nil
}

// buildProbers constructs one status prober per configured destination.
// Probes share the uploader's credential handling and rate limits.
func buildProbers(cfg *config.Config, creds *credentials.Store, logger *slog.Logger) map[video.Destination]handler.StatusProber {
	constructors := map[video.Destination]func(destination.Client, destination.CredentialStore, destination.Refresher, *slog.Logger, rate.Limit, int) *destination.Uploader{
		video.DestYouTube:   destination.NewYouTube,
		video.DestTikTok:    destination.NewTikTok,
		video.DestInstagram: destination.NewInstagram,
	}

	probers := make(map[video.Destination]handler.StatusProber)
	for name, dc := range cfg.Destinations {
		kind := video.Destination(name)
		construct, ok := constructors[kind]
		if !ok {
			logger.Warn("unknown destination in config, skipping", slog.String("destination", name))
			continue
		}

		client := destination.NewHTTPClient(dc.Endpoint, dc.UploadTimeout)
		probers[kind] = construct(client, creds, destination.NoRefresh, logger, rate.Limit(dc.RateLimit), dc.Burst)
	}

	return probers
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
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
