/**
 * @description
 * This is the main entry point for the billing-service.
 * It initializes and wires together all the components of the application:
 * configuration, database connection, the Daraja provider client, the optional
 * Redis rate limiter and RabbitMQ producer, the repository, service, and the
 * HTTP router. Finally, it starts the HTTP server to listen for incoming
 * requests and shuts everything down gracefully on SIGINT/SIGTERM.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/invopay/billing-service/internal/api"
	"github.com/invopay/billing-service/internal/app"
	"github.com/invopay/billing-service/internal/config"
	"github.com/invopay/billing-service/internal/store"
	"github.com/invopay/billing-service/pkg/darajaclient"
	"github.com/invopay/billing-service/pkg/rabbitmq"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load application configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up channel to listen for OS signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Establish connection to the PostgreSQL database with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Use simple protocol so the service works behind PgBouncer transaction
	// pooling without statement cache errors (SQLSTATE 42P05).
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Optional Redis-backed rate limiter for charge initiation.
	var limiter app.RateLimiter
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("unable to parse redis URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		limiter = app.NewRedisRateLimiter(redisClient, "billing:rate_limit")
		logger.Info("redis rate limiter enabled")
	} else {
		logger.Warn("REDIS_URL not set, charge rate limiting disabled")
	}

	// Optional RabbitMQ producer for payment outcome events.
	var publisher app.EventPublisher
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			logger.Warn("failed to connect to RabbitMQ, outcome events disabled", "error", err)
		} else {
			defer producer.Close()
			publisher = producer
			logger.Info("rabbitmq producer connected")
		}
	} else {
		logger.Warn("RABBITMQ_URL not set, outcome events disabled")
	}

	daraja := darajaclient.NewClient(darajaclient.Config{
		BaseURL:         cfg.DarajaBaseURL,
		ConsumerKey:     cfg.DarajaConsumerKey,
		ConsumerSecret:  cfg.DarajaConsumerSecret,
		Shortcode:       cfg.DarajaShortcode,
		Passkey:         cfg.DarajaPasskey,
		CallbackURL:     cfg.DarajaCallbackURL,
		AccountRef:      cfg.DarajaAccountRef,
		TransactionDesc: cfg.DarajaTransactionDesc,
	})

	// Initialize application layers
	repository := store.NewPostgresRepository(dbpool)
	service := app.NewService(repository, daraja, publisher, limiter)
	handler := api.NewHandler(service)
	router := api.NewRouter(handler, cfg.ClerkJWKSURL)

	// Configure and start the HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for an OS signal
	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
