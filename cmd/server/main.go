package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/staybook/service-booking/internal/adapter"
	"github.com/staybook/service-booking/internal/application"
	"github.com/staybook/service-booking/internal/cache"
	"github.com/staybook/service-booking/internal/config"
	"github.com/staybook/service-booking/internal/domain/booking"
	bookingEvents "github.com/staybook/service-booking/internal/events"
	"github.com/staybook/service-booking/internal/handler"
	"github.com/staybook/service-booking/internal/repository"
	"github.com/staybook/service-booking/internal/scheduler"
	"github.com/staybook/service-booking/migrations"
	"github.com/staybook/service-booking/pkg/auth"
	"github.com/staybook/service-booking/pkg/database"
	"github.com/staybook/service-booking/pkg/kafka"
	"github.com/staybook/service-booking/pkg/logger"
	"github.com/staybook/service-booking/pkg/middleware"
)

const (
	serviceName         = "service-booking"
	devJWTSecret        = "development-only-secret"
	devWebhookSecret    = "whsec_development"
	shutdownGracePeriod = 10 * time.Second
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize logger
	zapLogger, err := logger.NewWithOptions(cfg.AppEnv, serviceName, logger.Options{File: cfg.LogFile})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("starting "+serviceName,
		zap.String("port", cfg.Port),
		zap.String("env", cfg.AppEnv),
	)

	// Connect to database and apply migrations
	db, err := database.Connect(cfg.DBConfig, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := database.RunMigrations(cfg.DBConfig.DatabaseURL(), migrations.FS, ".", zapLogger); err != nil {
		zapLogger.Fatal("failed to run migrations", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access connection pool", zap.Error(err))
	}
	defer sqlDB.Close()

	// Initialize JWT manager
	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		zapLogger.Warn("JWT_SECRET not set, using the development secret")
		jwtSecret = devJWTSecret
	}
	jwtManager := auth.NewJWTManager(jwtSecret, 15*time.Minute, 7*24*time.Hour)

	// Initialize repositories
	uow := repository.NewUnitOfWork(db, zapLogger)
	catalog := repository.NewCatalogRepository(db)

	// Initialize payment gateway (mock without a Stripe key)
	gateway, webhookSecret := newGateway(cfg, zapLogger)
	verifier := adapter.NewStripeWebhookVerifier(webhookSecret)

	// Initialize Kafka producer and event publisher
	var publisher application.EventPublisher = bookingEvents.NoopPublisher{}
	if len(cfg.KafkaConfig.Brokers) > 0 && cfg.KafkaConfig.BookingTopic != "" {
		kafkaProducer := kafka.NewProducer(cfg.KafkaConfig.Brokers, zapLogger)
		defer kafkaProducer.Close()
		publisher = bookingEvents.NewBookingEventPublisher(kafkaProducer, cfg.KafkaConfig.BookingTopic, zapLogger)
	} else {
		zapLogger.Warn("kafka not configured, booking events are not published")
	}

	// Initialize Redis for webhook dedup and the sweep lease
	var (
		dedup application.EventDeduplicator
		lease scheduler.Lease
	)
	checks := map[string]handler.HealthCheck{"database": sqlDB.PingContext}
	if cfg.RedisConfig.Addr != "" {
		redisStore := cache.NewRedisStore(cfg.RedisConfig)
		defer redisStore.Close()
		dedup, lease = redisStore, redisStore
		checks["redis"] = redisStore.Ping
	} else {
		zapLogger.Warn("redis not configured, webhook dedup and sweep lease disabled")
	}

	// Initialize application services
	bookingService := application.NewBookingService(uow, catalog, catalog, gateway, publisher, application.BookingServiceConfig{
		Currency: cfg.BookingConfig.Currency,
		Policy: booking.Policy{
			MaxBookingDays:  cfg.BookingConfig.MaxBookingDays,
			MinCheckinHours: cfg.BookingConfig.MinCheckinHours,
		},
		PaymentTimeout: cfg.BookingConfig.PaymentTimeout,
		RefundTimeout:  cfg.BookingConfig.RefundTimeout,
	}, zapLogger)
	webhookProcessor := application.NewWebhookProcessor(uow, gateway, verifier, dedup, publisher, zapLogger)

	// Start Kafka consumer for catalog events
	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	if cfg.KafkaConfig.CatalogTopic != "" && len(cfg.KafkaConfig.Brokers) > 0 {
		catalogConsumer := bookingEvents.NewCatalogEventConsumer(
			cfg.KafkaConfig.Brokers,
			cfg.KafkaConfig.GroupID,
			cfg.KafkaConfig.CatalogTopic,
			catalog,
			zapLogger,
		)
		defer catalogConsumer.Close()

		go func() {
			zapLogger.Info("starting catalog event consumer", zap.String("topic", cfg.KafkaConfig.CatalogTopic))
			if err := catalogConsumer.Start(consumerCtx); err != nil && consumerCtx.Err() == nil {
				zapLogger.Error("catalog event consumer failed", zap.Error(err))
			}
		}()
	}

	// Start reconciliation scheduler
	sweeper := scheduler.New(uow, gateway, publisher, lease, scheduler.Config{
		PaymentTimeout:     cfg.BookingConfig.PaymentTimeout,
		CompletionInterval: cfg.BookingConfig.CompletionSweepInterval,
		TimeoutInterval:    cfg.BookingConfig.TimeoutSweepInterval,
		BatchSize:          cfg.BookingConfig.SweepBatchSize,
	}, zapLogger)
	sweeper.Start(context.Background())

	// Setup Gin router
	if cfg.AppEnv != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RecoveryMiddleware(zapLogger))
	router.Use(middleware.LoggerMiddleware(zapLogger))
	router.Use(middleware.CORSMiddleware(cfg.CORSOrigins...))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())

	// Register health check and metrics routes
	handler.NewHealthHandler(checks).RegisterRoutes(router)

	// Register API routes
	apiV1 := router.Group("/api/v1")
	handler.NewBookingHandler(bookingService).RegisterRoutes(apiV1, jwtManager)
	handler.NewOwnerHandler(bookingService).RegisterRoutes(apiV1, jwtManager)
	handler.NewWebhookHandler(webhookProcessor, zapLogger).RegisterRoutes(apiV1)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15*time.Second + cfg.BookingConfig.RefundTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		zapLogger.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down " + serviceName + "...")

	// Stop background work before the HTTP server
	consumerCancel()
	if err := sweeper.Stop(); err != nil {
		zapLogger.Error("scheduler stopped with error", zap.Error(err))
	}

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info(serviceName + " stopped")
}

// newGateway picks Stripe when a secret key is configured and the in-memory
// gateway otherwise. It also returns the webhook signing secret to verify with.
func newGateway(cfg *config.ServiceConfig, zapLogger *zap.Logger) (adapter.PaymentGateway, string) {
	webhookSecret := cfg.StripeConfig.WebhookSecret
	if webhookSecret == "" {
		webhookSecret = devWebhookSecret
	}

	if cfg.StripeConfig.SecretKey == "" {
		zapLogger.Warn("STRIPE_SECRET_KEY not set, using the mock payment gateway")
		return adapter.NewMockGateway(zapLogger), webhookSecret
	}
	return adapter.NewStripeGateway(adapter.StripeConfig{
		SecretKey:  cfg.StripeConfig.SecretKey,
		SuccessURL: cfg.StripeConfig.SuccessURL,
		CancelURL:  cfg.StripeConfig.CancelURL,
		Timeout:    cfg.BookingConfig.GatewayTimeout,
	}, zapLogger), webhookSecret
}
