package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/staybook/service-booking/pkg/database"
)

// StripeConfig holds Stripe-specific configuration.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// KafkaConfig holds the event publisher and catalog consumer settings. An empty
// CatalogTopic disables the consumer.
type KafkaConfig struct {
	Brokers      []string
	BookingTopic string
	CatalogTopic string
	GroupID      string
}

// RedisConfig holds the webhook dedup and scheduler lease store. An empty Addr
// disables both.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// BookingConfig holds lifecycle rules and timings.
type BookingConfig struct {
	Currency                string
	MaxBookingDays          int
	MinCheckinHours         int
	PaymentTimeout          time.Duration
	GatewayTimeout          time.Duration
	RefundTimeout           time.Duration
	CompletionSweepInterval time.Duration
	TimeoutSweepInterval    time.Duration
	SweepBatchSize          int
}

// ServiceConfig holds all configuration for the booking service.
type ServiceConfig struct {
	Port          string
	AppEnv        string
	LogFile       string
	JWTSecret     string
	CORSOrigins   []string
	DBConfig      database.PostgresConfig
	KafkaConfig   KafkaConfig
	RedisConfig   RedisConfig
	StripeConfig  StripeConfig
	BookingConfig BookingConfig
}

// Load reads configuration from an optional .env file and the environment.
func Load() (*ServiceConfig, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read .env: %w", err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("SERVICE_PORT", "8080")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "booking")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_BOOKING_TOPIC", "booking.lifecycle")
	v.SetDefault("KAFKA_CATALOG_TOPIC", "catalog.events")
	v.SetDefault("KAFKA_GROUP_ID", "service-booking")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("STRIPE_SUCCESS_URL", "http://localhost:3000/bookings/success")
	v.SetDefault("STRIPE_CANCEL_URL", "http://localhost:3000/bookings/cancel")
	v.SetDefault("GATEWAY_TIMEOUT", "10s")
	v.SetDefault("REFUND_TIMEOUT", "15s")
	v.SetDefault("CURRENCY", "usd")
	v.SetDefault("MAX_BOOKING_DAYS", 30)
	v.SetDefault("MIN_CHECKIN_HOURS", 24)
	v.SetDefault("PAYMENT_TIMEOUT", "10m")
	v.SetDefault("COMPLETION_SWEEP_INTERVAL", "12h")
	v.SetDefault("TIMEOUT_SWEEP_INTERVAL", "1m")
	v.SetDefault("SWEEP_BATCH_SIZE", 100)
}

func fromViper(v *viper.Viper) (*ServiceConfig, error) {
	cfg := &ServiceConfig{
		Port:        normalizePort(v.GetString("SERVICE_PORT")),
		AppEnv:      v.GetString("APP_ENV"),
		LogFile:     v.GetString("LOG_FILE"),
		JWTSecret:   v.GetString("JWT_SECRET"),
		CORSOrigins: splitList(v.GetString("CORS_ORIGINS")),
		DBConfig: database.PostgresConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		KafkaConfig: KafkaConfig{
			Brokers:      splitList(v.GetString("KAFKA_BROKERS")),
			BookingTopic: v.GetString("KAFKA_BOOKING_TOPIC"),
			CatalogTopic: v.GetString("KAFKA_CATALOG_TOPIC"),
			GroupID:      v.GetString("KAFKA_GROUP_ID"),
		},
		RedisConfig: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		StripeConfig: StripeConfig{
			SecretKey:     v.GetString("STRIPE_SECRET_KEY"),
			WebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
			SuccessURL:    v.GetString("STRIPE_SUCCESS_URL"),
			CancelURL:     v.GetString("STRIPE_CANCEL_URL"),
		},
		BookingConfig: BookingConfig{
			Currency:                strings.ToLower(v.GetString("CURRENCY")),
			MaxBookingDays:          v.GetInt("MAX_BOOKING_DAYS"),
			MinCheckinHours:         v.GetInt("MIN_CHECKIN_HOURS"),
			PaymentTimeout:          v.GetDuration("PAYMENT_TIMEOUT"),
			GatewayTimeout:          v.GetDuration("GATEWAY_TIMEOUT"),
			RefundTimeout:           v.GetDuration("REFUND_TIMEOUT"),
			CompletionSweepInterval: v.GetDuration("COMPLETION_SWEEP_INTERVAL"),
			TimeoutSweepInterval:    v.GetDuration("TIMEOUT_SWEEP_INTERVAL"),
			SweepBatchSize:          v.GetInt("SWEEP_BATCH_SIZE"),
		},
	}
	return cfg, cfg.validate()
}

func (c *ServiceConfig) validate() error {
	var errs []error
	if c.AppEnv != "development" && c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.AppEnv != "development" && c.StripeConfig.SecretKey != "" && c.StripeConfig.WebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required with STRIPE_SECRET_KEY"))
	}
	b := c.BookingConfig
	if b.MaxBookingDays <= 0 {
		errs = append(errs, errors.New("MAX_BOOKING_DAYS must be positive"))
	}
	if b.MinCheckinHours < 0 {
		errs = append(errs, errors.New("MIN_CHECKIN_HOURS must not be negative"))
	}
	for name, d := range map[string]time.Duration{
		"PAYMENT_TIMEOUT":           b.PaymentTimeout,
		"GATEWAY_TIMEOUT":           b.GatewayTimeout,
		"REFUND_TIMEOUT":            b.RefundTimeout,
		"COMPLETION_SWEEP_INTERVAL": b.CompletionSweepInterval,
		"TIMEOUT_SWEEP_INTERVAL":    b.TimeoutSweepInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration", name))
		}
	}
	if b.SweepBatchSize <= 0 {
		errs = append(errs, errors.New("SWEEP_BATCH_SIZE must be positive"))
	}
	if len(b.Currency) != 3 {
		errs = append(errs, errors.New("CURRENCY must be a 3-letter ISO code"))
	}
	return errors.Join(errs...)
}

func normalizePort(port string) string {
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
