//go:build integration

package main_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/staybook/service-booking/internal/adapter"
	"github.com/staybook/service-booking/internal/application"
	"github.com/staybook/service-booking/internal/domain/booking"
	bookingEvents "github.com/staybook/service-booking/internal/events"
	"github.com/staybook/service-booking/internal/repository"
	"github.com/staybook/service-booking/internal/scheduler"
	"github.com/staybook/service-booking/migrations"
	"github.com/staybook/service-booking/pkg/database"
	"github.com/staybook/service-booking/pkg/kafka"
)

const (
	bookingTopic  = "booking.lifecycle"
	catalogTopic  = "catalog.events"
	webhookSecret = "whsec_integration"
)

// testInfra holds shared test infrastructure.
type testInfra struct {
	DB           *gorm.DB
	KafkaBrokers []string
	Cleanup      func()
}

// bookingStack holds wired-up booking service components.
type bookingStack struct {
	UoW       *repository.GormUnitOfWork
	Catalog   *repository.CatalogRepository
	Gateway   *adapter.MockGateway
	Service   *application.BookingService
	Webhooks  *application.WebhookProcessor
	Scheduler *scheduler.ReconciliationScheduler
	Consumer  *bookingEvents.CatalogEventConsumer
	Cleanup   func()
}

// setupContainers starts PostgreSQL and Kafka testcontainers, applies the
// migrations and returns a connected GORM DB.
func setupContainers(t *testing.T) *testInfra {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test_booking",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dbCfg := database.PostgresConfig{
		Host:     pgHost,
		Port:     pgPort.Port(),
		User:     "test",
		Password: "test",
		DBName:   "test_booking",
	}

	var db *gorm.DB
	require.Eventually(t, func() bool {
		var err error
		db, err = database.Connect(dbCfg, logger)
		return err == nil
	}, 30*time.Second, time.Second, "PostgreSQL not ready for connections")

	require.NoError(t, database.RunMigrations(dbCfg.DatabaseURL(), migrations.FS, ".", logger))

	kafkaContainer, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "failed to start Kafka container")

	kafkaBrokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err, "failed to get Kafka brokers")

	createTopics(t, kafkaBrokers, bookingTopic, catalogTopic)

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	}

	return &testInfra{
		DB:           db,
		KafkaBrokers: kafkaBrokers,
		Cleanup:      cleanup,
	}
}

// setupBookingStack wires the booking service against Postgres, Kafka and the
// in-memory payment gateway.
func setupBookingStack(t *testing.T, db *gorm.DB, brokers []string) *bookingStack {
	t.Helper()
	logger := zap.NewNop()

	uow := repository.NewUnitOfWork(db, logger)
	catalog := repository.NewCatalogRepository(db)
	gateway := adapter.NewMockGateway(logger)
	producer := kafka.NewProducer(brokers, logger)
	publisher := bookingEvents.NewBookingEventPublisher(producer, bookingTopic, logger)

	svc := application.NewBookingService(uow, catalog, catalog, gateway, publisher, application.BookingServiceConfig{
		Currency:       "usd",
		Policy:         booking.DefaultPolicy,
		PaymentTimeout: 10 * time.Minute,
		RefundTimeout:  5 * time.Second,
	}, logger)
	webhooks := application.NewWebhookProcessor(uow, gateway, adapter.NewStripeWebhookVerifier(webhookSecret), nil, publisher, logger)
	sweeper := scheduler.New(uow, gateway, publisher, nil, scheduler.Config{
		PaymentTimeout:     10 * time.Minute,
		CompletionInterval: time.Hour,
		TimeoutInterval:    time.Minute,
		BatchSize:          50,
	}, logger)

	groupID := fmt.Sprintf("test-booking-%s", uuid.New().String()[:8])
	consumer := bookingEvents.NewCatalogEventConsumer(brokers, groupID, catalogTopic, catalog, logger)

	return &bookingStack{
		UoW:       uow,
		Catalog:   catalog,
		Gateway:   gateway,
		Service:   svc,
		Webhooks:  webhooks,
		Scheduler: sweeper,
		Consumer:  consumer,
		Cleanup: func() {
			_ = consumer.Close()
			_ = producer.Close()
		},
	}
}

// seedRoom writes a hotel and one room straight into the catalog tables.
func seedRoom(t *testing.T, catalog *repository.CatalogRepository, ownerID uuid.UUID, priceCents int64) booking.Room {
	t.Helper()
	ctx := context.Background()
	room := booking.Room{ID: uuid.New(), HotelID: uuid.New(), PricePerNightCents: priceCents, Places: 2}
	require.NoError(t, catalog.UpsertHotel(ctx, room.HotelID, ownerID, "Integration Inn"))
	require.NoError(t, catalog.UpsertRoom(ctx, room))
	return room
}

// publishTestEvent publishes a CloudEvent to Kafka.
func publishTestEvent(t *testing.T, brokers []string, topic, source, eventType string, data any) {
	t.Helper()
	producer := kafka.NewProducer(brokers, zap.NewNop())
	defer func() { _ = producer.Close() }()

	ce, err := kafka.NewCloudEvent(source, eventType, data)
	require.NoError(t, err, "failed to create cloud event")

	err = producer.PublishEvent(context.Background(), topic, ce)
	require.NoError(t, err, "failed to publish event")
}

// consumeEvent reads from a Kafka topic until it finds an event of the
// expected type about the given booking.
func consumeEvent(t *testing.T, brokers []string, topic, expectedType string, bookingID uuid.UUID, timeout time.Duration) bookingEvents.BookingEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	groupID := fmt.Sprintf("test-assert-%s", uuid.New().String()[:8])
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	defer func() { _ = reader.Close() }()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.Fatalf("timed out waiting for event type %q on topic %q", expectedType, topic)
			}
			continue
		}
		ce, err := kafka.ParseCloudEvent(msg.Value)
		if err != nil || ce.Type != expectedType {
			continue
		}
		var event bookingEvents.BookingEvent
		if err := ce.ParseData(&event); err != nil {
			continue
		}
		if event.BookingID == bookingID {
			return event
		}
	}
}

// createTopics pre-creates Kafka topics so producers don't fail with "Unknown Topic".
func createTopics(t *testing.T, brokers []string, topics ...string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", brokers[0])
	require.NoError(t, err, "failed to dial Kafka for topic creation")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "failed to get Kafka controller")

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, fmt.Sprintf("%d", controller.Port)))
	require.NoError(t, err, "failed to connect to Kafka controller")
	defer controllerConn.Close()

	topicConfigs := make([]kafkago.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafkago.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}
	err = controllerConn.CreateTopics(topicConfigs...)
	require.NoError(t, err, "failed to create Kafka topics")

	// Give Kafka a moment to propagate topic metadata.
	time.Sleep(1 * time.Second)
}
