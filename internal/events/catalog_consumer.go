package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/staybook/service-booking/internal/domain/booking"
	"github.com/staybook/service-booking/pkg/kafka"
)

// Catalog event types consumed from the catalog topic.
const (
	HotelUpserted         = "catalog.hotel.upserted"
	RoomUpserted          = "catalog.room.upserted"
	MerchantAccountLinked = "owner.merchant_account.linked"
)

// HotelUpsertedEvent announces a hotel and its owner.
type HotelUpsertedEvent struct {
	HotelID uuid.UUID `json:"hotel_id"`
	OwnerID uuid.UUID `json:"owner_id"`
	Name    string    `json:"name"`
}

// RoomUpsertedEvent announces a room and its current nightly price.
type RoomUpsertedEvent struct {
	RoomID             uuid.UUID `json:"room_id"`
	HotelID            uuid.UUID `json:"hotel_id"`
	PricePerNightCents int64     `json:"price_per_night_cents"`
	Places             int       `json:"places"`
}

// MerchantAccountLinkedEvent links an owner to a connected gateway account.
type MerchantAccountLinkedEvent struct {
	OwnerID           uuid.UUID `json:"owner_id"`
	MerchantAccountID string    `json:"merchant_account_id"`
}

// CatalogWriter stores the local read model of the catalog.
type CatalogWriter interface {
	UpsertHotel(ctx context.Context, id, ownerID uuid.UUID, name string) error
	UpsertRoom(ctx context.Context, room booking.Room) error
	UpsertMerchantAccount(ctx context.Context, ownerID uuid.UUID, accountID string) error
}

// CatalogEventConsumer keeps rooms, hotels and owner accounts in sync with the
// catalog service.
type CatalogEventConsumer struct {
	consumer *kafka.Consumer
	writer   CatalogWriter
	logger   *zap.Logger
}

// NewCatalogEventConsumer creates a consumer for the catalog topic.
func NewCatalogEventConsumer(brokers []string, groupID, topic string, writer CatalogWriter, logger *zap.Logger) *CatalogEventConsumer {
	return &CatalogEventConsumer{
		consumer: kafka.NewConsumer(brokers, groupID, topic, logger),
		writer:   writer,
		logger:   logger,
	}
}

// Start begins consuming catalog events. It blocks until the context is cancelled.
func (c *CatalogEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.HandleMessage)
}

// HandleMessage routes one catalog message to its handler.
func (c *CatalogEventConsumer) HandleMessage(ctx context.Context, msg kafkago.Message) error {
	ce, err := kafka.ParseCloudEvent(msg.Value)
	if err != nil {
		c.logger.Error("failed to parse cloud event from catalog topic",
			zap.Error(err),
			zap.String("raw", string(msg.Value)),
		)
		return err
	}

	c.logger.Debug("received catalog event",
		zap.String("type", ce.Type),
		zap.String("id", ce.ID),
	)

	switch {
	case strings.EqualFold(ce.Type, HotelUpserted):
		var event HotelUpsertedEvent
		if err := ce.ParseData(&event); err != nil {
			return fmt.Errorf("parse %s: %w", ce.Type, err)
		}
		return c.writer.UpsertHotel(ctx, event.HotelID, event.OwnerID, event.Name)

	case strings.EqualFold(ce.Type, RoomUpserted):
		var event RoomUpsertedEvent
		if err := ce.ParseData(&event); err != nil {
			return fmt.Errorf("parse %s: %w", ce.Type, err)
		}
		if event.PricePerNightCents <= 0 {
			return fmt.Errorf("room %s has non-positive price %d", event.RoomID, event.PricePerNightCents)
		}
		return c.writer.UpsertRoom(ctx, booking.Room{
			ID:                 event.RoomID,
			HotelID:            event.HotelID,
			PricePerNightCents: event.PricePerNightCents,
			Places:             event.Places,
		})

	case strings.EqualFold(ce.Type, MerchantAccountLinked):
		var event MerchantAccountLinkedEvent
		if err := ce.ParseData(&event); err != nil {
			return fmt.Errorf("parse %s: %w", ce.Type, err)
		}
		return c.writer.UpsertMerchantAccount(ctx, event.OwnerID, event.MerchantAccountID)

	default:
		c.logger.Debug("ignoring unhandled catalog event type",
			zap.String("type", ce.Type),
		)
		return nil
	}
}

// Close closes the underlying Kafka consumer.
func (c *CatalogEventConsumer) Close() error {
	return c.consumer.Close()
}
