// Package events publishes booking lifecycle CloudEvents and consumes catalog updates.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/staybook/service-booking/internal/domain/booking"
	"github.com/staybook/service-booking/internal/metrics"
	"github.com/staybook/service-booking/pkg/kafka"
)

// Lifecycle event types published on the booking topic.
const (
	BookingCreated   = "booking.created"
	BookingConfirmed = "booking.confirmed"
	BookingCancelled = "booking.cancelled"
	BookingCompleted = "booking.completed"
	PaymentFailed    = "payment.failed"
)

// Source is the CloudEvents source of every lifecycle event.
const Source = "service-booking"

// BookingEvent is the data of a lifecycle CloudEvent.
type BookingEvent struct {
	BookingID         uuid.UUID  `json:"booking_id"`
	ClientID          uuid.UUID  `json:"client_id"`
	RoomID            uuid.UUID  `json:"room_id"`
	HotelID           uuid.UUID  `json:"hotel_id"`
	Status            string     `json:"status"`
	PaymentStatus     string     `json:"payment_status"`
	PaymentMethod     string     `json:"payment_method"`
	DateStart         string     `json:"date_start"`
	DateEnd           string     `json:"date_end"`
	TotalPriceCents   int64      `json:"total_price_cents"`
	Currency          string     `json:"currency"`
	RefundAmountCents *int64     `json:"refund_amount_cents,omitempty"`
	CancelReason      string     `json:"cancel_reason,omitempty"`
	OccurredAt        time.Time  `json:"occurred_at"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
}

// NewBookingEvent snapshots b.
func NewBookingEvent(b *booking.Booking) BookingEvent {
	p := b.Payment()
	return BookingEvent{
		BookingID:         b.ID(),
		ClientID:          b.ClientID(),
		RoomID:            b.RoomID(),
		HotelID:           b.HotelID(),
		Status:            string(b.Status()),
		PaymentStatus:     string(p.Status()),
		PaymentMethod:     string(p.Method()),
		DateStart:         b.DateStart().Format(time.DateOnly),
		DateEnd:           b.DateEnd().Format(time.DateOnly),
		TotalPriceCents:   b.TotalPriceCents(),
		Currency:          p.Currency(),
		RefundAmountCents: p.RefundAmountCents(),
		CancelReason:      b.CancelReason(),
		OccurredAt:        b.UpdatedAt(),
		PaidAt:            p.PaidAt(),
	}
}

// BookingEventPublisher publishes lifecycle events to Kafka. Publishing happens
// after commit and is best effort: failures are logged and counted, never
// returned to the caller.
type BookingEventPublisher struct {
	producer *kafka.Producer
	topic    string
	logger   *zap.Logger
}

// NewBookingEventPublisher creates a publisher writing to topic.
func NewBookingEventPublisher(producer *kafka.Producer, topic string, logger *zap.Logger) *BookingEventPublisher {
	return &BookingEventPublisher{producer: producer, topic: topic, logger: logger}
}

// Publish sends one lifecycle event for b.
func (p *BookingEventPublisher) Publish(ctx context.Context, eventType string, b *booking.Booking) {
	ce, err := kafka.NewCloudEvent(Source, eventType, NewBookingEvent(b))
	if err != nil {
		p.logger.Error("failed to build lifecycle event", zap.String("type", eventType), zap.Error(err))
		metrics.EventPublishFailures.Inc()
		return
	}
	ce.Subject = b.ID().String()

	if err := p.producer.PublishEvent(context.WithoutCancel(ctx), p.topic, ce); err != nil {
		p.logger.Error("failed to publish lifecycle event",
			zap.String("type", eventType),
			zap.String("booking_id", b.ID().String()),
			zap.Error(err),
		)
		metrics.EventPublishFailures.Inc()
	}
}

// NoopPublisher drops every event. It is used when Kafka is not configured.
type NoopPublisher struct{}

// Publish implements the publisher contract.
func (NoopPublisher) Publish(context.Context, string, *booking.Booking) {}

// RecordingPublisher keeps published event types in memory for tests.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []Recorded
}

// Recorded is one event captured by RecordingPublisher.
type Recorded struct {
	Type      string
	BookingID uuid.UUID
	Status    booking.Status
}

// Publish records the event.
func (r *RecordingPublisher) Publish(_ context.Context, eventType string, b *booking.Booking) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Type: eventType, BookingID: b.ID(), Status: b.Status()})
}

// Events returns the recorded events in publish order.
func (r *RecordingPublisher) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// Types returns the recorded event types for one booking.
func (r *RecordingPublisher) Types(bookingID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.BookingID == bookingID {
			out = append(out, e.Type)
		}
	}
	return out
}
