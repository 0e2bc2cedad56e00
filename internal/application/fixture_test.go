package application_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/staybook/service-booking/internal/adapter"
	"github.com/staybook/service-booking/internal/application"
	"github.com/staybook/service-booking/internal/domain/booking"
	"github.com/staybook/service-booking/internal/events"
	"github.com/staybook/service-booking/internal/repository/memory"
	"github.com/staybook/service-booking/pkg/auth"
)

const webhookSecret = "whsec_test"

var start = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

type fixture struct {
	store    *memory.Store
	gateway  *adapter.MockGateway
	events   *events.RecordingPublisher
	svc      *application.BookingService
	webhooks *application.WebhookProcessor
	room     booking.Room
	client   application.Actor
	owner    application.Actor

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:   memory.NewStore(),
		gateway: adapter.NewMockGateway(zap.NewNop()),
		events:  &events.RecordingPublisher{},
		room:    booking.Room{ID: uuid.New(), HotelID: uuid.New(), PricePerNightCents: 10000, Places: 2},
		client:  application.Actor{ID: uuid.New(), Role: auth.RoleClient},
		owner:   application.Actor{ID: uuid.New(), Role: auth.RoleOwner},
		now:     start,
	}
	f.store.AddRoom(f.room, f.owner.ID)

	cfg := application.BookingServiceConfig{
		Currency:       "usd",
		Policy:         booking.DefaultPolicy,
		PaymentTimeout: 10 * time.Minute,
		RefundTimeout:  100 * time.Millisecond,
	}
	f.svc = application.NewBookingService(f.store, f.store, f.store, f.gateway, f.events, cfg, zap.NewNop()).
		WithClock(f.clock)
	f.webhooks = application.NewWebhookProcessor(f.store, f.gateway,
		adapter.NewStripeWebhookVerifier(webhookSecret), nil, f.events, zap.NewNop()).
		WithClock(f.clock)
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) setNow(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// day returns the calendar day n days after the fixture's start.
func day(n int) string {
	return booking.Day(start).AddDate(0, 0, n).Format(time.DateOnly)
}

func (f *fixture) create(t *testing.T, method string, from, nights int) *application.CreateBookingResult {
	t.Helper()
	res, err := f.svc.CreateBooking(context.Background(), f.client, application.CreateBookingRequest{
		RoomID:        f.room.ID,
		DateStart:     day(from),
		DateEnd:       day(from + nights),
		GuestsCount:   1,
		PaymentMethod: method,
	})
	require.NoError(t, err)
	return res
}

// createPaid creates a card booking and confirms it through a webhook.
func (f *fixture) createPaid(t *testing.T, from, nights int) (*application.CreateBookingResult, *adapter.PaymentIntent) {
	t.Helper()
	res := f.create(t, "card", from, nights)
	intent, err := f.gateway.CompleteCheckout(res.Booking.Payment.CheckoutSessionID)
	require.NoError(t, err)

	result, err := f.deliver(t, checkoutCompleted(t, "evt_"+uuid.NewString(), res.Booking, intent.ID, intent.AmountReceived))
	require.NoError(t, err)
	require.Equal(t, application.WebhookProcessed, result)
	return res, intent
}

func (f *fixture) deliver(t *testing.T, payload []byte) (string, error) {
	t.Helper()
	return f.webhooks.Process(context.Background(), payload, adapter.SignPayload(webhookSecret, payload, time.Now()))
}

func (f *fixture) stored(t *testing.T, id uuid.UUID) *booking.Booking {
	t.Helper()
	b := f.store.Get(id)
	require.NotNil(t, b)
	return b
}

func (f *fixture) errorCodes() []string {
	var codes []string
	for _, e := range f.store.PaymentErrors() {
		codes = append(codes, e.ErrorCode)
	}
	return codes
}

func gatewayEvent(t *testing.T, id, eventType string, object map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"api_version": "2023-10-16",
		"type":        eventType,
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return raw
}

func checkoutCompleted(t *testing.T, eventID string, b application.BookingDTO, intentID string, amount int64) []byte {
	t.Helper()
	return gatewayEvent(t, eventID, adapter.EventCheckoutCompleted, map[string]any{
		"id":                  b.Payment.CheckoutSessionID,
		"object":              "checkout.session",
		"payment_status":      "paid",
		"amount_total":        amount,
		"client_reference_id": b.ID.String(),
		"metadata":            map[string]string{"booking_id": b.ID.String()},
		"payment_intent":      intentID,
	})
}

func checkoutExpired(t *testing.T, eventID string, b application.BookingDTO) []byte {
	t.Helper()
	return gatewayEvent(t, eventID, adapter.EventCheckoutExpired, map[string]any{
		"id":                  b.Payment.CheckoutSessionID,
		"object":              "checkout.session",
		"payment_status":      "unpaid",
		"client_reference_id": b.ID.String(),
		"metadata":            map[string]string{"booking_id": b.ID.String()},
	})
}

func paymentFailed(t *testing.T, eventID string, b application.BookingDTO, intentID string) []byte {
	t.Helper()
	return gatewayEvent(t, eventID, adapter.EventPaymentFailed, map[string]any{
		"id":                 intentID,
		"object":             "payment_intent",
		"amount":             b.TotalPriceCents,
		"metadata":           map[string]string{"booking_id": b.ID.String()},
		"last_payment_error": map[string]any{"message": "Your card was declined."},
	})
}
