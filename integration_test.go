//go:build integration

package main_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staybook/service-booking/internal/adapter"
	"github.com/staybook/service-booking/internal/application"
	"github.com/staybook/service-booking/internal/domain/booking"
	bookingEvents "github.com/staybook/service-booking/internal/events"
	"github.com/staybook/service-booking/internal/repository"
	"github.com/staybook/service-booking/pkg/auth"
	"github.com/staybook/service-booking/pkg/domain"
)

func stayDates(fromDays, nights int) (string, string) {
	from := booking.Day(time.Now().UTC()).AddDate(0, 0, fromDays)
	return from.Format(time.DateOnly), from.AddDate(0, 0, nights).Format(time.DateOnly)
}

func checkoutCompletedPayload(t *testing.T, b application.BookingDTO, intent *adapter.PaymentIntent) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":     "evt_" + uuid.NewString(),
		"object": "event",
		"type":   adapter.EventCheckoutCompleted,
		"data": map[string]any{"object": map[string]any{
			"id":                  b.Payment.CheckoutSessionID,
			"object":              "checkout.session",
			"payment_status":      "paid",
			"amount_total":        intent.AmountReceived,
			"client_reference_id": b.ID.String(),
			"metadata":            map[string]string{"booking_id": b.ID.String()},
			"payment_intent":      intent.ID,
		}},
	})
	require.NoError(t, err)
	return raw
}

// TestCatalogSync_CardBookingConfirmedByWebhook verifies that a room announced
// on the catalog topic can be booked by card, and that the checkout webhook
// confirms it and publishes the lifecycle events.
func TestCatalogSync_CardBookingConfirmedByWebhook(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()

	stack := setupBookingStack(t, infra.DB, infra.KafkaBrokers)
	defer stack.Cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = stack.Consumer.Start(ctx) }()
	time.Sleep(3 * time.Second) // Wait for consumer group join.

	ownerID, hotelID, roomID := uuid.New(), uuid.New(), uuid.New()
	publishTestEvent(t, infra.KafkaBrokers, catalogTopic, "service-catalog", bookingEvents.HotelUpserted,
		bookingEvents.HotelUpsertedEvent{HotelID: hotelID, OwnerID: ownerID, Name: "Harbour View"})
	publishTestEvent(t, infra.KafkaBrokers, catalogTopic, "service-catalog", bookingEvents.RoomUpserted,
		bookingEvents.RoomUpsertedEvent{RoomID: roomID, HotelID: hotelID, PricePerNightCents: 15000, Places: 2})

	require.Eventually(t, func() bool {
		_, err := stack.Catalog.GetRoom(context.Background(), roomID)
		return err == nil
	}, 15*time.Second, 200*time.Millisecond, "room was not synced from the catalog topic")

	client := application.Actor{ID: uuid.New(), Role: auth.RoleClient}
	from, to := stayDates(10, 2)
	res, err := stack.Service.CreateBooking(context.Background(), client, application.CreateBookingRequest{
		RoomID:        roomID,
		DateStart:     from,
		DateEnd:       to,
		GuestsCount:   2,
		PaymentMethod: "card",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(30000), res.Booking.TotalPriceCents)
	assert.NotEmpty(t, res.CheckoutURL)

	created := consumeEvent(t, infra.KafkaBrokers, bookingTopic, bookingEvents.BookingCreated, res.Booking.ID, 15*time.Second)
	assert.Equal(t, "pending_payment", created.Status)

	intent, err := stack.Gateway.CompleteCheckout(res.Booking.Payment.CheckoutSessionID)
	require.NoError(t, err)
	payload := checkoutCompletedPayload(t, res.Booking, intent)

	result, err := stack.Webhooks.Process(context.Background(), payload, adapter.SignPayload(webhookSecret, payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, application.WebhookProcessed, result)

	result, err = stack.Webhooks.Process(context.Background(), payload, adapter.SignPayload(webhookSecret, payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, application.WebhookStale, result)

	confirmed := consumeEvent(t, infra.KafkaBrokers, bookingTopic, bookingEvents.BookingConfirmed, res.Booking.ID, 15*time.Second)
	assert.Equal(t, "paid", confirmed.PaymentStatus)
	require.NotNil(t, confirmed.PaidAt)

	var model repository.BookingModel
	require.NoError(t, infra.DB.Where("id = ?", res.Booking.ID).First(&model).Error)
	assert.Equal(t, "confirmed", model.Status)
	assert.Equal(t, int64(2), model.Version)
}

// TestConcurrentCreate_SingleWinner verifies that parallel requests for the
// same room and dates produce exactly one booking.
func TestConcurrentCreate_SingleWinner(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()

	stack := setupBookingStack(t, infra.DB, infra.KafkaBrokers)
	defer stack.Cleanup()

	room := seedRoom(t, stack.Catalog, uuid.New(), 10000)
	from, to := stayDates(5, 3)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
		others    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := stack.Service.CreateBooking(context.Background(),
				application.Actor{ID: uuid.New(), Role: auth.RoleClient},
				application.CreateBookingRequest{RoomID: room.ID, DateStart: from, DateEnd: to, GuestsCount: 1, PaymentMethod: "cash"})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, others)
	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, conflicts)

	var count int64
	infra.DB.Model(&repository.BookingModel{}).Where("room_id = ?", room.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

// TestSweep_ExpiresUnpaidCardHold verifies that the timeout sweep cancels a
// card booking whose checkout was never paid.
func TestSweep_ExpiresUnpaidCardHold(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()

	stack := setupBookingStack(t, infra.DB, infra.KafkaBrokers)
	defer stack.Cleanup()

	room := seedRoom(t, stack.Catalog, uuid.New(), 10000)
	from, to := stayDates(7, 1)
	res, err := stack.Service.CreateBooking(context.Background(),
		application.Actor{ID: uuid.New(), Role: auth.RoleClient},
		application.CreateBookingRequest{RoomID: room.ID, DateStart: from, DateEnd: to, GuestsCount: 1, PaymentMethod: "card"})
	require.NoError(t, err)

	early, err := stack.Scheduler.RunOnce(context.Background(), time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, early.ExpiredCard)

	swept, err := stack.Scheduler.RunOnce(context.Background(), time.Now().UTC().Add(11*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, swept.ExpiredCard)

	cancelled := consumeEvent(t, infra.KafkaBrokers, bookingTopic, bookingEvents.BookingCancelled, res.Booking.ID, 15*time.Second)
	assert.Equal(t, "failed", cancelled.PaymentStatus)
	assert.Equal(t, "expired", stack.Gateway.SessionStatus(res.Booking.Payment.CheckoutSessionID))

	// The dates are free again.
	_, err = stack.Service.CreateBooking(context.Background(),
		application.Actor{ID: uuid.New(), Role: auth.RoleClient},
		application.CreateBookingRequest{RoomID: room.ID, DateStart: from, DateEnd: to, GuestsCount: 1, PaymentMethod: "cash"})
	require.NoError(t, err)
}

// TestClientCancel_RefundsPaidBooking verifies the refund path against Postgres.
func TestClientCancel_RefundsPaidBooking(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()

	stack := setupBookingStack(t, infra.DB, infra.KafkaBrokers)
	defer stack.Cleanup()

	room := seedRoom(t, stack.Catalog, uuid.New(), 10000)
	client := application.Actor{ID: uuid.New(), Role: auth.RoleClient}
	from, to := stayDates(14, 2)
	res, err := stack.Service.CreateBooking(context.Background(), client,
		application.CreateBookingRequest{RoomID: room.ID, DateStart: from, DateEnd: to, GuestsCount: 1, PaymentMethod: "card"})
	require.NoError(t, err)

	intent, err := stack.Gateway.CompleteCheckout(res.Booking.Payment.CheckoutSessionID)
	require.NoError(t, err)
	payload := checkoutCompletedPayload(t, res.Booking, intent)
	result, err := stack.Webhooks.Process(context.Background(), payload, adapter.SignPayload(webhookSecret, payload, time.Now()))
	require.NoError(t, err)
	require.Equal(t, application.WebhookProcessed, result)

	dto, err := stack.Service.CancelBooking(context.Background(), client, res.Booking.ID, application.CancelBookingRequest{Reason: "change of plans"})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", dto.Status)
	assert.Equal(t, "refunded", dto.Payment.Status)
	require.NotNil(t, dto.Payment.RefundAmountCents)
	assert.Equal(t, int64(20000), *dto.Payment.RefundAmountCents)
	assert.Equal(t, int64(20000), stack.Gateway.RefundedAmount(intent.ID))

	var payment repository.PaymentModel
	require.NoError(t, infra.DB.Where("booking_id = ?", res.Booking.ID).First(&payment).Error)
	assert.Equal(t, "refunded", payment.Status)
}
