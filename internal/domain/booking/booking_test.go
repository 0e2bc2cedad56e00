package booking_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staybook/service-booking/internal/domain/booking"
	"github.com/staybook/service-booking/pkg/domain"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func testRoom() booking.Room {
	return booking.Room{
		ID:                 uuid.New(),
		HotelID:            uuid.New(),
		PricePerNightCents: 10000,
		Places:             2,
	}
}

func newCardBooking(t *testing.T) *booking.Booking {
	t.Helper()
	b, err := booking.NewBooking(booking.NewBookingParams{
		ClientID:          uuid.New(),
		Room:              testRoom(),
		DateStart:         testNow.AddDate(0, 0, 10),
		DateEnd:           testNow.AddDate(0, 0, 13),
		GuestsCount:       2,
		Method:            booking.MethodCard,
		Currency:          "usd",
		CheckoutSessionID: "cs_test_1",
	}, testNow)
	require.NoError(t, err)
	return b
}

func newCashBooking(t *testing.T) *booking.Booking {
	t.Helper()
	b, err := booking.NewBooking(booking.NewBookingParams{
		ClientID:    uuid.New(),
		Room:        testRoom(),
		DateStart:   testNow.AddDate(0, 0, 10),
		DateEnd:     testNow.AddDate(0, 0, 12),
		GuestsCount: 1,
		Method:      booking.MethodCash,
		Currency:    "usd",
	}, testNow)
	require.NoError(t, err)
	return b
}

func assertCoupled(t *testing.T, b *booking.Booking) {
	t.Helper()
	assert.NoError(t, booking.CheckCoupling(b.Status(), b.Payment().Status()))
}

func TestNewBooking_Card(t *testing.T) {
	b := newCardBooking(t)

	assert.Equal(t, booking.StatusPendingPayment, b.Status())
	assert.Equal(t, 3, b.Nights())
	assert.Equal(t, int64(30000), b.TotalPriceCents())
	assert.Equal(t, b.TotalPriceCents(), b.Payment().AmountCents())
	assert.Equal(t, booking.PaymentPending, b.Payment().Status())
	assert.Equal(t, "cs_test_1", b.Payment().CheckoutSessionID())
	assert.Equal(t, int64(1), b.Version())
	assert.Equal(t, time.UTC, b.DateStart().Location())
	assert.Equal(t, 0, b.DateStart().Hour())
	assertCoupled(t, b)
}

func TestNewBooking_Cash(t *testing.T) {
	b := newCashBooking(t)

	assert.Equal(t, booking.StatusAwaitingConfirmation, b.Status())
	assert.Equal(t, booking.MethodCash, b.Payment().Method())
	assertCoupled(t, b)
}

func TestNewBooking_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *booking.NewBookingParams)
	}{
		{"end before start", func(p *booking.NewBookingParams) { p.DateEnd = p.DateStart.AddDate(0, 0, -1) }},
		{"same day", func(p *booking.NewBookingParams) { p.DateEnd = p.DateStart }},
		{"no guests", func(p *booking.NewBookingParams) { p.GuestsCount = 0 }},
		{"over capacity", func(p *booking.NewBookingParams) { p.GuestsCount = 3 }},
		{"no price", func(p *booking.NewBookingParams) { p.Room.PricePerNightCents = 0 }},
		{"unknown method", func(p *booking.NewBookingParams) { p.Method = "crypto" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := booking.NewBookingParams{
				ClientID:    uuid.New(),
				Room:        testRoom(),
				DateStart:   testNow.AddDate(0, 0, 5),
				DateEnd:     testNow.AddDate(0, 0, 7),
				GuestsCount: 1,
				Method:      booking.MethodCard,
			}
			tt.mutate(&p)

			_, err := booking.NewBooking(p, testNow)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestMarkPaid(t *testing.T) {
	b := newCardBooking(t)
	paidAt := testNow.Add(time.Minute)

	require.NoError(t, b.MarkPaid("pi_123", 30000, paidAt))

	assert.Equal(t, booking.StatusConfirmed, b.Status())
	assert.Equal(t, booking.PaymentPaid, b.Payment().Status())
	assert.Equal(t, "pi_123", b.Payment().ExternalPaymentID())
	require.NotNil(t, b.Payment().PaidAt())
	assert.True(t, paidAt.Equal(*b.Payment().PaidAt()))
	assertCoupled(t, b)
}

func TestMarkPaid_SecondDeliveryIsStale(t *testing.T) {
	b := newCardBooking(t)
	require.NoError(t, b.MarkPaid("pi_123", 30000, testNow))

	err := b.MarkPaid("pi_123", 30000, testNow.Add(time.Second))

	assert.ErrorIs(t, err, domain.ErrStaleTransition)
	assert.Equal(t, booking.StatusConfirmed, b.Status())
}

func TestMarkPaid_AmountMismatch(t *testing.T) {
	b := newCardBooking(t)

	err := b.MarkPaid("pi_123", 29999, testNow)

	assert.True(t, errors.Is(err, booking.ErrAmountMismatch))
	assert.Equal(t, booking.StatusPendingPayment, b.Status())
	assert.Equal(t, booking.PaymentPending, b.Payment().Status())
}

func TestMarkPaid_CashBookingIsStale(t *testing.T) {
	b := newCashBooking(t)

	err := b.MarkPaid("pi_123", b.TotalPriceCents(), testNow)

	assert.ErrorIs(t, err, domain.ErrStaleTransition)
	assert.Equal(t, booking.StatusAwaitingConfirmation, b.Status())
}

func TestRecordPaymentFailure_KeepsBookingPending(t *testing.T) {
	b := newCardBooking(t)

	require.NoError(t, b.RecordPaymentFailure("pi_failed", testNow))

	assert.Equal(t, booking.StatusPendingPayment, b.Status())
	assert.Equal(t, booking.PaymentFailed, b.Payment().Status())
	assertCoupled(t, b)

	// A retry inside the same session can still succeed.
	require.NoError(t, b.MarkPaid("pi_retry", 30000, testNow.Add(time.Minute)))
	assert.Equal(t, booking.StatusConfirmed, b.Status())
}

func TestRecordPaymentFailure_Repeated(t *testing.T) {
	b := newCardBooking(t)
	require.NoError(t, b.RecordPaymentFailure("", testNow))

	assert.ErrorIs(t, b.RecordPaymentFailure("", testNow), domain.ErrStaleTransition)
}

func TestConfirmCash(t *testing.T) {
	b := newCashBooking(t)

	require.NoError(t, b.ConfirmCash(testNow))

	assert.Equal(t, booking.StatusConfirmed, b.Status())
	assert.Equal(t, booking.PaymentPaid, b.Payment().Status())
	assert.NotNil(t, b.Payment().PaidAt())
	assertCoupled(t, b)

	assert.ErrorIs(t, b.ConfirmCash(testNow), domain.ErrStaleTransition)
}

func TestConfirmCash_RejectsCard(t *testing.T) {
	b := newCardBooking(t)

	assert.ErrorIs(t, b.ConfirmCash(testNow), domain.ErrInvalidState)
}

func TestCancelUnpaid(t *testing.T) {
	for _, b := range []*booking.Booking{newCardBooking(t), newCashBooking(t)} {
		require.NoError(t, b.CancelUnpaid("timeout", testNow))

		assert.Equal(t, booking.StatusCancelled, b.Status())
		assert.Equal(t, booking.PaymentFailed, b.Payment().Status())
		assert.Equal(t, "timeout", b.CancelReason())
		assertCoupled(t, b)

		assert.ErrorIs(t, b.CancelUnpaid("again", testNow), domain.ErrStaleTransition)
	}
}

func TestCancelUnpaid_RejectsConfirmed(t *testing.T) {
	b := newCashBooking(t)
	require.NoError(t, b.ConfirmCash(testNow))

	assert.ErrorIs(t, b.CancelUnpaid("x", testNow), domain.ErrInvalidState)
	assert.Equal(t, booking.StatusConfirmed, b.Status())
}

func TestCancelWithRefund(t *testing.T) {
	b := newCardBooking(t)
	require.NoError(t, b.MarkPaid("pi_1", 30000, testNow))

	require.NoError(t, b.CancelWithRefund(12857, "client request", testNow))

	assert.Equal(t, booking.StatusCancelled, b.Status())
	assert.Equal(t, booking.PaymentRefunded, b.Payment().Status())
	require.NotNil(t, b.Payment().RefundAmountCents())
	assert.Equal(t, int64(12857), *b.Payment().RefundAmountCents())
	assert.NotNil(t, b.Payment().RefundedAt())
	assertCoupled(t, b)
}

func TestCancelWithRefund_Guards(t *testing.T) {
	pending := newCardBooking(t)
	assert.ErrorIs(t, pending.CancelWithRefund(100, "x", testNow), domain.ErrInvalidState)

	paid := newCardBooking(t)
	require.NoError(t, paid.MarkPaid("pi_1", 30000, testNow))
	assert.ErrorIs(t, paid.CancelWithRefund(30001, "x", testNow), domain.ErrValidation)
	assert.ErrorIs(t, paid.CancelWithRefund(0, "x", testNow), domain.ErrValidation)
	assert.Equal(t, booking.StatusConfirmed, paid.Status())
}

func TestComplete(t *testing.T) {
	b := newCashBooking(t)
	assert.ErrorIs(t, b.Complete(testNow), domain.ErrInvalidState)

	require.NoError(t, b.ConfirmCash(testNow))
	require.NoError(t, b.Complete(testNow))

	assert.Equal(t, booking.StatusCompleted, b.Status())
	assert.Equal(t, booking.PaymentPaid, b.Payment().Status())
	assertCoupled(t, b)

	assert.ErrorIs(t, b.Complete(testNow), domain.ErrStaleTransition)
}

func TestTerminalStatesRejectTransitions(t *testing.T) {
	b := newCashBooking(t)
	require.NoError(t, b.CancelUnpaid("owner", testNow))

	assert.Error(t, b.ConfirmCash(testNow))
	assert.Error(t, b.Complete(testNow))
	assert.Error(t, b.MarkPaid("pi", b.TotalPriceCents(), testNow))
	assert.Equal(t, booking.StatusCancelled, b.Status())
}

func TestArchive(t *testing.T) {
	b := newCashBooking(t)
	assert.ErrorIs(t, b.Archive(testNow), domain.ErrInvalidState)

	require.NoError(t, b.CancelUnpaid("owner", testNow))
	require.NoError(t, b.Archive(testNow))
	assert.True(t, b.Archived())

	assert.ErrorIs(t, b.Archive(testNow), domain.ErrStaleTransition)
}

func TestCheckCoupling(t *testing.T) {
	allowed := map[booking.Status][]booking.PaymentStatus{
		booking.StatusPendingPayment:       {booking.PaymentPending, booking.PaymentFailed},
		booking.StatusAwaitingConfirmation: {booking.PaymentPending},
		booking.StatusConfirmed:            {booking.PaymentPaid},
		booking.StatusCompleted:            {booking.PaymentPaid},
		booking.StatusCancelled:            {booking.PaymentFailed, booking.PaymentRefunded},
	}
	all := []booking.PaymentStatus{booking.PaymentPending, booking.PaymentPaid, booking.PaymentFailed, booking.PaymentRefunded}

	for s, ok := range allowed {
		for _, p := range all {
			err := booking.CheckCoupling(s, p)
			if contains(ok, p) {
				assert.NoError(t, err, "%s/%s", s, p)
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalidState, "%s/%s", s, p)
			}
		}
	}
}

func TestParseStatus(t *testing.T) {
	s, err := booking.ParseStatus("confirmed")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, s)

	_, err = booking.ParseStatus("CONFIRMED")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = booking.ParsePaymentStatus("charged")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func contains(list []booking.PaymentStatus, p booking.PaymentStatus) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}
