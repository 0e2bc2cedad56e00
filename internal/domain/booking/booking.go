// Package booking is the aggregate owning the booking/payment state machine.
package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/staybook/service-booking/pkg/domain"
)

// ErrAmountMismatch is returned when the gateway reports a different amount than the booking total.
var ErrAmountMismatch = domain.NewValidationError("paid amount does not match booking total")

// Booking is the aggregate root. Its Payment is owned by it and every transition
// moves both statuses together.
type Booking struct {
	id              uuid.UUID
	clientID        uuid.UUID
	roomID          uuid.UUID
	hotelID         uuid.UUID
	dateStart       time.Time
	dateEnd         time.Time
	guestsCount     int
	totalPriceCents int64
	status          Status
	archived        bool
	cancelReason    string
	version         int64
	createdAt       time.Time
	updatedAt       time.Time
	payment         *Payment
}

// NewBookingParams carries everything needed to open a booking.
type NewBookingParams struct {
	ID                uuid.UUID
	ClientID          uuid.UUID
	Room              Room
	DateStart         time.Time
	DateEnd           time.Time
	GuestsCount       int
	Method            PaymentMethod
	Currency          string
	CheckoutSessionID string
}

// NewBooking creates a booking and its payment. Dates are normalised to UTC days.
func NewBooking(p NewBookingParams, now time.Time) (*Booking, error) {
	start, end := Day(p.DateStart), Day(p.DateEnd)
	if !start.Before(end) {
		return nil, domain.NewValidationError("date_end must be after date_start")
	}
	if p.GuestsCount < 1 {
		return nil, domain.NewValidationError("guests_count must be at least 1")
	}
	if p.Room.Places > 0 && p.GuestsCount > p.Room.Places {
		return nil, domain.NewValidationError("room fits at most %d guests", p.Room.Places)
	}
	if p.Room.PricePerNightCents <= 0 {
		return nil, domain.NewValidationError("room has no nightly price")
	}
	if _, err := ParsePaymentMethod(string(p.Method)); err != nil {
		return nil, err
	}

	id := p.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now = now.UTC()
	total := TotalPrice(p.Room.PricePerNightCents, start, end)

	b := &Booking{
		id:              id,
		clientID:        p.ClientID,
		roomID:          p.Room.ID,
		hotelID:         p.Room.HotelID,
		dateStart:       start,
		dateEnd:         end,
		guestsCount:     p.GuestsCount,
		totalPriceCents: total,
		status:          p.Method.InitialStatus(),
		version:         1,
		createdAt:       now,
		updatedAt:       now,
	}
	b.payment = newPayment(id, total, p.Currency, p.Method, now)
	b.payment.checkoutSessionID = p.CheckoutSessionID
	return b, nil
}

// --- Getters ---

func (b *Booking) ID() uuid.UUID          { return b.id }
func (b *Booking) ClientID() uuid.UUID    { return b.clientID }
func (b *Booking) RoomID() uuid.UUID      { return b.roomID }
func (b *Booking) HotelID() uuid.UUID     { return b.hotelID }
func (b *Booking) DateStart() time.Time   { return b.dateStart }
func (b *Booking) DateEnd() time.Time     { return b.dateEnd }
func (b *Booking) GuestsCount() int       { return b.guestsCount }
func (b *Booking) TotalPriceCents() int64 { return b.totalPriceCents }
func (b *Booking) Status() Status         { return b.status }
func (b *Booking) Archived() bool         { return b.archived }
func (b *Booking) CancelReason() string   { return b.cancelReason }
func (b *Booking) Version() int64         { return b.version }
func (b *Booking) CreatedAt() time.Time   { return b.createdAt }
func (b *Booking) UpdatedAt() time.Time   { return b.updatedAt }
func (b *Booking) Payment() *Payment      { return b.payment }
func (b *Booking) Nights() int            { return Nights(b.dateStart, b.dateEnd) }

// --- Transitions ---

// MarkPaid confirms a card booking after the gateway reported a successful payment.
func (b *Booking) MarkPaid(externalPaymentID string, amountCents int64, now time.Time) error {
	if b.status != StatusPendingPayment || !b.payment.IsCard() {
		return domain.NewStaleTransitionError(b.id.String(), string(b.status), "payment success")
	}
	if amountCents != b.payment.amountCents {
		return ErrAmountMismatch
	}
	now = now.UTC()
	b.payment.externalPaymentID = externalPaymentID
	b.payment.paidAt = &now
	return b.transition(StatusConfirmed, PaymentPaid, now)
}

// RecordPaymentFailure marks the card payment failed. The booking keeps waiting
// for a retry until the timeout sweep cancels it.
func (b *Booking) RecordPaymentFailure(externalPaymentID string, now time.Time) error {
	if b.status != StatusPendingPayment || !b.payment.IsCard() || b.payment.status == PaymentFailed {
		return domain.NewStaleTransitionError(b.id.String(), string(b.status), "payment failure")
	}
	if externalPaymentID != "" {
		b.payment.externalPaymentID = externalPaymentID
	}
	return b.transition(StatusPendingPayment, PaymentFailed, now)
}

// ConfirmCash is the owner confirming a cash booking.
func (b *Booking) ConfirmCash(now time.Time) error {
	if b.status == StatusConfirmed {
		return domain.NewStaleTransitionError(b.id.String(), string(b.status), "confirmation")
	}
	if b.status != StatusAwaitingConfirmation || b.payment.IsCard() {
		return domain.NewInvalidStateError(string(b.status), string(StatusConfirmed))
	}
	now = now.UTC()
	b.payment.paidAt = &now
	return b.transition(StatusConfirmed, PaymentPaid, now)
}

// CancelUnpaid cancels a booking whose payment never settled.
func (b *Booking) CancelUnpaid(reason string, now time.Time) error {
	if b.status == StatusCancelled {
		return domain.NewStaleTransitionError(b.id.String(), string(b.status), "cancellation")
	}
	if b.status != StatusPendingPayment && b.status != StatusAwaitingConfirmation {
		return domain.NewInvalidStateError(string(b.status), string(StatusCancelled))
	}
	b.cancelReason = reason
	return b.transition(StatusCancelled, PaymentFailed, now)
}

// CancelWithRefund cancels a confirmed booking once its refund went through.
func (b *Booking) CancelWithRefund(refundCents int64, reason string, now time.Time) error {
	if b.status == StatusCancelled {
		return domain.NewStaleTransitionError(b.id.String(), string(b.status), "refund")
	}
	if b.status != StatusConfirmed {
		return domain.NewInvalidStateError(string(b.status), string(StatusCancelled))
	}
	if err := ValidateManualRefund(b.payment, refundCents); err != nil {
		return err
	}
	now = now.UTC()
	b.payment.refundAmountCents = &refundCents
	b.payment.refundedAt = &now
	b.cancelReason = reason
	return b.transition(StatusCancelled, PaymentRefunded, now)
}

// Complete closes a confirmed stay.
func (b *Booking) Complete(now time.Time) error {
	if b.status == StatusCompleted {
		return domain.NewStaleTransitionError(b.id.String(), string(b.status), "completion")
	}
	if b.status != StatusConfirmed {
		return domain.NewInvalidStateError(string(b.status), string(StatusCompleted))
	}
	return b.transition(StatusCompleted, PaymentPaid, now)
}

// Archive hides a finished booking from the default listing.
func (b *Booking) Archive(now time.Time) error {
	if !b.status.IsTerminal() {
		return domain.NewInvalidStateError(string(b.status), "archived")
	}
	if b.archived {
		return domain.NewStaleTransitionError(b.id.String(), string(b.status), "archival")
	}
	b.archived = true
	b.updatedAt = now.UTC()
	return nil
}

// IncrementVersion bumps the version for optimistic locking.
func (b *Booking) IncrementVersion() {
	b.version++
}

func (b *Booking) transition(to Status, paymentTo PaymentStatus, now time.Time) error {
	if err := CheckCoupling(to, paymentTo); err != nil {
		return err
	}
	now = now.UTC()
	b.status = to
	b.updatedAt = now
	b.payment.status = paymentTo
	b.payment.updatedAt = now
	return nil
}

// ReconstituteBooking rebuilds a Booking from persisted data.
func ReconstituteBooking(
	id, clientID, roomID, hotelID uuid.UUID,
	dateStart, dateEnd time.Time,
	guestsCount int,
	totalPriceCents int64,
	status Status,
	archived bool,
	cancelReason string,
	version int64,
	createdAt, updatedAt time.Time,
	payment *Payment,
) *Booking {
	return &Booking{
		id:              id,
		clientID:        clientID,
		roomID:          roomID,
		hotelID:         hotelID,
		dateStart:       Day(dateStart),
		dateEnd:         Day(dateEnd),
		guestsCount:     guestsCount,
		totalPriceCents: totalPriceCents,
		status:          status,
		archived:        archived,
		cancelReason:    cancelReason,
		version:         version,
		createdAt:       createdAt,
		updatedAt:       updatedAt,
		payment:         payment,
	}
}
