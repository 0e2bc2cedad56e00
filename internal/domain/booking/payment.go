package booking

import (
	"time"

	"github.com/google/uuid"
)

// Payment is the single active payment of a booking. It is only mutated through
// the owning Booking so that the status coupling cannot be broken.
type Payment struct {
	id                uuid.UUID
	bookingID         uuid.UUID
	amountCents       int64
	currency          string
	status            PaymentStatus
	method            PaymentMethod
	checkoutSessionID string
	externalPaymentID string
	paidAt            *time.Time
	refundAmountCents *int64
	refundedAt        *time.Time
	createdAt         time.Time
	updatedAt         time.Time
}

func newPayment(bookingID uuid.UUID, amountCents int64, currency string, method PaymentMethod, now time.Time) *Payment {
	return &Payment{
		id:          uuid.New(),
		bookingID:   bookingID,
		amountCents: amountCents,
		currency:    currency,
		status:      PaymentPending,
		method:      method,
		createdAt:   now,
		updatedAt:   now,
	}
}

func (p *Payment) ID() uuid.UUID             { return p.id }
func (p *Payment) BookingID() uuid.UUID      { return p.bookingID }
func (p *Payment) AmountCents() int64        { return p.amountCents }
func (p *Payment) Currency() string          { return p.currency }
func (p *Payment) Status() PaymentStatus     { return p.status }
func (p *Payment) Method() PaymentMethod     { return p.method }
func (p *Payment) CheckoutSessionID() string { return p.checkoutSessionID }
func (p *Payment) ExternalPaymentID() string { return p.externalPaymentID }
func (p *Payment) PaidAt() *time.Time        { return p.paidAt }
func (p *Payment) RefundAmountCents() *int64 { return p.refundAmountCents }
func (p *Payment) RefundedAt() *time.Time    { return p.refundedAt }
func (p *Payment) CreatedAt() time.Time      { return p.createdAt }
func (p *Payment) UpdatedAt() time.Time      { return p.updatedAt }
func (p *Payment) IsCard() bool              { return p.method == MethodCard }

// ReconstitutePayment rebuilds a Payment from persisted data.
func ReconstitutePayment(
	id, bookingID uuid.UUID,
	amountCents int64,
	currency string,
	status PaymentStatus,
	method PaymentMethod,
	checkoutSessionID, externalPaymentID string,
	paidAt *time.Time,
	refundAmountCents *int64,
	refundedAt *time.Time,
	createdAt, updatedAt time.Time,
) *Payment {
	return &Payment{
		id:                id,
		bookingID:         bookingID,
		amountCents:       amountCents,
		currency:          currency,
		status:            status,
		method:            method,
		checkoutSessionID: checkoutSessionID,
		externalPaymentID: externalPaymentID,
		paidAt:            paidAt,
		refundAmountCents: refundAmountCents,
		refundedAt:        refundedAt,
		createdAt:         createdAt,
		updatedAt:         updatedAt,
	}
}
