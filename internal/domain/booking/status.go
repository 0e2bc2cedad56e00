package booking

import (
	"fmt"

	"github.com/staybook/service-booking/pkg/domain"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusPendingPayment       Status = "pending_payment"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusConfirmed            Status = "confirmed"
	StatusCompleted            Status = "completed"
	StatusCancelled            Status = "cancelled"
)

// ActiveStatuses are the statuses that hold a room for their date range.
var ActiveStatuses = []Status{StatusPendingPayment, StatusAwaitingConfirmation, StatusConfirmed}

// IsActive reports whether the booking still occupies its room.
func (s Status) IsActive() bool {
	return s == StatusPendingPayment || s == StatusAwaitingConfirmation || s == StatusConfirmed
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParseStatus rejects anything outside the closed set.
func ParseStatus(v string) (Status, error) {
	switch s := Status(v); s {
	case StatusPendingPayment, StatusAwaitingConfirmation, StatusConfirmed, StatusCompleted, StatusCancelled:
		return s, nil
	}
	return "", domain.NewValidationError("unknown booking status %q", v)
}

// PaymentStatus is the state of the payment attached to a booking.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// ParsePaymentStatus rejects anything outside the closed set.
func ParsePaymentStatus(v string) (PaymentStatus, error) {
	switch s := PaymentStatus(v); s {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return s, nil
	}
	return "", domain.NewValidationError("unknown payment status %q", v)
}

// PaymentMethod is how the client pays.
type PaymentMethod string

const (
	MethodCard PaymentMethod = "card"
	MethodCash PaymentMethod = "cash"
)

// ParsePaymentMethod rejects anything outside the closed set.
func ParsePaymentMethod(v string) (PaymentMethod, error) {
	switch m := PaymentMethod(v); m {
	case MethodCard, MethodCash:
		return m, nil
	}
	return "", domain.NewValidationError("unknown payment method %q", v)
}

// InitialStatus is the status a freshly created booking starts in.
func (m PaymentMethod) InitialStatus() Status {
	if m == MethodCash {
		return StatusAwaitingConfirmation
	}
	return StatusPendingPayment
}

// coupling lists every payment status allowed next to a booking status.
// pending_payment tolerates a failed payment: the client may retry inside the
// same checkout session until the timeout sweep cancels the booking.
var coupling = map[Status][]PaymentStatus{
	StatusPendingPayment:       {PaymentPending, PaymentFailed},
	StatusAwaitingConfirmation: {PaymentPending},
	StatusConfirmed:            {PaymentPaid},
	StatusCompleted:            {PaymentPaid},
	StatusCancelled:            {PaymentFailed, PaymentRefunded},
}

// CheckCoupling returns an error when the pair is outside the coupling table.
func CheckCoupling(s Status, p PaymentStatus) error {
	for _, allowed := range coupling[s] {
		if allowed == p {
			return nil
		}
	}
	return fmt.Errorf("%w: booking %s with payment %s", domain.ErrInvalidState, s, p)
}
