package booking

import (
	"time"

	"github.com/google/uuid"
)

// Error codes written to the payment error log.
const (
	ErrorCodePaymentFailed   = "payment_failed"
	ErrorCodeAmountMismatch  = "amount_mismatch"
	ErrorCodeLatePayment     = "late_payment"
	ErrorCodeRefundFailed    = "refund_failed"
	ErrorCodeRefundTimeout   = "refund_timeout"
	ErrorCodeGatewayRejected = "gateway_rejected"
	ErrorCodeIntentMismatch  = "intent_mismatch"
)

// PaymentError is an append-only audit entry for gateway and refund failures.
type PaymentError struct {
	ID           uuid.UUID
	PaymentID    uuid.UUID
	ErrorCode    string
	ErrorMessage string
	OccurredAt   time.Time
}

// NewPaymentError stamps a new log entry.
func NewPaymentError(paymentID uuid.UUID, code, message string, at time.Time) *PaymentError {
	return &PaymentError{
		ID:           uuid.New(),
		PaymentID:    paymentID,
		ErrorCode:    code,
		ErrorMessage: message,
		OccurredAt:   at.UTC(),
	}
}
