package adapter

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Payment intent statuses the lifecycle cares about.
const (
	IntentSucceeded     = "succeeded"
	IntentProcessing    = "processing"
	IntentRequiresRetry = "requires_payment_method"
	IntentCanceled      = "canceled"
)

// Refund statuses.
const (
	RefundSucceeded = "succeeded"
	RefundPending   = "pending"
	RefundFailed    = "failed"
)

// CheckoutSessionRequest describes the hosted payment page for one booking.
type CheckoutSessionRequest struct {
	BookingID         uuid.UUID
	AmountCents       int64
	Currency          string
	Description       string
	CustomerRef       string
	MerchantAccountID string
	ExpiresAt         time.Time
	IdempotencyKey    string
}

// CheckoutSession is a hosted payment page.
type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// PaymentIntent is the gateway's view of a card charge.
type PaymentIntent struct {
	ID             string
	Status         string
	AmountReceived int64
	Currency       string
	BookingID      string
}

// RefundRequest refunds part or all of a payment intent.
type RefundRequest struct {
	PaymentIntentID string
	AmountCents     int64
	Reason          string
	IdempotencyKey  string
}

// Refund is the gateway's answer to a refund request.
type Refund struct {
	ID          string
	Status      string
	AmountCents int64
}

// MerchantAccountStatus tells whether a connected account can take payments.
type MerchantAccountStatus struct {
	AccountID        string `json:"account_id"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
}

// PaymentGateway is the anti-corruption layer over the card processor.
// Every method blocks on network I/O and must not be called while a booking row
// lock is held. Errors are domain gateway errors that report whether a retry
// with the same idempotency key may succeed.
type PaymentGateway interface {
	// CreateCheckoutSession opens a hosted payment page for a booking.
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)

	// ExpireCheckoutSession closes an open payment page so it can no longer be paid.
	ExpireCheckoutSession(ctx context.Context, sessionID string) error

	// RetrievePaymentIntent reads the current state of a charge.
	RetrievePaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error)

	// CreateRefund refunds a captured charge.
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)

	// GetMerchantAccountStatus reads the state of a connected merchant account.
	GetMerchantAccountStatus(ctx context.Context, accountID string) (*MerchantAccountStatus, error)
}

// CheckoutIdempotencyKey derives the key of the checkout session of a booking.
func CheckoutIdempotencyKey(bookingID uuid.UUID) string {
	return "checkout-" + bookingID.String()
}

// RefundIdempotencyKey derives the key of the refund of a booking. A booking
// has at most one refund, so the first attempt fixes the amount: a retry with
// another amount inside the gateway's 24h key window is rejected rather than
// refunding twice after a lost response.
func RefundIdempotencyKey(bookingID uuid.UUID) string {
	return "refund-" + bookingID.String()
}
