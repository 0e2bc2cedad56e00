package adapter

import (
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/staybook/service-booking/pkg/domain"
)

// Gateway event types the lifecycle reacts to.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
	EventPaymentFailed     = "payment_intent.payment_failed"
)

// CheckoutPaid is the payment_status of a checkout session that collected funds.
const CheckoutPaid = "paid"

// SignatureHeader is the HTTP header carrying the webhook signature.
const SignatureHeader = "Stripe-Signature"

// WebhookEvent is a verified gateway event reduced to what the lifecycle needs.
type WebhookEvent struct {
	ID                string
	Type              string
	BookingID         string
	CheckoutSessionID string
	PaymentIntentID   string
	PaymentStatus     string
	AmountTotal       int64
	FailureMessage    string
}

// WebhookVerifier authenticates and decodes webhook payloads.
type WebhookVerifier interface {
	Verify(payload []byte, signatureHeader string) (*WebhookEvent, error)
}

// StripeWebhookVerifier checks the Stripe-Signature header against the endpoint secret.
type StripeWebhookVerifier struct {
	secret string
}

// NewStripeWebhookVerifier creates a verifier for one endpoint secret.
func NewStripeWebhookVerifier(secret string) *StripeWebhookVerifier {
	return &StripeWebhookVerifier{secret: secret}
}

// Verify rejects payloads with a missing, stale or forged signature with a
// WebhookSignatureError. Events of other types are returned with only ID and Type.
func (v *StripeWebhookVerifier) Verify(payload []byte, signatureHeader string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, domain.NewWebhookSignatureError(err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return out, nil
	}

	switch out.Type {
	case EventCheckoutCompleted, EventCheckoutExpired:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, domain.NewValidationError("malformed checkout session in event %s: %v", event.ID, err)
		}
		out.CheckoutSessionID = s.ID
		out.PaymentStatus = string(s.PaymentStatus)
		out.AmountTotal = s.AmountTotal
		out.BookingID = s.Metadata["booking_id"]
		if out.BookingID == "" {
			out.BookingID = s.ClientReferenceID
		}
		if s.PaymentIntent != nil {
			out.PaymentIntentID = s.PaymentIntent.ID
		}

	case EventPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, domain.NewValidationError("malformed payment intent in event %s: %v", event.ID, err)
		}
		out.PaymentIntentID = pi.ID
		out.BookingID = pi.Metadata["booking_id"]
		out.AmountTotal = pi.Amount
		if pi.LastPaymentError != nil {
			out.FailureMessage = pi.LastPaymentError.Msg
		}
	}
	return out, nil
}

// SignPayload builds a Stripe-Signature header value for payload. It is the
// counterpart of Verify for local tooling and tests.
func SignPayload(secret string, payload []byte, at time.Time) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	})
	return signed.Header
}
