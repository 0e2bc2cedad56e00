package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/staybook/service-booking/internal/adapter"
	"github.com/staybook/service-booking/internal/domain/booking"
	"github.com/staybook/service-booking/internal/events"
	"github.com/staybook/service-booking/internal/metrics"
	"github.com/staybook/service-booking/pkg/domain"
)

// Webhook outcomes. Every outcome is acknowledged to the gateway.
const (
	WebhookProcessed = "processed"
	WebhookIgnored   = "ignored"
	WebhookDuplicate = "duplicate"
	WebhookStale     = "stale"
)

// EventDeduplicator remembers gateway event ids whose delivery was
// acknowledged. An id is recorded only after its outcome is committed, so a
// delivery that dies mid-way is processed again on redelivery.
type EventDeduplicator interface {
	Processed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

// WebhookProcessor applies verified gateway events to bookings. Re-deliveries
// are safe: the state machine turns every repeated transition into a stale
// no-op, and the optional deduplicator only short-circuits the common case.
type WebhookProcessor struct {
	uow       booking.UnitOfWork
	gateway   adapter.PaymentGateway
	verifier  adapter.WebhookVerifier
	dedup     EventDeduplicator
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewWebhookProcessor creates a processor. dedup may be nil.
func NewWebhookProcessor(
	uow booking.UnitOfWork,
	gateway adapter.PaymentGateway,
	verifier adapter.WebhookVerifier,
	dedup EventDeduplicator,
	publisher EventPublisher,
	logger *zap.Logger,
) *WebhookProcessor {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &WebhookProcessor{
		uow:       uow,
		gateway:   gateway,
		verifier:  verifier,
		dedup:     dedup,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (p *WebhookProcessor) WithClock(now func() time.Time) *WebhookProcessor {
	p.now = now
	return p
}

// Process verifies and applies one delivery. A returned error means the
// delivery must not be acknowledged: a bad signature or payload, or a failure
// that a redelivery may get past.
func (p *WebhookProcessor) Process(ctx context.Context, payload []byte, signature string) (string, error) {
	ev, err := p.verifier.Verify(payload, signature)
	if err != nil {
		p.logger.Warn("webhook rejected", zap.Error(err))
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		return "", err
	}

	log := p.logger.With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.Type),
		zap.String("booking_id", ev.BookingID),
	)

	switch ev.Type {
	case adapter.EventCheckoutCompleted, adapter.EventCheckoutExpired, adapter.EventPaymentFailed:
	default:
		log.Debug("webhook event type not handled")
		metrics.WebhookEvents.WithLabelValues(ev.Type, WebhookIgnored).Inc()
		return WebhookIgnored, nil
	}

	if p.dedup != nil {
		seen, err := p.dedup.Processed(ctx, ev.ID)
		switch {
		case err != nil:
			log.Warn("webhook dedup unavailable, relying on state guards", zap.Error(err))
		case seen:
			log.Info("duplicate webhook delivery")
			metrics.WebhookEvents.WithLabelValues(ev.Type, WebhookDuplicate).Inc()
			return WebhookDuplicate, nil
		}
	}

	result, err := p.dispatch(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrStaleTransition):
		log.Debug("webhook acknowledged as stale", zap.Error(err))
		result = WebhookStale
	case retryable(err):
		log.Warn("webhook processing failed, awaiting redelivery", zap.Error(err))
		metrics.WebhookEvents.WithLabelValues(ev.Type, "failed").Inc()
		return "", err
	default:
		log.Warn("webhook event ignored", zap.Error(err))
		result = WebhookIgnored
	}

	if p.dedup != nil {
		if err := p.dedup.MarkProcessed(context.WithoutCancel(ctx), ev.ID); err != nil {
			log.Warn("failed to record processed webhook", zap.Error(err))
		}
	}
	metrics.WebhookEvents.WithLabelValues(ev.Type, result).Inc()
	return result, nil
}

func (p *WebhookProcessor) dispatch(ctx context.Context, ev *adapter.WebhookEvent) (string, error) {
	bookingID, err := uuid.Parse(ev.BookingID)
	if err != nil {
		return "", domain.NewValidationError("event %s carries no booking id", ev.ID)
	}

	switch ev.Type {
	case adapter.EventCheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, bookingID, ev)
	case adapter.EventPaymentFailed:
		return p.handlePaymentFailed(ctx, bookingID, ev)
	default:
		return p.handleCheckoutExpired(ctx, bookingID, ev)
	}
}

// handleCheckoutCompleted confirms a card booking once the charge is verified
// at the gateway. Payments that arrive for a cancelled booking, or with the
// wrong amount or session, are logged for manual reconciliation.
func (p *WebhookProcessor) handleCheckoutCompleted(ctx context.Context, bookingID uuid.UUID, ev *adapter.WebhookEvent) (string, error) {
	if ev.PaymentStatus != adapter.CheckoutPaid {
		return WebhookIgnored, nil
	}

	b, err := loadBooking(ctx, p.uow, bookingID)
	if err != nil {
		return "", err
	}
	pay := b.Payment()

	if b.Status() == booking.StatusCancelled && pay.IsCard() {
		p.logger.Error("payment received for a cancelled booking",
			zap.String("booking_id", bookingID.String()),
			zap.String("payment_intent_id", ev.PaymentIntentID),
			zap.Int64("amount_cents", ev.AmountTotal),
		)
		p.recordPaymentError(ctx, pay.ID(), booking.ErrorCodeLatePayment,
			fmt.Sprintf("payment %s of %d received after cancellation", ev.PaymentIntentID, ev.AmountTotal))
		return WebhookStale, nil
	}
	if b.Status() != booking.StatusPendingPayment {
		return "", domain.NewStaleTransitionError(bookingID.String(), string(b.Status()), "payment success")
	}
	if ev.CheckoutSessionID != pay.CheckoutSessionID() {
		p.recordPaymentError(ctx, pay.ID(), booking.ErrorCodeIntentMismatch,
			fmt.Sprintf("event session %s does not match booking session %s", ev.CheckoutSessionID, pay.CheckoutSessionID()))
		return WebhookIgnored, nil
	}

	intent, err := p.gateway.RetrievePaymentIntent(ctx, ev.PaymentIntentID)
	if err != nil {
		metrics.GatewayFailure(adapter.OpRetrieveIntent, domain.IsTransient(err))
		return "", err
	}
	if intent.Status != adapter.IntentSucceeded {
		p.logger.Warn("checkout completed but payment intent did not succeed",
			zap.String("booking_id", bookingID.String()),
			zap.String("intent_status", intent.Status),
		)
		return WebhookIgnored, nil
	}

	now := p.now()
	var (
		confirmed *booking.Booking
		outcome   = WebhookProcessed
	)
	err = p.uow.Do(ctx, func(ctx context.Context, tx booking.Tx) error {
		confirmed, outcome = nil, WebhookProcessed
		b, err := tx.Bookings().FindByIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}

		err = b.MarkPaid(intent.ID, intent.AmountReceived, now)
		switch {
		case errors.Is(err, booking.ErrAmountMismatch):
			outcome = WebhookIgnored
			return tx.PaymentErrors().Append(ctx, booking.NewPaymentError(b.Payment().ID(),
				booking.ErrorCodeAmountMismatch,
				fmt.Sprintf("received %d, expected %d", intent.AmountReceived, b.Payment().AmountCents()), now))
		case errors.Is(err, domain.ErrStaleTransition) && b.Status() == booking.StatusCancelled:
			// Cancelled between the read above and the lock.
			outcome = WebhookStale
			return tx.PaymentErrors().Append(ctx, booking.NewPaymentError(b.Payment().ID(),
				booking.ErrorCodeLatePayment,
				fmt.Sprintf("payment %s of %d received after cancellation", intent.ID, intent.AmountReceived), now))
		case err != nil:
			return err
		}

		b.IncrementVersion()
		if err := tx.Bookings().Update(ctx, b); err != nil {
			return err
		}
		confirmed = b
		return nil
	})
	if err != nil {
		return "", err
	}

	if confirmed != nil {
		p.logger.Info("card booking confirmed",
			zap.String("booking_id", bookingID.String()),
			zap.String("payment_intent_id", intent.ID),
		)
		metrics.Transition(string(confirmed.Status()), "webhook")
		p.publisher.Publish(ctx, events.BookingConfirmed, confirmed)
	}
	return outcome, nil
}

// handlePaymentFailed logs a declined card attempt and marks the payment
// failed. The booking stays open for another attempt until the timeout sweep.
func (p *WebhookProcessor) handlePaymentFailed(ctx context.Context, bookingID uuid.UUID, ev *adapter.WebhookEvent) (string, error) {
	now := p.now()
	message := ev.FailureMessage
	if message == "" {
		message = "card payment failed"
	}

	var failed *booking.Booking
	err := p.uow.Do(ctx, func(ctx context.Context, tx booking.Tx) error {
		failed = nil
		b, err := tx.Bookings().FindByIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if !b.Payment().IsCard() || b.Status() != booking.StatusPendingPayment {
			return domain.NewStaleTransitionError(bookingID.String(), string(b.Status()), "payment failure")
		}

		entry := booking.NewPaymentError(b.Payment().ID(), booking.ErrorCodePaymentFailed, message, now)
		if err := tx.PaymentErrors().Append(ctx, entry); err != nil {
			return err
		}

		err = b.RecordPaymentFailure(ev.PaymentIntentID, now)
		if errors.Is(err, domain.ErrStaleTransition) {
			// Repeated decline: only the log entry is new.
			return nil
		}
		if err != nil {
			return err
		}
		b.IncrementVersion()
		if err := tx.Bookings().Update(ctx, b); err != nil {
			return err
		}
		failed = b
		return nil
	})
	if err != nil {
		return "", err
	}

	if failed != nil {
		p.logger.Info("card payment failed",
			zap.String("booking_id", bookingID.String()),
			zap.String("reason", message),
		)
		p.publisher.Publish(ctx, events.PaymentFailed, failed)
	}
	return WebhookProcessed, nil
}

// handleCheckoutExpired cancels a card booking whose hosted page timed out.
func (p *WebhookProcessor) handleCheckoutExpired(ctx context.Context, bookingID uuid.UUID, ev *adapter.WebhookEvent) (string, error) {
	now := p.now()
	cancelled, err := mutateBooking(ctx, p.uow, bookingID, func(b *booking.Booking) error {
		if !b.Payment().IsCard() || b.Payment().CheckoutSessionID() != ev.CheckoutSessionID {
			return domain.NewStaleTransitionError(bookingID.String(), string(b.Status()), "checkout expiry")
		}
		if b.Status() != booking.StatusPendingPayment {
			return domain.NewStaleTransitionError(bookingID.String(), string(b.Status()), "checkout expiry")
		}
		return b.CancelUnpaid("checkout session expired", now)
	})
	if err != nil {
		return "", err
	}

	p.logger.Info("booking cancelled, checkout expired", zap.String("booking_id", bookingID.String()))
	metrics.Transition(string(cancelled.Status()), "webhook")
	p.publisher.Publish(ctx, events.BookingCancelled, cancelled)
	return WebhookProcessed, nil
}

func (p *WebhookProcessor) recordPaymentError(ctx context.Context, paymentID uuid.UUID, code, message string) {
	recordPaymentError(ctx, p.uow, p.logger, booking.NewPaymentError(paymentID, code, message, p.now()))
}

// retryable reports whether a redelivery may succeed: transient gateway
// failures, lost optimistic races and infrastructure errors.
func retryable(err error) bool {
	if domain.IsTransient(err) || errors.Is(err, domain.ErrConflict) {
		return true
	}
	var domErr *domain.DomainError
	return !errors.As(err, &domErr)
}
