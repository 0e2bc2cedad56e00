package adapter

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"

	"github.com/staybook/service-booking/pkg/domain"
)

// StripeConfig configures the Stripe gateway.
type StripeConfig struct {
	SecretKey  string
	SuccessURL string
	CancelURL  string
	Timeout    time.Duration
}

// StripeGateway implements PaymentGateway against the Stripe API.
type StripeGateway struct {
	api    *client.API
	cfg    StripeConfig
	logger *zap.Logger
}

// minCheckoutLifetime is the shortest expiry Stripe accepts for a checkout session.
const minCheckoutLifetime = 30 * time.Minute

// NewStripeGateway creates a new Stripe-backed gateway.
func NewStripeGateway(cfg StripeConfig, logger *zap.Logger) *StripeGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &StripeGateway{
		api:    client.New(cfg.SecretKey, nil),
		cfg:    cfg,
		logger: logger,
	}
}

// CreateCheckoutSession opens a payment-mode checkout session. The booking id is
// stored both on the session and on its payment intent so every later webhook
// can be traced back to the booking.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	bookingID := req.BookingID.String()
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.cfg.SuccessURL + "?booking_id=" + bookingID),
		CancelURL:         stripe.String(g.cfg.CancelURL + "?booking_id=" + bookingID),
		ClientReferenceID: stripe.String(bookingID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(req.AmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"booking_id": bookingID},
		},
	}
	if !req.ExpiresAt.IsZero() {
		expiresAt := req.ExpiresAt
		if earliest := time.Now().Add(minCheckoutLifetime); expiresAt.Before(earliest) {
			expiresAt = earliest
		}
		params.ExpiresAt = stripe.Int64(expiresAt.Unix())
	}
	if req.MerchantAccountID != "" {
		params.PaymentIntentData.TransferData = &stripe.CheckoutSessionPaymentIntentDataTransferDataParams{
			Destination: stripe.String(req.MerchantAccountID),
		}
	}
	params.AddMetadata("booking_id", bookingID)
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, g.classify("create checkout session", err)
	}

	g.logger.Info("checkout session created",
		zap.String("booking_id", bookingID),
		zap.String("session_id", s.ID),
		zap.Int64("amount_cents", req.AmountCents),
	)
	return &CheckoutSession{ID: s.ID, URL: s.URL, ExpiresAt: time.Unix(s.ExpiresAt, 0).UTC()}, nil
}

// ExpireCheckoutSession expires an open session. Expiring a session that is no
// longer open is treated as done.
func (g *StripeGateway) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := g.api.CheckoutSessions.Expire(sessionID, params); err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == http.StatusBadRequest {
			g.logger.Debug("checkout session not open", zap.String("session_id", sessionID), zap.String("reason", se.Msg))
			return nil
		}
		return g.classify("expire checkout session", err)
	}
	return nil
}

// RetrievePaymentIntent reads a payment intent.
func (g *StripeGateway) RetrievePaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(paymentIntentID, params)
	if err != nil {
		return nil, g.classify("retrieve payment intent", err)
	}
	return &PaymentIntent{
		ID:             pi.ID,
		Status:         string(pi.Status),
		AmountReceived: pi.AmountReceived,
		Currency:       string(pi.Currency),
		BookingID:      pi.Metadata["booking_id"],
	}, nil
}

// CreateRefund refunds a payment intent.
func (g *StripeGateway) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentIntentID),
		Amount:        stripe.Int64(req.AmountCents),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, g.classify("create refund", err)
	}
	if r.Status == stripe.RefundStatusFailed || r.Status == stripe.RefundStatusCanceled {
		return nil, domain.NewGatewayError("create refund", false, errors.New("refund "+string(r.Status)))
	}

	g.logger.Info("refund created",
		zap.String("payment_intent_id", req.PaymentIntentID),
		zap.String("refund_id", r.ID),
		zap.Int64("amount_cents", r.Amount),
	)
	return &Refund{ID: r.ID, Status: string(r.Status), AmountCents: r.Amount}, nil
}

// GetMerchantAccountStatus reads a connected account.
func (g *StripeGateway) GetMerchantAccountStatus(ctx context.Context, accountID string) (*MerchantAccountStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	params := &stripe.AccountParams{}
	params.Context = ctx
	acct, err := g.api.Accounts.GetByID(accountID, params)
	if err != nil {
		return nil, g.classify("get merchant account", err)
	}
	return &MerchantAccountStatus{
		AccountID:        acct.ID,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}, nil
}

// classify turns a Stripe client error into a gateway error. Network failures,
// timeouts, rate limiting and 5xx answers are transient.
func (g *StripeGateway) classify(op string, err error) error {
	transient := isTransientStripeError(err)
	g.logger.Warn("stripe call failed",
		zap.String("op", op),
		zap.Bool("transient", transient),
		zap.Error(err),
	)
	return domain.NewGatewayError(op, transient, err)
}

func isTransientStripeError(err error) bool {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return true
	}
	if se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError {
		return true
	}
	return se.Type == stripe.ErrorTypeAPI
}
