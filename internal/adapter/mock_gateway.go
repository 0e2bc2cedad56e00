package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/staybook/service-booking/pkg/domain"
)

// Gateway operation names, used for failure injection and call counting.
const (
	OpCreateCheckout = "create_checkout_session"
	OpExpireCheckout = "expire_checkout_session"
	OpRetrieveIntent = "retrieve_payment_intent"
	OpCreateRefund   = "create_refund"
	OpGetAccount     = "get_merchant_account"
)

// ErrMockTransient and ErrMockRejected are ready-made injectable failures.
var (
	ErrMockTransient = domain.NewGatewayError("mock", true, errors.New("gateway unavailable"))
	ErrMockRejected  = domain.NewGatewayError("mock", false, errors.New("request rejected"))
)

type mockSession struct {
	id        string
	bookingID uuid.UUID
	amount    int64
	currency  string
	status    string
	intentID  string
}

// MockGateway is a development/testing implementation of PaymentGateway.
// It simulates the hosted checkout flow in memory, honours idempotency keys the
// way the real processor does, and lets tests inject failures and latency.
type MockGateway struct {
	mu        sync.Mutex
	logger    *zap.Logger
	sessions  map[string]*mockSession
	intents   map[string]*PaymentIntent
	refunded  map[string]int64
	accounts  map[string]MerchantAccountStatus
	idem      map[string]any
	failures  map[string][]error
	latency   map[string]time.Duration
	calls     map[string]int
	urlPrefix string
}

// NewMockGateway creates a new in-memory gateway.
func NewMockGateway(logger *zap.Logger) *MockGateway {
	return &MockGateway{
		logger:    logger,
		sessions:  make(map[string]*mockSession),
		intents:   make(map[string]*PaymentIntent),
		refunded:  make(map[string]int64),
		accounts:  make(map[string]MerchantAccountStatus),
		idem:      make(map[string]any),
		failures:  make(map[string][]error),
		latency:   make(map[string]time.Duration),
		calls:     make(map[string]int),
		urlPrefix: "https://checkout.mock/pay/",
	}
}

// FailNext makes the next call of op return err. Calls queue up.
func (m *MockGateway) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

// SetLatency delays every call of op by d, or until the context is done.
func (m *MockGateway) SetLatency(op string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency[op] = d
}

// SetAccount registers a connected merchant account.
func (m *MockGateway) SetAccount(status MerchantAccountStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[status.AccountID] = status
}

// Calls returns how many times op was invoked, failed calls included.
func (m *MockGateway) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// SessionStatus returns open, complete or expired, or "" for an unknown session.
func (m *MockGateway) SessionStatus(sessionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		return s.status
	}
	return ""
}

// RefundedAmount returns the total refunded on a payment intent.
func (m *MockGateway) RefundedAmount(paymentIntentID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refunded[paymentIntentID]
}

// CompleteCheckout simulates the customer paying the session in full and
// returns the resulting payment intent.
func (m *MockGateway) CompleteCheckout(sessionID string) (*PaymentIntent, error) {
	return m.settle(sessionID, IntentSucceeded, 0)
}

// CompleteCheckoutWithAmount simulates a payment of an arbitrary amount.
func (m *MockGateway) CompleteCheckoutWithAmount(sessionID string, amount int64) (*PaymentIntent, error) {
	return m.settle(sessionID, IntentSucceeded, amount)
}

// DeclineCheckout simulates a declined card on the session.
func (m *MockGateway) DeclineCheckout(sessionID string) (*PaymentIntent, error) {
	return m.settle(sessionID, IntentRequiresRetry, 0)
}

func (m *MockGateway) settle(sessionID, status string, amount int64) (*PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown checkout session %s", sessionID)
	}
	if s.status != "open" {
		return nil, fmt.Errorf("checkout session %s is %s", sessionID, s.status)
	}
	if s.intentID == "" {
		s.intentID = "pi_mock_" + uuid.NewString()[:12]
	}
	pi := &PaymentIntent{
		ID:        s.intentID,
		Status:    status,
		Currency:  s.currency,
		BookingID: s.bookingID.String(),
	}
	if status == IntentSucceeded {
		pi.AmountReceived = s.amount
		if amount > 0 {
			pi.AmountReceived = amount
		}
		s.status = "complete"
	}
	m.intents[pi.ID] = pi

	cp := *pi
	return &cp, nil
}

// CreateCheckoutSession simulates opening a hosted checkout page.
func (m *MockGateway) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	if err := m.begin(ctx, OpCreateCheckout); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.idem[req.IdempotencyKey].(*CheckoutSession); ok && req.IdempotencyKey != "" {
		cp := *prev
		return &cp, nil
	}
	if req.AmountCents <= 0 {
		return nil, domain.NewGatewayError("create checkout session", false, errors.New("amount must be positive"))
	}

	s := &mockSession{
		id:        "cs_mock_" + uuid.NewString()[:12],
		bookingID: req.BookingID,
		amount:    req.AmountCents,
		currency:  req.Currency,
		status:    "open",
	}
	m.sessions[s.id] = s
	out := &CheckoutSession{ID: s.id, URL: m.urlPrefix + s.id, ExpiresAt: req.ExpiresAt}
	if req.IdempotencyKey != "" {
		m.idem[req.IdempotencyKey] = out
	}

	m.logger.Info("[MOCK GATEWAY] checkout session created",
		zap.String("booking_id", req.BookingID.String()),
		zap.String("session_id", s.id),
		zap.Int64("amount_cents", req.AmountCents),
		zap.String("currency", req.Currency),
	)
	cp := *out
	return &cp, nil
}

// ExpireCheckoutSession simulates expiring an open checkout page.
func (m *MockGateway) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	if err := m.begin(ctx, OpExpireCheckout); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionID]; ok && s.status == "open" {
		s.status = "expired"
		m.logger.Info("[MOCK GATEWAY] checkout session expired", zap.String("session_id", sessionID))
	}
	return nil
}

// RetrievePaymentIntent returns a simulated payment intent.
func (m *MockGateway) RetrievePaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error) {
	if err := m.begin(ctx, OpRetrieveIntent); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	pi, ok := m.intents[paymentIntentID]
	if !ok {
		return nil, domain.NewGatewayError("retrieve payment intent", false, fmt.Errorf("no such payment intent %s", paymentIntentID))
	}
	cp := *pi
	return &cp, nil
}

// CreateRefund simulates refunding a payment intent.
func (m *MockGateway) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if err := m.begin(ctx, OpCreateRefund); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.idem[req.IdempotencyKey].(*Refund); ok && req.IdempotencyKey != "" {
		if prev.AmountCents != req.AmountCents {
			return nil, domain.NewGatewayError("create refund", false,
				fmt.Errorf("idempotency key %s reused with amount %d, first used with %d", req.IdempotencyKey, req.AmountCents, prev.AmountCents))
		}
		cp := *prev
		return &cp, nil
	}

	pi, ok := m.intents[req.PaymentIntentID]
	if !ok || pi.Status != IntentSucceeded {
		return nil, domain.NewGatewayError("create refund", false, fmt.Errorf("payment intent %s is not refundable", req.PaymentIntentID))
	}
	if req.AmountCents <= 0 || m.refunded[pi.ID]+req.AmountCents > pi.AmountReceived {
		return nil, domain.NewGatewayError("create refund", false, fmt.Errorf("refund of %d exceeds refundable amount", req.AmountCents))
	}

	m.refunded[pi.ID] += req.AmountCents
	out := &Refund{ID: "re_mock_" + uuid.NewString()[:12], Status: RefundSucceeded, AmountCents: req.AmountCents}
	if req.IdempotencyKey != "" {
		m.idem[req.IdempotencyKey] = out
	}

	m.logger.Info("[MOCK GATEWAY] refund created",
		zap.String("payment_intent_id", req.PaymentIntentID),
		zap.Int64("amount_cents", req.AmountCents),
	)
	cp := *out
	return &cp, nil
}

// GetMerchantAccountStatus returns a registered account, or an error when unknown.
func (m *MockGateway) GetMerchantAccountStatus(ctx context.Context, accountID string) (*MerchantAccountStatus, error) {
	if err := m.begin(ctx, OpGetAccount); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[accountID]
	if !ok {
		return nil, domain.NewGatewayError("get merchant account", false, fmt.Errorf("no such account %s", accountID))
	}
	return &acct, nil
}

// begin counts the call, applies latency and pops an injected failure.
func (m *MockGateway) begin(ctx context.Context, op string) error {
	m.mu.Lock()
	m.calls[op]++
	delay := m.latency[op]
	var injected error
	if queue := m.failures[op]; len(queue) > 0 {
		injected, m.failures[op] = queue[0], queue[1:]
	}
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return domain.NewGatewayError(op, true, ctx.Err())
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.NewGatewayError(op, true, err)
	}
	return injected
}
