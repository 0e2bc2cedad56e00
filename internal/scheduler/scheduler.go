// Package scheduler runs the time-driven booking transitions: completing
// finished stays and cancelling reservations that were never paid or confirmed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/staybook/service-booking/internal/adapter"
	"github.com/staybook/service-booking/internal/domain/booking"
	"github.com/staybook/service-booking/internal/events"
	"github.com/staybook/service-booking/internal/metrics"
	"github.com/staybook/service-booking/pkg/domain"
)

// Lease keeps concurrent replicas from sweeping the same tick. It is optional;
// row locks with SKIP LOCKED keep overlapping sweeps correct without it.
type Lease interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// Publisher receives lifecycle events for swept bookings.
type Publisher interface {
	Publish(ctx context.Context, eventType string, b *booking.Booking)
}

// Config holds sweep timings.
type Config struct {
	PaymentTimeout     time.Duration
	CompletionInterval time.Duration
	TimeoutInterval    time.Duration
	BatchSize          int
}

// Result counts the bookings moved by one RunOnce.
type Result struct {
	Completed   int
	ExpiredCash int
	ExpiredCard int
}

// ReconciliationScheduler owns the three reconciliation sweeps. Each sweep is
// bounded by the batch size and commits on its own.
type ReconciliationScheduler struct {
	uow       booking.UnitOfWork
	gateway   adapter.PaymentGateway
	publisher Publisher
	lease     Lease
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates a scheduler. lease may be nil.
func New(uow booking.UnitOfWork, gateway adapter.PaymentGateway, publisher Publisher, lease Lease, cfg Config, logger *zap.Logger) *ReconciliationScheduler {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &ReconciliationScheduler{
		uow:       uow,
		gateway:   gateway,
		publisher: publisher,
		lease:     lease,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used by the timer loops.
func (s *ReconciliationScheduler) WithClock(now func() time.Time) *ReconciliationScheduler {
	s.now = now
	return s
}

// RunOnce runs every sweep once against now. A failing sweep does not stop the
// others; their errors are joined.
func (s *ReconciliationScheduler) RunOnce(ctx context.Context, now time.Time) (Result, error) {
	completed, cerr := s.runCompletion(ctx, now)
	res, terr := s.runTimeouts(ctx, now)
	res.Completed = completed.Completed
	return res, errors.Join(cerr, terr)
}

func (s *ReconciliationScheduler) runCompletion(ctx context.Context, now time.Time) (Result, error) {
	n, err := s.sweep(ctx, booking.SweepCompleteStays, now)
	return Result{Completed: n}, err
}

func (s *ReconciliationScheduler) runTimeouts(ctx context.Context, now time.Time) (Result, error) {
	var (
		res  Result
		errs []error
		err  error
	)
	if res.ExpiredCash, err = s.sweep(ctx, booking.SweepExpireCash, now); err != nil {
		errs = append(errs, err)
	}
	if res.ExpiredCard, err = s.sweep(ctx, booking.SweepExpireCardHolds, now); err != nil {
		errs = append(errs, err)
	}
	return res, errors.Join(errs...)
}

// Start launches the completion and timeout loops. Both run once immediately.
func (s *ReconciliationScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	s.cancel, s.group = cancel, g

	g.Go(func() error {
		s.loop(ctx, "completion", s.cfg.CompletionInterval, s.runCompletion)
		return nil
	})
	g.Go(func() error {
		s.loop(ctx, "timeouts", s.cfg.TimeoutInterval, s.runTimeouts)
		return nil
	})

	s.logger.Info("reconciliation scheduler started",
		zap.Duration("completion_interval", s.cfg.CompletionInterval),
		zap.Duration("timeout_interval", s.cfg.TimeoutInterval),
		zap.Int("batch_size", s.cfg.BatchSize),
	)
}

// Stop cancels both loops and waits for a running sweep to finish.
func (s *ReconciliationScheduler) Stop() error {
	s.mu.Lock()
	cancel, g := s.cancel, s.group
	s.cancel, s.group = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := g.Wait()
	s.logger.Info("reconciliation scheduler stopped")
	return err
}

func (s *ReconciliationScheduler) loop(ctx context.Context, name string, every time.Duration, run func(context.Context, time.Time) (Result, error)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		s.tick(ctx, name, every, run)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *ReconciliationScheduler) tick(ctx context.Context, name string, every time.Duration, run func(context.Context, time.Time) (Result, error)) {
	if ctx.Err() != nil {
		return
	}
	if s.lease != nil {
		leaseName := "sweep:" + name
		ok, err := s.lease.Acquire(ctx, leaseName, every)
		if err != nil {
			s.logger.Warn("sweep lease unavailable, skipping tick", zap.String("loop", name), zap.Error(err))
			return
		}
		if !ok {
			s.logger.Debug("sweep lease held elsewhere", zap.String("loop", name))
			return
		}
		defer func() {
			if err := s.lease.Release(context.WithoutCancel(ctx), leaseName); err != nil {
				s.logger.Warn("failed to release sweep lease", zap.String("loop", name), zap.Error(err))
			}
		}()
	}

	res, err := run(ctx, s.now())
	if err != nil && ctx.Err() == nil {
		s.logger.Error("sweep failed", zap.String("loop", name), zap.Error(err))
	}
	if moved := res.Completed + res.ExpiredCash + res.ExpiredCard; moved > 0 {
		s.logger.Info("sweep finished",
			zap.String("loop", name),
			zap.Int("completed", res.Completed),
			zap.Int("expired_cash", res.ExpiredCash),
			zap.Int("expired_card", res.ExpiredCard),
		)
	}
}

// sweep moves one batch of due bookings in a single transaction. Rows locked
// by a concurrent transaction are skipped and picked up by a later run.
func (s *ReconciliationScheduler) sweep(ctx context.Context, kind booking.SweepKind, now time.Time) (int, error) {
	query := booking.SweepQuery{
		Kind:           kind,
		Now:            now,
		PaymentTimeout: s.cfg.PaymentTimeout,
		Limit:          s.cfg.BatchSize,
	}

	var moved []*booking.Booking
	err := s.uow.Do(ctx, func(ctx context.Context, tx booking.Tx) error {
		moved = nil
		due, err := tx.Bookings().LockDue(ctx, query)
		if err != nil {
			return err
		}
		for _, b := range due {
			if err := transition(kind, b, now); err != nil {
				if errors.Is(err, domain.ErrStaleTransition) {
					continue
				}
				return fmt.Errorf("%s booking %s: %w", kind, b.ID(), err)
			}
			b.IncrementVersion()
			if err := tx.Bookings().Update(ctx, b); err != nil {
				return fmt.Errorf("%s booking %s: %w", kind, b.ID(), err)
			}
			moved = append(moved, b)
		}
		return nil
	})
	if err != nil {
		metrics.SweepFailures.WithLabelValues(string(kind)).Inc()
		return 0, fmt.Errorf("sweep %s: %w", kind, err)
	}

	for _, b := range moved {
		metrics.Transition(string(b.Status()), string(kind))
		if b.Status() == booking.StatusCompleted {
			s.publisher.Publish(ctx, events.BookingCompleted, b)
			continue
		}
		s.publisher.Publish(ctx, events.BookingCancelled, b)
		if kind == booking.SweepExpireCardHolds {
			s.expireCheckout(ctx, b)
		}
	}
	metrics.SweepProcessed.WithLabelValues(string(kind)).Add(float64(len(moved)))
	return len(moved), nil
}

func transition(kind booking.SweepKind, b *booking.Booking, now time.Time) error {
	switch kind {
	case booking.SweepCompleteStays:
		return b.Complete(now)
	case booking.SweepExpireCash:
		return b.CancelUnpaid("not confirmed by the hotel before check-in", now)
	case booking.SweepExpireCardHolds:
		return b.CancelUnpaid("payment not received in time", now)
	}
	return fmt.Errorf("unknown sweep %q", kind)
}

// expireCheckout closes the checkout page of an expired card hold after commit.
func (s *ReconciliationScheduler) expireCheckout(ctx context.Context, b *booking.Booking) {
	sessionID := b.Payment().CheckoutSessionID()
	if sessionID == "" {
		return
	}
	if err := s.gateway.ExpireCheckoutSession(context.WithoutCancel(ctx), sessionID); err != nil {
		metrics.GatewayFailure(adapter.OpExpireCheckout, domain.IsTransient(err))
		s.logger.Warn("failed to expire checkout session",
			zap.String("booking_id", b.ID().String()),
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}
