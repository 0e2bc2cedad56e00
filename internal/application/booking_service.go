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
	"github.com/staybook/service-booking/internal/saga"
	"github.com/staybook/service-booking/pkg/auth"
	"github.com/staybook/service-booking/pkg/domain"
)

// EventPublisher publishes lifecycle events after commit. Implementations
// must not block the caller on delivery failures.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, b *booking.Booking)
}

// BookingServiceConfig holds the lifecycle rules of the service.
type BookingServiceConfig struct {
	Currency       string
	Policy         booking.Policy
	PaymentTimeout time.Duration
	RefundTimeout  time.Duration
}

// BookingService is the application service that orchestrates booking use cases.
type BookingService struct {
	uow          booking.UnitOfWork
	rooms        booking.RoomCatalog
	parties      booking.PartyDirectory
	gateway      adapter.PaymentGateway
	publisher    EventPublisher
	availability AvailabilityChecker
	cfg          BookingServiceConfig
	logger       *zap.Logger
	now          func() time.Time
}

// NewBookingService creates a new BookingService.
func NewBookingService(
	uow booking.UnitOfWork,
	rooms booking.RoomCatalog,
	parties booking.PartyDirectory,
	gateway adapter.PaymentGateway,
	publisher EventPublisher,
	cfg BookingServiceConfig,
	logger *zap.Logger,
) *BookingService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &BookingService{
		uow:       uow,
		rooms:     rooms,
		parties:   parties,
		gateway:   gateway,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (s *BookingService) WithClock(now func() time.Time) *BookingService {
	s.now = now
	return s
}

// CreateBooking opens a booking for the calling client. Card bookings get a
// hosted checkout session before the booking row is written; the session is
// expired again when the insert loses the race for the room.
func (s *BookingService) CreateBooking(ctx context.Context, actor Actor, req CreateBookingRequest) (*CreateBookingResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	start, err := parseDate("date_start", req.DateStart)
	if err != nil {
		return nil, err
	}
	end, err := parseDate("date_end", req.DateEnd)
	if err != nil {
		return nil, err
	}
	method, err := booking.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.cfg.Policy.ValidateDates(start, end, now); err != nil {
		return nil, err
	}

	room, err := s.rooms.GetRoom(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}

	params := booking.NewBookingParams{
		ID:          uuid.New(),
		ClientID:    actor.ID,
		Room:        *room,
		DateStart:   start,
		DateEnd:     end,
		GuestsCount: req.GuestsCount,
		Method:      method,
		Currency:    s.cfg.Currency,
	}
	draft, err := booking.NewBooking(params, now)
	if err != nil {
		return nil, err
	}
	if err := s.precheckAvailability(ctx, draft); err != nil {
		return nil, err
	}

	s.logger.Info("creating booking",
		zap.String("booking_id", draft.ID().String()),
		zap.String("client_id", actor.ID.String()),
		zap.String("room_id", room.ID.String()),
		zap.String("method", string(method)),
		zap.Int64("total_price_cents", draft.TotalPriceCents()),
	)

	var (
		created *booking.Booking
		session *adapter.CheckoutSession
	)
	sg := saga.NewSaga("create_booking", s.logger)

	if method == booking.MethodCard {
		merchant, err := s.merchantAccountFor(ctx, room.HotelID)
		if err != nil {
			return nil, err
		}
		sg.AddStep(saga.SagaStep{
			Name: "create_checkout_session",
			Execute: func(ctx context.Context) error {
				cs, err := s.gateway.CreateCheckoutSession(ctx, adapter.CheckoutSessionRequest{
					BookingID:         draft.ID(),
					AmountCents:       draft.TotalPriceCents(),
					Currency:          s.cfg.Currency,
					Description:       fmt.Sprintf("%d night(s) from %s", draft.Nights(), draft.DateStart().Format(time.DateOnly)),
					CustomerRef:       actor.ID.String(),
					MerchantAccountID: merchant,
					ExpiresAt:         now.Add(s.cfg.PaymentTimeout),
					IdempotencyKey:    adapter.CheckoutIdempotencyKey(draft.ID()),
				})
				if err != nil {
					// No payment row exists yet, so the failure is logged rather
					// than recorded as a PaymentError.
					metrics.GatewayFailure(adapter.OpCreateCheckout, domain.IsTransient(err))
					s.logger.Warn("checkout session not created",
						zap.String("booking_id", draft.ID().String()),
						zap.String("room_id", room.ID.String()),
						zap.Int64("amount_cents", draft.TotalPriceCents()),
						zap.Bool("transient", domain.IsTransient(err)),
						zap.Error(err),
					)
					return err
				}
				session = cs
				params.CheckoutSessionID = cs.ID
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return s.gateway.ExpireCheckoutSession(ctx, session.ID)
			},
		})
	}

	sg.AddStep(saga.SagaStep{
		Name: "persist_booking",
		Execute: func(ctx context.Context) error {
			b, err := s.insert(ctx, params, now)
			if err != nil {
				return err
			}
			created = b
			return nil
		},
	})

	if err := sg.Execute(ctx); err != nil {
		s.logger.Warn("booking creation failed",
			zap.String("booking_id", draft.ID().String()),
			zap.Error(err),
		)
		return nil, unwrapStep(err)
	}

	metrics.Transition(string(created.Status()), "create")
	s.publisher.Publish(ctx, events.BookingCreated, created)

	result := &CreateBookingResult{Booking: toBookingDTO(created)}
	if session != nil {
		result.CheckoutURL = session.URL
	} else {
		result.Message = "booking is awaiting confirmation by the hotel"
	}
	return result, nil
}

// insert locks the room, re-checks availability and the nightly price, and
// writes the booking with its payment.
func (s *BookingService) insert(ctx context.Context, params booking.NewBookingParams, now time.Time) (*booking.Booking, error) {
	var out *booking.Booking
	err := s.uow.Do(ctx, func(ctx context.Context, tx booking.Tx) error {
		room, err := tx.Bookings().LockRoom(ctx, params.Room.ID)
		if err != nil {
			return err
		}
		if room.PricePerNightCents != params.Room.PricePerNightCents {
			return domain.NewConflictError("room price changed, please retry")
		}

		free, err := s.availability.IsAvailable(ctx, tx, room.ID, params.DateStart, params.DateEnd, nil)
		if err != nil {
			return err
		}
		if !free {
			return domain.NewConflictError("room is not available for these dates")
		}

		p := params
		p.Room = *room
		b, err := booking.NewBooking(p, now)
		if err != nil {
			return err
		}
		if err := tx.Bookings().Save(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// precheckAvailability rejects obviously taken rooms before any gateway call.
// The authoritative check runs again under the room lock.
func (s *BookingService) precheckAvailability(ctx context.Context, b *booking.Booking) error {
	return s.uow.Do(ctx, func(ctx context.Context, tx booking.Tx) error {
		free, err := s.availability.IsAvailable(ctx, tx, b.RoomID(), b.DateStart(), b.DateEnd(), nil)
		if err != nil {
			return err
		}
		if !free {
			return domain.NewConflictError("room is not available for these dates")
		}
		return nil
	})
}

// merchantAccountFor returns the connected account the hotel is paid through,
// or "" for the platform account. A connected account must accept charges.
func (s *BookingService) merchantAccountFor(ctx context.Context, hotelID uuid.UUID) (string, error) {
	owner, err := s.parties.HotelOwner(ctx, hotelID)
	if err != nil {
		return "", err
	}
	if owner.MerchantAccountID == "" {
		return "", nil
	}
	status, err := s.gateway.GetMerchantAccountStatus(ctx, owner.MerchantAccountID)
	if err != nil {
		metrics.GatewayFailure(adapter.OpGetAccount, domain.IsTransient(err))
		return "", err
	}
	if !status.ChargesEnabled {
		return "", domain.NewValidationError("hotel cannot accept card payments yet")
	}
	return owner.MerchantAccountID, nil
}

// ConfirmCashBooking is the hotel owner accepting a cash booking.
func (s *BookingService) ConfirmCashBooking(ctx context.Context, actor Actor, bookingID uuid.UUID) (*BookingDTO, error) {
	b, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner(ctx, actor, b.HotelID()); err != nil {
		return nil, err
	}

	now := s.now()
	updated, err := s.mutate(ctx, bookingID, func(b *booking.Booking) error {
		return b.ConfirmCash(now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("cash booking confirmed", zap.String("booking_id", bookingID.String()))
	metrics.Transition(string(updated.Status()), "owner_confirm")
	s.publisher.Publish(ctx, events.BookingConfirmed, updated)

	dto := toBookingDTO(updated)
	return &dto, nil
}

// CancelBooking is the client cancelling their own booking. An unpaid booking
// is cancelled outright; a paid one is refunded by the cancellation policy.
func (s *BookingService) CancelBooking(ctx context.Context, actor Actor, bookingID uuid.UUID, req CancelBookingRequest) (*BookingDTO, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	b, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := authorizeClient(actor, b); err != nil {
		return nil, err
	}
	reason := orDefault(req.Reason, "cancelled by client")

	if b.Status() == booking.StatusConfirmed {
		quote, err := booking.CalculateRefund(b.Payment(), b, s.now())
		if err != nil {
			return nil, err
		}
		return s.refund(ctx, b, quote.AmountCents, reason, req.TimeoutSeconds)
	}
	return s.cancelUnpaid(ctx, b, reason, "client_cancel")
}

// OwnerCancelBooking is the hotel owner cancelling a booking. A paid booking is
// refunded in full.
func (s *BookingService) OwnerCancelBooking(ctx context.Context, actor Actor, bookingID uuid.UUID, req CancelBookingRequest) (*BookingDTO, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	b, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner(ctx, actor, b.HotelID()); err != nil {
		return nil, err
	}
	reason := orDefault(req.Reason, "cancelled by hotel")

	if b.Status() == booking.StatusConfirmed {
		return s.refund(ctx, b, b.Payment().AmountCents(), reason, req.TimeoutSeconds)
	}
	return s.cancelUnpaid(ctx, b, reason, "owner_cancel")
}

// ManualRefund refunds an owner-chosen amount and cancels the booking.
func (s *BookingService) ManualRefund(ctx context.Context, actor Actor, bookingID uuid.UUID, req ManualRefundRequest) (*BookingDTO, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	b, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner(ctx, actor, b.HotelID()); err != nil {
		return nil, err
	}
	return s.refund(ctx, b, req.AmountCents, orDefault(req.Reason, "manual refund by hotel"), req.TimeoutSeconds)
}

// QuoteRefund previews what a client cancellation would refund right now.
func (s *BookingService) QuoteRefund(ctx context.Context, actor Actor, bookingID uuid.UUID) (*RefundQuoteDTO, error) {
	b, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := authorizeClient(actor, b); err != nil {
		return nil, err
	}
	if b.Status() != booking.StatusConfirmed {
		return nil, domain.NewInvalidStateError(string(b.Status()), string(booking.StatusCancelled))
	}

	q, err := booking.CalculateRefund(b.Payment(), b, s.now())
	if err != nil {
		return nil, err
	}
	return &RefundQuoteDTO{
		BookingID:    b.ID(),
		DaysLeft:     q.DaysLeft,
		Percent:      q.Percent,
		AmountCents:  q.AmountCents,
		PaymentCents: q.PaymentCents,
		Currency:     b.Payment().Currency(),
	}, nil
}

// ArchiveBooking hides a finished booking from the client's default listing.
func (s *BookingService) ArchiveBooking(ctx context.Context, actor Actor, bookingID uuid.UUID) (*BookingDTO, error) {
	b, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := authorizeClient(actor, b); err != nil {
		return nil, err
	}

	now := s.now()
	updated, err := s.mutate(ctx, bookingID, func(b *booking.Booking) error {
		return b.Archive(now)
	})
	if err != nil {
		return nil, err
	}
	dto := toBookingDTO(updated)
	return &dto, nil
}

// GetBooking returns a booking to its client, the hotel owner or an admin.
func (s *BookingService) GetBooking(ctx context.Context, actor Actor, bookingID uuid.UUID) (*BookingDTO, error) {
	b, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if actor.Role == auth.RoleOwner {
		if err := s.authorizeOwner(ctx, actor, b.HotelID()); err != nil {
			return nil, err
		}
	} else if err := authorizeClient(actor, b); err != nil {
		return nil, err
	}
	dto := toBookingDTO(b)
	return &dto, nil
}

// ListClientBookings returns a page of the caller's bookings.
func (s *BookingService) ListClientBookings(ctx context.Context, actor Actor, q ListBookingsQuery) ([]BookingDTO, int64, error) {
	filter, err := toListFilter(q)
	if err != nil {
		return nil, 0, err
	}
	filter.ClientID = &actor.ID
	return s.list(ctx, filter)
}

// ListHotelBookings returns a page of one hotel's bookings to its owner.
func (s *BookingService) ListHotelBookings(ctx context.Context, actor Actor, hotelID uuid.UUID, q ListBookingsQuery) ([]BookingDTO, int64, error) {
	filter, err := toListFilter(q)
	if err != nil {
		return nil, 0, err
	}
	if err := s.authorizeOwner(ctx, actor, hotelID); err != nil {
		return nil, 0, err
	}
	filter.HotelID = &hotelID
	return s.list(ctx, filter)
}

// ListPaymentErrors returns the payment error log of a booking to the hotel owner.
func (s *BookingService) ListPaymentErrors(ctx context.Context, actor Actor, bookingID uuid.UUID) ([]PaymentErrorDTO, error) {
	b, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner(ctx, actor, b.HotelID()); err != nil {
		return nil, err
	}

	var entries []*booking.PaymentError
	err = s.uow.Do(ctx, func(ctx context.Context, tx booking.Tx) error {
		var err error
		entries, err = tx.PaymentErrors().ListByPayment(ctx, b.Payment().ID())
		return err
	})
	if err != nil {
		return nil, err
	}
	return toPaymentErrorDTOs(entries), nil
}

// GetMerchantAccountStatus reads the caller's connected merchant account.
func (s *BookingService) GetMerchantAccountStatus(ctx context.Context, actor Actor) (*adapter.MerchantAccountStatus, error) {
	accountID, err := s.parties.MerchantAccountID(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if accountID == "" {
		return nil, domain.NewNotFoundError("MerchantAccount", actor.ID.String())
	}
	status, err := s.gateway.GetMerchantAccountStatus(ctx, accountID)
	if err != nil {
		metrics.GatewayFailure(adapter.OpGetAccount, domain.IsTransient(err))
		return nil, err
	}
	return status, nil
}

// cancelUnpaid cancels a booking whose payment never settled and closes its
// checkout page.
func (s *BookingService) cancelUnpaid(ctx context.Context, b *booking.Booking, reason, trigger string) (*BookingDTO, error) {
	now := s.now()
	updated, err := s.mutate(ctx, b.ID(), func(b *booking.Booking) error {
		return b.CancelUnpaid(reason, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("unpaid booking cancelled",
		zap.String("booking_id", b.ID().String()),
		zap.String("reason", reason),
	)
	s.expireCheckout(ctx, updated)
	metrics.Transition(string(updated.Status()), trigger)
	s.publisher.Publish(ctx, events.BookingCancelled, updated)

	dto := toBookingDTO(updated)
	return &dto, nil
}

// refund cancels a confirmed booking with a refund of amountCents. Card
// refunds go through the gateway first, outside any lock and bounded by the
// shortest of the caller's timeout, the request deadline and the configured
// refund timeout; a failure is logged as a PaymentError and leaves the booking
// untouched. Cash payments are refunded at the front desk and only recorded.
func (s *BookingService) refund(ctx context.Context, b *booking.Booking, amountCents int64, reason string, timeoutSeconds int) (*BookingDTO, error) {
	if err := precheckRefund(b, amountCents); err != nil {
		return nil, err
	}
	p := b.Payment()

	if p.IsCard() {
		rctx, cancel := context.WithTimeout(ctx, s.refundTimeout(timeoutSeconds))
		defer cancel()

		_, err := s.gateway.CreateRefund(rctx, adapter.RefundRequest{
			PaymentIntentID: p.ExternalPaymentID(),
			AmountCents:     amountCents,
			Reason:          reason,
			IdempotencyKey:  adapter.RefundIdempotencyKey(b.ID()),
		})
		if err != nil {
			code := booking.ErrorCodeRefundFailed
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(rctx.Err(), context.DeadlineExceeded) {
				code = booking.ErrorCodeRefundTimeout
			}
			metrics.GatewayFailure(adapter.OpCreateRefund, domain.IsTransient(err))
			s.logger.Warn("refund failed, booking left unchanged",
				zap.String("booking_id", b.ID().String()),
				zap.String("error_code", code),
				zap.Error(err),
			)
			s.recordPaymentError(ctx, p.ID(), code, err.Error())
			return nil, err
		}
	}

	now := s.now()
	updated, err := s.mutate(ctx, b.ID(), func(b *booking.Booking) error {
		return b.CancelWithRefund(amountCents, reason, now)
	})
	if err != nil {
		if p.IsCard() {
			s.logger.Error("refund issued but cancellation was not recorded",
				zap.String("booking_id", b.ID().String()),
				zap.Int64("refund_cents", amountCents),
				zap.Error(err),
			)
			s.recordPaymentError(ctx, p.ID(), booking.ErrorCodeRefundFailed,
				"refund issued but cancellation was not recorded: "+err.Error())
		}
		return nil, err
	}

	s.logger.Info("booking refunded and cancelled",
		zap.String("booking_id", b.ID().String()),
		zap.Int64("refund_cents", amountCents),
		zap.String("method", string(p.Method())),
	)
	metrics.Transition(string(updated.Status()), "refund")
	s.publisher.Publish(ctx, events.BookingCancelled, updated)

	dto := toBookingDTO(updated)
	return &dto, nil
}

// refundTimeout caps a caller-supplied timeout at the configured one.
func (s *BookingService) refundTimeout(requestedSeconds int) time.Duration {
	if requested := time.Duration(requestedSeconds) * time.Second; requested > 0 && requested < s.cfg.RefundTimeout {
		return requested
	}
	return s.cfg.RefundTimeout
}

func precheckRefund(b *booking.Booking, amountCents int64) error {
	switch b.Status() {
	case booking.StatusConfirmed:
	case booking.StatusCancelled:
		return domain.NewStaleTransitionError(b.ID().String(), string(b.Status()), "refund")
	default:
		return domain.NewInvalidStateError(string(b.Status()), string(booking.StatusCancelled))
	}
	return booking.ValidateManualRefund(b.Payment(), amountCents)
}

// expireCheckout closes the hosted checkout page of a cancelled card booking.
// Failures only leave a page that the webhook will treat as a late payment.
func (s *BookingService) expireCheckout(ctx context.Context, b *booking.Booking) {
	p := b.Payment()
	if !p.IsCard() || p.CheckoutSessionID() == "" {
		return
	}
	if err := s.gateway.ExpireCheckoutSession(context.WithoutCancel(ctx), p.CheckoutSessionID()); err != nil {
		metrics.GatewayFailure(adapter.OpExpireCheckout, domain.IsTransient(err))
		s.logger.Warn("failed to expire checkout session",
			zap.String("booking_id", b.ID().String()),
			zap.String("session_id", p.CheckoutSessionID()),
			zap.Error(err),
		)
	}
}

func (s *BookingService) recordPaymentError(ctx context.Context, paymentID uuid.UUID, code, message string) {
	recordPaymentError(ctx, s.uow, s.logger, booking.NewPaymentError(paymentID, code, message, s.now()))
}

func (s *BookingService) load(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	return loadBooking(ctx, s.uow, id)
}

func (s *BookingService) mutate(ctx context.Context, id uuid.UUID, apply func(b *booking.Booking) error) (*booking.Booking, error) {
	return mutateBooking(ctx, s.uow, id, apply)
}

func (s *BookingService) list(ctx context.Context, filter booking.ListFilter) ([]BookingDTO, int64, error) {
	var (
		items []*booking.Booking
		total int64
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx booking.Tx) error {
		var err error
		items, total, err = tx.Bookings().List(ctx, filter)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return toBookingDTOs(items), total, nil
}

func (s *BookingService) authorizeOwner(ctx context.Context, actor Actor, hotelID uuid.UUID) error {
	if actor.IsAdmin() {
		return nil
	}
	owner, err := s.parties.HotelOwner(ctx, hotelID)
	if err != nil {
		return err
	}
	if owner.OwnerID != actor.ID {
		return domain.NewForbiddenError("not the owner of this hotel")
	}
	return nil
}

func authorizeClient(actor Actor, b *booking.Booking) error {
	if actor.IsAdmin() || b.ClientID() == actor.ID {
		return nil
	}
	return domain.NewForbiddenError("not your booking")
}

func toListFilter(q ListBookingsQuery) (booking.ListFilter, error) {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = 20
	}
	if err := validateStruct(q); err != nil {
		return booking.ListFilter{}, err
	}
	f := booking.ListFilter{Archived: q.Archived, Page: q.Page, Limit: q.Limit}
	if q.Status != "" {
		st, err := booking.ParseStatus(q.Status)
		if err != nil {
			return booking.ListFilter{}, err
		}
		f.Status = &st
	}
	return f, nil
}

func unwrapStep(err error) error {
	var se *saga.StepError
	if errors.As(err, &se) {
		return se.Err
	}
	return err
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
