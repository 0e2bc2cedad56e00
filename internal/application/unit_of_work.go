package application

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/staybook/service-booking/internal/domain/booking"
)

func loadBooking(ctx context.Context, uow booking.UnitOfWork, id uuid.UUID) (*booking.Booking, error) {
	var out *booking.Booking
	err := uow.Do(ctx, func(ctx context.Context, tx booking.Tx) error {
		b, err := tx.Bookings().FindByID(ctx, id)
		out = b
		return err
	})
	return out, err
}

// mutateBooking locks a booking, applies one transition and writes it back
// with the next version.
func mutateBooking(ctx context.Context, uow booking.UnitOfWork, id uuid.UUID, apply func(b *booking.Booking) error) (*booking.Booking, error) {
	var out *booking.Booking
	err := uow.Do(ctx, func(ctx context.Context, tx booking.Tx) error {
		b, err := tx.Bookings().FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := apply(b); err != nil {
			return err
		}
		b.IncrementVersion()
		if err := tx.Bookings().Update(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// recordPaymentError appends to the payment error log in its own transaction.
// It outlives a cancelled request context.
func recordPaymentError(ctx context.Context, uow booking.UnitOfWork, logger *zap.Logger, entry *booking.PaymentError) {
	err := uow.Do(context.WithoutCancel(ctx), func(ctx context.Context, tx booking.Tx) error {
		return tx.PaymentErrors().Append(ctx, entry)
	})
	if err != nil {
		logger.Error("failed to record payment error",
			zap.String("payment_id", entry.PaymentID.String()),
			zap.String("error_code", entry.ErrorCode),
			zap.Error(err),
		)
	}
}
