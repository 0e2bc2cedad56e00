package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/staybook/service-booking/internal/domain/booking"
	"github.com/staybook/service-booking/pkg/domain"
)

// Postgres SQLSTATE codes handled by the unit of work.
const (
	codeUniqueViolation      = "23505"
	codeExclusionViolation   = "23P01"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

const defaultTxAttempts = 3

// GormUnitOfWork runs booking transactions on Postgres.
type GormUnitOfWork struct {
	db       *gorm.DB
	logger   *zap.Logger
	attempts int
}

// NewUnitOfWork creates a unit of work. Transactions aborted by a serialization
// failure or deadlock are retried, so fn must be safe to run again.
func NewUnitOfWork(db *gorm.DB, logger *zap.Logger) *GormUnitOfWork {
	return &GormUnitOfWork{db: db, logger: logger, attempts: defaultTxAttempts}
}

// Do implements booking.UnitOfWork.
func (u *GormUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	var err error
	for attempt := 1; attempt <= u.attempts; attempt++ {
		err = u.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
			return fn(ctx, &gormTx{db: db})
		})
		if !isRetryable(err) || ctx.Err() != nil {
			break
		}
		u.logger.Warn("transaction aborted, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return translateError(err)
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) Bookings() booking.BookingRepository {
	return NewBookingRepository(t.db)
}

func (t *gormTx) PaymentErrors() booking.PaymentErrorRepository {
	return NewPaymentErrorRepository(t.db)
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

// translateError maps constraint violations onto domain conflicts. The
// exclusion constraint on bookings is the last line of defence against
// double booking.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeExclusionViolation:
		return &domain.DomainError{Err: domain.ErrConflict, Message: "room is already booked for these dates", Cause: err}
	case codeUniqueViolation:
		return &domain.DomainError{Err: domain.ErrConflict, Message: "duplicate " + pgErr.ConstraintName, Cause: err}
	}
	return err
}
