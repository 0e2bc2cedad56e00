package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/staybook/service-booking/internal/domain/booking"
)

// PaymentErrorRepositoryImpl is the append-only payment error log.
type PaymentErrorRepositoryImpl struct {
	db *gorm.DB
}

// NewPaymentErrorRepository creates a payment error repository.
func NewPaymentErrorRepository(db *gorm.DB) *PaymentErrorRepositoryImpl {
	return &PaymentErrorRepositoryImpl{db: db}
}

// Append inserts a log entry.
func (r *PaymentErrorRepositoryImpl) Append(ctx context.Context, e *booking.PaymentError) error {
	model := &PaymentErrorModel{
		ID:           e.ID,
		PaymentID:    e.PaymentID,
		ErrorCode:    e.ErrorCode,
		ErrorMessage: e.ErrorMessage,
		OccurredAt:   e.OccurredAt,
	}
	return translateError(r.db.WithContext(ctx).Create(model).Error)
}

// ListByPayment returns the log of one payment, oldest first.
func (r *PaymentErrorRepositoryImpl) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*booking.PaymentError, error) {
	var models []PaymentErrorModel
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("occurred_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]*booking.PaymentError, len(models))
	for i := range models {
		out[i] = paymentErrorToDomain(&models[i])
	}
	return out, nil
}
