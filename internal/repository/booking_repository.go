package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/staybook/service-booking/internal/domain/booking"
	"github.com/staybook/service-booking/pkg/domain"
)

// BookingRepositoryImpl is the GORM-based implementation of booking.BookingRepository.
// It is bound to one transaction handle.
type BookingRepositoryImpl struct {
	db *gorm.DB
}

// NewBookingRepository creates a booking repository on top of db, which is
// usually a transaction handle.
func NewBookingRepository(db *gorm.DB) *BookingRepositoryImpl {
	return &BookingRepositoryImpl{db: db}
}

// LockRoom takes SELECT ... FOR UPDATE on the room row.
func (r *BookingRepositoryImpl) LockRoom(ctx context.Context, roomID uuid.UUID) (*booking.Room, error) {
	var model RoomModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", roomID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Room", roomID.String())
		}
		return nil, err
	}
	return roomToDomain(&model), nil
}

// CountOverlapping counts active bookings of the room intersecting [start, end).
func (r *BookingRepositoryImpl) CountOverlapping(ctx context.Context, roomID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (int64, error) {
	q := r.db.WithContext(ctx).Model(&BookingModel{}).
		Where("room_id = ? AND status IN ?", roomID, activeStatuses()).
		Where("date_start < ? AND date_end > ?", booking.Day(end), booking.Day(start))
	if excludeID != nil {
		q = q.Where("id <> ?", *excludeID)
	}

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// FindByID retrieves a booking and its payment.
func (r *BookingRepositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	return r.find(ctx, r.db.WithContext(ctx), id)
}

// FindByIDForUpdate retrieves a booking and locks its row until the transaction ends.
func (r *BookingRepositoryImpl) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	return r.find(ctx, r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *BookingRepositoryImpl) find(ctx context.Context, q *gorm.DB, id uuid.UUID) (*booking.Booking, error) {
	var model BookingModel
	if err := q.Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Booking", id.String())
		}
		return nil, err
	}
	out, err := r.withPayments(ctx, []BookingModel{model})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// List retrieves a page of bookings, newest first.
func (r *BookingRepositoryImpl) List(ctx context.Context, f booking.ListFilter) ([]*booking.Booking, int64, error) {
	filter := func(db *gorm.DB) *gorm.DB {
		if f.ClientID != nil {
			db = db.Where("client_id = ?", *f.ClientID)
		}
		if f.HotelID != nil {
			db = db.Where("hotel_id = ?", *f.HotelID)
		}
		if f.Archived != nil {
			db = db.Where("archived = ?", *f.Archived)
		}
		if f.Status != nil {
			db = db.Where("status = ?", string(*f.Status))
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&BookingModel{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, limit := f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	var models []BookingModel
	offset := (page - 1) * limit
	if err := r.db.WithContext(ctx).Scopes(filter).
		Order("created_at DESC").Offset(offset).Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}

	bookings, err := r.withPayments(ctx, models)
	if err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

// LockDue locks up to q.Limit rows matching a sweep with FOR UPDATE SKIP LOCKED,
// so concurrent sweepers never pick the same booking.
func (r *BookingRepositoryImpl) LockDue(ctx context.Context, sq booking.SweepQuery) ([]*booking.Booking, error) {
	q := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Order("created_at ASC")

	switch sq.Kind {
	case booking.SweepCompleteStays:
		q = q.Where("status = ? AND date_end < ?", string(booking.StatusConfirmed), sq.Now)
	case booking.SweepExpireCash:
		q = q.Where("status = ? AND date_start < ?", string(booking.StatusAwaitingConfirmation), booking.Day(sq.Now))
	case booking.SweepExpireCardHolds:
		q = q.Where("status = ? AND created_at < ?", string(booking.StatusPendingPayment), sq.Now.Add(-sq.PaymentTimeout))
	default:
		return nil, domain.NewValidationError("unknown sweep %q", sq.Kind)
	}
	if sq.Limit > 0 {
		q = q.Limit(sq.Limit)
	}

	var models []BookingModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.withPayments(ctx, models)
}

// Save inserts a new booking and its payment.
func (r *BookingRepositoryImpl) Save(ctx context.Context, b *booking.Booking) error {
	bm, pm := toModel(b)
	if err := r.db.WithContext(ctx).Create(bm).Error; err != nil {
		return translateError(err)
	}
	if err := r.db.WithContext(ctx).Create(pm).Error; err != nil {
		return translateError(err)
	}
	return nil
}

// Update persists changes to an existing booking with optimistic locking and
// rewrites its payment row.
func (r *BookingRepositoryImpl) Update(ctx context.Context, b *booking.Booking) error {
	bm, pm := toModel(b)
	previousVersion := b.Version() - 1

	result := r.db.WithContext(ctx).
		Model(&BookingModel{}).
		Where("id = ? AND version = ?", bm.ID, previousVersion).
		Updates(map[string]any{
			"status":        bm.Status,
			"archived":      bm.Archived,
			"cancel_reason": bm.CancelReason,
			"version":       bm.Version,
			"updated_at":    bm.UpdatedAt,
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewConflictError("booking was modified by another transaction")
	}

	err := r.db.WithContext(ctx).
		Model(&PaymentModel{}).
		Where("id = ?", pm.ID).
		Updates(map[string]any{
			"status":              pm.Status,
			"checkout_session_id": pm.CheckoutSessionID,
			"external_payment_id": pm.ExternalPaymentID,
			"paid_at":             pm.PaidAt,
			"refund_amount_cents": pm.RefundAmountCents,
			"refunded_at":         pm.RefundedAt,
			"updated_at":          pm.UpdatedAt,
		}).Error
	return translateError(err)
}

// withPayments loads the payment rows for models in one query.
func (r *BookingRepositoryImpl) withPayments(ctx context.Context, models []BookingModel) ([]*booking.Booking, error) {
	if len(models) == 0 {
		return []*booking.Booking{}, nil
	}
	ids := make([]uuid.UUID, len(models))
	for i := range models {
		ids[i] = models[i].ID
	}

	var payments []PaymentModel
	if err := r.db.WithContext(ctx).Where("booking_id IN ?", ids).Find(&payments).Error; err != nil {
		return nil, err
	}
	byBooking := make(map[uuid.UUID]*PaymentModel, len(payments))
	for i := range payments {
		byBooking[payments[i].BookingID] = &payments[i]
	}

	out := make([]*booking.Booking, len(models))
	for i := range models {
		out[i] = toDomain(&models[i], byBooking[models[i].ID])
	}
	return out, nil
}

func activeStatuses() []string {
	return lo.Map(booking.ActiveStatuses, func(s booking.Status, _ int) string { return string(s) })
}

func roomToDomain(m *RoomModel) *booking.Room {
	return &booking.Room{
		ID:                 m.ID,
		HotelID:            m.HotelID,
		PricePerNightCents: m.PricePerNightCents,
		Places:             m.Places,
	}
}
