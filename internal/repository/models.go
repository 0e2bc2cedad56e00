package repository

import (
	"time"

	"github.com/google/uuid"

	"github.com/staybook/service-booking/internal/domain/booking"
)

// HotelModel is the GORM persistence model for the hotels table.
type HotelModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	OwnerID   uuid.UUID `gorm:"type:uuid;not null"`
	Name      string    `gorm:"type:text;not null;default:''"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

// TableName specifies the table name for GORM.
func (HotelModel) TableName() string { return "hotels" }

// RoomModel is the GORM persistence model for the rooms table.
type RoomModel struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	HotelID            uuid.UUID `gorm:"type:uuid;not null"`
	PricePerNightCents int64     `gorm:"not null"`
	Places             int       `gorm:"not null;default:0"`
	CreatedAt          time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

// TableName specifies the table name for GORM.
func (RoomModel) TableName() string { return "rooms" }

// OwnerAccountModel links an owner to a connected merchant account.
type OwnerAccountModel struct {
	OwnerID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	MerchantAccountID string    `gorm:"type:text;not null"`
	CreatedAt         time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

// TableName specifies the table name for GORM.
func (OwnerAccountModel) TableName() string { return "owner_accounts" }

// BookingModel is the GORM persistence model for the bookings table.
type BookingModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	ClientID        uuid.UUID `gorm:"type:uuid;not null"`
	RoomID          uuid.UUID `gorm:"type:uuid;not null"`
	HotelID         uuid.UUID `gorm:"type:uuid;not null"`
	DateStart       time.Time `gorm:"type:date;not null"`
	DateEnd         time.Time `gorm:"type:date;not null"`
	GuestsCount     int       `gorm:"not null"`
	TotalPriceCents int64     `gorm:"not null"`
	Status          string    `gorm:"type:varchar(32);not null"`
	Archived        bool      `gorm:"not null;default:false"`
	CancelReason    string    `gorm:"type:text;not null;default:''"`
	Version         int64     `gorm:"not null;default:1"`
	CreatedAt       time.Time `gorm:"type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

// TableName specifies the table name for GORM.
func (BookingModel) TableName() string { return "bookings" }

// PaymentModel is the GORM persistence model for the payments table.
type PaymentModel struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey"`
	BookingID         uuid.UUID  `gorm:"type:uuid;uniqueIndex;not null"`
	AmountCents       int64      `gorm:"not null"`
	Currency          string     `gorm:"type:varchar(3);not null;default:'usd'"`
	Status            string     `gorm:"type:varchar(16);not null"`
	Method            string     `gorm:"type:varchar(8);not null"`
	CheckoutSessionID *string    `gorm:"type:varchar(255)"`
	ExternalPaymentID *string    `gorm:"type:varchar(255)"`
	PaidAt            *time.Time `gorm:"type:timestamptz"`
	RefundAmountCents *int64
	RefundedAt        *time.Time `gorm:"type:timestamptz"`
	CreatedAt         time.Time  `gorm:"type:timestamptz;not null;default:now()"`
	UpdatedAt         time.Time  `gorm:"type:timestamptz;not null;default:now()"`
}

// TableName specifies the table name for GORM.
func (PaymentModel) TableName() string { return "payments" }

// PaymentErrorModel is the GORM persistence model for the payment_errors table.
type PaymentErrorModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	PaymentID    uuid.UUID `gorm:"type:uuid;not null"`
	ErrorCode    string    `gorm:"type:varchar(64);not null"`
	ErrorMessage string    `gorm:"type:text;not null;default:''"`
	OccurredAt   time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

// TableName specifies the table name for GORM.
func (PaymentErrorModel) TableName() string { return "payment_errors" }

// toDomain maps a booking row and its payment row to the aggregate.
func toDomain(m *BookingModel, pm *PaymentModel) *booking.Booking {
	var p *booking.Payment
	if pm != nil {
		p = booking.ReconstitutePayment(
			pm.ID,
			pm.BookingID,
			pm.AmountCents,
			pm.Currency,
			booking.PaymentStatus(pm.Status),
			booking.PaymentMethod(pm.Method),
			deref(pm.CheckoutSessionID),
			deref(pm.ExternalPaymentID),
			utcPtr(pm.PaidAt),
			pm.RefundAmountCents,
			utcPtr(pm.RefundedAt),
			pm.CreatedAt.UTC(),
			pm.UpdatedAt.UTC(),
		)
	}
	return booking.ReconstituteBooking(
		m.ID,
		m.ClientID,
		m.RoomID,
		m.HotelID,
		m.DateStart,
		m.DateEnd,
		m.GuestsCount,
		m.TotalPriceCents,
		booking.Status(m.Status),
		m.Archived,
		m.CancelReason,
		m.Version,
		m.CreatedAt.UTC(),
		m.UpdatedAt.UTC(),
		p,
	)
}

// toModel maps the aggregate to its booking and payment rows.
func toModel(b *booking.Booking) (*BookingModel, *PaymentModel) {
	bm := &BookingModel{
		ID:              b.ID(),
		ClientID:        b.ClientID(),
		RoomID:          b.RoomID(),
		HotelID:         b.HotelID(),
		DateStart:       b.DateStart(),
		DateEnd:         b.DateEnd(),
		GuestsCount:     b.GuestsCount(),
		TotalPriceCents: b.TotalPriceCents(),
		Status:          string(b.Status()),
		Archived:        b.Archived(),
		CancelReason:    b.CancelReason(),
		Version:         b.Version(),
		CreatedAt:       b.CreatedAt(),
		UpdatedAt:       b.UpdatedAt(),
	}
	p := b.Payment()
	pm := &PaymentModel{
		ID:                p.ID(),
		BookingID:         p.BookingID(),
		AmountCents:       p.AmountCents(),
		Currency:          p.Currency(),
		Status:            string(p.Status()),
		Method:            string(p.Method()),
		CheckoutSessionID: nullable(p.CheckoutSessionID()),
		ExternalPaymentID: nullable(p.ExternalPaymentID()),
		PaidAt:            p.PaidAt(),
		RefundAmountCents: p.RefundAmountCents(),
		RefundedAt:        p.RefundedAt(),
		CreatedAt:         p.CreatedAt(),
		UpdatedAt:         p.UpdatedAt(),
	}
	return bm, pm
}

func paymentErrorToDomain(m *PaymentErrorModel) *booking.PaymentError {
	return &booking.PaymentError{
		ID:           m.ID,
		PaymentID:    m.PaymentID,
		ErrorCode:    m.ErrorCode,
		ErrorMessage: m.ErrorMessage,
		OccurredAt:   m.OccurredAt.UTC(),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
