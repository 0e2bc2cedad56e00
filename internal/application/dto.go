package application

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/staybook/service-booking/internal/domain/booking"
	"github.com/staybook/service-booking/pkg/auth"
	"github.com/staybook/service-booking/pkg/domain"
)

var validate = validator.New()

// Actor is the authenticated caller of a use case.
type Actor struct {
	ID   uuid.UUID
	Role auth.Role
}

// IsAdmin reports whether the actor bypasses ownership checks.
func (a Actor) IsAdmin() bool { return a.Role == auth.RoleAdmin }

// CreateBookingRequest is the DTO for opening a booking.
type CreateBookingRequest struct {
	RoomID        uuid.UUID `json:"room_id" validate:"required"`
	DateStart     string    `json:"date_start" validate:"required,datetime=2006-01-02"`
	DateEnd       string    `json:"date_end" validate:"required,datetime=2006-01-02"`
	GuestsCount   int       `json:"guests_count" validate:"required,min=1"`
	PaymentMethod string    `json:"payment_method" validate:"required,oneof=card cash"`
}

// CancelBookingRequest is the DTO for a client or owner cancellation.
type CancelBookingRequest struct {
	Reason         string `json:"reason" validate:"max=500"`
	TimeoutSeconds int    `json:"timeout_seconds" validate:"omitempty,min=1,max=60"`
}

// ManualRefundRequest is the DTO for an owner refund of an arbitrary amount.
type ManualRefundRequest struct {
	AmountCents    int64  `json:"amount_cents" validate:"required,gt=0"`
	Reason         string `json:"reason" validate:"max=500"`
	TimeoutSeconds int    `json:"timeout_seconds" validate:"omitempty,min=1,max=60"`
}

// ListBookingsQuery narrows a listing.
type ListBookingsQuery struct {
	Archived *bool
	Status   string `validate:"omitempty,oneof=pending_payment awaiting_confirmation confirmed completed cancelled"`
	Page     int    `validate:"min=1"`
	Limit    int    `validate:"min=1,max=100"`
}

// PaymentDTO is the API response DTO for payment data.
type PaymentDTO struct {
	ID                uuid.UUID  `json:"id"`
	Status            string     `json:"status"`
	Method            string     `json:"method"`
	AmountCents       int64      `json:"amount_cents"`
	Currency          string     `json:"currency"`
	CheckoutSessionID string     `json:"checkout_session_id,omitempty"`
	ExternalPaymentID string     `json:"external_payment_id,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	RefundAmountCents *int64     `json:"refund_amount_cents,omitempty"`
	RefundedAt        *time.Time `json:"refunded_at,omitempty"`
}

// BookingDTO is the API response DTO for booking data.
type BookingDTO struct {
	ID              uuid.UUID  `json:"id"`
	ClientID        uuid.UUID  `json:"client_id"`
	RoomID          uuid.UUID  `json:"room_id"`
	HotelID         uuid.UUID  `json:"hotel_id"`
	DateStart       string     `json:"date_start"`
	DateEnd         string     `json:"date_end"`
	Nights          int        `json:"nights"`
	GuestsCount     int        `json:"guests_count"`
	TotalPriceCents int64      `json:"total_price_cents"`
	Status          string     `json:"status"`
	Archived        bool       `json:"archived"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	Version         int64      `json:"version"`
	Payment         PaymentDTO `json:"payment"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CreateBookingResult is returned by CreateBooking. Card bookings carry the
// hosted checkout URL; cash bookings a message for the guest.
type CreateBookingResult struct {
	Booking     BookingDTO `json:"booking"`
	CheckoutURL string     `json:"checkout_url,omitempty"`
	Message     string     `json:"message,omitempty"`
}

// RefundQuoteDTO previews the refund of a cancellation.
type RefundQuoteDTO struct {
	BookingID    uuid.UUID `json:"booking_id"`
	DaysLeft     int       `json:"days_left"`
	Percent      float64   `json:"percent"`
	AmountCents  int64     `json:"amount_cents"`
	PaymentCents int64     `json:"payment_cents"`
	Currency     string    `json:"currency"`
}

// PaymentErrorDTO is one entry of the payment error log.
type PaymentErrorDTO struct {
	ID           uuid.UUID `json:"id"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func toBookingDTO(b *booking.Booking) BookingDTO {
	p := b.Payment()
	return BookingDTO{
		ID:              b.ID(),
		ClientID:        b.ClientID(),
		RoomID:          b.RoomID(),
		HotelID:         b.HotelID(),
		DateStart:       b.DateStart().Format(time.DateOnly),
		DateEnd:         b.DateEnd().Format(time.DateOnly),
		Nights:          b.Nights(),
		GuestsCount:     b.GuestsCount(),
		TotalPriceCents: b.TotalPriceCents(),
		Status:          string(b.Status()),
		Archived:        b.Archived(),
		CancelReason:    b.CancelReason(),
		Version:         b.Version(),
		Payment: PaymentDTO{
			ID:                p.ID(),
			Status:            string(p.Status()),
			Method:            string(p.Method()),
			AmountCents:       p.AmountCents(),
			Currency:          p.Currency(),
			CheckoutSessionID: p.CheckoutSessionID(),
			ExternalPaymentID: p.ExternalPaymentID(),
			PaidAt:            p.PaidAt(),
			RefundAmountCents: p.RefundAmountCents(),
			RefundedAt:        p.RefundedAt(),
		},
		CreatedAt: b.CreatedAt(),
		UpdatedAt: b.UpdatedAt(),
	}
}

func toBookingDTOs(bs []*booking.Booking) []BookingDTO {
	return lo.Map(bs, func(b *booking.Booking, _ int) BookingDTO { return toBookingDTO(b) })
}

func toPaymentErrorDTOs(es []*booking.PaymentError) []PaymentErrorDTO {
	return lo.Map(es, func(e *booking.PaymentError, _ int) PaymentErrorDTO {
		return PaymentErrorDTO{
			ID:           e.ID,
			ErrorCode:    e.ErrorCode,
			ErrorMessage: e.ErrorMessage,
			OccurredAt:   e.OccurredAt,
		}
	})
}

// validateStruct runs the validator and folds field errors into one ValidationError.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return domain.NewValidationError("%v", err)
	}
	msgs := lo.Map(fieldErrs, func(fe validator.FieldError, _ int) string {
		return fmt.Sprintf("%s: %s", fe.Field(), fieldMessage(fe))
	})
	return domain.NewValidationError("%s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return fmt.Sprintf("minimum is %s", fe.Param())
	case "max":
		return fmt.Sprintf("maximum is %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "datetime":
		return fmt.Sprintf("must be a date formatted as %s", fe.Param())
	default:
		return fmt.Sprintf("invalid %s", fe.Field())
	}
}

func parseDate(field, v string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, domain.NewValidationError("%s: must be a date formatted as 2006-01-02", field)
	}
	return t, nil
}
