package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BookingRepository persists Booking aggregates together with their Payment.
// It is only reachable through a Tx so every call runs inside one unit of work.
type BookingRepository interface {
	// LockRoom takes an exclusive row lock on the room until the transaction ends.
	// It serialises concurrent creations for the same room.
	LockRoom(ctx context.Context, roomID uuid.UUID) (*Room, error)

	// CountOverlapping counts active bookings of the room intersecting [start, end).
	CountOverlapping(ctx context.Context, roomID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (int64, error)

	// FindByID loads a booking without locking it.
	FindByID(ctx context.Context, id uuid.UUID) (*Booking, error)

	// FindByIDForUpdate loads a booking and locks its row.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error)

	// List returns a page of bookings matching the filter and the total count.
	List(ctx context.Context, filter ListFilter) ([]*Booking, int64, error)

	// LockDue locks and returns up to query.Limit bookings matching a sweep query,
	// skipping rows locked by other transactions.
	LockDue(ctx context.Context, query SweepQuery) ([]*Booking, error)

	// Save inserts a new booking and its payment.
	Save(ctx context.Context, b *Booking) error

	// Update writes a booking and its payment with an optimistic version check.
	Update(ctx context.Context, b *Booking) error
}

// PaymentErrorRepository is the append-only payment error log.
type PaymentErrorRepository interface {
	Append(ctx context.Context, e *PaymentError) error
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*PaymentError, error)
}

// Tx is the set of repositories bound to one transaction.
type Tx interface {
	Bookings() BookingRepository
	PaymentErrors() PaymentErrorRepository
}

// UnitOfWork runs fn inside a single transaction. The transaction commits when
// fn returns nil and rolls back otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// ListFilter narrows a booking listing. Nil fields are not filtered on.
type ListFilter struct {
	ClientID *uuid.UUID
	HotelID  *uuid.UUID
	Archived *bool
	Status   *Status
	Page     int
	Limit    int
}

// SweepKind names one of the reconciliation sweeps.
type SweepKind string

const (
	SweepCompleteStays   SweepKind = "complete_stays"
	SweepExpireCash      SweepKind = "expire_unconfirmed_cash"
	SweepExpireCardHolds SweepKind = "expire_unpaid_card"
)

// SweepQuery selects rows for one sweep.
//
//	complete_stays:          status = confirmed              AND date_end   < Now
//	expire_unconfirmed_cash: status = awaiting_confirmation  AND date_start < Now
//	expire_unpaid_card:      status = pending_payment        AND created_at < Now - PaymentTimeout
type SweepQuery struct {
	Kind           SweepKind
	Now            time.Time
	PaymentTimeout time.Duration
	Limit          int
}

// Matches is the in-process form of the sweep filter.
func (q SweepQuery) Matches(b *Booking) bool {
	switch q.Kind {
	case SweepCompleteStays:
		return b.status == StatusConfirmed && b.dateEnd.Before(q.Now)
	case SweepExpireCash:
		return b.status == StatusAwaitingConfirmation && b.dateStart.Before(Day(q.Now))
	case SweepExpireCardHolds:
		return b.status == StatusPendingPayment && b.createdAt.Before(q.Now.Add(-q.PaymentTimeout))
	}
	return false
}

// RoomCatalog is the read side of the external room catalog.
type RoomCatalog interface {
	GetRoom(ctx context.Context, roomID uuid.UUID) (*Room, error)
}

// HotelOwner is what the party directory knows about a hotel's owner.
type HotelOwner struct {
	OwnerID           uuid.UUID
	MerchantAccountID string
}

// PartyDirectory resolves who owns what.
type PartyDirectory interface {
	HotelOwner(ctx context.Context, hotelID uuid.UUID) (*HotelOwner, error)
	MerchantAccountID(ctx context.Context, ownerID uuid.UUID) (string, error)
}
