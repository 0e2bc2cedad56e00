// Package memory is an in-process implementation of the booking unit of work,
// room catalog and party directory. Transactions are fully serialised, which
// gives the same guarantees as the row locks of the Postgres implementation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/staybook/service-booking/internal/domain/booking"
	"github.com/staybook/service-booking/pkg/domain"
)

type hotelEntry struct {
	ownerID uuid.UUID
}

// Store holds every table in memory.
type Store struct {
	txMu     sync.Mutex
	bookings map[uuid.UUID]*booking.Booking
	errors   []*booking.PaymentError

	catalogMu sync.RWMutex
	rooms     map[uuid.UUID]booking.Room
	hotels    map[uuid.UUID]hotelEntry
	accounts  map[uuid.UUID]string

	eventsMu sync.Mutex
	events   map[string]struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		bookings: make(map[uuid.UUID]*booking.Booking),
		rooms:    make(map[uuid.UUID]booking.Room),
		hotels:   make(map[uuid.UUID]hotelEntry),
		accounts: make(map[uuid.UUID]string),
		events:   make(map[string]struct{}),
	}
}

// AddRoom registers a room and the owner of its hotel.
func (s *Store) AddRoom(room booking.Room, ownerID uuid.UUID) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	s.rooms[room.ID] = room
	s.hotels[room.HotelID] = hotelEntry{ownerID: ownerID}
}

// SetRoomPrice changes the nightly rate of a room.
func (s *Store) SetRoomPrice(roomID uuid.UUID, priceCents int64) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		r.PricePerNightCents = priceCents
		s.rooms[roomID] = r
	}
}

// SetMerchantAccount links an owner to a connected merchant account.
func (s *Store) SetMerchantAccount(ownerID uuid.UUID, accountID string) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	s.accounts[ownerID] = accountID
}

// Processed reports whether a gateway event id was recorded.
func (s *Store) Processed(_ context.Context, eventID string) (bool, error) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	_, ok := s.events[eventID]
	return ok, nil
}

// MarkProcessed records a gateway event id.
func (s *Store) MarkProcessed(_ context.Context, eventID string) error {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.events[eventID] = struct{}{}
	return nil
}

// Put stores a booking as-is, bypassing every check. Tests use it to seed
// bookings in arbitrary states.
func (s *Store) Put(b *booking.Booking) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.bookings[b.ID()] = clone(b)
}

// Get returns a copy of a stored booking, or nil.
func (s *Store) Get(id uuid.UUID) *booking.Booking {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if b, ok := s.bookings[id]; ok {
		return clone(b)
	}
	return nil
}

// PaymentErrors returns a copy of the payment error log.
func (s *Store) PaymentErrors() []booking.PaymentError {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	out := make([]booking.PaymentError, len(s.errors))
	for i, e := range s.errors {
		out[i] = *e
	}
	return out
}

// Do runs fn against a staged copy of the store and publishes the copy only when
// fn succeeds. Do must not be nested.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	t := &tx{
		store:    s,
		bookings: make(map[uuid.UUID]*booking.Booking, len(s.bookings)),
		errors:   append([]*booking.PaymentError(nil), s.errors...),
	}
	for id, b := range s.bookings {
		t.bookings[id] = b
	}

	if err := fn(ctx, t); err != nil {
		return err
	}

	s.bookings = t.bookings
	s.errors = t.errors
	return nil
}

// GetRoom implements booking.RoomCatalog.
func (s *Store) GetRoom(_ context.Context, roomID uuid.UUID) (*booking.Room, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, domain.NewNotFoundError("Room", roomID.String())
	}
	return &r, nil
}

// HotelOwner implements booking.PartyDirectory.
func (s *Store) HotelOwner(_ context.Context, hotelID uuid.UUID) (*booking.HotelOwner, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	h, ok := s.hotels[hotelID]
	if !ok {
		return nil, domain.NewNotFoundError("Hotel", hotelID.String())
	}
	return &booking.HotelOwner{OwnerID: h.ownerID, MerchantAccountID: s.accounts[h.ownerID]}, nil
}

// MerchantAccountID implements booking.PartyDirectory.
func (s *Store) MerchantAccountID(_ context.Context, ownerID uuid.UUID) (string, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	return s.accounts[ownerID], nil
}

type tx struct {
	store    *Store
	bookings map[uuid.UUID]*booking.Booking
	errors   []*booking.PaymentError
}

func (t *tx) Bookings() booking.BookingRepository           { return bookingRepo{t} }
func (t *tx) PaymentErrors() booking.PaymentErrorRepository { return paymentErrorRepo{t} }

type bookingRepo struct{ t *tx }

func (r bookingRepo) LockRoom(ctx context.Context, roomID uuid.UUID) (*booking.Room, error) {
	return r.t.store.GetRoom(ctx, roomID)
}

func (r bookingRepo) CountOverlapping(_ context.Context, roomID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (int64, error) {
	var n int64
	for id, b := range r.t.bookings {
		if excludeID != nil && id == *excludeID {
			continue
		}
		if b.RoomID() == roomID && b.Status().IsActive() && booking.Overlaps(b.DateStart(), b.DateEnd(), start, end) {
			n++
		}
	}
	return n, nil
}

func (r bookingRepo) FindByID(_ context.Context, id uuid.UUID) (*booking.Booking, error) {
	b, ok := r.t.bookings[id]
	if !ok {
		return nil, domain.NewNotFoundError("Booking", id.String())
	}
	return clone(b), nil
}

func (r bookingRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	return r.FindByID(ctx, id)
}

func (r bookingRepo) List(_ context.Context, f booking.ListFilter) ([]*booking.Booking, int64, error) {
	var matched []*booking.Booking
	for _, b := range r.t.bookings {
		if f.ClientID != nil && b.ClientID() != *f.ClientID {
			continue
		}
		if f.HotelID != nil && b.HotelID() != *f.HotelID {
			continue
		}
		if f.Archived != nil && b.Archived() != *f.Archived {
			continue
		}
		if f.Status != nil && b.Status() != *f.Status {
			continue
		}
		matched = append(matched, b)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt().After(matched[j].CreatedAt())
	})

	total := int64(len(matched))
	page, limit := f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	from := (page - 1) * limit
	if from >= len(matched) {
		return []*booking.Booking{}, total, nil
	}
	to := from + limit
	if to > len(matched) {
		to = len(matched)
	}

	out := make([]*booking.Booking, 0, to-from)
	for _, b := range matched[from:to] {
		out = append(out, clone(b))
	}
	return out, total, nil
}

func (r bookingRepo) LockDue(_ context.Context, q booking.SweepQuery) ([]*booking.Booking, error) {
	var due []*booking.Booking
	for _, b := range r.t.bookings {
		if q.Matches(b) {
			due = append(due, b)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].CreatedAt().Before(due[j].CreatedAt())
	})
	if q.Limit > 0 && len(due) > q.Limit {
		due = due[:q.Limit]
	}
	out := make([]*booking.Booking, len(due))
	for i, b := range due {
		out[i] = clone(b)
	}
	return out, nil
}

func (r bookingRepo) Save(_ context.Context, b *booking.Booking) error {
	if _, exists := r.t.bookings[b.ID()]; exists {
		return domain.NewConflictError("booking already exists")
	}
	if err := r.checkInvariants(b); err != nil {
		return err
	}
	r.t.bookings[b.ID()] = clone(b)
	return nil
}

func (r bookingRepo) Update(_ context.Context, b *booking.Booking) error {
	current, ok := r.t.bookings[b.ID()]
	if !ok {
		return domain.NewNotFoundError("Booking", b.ID().String())
	}
	if current.Version() != b.Version()-1 {
		return domain.NewConflictError("booking was modified by another transaction")
	}
	if err := r.checkInvariants(b); err != nil {
		return err
	}
	r.t.bookings[b.ID()] = clone(b)
	return nil
}

// checkInvariants mirrors the database constraints.
func (r bookingRepo) checkInvariants(b *booking.Booking) error {
	if err := booking.CheckCoupling(b.Status(), b.Payment().Status()); err != nil {
		return err
	}
	if !b.Status().IsActive() {
		return nil
	}
	for id, other := range r.t.bookings {
		if id == b.ID() || other.RoomID() != b.RoomID() || !other.Status().IsActive() {
			continue
		}
		if booking.Overlaps(other.DateStart(), other.DateEnd(), b.DateStart(), b.DateEnd()) {
			return domain.NewConflictError("room is already booked for these dates")
		}
	}
	if sid := b.Payment().CheckoutSessionID(); sid != "" {
		for id, other := range r.t.bookings {
			if id != b.ID() && other.Payment() != nil && other.Payment().CheckoutSessionID() == sid {
				return domain.NewConflictError("checkout session already attached to a booking")
			}
		}
	}
	return nil
}

type paymentErrorRepo struct{ t *tx }

func (r paymentErrorRepo) Append(_ context.Context, e *booking.PaymentError) error {
	cp := *e
	r.t.errors = append(r.t.errors, &cp)
	return nil
}

func (r paymentErrorRepo) ListByPayment(_ context.Context, paymentID uuid.UUID) ([]*booking.PaymentError, error) {
	var out []*booking.PaymentError
	for _, e := range r.t.errors {
		if e.PaymentID == paymentID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func clone(b *booking.Booking) *booking.Booking {
	var p *booking.Payment
	if src := b.Payment(); src != nil {
		p = booking.ReconstitutePayment(
			src.ID(), src.BookingID(), src.AmountCents(), src.Currency(),
			src.Status(), src.Method(), src.CheckoutSessionID(), src.ExternalPaymentID(),
			copyTime(src.PaidAt()), copyInt(src.RefundAmountCents()), copyTime(src.RefundedAt()),
			src.CreatedAt(), src.UpdatedAt(),
		)
	}
	return booking.ReconstituteBooking(
		b.ID(), b.ClientID(), b.RoomID(), b.HotelID(),
		b.DateStart(), b.DateEnd(), b.GuestsCount(), b.TotalPriceCents(),
		b.Status(), b.Archived(), b.CancelReason(), b.Version(),
		b.CreatedAt(), b.UpdatedAt(), p,
	)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyInt(n *int64) *int64 {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}
