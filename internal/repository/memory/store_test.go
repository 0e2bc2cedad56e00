package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staybook/service-booking/internal/domain/booking"
	"github.com/staybook/service-booking/internal/repository/memory"
	"github.com/staybook/service-booking/pkg/domain"
)

var now = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func seed(t *testing.T) (*memory.Store, booking.Room) {
	t.Helper()
	s := memory.NewStore()
	room := booking.Room{ID: uuid.New(), HotelID: uuid.New(), PricePerNightCents: 10000, Places: 2}
	s.AddRoom(room, uuid.New())
	return s, room
}

func newBooking(t *testing.T, room booking.Room, startInDays, nights int) *booking.Booking {
	t.Helper()
	start := booking.Day(now).AddDate(0, 0, startInDays)
	b, err := booking.NewBooking(booking.NewBookingParams{
		ClientID:    uuid.New(),
		Room:        room,
		DateStart:   start,
		DateEnd:     start.AddDate(0, 0, nights),
		GuestsCount: 1,
		Method:      booking.MethodCash,
		Currency:    "usd",
	}, now)
	require.NoError(t, err)
	return b
}

func TestStore_RollbackOnError(t *testing.T) {
	s, room := seed(t)
	b := newBooking(t, room, 2, 3)
	boom := errors.New("boom")

	err := s.Do(context.Background(), func(ctx context.Context, tx booking.Tx) error {
		require.NoError(t, tx.Bookings().Save(ctx, b))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Nil(t, s.Get(b.ID()))
}

func TestStore_RejectsOverlappingActiveBookings(t *testing.T) {
	s, room := seed(t)
	ctx := context.Background()
	first := newBooking(t, room, 2, 3)
	second := newBooking(t, room, 4, 2)
	adjacent := newBooking(t, room, 5, 1)

	require.NoError(t, s.Do(ctx, func(ctx context.Context, tx booking.Tx) error {
		return tx.Bookings().Save(ctx, first)
	}))

	err := s.Do(ctx, func(ctx context.Context, tx booking.Tx) error {
		return tx.Bookings().Save(ctx, second)
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	require.NoError(t, s.Do(ctx, func(ctx context.Context, tx booking.Tx) error {
		n, err := tx.Bookings().CountOverlapping(ctx, room.ID, adjacent.DateStart(), adjacent.DateEnd(), nil)
		require.NoError(t, err)
		assert.Zero(t, n)
		return tx.Bookings().Save(ctx, adjacent)
	}))
}

func TestStore_UpdateDetectsStaleVersion(t *testing.T) {
	s, room := seed(t)
	ctx := context.Background()
	b := newBooking(t, room, 2, 3)
	s.Put(b)

	stale := s.Get(b.ID())

	require.NoError(t, s.Do(ctx, func(ctx context.Context, tx booking.Tx) error {
		fresh, err := tx.Bookings().FindByIDForUpdate(ctx, b.ID())
		require.NoError(t, err)
		require.NoError(t, fresh.ConfirmCash(now))
		fresh.IncrementVersion()
		return tx.Bookings().Update(ctx, fresh)
	}))

	err := s.Do(ctx, func(ctx context.Context, tx booking.Tx) error {
		require.NoError(t, stale.CancelUnpaid("client", now))
		stale.IncrementVersion()
		return tx.Bookings().Update(ctx, stale)
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, booking.StatusConfirmed, s.Get(b.ID()).Status())
}

func TestStore_ListPaginatesNewestFirst(t *testing.T) {
	s, room := seed(t)
	for i := 0; i < 5; i++ {
		s.Put(newBooking(t, room, 2+i*3, 2))
	}

	err := s.Do(context.Background(), func(ctx context.Context, tx booking.Tx) error {
		items, total, err := tx.Bookings().List(ctx, booking.ListFilter{HotelID: &room.HotelID, Page: 2, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		assert.Len(t, items, 2)

		other := uuid.New()
		items, total, err = tx.Bookings().List(ctx, booking.ListFilter{ClientID: &other})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, items)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_PartyDirectory(t *testing.T) {
	s := memory.NewStore()
	owner := uuid.New()
	room := booking.Room{ID: uuid.New(), HotelID: uuid.New(), PricePerNightCents: 100}
	s.AddRoom(room, owner)
	s.SetMerchantAccount(owner, "acct_1")

	h, err := s.HotelOwner(context.Background(), room.HotelID)
	require.NoError(t, err)
	assert.Equal(t, owner, h.OwnerID)
	assert.Equal(t, "acct_1", h.MerchantAccountID)

	_, err = s.GetRoom(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ProcessedEvents(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()

	seen, err := s.Processed(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.MarkProcessed(ctx, "evt_1"))
	seen, err = s.Processed(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
}
