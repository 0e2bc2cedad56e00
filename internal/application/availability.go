package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/staybook/service-booking/internal/domain/booking"
)

// AvailabilityChecker answers whether a room is free for a date range. A range
// conflicts with an existing active booking iff existing.start < end and
// existing.end > start. Callers creating a booking must run it in the same
// transaction as the insert, after LockRoom.
type AvailabilityChecker struct{}

// IsAvailable reports whether no active booking of roomID intersects [start, end).
// excludeID skips one booking, e.g. the one being rescheduled.
func (AvailabilityChecker) IsAvailable(ctx context.Context, tx booking.Tx, roomID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	n, err := tx.Bookings().CountOverlapping(ctx, roomID, booking.Day(start), booking.Day(end), excludeID)
	if err != nil {
		return false, fmt.Errorf("count overlapping bookings: %w", err)
	}
	return n == 0, nil
}
