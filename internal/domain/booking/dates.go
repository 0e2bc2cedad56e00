package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/staybook/service-booking/pkg/domain"
)

const day = 24 * time.Hour

// Room is the slice of the room catalog the lifecycle needs.
type Room struct {
	ID                 uuid.UUID
	HotelID            uuid.UUID
	PricePerNightCents int64
	Places             int
}

// Day truncates t to midnight UTC. Booking dates are calendar days; a day's
// instant is its midnight in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Nights is the number of nights in [start, end).
func Nights(start, end time.Time) int {
	return int(Day(end).Sub(Day(start)) / day)
}

// TotalPrice is nights × nightly rate.
func TotalPrice(pricePerNightCents int64, start, end time.Time) int64 {
	return int64(Nights(start, end)) * pricePerNightCents
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) share at least one instant.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// Policy holds the date rules a new booking must satisfy.
type Policy struct {
	MaxBookingDays  int
	MinCheckinHours int
}

// DefaultPolicy matches the rules of the public booking site.
var DefaultPolicy = Policy{MaxBookingDays: 30, MinCheckinHours: 24}

// ValidateDates checks ordering, maximum length and minimum notice. The notice
// is compared on calendar days: check-in must not fall before the day that
// contains now + MinCheckinHours.
func (p Policy) ValidateDates(start, end, now time.Time) error {
	start, end = Day(start), Day(end)
	if !start.Before(end) {
		return domain.NewValidationError("date_end must be after date_start")
	}
	if p.MaxBookingDays > 0 && Nights(start, end) > p.MaxBookingDays {
		return domain.NewValidationError("maximum booking duration is %d days", p.MaxBookingDays)
	}
	earliest := Day(now.Add(time.Duration(p.MinCheckinHours) * time.Hour))
	if start.Before(earliest) {
		return domain.NewValidationError("check-in must be at least %d hours from now", p.MinCheckinHours)
	}
	return nil
}
