package booking

import (
	"math"
	"time"

	"github.com/staybook/service-booking/pkg/domain"
)

const (
	// RefundMinNotice blocks every refund closer than this to check-in.
	RefundMinNotice = 24 * time.Hour
	// FullRefundDays is the notice in whole days that earns a full refund.
	FullRefundDays = 7
)

// RefundQuote is the outcome of the refund policy for one booking at one instant.
type RefundQuote struct {
	DaysLeft     int
	Percent      float64
	AmountCents  int64
	PaymentCents int64
}

// CalculateRefund applies the refund percentage policy:
//
//	days_left  = floor((date_start - now) / 24h)
//	percent    = min(1, days_left / 7)
//	refund     = round(amount × percent) in cents
//
// Anything under 24h before check-in is refused, including exactly 23h59m.
// Exactly 24h00m before check-in is allowed and yields one day.
func CalculateRefund(p *Payment, b *Booking, now time.Time) (RefundQuote, error) {
	if p == nil || p.status != PaymentPaid {
		return RefundQuote{}, domain.NewValidationError("only a paid booking can be refunded")
	}
	notice := b.dateStart.Sub(now.UTC())
	if notice < RefundMinNotice {
		return RefundQuote{}, domain.NewValidationError("refunds close %s before check-in", RefundMinNotice)
	}

	daysLeft := int(notice / day)
	percent := math.Min(1.0, float64(daysLeft)/float64(FullRefundDays))
	amount := int64(math.Round(float64(p.amountCents) * percent))

	return RefundQuote{
		DaysLeft:     daysLeft,
		Percent:      percent,
		AmountCents:  amount,
		PaymentCents: p.amountCents,
	}, nil
}

// ValidateManualRefund checks an owner-chosen amount: 0 < amount ≤ paid amount.
func ValidateManualRefund(p *Payment, amountCents int64) error {
	if p == nil || p.status != PaymentPaid {
		return domain.NewValidationError("only a paid booking can be refunded")
	}
	if amountCents <= 0 {
		return domain.NewValidationError("refund amount must be positive")
	}
	if amountCents > p.amountCents {
		return domain.NewValidationError("refund amount %d exceeds paid amount %d", amountCents, p.amountCents)
	}
	return nil
}
