package contracts

import (
	"time"

	"github.com/botelyes/futroll/internal/broker"
)

// RolloverPolicy decides which listed contract new entries target and
// when an open position in the front contract must be moved forward.
type RolloverPolicy interface {
	Name() string
	// EntryContract selects the contract new entries should target from
	// the expiry-ascending contract listing. The listing is never empty.
	EntryContract(sorted []broker.Instrument, asOf time.Time) broker.Instrument
	// RollDue reports whether an open position in current must be
	// actively rolled into next.
	RollDue(current broker.Instrument, next *broker.Instrument, asOf time.Time) bool
}

// DayOfMonthPolicy switches entries to the next calendar month's contract
// once the day of month reaches the cutoff.
type DayOfMonthPolicy struct {
	CutoffDay int
}

// NewDayOfMonthPolicy returns the policy with the standard cutoff.
func NewDayOfMonthPolicy(cutoffDay int) *DayOfMonthPolicy {
	if cutoffDay <= 0 {
		cutoffDay = 21
	}
	return &DayOfMonthPolicy{CutoffDay: cutoffDay}
}

// Name implements RolloverPolicy.
func (p *DayOfMonthPolicy) Name() string { return "day_of_month" }

// EntryContract picks the exact (year, month) match for the target month,
// falling back to the nearest listed contract at or after the target
// month, else the earliest listed contract.
func (p *DayOfMonthPolicy) EntryContract(sorted []broker.Instrument, asOf time.Time) broker.Instrument {
	targetYear, targetMonth := asOf.Year(), asOf.Month()
	if asOf.Day() >= p.CutoffDay {
		targetYear, targetMonth = nextMonth(targetYear, targetMonth)
	}

	for _, inst := range sorted {
		if inst.Expiry.Year() == targetYear && inst.Expiry.Month() == targetMonth {
			return inst
		}
	}

	targetStart := time.Date(targetYear, targetMonth, 1, 0, 0, 0, 0, time.UTC)
	for _, inst := range sorted {
		if !inst.Expiry.Before(targetStart) {
			return inst
		}
	}
	return sorted[0]
}

// RollDue is true when the entry target sits beyond the contract the
// position is in, i.e. new flow already routes past it.
func (p *DayOfMonthPolicy) RollDue(current broker.Instrument, next *broker.Instrument, asOf time.Time) bool {
	if next == nil {
		return false
	}
	target := p.EntryContract([]broker.Instrument{current, *next}, asOf)
	return target.Expiry.After(current.Expiry)
}

// DaysToExpiryPolicy routes entries to the next contract once the front
// contract is within RolloverDays of expiry.
type DaysToExpiryPolicy struct {
	RolloverDays int
}

// NewDaysToExpiryPolicy returns the policy with the standard window.
func NewDaysToExpiryPolicy(days int) *DaysToExpiryPolicy {
	if days <= 0 {
		days = 4
	}
	return &DaysToExpiryPolicy{RolloverDays: days}
}

// Name implements RolloverPolicy.
func (p *DaysToExpiryPolicy) Name() string { return "days_to_expiry" }

// EntryContract returns the front contract unless it is inside the
// rollover window and a later contract is listed.
func (p *DaysToExpiryPolicy) EntryContract(sorted []broker.Instrument, asOf time.Time) broker.Instrument {
	front := sorted[0]
	if DaysToExpiry(front, asOf) <= p.RolloverDays && len(sorted) > 1 {
		return sorted[1]
	}
	return front
}

// RollDue implements RolloverPolicy.
func (p *DaysToExpiryPolicy) RollDue(current broker.Instrument, next *broker.Instrument, asOf time.Time) bool {
	return next != nil && DaysToExpiry(current, asOf) <= p.RolloverDays
}

// DaysToExpiry computes whole days from asOf to the contract expiry,
// truncating both to UTC dates. Expired contracts report 0.
func DaysToExpiry(inst broker.Instrument, asOf time.Time) int {
	from := asOf.UTC().Truncate(24 * time.Hour)
	to := inst.Expiry.UTC().Truncate(24 * time.Hour)
	days := int(to.Sub(from).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}
