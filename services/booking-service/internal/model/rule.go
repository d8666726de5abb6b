package model

import "time"

const (
	RuleAvailable = "available"
	RuleBlocked   = "blocked"
	RuleHoliday   = "holiday"
)

// AvailabilityRule is a time-window policy. Exactly one of Weekday or Date is
// set on a well-formed rule; write-time validation enforces that, and the
// resolver skips rules that violate it. StaffID/ServiceID narrow the scope
// when non-empty; both empty means site-wide.
type AvailabilityRule struct {
	ID          string
	SiteID      string
	StaffID     string
	ServiceID   string
	Kind        string
	Weekday     *time.Weekday
	Date        *time.Time // calendar date at site-local midnight
	StartMinute int
	EndMinute   int
	ValidFrom   *time.Time
	ValidUntil  *time.Time
	Priority    int
	Label       string
}

func (r AvailabilityRule) Blocks() bool {
	return r.Kind == RuleBlocked || r.Kind == RuleHoliday
}

// WellFormed reports whether the rule satisfies the write-time invariants:
// exactly one of weekday/date, and a non-empty time-of-day range.
func (r AvailabilityRule) WellFormed() bool {
	if (r.Weekday == nil) == (r.Date == nil) {
		return false
	}
	if r.StartMinute < 0 || r.EndMinute > 24*60 {
		return false
	}
	return r.StartMinute < r.EndMinute
}
