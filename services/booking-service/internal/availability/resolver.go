package availability

import (
	"log/slog"
	"sort"
	"time"

	"github.com/dramac-main/dramac-booking/services/booking-service/internal/model"
)

// Weekday fallback applied when zero available rules match a date:
// Monday-Friday 09:00-17:00, weekends closed.
const (
	fallbackStartMinute = 9 * 60
	fallbackEndMinute   = 17 * 60
)

// Resolution is the outcome of rule resolution for one date: the open windows
// after blocked/holiday carve-outs, and the carved-out windows themselves
// (the conflict filter re-checks slots against them).
type Resolution struct {
	Open    []Window
	Blocked []Window
}

// ResolveDay computes the bookable windows for a calendar date. The date is
// given as site-local midnight; staffID may be empty ("any staff"), in which
// case only site-wide and service-scoped rules apply. Blocked and holiday
// rules always subtract from available ones, whatever their priority; rule
// priority only orders rules of the same kind. Malformed rules are skipped
// and logged, never fatal: under-reporting availability beats failing the
// whole request.
func ResolveDay(day time.Time, staffID, serviceID string, rules []model.AvailabilityRule, logger *slog.Logger) Resolution {
	var avail, blocked []model.AvailabilityRule
	for _, r := range rules {
		if !r.WellFormed() {
			if logger != nil {
				logger.Warn("skipping malformed availability rule", "rule_id", r.ID, "label", r.Label)
			}
			continue
		}
		if !ruleMatches(r, day, staffID, serviceID) {
			continue
		}
		if r.Blocks() {
			blocked = append(blocked, r)
		} else {
			avail = append(avail, r)
		}
	}

	sortByPriority(avail)
	sortByPriority(blocked)

	var open []Window
	if len(avail) == 0 {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			open = []Window{windowFromMinutes(day, fallbackStartMinute, fallbackEndMinute)}
		}
	} else {
		for _, r := range avail {
			open = append(open, windowFromMinutes(day, r.StartMinute, r.EndMinute))
		}
		open = Merge(open)
	}

	var carved []Window
	for _, r := range blocked {
		carved = append(carved, windowFromMinutes(day, r.StartMinute, r.EndMinute))
	}
	carved = Merge(carved)

	return Resolution{
		Open:    Subtract(open, carved),
		Blocked: carved,
	}
}

func ruleMatches(r model.AvailabilityRule, day time.Time, staffID, serviceID string) bool {
	if r.StaffID != "" && r.StaffID != staffID {
		return false
	}
	if r.ServiceID != "" && r.ServiceID != serviceID {
		return false
	}
	if r.Weekday != nil && *r.Weekday != day.Weekday() {
		return false
	}
	if r.Date != nil && !sameDate(*r.Date, day) {
		return false
	}
	if r.ValidFrom != nil && day.Before(truncateToDay(*r.ValidFrom)) {
		return false
	}
	if r.ValidUntil != nil && day.After(truncateToDay(*r.ValidUntil)) {
		return false
	}
	return true
}

func sortByPriority(rules []model.AvailabilityRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].StartMinute < rules[j].StartMinute
	})
}

// windowFromMinutes builds the window by wall-clock components, not by adding
// durations to midnight: on DST transition days the two differ by an hour.
func windowFromMinutes(day time.Time, startMin, endMin int) Window {
	y, m, d := day.Date()
	return Window{
		Start: time.Date(y, m, d, 0, startMin, 0, 0, day.Location()),
		End:   time.Date(y, m, d, 0, endMin, 0, 0, day.Location()),
	}
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
