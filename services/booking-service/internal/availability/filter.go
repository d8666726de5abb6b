package availability

import "time"

// Busy is the buffered window of an existing non-cancelled appointment.
type Busy struct {
	StaffID string
	Window  Window
}

// FilterConfig carries everything the conflict filter needs besides the
// candidates themselves. Duration and buffers come from the service;
// MinNotice/MaxAdvanceDays from site settings. Now anchors the notice and
// advance checks; Loc is the site timezone used for the advance-day boundary.
type FilterConfig struct {
	Duration     time.Duration
	BufferBefore time.Duration
	BufferAfter  time.Duration
	MinNotice    time.Duration
	MaxAdvance   int // days; 0 disables the check
	Now          time.Time
	Loc          *time.Location
}

// Buffered expands a slot start into its buffered window
// [start - bufferBefore, start + duration + bufferAfter).
func (c FilterConfig) Buffered(start time.Time) Window {
	return Window{
		Start: start.Add(-c.BufferBefore),
		End:   start.Add(c.Duration + c.BufferAfter),
	}
}

// AllowedByNotice is inclusive at the boundary: a slot starting exactly at
// now + MinNotice is allowed.
func (c FilterConfig) AllowedByNotice(start time.Time) bool {
	return !start.Before(c.Now.Add(c.MinNotice))
}

// AllowedByAdvance allows slots up to and including the whole day
// today + MaxAdvance in the site timezone. MaxAdvance <= 0 disables the check.
func (c FilterConfig) AllowedByAdvance(start time.Time) bool {
	if c.MaxAdvance <= 0 {
		return true
	}
	loc := c.Loc
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := c.Now.In(loc).Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, loc).AddDate(0, 0, c.MaxAdvance+1)
	return start.Before(cutoff)
}

// Filter removes candidates that are not actually bookable. staffIDs are the
// staff whose open windows produced these candidates; a candidate survives
// iff at least one of them has no buffered-window overlap with it, the
// blocked windows do not touch the slot, and the notice/advance policy
// holds. Pure and idempotent; reports each surviving start once in
// ascending order.
func Filter(candidates []time.Time, staffIDs []string, busy []Busy, blocked []Window, cfg FilterConfig) []time.Time {
	if len(staffIDs) == 0 {
		return nil
	}

	byStaff := make(map[string][]Window, len(staffIDs))
	for _, b := range busy {
		byStaff[b.StaffID] = append(byStaff[b.StaffID], b.Window)
	}

	var out []time.Time
	for _, start := range candidates {
		if !cfg.AllowedByNotice(start) || !cfg.AllowedByAdvance(start) {
			continue
		}

		slot := Window{Start: start, End: start.Add(cfg.Duration)}
		if overlapsAny(slot, blocked) {
			continue
		}

		buffered := cfg.Buffered(start)
		free := false
		for _, id := range staffIDs {
			if !overlapsAny(buffered, byStaff[id]) {
				free = true
				break
			}
		}
		if !free {
			continue
		}

		if n := len(out); n > 0 && !out[n-1].Before(start) {
			continue
		}
		out = append(out, start)
	}
	return out
}

// FreeStaff returns the pool members whose busy windows do not overlap the
// buffered window of a slot, preserving pool order. The booking transaction
// uses it to resolve "any staff" to a concrete assignment at commit time.
func FreeStaff(start time.Time, staffIDs []string, busy []Busy, cfg FilterConfig) []string {
	buffered := cfg.Buffered(start)
	byStaff := make(map[string][]Window, len(staffIDs))
	for _, b := range busy {
		byStaff[b.StaffID] = append(byStaff[b.StaffID], b.Window)
	}
	var free []string
	for _, id := range staffIDs {
		if !overlapsAny(buffered, byStaff[id]) {
			free = append(free, id)
		}
	}
	return free
}

func overlapsAny(w Window, others []Window) bool {
	for _, o := range others {
		if w.Overlaps(o) {
			return true
		}
	}
	return false
}
