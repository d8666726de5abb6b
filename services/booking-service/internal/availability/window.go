package availability

import (
	"sort"
	"time"
)

// Window is a half-open interval [Start, End) of absolute instants.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Valid() bool {
	return w.End.After(w.Start)
}

// Overlaps uses half-open semantics: [a,b) overlaps [c,d) iff a < d && c < b.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Merge sorts windows and unions any that overlap or abut, returning a
// non-overlapping ascending list. Invalid windows are dropped.
func Merge(windows []Window) []Window {
	var in []Window
	for _, w := range windows {
		if w.Valid() {
			in = append(in, w)
		}
	}
	if len(in) == 0 {
		return nil
	}
	sort.Slice(in, func(i, j int) bool {
		if in[i].Start.Equal(in[j].Start) {
			return in[i].End.Before(in[j].End)
		}
		return in[i].Start.Before(in[j].Start)
	})

	merged := []Window{in[0]}
	for _, cur := range in[1:] {
		last := &merged[len(merged)-1]
		if cur.Start.After(last.End) {
			merged = append(merged, cur)
			continue
		}
		if cur.End.After(last.End) {
			last.End = cur.End
		}
	}
	return merged
}

// Subtract carves the merged blocks out of each base window and returns the
// remaining open windows in ascending order.
func Subtract(base []Window, blocks []Window) []Window {
	blocks = Merge(blocks)
	var out []Window
	for _, b := range Merge(base) {
		out = append(out, subtractOne(b, blocks)...)
	}
	return out
}

func subtractOne(base Window, blocks []Window) []Window {
	var out []Window
	cursor := base.Start
	for _, blk := range blocks {
		if !blk.End.After(base.Start) || !base.End.After(blk.Start) {
			continue
		}
		if blk.Start.After(cursor) {
			out = append(out, Window{Start: cursor, End: blk.Start})
		}
		if blk.End.After(cursor) {
			cursor = blk.End
		}
	}
	if base.End.After(cursor) {
		out = append(out, Window{Start: cursor, End: base.End})
	}
	return out
}
