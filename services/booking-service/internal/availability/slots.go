package availability

import "time"

// Candidates walks each open window at the given step and emits every start
// where a booking of length duration still fits before the window end.
// Output is strictly ascending with duplicates collapsed even when windows
// abut or overlap.
func Candidates(windows []Window, step, duration time.Duration) []time.Time {
	if step <= 0 || duration <= 0 {
		return nil
	}

	var out []time.Time
	for _, w := range Merge(windows) {
		for t := w.Start; !t.Add(duration).After(w.End); t = t.Add(step) {
			if n := len(out); n > 0 && !out[n-1].Before(t) {
				continue
			}
			out = append(out, t)
		}
	}
	return out
}
