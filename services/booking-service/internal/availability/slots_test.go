package availability

import (
	"testing"
	"time"
)

func TestCandidates_SixtyMinuteServiceThirtyMinuteGrid(t *testing.T) {
	// 09:00-12:00 window, 60-minute service on a 30-minute grid. The last
	// start that still fits before noon is 11:00.
	windows := []Window{{Start: at(t, 9, 0), End: at(t, 12, 0)}}
	got := Candidates(windows, 30*time.Minute, 60*time.Minute)

	want := []time.Time{at(t, 9, 0), at(t, 9, 30), at(t, 10, 0), at(t, 10, 30), at(t, 11, 0)}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("candidate %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCandidates_ExactFit(t *testing.T) {
	// Duration equal to the window yields a single candidate at the start.
	windows := []Window{{Start: at(t, 9, 0), End: at(t, 10, 0)}}
	got := Candidates(windows, 30*time.Minute, 60*time.Minute)
	if len(got) != 1 || !got[0].Equal(at(t, 9, 0)) {
		t.Fatalf("got %v, want just 09:00", got)
	}
}

func TestCandidates_WindowTooShort(t *testing.T) {
	windows := []Window{{Start: at(t, 9, 0), End: at(t, 9, 45)}}
	if got := Candidates(windows, 15*time.Minute, 60*time.Minute); len(got) != 0 {
		t.Fatalf("expected no candidates, got %v", got)
	}
}

func TestCandidates_OverlappingWindowsDeduplicate(t *testing.T) {
	windows := []Window{
		{Start: at(t, 9, 0), End: at(t, 11, 0)},
		{Start: at(t, 10, 0), End: at(t, 12, 0)},
	}
	got := Candidates(windows, 30*time.Minute, 30*time.Minute)
	for i := 1; i < len(got); i++ {
		if !got[i-1].Before(got[i]) {
			t.Fatalf("candidates not strictly ascending: %v", got)
		}
	}
	// Merged 09:00-12:00 on a 30-minute grid for a 30-minute service.
	if len(got) != 6 {
		t.Fatalf("got %d candidates %v, want 6", len(got), got)
	}
}

func TestCandidates_InvalidStepOrDuration(t *testing.T) {
	windows := []Window{{Start: at(t, 9, 0), End: at(t, 12, 0)}}
	if got := Candidates(windows, 0, 30*time.Minute); got != nil {
		t.Fatalf("zero step should yield nil, got %v", got)
	}
	if got := Candidates(windows, 30*time.Minute, 0); got != nil {
		t.Fatalf("zero duration should yield nil, got %v", got)
	}
}
