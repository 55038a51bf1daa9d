package trust

import (
	"sync"
	"testing"
)

func TestRatioRollingWindow(t *testing.T) {
	tr := NewTracker(4)
	for i := 0; i < 4; i++ {
		tr.ReportOutcome(false, "core.notes")
	}
	if r, n := tr.Ratio("core.notes"); r != 0 || n != 4 {
		t.Fatalf("ratio = %v n = %d, want 0/4", r, n)
	}
	// Four successes push the failures out of the window.
	for i := 0; i < 4; i++ {
		tr.ReportOutcome(true, "core.notes")
	}
	if r, n := tr.Ratio("core.notes"); r != 1 || n != 4 {
		t.Fatalf("ratio = %v n = %d, want 1/4", r, n)
	}
}

func TestRatioUnknownCategory(t *testing.T) {
	tr := NewTracker(0)
	if r, n := tr.Ratio("core.files"); r != 0 || n != 0 {
		t.Fatalf("expected zero signal, got %v/%d", r, n)
	}
}

func TestSnapshotSorted(t *testing.T) {
	tr := NewTracker(10)
	tr.ReportOutcome(true, "core.notes")
	tr.ReportOutcome(false, "core.notes")
	tr.ReportOutcome(true, "core.calendar")

	snap := tr.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 categories, got %d", len(snap))
	}
	if snap[0].Category != "core.calendar" || snap[1].Category != "core.notes" {
		t.Fatalf("snapshot not sorted: %+v", snap)
	}
	if snap[1].Total != 2 || snap[1].Successes != 1 || snap[1].Ratio != 0.5 {
		t.Fatalf("core.notes signal wrong: %+v", snap[1])
	}
}

func TestTrackerConcurrentSafe(t *testing.T) {
	tr := NewTracker(100)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.ReportOutcome(i%2 == 0, "core.notes")
		}(i)
	}
	wg.Wait()
	if _, n := tr.Ratio("core.notes"); n != 50 {
		t.Fatalf("expected 50 samples, got %d", n)
	}
}
