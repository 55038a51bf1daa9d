// Package trust aggregates execution outcomes per category so future policy
// decisions (auto-approval thresholds, rollout expansion) have a signal to
// consult. Only the recording contract lives here; consuming policy does not.
package trust

import (
	"sort"
	"sync"
)

const defaultWindow = 50

// Tracker keeps a rolling window of recent outcomes per category.
type Tracker struct {
	mu       sync.Mutex
	window   int
	outcomes map[string][]bool
}

func NewTracker(window int) *Tracker {
	if window <= 0 {
		window = defaultWindow
	}
	return &Tracker{window: window, outcomes: make(map[string][]bool)}
}

// ReportOutcome records one success/failure signal for a category.
func (t *Tracker) ReportOutcome(success bool, category string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := append(t.outcomes[category], success)
	if len(w) > t.window {
		w = w[len(w)-t.window:]
	}
	t.outcomes[category] = w
}

// Ratio returns the recent success ratio and sample count for a category.
// A category with no samples reports a zero ratio and zero count.
func (t *Tracker) Ratio(category string) (float64, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.outcomes[category]
	if len(w) == 0 {
		return 0, 0
	}
	ok := 0
	for _, s := range w {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(w)), len(w)
}

// CategorySignal is a read-only view of one category's rolling signal.
type CategorySignal struct {
	Category  string  `json:"category"`
	Total     int     `json:"total"`
	Successes int     `json:"successes"`
	Ratio     float64 `json:"ratio"`
}

// Snapshot lists every tracked category, sorted by name.
func (t *Tracker) Snapshot() []CategorySignal {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]CategorySignal, 0, len(t.outcomes))
	for cat, w := range t.outcomes {
		ok := 0
		for _, s := range w {
			if s {
				ok++
			}
		}
		sig := CategorySignal{Category: cat, Total: len(w), Successes: ok}
		if len(w) > 0 {
			sig.Ratio = float64(ok) / float64(len(w))
		}
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}
