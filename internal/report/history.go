package report

import lru "github.com/hashicorp/golang-lru/v2"

// History keeps the most recent completed runs, newest first. When more
// than its capacity are added, the oldest run is evicted.
type History struct {
	runs *lru.Cache[string, *Run]
}

// Filter narrows a History listing.
type Filter struct {
	Target string
	Kind   Kind
	Limit  int // zero means no limit
}

func (f Filter) match(r *Run) bool {
	if f.Target != "" && r.Target != f.Target {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	return true
}

// NewHistory creates a History holding at most cap runs. Capacity must be >= 1.
func NewHistory(cap int) *History {
	if cap < 1 {
		cap = 1
	}
	runs, err := lru.New[string, *Run](cap)
	if err != nil {
		panic(err) // only for a non-positive size
	}
	return &History{runs: runs}
}

// Add records run as the most recent entry. Adding a run that is already
// present replaces it and moves it to the front.
func (h *History) Add(run *Run) {
	h.runs.Add(run.ID, run)
}

// Get returns the run with the given id without changing its position.
func (h *History) Get(id string) (*Run, bool) {
	return h.runs.Peek(id)
}

// Len returns the number of runs held.
func (h *History) Len() int {
	return h.runs.Len()
}

// List returns matching runs, most recent first.
func (h *History) List(f Filter) []*Run {
	keys := h.runs.Keys() // oldest first
	var out []*Run
	for i := len(keys) - 1; i >= 0; i-- {
		run, ok := h.runs.Peek(keys[i])
		if !ok || !f.match(run) {
			continue
		}
		out = append(out, run)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}
