package progress

import (
	"sync"
	"time"

	"github.com/deixis/conveyor/internal/report"
)

// Tracker records the step currently executing so that pollers can read it
// while the run is in flight. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	current *report.CurrentStep
	output  []byte
	limit   int
	now     func() time.Time
}

// DefaultOutputLimit bounds the live output kept by a Tracker.
const DefaultOutputLimit = 1 << 20

// NewTracker returns an idle Tracker that keeps at most limit bytes of the
// current step's output, dropping the oldest first. A limit <= 0 selects
// DefaultOutputLimit.
func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	return &Tracker{limit: limit, now: time.Now}
}

// Begin marks step of job as the current step and resets its output.
func (t *Tracker) Begin(job, step string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.output = t.output[:0]
	t.current = &report.CurrentStep{Job: job, Step: step, UpdatedAt: t.now()}
}

// Append adds output to the current step.
func (t *Tracker) Append(data string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return
	}
	t.output = append(t.output, data...)
	if n := len(t.output); n > t.limit {
		t.output = append(t.output[:0], t.output[n-t.limit:]...)
	}
	t.current.UpdatedAt = t.now()
}

// End clears the current step.
func (t *Tracker) End() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = nil
	t.output = t.output[:0]
}

// Current returns a snapshot of the current step, or nil when idle.
func (t *Tracker) Current() *report.CurrentStep {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	cs := *t.current
	cs.Output = string(t.output)
	return &cs
}
