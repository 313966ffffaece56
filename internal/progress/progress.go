// Package progress carries live run updates from the step runners to
// whoever drains them.
package progress

import (
	"time"

	"github.com/deixis/conveyor/internal/report"
)

// Type identifies a progress message.
type Type string

const (
	Output          Type = "output"
	Progress        Type = "progress"
	StepStarted     Type = "step-started"
	StepCompleted   Type = "step-completed"
	Complete        Type = "complete"
	Cancelled       Type = "cancelled"
	CriticalFailure Type = "critical-failure"
)

// Event is one progress message. Which fields are set depends on Type.
type Event struct {
	Type Type
	Time time.Time

	Job  string // workflow job id
	Step string // step name or workflow step id
	Data string // output chunk

	Current int // 1-based index of the step, for Progress
	Total   int

	Result  *report.StepResult // StepCompleted
	Summary *report.Summary    // Complete, Cancelled
}

// Emitter sends events to a channel. A nil channel discards them.
// Sends block, so the receiver paces the producer.
type Emitter chan<- Event

// Emit stamps e and sends it.
func (em Emitter) Emit(e Event) {
	if em == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	em <- e
}
