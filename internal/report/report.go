// Package report defines the run and step result model shared by the suite
// runner, the workflow runner, and the run registry.
package report

import (
	"fmt"
	"time"
)

// Kind identifies the type of a run.
type Kind string

const (
	// Suite is a test-suite run (lint, audit, build, tests).
	Suite Kind = "test-suite"
	// Workflow is a workflow-file run (jobs and shell steps).
	Workflow Kind = "workflow"
)

// ParseKind converts s into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Suite, Workflow:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown run kind %q", s)
}

// Status is the state of a run, a job, or a step.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s != StatusRunning && s != ""
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name      string    `json:"name"`
	Job       string    `json:"job,omitempty"`
	Status    Status    `json:"status"`
	Required  bool      `json:"required,omitempty"`
	Output    string    `json:"output,omitempty"`
	Note      string    `json:"note,omitempty"`
	ExitCode  int       `json:"exitCode"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"errorKind,omitempty"`
	StartedAt time.Time `json:"startedAt,omitzero"`
	EndedAt   time.Time `json:"endedAt,omitzero"`
	Duration  int64     `json:"duration"` // milliseconds
	Parsed    any       `json:"parsed,omitempty"`
}

// Skip marks r as skipped. Skipped steps carry a note and no output.
func (r *StepResult) Skip(note string) {
	r.Status = StatusSkipped
	r.Note = note
	r.Output = ""
}

// Cancel marks r as cancelled if it has not reached a terminal state.
func (r *StepResult) Cancel(note string) {
	if r.Status.Terminal() {
		return
	}
	r.Status = StatusCancelled
	r.Note = note
}

// Finish records the end time and duration of r.
func (r *StepResult) Finish(end time.Time) {
	r.EndedAt = end
	if !r.StartedAt.IsZero() {
		r.Duration = end.Sub(r.StartedAt).Milliseconds()
	}
}

// Key is the name under which r appears in a Summary.
func (r *StepResult) Key() string {
	if r.Job != "" {
		return r.Job + "/" + r.Name
	}
	return r.Name
}

// JobResult groups the steps of one workflow job.
type JobResult struct {
	ID     string        `json:"id"`
	Name   string        `json:"name,omitempty"`
	Status Status        `json:"status"`
	Steps  []*StepResult `json:"steps"`
}

// Aggregate derives the job status from its steps: failed if any step
// failed, cancelled if any step was cancelled, success otherwise.
func (j *JobResult) Aggregate() Status {
	status := StatusSuccess
	for _, s := range j.Steps {
		switch s.Status {
		case StatusFailed:
			j.Status = StatusFailed
			return j.Status
		case StatusCancelled:
			status = StatusCancelled
		}
	}
	j.Status = status
	return status
}

// Counts tallies step outcomes.
type Counts struct {
	Total     int `json:"total"`
	Run       int `json:"run"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Cancelled int `json:"cancelled"`
}

// Summary is the aggregate outcome of a run.
type Summary struct {
	Passed    bool                   `json:"passed"`
	Cancelled bool                   `json:"cancelled"`
	Results   map[string]*StepResult `json:"results"`
	Order     []string               `json:"order"`
	Jobs      []*JobResult           `json:"jobs,omitempty"`
	Duration  int64                  `json:"duration"` // milliseconds
	Counts    Counts                 `json:"counts"`
}

// NewSummary returns an empty Summary.
func NewSummary() *Summary {
	return &Summary{Results: make(map[string]*StepResult)}
}

// Add records r in the summary, preserving insertion order.
func (s *Summary) Add(r *StepResult) {
	key := r.Key()
	if _, ok := s.Results[key]; !ok {
		s.Order = append(s.Order, key)
	}
	s.Results[key] = r
}

// Steps returns the step results in execution order.
func (s *Summary) Steps() []*StepResult {
	out := make([]*StepResult, 0, len(s.Order))
	for _, k := range s.Order {
		out = append(out, s.Results[k])
	}
	return out
}

// Finish computes counts and the pass verdict. A run passes when every step
// that executed succeeded and the run was not cancelled.
func (s *Summary) Finish(started time.Time, cancelled bool) {
	s.Duration = time.Since(started).Milliseconds()
	s.Cancelled = cancelled
	s.Counts = Counts{Total: len(s.Order)}
	passed := !cancelled
	for _, r := range s.Results {
		switch r.Status {
		case StatusSuccess:
			s.Counts.Run++
			s.Counts.Passed++
		case StatusFailed:
			s.Counts.Run++
			s.Counts.Failed++
			passed = false
		case StatusSkipped:
			s.Counts.Skipped++
		case StatusCancelled:
			s.Counts.Cancelled++
			passed = false
		}
	}
	for _, j := range s.Jobs {
		j.Aggregate()
	}
	s.Passed = passed
}

// Status maps the summary onto a terminal run status.
func (s *Summary) Status() Status {
	switch {
	case s.Cancelled:
		return StatusCancelled
	case s.Passed:
		return StatusSuccess
	default:
		return StatusFailed
	}
}

// CurrentStep describes the step a run is executing right now.
type CurrentStep struct {
	Job       string    `json:"jobId,omitempty"`
	Step      string    `json:"stepId"`
	Output    string    `json:"-"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Run is one invocation of a test suite or a workflow against a target.
type Run struct {
	ID              string     `json:"id"`
	Target          string     `json:"target"`
	Kind            Kind       `json:"kind"`
	Label           string     `json:"label,omitempty"`
	Status          Status     `json:"status"`
	StartedAt       time.Time  `json:"startedAt"`
	CompletedAt     *time.Time `json:"completedAt"`
	RequestedSteps  []string   `json:"requestedSteps"`
	CancelRequested bool       `json:"cancelRequested"`
	Summary         *Summary   `json:"summary,omitempty"`
	Error           string     `json:"error,omitempty"`

	CurrentStep       *CurrentStep `json:"currentStep,omitempty"`
	CurrentStepOutput string       `json:"currentStepOutput,omitempty"`
}

// Active reports whether the run is still executing.
func (r *Run) Active() bool {
	return r.Status == StatusRunning
}

// Clone returns a copy of r that is safe to hand to other goroutines.
func (r *Run) Clone() *Run {
	c := *r
	c.RequestedSteps = append([]string(nil), r.RequestedSteps...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	if r.CurrentStep != nil {
		cs := *r.CurrentStep
		c.CurrentStep = &cs
	}
	return &c
}
