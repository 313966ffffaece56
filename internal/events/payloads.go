package events

import (
	"time"

	"github.com/deixis/conveyor/internal/report"
)

// Event types published by the run service.
const (
	CIOutput          = "ci-output"
	CIProgress        = "ci-progress"
	CIComplete        = "ci-complete"
	CICancelled       = "ci-cancelled"
	CIError           = "ci-error"
	CICriticalFailure = "ci-critical-failure"
	WorkflowProgress  = "workflow-progress"
)

// Output carries a chunk of suite step output.
type Output struct {
	RunID     string    `json:"runId"`
	TestType  string    `json:"testType"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Progress announces the suite step about to run.
type Progress struct {
	RunID       string `json:"runId"`
	Current     int    `json:"current"`
	Total       int    `json:"total"`
	CurrentTest string `json:"currentTest"`
}

// Complete reports a finished suite run.
type Complete struct {
	RunID    string                        `json:"runId"`
	Passed   bool                          `json:"passed"`
	Results  map[string]*report.StepResult `json:"results"`
	Duration int64                         `json:"duration"`
}

// Cancelled reports a cancelled suite run.
type Cancelled struct {
	RunID string `json:"runId"`
}

// Error reports a suite run that could not execute.
type Error struct {
	RunID string `json:"runId"`
	Error string `json:"error"`
}

// CriticalFailure reports a required suite step that failed.
type CriticalFailure struct {
	RunID string `json:"runId"`
	Test  string `json:"test"`
}

// Workflow phases carried in WorkflowUpdate.Type.
const (
	PhaseStarted       = "started"
	PhaseStepStarted   = "step-started"
	PhaseOutput        = "output"
	PhaseStepCompleted = "step-completed"
	PhaseCompleted     = "completed"
	PhaseCancelled     = "cancelled"
	PhaseError         = "error"
)

// WorkflowUpdate is the payload of every workflow-progress event.
type WorkflowUpdate struct {
	RunID     string          `json:"runId"`
	Type      string          `json:"type"`
	JobID     string          `json:"jobId,omitempty"`
	StepID    string          `json:"stepId,omitempty"`
	Data      string          `json:"data,omitempty"`
	Status    report.Status   `json:"status,omitempty"`
	Summary   *report.Summary `json:"summary,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
