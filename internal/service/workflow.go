package service

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/deixis/conveyor/internal/events"
	"github.com/deixis/conveyor/internal/progress"
	"github.com/deixis/conveyor/internal/registry"
	"github.com/deixis/conveyor/internal/report"
	"github.com/deixis/conveyor/internal/workflow"
)

// WorkflowRequest starts a workflow run.
type WorkflowRequest struct {
	Project string
	File    string // file name in the workflow directory, or a path relative to the project

	// Selected limits execution to these steps ("job/step" or step id).
	// Nil runs every step.
	Selected []string
	Env      map[string]string
}

// StartWorkflow loads and validates the workflow, registers the run, and
// executes it in the background.
func (s *Service) StartWorkflow(req WorkflowRequest) (*report.Run, error) {
	if s.workflows == nil {
		return nil, errors.New("workflow runner is not configured")
	}
	dir, err := s.resolveProject(req.Project)
	if err != nil {
		return nil, err
	}
	path, err := workflow.ResolveFile(dir, s.cfg.WorkflowDir(), req.File)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidRequest, err.Error())
	}
	doc, err := workflow.Load(path)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidRequest, err.Error())
	}

	steps := req.Selected
	if steps == nil {
		steps = doc.StepKeys()
	}
	h, err := s.registry.Create(s.ctx, registry.Request{
		Target: dir,
		Kind:   report.Workflow,
		Label:  relativeLabel(dir, path),
		Steps:  steps,
	})
	if err != nil {
		return nil, err
	}
	id := h.ID()
	s.log.Info("starting workflow", "run", id, "project", dir, "workflow", doc.Name, "file", path)

	s.pub.Publish(events.WorkflowProgress, events.WorkflowUpdate{
		RunID:     id,
		Type:      events.PhaseStarted,
		Status:    report.StatusRunning,
		Timestamp: time.Now(),
	})
	s.execute(h, func(ev progress.Event) { s.relayWorkflow(id, ev) },
		func(ctx context.Context, em progress.Emitter, tr *progress.Tracker) (*report.Summary, error) {
			return s.workflows.Run(ctx, doc, workflow.Options{
				Root:     dir,
				Selected: req.Selected,
				Env:      req.Env,
				Events:   em,
				Tracker:  tr,
			}), nil
		})
	return s.registry.Get(id)
}

func (s *Service) relayWorkflow(id string, ev progress.Event) {
	recordStep(report.Workflow, ev)

	u := events.WorkflowUpdate{RunID: id, JobID: ev.Job, StepID: ev.Step, Timestamp: timestamp(ev)}
	switch ev.Type {
	case progress.StepStarted:
		u.Type = events.PhaseStepStarted
		u.Status = report.StatusRunning
	case progress.Output:
		u.Type = events.PhaseOutput
		u.Data = ev.Data
	case progress.StepCompleted:
		u.Type = events.PhaseStepCompleted
		u.Status = ev.Result.Status
	case progress.Complete:
		u.Type = events.PhaseCompleted
		u.Status = ev.Summary.Status()
		u.Summary = ev.Summary
	case progress.Cancelled:
		u.Type = events.PhaseCancelled
		u.Status = report.StatusCancelled
		u.Summary = ev.Summary
	default:
		return
	}
	s.pub.Publish(events.WorkflowProgress, u)
}

func (s *Service) publishWorkflowError(id string, err error) {
	s.pub.Publish(events.WorkflowProgress, events.WorkflowUpdate{
		RunID:     id,
		Type:      events.PhaseError,
		Status:    report.StatusFailed,
		Data:      err.Error(),
		Timestamp: time.Now(),
	})
}
