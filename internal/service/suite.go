package service

import (
	"context"

	"github.com/pkg/errors"

	"github.com/deixis/conveyor/internal/events"
	"github.com/deixis/conveyor/internal/progress"
	"github.com/deixis/conveyor/internal/registry"
	"github.com/deixis/conveyor/internal/report"
	"github.com/deixis/conveyor/internal/suite"
)

// SuiteRequest starts a test-suite run. Empty Tests runs every configured step.
type SuiteRequest struct {
	Project string
	Tests   []string
}

// StartSuite validates req, registers the run, and executes it in the
// background. It fails with *registry.ConflictError when the project
// already has a suite run in progress.
func (s *Service) StartSuite(req SuiteRequest) (*report.Run, error) {
	if s.suite == nil {
		return nil, errors.New("test suite runner is not configured")
	}
	dir, err := s.resolveProject(req.Project)
	if err != nil {
		return nil, err
	}

	names := req.Tests
	if len(names) == 0 {
		names = nil
		for _, st := range s.suite.Steps() {
			names = append(names, st.Name)
		}
	}
	if _, err := s.suite.Select(names); err != nil {
		return nil, errors.Wrap(ErrInvalidRequest, err.Error())
	}

	h, err := s.registry.Create(s.ctx, registry.Request{Target: dir, Kind: report.Suite, Steps: names})
	if err != nil {
		return nil, err
	}
	id := h.ID()
	s.log.Info("starting test suite", "run", id, "project", dir, "tests", names)

	s.execute(h, func(ev progress.Event) { s.relaySuite(id, ev) },
		func(ctx context.Context, em progress.Emitter, tr *progress.Tracker) (*report.Summary, error) {
			return s.suite.RunSelected(ctx, dir, names, suite.Options{Events: em, Tracker: tr})
		})
	return s.registry.Get(id)
}

// StartSingle runs one suite step.
func (s *Service) StartSingle(project, test string) (*report.Run, error) {
	if test == "" {
		return nil, errors.Wrap(ErrInvalidRequest, "test is required")
	}
	return s.StartSuite(SuiteRequest{Project: project, Tests: []string{test}})
}

func (s *Service) relaySuite(id string, ev progress.Event) {
	recordStep(report.Suite, ev)
	switch ev.Type {
	case progress.Output:
		s.pub.Publish(events.CIOutput, events.Output{RunID: id, TestType: ev.Step, Data: ev.Data, Timestamp: timestamp(ev)})
	case progress.Progress:
		s.pub.Publish(events.CIProgress, events.Progress{RunID: id, Current: ev.Current, Total: ev.Total, CurrentTest: ev.Step})
	case progress.CriticalFailure:
		s.pub.Publish(events.CICriticalFailure, events.CriticalFailure{RunID: id, Test: ev.Step})
	case progress.Complete:
		s.pub.Publish(events.CIComplete, events.Complete{
			RunID:    id,
			Passed:   ev.Summary.Passed,
			Results:  ev.Summary.Results,
			Duration: ev.Summary.Duration,
		})
	case progress.Cancelled:
		s.pub.Publish(events.CICancelled, events.Cancelled{RunID: id})
	}
}

func (s *Service) publishSuiteError(id string, err error) {
	s.pub.Publish(events.CIError, events.Error{RunID: id, Error: err.Error()})
}
