// Package service accepts run requests, starts the suite and workflow
// executors in the background, and relays their progress to subscribers.
// The REST API, the MCP server, and the CLI all go through it.
package service

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc"

	"github.com/deixis/conveyor/internal/config"
	"github.com/deixis/conveyor/internal/metrics"
	"github.com/deixis/conveyor/internal/progress"
	"github.com/deixis/conveyor/internal/registry"
	"github.com/deixis/conveyor/internal/report"
	"github.com/deixis/conveyor/internal/suite"
	"github.com/deixis/conveyor/internal/workflow"
)

// ErrInvalidRequest marks request errors detected before a run is created.
var ErrInvalidRequest = errors.New("invalid request")

// Publisher receives translated progress events.
// Implemented by events.Broker.
type Publisher interface {
	Publish(typ string, payload any)
}

type discard struct{}

func (discard) Publish(string, any) {}

// Options configures a Service.
type Options struct {
	Config    *config.Config
	Root      string // projects root; project names resolve inside it
	Registry  *registry.Registry
	Suite     *suite.Runner
	Workflow  *workflow.Runner
	Publisher Publisher
	Logger    *slog.Logger
}

// Service owns the background run goroutines.
type Service struct {
	cfg       *config.Config
	root      string
	registry  *registry.Registry
	suite     *suite.Runner
	workflows *workflow.Runner
	pub       Publisher
	log       *slog.Logger

	ctx  context.Context
	stop context.CancelFunc
	wg   conc.WaitGroup
}

// New creates a Service. Runs are parented to an internal context that
// Shutdown cancels.
func New(opts Options) *Service {
	s := &Service{
		cfg:       opts.Config,
		root:      opts.Root,
		registry:  opts.Registry,
		suite:     opts.Suite,
		workflows: opts.Workflow,
		pub:       opts.Publisher,
		log:       opts.Logger,
	}
	if s.cfg == nil {
		s.cfg = &config.Config{}
	}
	if s.pub == nil {
		s.pub = discard{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.registry == nil {
		s.registry = registry.New(registry.WithLogger(s.log))
	}
	s.ctx, s.stop = context.WithCancel(context.Background())
	return s
}

// Registry exposes the run registry.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Get returns a snapshot of a run.
func (s *Service) Get(id string) (*report.Run, error) {
	return s.registry.Get(id)
}

// Wait blocks until the run completes or ctx is done.
func (s *Service) Wait(ctx context.Context, id string) (*report.Run, error) {
	return s.registry.Wait(ctx, id)
}

// Cancel cancels a running run.
func (s *Service) Cancel(id string) (*report.Run, error) {
	return s.registry.Cancel(id)
}

// ListActive returns the running runs.
func (s *Service) ListActive() []*report.Run {
	return s.registry.ListActive()
}

// HistoryQuery filters ListHistory.
type HistoryQuery struct {
	Project string
	Kind    report.Kind
	Limit   int
}

// ListHistory returns completed runs, most recent first.
func (s *Service) ListHistory(q HistoryQuery) ([]*report.Run, error) {
	f := report.Filter{Kind: q.Kind, Limit: q.Limit}
	if q.Project != "" {
		dir, err := s.resolveProject(q.Project)
		if err != nil {
			return nil, err
		}
		f.Target = dir
	}
	return s.registry.ListHistory(f), nil
}

// ListWorkflows discovers the workflow files of a project.
func (s *Service) ListWorkflows(project string) ([]workflow.Info, error) {
	dir, err := s.resolveProject(project)
	if err != nil {
		return nil, err
	}
	infos, err := workflow.Discover(dir, s.cfg.WorkflowDir())
	if err != nil {
		return nil, errors.Wrap(err, "discovering workflows")
	}
	return infos, nil
}

// Shutdown cancels every run and waits for the executors to record their
// outcome, or for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for runs to stop")
	}
}

func (s *Service) resolveProject(project string) (string, error) {
	dir, err := config.ResolveProject(s.root, project)
	if err != nil {
		return "", errors.Wrap(ErrInvalidRequest, err.Error())
	}
	return dir, nil
}

// execute runs fn on its own goroutine, drains its events through relay,
// and completes the run with fn's outcome. A panic in fn fails the run.
func (s *Service) execute(h *registry.Handle, relay func(progress.Event), fn func(ctx context.Context, em progress.Emitter, tr *progress.Tracker) (*report.Summary, error)) {
	tracker := progress.NewTracker(s.cfg.MaxOutputBytes())
	h.Attach(tracker)

	s.wg.Go(func() {
		ch := make(chan progress.Event, 64)
		var (
			summary *report.Summary
			runErr  error
			inner   conc.WaitGroup
		)
		inner.Go(func() {
			defer close(ch)
			summary, runErr = fn(h.Context(), ch, tracker)
		})
		for ev := range ch {
			relay(ev)
		}

		if rec := inner.WaitAndRecover(); rec != nil {
			runErr = errors.Errorf("executor panicked: %v", rec.Value)
			s.log.Error("executor panicked", "run", h.ID(), "panic", rec.Value, "stack", string(rec.Stack))
		}
		run := h.Complete(summary, runErr)
		if runErr != nil {
			s.failed(run, runErr)
		}
	})
}

// failed publishes an error event for a run that could not execute.
func (s *Service) failed(run *report.Run, err error) {
	if run == nil {
		return
	}
	switch run.Kind {
	case report.Suite:
		s.publishSuiteError(run.ID, err)
	case report.Workflow:
		s.publishWorkflowError(run.ID, err)
	}
}

func relativeLabel(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}

func recordStep(kind report.Kind, ev progress.Event) {
	if ev.Type == progress.StepCompleted && ev.Result != nil {
		metrics.RecordStep(string(kind), string(ev.Result.Status))
	}
}

func timestamp(ev progress.Event) time.Time {
	if ev.Time.IsZero() {
		return time.Now()
	}
	return ev.Time
}
