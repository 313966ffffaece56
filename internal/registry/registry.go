// Package registry tracks active and recently completed runs. It enforces
// one running run per (target, kind) and owns every Run record: executors
// update their run only through the Handle returned by Create.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deixis/conveyor/internal/metrics"
	"github.com/deixis/conveyor/internal/report"
)

// Defaults used when no option overrides them.
const (
	DefaultCapacity  = 50
	DefaultRetention = time.Hour
)

var (
	// ErrNotFound is returned for unknown or evicted run ids.
	ErrNotFound = errors.New("run not found")
	// ErrNotActive is returned when cancelling a run that already finished.
	ErrNotActive = errors.New("run is not active")
)

// ConflictError is returned by Create when the target already has a run of
// the same kind in progress.
type ConflictError struct {
	RunID  string
	Target string
	Kind   report.Kind
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("a %s run is already in progress for %s (run %s)", e.Kind, e.Target, e.RunID)
}

// LiveSource reports the step a run is executing.
// Implemented by progress.Tracker.
type LiveSource interface {
	Current() *report.CurrentStep
}

// Request describes a run to create.
type Request struct {
	Target string
	Kind   report.Kind
	Label  string
	Steps  []string
}

// Option configures a Registry.
type Option func(*Registry)

// WithCapacity bounds the number of completed runs kept in history.
func WithCapacity(n int) Option {
	return func(r *Registry) { r.capacity = n }
}

// WithRetention sets how long a completed run stays addressable in the
// active table.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) { r.retention = d }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	active  map[string]*entry
	owners  map[owner]string
	history *report.History

	capacity  int
	retention time.Duration
	now       func() time.Time
	log       *slog.Logger
}

type owner struct {
	target string
	kind   report.Kind
}

type entry struct {
	run     *report.Run
	cancel  context.CancelFunc
	done    chan struct{}
	live    LiveSource
	expires time.Time // zero until the executor completes
}

func (e *entry) completed() bool {
	return !e.expires.IsZero()
}

// New creates a Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		active:    make(map[string]*entry),
		owners:    make(map[owner]string),
		capacity:  DefaultCapacity,
		retention: DefaultRetention,
		now:       time.Now,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.history = report.NewHistory(r.capacity)
	return r
}

// Create registers a new running run. The run's context derives from ctx,
// so ctx should outlive the run (not a request context). It fails with a
// *ConflictError when the target is busy; the target stays busy until the
// existing run's executor calls Complete, even if it was cancelled.
func (r *Registry) Create(ctx context.Context, req Request) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := owner{target: req.Target, kind: req.Kind}
	if id, ok := r.owners[key]; ok {
		metrics.RecordConflict(string(req.Kind))
		return nil, &ConflictError{RunID: id, Target: req.Target, Kind: req.Kind}
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &report.Run{
		ID:             uuid.New().String(),
		Target:         req.Target,
		Kind:           req.Kind,
		Label:          req.Label,
		Status:         report.StatusRunning,
		StartedAt:      r.now(),
		RequestedSteps: append([]string{}, req.Steps...),
	}
	r.active[run.ID] = &entry{run: run, cancel: cancel, done: make(chan struct{})}
	r.owners[key] = run.ID

	metrics.RecordRunStarted(string(req.Kind))
	r.log.Info("run created", "run", run.ID, "kind", run.Kind, "target", run.Target)
	return &Handle{id: run.ID, ctx: runCtx, reg: r}, nil
}

// Get returns a snapshot of the run with the given id.
func (r *Registry) Get(id string) (*report.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e := r.lookup(id); e != nil {
		return snapshot(e), nil
	}
	if run, ok := r.history.Get(id); ok {
		return run.Clone(), nil
	}
	return nil, ErrNotFound
}

// Cancel requests cancellation of a running run: the latch is set, the
// status becomes cancelled, and the run's context is cancelled so the
// executor terminates its process. Cancelling a cancelled run is a no-op.
func (r *Registry) Cancel(id string) (*report.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.lookup(id)
	if e == nil {
		if run, ok := r.history.Get(id); ok {
			if run.Status == report.StatusCancelled {
				return run.Clone(), nil
			}
			return run.Clone(), ErrNotActive
		}
		return nil, ErrNotFound
	}

	switch e.run.Status {
	case report.StatusRunning:
		now := r.now()
		e.run.CancelRequested = true
		e.run.Status = report.StatusCancelled
		e.run.CompletedAt = &now
		e.cancel()
		r.log.Info("run cancelled", "run", id)
		return snapshot(e), nil
	case report.StatusCancelled:
		return snapshot(e), nil
	}
	return snapshot(e), ErrNotActive
}

// ListActive returns the running runs, oldest first.
func (r *Registry) ListActive() []*report.Run {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*report.Run
	for _, e := range r.active {
		if e.run.Active() {
			out = append(out, snapshot(e))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.Before(out[k].StartedAt) })
	return out
}

// ListHistory returns completed runs matching f, most recent first.
func (r *Registry) ListHistory(f report.Filter) []*report.Run {
	runs := r.history.List(f)
	out := make([]*report.Run, len(runs))
	for i, run := range runs {
		out[i] = run.Clone()
	}
	return out
}

// Wait blocks until the run's executor has completed or ctx is done.
func (r *Registry) Wait(ctx context.Context, id string) (*report.Run, error) {
	r.mu.Lock()
	e := r.lookup(id)
	r.mu.Unlock()
	if e == nil {
		return r.Get(id)
	}

	select {
	case <-e.done:
		return r.Get(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Sweep evicts completed runs whose retention window has passed. They
// remain reachable through history until pushed out by newer runs.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	n := 0
	for id, e := range r.active {
		if e.completed() && now.After(e.expires) {
			delete(r.active, id)
			n++
		}
	}
	if n > 0 {
		r.log.Debug("swept runs", "count", n)
	}
	return n
}

// StartSweeper runs Sweep every interval until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Sweep()
		}
	}
}

// lookup returns the active entry for id, evicting it if expired.
// r.mu must be held.
func (r *Registry) lookup(id string) *entry {
	e, ok := r.active[id]
	if !ok {
		return nil
	}
	if e.completed() && r.now().After(e.expires) {
		delete(r.active, id)
		return nil
	}
	return e
}

func (r *Registry) complete(id string, summary *report.Summary, err error) *report.Run {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.active[id]
	if !ok || e.completed() {
		if run, ok := r.history.Get(id); ok {
			return run.Clone()
		}
		return nil
	}

	now := r.now()
	run := e.run
	if run.Status == report.StatusRunning {
		switch {
		case err != nil:
			run.Status = report.StatusFailed
		case summary != nil:
			run.Status = summary.Status()
		default:
			run.Status = report.StatusFailed
		}
		run.CompletedAt = &now
	}
	if summary != nil && run.CancelRequested {
		summary.Cancelled = true
		summary.Passed = false
	}
	run.Summary = summary
	if err != nil {
		run.Error = err.Error()
	}

	e.live = nil
	e.expires = now.Add(r.retention)
	e.cancel()
	close(e.done)

	key := owner{target: run.Target, kind: run.Kind}
	if r.owners[key] == id {
		delete(r.owners, key)
	}
	r.history.Add(run)

	metrics.RecordRunCompleted(string(run.Kind), string(run.Status), now.Sub(run.StartedAt))
	r.log.Info("run completed", "run", id, "status", run.Status, "duration", now.Sub(run.StartedAt))
	return run.Clone()
}

func (r *Registry) attach(id string, live LiveSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.active[id]; ok && !e.completed() {
		e.live = live
	}
}

func snapshot(e *entry) *report.Run {
	run := e.run.Clone()
	if e.live != nil && run.Active() {
		if cur := e.live.Current(); cur != nil {
			run.CurrentStep = cur
			run.CurrentStepOutput = cur.Output
		}
	}
	return run
}

// Handle is the executor's view of a run it owns.
type Handle struct {
	id  string
	ctx context.Context
	reg *Registry
}

// ID returns the run id.
func (h *Handle) ID() string { return h.id }

// Context is cancelled when the run is cancelled or completed.
func (h *Handle) Context() context.Context { return h.ctx }

// Attach exposes live step progress through Get while the run executes.
func (h *Handle) Attach(live LiveSource) { h.reg.attach(h.id, live) }

// Complete records the outcome and releases the target. A run that was
// cancelled keeps its cancelled status. Only the first call has an effect.
func (h *Handle) Complete(summary *report.Summary, err error) *report.Run {
	return h.reg.complete(h.id, summary, err)
}
