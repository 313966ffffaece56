// Package suite runs a project's build, lint, audit, and test scripts in a
// fixed order and summarises their output.
package suite

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/deixis/conveyor/internal/config"
	"github.com/deixis/conveyor/internal/progress"
	"github.com/deixis/conveyor/internal/report"
	"github.com/deixis/conveyor/internal/runner"
)

// NotFound prefixes the note of a step whose script the manifest lacks.
const NotFound = "NOT_FOUND"

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, cmd runner.Command) (*runner.Result, error)
}

// Runner executes suite steps sequentially against a project directory.
type Runner struct {
	Config    *config.Config
	Runner    CommandRunner
	Manifests *ManifestCache
	Logger    *slog.Logger
}

// Options carries per-run plumbing.
type Options struct {
	Events  progress.Emitter  // receives progress messages; may be nil
	Tracker *progress.Tracker // exposes the in-flight step; may be nil
}

// UnknownStepError is returned when a requested step is not configured.
type UnknownStepError struct {
	Name string
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("unknown test step %q", e.Name)
}

// Steps returns the configured steps in canonical order.
func (r *Runner) Steps() []config.SuiteStep {
	return r.Config.SuiteSteps()
}

// Select returns the configured steps named in names, in canonical order.
func (r *Runner) Select(names []string) ([]config.SuiteStep, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []config.SuiteStep
	for _, st := range r.Steps() {
		if want[st.Name] {
			out = append(out, st)
			delete(want, st.Name)
		}
	}
	for _, n := range names {
		if want[n] {
			return nil, &UnknownStepError{Name: n}
		}
	}
	return out, nil
}

// RunAll runs every configured step in dir.
func (r *Runner) RunAll(ctx context.Context, dir string, opts Options) *report.Summary {
	return r.run(ctx, dir, r.Steps(), opts)
}

// RunSelected runs the named steps in canonical order. It fails before
// running anything if a name is not configured.
func (r *Runner) RunSelected(ctx context.Context, dir string, names []string, opts Options) (*report.Summary, error) {
	steps, err := r.Select(names)
	if err != nil {
		return nil, err
	}
	return r.run(ctx, dir, steps, opts), nil
}

// RunScript runs a single named step.
func (r *Runner) RunScript(ctx context.Context, dir, name string, opts Options) (*report.StepResult, error) {
	summary, err := r.RunSelected(ctx, dir, []string{name}, opts)
	if err != nil {
		return nil, err
	}
	return summary.Results[name], nil
}

func (r *Runner) run(ctx context.Context, dir string, steps []config.SuiteStep, opts Options) *report.Summary {
	started := time.Now()
	log := r.logger().With("dir", dir)
	em := opts.Events

	summary := report.NewSummary()
	results := make([]*report.StepResult, len(steps))
	for i, st := range steps {
		results[i] = &report.StepResult{Name: st.Name, Required: st.Required}
		summary.Add(results[i])
	}

	manifest, manifestErr := r.manifests().Load(dir)

	cancelled := false
	for i, st := range steps {
		res := results[i]

		if ctx.Err() != nil {
			cancelled = true
			cancelRemaining(results[i:])
			break
		}

		em.Emit(progress.Event{Type: progress.Progress, Step: st.Name, Current: i + 1, Total: len(steps)})

		if note := missingNote(st, manifest, manifestErr); note != "" {
			res.Skip(note)
			log.Debug("step skipped", "step", st.Name, "note", note)
			em.Emit(progress.Event{Type: progress.StepCompleted, Step: st.Name, Result: res})
			continue
		}

		r.execute(ctx, dir, st, manifest, res, opts)
		log.Info("step finished", "step", st.Name, "status", res.Status, "duration_ms", res.Duration)
		em.Emit(progress.Event{Type: progress.StepCompleted, Step: st.Name, Result: res})

		if res.Status == report.StatusCancelled {
			cancelled = true
			cancelRemaining(results[i+1:])
			break
		}
		if res.Status == report.StatusFailed && st.Required {
			for _, rest := range results[i+1:] {
				rest.Skip(fmt.Sprintf("not run: required step %q failed", st.Name))
			}
			log.Warn("required step failed", "step", st.Name)
			em.Emit(progress.Event{Type: progress.CriticalFailure, Step: st.Name, Result: res})
			break
		}
	}

	summary.Finish(started, cancelled)
	if cancelled {
		em.Emit(progress.Event{Type: progress.Cancelled, Summary: summary})
	} else {
		em.Emit(progress.Event{Type: progress.Complete, Summary: summary})
	}
	return summary
}

func (r *Runner) execute(ctx context.Context, dir string, st config.SuiteStep, m *Manifest, res *report.StepResult, opts Options) {
	em := opts.Events
	res.Status = report.StatusRunning
	res.StartedAt = time.Now()
	em.Emit(progress.Event{Type: progress.StepStarted, Step: st.Name})
	opts.Tracker.Begin("", st.Name)
	defer opts.Tracker.End()

	cmd := runner.Command{
		Argv: r.argv(st, m),
		Dir:  dir,
		Env:  map[string]string{"CI": "true", "FORCE_COLOR": "0"},
		OnOutput: func(c runner.Chunk) {
			data := string(c.Data)
			opts.Tracker.Append(data)
			em.Emit(progress.Event{Type: progress.Output, Step: st.Name, Data: data})
		},
	}

	result, err := r.Runner.Run(ctx, cmd)
	res.Finish(time.Now())
	if result != nil {
		res.Output = string(result.Output)
		res.ExitCode = result.ExitCode
	}

	switch {
	case runner.IsCanceled(err):
		res.Status = report.StatusCancelled
		res.Note = "cancelled by user"
	case err != nil:
		res.Status = report.StatusFailed
		res.Error = err.Error()
		res.ErrorKind = string(runner.KindOf(err))
	case res.ExitCode != 0:
		res.Status = report.StatusFailed
		res.Error = fmt.Sprintf("exit status %d", res.ExitCode)
	default:
		res.Status = report.StatusSuccess
	}

	if st.Parser != "" && res.Output != "" {
		res.Parsed = Parse(st.Parser, res.Output)
	}
}

func (r *Runner) argv(st config.SuiteStep, m *Manifest) []string {
	pm := r.Config.Suite.PackageManager
	if pm == "" {
		pm = m.PackageManager
	}
	if st.Script != "" {
		return []string{pm, "run", st.Script}
	}
	return append([]string{pm}, st.Args...)
}

// missingNote explains why st cannot run, or returns "" when it can.
func missingNote(st config.SuiteStep, m *Manifest, err error) string {
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NotFound + ": no package.json in project"
		}
		return NotFound + ": " + err.Error()
	}
	if st.Script != "" && !m.HasScript(st.Script) {
		return fmt.Sprintf("%s: script %q is not defined in package.json", NotFound, st.Script)
	}
	return ""
}

func cancelRemaining(results []*report.StepResult) {
	for _, r := range results {
		r.Cancel("cancelled before start")
	}
}

func (r *Runner) manifests() *ManifestCache {
	if r.Manifests == nil {
		return NewManifestCache(1)
	}
	return r.Manifests
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
