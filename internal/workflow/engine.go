// Package workflow executes GitHub-Actions-style workflow files: jobs run in
// document order and each job runs its shell steps one after another.
// It is consumed by the run service, the MCP server, and the CLI.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/deixis/conveyor/internal/progress"
	"github.com/deixis/conveyor/internal/report"
	"github.com/deixis/conveyor/internal/runner"
)

// CommandRunner executes commands within a workspace.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, cmd runner.Command) (*runner.Result, error)
}

// Runner executes workflow documents.
type Runner struct {
	Runner  CommandRunner
	Shell   string        // default shell; "bash" when empty
	Timeout time.Duration // default step timeout; zero defers to the CommandRunner
	Logger  *slog.Logger
}

// Options carries per-run inputs.
type Options struct {
	// Root is the target directory. Step working directories must stay
	// inside it.
	Root string

	// Selected lists the steps to execute, as "job/step" or bare step ids.
	// Nil executes every step; an empty non-nil slice executes none.
	Selected []string

	// Env is overlaid on every step environment and wins over the
	// document, job, and step env blocks.
	Env map[string]string

	Events  progress.Emitter
	Tracker *progress.Tracker
}

// Run executes doc and returns its summary. It never fails: step errors
// are recorded in the results. The first failing step stops the run and
// the steps after it are skipped. Cancelling ctx terminates the step in
// flight and marks it and every later step cancelled.
func (r *Runner) Run(ctx context.Context, doc *Document, opts Options) *report.Summary {
	started := time.Now()
	log := r.logger().With("workflow", doc.Name, "root", opts.Root)
	em := opts.Events
	selected := selection(opts.Selected)

	summary := report.NewSummary()
	results := make(map[*Step]*report.StepResult)
	total := 0
	for _, job := range doc.Jobs {
		jr := &report.JobResult{ID: job.ID, Name: job.Name}
		for _, step := range job.Steps {
			res := &report.StepResult{Job: job.ID, Name: step.ID}
			results[step] = res
			jr.Steps = append(jr.Steps, res)
			summary.Add(res)
			total++
		}
		summary.Jobs = append(summary.Jobs, jr)
	}

	var (
		halted    string
		cancelled bool
		index     int
	)
	for _, job := range doc.Jobs {
		for _, step := range job.Steps {
			res := results[step]
			index++

			switch {
			case halted != "":
				res.Skip(halted)
				continue
			case cancelled:
				res.Cancel("cancelled before start")
				continue
			case ctx.Err() != nil:
				cancelled = true
				res.Cancel("cancelled before start")
				continue
			}

			em.Emit(progress.Event{Type: progress.Progress, Job: job.ID, Step: step.ID, Current: index, Total: total})

			if !step.Executable() {
				res.Skip("action steps are not executed: " + step.Uses)
				em.Emit(progress.Event{Type: progress.StepCompleted, Job: job.ID, Step: step.ID, Result: res})
				continue
			}
			if !selected(job.ID, step.ID) {
				res.Skip("not selected")
				em.Emit(progress.Event{Type: progress.StepCompleted, Job: job.ID, Step: step.ID, Result: res})
				continue
			}

			r.execute(ctx, doc, job, step, res, opts)
			log.Info("step finished", "job", job.ID, "step", step.ID, "status", res.Status, "duration_ms", res.Duration)
			em.Emit(progress.Event{Type: progress.StepCompleted, Job: job.ID, Step: step.ID, Result: res})

			switch res.Status {
			case report.StatusCancelled:
				cancelled = true
			case report.StatusFailed:
				halted = fmt.Sprintf("not run: step %q failed", res.Key())
			}
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

func (r *Runner) execute(ctx context.Context, doc *Document, job *Job, step *Step, res *report.StepResult, opts Options) {
	em := opts.Events
	res.Status = report.StatusRunning
	res.StartedAt = time.Now()
	em.Emit(progress.Event{Type: progress.StepStarted, Job: job.ID, Step: step.ID})

	dir, err := resolveWorkingDir(opts.Root, doc, job, step)
	if err != nil {
		res.Finish(time.Now())
		res.Status = report.StatusFailed
		res.Error = err.Error()
		res.ErrorKind = string(runner.KindOf(err))
		return
	}

	opts.Tracker.Begin(job.ID, step.ID)
	defer opts.Tracker.End()

	timeout := step.Timeout(job)
	if timeout <= 0 {
		timeout = r.Timeout
	}
	cmd := runner.Command{
		Argv:    r.shellArgv(shellFor(doc, job, step), step.Run),
		Dir:     dir,
		Env:     stepEnv(doc, job, step, opts),
		Timeout: timeout,
		OnOutput: func(c runner.Chunk) {
			data := string(c.Data)
			opts.Tracker.Append(data)
			em.Emit(progress.Event{Type: progress.Output, Job: job.ID, Step: step.ID, Data: data})
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
}

// resolveWorkingDir picks the step directory (step, then job default, then
// document default, then root) and checks that it exists inside root,
// following symlinks.
func resolveWorkingDir(root string, doc *Document, job *Job, step *Step) (string, error) {
	wd := step.WorkingDirectory
	if wd == "" {
		wd = job.Defaults.Run.WorkingDirectory
	}
	if wd == "" {
		wd = doc.Defaults.Run.WorkingDirectory
	}

	dir, err := runner.ResolveDir(root, wd)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(dir)
	if err != nil {
		return "", &runner.Error{Kind: runner.KindNotFound, Op: wd, Err: fmt.Errorf("working directory: %w", err)}
	}
	if !info.IsDir() {
		return "", &runner.Error{Kind: runner.KindNotFound, Op: wd, Err: fmt.Errorf("working directory %q is not a directory", wd)}
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", &runner.Error{Kind: runner.KindNotFound, Op: root, Err: err}
	}
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", &runner.Error{Kind: runner.KindNotFound, Op: wd, Err: err}
	}
	if _, err := runner.ResolveDir(realRoot, realDir); err != nil {
		return "", err
	}
	return dir, nil
}

func shellFor(doc *Document, job *Job, step *Step) string {
	for _, s := range []string{step.Shell, job.Defaults.Run.Shell, doc.Defaults.Run.Shell} {
		if s != "" {
			return s
		}
	}
	return ""
}

// shellArgv builds the argv for script. bash and sh get fail-fast flags;
// any other shell is invoked as "<shell> -c <script>". When bash is not
// installed, sh is used instead.
func (r *Runner) shellArgv(shell, script string) []string {
	if shell == "" {
		shell = r.Shell
	}
	if shell == "" {
		shell = "bash"
	}
	if shell == "bash" {
		if _, err := exec.LookPath("bash"); err != nil {
			shell = "sh"
		}
	}

	switch shell {
	case "bash":
		return []string{"bash", "--noprofile", "--norc", "-eo", "pipefail", "-c", script}
	case "sh":
		return []string{"sh", "-e", "-c", script}
	}
	return []string{shell, "-c", script}
}

// stepEnv merges, lowest precedence first: document env, job env, step
// env, the request overlay. CI markers are always set.
func stepEnv(doc *Document, job *Job, step *Step, opts Options) map[string]string {
	env := map[string]string{
		"CI":               "true",
		"GITHUB_WORKSPACE": opts.Root,
		"GITHUB_JOB":       job.ID,
	}
	for _, m := range []map[string]string{doc.Env, job.Env, step.Env, opts.Env} {
		for k, v := range m {
			env[k] = v
		}
	}
	return env
}

// selection returns a predicate over (job, step) ids.
func selection(ids []string) func(job, step string) bool {
	if ids == nil {
		return func(string, string) bool { return true }
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[strings.TrimSpace(id)] = true
	}
	return func(job, step string) bool {
		return set[job+"/"+step] || set[step]
	}
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
