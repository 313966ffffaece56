package workflow

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/conveyor/internal/progress"
	"github.com/deixis/conveyor/internal/report"
	"github.com/deixis/conveyor/internal/runner"
)

// fakeRunner is a test double for CommandRunner. Results are keyed by the
// script passed to the shell.
type fakeRunner struct {
	mu      sync.Mutex
	Results map[string]*runner.Result
	Hook    func(ctx context.Context, cmd runner.Command) (*runner.Result, error)
	Cmds    []runner.Command
}

func (f *fakeRunner) Run(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
	f.mu.Lock()
	f.Cmds = append(f.Cmds, cmd)
	f.mu.Unlock()

	script := cmd.Argv[len(cmd.Argv)-1]
	if f.Hook != nil {
		if res, err := f.Hook(ctx, cmd); res != nil || err != nil {
			return res, err
		}
	}
	if r, ok := f.Results[script]; ok {
		return r, nil
	}
	return &runner.Result{Output: []byte(script + "\n")}, nil
}

func (f *fakeRunner) scripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.Cmds {
		out = append(out, c.Argv[len(c.Argv)-1])
	}
	return out
}

func mustParse(t *testing.T, src string) *Document {
	t.Helper()
	doc, err := Parse([]byte(src))
	require.NoError(t, err)
	return doc
}

const twoJobs = `
jobs:
  build:
    steps:
      - id: install
        run: npm ci
      - uses: actions/cache@v4
      - id: compile
        run: npm run build
  test:
    needs: build
    steps:
      - id: unit
        run: npm test
`

func TestRun_AllSteps(t *testing.T) {
	root := t.TempDir()
	fr := &fakeRunner{}
	r := &Runner{Runner: fr}

	s := r.Run(context.Background(), mustParse(t, twoJobs), Options{Root: root})

	assert.True(t, s.Passed)
	assert.Equal(t, []string{"npm ci", "npm run build", "npm test"}, fr.scripts())
	assert.Equal(t, report.StatusSkipped, s.Results["build/step-2"].Status)
	assert.Contains(t, s.Results["build/step-2"].Note, "actions/cache@v4")
	require.Len(t, s.Jobs, 2)
	assert.Equal(t, report.StatusSuccess, s.Jobs[0].Status)
	assert.Equal(t, report.StatusSuccess, s.Jobs[1].Status)
	assert.Equal(t, "npm ci\n", s.Results["build/install"].Output)
}

func TestRun_EmptySelectionSkipsEverything(t *testing.T) {
	fr := &fakeRunner{}
	s := (&Runner{Runner: fr}).Run(context.Background(), mustParse(t, twoJobs), Options{
		Root:     t.TempDir(),
		Selected: []string{},
	})

	assert.True(t, s.Passed)
	assert.Empty(t, fr.scripts())
	assert.Equal(t, 4, s.Counts.Skipped)
}

func TestRun_Selection(t *testing.T) {
	fr := &fakeRunner{}
	s := (&Runner{Runner: fr}).Run(context.Background(), mustParse(t, twoJobs), Options{
		Root:     t.TempDir(),
		Selected: []string{"build/compile", "unit"},
	})

	assert.True(t, s.Passed)
	assert.Equal(t, []string{"npm run build", "npm test"}, fr.scripts())
	assert.Equal(t, "not selected", s.Results["build/install"].Note)
}

func TestRun_FailFast(t *testing.T) {
	fr := &fakeRunner{Results: map[string]*runner.Result{
		"npm run build": {ExitCode: 1, Output: []byte("error\n")},
	}}
	s := (&Runner{Runner: fr}).Run(context.Background(), mustParse(t, twoJobs), Options{Root: t.TempDir()})

	assert.False(t, s.Passed)
	assert.Equal(t, []string{"npm ci", "npm run build"}, fr.scripts())
	assert.Equal(t, report.StatusFailed, s.Results["build/compile"].Status)
	assert.Equal(t, report.StatusSkipped, s.Results["test/unit"].Status)
	assert.Contains(t, s.Results["test/unit"].Note, `"build/compile" failed`)
	assert.Equal(t, report.StatusFailed, s.Jobs[0].Status)
}

func TestRun_WorkingDirectoryPrecedence(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"doc", "job", "step"} {
		require.NoError(t, os.Mkdir(filepath.Join(root, d), 0o755))
	}
	doc := mustParse(t, `
defaults:
  run:
    working-directory: doc
jobs:
  a:
    steps:
      - id: from-doc
        run: pwd
  b:
    defaults:
      run:
        working-directory: job
    steps:
      - id: from-job
        run: pwd
      - id: from-step
        run: pwd -P
        working-directory: step
`)
	fr := &fakeRunner{}
	s := (&Runner{Runner: fr}).Run(context.Background(), doc, Options{Root: root})
	require.True(t, s.Passed)

	require.Len(t, fr.Cmds, 3)
	assert.Equal(t, filepath.Join(root, "doc"), fr.Cmds[0].Dir)
	assert.Equal(t, filepath.Join(root, "job"), fr.Cmds[1].Dir)
	assert.Equal(t, filepath.Join(root, "step"), fr.Cmds[2].Dir)
}

func TestRun_WorkingDirectoryOutsideRoot(t *testing.T) {
	doc := mustParse(t, `
jobs:
  a:
    steps:
      - id: escape
        run: cat /etc/passwd
        working-directory: ../../
      - id: after
        run: echo never
`)
	fr := &fakeRunner{}
	s := (&Runner{Runner: fr}).Run(context.Background(), doc, Options{Root: t.TempDir()})

	assert.False(t, s.Passed)
	assert.Empty(t, fr.scripts())
	escape := s.Results["a/escape"]
	assert.Equal(t, report.StatusFailed, escape.Status)
	assert.Equal(t, string(runner.KindOutsideWorkspace), escape.ErrorKind)
	assert.Equal(t, report.StatusSkipped, s.Results["a/after"].Status)
}

func TestRun_SymlinkOutsideRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Symlink(t.TempDir(), filepath.Join(root, "link")))
	doc := mustParse(t, "jobs:\n  a:\n    steps:\n      - run: ls\n        working-directory: link\n")

	fr := &fakeRunner{}
	s := (&Runner{Runner: fr}).Run(context.Background(), doc, Options{Root: root})

	assert.Empty(t, fr.scripts())
	assert.Equal(t, string(runner.KindOutsideWorkspace), s.Results["a/step-1"].ErrorKind)
}

func TestRun_MissingWorkingDirectory(t *testing.T) {
	doc := mustParse(t, "jobs:\n  a:\n    steps:\n      - run: ls\n        working-directory: nope\n")
	fr := &fakeRunner{}
	s := (&Runner{Runner: fr}).Run(context.Background(), doc, Options{Root: t.TempDir()})

	assert.Empty(t, fr.scripts())
	assert.Equal(t, report.StatusFailed, s.Results["a/step-1"].Status)
	assert.Equal(t, string(runner.KindNotFound), s.Results["a/step-1"].ErrorKind)
}

func TestRun_Environment(t *testing.T) {
	root := t.TempDir()
	doc := mustParse(t, `
env:
  LEVEL: doc
  DOC_ONLY: "1"
jobs:
  a:
    env:
      LEVEL: job
    steps:
      - run: env
        env:
          LEVEL: step
          STEP_ONLY: "1"
`)
	fr := &fakeRunner{}
	(&Runner{Runner: fr}).Run(context.Background(), doc, Options{Root: root, Env: map[string]string{"TOKEN": "x"}})

	require.Len(t, fr.Cmds, 1)
	env := fr.Cmds[0].Env
	assert.Equal(t, "step", env["LEVEL"])
	assert.Equal(t, "1", env["DOC_ONLY"])
	assert.Equal(t, "1", env["STEP_ONLY"])
	assert.Equal(t, "x", env["TOKEN"])
	assert.Equal(t, "true", env["CI"])
	assert.Equal(t, root, env["GITHUB_WORKSPACE"])
	assert.Equal(t, "a", env["GITHUB_JOB"])
}

func TestRun_Shell(t *testing.T) {
	r := &Runner{}
	assert.Equal(t, []string{"sh", "-e", "-c", "true"}, r.shellArgv("sh", "true"))
	assert.Equal(t, []string{"python3", "-c", "print(1)"}, r.shellArgv("python3", "print(1)"))

	argv := r.shellArgv("", "true")
	assert.Equal(t, "true", argv[len(argv)-1])
	assert.Contains(t, []string{"bash", "sh"}, argv[0])
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fr := &fakeRunner{}

	s := (&Runner{Runner: fr}).Run(ctx, mustParse(t, twoJobs), Options{Root: t.TempDir()})

	assert.Empty(t, fr.scripts())
	assert.True(t, s.Cancelled)
	assert.False(t, s.Passed)
	assert.Equal(t, 4, s.Counts.Cancelled)
	assert.Equal(t, report.StatusCancelled, s.Jobs[1].Status)
}

func TestRun_CancelledMidStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tracker := progress.NewTracker(0)
	seen := make(chan *report.CurrentStep, 1)
	fr := &fakeRunner{Hook: func(ctx context.Context, cmd runner.Command) (*runner.Result, error) {
		if cmd.Argv[len(cmd.Argv)-1] != "npm run build" {
			return nil, nil
		}
		cmd.OnOutput(runner.Chunk{Stream: runner.Stdout, Data: []byte("compiling\n")})
		seen <- tracker.Current()
		cancel()
		<-ctx.Done()
		return &runner.Result{ExitCode: -1}, &runner.Error{Kind: runner.KindCanceled, Op: "bash"}
	}}

	s := (&Runner{Runner: fr}).Run(ctx, mustParse(t, twoJobs), Options{Root: t.TempDir(), Tracker: tracker})

	cur := <-seen
	require.NotNil(t, cur)
	assert.Equal(t, "build", cur.Job)
	assert.Equal(t, "compile", cur.Step)
	assert.Equal(t, "compiling\n", cur.Output)
	assert.Nil(t, tracker.Current())

	assert.Equal(t, report.StatusSuccess, s.Results["build/install"].Status)
	assert.Equal(t, report.StatusCancelled, s.Results["build/compile"].Status)
	assert.Equal(t, report.StatusCancelled, s.Results["test/unit"].Status)
	assert.True(t, s.Cancelled)
	assert.Equal(t, report.StatusCancelled, s.Status())
}

func TestRun_Events(t *testing.T) {
	doc := mustParse(t, "jobs:\n  a:\n    steps:\n      - id: hello\n        run: echo hi\n")
	ch := make(chan progress.Event, 16)
	(&Runner{Runner: &fakeRunner{Hook: func(_ context.Context, cmd runner.Command) (*runner.Result, error) {
		cmd.OnOutput(runner.Chunk{Stream: runner.Stdout, Data: []byte("hi\n")})
		return &runner.Result{Output: []byte("hi\n")}, nil
	}}}).Run(context.Background(), doc, Options{Root: t.TempDir(), Events: ch})
	close(ch)

	var got []progress.Type
	for e := range ch {
		got = append(got, e.Type)
		if e.Type == progress.Output {
			assert.Equal(t, "a", e.Job)
			assert.Equal(t, "hello", e.Step)
		}
	}
	assert.Equal(t, []progress.Type{
		progress.Progress, progress.StepStarted, progress.Output, progress.StepCompleted, progress.Complete,
	}, got)
}

func TestRun_TimeoutKillsStep(t *testing.T) {
	root := t.TempDir()
	exec := &runner.Runner{Workspace: root, GracePeriod: 200 * time.Millisecond}
	r := &Runner{Runner: exec, Timeout: 200 * time.Millisecond}
	doc := mustParse(t, "jobs:\n  a:\n    steps:\n      - id: hang\n        run: sleep 30\n        shell: sh\n")

	start := time.Now()
	s := r.Run(context.Background(), doc, Options{Root: root})

	assert.Less(t, time.Since(start), 5*time.Second)
	hang := s.Results["a/hang"]
	assert.Equal(t, report.StatusFailed, hang.Status)
	assert.Equal(t, string(runner.KindTimeout), hang.ErrorKind)
}

func TestRun_RealShell(t *testing.T) {
	root := t.TempDir()
	exec := &runner.Runner{Workspace: root, Timeout: 10 * time.Second}
	doc := mustParse(t, `
jobs:
  a:
    steps:
      - id: greet
        shell: sh
        run: echo "hello $WHO"
        env:
          WHO: conveyor
      - id: fail
        shell: sh
        run: exit 4
`)
	s := (&Runner{Runner: exec}).Run(context.Background(), doc, Options{Root: root})

	assert.Equal(t, "hello conveyor\n", s.Results["a/greet"].Output)
	assert.Equal(t, 4, s.Results["a/fail"].ExitCode)
	assert.False(t, s.Passed)
}
