// Package runner provides supervised command execution with workspace bounds,
// timeouts, graceful termination, and live output streaming.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Defaults applied when the Runner fields are zero.
const (
	DefaultGracePeriod = 5 * time.Second
	DefaultMaxOutput   = 1 << 20 // 1 MB
)

// Runner executes commands within a workspace boundary.
type Runner struct {
	Workspace   string
	Timeout     time.Duration // default per-command timeout; zero disables it
	GracePeriod time.Duration // time between SIGTERM and SIGKILL
	MaxOutput   int           // bytes kept per stream
}

// Stream identifies the origin of an output chunk.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Chunk is a piece of process output delivered as it arrives.
type Chunk struct {
	Stream Stream
	Data   []byte
}

// Command describes a single process invocation.
type Command struct {
	Argv []string
	Dir  string            // relative to the workspace, or absolute inside it
	Env  map[string]string // overlaid on the current process environment

	// Timeout overrides Runner.Timeout when positive.
	Timeout time.Duration

	// OnOutput receives every chunk synchronously, in arrival order.
	// Calls are serialised across stdout and stderr.
	OnOutput func(Chunk)
}

// Run starts cmd and waits for it to finish. A non-zero exit is reported in
// Result.ExitCode, not as an error. On timeout or cancellation the partial
// Result is returned together with an *Error of kind KindTimeout or
// KindCanceled.
func (r *Runner) Run(ctx context.Context, cmd Command) (*Result, error) {
	p, err := r.Start(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return p.Wait()
}

// Start spawns cmd and returns a handle to the running process.
// The process is terminated when ctx is cancelled.
func (r *Runner) Start(ctx context.Context, cmd Command) (*Process, error) {
	if len(cmd.Argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}

	dir, err := ResolveDir(r.Workspace, cmd.Dir)
	if err != nil {
		return nil, err
	}

	timeout := r.Timeout
	if cmd.Timeout > 0 {
		timeout = cmd.Timeout
	}
	grace := r.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	maxOutput := r.MaxOutput
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}

	c := exec.Command(cmd.Argv[0], cmd.Argv[1:]...)
	c.Dir = dir
	c.Env = mergeEnv(os.Environ(), cmd.Env)
	setProcessGroup(c)
	// Bounds Wait when a grandchild keeps the pipes open after the kill.
	c.WaitDelay = grace

	out := newCapture(maxOutput, cmd.OnOutput)
	c.Stdout = out.writer(Stdout)
	c.Stderr = out.writer(Stderr)

	p := &Process{
		ID:      uuid.New().String(),
		cmd:     c,
		out:     out,
		grace:   grace,
		stop:    make(chan struct{}),
		exited:  make(chan struct{}),
		settled: make(chan struct{}),
	}

	p.started = time.Now()
	if err := c.Start(); err != nil {
		return nil, classifySpawn(cmd.Argv[0], err)
	}

	go p.wait()
	go p.supervise(ctx, timeout)
	return p, nil
}

// ResolveDir resolves dir relative to root and validates that it stays
// within root. An empty dir resolves to root itself.
func ResolveDir(root, dir string) (string, error) {
	if dir == "" {
		return root, nil
	}

	var resolved string
	if filepath.IsAbs(dir) {
		resolved = filepath.Clean(dir)
	} else {
		resolved = filepath.Clean(filepath.Join(root, dir))
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return "", &Error{Kind: KindOutsideWorkspace, Op: dir, Err: err}
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &Error{
			Kind: KindOutsideWorkspace,
			Op:   dir,
			Err:  fmt.Errorf("directory %q is outside workspace %q", dir, root),
		}
	}
	return resolved, nil
}

// mergeEnv overlays env on base. Later keys win.
func mergeEnv(base []string, env map[string]string) []string {
	if len(env) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(env))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := env[k]; ok {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// exitCode extracts the process exit status from a Wait error.
func exitCode(err error) (int, bool) {
	if err == nil {
		return 0, true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return -1, false
}
