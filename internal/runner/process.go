package runner

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Process is a running command started by Runner.Start.
type Process struct {
	ID string

	cmd     *exec.Cmd
	out     *capture
	grace   time.Duration
	started time.Time

	stopOnce sync.Once
	stop     chan struct{} // closed by Terminate
	exited   chan struct{} // closed when cmd.Wait returns
	settled  chan struct{} // closed when supervise returns

	waitErr error
	reason  Kind  // why termination was initiated; empty on natural exit
	signals int32 // termination signals delivered
}

// Terminate asks the process to stop: SIGTERM first, then SIGKILL once the
// grace period elapses. Calling it more than once has no further effect.
func (p *Process) Terminate() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.exited
}

// Wait blocks until the process has exited and returns its result.
func (p *Process) Wait() (*Result, error) {
	<-p.settled

	res := &Result{
		RunID:     p.ID,
		Stdout:    p.out.stdout.Bytes(),
		Stderr:    p.out.stderr.Bytes(),
		Output:    p.out.combined.Bytes(),
		Truncated: p.out.truncated,
		Duration:  time.Since(p.started),
	}

	code, ok := exitCode(p.waitErr)
	if !ok && errors.Is(p.waitErr, exec.ErrWaitDelay) && p.cmd.ProcessState != nil {
		// The command exited; a background child kept the output pipes open.
		code, ok = p.cmd.ProcessState.ExitCode(), true
	}
	res.ExitCode = code

	switch p.reason {
	case KindTimeout:
		return res, &Error{Kind: KindTimeout, Op: p.cmd.Path, Err: errTimeout}
	case KindCanceled:
		return res, &Error{Kind: KindCanceled, Op: p.cmd.Path, Err: errCanceled}
	}
	if !ok {
		return res, &Error{Kind: KindUnknown, Op: p.cmd.Path, Err: p.waitErr}
	}
	return res, nil
}

func (p *Process) wait() {
	p.waitErr = p.cmd.Wait()
	if errors.Is(p.waitErr, exec.ErrWaitDelay) {
		signalProcess(p.cmd, syscall.SIGKILL)
	}
	close(p.exited)
}

// supervise enforces the timeout and handles cancellation with a two-step
// escalation. It is the only goroutine that signals the process.
func (p *Process) supervise(ctx context.Context, timeout time.Duration) {
	defer close(p.settled)

	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	select {
	case <-p.exited:
		return
	case <-deadline:
		p.reason = KindTimeout
	case <-ctx.Done():
		p.reason = KindCanceled
	case <-p.stop:
		p.reason = KindCanceled
	}

	p.signal(syscall.SIGTERM)
	kill := time.NewTimer(p.grace)
	defer kill.Stop()
	select {
	case <-p.exited:
		return
	case <-kill.C:
	}
	p.signal(syscall.SIGKILL)
	<-p.exited
}

func (p *Process) signal(sig syscall.Signal) {
	atomic.AddInt32(&p.signals, 1)
	signalProcess(p.cmd, sig)
}
