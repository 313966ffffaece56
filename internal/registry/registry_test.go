package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/conveyor/internal/report"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(opts ...Option) (*Registry, *clock) {
	c := &clock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	return New(append([]Option{WithClock(c.Now)}, opts...)...), c
}

func suiteReq(target string) Request {
	return Request{Target: target, Kind: report.Suite, Steps: []string{"lint", "build"}}
}

func passed() *report.Summary {
	s := report.NewSummary()
	s.Add(&report.StepResult{Name: "build", Status: report.StatusSuccess})
	s.Finish(time.Now(), false)
	return s
}

func TestCreate(t *testing.T) {
	r, c := newTestRegistry()
	h, err := r.Create(context.Background(), suiteReq("/p"))
	require.NoError(t, err)
	require.NotEmpty(t, h.ID())

	run, err := r.Get(h.ID())
	require.NoError(t, err)
	assert.Equal(t, report.StatusRunning, run.Status)
	assert.Equal(t, "/p", run.Target)
	assert.Equal(t, report.Suite, run.Kind)
	assert.Equal(t, c.Now(), run.StartedAt)
	assert.Nil(t, run.CompletedAt)
	assert.Equal(t, []string{"lint", "build"}, run.RequestedSteps)
	assert.False(t, run.CancelRequested)
}

func TestCreate_SingleFlight(t *testing.T) {
	r, _ := newTestRegistry()
	h, err := r.Create(context.Background(), suiteReq("/p"))
	require.NoError(t, err)

	_, err = r.Create(context.Background(), suiteReq("/p"))
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, h.ID(), conflict.RunID)

	// Another kind or another target is independent.
	_, err = r.Create(context.Background(), Request{Target: "/p", Kind: report.Workflow})
	require.NoError(t, err)
	_, err = r.Create(context.Background(), suiteReq("/q"))
	require.NoError(t, err)

	h.Complete(passed(), nil)
	_, err = r.Create(context.Background(), suiteReq("/p"))
	require.NoError(t, err)
}

func TestCreate_ConcurrentSingleFlight(t *testing.T) {
	r, _ := newTestRegistry()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Create(context.Background(), suiteReq("/p"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 31, conflicts)
	assert.Len(t, r.ListActive(), 1)
}

func TestComplete(t *testing.T) {
	r, c := newTestRegistry()
	h, err := r.Create(context.Background(), suiteReq("/p"))
	require.NoError(t, err)
	c.Advance(3 * time.Second)

	run := h.Complete(passed(), nil)
	require.NotNil(t, run)
	assert.Equal(t, report.StatusSuccess, run.Status)
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, c.Now(), *run.CompletedAt)
	assert.True(t, run.Summary.Passed)

	assert.Error(t, h.Context().Err())
	assert.Empty(t, r.ListActive())
	require.Len(t, r.ListHistory(report.Filter{}), 1)

	// Later calls do not change the outcome.
	failed := report.NewSummary()
	failed.Finish(time.Now(), false)
	failed.Passed = false
	again := h.Complete(failed, nil)
	assert.Equal(t, report.StatusSuccess, again.Status)
}

func TestComplete_Error(t *testing.T) {
	r, _ := newTestRegistry()
	h, err := r.Create(context.Background(), suiteReq("/p"))
	require.NoError(t, err)

	run := h.Complete(nil, fmt.Errorf("loading workflow: boom"))
	assert.Equal(t, report.StatusFailed, run.Status)
	assert.Equal(t, "loading workflow: boom", run.Error)
}

func TestCancel(t *testing.T) {
	r, _ := newTestRegistry()
	h, err := r.Create(context.Background(), suiteReq("/p"))
	require.NoError(t, err)

	run, err := r.Cancel(h.ID())
	require.NoError(t, err)
	assert.Equal(t, report.StatusCancelled, run.Status)
	assert.True(t, run.CancelRequested)
	assert.NotNil(t, run.CompletedAt)
	assert.ErrorIs(t, h.Context().Err(), context.Canceled)

	// Idempotent.
	again, err := r.Cancel(h.ID())
	require.NoError(t, err)
	assert.Equal(t, run.CompletedAt, again.CompletedAt)
	assert.Equal(t, report.StatusCancelled, again.Status)

	// The target stays claimed until the executor finishes.
	_, err = r.Create(context.Background(), suiteReq("/p"))
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	s := report.NewSummary()
	s.Finish(time.Now(), true)
	done := h.Complete(s, nil)
	assert.Equal(t, report.StatusCancelled, done.Status)
	assert.True(t, done.CancelRequested)

	_, err = r.Create(context.Background(), suiteReq("/p"))
	require.NoError(t, err)
}

func TestCancel_AfterLastStep(t *testing.T) {
	r, _ := newTestRegistry()
	h, err := r.Create(context.Background(), suiteReq("/p"))
	require.NoError(t, err)

	// Every step passed, but the cancel lands before the executor completes.
	_, err = r.Cancel(h.ID())
	require.NoError(t, err)
	done := h.Complete(passed(), nil)

	assert.Equal(t, report.StatusCancelled, done.Status)
	require.NotNil(t, done.Summary)
	assert.True(t, done.Summary.Cancelled)
	assert.False(t, done.Summary.Passed)
	assert.Equal(t, report.StatusCancelled, done.Summary.Status())
}

func TestCancel_IdempotentAfterSweep(t *testing.T) {
	r, c := newTestRegistry(WithRetention(time.Minute))
	h, err := r.Create(context.Background(), suiteReq("/p"))
	require.NoError(t, err)
	_, err = r.Cancel(h.ID())
	require.NoError(t, err)
	s := report.NewSummary()
	s.Finish(time.Now(), true)
	h.Complete(s, nil)

	c.Advance(2 * time.Minute)
	require.Equal(t, 1, r.Sweep())

	run, err := r.Cancel(h.ID())
	require.NoError(t, err)
	assert.Equal(t, report.StatusCancelled, run.Status)
}

func TestCancel_Errors(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.Cancel("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	h, err := r.Create(context.Background(), suiteReq("/p"))
	require.NoError(t, err)
	h.Complete(passed(), nil)

	run, err := r.Cancel(h.ID())
	assert.ErrorIs(t, err, ErrNotActive)
	assert.Equal(t, report.StatusSuccess, run.Status)
	assert.False(t, run.CancelRequested)
}

func TestHistory_Capacity(t *testing.T) {
	r, _ := newTestRegistry(WithCapacity(3))
	var ids []string
	for i := 0; i < 5; i++ {
		h, err := r.Create(context.Background(), suiteReq("/p"))
		require.NoError(t, err)
		h.Complete(passed(), nil)
		ids = append(ids, h.ID())
	}

	hist := r.ListHistory(report.Filter{})
	require.Len(t, hist, 3)
	assert.Equal(t, ids[4], hist[0].ID)
	assert.Equal(t, ids[2], hist[2].ID)

	limited := r.ListHistory(report.Filter{Target: "/p", Limit: 2})
	assert.Len(t, limited, 2)
	assert.Empty(t, r.ListHistory(report.Filter{Target: "/other"}))
}

func TestRetention(t *testing.T) {
	r, c := newTestRegistry(WithCapacity(1), WithRetention(time.Hour))

	first, err := r.Create(context.Background(), suiteReq("/p"))
	require.NoError(t, err)
	first.Complete(passed(), nil)

	second, err := r.Create(context.Background(), suiteReq("/p"))
	require.NoError(t, err)
	second.Complete(passed(), nil)

	// Pushed out of history, still pollable within the retention window.
	_, err = r.Get(first.ID())
	require.NoError(t, err)

	c.Advance(59 * time.Minute)
	assert.Zero(t, r.Sweep())

	c.Advance(2 * time.Minute)
	assert.Equal(t, 2, r.Sweep())

	_, err = r.Get(first.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Get(second.ID())
	assert.NoError(t, err, "still in history")
}

func TestRetention_LazyEviction(t *testing.T) {
	r, c := newTestRegistry(WithCapacity(1), WithRetention(time.Minute))
	a, err := r.Create(context.Background(), suiteReq("/a"))
	require.NoError(t, err)
	a.Complete(passed(), nil)
	b, err := r.Create(context.Background(), suiteReq("/b"))
	require.NoError(t, err)
	b.Complete(passed(), nil)

	c.Advance(2 * time.Minute)
	_, err = r.Get(a.ID())
	assert.ErrorIs(t, err, ErrNotFound)
}

type fakeLive struct{ cur *report.CurrentStep }

func (f fakeLive) Current() *report.CurrentStep { return f.cur }

func TestGet_LiveStep(t *testing.T) {
	r, _ := newTestRegistry()
	h, err := r.Create(context.Background(), Request{Target: "/p", Kind: report.Workflow, Label: "ci.yml"})
	require.NoError(t, err)
	h.Attach(fakeLive{cur: &report.CurrentStep{Job: "build", Step: "compile", Output: "tsc\n"}})

	run, err := r.Get(h.ID())
	require.NoError(t, err)
	require.NotNil(t, run.CurrentStep)
	assert.Equal(t, "compile", run.CurrentStep.Step)
	assert.Equal(t, "tsc\n", run.CurrentStepOutput)
	assert.Equal(t, "ci.yml", run.Label)

	h.Complete(passed(), nil)
	run, err = r.Get(h.ID())
	require.NoError(t, err)
	assert.Nil(t, run.CurrentStep)
}

func TestWait(t *testing.T) {
	r, _ := newTestRegistry()
	h, err := r.Create(context.Background(), suiteReq("/p"))
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		h.Complete(passed(), nil)
	}()

	run, err := r.Wait(context.Background(), h.ID())
	require.NoError(t, err)
	assert.Equal(t, report.StatusSuccess, run.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	other, err := r.Create(context.Background(), suiteReq("/q"))
	require.NoError(t, err)
	_, err = r.Wait(ctx, other.ID())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCreate_ParentContext(t *testing.T) {
	r, _ := newTestRegistry()
	parent, cancel := context.WithCancel(context.Background())
	h, err := r.Create(parent, suiteReq("/p"))
	require.NoError(t, err)

	cancel()
	assert.Error(t, h.Context().Err())
}
