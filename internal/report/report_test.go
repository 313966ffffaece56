package report

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummary_PassedIgnoresSkipped(t *testing.T) {
	s := NewSummary()
	s.Add(&StepResult{Name: "lint", Status: StatusSkipped, Note: "NOT_FOUND"})
	s.Add(&StepResult{Name: "build", Status: StatusSuccess})
	s.Finish(time.Now(), false)

	assert.True(t, s.Passed)
	assert.Equal(t, Counts{Total: 2, Run: 1, Passed: 1, Skipped: 1}, s.Counts)
	assert.Equal(t, StatusSuccess, s.Status())
	assert.Equal(t, []string{"lint", "build"}, s.Order)
}

func TestSummary_OptionalFailureFailsRun(t *testing.T) {
	s := NewSummary()
	s.Add(&StepResult{Name: "lint", Status: StatusFailed})
	s.Add(&StepResult{Name: "build", Status: StatusSuccess})
	s.Finish(time.Now(), false)

	assert.False(t, s.Passed)
	assert.Equal(t, StatusFailed, s.Status())
}

func TestSummary_Cancelled(t *testing.T) {
	s := NewSummary()
	s.Add(&StepResult{Name: "build", Status: StatusSuccess})
	s.Add(&StepResult{Name: "test", Status: StatusCancelled})
	s.Finish(time.Now(), true)

	assert.False(t, s.Passed)
	assert.Equal(t, StatusCancelled, s.Status())
	assert.Equal(t, 1, s.Counts.Cancelled)
}

func TestSummary_WorkflowKeys(t *testing.T) {
	s := NewSummary()
	s.Add(&StepResult{Job: "build", Name: "compile", Status: StatusSuccess})
	require.Contains(t, s.Results, "build/compile")
	assert.Len(t, s.Steps(), 1)
}

func TestJobResult_Aggregate(t *testing.T) {
	j := &JobResult{Steps: []*StepResult{
		{Status: StatusSuccess}, {Status: StatusSkipped},
	}}
	assert.Equal(t, StatusSuccess, j.Aggregate())

	j.Steps = append(j.Steps, &StepResult{Status: StatusCancelled})
	assert.Equal(t, StatusCancelled, j.Aggregate())

	j.Steps = append(j.Steps, &StepResult{Status: StatusFailed})
	assert.Equal(t, StatusFailed, j.Aggregate())
}

func TestStepResult_CancelKeepsTerminal(t *testing.T) {
	r := &StepResult{Status: StatusSuccess}
	r.Cancel("run cancelled")
	assert.Equal(t, StatusSuccess, r.Status)

	r = &StepResult{}
	r.Cancel("run cancelled")
	assert.Equal(t, StatusCancelled, r.Status)
}

func TestHistory_EvictsOldest(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Add(&Run{ID: fmt.Sprintf("run-%d", i), Target: "/p", Kind: Suite})
	}

	assert.Equal(t, 3, h.Len())
	_, ok := h.Get("run-0")
	assert.False(t, ok)
	_, ok = h.Get("run-1")
	assert.False(t, ok)

	var ids []string
	for _, r := range h.List(Filter{}) {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"run-4", "run-3", "run-2"}, ids)
}

func TestHistory_GetKeepsOrder(t *testing.T) {
	h := NewHistory(2)
	h.Add(&Run{ID: "a", Kind: Suite})
	h.Add(&Run{ID: "b", Kind: Suite})

	_, ok := h.Get("a")
	require.True(t, ok)
	h.Add(&Run{ID: "c", Kind: Suite})

	_, ok = h.Get("a")
	assert.False(t, ok, "reading a run must not protect it from eviction")

	h.Add(&Run{ID: "b", Kind: Workflow})
	got := h.List(Filter{})
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, Workflow, got[0].Kind)
}

func TestHistory_Filter(t *testing.T) {
	h := NewHistory(10)
	h.Add(&Run{ID: "a", Target: "/one", Kind: Suite})
	h.Add(&Run{ID: "b", Target: "/two", Kind: Suite})
	h.Add(&Run{ID: "c", Target: "/one", Kind: Workflow})
	h.Add(&Run{ID: "d", Target: "/one", Kind: Suite})

	got := h.List(Filter{Target: "/one", Kind: Suite})
	require.Len(t, got, 2)
	assert.Equal(t, "d", got[0].ID)
	assert.Equal(t, "a", got[1].ID)

	got = h.List(Filter{Target: "/one", Limit: 1})
	require.Len(t, got, 1)
	assert.Equal(t, "d", got[0].ID)
}

func TestRun_CloneIsIndependent(t *testing.T) {
	now := time.Now()
	r := &Run{ID: "x", RequestedSteps: []string{"build"}, CompletedAt: &now}
	c := r.Clone()
	c.RequestedSteps[0] = "lint"
	*c.CompletedAt = now.Add(time.Hour)

	assert.Equal(t, "build", r.RequestedSteps[0])
	assert.Equal(t, now, *r.CompletedAt)
}
