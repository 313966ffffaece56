package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter_NilDiscards(t *testing.T) {
	var em Emitter
	em.Emit(Event{Type: Output})
}

func TestEmitter_StampsTime(t *testing.T) {
	ch := make(chan Event, 1)
	Emitter(ch).Emit(Event{Type: Output, Data: "x"})
	e := <-ch
	assert.Equal(t, "x", e.Data)
	assert.False(t, e.Time.IsZero())
}

func TestTracker(t *testing.T) {
	tr := NewTracker(0)
	assert.Nil(t, tr.Current())

	tr.Append("ignored")
	tr.Begin("build", "compile")
	tr.Append("line 1\n")
	tr.Append("line 2\n")

	cur := tr.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "build", cur.Job)
	assert.Equal(t, "compile", cur.Step)
	assert.Equal(t, "line 1\nline 2\n", cur.Output)
	assert.False(t, cur.UpdatedAt.IsZero())

	tr.Begin("build", "test")
	assert.Empty(t, tr.Current().Output)

	tr.End()
	assert.Nil(t, tr.Current())
}

func TestTracker_NilSafe(t *testing.T) {
	var tr *Tracker
	assert.Nil(t, tr.Current())
}

func TestTracker_KeepsTail(t *testing.T) {
	tr := NewTracker(8)
	tr.Begin("", "lint")
	tr.Append("0123")
	tr.Append("456789")
	assert.Equal(t, "23456789", tr.Current().Output)

	tr.Append("abcdefghijk")
	assert.Equal(t, "defghijk", tr.Current().Output)

	tr.Begin("", "build")
	tr.Append("ok")
	assert.Equal(t, "ok", tr.Current().Output)
}
