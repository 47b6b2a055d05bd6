package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScheduler_ActivateSupersedes(t *testing.T) {
	s := NewScheduler()

	first, prev := s.Activate("a", nil)
	assert.Nil(t, prev)
	assert.Equal(t, Continue, s.ShouldStop(first))

	second, prev := s.Activate("b", nil)
	assert.Same(t, first, prev)
	assert.Equal(t, Superseded, s.ShouldStop(first))
	assert.Equal(t, Continue, s.ShouldStop(second))

	s.Finish(first)
	select {
	case <-first.Done():
	default:
		t.Fatal("finished run should be done")
	}
	assert.True(t, s.Status().Running)
	assert.False(t, s.IsActive("a"))
	assert.True(t, s.IsActive("b"))
}

func TestScheduler_GuardSkipsSupersededRunOfSameJob(t *testing.T) {
	s := NewScheduler()
	old, _ := s.Activate("a", nil)
	_, _ = s.Activate("a", nil)

	called := false
	assert.False(t, s.Guard(old, func() { called = true }))
	assert.False(t, called)

	s.Activate("b", nil)
	// A run of a job that is no longer current may still record its own final state
	newer := &Run{JobID: "c", Generation: 1}
	assert.True(t, s.Guard(newer, func() { called = true }))
	assert.True(t, called)
}

func TestScheduler_RequestPause(t *testing.T) {
	s := NewScheduler()
	assert.False(t, s.RequestPause("", nil))

	run, _ := s.Activate("a", nil)
	assert.False(t, s.RequestPause("b", nil))

	marked := false
	assert.True(t, s.RequestPause("", func() { marked = true }))
	assert.True(t, marked)
	assert.Equal(t, PauseRequested, s.ShouldStop(run))

	status := s.Status()
	assert.False(t, status.Running)
	assert.True(t, status.Pausing)

	s.Finish(run)
	status = s.Status()
	assert.Equal(t, "a", status.CurrentJobID)
	assert.False(t, status.LoopActive)
}

func TestScheduler_AdoptAndForget(t *testing.T) {
	s := NewScheduler()
	s.Adopt("a")
	assert.Equal(t, "a", s.Status().CurrentJobID)

	s.Forget("b")
	assert.Equal(t, "a", s.Status().CurrentJobID)
	s.Forget("a")
	assert.Empty(t, s.Status().CurrentJobID)
}
