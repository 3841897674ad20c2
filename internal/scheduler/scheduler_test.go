package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleWithEmptyContextRunsImmediately(t *testing.T) {
	s := New()
	ran := false
	s.Schedule("", "owner", nil, func() { ran = true })
	assert.True(t, ran, "a zero-value ContextID must never be queued")
}

func TestRunContextRunsEachOwnerOnceInDependencyOrder(t *testing.T) {
	s := New()
	var order []string
	s.Schedule("ctx1", "b", []Owner{"a"}, func() { order = append(order, "b") })
	s.Schedule("ctx1", "a", nil, func() { order = append(order, "a") })
	// Scheduling the same owner twice within a context keeps the latest run
	// and the original deps, coalescing into a single job.
	s.Schedule("ctx1", "b", nil, func() { order = append(order, "b2") })

	require.NoError(t, s.RunContext("ctx1"))
	assert.Equal(t, []string{"a", "b2"}, order)
}

func TestRunContextRunsEachJobExactlyOnceEvenWithSharedDeps(t *testing.T) {
	s := New()
	runs := map[string]int{}
	s.Schedule("ctx1", "p", nil, func() { runs["p"]++ })
	s.Schedule("ctx1", "c1", []Owner{"p"}, func() { runs["c1"]++ })
	s.Schedule("ctx1", "c2", []Owner{"p"}, func() { runs["c2"]++ })

	require.NoError(t, s.RunContext("ctx1"))
	assert.Equal(t, 1, runs["p"])
	assert.Equal(t, 1, runs["c1"])
	assert.Equal(t, 1, runs["c2"])
}

func TestRunContextDetectsCycle(t *testing.T) {
	s := New()
	s.Schedule("ctx1", "a", []Owner{"b"}, func() {})
	s.Schedule("ctx1", "b", []Owner{"a"}, func() {})
	assert.Error(t, s.RunContext("ctx1"))
}

func TestRunContextIsIdempotentForAnUnknownContext(t *testing.T) {
	s := New()
	assert.NoError(t, s.RunContext("never-scheduled"))
}

func TestClearDiscardsJobsWithoutRunningThem(t *testing.T) {
	s := New()
	ran := false
	s.Schedule("ctx1", "a", nil, func() { ran = true })

	var cleared ContextID
	s.OnClear(func(ctxID ContextID) { cleared = ctxID })
	s.Clear("ctx1")

	require.NoError(t, s.RunContext("ctx1"))
	assert.False(t, ran, "Clear must discard the job before it ever runs")
	assert.Equal(t, ContextID("ctx1"), cleared)
}

func TestFlushContextRunsEveryQueuedJobAcrossSchedulers(t *testing.T) {
	s1, s2 := New(), New()
	var ran []string
	s1.Schedule("ctx1", "a", nil, func() { ran = append(ran, "s1:a") })
	s2.Schedule("ctx1", "b", nil, func() { ran = append(ran, "s2:b") })

	require.NoError(t, FlushContext("ctx1"))
	assert.ElementsMatch(t, []string{"s1:a", "s2:b"}, ran)

	// A second flush of the same (now-forgotten) context must be a no-op,
	// not a re-run.
	require.NoError(t, FlushContext("ctx1"))
	assert.ElementsMatch(t, []string{"s1:a", "s2:b"}, ran)
}

func TestFlushContextOfEmptyContextIDIsNoop(t *testing.T) {
	assert.NoError(t, FlushContext(""))
}
