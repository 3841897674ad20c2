package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydb/relaydb/internal/multiset"
	"github.com/relaydb/relaydb/internal/operator"
	"github.com/relaydb/relaydb/internal/rowkey"
)

func TestInputReusesTheSameBufferForAnAlias(t *testing.T) {
	g := New()
	a1 := g.Input("a")
	a2 := g.Input("a")
	assert.Same(t, a1, a2)
}

func TestInputAfterFinalizePanicsForAnUnregisteredAlias(t *testing.T) {
	g := New()
	g.Input("a")
	g.Finalize()
	assert.Panics(t, func() { g.Input("b") })
	assert.NotPanics(t, func() { g.Input("a") }, "an already-registered alias stays usable after Finalize")
}

func TestAddNodeAfterFinalizePanics(t *testing.T) {
	g := New()
	g.Finalize()
	assert.Panics(t, func() { g.AddNode(operator.NewOutput(operator.NewBuffer(), func([]multiset.Change) {})) })
}

func TestRunPropagatesNodesInAddedOrder(t *testing.T) {
	g := New()
	in := g.Input("a")
	filtered := operator.NewFilter(in, func(v any) bool { return v.(int) > 1 })
	var got []multiset.Change
	g.AddNode(filtered)
	g.AddNode(operator.NewOutput(filtered.Out, func(changes []multiset.Change) { got = append(got, changes...) }))
	g.Finalize()

	in.Accumulate(rowkey.Of(1), 1, 1)
	in.Accumulate(rowkey.Of(2), 2, 1)
	require.NoError(t, g.Run())

	require.Len(t, got, 1)
	assert.Equal(t, rowkey.Of(2), got[0].Key)
}

func TestPendingWorkReflectsUndrainedInputs(t *testing.T) {
	g := New()
	in := g.Input("a")
	g.Finalize()
	assert.False(t, g.PendingWork())

	in.Accumulate(rowkey.Of(1), 1, 1)
	assert.True(t, g.PendingWork())

	require.NoError(t, g.Run())
	assert.False(t, g.PendingWork())
}

func TestRunIsReentrancyGuarded(t *testing.T) {
	g := New()
	in := g.Input("a")
	var nestedErr error
	g.AddNode(operator.NewOutput(in, func([]multiset.Change) {
		nestedErr = g.Run()
	}))
	g.Finalize()

	in.Accumulate(rowkey.Of(1), 1, 1)
	require.NoError(t, g.Run())
	assert.Error(t, nestedErr, "a nested Run from within a sink callback must be rejected")
}
