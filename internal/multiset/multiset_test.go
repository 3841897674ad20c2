package multiset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydb/relaydb/internal/rowkey"
)

func TestClassification(t *testing.T) {
	t.Run("insert only is enter", func(t *testing.T) {
		m := New()
		m.Accumulate(rowkey.Of("k1"), "v1", 1)
		changes := m.Drain()
		require.Len(t, changes, 1)
		assert.Equal(t, Enter, changes[0].Kind)
		assert.Equal(t, "v1", changes[0].Value)
	})

	t.Run("delete only is exit", func(t *testing.T) {
		m := New()
		m.Accumulate(rowkey.Of("k1"), "v1", -1)
		changes := m.Drain()
		require.Len(t, changes, 1)
		assert.Equal(t, Exit, changes[0].Kind)
		assert.Equal(t, "v1", changes[0].PreviousValue)
	})

	t.Run("insert and delete is update", func(t *testing.T) {
		m := New()
		m.Accumulate(rowkey.Of("k1"), "old", -1)
		m.Accumulate(rowkey.Of("k1"), "new", 1)
		changes := m.Drain()
		require.Len(t, changes, 1)
		assert.Equal(t, Update, changes[0].Kind)
		assert.Equal(t, "new", changes[0].Value)
		assert.Equal(t, "old", changes[0].PreviousValue)
	})

	t.Run("equal insert and delete counts drop", func(t *testing.T) {
		m := New()
		m.Accumulate(rowkey.Of("k1"), "v", 1)
		m.Accumulate(rowkey.Of("k1"), "v", -1)
		changes := m.Drain()
		assert.Empty(t, changes)
	})

	t.Run("drain empties the multiset", func(t *testing.T) {
		m := New()
		m.Accumulate(rowkey.Of("k1"), "v1", 1)
		m.Drain()
		assert.True(t, m.IsEmpty())
		assert.Empty(t, m.Drain())
	})
}

func TestRowFingerprint(t *testing.T) {
	type row struct {
		ID   int
		Name string
	}
	a := row{ID: 1, Name: "Alice"}
	b := row{ID: 1, Name: "Alice"}
	c := row{ID: 1, Name: "Bob"}

	assert.True(t, SameRow(a, b))
	assert.False(t, SameRow(a, c))
}

func TestDrainIsOrderedByKey(t *testing.T) {
	m := New()
	m.Accumulate(rowkey.Of("zebra"), "z", 1)
	m.Accumulate(rowkey.Of("alpha"), "a", 1)
	m.Accumulate(rowkey.Of("mid"), "m", 1)

	changes := m.Drain()
	require.Len(t, changes, 3)
	for i := 1; i < len(changes); i++ {
		assert.Less(t, string(changes[i-1].Key), string(changes[i].Key))
	}
}
