package collection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydb/relaydb/internal/queryir"
	"github.com/relaydb/relaydb/internal/rowkey"
)

type widget struct {
	ID    int
	Name  string
	Price int
}

func widgetKey(r Row) rowkey.Key { return rowkey.Of(r.(widget).ID) }

func newTestCollection(t *testing.T, rows ...widget) *Collection {
	t.Helper()
	c, err := New(Options{KeyFn: widgetKey})
	require.NoError(t, err)
	for _, r := range rows {
		require.NoError(t, c.Insert(context.Background(), r))
	}
	return c
}

func TestNewRequiresKeyFn(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestGetHasSizeToArray(t *testing.T) {
	c := newTestCollection(t, widget{ID: 1, Name: "bolt"}, widget{ID: 2, Name: "nut"})

	assert.Equal(t, 2, c.Size())
	assert.True(t, c.Has(rowkey.Of(1)))
	assert.False(t, c.Has(rowkey.Of(99)))

	row, ok := c.Get(rowkey.Of(1))
	require.True(t, ok)
	assert.Equal(t, "bolt", row.(widget).Name)

	assert.Len(t, c.ToArray(), 2)
}

func TestMutateInsertUpdateDelete(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, widget{ID: 1, Name: "bolt", Price: 10}))
	assert.Equal(t, 1, c.Size())

	require.NoError(t, c.Update(ctx, rowkey.Of(1), widget{ID: 1, Name: "bolt", Price: 20}))
	row, ok := c.Get(rowkey.Of(1))
	require.True(t, ok)
	assert.Equal(t, 20, row.(widget).Price)

	require.NoError(t, c.Delete(ctx, rowkey.Of(1)))
	assert.False(t, c.Has(rowkey.Of(1)))
}

func TestMutateRevertsOnError(t *testing.T) {
	c := newTestCollection(t, widget{ID: 1, Name: "bolt"})
	ctx := context.Background()

	sentinel := assertError{}
	err := c.Mutate(ctx, func(tx *Transaction) error {
		tx.Insert(widget{ID: 2, Name: "nut"})
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.False(t, c.Has(rowkey.Of(2)), "staged insert must be reverted")
	assert.Equal(t, 1, c.Size())
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestSubscribeChangesIncludeInitialState(t *testing.T) {
	c := newTestCollection(t, widget{ID: 1, Name: "bolt"}, widget{ID: 2, Name: "nut"})

	var received []ChangeMessage
	c.SubscribeChanges(SubscribeOptions{IncludeInitialState: true}, func(batch []ChangeMessage) {
		received = append(received, batch...)
	})

	require.Len(t, received, 2)
	for _, m := range received {
		assert.Equal(t, Insert, m.Type)
	}
}

func TestSubscribeChangesFiltersByWhere(t *testing.T) {
	c := newTestCollection(t, widget{ID: 1, Name: "bolt", Price: 5}, widget{ID: 2, Name: "nut", Price: 50})
	ctx := context.Background()

	where := queryir.Gt(queryir.RefPath("Price"), queryir.Val(10))
	var received []ChangeMessage
	c.SubscribeChanges(SubscribeOptions{Where: where}, func(batch []ChangeMessage) {
		received = append(received, batch...)
	})

	require.NoError(t, c.Insert(ctx, widget{ID: 3, Name: "screw", Price: 3}))
	assert.Empty(t, received, "non-matching insert must not be delivered")

	require.NoError(t, c.Insert(ctx, widget{ID: 4, Name: "washer", Price: 40}))
	require.Len(t, received, 1)
	assert.Equal(t, Insert, received[0].Type)
	assert.Equal(t, rowkey.Of(4), received[0].Key)
}

func TestSubscribeChangesEmitsSyntheticDeleteWhenRowLeavesPredicate(t *testing.T) {
	c := newTestCollection(t, widget{ID: 1, Name: "bolt", Price: 50})
	ctx := context.Background()

	where := queryir.Gt(queryir.RefPath("Price"), queryir.Val(10))
	var received []ChangeMessage
	c.SubscribeChanges(SubscribeOptions{IncludeInitialState: true, Where: where}, func(batch []ChangeMessage) {
		received = append(received, batch...)
	})
	require.Len(t, received, 1)

	require.NoError(t, c.Update(ctx, rowkey.Of(1), widget{ID: 1, Name: "bolt", Price: 1}))
	require.Len(t, received, 2)
	assert.Equal(t, Delete, received[1].Type)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	var count int
	sub := c.SubscribeChanges(SubscribeOptions{}, func(batch []ChangeMessage) { count += len(batch) })
	require.NoError(t, c.Insert(ctx, widget{ID: 1, Name: "bolt"}))
	assert.Equal(t, 1, count)

	sub.Unsubscribe()
	require.NoError(t, c.Insert(ctx, widget{ID: 2, Name: "nut"}))
	assert.Equal(t, 1, count, "no further delivery after Unsubscribe")
}

func TestSubscriberCount(t *testing.T) {
	c := newTestCollection(t)
	assert.Equal(t, 0, c.SubscriberCount())
	sub := c.SubscribeChanges(SubscribeOptions{}, func([]ChangeMessage) {})
	assert.Equal(t, 1, c.SubscriberCount())
	sub.Unsubscribe()
	assert.Equal(t, 0, c.SubscriberCount())
}
