package effect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydb/relaydb/internal/collection"
	"github.com/relaydb/relaydb/internal/multiset"
	"github.com/relaydb/relaydb/internal/querybuilder"
	"github.com/relaydb/relaydb/internal/queryir"
	"github.com/relaydb/relaydb/internal/rowkey"
	"github.com/relaydb/relaydb/internal/scheduler"
)

type ticket struct {
	ID       int
	Priority int
}

func ticketKey(r collection.Row) rowkey.Key { return rowkey.Of(r.(ticket).ID) }

func newTickets(t *testing.T, rows ...ticket) *collection.Collection {
	t.Helper()
	c, err := collection.New(collection.Options{KeyFn: ticketKey})
	require.NoError(t, err)
	for _, r := range rows {
		require.NoError(t, c.Insert(context.Background(), r))
	}
	return c
}

func TestEffectSkipInitialDiscardsPriming(t *testing.T) {
	ctx := context.Background()
	tickets := newTickets(t, ticket{ID: 1, Priority: 1})

	var deltas []Delta
	q := querybuilder.From("tickets", "t").Build()
	h, err := New(ctx, Options{
		Query:       q,
		Sources:     map[string]Source{"t": {CollectionID: "tickets", Collection: tickets, GetKey: func(r any) rowkey.Key { return ticketKey(r) }}},
		On:          func(ds []Delta) { deltas = append(deltas, ds...) },
		SkipInitial: true,
		Scheduler:   scheduler.New(),
	})
	require.NoError(t, err)
	defer h.Dispose()

	assert.Empty(t, deltas, "initial priming batch must be skipped")

	require.NoError(t, tickets.Insert(ctx, ticket{ID: 2, Priority: 5}))
	require.Len(t, deltas, 1)
	assert.Equal(t, multiset.Enter, deltas[0].Kind)
}

func TestEffectWithoutSkipInitialDeliversPriming(t *testing.T) {
	ctx := context.Background()
	tickets := newTickets(t, ticket{ID: 1, Priority: 1})

	var deltas []Delta
	q := querybuilder.From("tickets", "t").Build()
	h, err := New(ctx, Options{
		Query:     q,
		Sources:   map[string]Source{"t": {CollectionID: "tickets", Collection: tickets, GetKey: func(r any) rowkey.Key { return ticketKey(r) }}},
		On:        func(ds []Delta) { deltas = append(deltas, ds...) },
		Scheduler: scheduler.New(),
	})
	require.NoError(t, err)
	defer h.Dispose()

	require.Len(t, deltas, 1)
	assert.Equal(t, multiset.Enter, deltas[0].Kind)
}

func TestEffectDisposeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	tickets := newTickets(t)

	var deltas []Delta
	q := querybuilder.From("tickets", "t").Build()
	h, err := New(ctx, Options{
		Query:     q,
		Sources:   map[string]Source{"t": {CollectionID: "tickets", Collection: tickets, GetKey: func(r any) rowkey.Key { return ticketKey(r) }}},
		On:        func(ds []Delta) { deltas = append(deltas, ds...) },
		Scheduler: scheduler.New(),
	})
	require.NoError(t, err)

	assert.False(t, h.Disposed())
	h.Dispose()
	assert.True(t, h.Disposed())

	require.NoError(t, tickets.Insert(ctx, ticket{ID: 1, Priority: 1}))
	assert.Empty(t, deltas)
}

func TestEffectAsyncDisposeWaitsForCallback(t *testing.T) {
	ctx := context.Background()
	tickets := newTickets(t, ticket{ID: 1, Priority: 1})

	done := make(chan struct{})
	q := querybuilder.From("tickets", "t").Build()
	h, err := New(ctx, Options{
		Query:       q,
		Sources:     map[string]Source{"t": {CollectionID: "tickets", Collection: tickets, GetKey: func(r any) rowkey.Key { return ticketKey(r) }}},
		On:          func(ds []Delta) { close(done) },
		SkipInitial: true,
		Async:       true,
		Scheduler:   scheduler.New(),
	})
	require.NoError(t, err)

	require.NoError(t, tickets.Insert(ctx, ticket{ID: 2, Priority: 2}))
	h.Dispose()
	select {
	case <-done:
	default:
		t.Fatal("Dispose must block until the async callback has run")
	}
}

// TestEffectEnterOnlySemantics is spec §8 property 10: a consumer only
// acting on Kind==Enter deltas sees exactly one notification when a row
// starts matching the filter (active false->true), and none when it later
// stops matching (active true->false) — the row's Exit is still delivered
// on the wire (this effect has no separate exit subscription to suppress
// it at), but an enter-only consumer discards it.
func TestEffectEnterOnlySemantics(t *testing.T) {
	type task struct {
		ID     int
		Active bool
	}
	taskKey := func(r collection.Row) rowkey.Key { return rowkey.Of(r.(task).ID) }

	ctx := context.Background()
	tasks, err := collection.New(collection.Options{KeyFn: taskKey})
	require.NoError(t, err)
	require.NoError(t, tasks.Insert(ctx, task{ID: 1, Active: false}))

	var enters, exits int
	q := querybuilder.From("tasks", "t").
		Where(queryir.Eq(queryir.RefPath("t", "Active"), queryir.Val(true))).
		Build()
	h, err := New(ctx, Options{
		Query:   q,
		Sources: map[string]Source{"t": {CollectionID: "tasks", Collection: tasks, GetKey: func(r any) rowkey.Key { return taskKey(r) }}},
		On: func(ds []Delta) {
			for _, d := range ds {
				switch d.Kind {
				case multiset.Enter:
					enters++
				case multiset.Exit:
					exits++
				}
			}
		},
		SkipInitial: true,
		Scheduler:   scheduler.New(),
	})
	require.NoError(t, err)
	defer h.Dispose()
	assert.Zero(t, enters)

	require.NoError(t, tasks.Update(ctx, taskKey(task{ID: 1}), task{ID: 1, Active: true}))
	assert.Equal(t, 1, enters, "active=false -> true must emit enter")

	require.NoError(t, tasks.Update(ctx, taskKey(task{ID: 1}), task{ID: 1, Active: false}))
	assert.Equal(t, 1, enters, "active=true -> false must not add another enter")
	assert.Equal(t, 1, exits, "the row's exit is still delivered on the wire; an enter-only consumer just never acts on it")
}

func TestEffectQueryRequired(t *testing.T) {
	_, err := New(context.Background(), Options{On: func([]Delta) {}})
	assert.Error(t, err)
}

func TestEffectOnCallbackRequired(t *testing.T) {
	q := querybuilder.From("tickets", "t").Build()
	_, err := New(context.Background(), Options{Query: q})
	assert.Error(t, err)
}
