package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydb/relaydb/internal/graph"
	"github.com/relaydb/relaydb/internal/multiset"
	"github.com/relaydb/relaydb/internal/operator"
	"github.com/relaydb/relaydb/internal/querybuilder"
	"github.com/relaydb/relaydb/internal/queryir"
	"github.com/relaydb/relaydb/internal/rowkey"
)

type account struct {
	ID      int
	Name    string
	Balance int
}

func accountKey(r any) rowkey.Key { return rowkey.Of(r.(account).ID) }

func TestCompileFilterAndOrderByLimit(t *testing.T) {
	g := graph.New()
	q := querybuilder.From("accounts", "a").
		Where(queryir.Gt(queryir.RefPath("a", "Balance"), queryir.Val(100))).
		OrderByTerm(queryir.OrderTerm{Expr: queryir.RefPath("a", "Balance"), Direction: queryir.Desc}).
		Limit(2).
		Build()

	compiled, err := Compile(g, q, map[string]Source{
		"a": {CollectionID: "accounts", GetKey: accountKey},
	})
	require.NoError(t, err)
	require.NotNil(t, compiled)

	var batches [][]multiset.Change
	g.AddNode(operator.NewOutput(compiled.Output, func(changes []multiset.Change) {
		batches = append(batches, changes)
	}))
	g.Finalize()

	buf := g.Input("a")
	buf.Accumulate(rowkey.Of(1), account{ID: 1, Name: "alice", Balance: 50}, 1)
	buf.Accumulate(rowkey.Of(2), account{ID: 2, Name: "bob", Balance: 500}, 1)
	buf.Accumulate(rowkey.Of(3), account{ID: 3, Name: "carol", Balance: 300}, 1)

	require.NoError(t, g.Run())
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2, "balance=50 must be filtered out, leaving top 2 of the remaining rows")
}

func TestCompileUnknownAliasErrors(t *testing.T) {
	g := graph.New()
	q := querybuilder.From("accounts", "a").Build()
	_, err := Compile(g, q, map[string]Source{})
	assert.Error(t, err)
}

func TestCompileInnerJoin(t *testing.T) {
	type order struct {
		ID        int
		AccountID int
		Amount    int
	}
	orderKey := func(r any) rowkey.Key { return rowkey.Of(r.(order).ID) }

	g := graph.New()
	q := querybuilder.From("accounts", "a").
		InnerJoin("orders", "o", queryir.Eq(queryir.RefPath("a", "ID"), queryir.RefPath("o", "AccountID"))).
		Build()

	compiled, err := Compile(g, q, map[string]Source{
		"a": {CollectionID: "accounts", GetKey: accountKey},
		"o": {CollectionID: "orders", GetKey: orderKey},
	})
	require.NoError(t, err)

	var batches [][]multiset.Change
	g.AddNode(operator.NewOutput(compiled.Output, func(changes []multiset.Change) {
		batches = append(batches, changes)
	}))
	g.Finalize()

	g.Input("a").Accumulate(rowkey.Of(1), account{ID: 1, Name: "alice", Balance: 500}, 1)
	require.NoError(t, g.Run())
	assert.Empty(t, batches, "no matching order yet, inner join produces nothing")

	g.Input("o").Accumulate(rowkey.Of(10), order{ID: 10, AccountID: 1, Amount: 42}, 1)
	require.NoError(t, g.Run())
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 1)
	assert.Equal(t, multiset.Enter, batches[0][0].Kind)
}
