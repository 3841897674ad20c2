package predicate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaydb/relaydb/internal/queryir"
)

func age() queryir.Expr { return queryir.RefPath("age") }

func TestIsWhereSubset(t *testing.T) {
	t.Run("nil is subset of nil only", func(t *testing.T) {
		assert.True(t, IsWhereSubset(nil, nil))
		assert.False(t, IsWhereSubset(nil, queryir.Gt(age(), queryir.Val(10))))
	})

	t.Run("anything is subset of unconstrained", func(t *testing.T) {
		assert.True(t, IsWhereSubset(queryir.Gt(age(), queryir.Val(10)), nil))
	})

	t.Run("gte 18 is subset of gt 10", func(t *testing.T) {
		p := queryir.Gte(age(), queryir.Val(18))
		q := queryir.Gt(age(), queryir.Val(10))
		assert.True(t, IsWhereSubset(p, q))
		assert.False(t, IsWhereSubset(q, p))
	})

	t.Run("eq is subset of in", func(t *testing.T) {
		p := queryir.Eq(age(), queryir.Val(18))
		q := queryir.In(age(), []any{18, 21, 30})
		assert.True(t, IsWhereSubset(p, q))
	})

	t.Run("conjunct implies the combined clause", func(t *testing.T) {
		p := queryir.And(queryir.Gte(age(), queryir.Val(18)), queryir.Lt(age(), queryir.Val(30)))
		q := queryir.Gte(age(), queryir.Val(10))
		assert.True(t, IsWhereSubset(p, q))
	})

	t.Run("unrelated fields are not a subset", func(t *testing.T) {
		p := queryir.Gt(age(), queryir.Val(10))
		q := queryir.Eq(queryir.RefPath("name"), queryir.Val("bob"))
		assert.False(t, IsWhereSubset(p, q))
	})
}

func TestIsOrderBySubset(t *testing.T) {
	full := []queryir.OrderTerm{
		{Expr: age(), Direction: queryir.Asc},
		{Expr: queryir.RefPath("name"), Direction: queryir.Desc},
	}
	prefix := full[:1]

	assert.True(t, IsOrderBySubset(prefix, full))
	assert.False(t, IsOrderBySubset(full, prefix))
	assert.True(t, IsOrderBySubset(nil, full))
}

func TestIsLimitSubset(t *testing.T) {
	ten, twenty := 10, 20
	assert.True(t, IsLimitSubset(&ten, &twenty))
	assert.False(t, IsLimitSubset(&twenty, &ten))
	assert.True(t, IsLimitSubset(&ten, nil))
	assert.False(t, IsLimitSubset(nil, &ten))
	assert.True(t, IsLimitSubset(nil, nil))
}

func TestIntersectWherePredicates(t *testing.T) {
	t.Run("nil operand yields the other side", func(t *testing.T) {
		q := queryir.Gt(age(), queryir.Val(10))
		assert.Equal(t, q.String(), IntersectWherePredicates(nil, q).String())
	})

	t.Run("conflicting eq is unsatisfiable", func(t *testing.T) {
		a := queryir.Eq(age(), queryir.Val(18))
		b := queryir.Eq(age(), queryir.Val(21))
		got := IntersectWherePredicates(a, b)
		assert.True(t, queryir.IsFalseLiteral(got))
	})

	t.Run("two lower bounds keep the tighter", func(t *testing.T) {
		a := queryir.Gt(age(), queryir.Val(18))
		b := queryir.Gte(age(), queryir.Val(21))
		got := IntersectWherePredicates(a, b)
		assert.Equal(t, b.String(), got.String())
	})

	t.Run("unrelated clauses AND together", func(t *testing.T) {
		a := queryir.Gt(age(), queryir.Val(18))
		b := queryir.Eq(queryir.RefPath("name"), queryir.Val("bob"))
		got := IntersectWherePredicates(a, b)
		assert.Equal(t, queryir.And(a, b).String(), got.String())
	})
}

func TestUnionWherePredicates(t *testing.T) {
	t.Run("nil operand makes the union unbounded", func(t *testing.T) {
		assert.Nil(t, UnionWherePredicates(nil, queryir.Gt(age(), queryir.Val(10))))
	})

	t.Run("two eqs over the same field union into in", func(t *testing.T) {
		a := queryir.Eq(age(), queryir.Val(18))
		b := queryir.Eq(age(), queryir.Val(21))
		got := UnionWherePredicates(a, b)
		assert.Equal(t, queryir.In(age(), []any{18, 21}).String(), got.String())
	})
}

// TestUnionThenIntersectChain is spec §8 S6: union(eq(5),eq(10)) -> in(5,10),
// then intersected step by step against in(7,10,20) and eq(10) narrows to
// in(10) and then to eq(10), and a final intersection against the
// conflicting eq(11) collapses to the unsatisfiable literal.
func TestUnionThenIntersectChain(t *testing.T) {
	union := UnionWherePredicates(
		queryir.Eq(age(), queryir.Val(5)),
		queryir.Eq(age(), queryir.Val(10)),
	)
	assert.Equal(t, queryir.In(age(), []any{5, 10}).String(), union.String())

	withIn := IntersectWherePredicates(union, queryir.In(age(), []any{7, 10, 20}))
	assert.Equal(t, queryir.In(age(), []any{10}).String(), withIn.String())

	withEq := IntersectWherePredicates(withIn, queryir.Eq(age(), queryir.Val(10)))
	assert.Equal(t, queryir.Eq(age(), queryir.Val(10)).String(), withEq.String())

	withConflictingEq := IntersectWherePredicates(withEq, queryir.Eq(age(), queryir.Val(11)))
	assert.True(t, queryir.IsFalseLiteral(withConflictingEq))
}

func TestIntersectPredicates(t *testing.T) {
	ten, twenty := 10, 20
	a := Predicate{Where: queryir.Gt(age(), queryir.Val(18)), Limit: &twenty}
	b := Predicate{Where: queryir.Eq(queryir.RefPath("name"), queryir.Val("bob")), Limit: &ten}

	got := IntersectPredicates(a, b)
	assert.Equal(t, ten, *got.Limit)
}
