package querybuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydb/relaydb/internal/queryir"
)

func TestFromBuildsBareSource(t *testing.T) {
	q := From("users", "u").Build()
	require.Equal(t, queryir.SourceCollection, q.From.Kind)
	assert.Equal(t, "users", q.From.CollectionID)
	assert.Equal(t, "u", q.From.Alias)
}

func TestImmutableChaining(t *testing.T) {
	base := From("users", "u")
	filtered := base.Where(queryir.Gt(queryir.RefPath("u", "age"), queryir.Val(18)))

	assert.Nil(t, base.Build().Where, "base builder must be unaffected by a derived call")
	require.NotNil(t, filtered.Build().Where)
}

func TestWhereClausesAccumulateWithAnd(t *testing.T) {
	q := From("users", "u").
		Where(queryir.Gt(queryir.RefPath("u", "age"), queryir.Val(18))).
		Where(queryir.Eq(queryir.RefPath("u", "active"), queryir.Val(true))).
		Build()

	fc, ok := q.Where.(queryir.FuncCall)
	require.True(t, ok)
	assert.Equal(t, "and", fc.Name)
	assert.Len(t, fc.Args, 2)
}

func TestJoinsAppendInOrder(t *testing.T) {
	q := From("users", "u").
		InnerJoin("departments", "d", queryir.Eq(queryir.RefPath("u", "deptId"), queryir.RefPath("d", "id"))).
		LeftJoin("managers", "m", queryir.Eq(queryir.RefPath("u", "managerId"), queryir.RefPath("m", "id"))).
		Build()

	require.Len(t, q.Joins, 2)
	assert.Equal(t, queryir.JoinInner, q.Joins[0].Kind)
	assert.Equal(t, queryir.JoinLeft, q.Joins[1].Kind)
	assert.Equal(t, "d", q.Joins[0].From.Alias)
}

func TestOrderByPreservesCallOrder(t *testing.T) {
	q := From("users", "u").
		OrderBy(queryir.RefPath("u", "score"), queryir.Desc).
		OrderBy(queryir.RefPath("u", "name"), queryir.Asc).
		Build()

	require.Len(t, q.OrderBy, 2)
	assert.Equal(t, queryir.Desc, q.OrderBy[0].Direction)
	assert.Equal(t, queryir.Asc, q.OrderBy[1].Direction)
}

func TestLimitOffset(t *testing.T) {
	q := From("users", "u").Limit(10).Offset(5).Build()
	require.NotNil(t, q.Limit)
	require.NotNil(t, q.Offset)
	assert.Equal(t, 10, *q.Limit)
	assert.Equal(t, 5, *q.Offset)
}

func TestFindOneSetsLimitOneAndFlag(t *testing.T) {
	q := From("users", "u").FindOne().Build()
	require.NotNil(t, q.Limit)
	assert.Equal(t, 1, *q.Limit)
	assert.True(t, q.FindOne)
}

func TestFromQueryEmbedsSubBuild(t *testing.T) {
	sub := From("users", "u").Where(queryir.Gt(queryir.RefPath("u", "age"), queryir.Val(18)))
	q := FromQuery(sub, "adults").Build()
	require.Equal(t, queryir.SourceQuery, q.From.Kind)
	require.NotNil(t, q.From.Sub)
	assert.Equal(t, "adults", q.From.Alias)
}

func TestFingerprintStableAcrossEquivalentChains(t *testing.T) {
	a := From("users", "u").Where(queryir.Gt(queryir.RefPath("u", "age"), queryir.Val(18))).Build()
	b := From("users", "u").Where(queryir.Gt(queryir.RefPath("u", "age"), queryir.Val(18))).Build()
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}
