// Package querybuilder implements the immutable fluent query builder from
// spec §4.E: every call clones the prior state, appends one clause, and
// returns a new builder. Sub-queries compose by embedding another
// Builder's IR as a from-source.
package querybuilder

import "github.com/relaydb/relaydb/internal/queryir"

// Builder is an immutable handle on a queryir.Query under construction.
// Every method returns a new Builder; the receiver is never mutated.
type Builder struct {
	q *queryir.Query
}

// From starts a query over a concrete collection, bound to alias.
func From(collectionID, alias string) *Builder {
	return &Builder{q: &queryir.Query{From: queryir.Source{
		Kind: queryir.SourceCollection, CollectionID: collectionID, Alias: alias,
	}}}
}

// FromQuery starts a query over an embedded sub-query, bound to alias. The
// compiler lowers sub and, within one Compile call, memoizes its compiled
// pipeline by query fingerprint so repeated self-references (e.g. a
// self-join of the same sub-expression) share one compiled subtree (spec
// §4.F.1.2).
func FromQuery(sub *Builder, alias string) *Builder {
	return &Builder{q: &queryir.Query{From: queryir.Source{
		Kind: queryir.SourceQuery, Sub: sub.Build(), Alias: alias,
	}}}
}

func (b *Builder) clone() *Builder { return &Builder{q: b.q.Clone()} }

func (b *Builder) join(kind queryir.JoinKind, from queryir.Source, on queryir.Expr) *Builder {
	nb := b.clone()
	nb.q.Joins = append(nb.q.Joins, queryir.Join{Kind: kind, From: from, On: on})
	return nb
}

func collSource(collectionID, alias string) queryir.Source {
	return queryir.Source{Kind: queryir.SourceCollection, CollectionID: collectionID, Alias: alias}
}

func querySource(sub *Builder, alias string) queryir.Source {
	return queryir.Source{Kind: queryir.SourceQuery, Sub: sub.Build(), Alias: alias}
}

// InnerJoin adds an inner join against a concrete collection.
func (b *Builder) InnerJoin(collectionID, alias string, on queryir.Expr) *Builder {
	return b.join(queryir.JoinInner, collSource(collectionID, alias), on)
}

// LeftJoin adds a left outer join against a concrete collection.
func (b *Builder) LeftJoin(collectionID, alias string, on queryir.Expr) *Builder {
	return b.join(queryir.JoinLeft, collSource(collectionID, alias), on)
}

// RightJoin adds a right outer join against a concrete collection.
func (b *Builder) RightJoin(collectionID, alias string, on queryir.Expr) *Builder {
	return b.join(queryir.JoinRight, collSource(collectionID, alias), on)
}

// FullJoin adds a full outer join against a concrete collection.
func (b *Builder) FullJoin(collectionID, alias string, on queryir.Expr) *Builder {
	return b.join(queryir.JoinFull, collSource(collectionID, alias), on)
}

// CrossJoin adds a cross join, lowered by the compiler as an inner join
// with a constant-true condition (spec §4.B "cross: special-cased as
// inner with constant-true on").
func (b *Builder) CrossJoin(collectionID, alias string) *Builder {
	return b.join(queryir.JoinCross, collSource(collectionID, alias), queryir.Val(true))
}

// InnerJoinQuery/LeftJoinQuery/... are the sub-query-sourced counterparts
// of the Join family above, letting a query join against another builder's
// result instead of a concrete collection.
func (b *Builder) InnerJoinQuery(sub *Builder, alias string, on queryir.Expr) *Builder {
	return b.join(queryir.JoinInner, querySource(sub, alias), on)
}
func (b *Builder) LeftJoinQuery(sub *Builder, alias string, on queryir.Expr) *Builder {
	return b.join(queryir.JoinLeft, querySource(sub, alias), on)
}
func (b *Builder) RightJoinQuery(sub *Builder, alias string, on queryir.Expr) *Builder {
	return b.join(queryir.JoinRight, querySource(sub, alias), on)
}
func (b *Builder) FullJoinQuery(sub *Builder, alias string, on queryir.Expr) *Builder {
	return b.join(queryir.JoinFull, querySource(sub, alias), on)
}

// Where ANDs e onto any existing where clause.
func (b *Builder) Where(e queryir.Expr) *Builder {
	nb := b.clone()
	nb.q.Where = andClause(nb.q.Where, e)
	return nb
}

// Having ANDs e onto any existing having clause (evaluated after groupBy).
func (b *Builder) Having(e queryir.Expr) *Builder {
	nb := b.clone()
	nb.q.Having = andClause(nb.q.Having, e)
	return nb
}

func andClause(existing, e queryir.Expr) queryir.Expr {
	if existing == nil {
		return e
	}
	return queryir.And(existing, e)
}

// GroupBy appends grouping expressions.
func (b *Builder) GroupBy(exprs ...queryir.Expr) *Builder {
	nb := b.clone()
	nb.q.GroupBy = append(append([]queryir.Expr{}, nb.q.GroupBy...), exprs...)
	return nb
}

// OrderByTerm appends one orderBy term (later terms break ties in earlier
// ones, so call order matters and is preserved).
func (b *Builder) OrderByTerm(term queryir.OrderTerm) *Builder {
	nb := b.clone()
	nb.q.OrderBy = append(append([]queryir.OrderTerm{}, nb.q.OrderBy...), term)
	return nb
}

// OrderBy is OrderByTerm's common-case shorthand: direction dir, nulls
// last, lexical string sort.
func (b *Builder) OrderBy(expr queryir.Expr, dir queryir.OrderDirection) *Builder {
	return b.OrderByTerm(queryir.OrderTerm{Expr: expr, Direction: dir, Nulls: queryir.NullsLast})
}

// Limit caps the result to n rows.
func (b *Builder) Limit(n int) *Builder {
	nb := b.clone()
	nb.q.Limit = &n
	return nb
}

// Offset skips the first n rows of the ordered result.
func (b *Builder) Offset(n int) *Builder {
	nb := b.clone()
	nb.q.Offset = &n
	return nb
}

// Select sets the declarative projection tree.
func (b *Builder) Select(p *queryir.Projection) *Builder {
	nb := b.clone()
	nb.q.Select = p
	return nb
}

// FnSelect sets an opaque row-to-row projection function, bypassing the
// declarative Projection tree entirely (spec §4.E "fn.select").
func (b *Builder) FnSelect(fn func(row any) any) *Builder {
	nb := b.clone()
	nb.q.SelectFn = fn
	return nb
}

// FindOne is shorthand for Limit(1) with single-row semantics: the
// compiler's consumer (livequery.Collection) exposes a Row() accessor
// instead of requiring callers to read a one-element collection.
func (b *Builder) FindOne() *Builder {
	nb := b.clone()
	one := 1
	nb.q.Limit = &one
	nb.q.FindOne = true
	return nb
}

// Build returns the accumulated, immutable IR.
func (b *Builder) Build() *queryir.Query { return b.q.Clone() }
