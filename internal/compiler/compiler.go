// Package compiler lowers a queryir.Query, together with an alias-to-source
// mapping the caller supplies, into a compiled operator pipeline wired onto
// a graph.Graph (spec §4.F). The compiler never touches adapters or
// collection state directly: it only knows how to turn a Source's natural
// keyed row stream into the query's output stream, and hands back which
// where-clause fragments were pushed down per alias so the caller can use
// them as a subscription predicate.
package compiler

import (
	"fmt"

	"github.com/relaydb/relaydb/internal/errs"
	"github.com/relaydb/relaydb/internal/graph"
	"github.com/relaydb/relaydb/internal/operator"
	"github.com/relaydb/relaydb/internal/queryir"
	"github.com/relaydb/relaydb/internal/rowkey"
)

// Source describes one alias's binding to a concrete collection: its stable
// id (for aliasToCollectionId) and the function recovering a row's primary
// key, used to reKey the alias's raw input stream (spec §4.F.1 step 1).
type Source struct {
	CollectionID string
	GetKey       func(row any) rowkey.Key
}

// OptimizableOrderBy describes the single top-level orderBy+limit the
// compiler recognized as eligible for adapter-driven load-more (spec
// §4.F.1.6 / §4.F.3): an unjoined, ungrouped query ordered and limited
// directly over one source collection. Window is the live operator the
// caller should drive with further LoadMore callback wiring once the
// source's adapter is known.
type OptimizableOrderBy struct {
	Alias      string
	OrderField queryir.Expr
	Direction  queryir.OrderDirection
	WindowSize int
	Window     *operator.OrderByWindow
}

// Compiled is one query's compiled pipeline.
type Compiled struct {
	// Output is the pipeline's terminal buffer; the caller wraps it in its
	// own operator.NewOutput(sink) and AddNode's it before Finalize.
	Output *operator.Buffer
	// SourceWhereClauses is the push-down filter recognized per alias,
	// suitable for use as a subscription predicate against that alias's
	// source collection.
	SourceWhereClauses map[string]queryir.Expr
	// AliasToCollectionID maps every concrete-collection alias (recursing
	// into sub-query sources) to its collection id.
	AliasToCollectionID map[string]string
	// Optimizable is non-nil when this query's top-level orderBy+limit is
	// eligible for load-more (nil otherwise).
	Optimizable *OptimizableOrderBy
}

type compileState struct {
	g                   *graph.Graph
	sources             map[string]Source
	aliasToCollectionID map[string]string
	subCache            map[queryir.Fingerprint]*operator.Tee
}

// Compile lowers q onto g using sources to resolve every concrete-collection
// alias reached by q (including inside embedded sub-queries). g must not
// yet be finalized; the caller finalizes it after wiring the terminal sink.
func Compile(g *graph.Graph, q *queryir.Query, sources map[string]Source) (*Compiled, error) {
	st := &compileState{
		g:                   g,
		sources:             sources,
		aliasToCollectionID: map[string]string{},
		subCache:            map[queryir.Fingerprint]*operator.Tee{},
	}
	out, _, win, eligible, err := st.buildPipeline(q, true)
	if err != nil {
		return nil, err
	}
	plan := analyzePlan(q)
	c := &Compiled{
		Output:              out,
		SourceWhereClauses:  plan.perAliasWhere,
		AliasToCollectionID: st.aliasToCollectionID,
	}
	if eligible && win != nil && len(q.OrderBy) > 0 {
		c.Optimizable = &OptimizableOrderBy{
			Alias:      q.From.Alias,
			OrderField: q.OrderBy[0].Expr,
			Direction:  q.OrderBy[0].Direction,
			WindowSize: win.Offset + win.Limit,
			Window:     win,
		}
	}
	return c, nil
}

// buildPipeline compiles q's full body: from/joins, where push-down and
// residual filtering, groupBy/having, orderBy/limit, and select. top
// indicates whether q is the outermost query being compiled (only the
// top-level query's orderBy+limit is eligible for load-more).
func (st *compileState) buildPipeline(q *queryir.Query, top bool) (out *operator.Buffer, aliases []string, win *operator.OrderByWindow, eligible bool, err error) {
	plan := analyzePlan(q)

	base, err := st.compileSource(q.From, plan.perAliasWhere[q.From.Alias])
	if err != nil {
		return nil, nil, nil, false, err
	}
	cur := base
	curAliases := []string{q.From.Alias}

	for _, j := range q.Joins {
		right, err := st.compileSource(j.From, plan.perAliasWhere[j.From.Alias])
		if err != nil {
			return nil, nil, nil, false, err
		}
		leftKeyExpr, rightKeyExpr := joinKeyExprs(j, curAliases)

		leftTagged := operator.NewTagKeyed(cur)
		st.g.AddNode(leftTagged)
		rightTagged := operator.NewTagKeyed(right)
		st.g.AddNode(rightTagged)

		leftKeyed := operator.NewReKey(leftTagged.Out, func(v any) rowkey.Key {
			t := v.(operator.Tagged)
			return rowkey.Of(fmt.Sprintf("%v", queryir.Eval(leftKeyExpr, t.Row)))
		})
		st.g.AddNode(leftKeyed)
		rightKeyed := operator.NewReKey(rightTagged.Out, func(v any) rowkey.Key {
			t := v.(operator.Tagged)
			return rowkey.Of(fmt.Sprintf("%v", queryir.Eval(rightKeyExpr, t.Row)))
		})
		st.g.AddNode(rightKeyed)

		kind := j.Kind
		if kind == queryir.JoinCross {
			kind = queryir.JoinInner
		}
		leftAliases := append([]string(nil), curAliases...)
		rightAliases := []string{j.From.Alias}
		combine := func(l, r any) any {
			out := map[string]any{}
			if l != nil {
				for k, v := range l.(map[string]any) {
					out[k] = v
				}
			} else {
				for _, a := range leftAliases {
					out[a] = nil
				}
			}
			if r != nil {
				for k, v := range r.(map[string]any) {
					out[k] = v
				}
			} else {
				for _, a := range rightAliases {
					out[a] = nil
				}
			}
			return out
		}
		joinNode := operator.NewJoin(leftKeyed.Out, rightKeyed.Out, kind, combine)
		st.g.AddNode(joinNode)
		cur = joinNode.Out
		curAliases = append(curAliases, j.From.Alias)
	}

	if len(plan.residualWhere) > 0 {
		residual := queryir.And(plan.residualWhere...)
		if len(plan.residualWhere) == 1 {
			residual = plan.residualWhere[0]
		}
		f := operator.NewFilter(cur, func(v any) bool { return queryir.Truthy(queryir.Eval(residual, v)) })
		st.g.AddNode(f)
		cur = f.Out
	}

	if len(q.GroupBy) > 0 {
		groupBy := append([]queryir.Expr(nil), q.GroupBy...)
		groupKeyFn := func(row any) rowkey.Key {
			vals := make([]any, len(groupBy))
			for i, e := range groupBy {
				vals[i] = fmt.Sprintf("%v", queryir.Eval(e, row))
			}
			return rowkey.Of(vals...)
		}
		groupByFields := func(row any) map[string]any {
			out := map[string]any{}
			for _, e := range groupBy {
				if ref, ok := e.(queryir.Ref); ok && len(ref.Path) > 0 {
					out[ref.Path[len(ref.Path)-1]] = queryir.Eval(e, row)
				}
			}
			return out
		}
		specs := collectAggSpecs(q.Select)
		agg := operator.NewAggregate(cur, groupKeyFn, groupByFields, specs)
		st.g.AddNode(agg)
		cur = agg.Out
		curAliases = nil // aggregate rows are flat, no longer per-alias

		if q.Having != nil {
			hf := operator.NewFilter(cur, func(v any) bool { return queryir.Truthy(queryir.Eval(q.Having, v)) })
			st.g.AddNode(hf)
			cur = hf.Out
		}
	}

	hasOrder := len(q.OrderBy) > 0
	hasLimit := q.Limit != nil
	singleUnjoinedCollection := top && len(q.Joins) == 0 && len(q.GroupBy) == 0 && q.From.Kind == queryir.SourceCollection

	switch {
	case hasOrder && hasLimit:
		cmp := buildCompareFn(q.OrderBy)
		offset := 0
		if q.Offset != nil {
			offset = *q.Offset
		}
		w := operator.NewOrderByWindow(cur, cmp, offset, *q.Limit)
		st.g.AddNode(w)
		cur = w.Out
		win = w
		eligible = singleUnjoinedCollection
	case hasOrder:
		cmp := buildCompareFn(q.OrderBy)
		ob := operator.NewOrderBy(cur, cmp)
		st.g.AddNode(ob)
		cur = ob.Out
	case hasLimit:
		lim := operator.NewInsertionLimit(cur, *q.Limit)
		st.g.AddNode(lim)
		cur = lim.Out
	}

	cur = st.applySelect(q, cur, curAliases)

	return cur, curAliases, win, eligible, nil
}

// applySelect wraps cur with the query's final projection, per spec
// §4.F.1.7: an opaque fn.select takes precedence; otherwise a declarative
// Projection; otherwise, for a single-source query, the wrapped row is
// unwrapped back to its natural (unaliased) shape, and for a joined query
// the alias-keyed map is the natural output shape as-is.
func (st *compileState) applySelect(q *queryir.Query, cur *operator.Buffer, aliases []string) *operator.Buffer {
	unwrap := func(v any) any {
		if len(aliases) == 1 {
			if m, ok := v.(map[string]any); ok {
				return m[aliases[0]]
			}
		}
		return v
	}

	switch {
	case q.SelectFn != nil:
		fn := q.SelectFn.(func(row any) any)
		m := operator.NewMap(cur, func(v any) any { return fn(unwrap(v)) })
		st.g.AddNode(m)
		return m.Out
	case q.Select != nil:
		proj := q.Select
		m := operator.NewMap(cur, func(v any) any { return evalProjection(proj, unwrap(v)) })
		st.g.AddNode(m)
		return m.Out
	case len(aliases) == 1:
		m := operator.NewMap(cur, unwrap)
		st.g.AddNode(m)
		return m.Out
	default:
		return cur
	}
}

func evalProjection(p *queryir.Projection, row any) map[string]any {
	out := map[string]any{}
	for _, f := range p.Fields {
		switch {
		case f.Spread:
			if m, ok := queryir.GetField(row, f.Name).(map[string]any); ok {
				for k, v := range m {
					out[k] = v
				}
			} else {
				out[f.Name] = queryir.GetField(row, f.Name)
			}
		case f.Record != nil:
			out[f.Name] = evalProjection(f.Record, row)
		default:
			out[f.Name] = queryir.Eval(f.Value, row)
		}
	}
	return out
}

// collectAggSpecs walks a select projection tree (shallow — aggregate
// expressions never nest inside records in practice) pulling out every
// AggregateCall into a named AggSpec the Aggregate operator can evaluate.
func collectAggSpecs(sel *queryir.Projection) []operator.AggSpec {
	if sel == nil {
		return nil
	}
	var specs []operator.AggSpec
	for _, f := range sel.Fields {
		if agg, ok := f.Value.(queryir.AggregateCall); ok {
			arg := agg.Arg
			specs = append(specs, operator.AggSpec{
				Name: f.Name,
				Kind: agg.Name,
				ValueFn: func(row any) any {
					if arg == nil {
						return row
					}
					return queryir.Eval(arg, row)
				},
			})
		}
	}
	return specs
}

// joinKeyExprs recovers the two sides of an eq(a, b) on-condition, returning
// (leftExpr, rightExpr) oriented so leftExpr evaluates against the
// accumulated left-hand row and rightExpr against the new alias's row. A
// cross join (constant-true on) gets a constant key on both sides.
func joinKeyExprs(j queryir.Join, leftAliases []string) (left, right queryir.Expr) {
	if j.Kind == queryir.JoinCross {
		return queryir.Val("*"), queryir.Val("*")
	}
	fc, ok := j.On.(queryir.FuncCall)
	if !ok || fc.Name != "eq" || len(fc.Args) != 2 {
		return queryir.Val("*"), queryir.Val("*")
	}
	a, b := fc.Args[0], fc.Args[1]
	if refBelongsTo(a, leftAliases) {
		return a, b
	}
	return b, a
}

func refBelongsTo(e queryir.Expr, aliases []string) bool {
	ref, ok := e.(queryir.Ref)
	if !ok || len(ref.Path) == 0 {
		return false
	}
	for _, a := range aliases {
		if ref.Path[0] == a {
			return true
		}
	}
	return false
}

// compileSource lowers one from/join source into a map[string]any{alias:
// row}-wrapped stream, applying extraWhere (the push-down filter for this
// alias, if any) upstream of the wrap.
func (st *compileState) compileSource(src queryir.Source, extraWhere queryir.Expr) (*operator.Buffer, error) {
	switch src.Kind {
	case queryir.SourceCollection:
		return st.compileCollectionSource(src, extraWhere)
	case queryir.SourceQuery:
		return st.compileQuerySource(src, extraWhere)
	default:
		return nil, fmt.Errorf("compiler: unknown source kind for alias %q", src.Alias)
	}
}

func (st *compileState) compileCollectionSource(src queryir.Source, extraWhere queryir.Expr) (*operator.Buffer, error) {
	binding, ok := st.sources[src.Alias]
	if !ok || binding.GetKey == nil {
		return nil, errs.Opf(errs.ErrMissingSource, "compiler: alias %q", src.Alias)
	}
	st.aliasToCollectionID[src.Alias] = binding.CollectionID

	raw := st.g.Input(src.Alias)
	keyed := operator.NewReKey(raw, func(v any) rowkey.Key { return binding.GetKey(v) })
	st.g.AddNode(keyed)

	stream := keyed.Out
	if extraWhere != nil {
		f := operator.NewFilter(stream, func(v any) bool { return queryir.Truthy(queryir.Eval(extraWhere, v)) })
		st.g.AddNode(f)
		stream = f.Out
	}

	alias := src.Alias
	wrap := operator.NewMap(stream, func(v any) any { return map[string]any{alias: v} })
	st.g.AddNode(wrap)
	return wrap.Out, nil
}

func (st *compileState) compileQuerySource(src queryir.Source, extraWhere queryir.Expr) (*operator.Buffer, error) {
	fp := src.Sub.Fingerprint()
	tee, ok := st.subCache[fp]
	if !ok {
		subOut, _, _, _, err := st.buildPipeline(src.Sub, false)
		if err != nil {
			return nil, err
		}
		tee = operator.NewTee(subOut)
		st.g.AddNode(tee)
		st.subCache[fp] = tee
	}
	branch := tee.Branch()

	stream := branch
	if extraWhere != nil {
		f := operator.NewFilter(stream, func(v any) bool { return queryir.Truthy(queryir.Eval(extraWhere, v)) })
		st.g.AddNode(f)
		stream = f.Out
	}

	alias := src.Alias
	wrap := operator.NewMap(stream, func(v any) any { return map[string]any{alias: v} })
	st.g.AddNode(wrap)
	return wrap.Out, nil
}
