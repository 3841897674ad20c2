package compiler

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/relaydb/relaydb/internal/queryir"
)

// queryPlan is the pure, graph-independent half of compilation: which
// where-clause conjuncts can be pushed down to a single source alias (for
// the adapter's subscription predicate and an upstream Filter) and which
// must remain residual, evaluated after the join chain. It depends only on
// a Query's structure, so it is safe to share across every Graph that
// happens to compile an identical query (spec §5 "compilation cache... a
// weak map keyed by IR node, shared globally").
type queryPlan struct {
	perAliasWhere map[string]queryir.Expr
	residualWhere []queryir.Expr
}

var (
	planMu    sync.Mutex
	planCache = map[queryir.Fingerprint]*queryPlan{}
	planGroup singleflight.Group
)

// analyzePlan returns q's cached plan, computing and caching it at most
// once per distinct fingerprint even under concurrent callers (e.g. several
// live-query collections created at once from the same named query).
func analyzePlan(q *queryir.Query) *queryPlan {
	fp := q.Fingerprint()
	planMu.Lock()
	if p, ok := planCache[fp]; ok {
		planMu.Unlock()
		return p
	}
	planMu.Unlock()

	v, _, _ := planGroup.Do(fp.String(), func() (any, error) {
		p := buildPlan(q)
		planMu.Lock()
		planCache[fp] = p
		planMu.Unlock()
		return p, nil
	})
	return v.(*queryPlan)
}

func buildPlan(q *queryir.Query) *queryPlan {
	aliases := map[string]bool{q.From.Alias: true}
	for _, j := range q.Joins {
		aliases[j.From.Alias] = true
	}
	singleSource := len(aliases) == 1
	var onlyAlias string
	if singleSource {
		for a := range aliases {
			onlyAlias = a
		}
	}

	p := &queryPlan{perAliasWhere: map[string]queryir.Expr{}}
	for _, c := range flattenAnd(q.Where) {
		refs := referencedAliases(c)
		switch len(refs) {
		case 0:
			p.residualWhere = append(p.residualWhere, c)
		case 1:
			var alias string
			for a := range refs {
				alias = a
			}
			if alias == "" {
				if !singleSource {
					p.residualWhere = append(p.residualWhere, c)
					continue
				}
				alias = onlyAlias
			}
			// Pushed-down refs are rewritten relative to the alias's own row.
			var strip func(queryir.Expr) queryir.Expr
			strip = func(e queryir.Expr) queryir.Expr {
				if r, ok := e.(queryir.Ref); ok && len(r.Path) > 1 && r.Path[0] == alias {
					return queryir.RefPath(r.Path[1:]...)
				}
				if fc, ok := e.(queryir.FuncCall); ok {
					args := make([]queryir.Expr, len(fc.Args))
					for i, a := range fc.Args {
						args[i] = strip(a)
					}
					return queryir.FuncCall{Name: fc.Name, Args: args}
				}
				return e
			}
			p.perAliasWhere[alias] = andClause(p.perAliasWhere[alias], strip(c))
		default:
			p.residualWhere = append(p.residualWhere, c)
		}
	}
	return p
}

func andClause(existing, e queryir.Expr) queryir.Expr {
	if existing == nil {
		return e
	}
	return queryir.And(existing, e)
}

// flattenAnd splits a (possibly nil) expression into its top-level AND
// conjuncts, leaving non-AND expressions (including OR trees) as a single
// conjunct — push-down only fires on a clause provably restricted to one
// alias, and an OR tree mixing aliases can never be, so no further
// decomposition is useful.
func flattenAnd(e queryir.Expr) []queryir.Expr {
	if e == nil {
		return nil
	}
	fc, ok := e.(queryir.FuncCall)
	if !ok || fc.Name != "and" {
		return []queryir.Expr{e}
	}
	var out []queryir.Expr
	for _, a := range fc.Args {
		out = append(out, flattenAnd(a)...)
	}
	return out
}

// referencedAliases collects the set of source aliases an expression
// reaches through multi-segment Refs. A single-segment Ref contributes the
// "" sentinel, meaning "the query's unaliased natural row" — only
// meaningful when the query has exactly one source.
func referencedAliases(e queryir.Expr) map[string]bool {
	out := map[string]bool{}
	var walk func(queryir.Expr)
	walk = func(e queryir.Expr) {
		switch t := e.(type) {
		case queryir.Ref:
			if len(t.Path) <= 1 {
				out[""] = true
			} else {
				out[t.Path[0]] = true
			}
		case queryir.FuncCall:
			for _, a := range t.Args {
				walk(a)
			}
		case queryir.AggregateCall:
			if t.Arg != nil {
				walk(t.Arg)
			}
		}
	}
	walk(e)
	return out
}
