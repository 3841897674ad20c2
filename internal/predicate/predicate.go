// Package predicate implements the subset and combination algebra over
// {where, orderBy, limit} triples that the compiler and the collection's
// subscription registry use to decide whether a newly requested read can
// reuse already-loaded data, or whether two subscriptions' predicates can
// be merged into a single adapter load.
//
// The where-clause rules follow a structural induction over queryir.Expr:
// a type switch over expression node kinds, walking and/or/comparison
// nodes recursively. Subset checks are
// conservative: a false result never means "definitely not a subset", only
// "could not be proven".
package predicate

import (
	"fmt"
	"sort"

	"github.com/relaydb/relaydb/internal/queryir"
)

// Predicate bundles the three axes a loaded-data check reasons about
// together: the row filter, the sort order, and how many rows are wanted.
type Predicate struct {
	Where   queryir.Expr
	OrderBy []queryir.OrderTerm
	Limit   *int
}

// IsWhereSubset reports whether every row satisfying p also satisfies q.
// A nil Expr means "unconstrained" (matches every row). Per the algebra, a
// nil p is a subset of q only when q is also nil; a defined p is always a
// subset of a nil (unconstrained) q.
func IsWhereSubset(p, q queryir.Expr) bool {
	if p == nil {
		return q == nil
	}
	if q == nil {
		return true
	}
	if p.canon() == q.canon() {
		return true
	}
	return isSubset(p, q)
}

func isSubset(p, q queryir.Expr) bool {
	// A∧B ⊆ C if either conjunct alone already implies C.
	if args, ok := andArgs(p); ok {
		for _, a := range args {
			if isSubset(a, q) {
				return true
			}
		}
	}
	// A ⊆ C∨D if A implies either disjunct.
	if args, ok := orArgs(q); ok {
		for _, d := range args {
			if isSubset(p, d) {
				return true
			}
		}
	}
	// A∨B ⊆ C only if every disjunct implies C.
	if args, ok := orArgs(p); ok {
		all := len(args) > 0
		for _, a := range args {
			if !isSubset(a, q) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	// A ⊆ C∧D only if A implies every conjunct.
	if args, ok := andArgs(q); ok {
		all := len(args) > 0
		for _, d := range args {
			if !isSubset(p, d) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}

	cp, okp := asComparison(p)
	cq, okq := asComparison(q)
	if okp && okq && pathEqual(cp.Field, cq.Field) {
		return comparisonSubset(cp, cq)
	}
	return false
}

// IsOrderBySubset reports whether p is a prefix of q with identical
// directions and nulls placement term for term.
func IsOrderBySubset(p, q []queryir.OrderTerm) bool {
	if len(p) > len(q) {
		return false
	}
	for i, term := range p {
		other := q[i]
		if term.Expr.canon() != other.Expr.canon() {
			return false
		}
		if term.Direction != other.Direction || term.Nulls != other.Nulls {
			return false
		}
	}
	return true
}

// IsLimitSubset reports whether l1 <= l2, treating a nil limit as +Inf.
func IsLimitSubset(l1, l2 *int) bool {
	if l2 == nil {
		return true
	}
	if l1 == nil {
		return false
	}
	return *l1 <= *l2
}

// IntersectWherePredicates combines a and b into the most restrictive
// where clause that accepts exactly the rows both accept. A nil result
// field is never returned for an unsatisfiable combination: instead the
// canonical false literal (queryir.FalseLiteral) is returned, matching the
// "predicate unsatisfiable" signal that producers check for.
func IntersectWherePredicates(a, b queryir.Expr) queryir.Expr {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.canon() == b.canon() {
		return a
	}
	ca, oka := asComparison(a)
	cb, okb := asComparison(b)
	if oka && okb && pathEqual(ca.Field, cb.Field) {
		if merged, ok := intersectComparisons(ca, cb); ok {
			return merged.toExpr()
		}
		if ca.Op == "eq" || cb.Op == "eq" || (ca.Op == "in" && cb.Op == "in") {
			return queryir.FalseLiteral
		}
	}
	return queryir.And(a, b)
}

// UnionWherePredicates combines a and b into the least restrictive where
// clause that accepts every row either accepts.
func UnionWherePredicates(a, b queryir.Expr) queryir.Expr {
	if a == nil || b == nil {
		return nil // unbounded operand makes the union unbounded
	}
	if a.canon() == b.canon() {
		return a
	}
	ca, oka := asComparison(a)
	cb, okb := asComparison(b)
	if oka && okb && pathEqual(ca.Field, cb.Field) {
		if merged, ok := unionComparisons(ca, cb); ok {
			return merged.toExpr()
		}
	}
	return queryir.Or(a, b)
}

// IntersectPredicates combines two {where, orderBy, limit} triples into
// the most restrictive triple satisfying both: wheres AND together,
// orderBy takes the longer of the two when one is a prefix of the other
// (otherwise the combination is nonsensical and orderBy is left empty),
// and limit takes the minimum.
func IntersectPredicates(a, b Predicate) Predicate {
	out := Predicate{Where: IntersectWherePredicates(a.Where, b.Where)}
	switch {
	case IsOrderBySubset(a.OrderBy, b.OrderBy):
		out.OrderBy = b.OrderBy
	case IsOrderBySubset(b.OrderBy, a.OrderBy):
		out.OrderBy = a.OrderBy
	default:
		out.OrderBy = nil
	}
	out.Limit = minLimit(a.Limit, b.Limit)
	return out
}

// UnionPredicates combines two triples into the least restrictive triple
// satisfying either: wheres OR together, orderBy is preserved only if both
// sides share it exactly, limit is undefined if either side is unbounded.
func UnionPredicates(a, b Predicate) Predicate {
	out := Predicate{Where: UnionWherePredicates(a.Where, b.Where)}
	if sameOrderBy(a.OrderBy, b.OrderBy) {
		out.OrderBy = a.OrderBy
	}
	if a.Limit == nil || b.Limit == nil {
		out.Limit = nil
	} else {
		out.Limit = minLimit(a.Limit, b.Limit)
	}
	return out
}

func sameOrderBy(a, b []queryir.OrderTerm) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Expr.canon() != b[i].Expr.canon() || a[i].Direction != b[i].Direction || a[i].Nulls != b[i].Nulls {
			return false
		}
	}
	return true
}

func minLimit(a, b *int) *int {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if *a < *b {
		return a
	}
	return b
}

// andArgs/orArgs expose a FuncCall's operands when its name matches,
// letting the subset induction recurse without importing queryir's
// unexported FuncCall type.
func andArgs(e queryir.Expr) ([]queryir.Expr, bool) { return funcArgs(e, "and") }
func orArgs(e queryir.Expr) ([]queryir.Expr, bool)  { return funcArgs(e, "or") }

func funcArgs(e queryir.Expr, name string) ([]queryir.Expr, bool) {
	fc, ok := e.(queryir.FuncCall)
	if !ok || fc.Name != name {
		return nil, false
	}
	return fc.Args, true
}

type comparison struct {
	Field []string
	Op    string // eq, neq, gt, gte, lt, lte, in
	Value any
	In    []any
}

func asComparison(e queryir.Expr) (comparison, bool) {
	fc, ok := e.(queryir.FuncCall)
	if !ok || len(fc.Args) != 2 {
		return comparison{}, false
	}
	ref, refOK := fc.Args[0].(queryir.Ref)
	lit, litOK := fc.Args[1].(queryir.Literal)
	if !refOK || !litOK {
		return comparison{}, false
	}
	switch fc.Name {
	case "eq", "neq", "gt", "gte", "lt", "lte":
		return comparison{Field: ref.Path, Op: fc.Name, Value: lit.Value}, true
	case "in":
		values, ok := lit.Value.([]any)
		if !ok {
			return comparison{}, false
		}
		return comparison{Field: ref.Path, Op: "in", In: values}, true
	default:
		return comparison{}, false
	}
}

func (c comparison) toExpr() queryir.Expr {
	ref := queryir.RefPath(c.Field...)
	switch c.Op {
	case "in":
		return queryir.In(ref, c.In)
	default:
		return queryir.Func(c.Op, ref, queryir.Val(c.Value))
	}
}

func pathEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// comparisonSubset implements Table G-1: given p and q are single
// comparisons over the same field, decide whether every row satisfying p
// also satisfies q.
func comparisonSubset(p, q comparison) bool {
	switch p.Op {
	case "eq":
		v, vok := queryir.NumericValue(p.Value)
		switch q.Op {
		case "eq":
			return literalEqual(p.Value, q.Value)
		case "neq":
			return !literalEqual(p.Value, q.Value)
		case "gt":
			a, aok := queryir.NumericValue(q.Value)
			return vok && aok && v > a
		case "gte":
			a, aok := queryir.NumericValue(q.Value)
			return vok && aok && v >= a
		case "lt":
			b, bok := queryir.NumericValue(q.Value)
			return vok && bok && v < b
		case "lte":
			b, bok := queryir.NumericValue(q.Value)
			return vok && bok && v <= b
		case "in":
			return containsLiteral(q.In, p.Value)
		}
	case "gt":
		b, bok := queryir.NumericValue(p.Value)
		switch q.Op {
		case "gt":
			a, aok := queryir.NumericValue(q.Value)
			return bok && aok && b >= a
		case "gte":
			a, aok := queryir.NumericValue(q.Value)
			return bok && aok && b >= a
		}
	case "gte":
		b, bok := queryir.NumericValue(p.Value)
		switch q.Op {
		case "gt":
			a, aok := queryir.NumericValue(q.Value)
			return bok && aok && b > a
		case "gte":
			a, aok := queryir.NumericValue(q.Value)
			return bok && aok && b >= a
		}
	case "lt":
		a, aok := queryir.NumericValue(p.Value)
		switch q.Op {
		case "lt":
			b, bok := queryir.NumericValue(q.Value)
			return aok && bok && a <= b
		case "lte":
			b, bok := queryir.NumericValue(q.Value)
			return aok && bok && a <= b
		}
	case "lte":
		a, aok := queryir.NumericValue(p.Value)
		switch q.Op {
		case "lt":
			b, bok := queryir.NumericValue(q.Value)
			return aok && bok && a < b
		case "lte":
			b, bok := queryir.NumericValue(q.Value)
			return aok && bok && a <= b
		}
	case "in":
		switch q.Op {
		case "in":
			return subsetOfLiterals(p.In, q.In)
		}
	}
	return false
}

func intersectComparisons(a, b comparison) (comparison, bool) {
	switch {
	case a.Op == "eq" && b.Op == "eq":
		if literalEqual(a.Value, b.Value) {
			return a, true
		}
		return comparison{}, false
	case a.Op == "eq":
		if comparisonSubset(a, b) {
			return a, true
		}
		return comparison{}, false
	case b.Op == "eq":
		if comparisonSubset(b, a) {
			return b, true
		}
		return comparison{}, false
	case a.Op == "in" && b.Op == "in":
		inter := intersectLiterals(a.In, b.In)
		if len(inter) == 0 {
			return comparison{}, false
		}
		return comparison{Field: a.Field, Op: "in", In: inter}, true
	case isLowerBound(a.Op) && isLowerBound(b.Op):
		return tighterLowerBound(a, b), true
	case isUpperBound(a.Op) && isUpperBound(b.Op):
		return tighterUpperBound(a, b), true
	}
	return comparison{}, false
}

func unionComparisons(a, b comparison) (comparison, bool) {
	switch {
	case a.Op == "eq" && b.Op == "eq":
		if literalEqual(a.Value, b.Value) {
			return a, true
		}
		return comparison{Field: a.Field, Op: "in", In: []any{a.Value, b.Value}}, true
	case a.Op == "eq" && b.Op == "in":
		return comparison{Field: a.Field, Op: "in", In: unionLiterals(b.In, []any{a.Value})}, true
	case a.Op == "in" && b.Op == "eq":
		return comparison{Field: a.Field, Op: "in", In: unionLiterals(a.In, []any{b.Value})}, true
	case a.Op == "in" && b.Op == "in":
		return comparison{Field: a.Field, Op: "in", In: unionLiterals(a.In, b.In)}, true
	case isLowerBound(a.Op) && isLowerBound(b.Op):
		return looserLowerBound(a, b), true
	case isUpperBound(a.Op) && isUpperBound(b.Op):
		return looserUpperBound(a, b), true
	}
	return comparison{}, false
}

func isLowerBound(op string) bool { return op == "gt" || op == "gte" }
func isUpperBound(op string) bool { return op == "lt" || op == "lte" }

// tighterLowerBound returns whichever of a, b excludes more rows (the
// larger bound value, with the exclusive gt winning ties over gte).
func tighterLowerBound(a, b comparison) comparison {
	av, _ := queryir.NumericValue(a.Value)
	bv, _ := queryir.NumericValue(b.Value)
	if av == bv {
		if a.Op == "gt" || b.Op == "gt" {
			return comparison{Field: a.Field, Op: "gt", Value: a.Value}
		}
		return a
	}
	if av > bv {
		return a
	}
	return b
}

func looserLowerBound(a, b comparison) comparison {
	av, _ := queryir.NumericValue(a.Value)
	bv, _ := queryir.NumericValue(b.Value)
	if av == bv {
		if a.Op == "gte" || b.Op == "gte" {
			return comparison{Field: a.Field, Op: "gte", Value: a.Value}
		}
		return a
	}
	if av < bv {
		return a
	}
	return b
}

func tighterUpperBound(a, b comparison) comparison {
	av, _ := queryir.NumericValue(a.Value)
	bv, _ := queryir.NumericValue(b.Value)
	if av == bv {
		if a.Op == "lt" || b.Op == "lt" {
			return comparison{Field: a.Field, Op: "lt", Value: a.Value}
		}
		return a
	}
	if av < bv {
		return a
	}
	return b
}

func looserUpperBound(a, b comparison) comparison {
	av, _ := queryir.NumericValue(a.Value)
	bv, _ := queryir.NumericValue(b.Value)
	if av == bv {
		if a.Op == "lte" || b.Op == "lte" {
			return comparison{Field: a.Field, Op: "lte", Value: a.Value}
		}
		return a
	}
	if av > bv {
		return a
	}
	return b
}

func literalEqual(a, b any) bool {
	if av, aok := queryir.NumericValue(a); aok {
		if bv, bok := queryir.NumericValue(b); bok {
			return av == bv
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func containsLiteral(set []any, v any) bool {
	for _, s := range set {
		if literalEqual(s, v) {
			return true
		}
	}
	return false
}

func subsetOfLiterals(small, big []any) bool {
	for _, v := range small {
		if !containsLiteral(big, v) {
			return false
		}
	}
	return true
}

func intersectLiterals(a, b []any) []any {
	var out []any
	for _, v := range a {
		if containsLiteral(b, v) {
			out = append(out, v)
		}
	}
	return queryir.SortableLiterals(out)
}

func unionLiterals(a, b []any) []any {
	out := append([]any(nil), a...)
	for _, v := range b {
		if !containsLiteral(out, v) {
			out = append(out, v)
		}
	}
	return queryir.SortableLiterals(out)
}
