// Package queryir defines the query intermediate representation: an
// immutable, tagged-variant AST for sources, joins, expressions and
// clauses, plus the structural fingerprint used to recognize equivalent
// queries. Each variant is a tagged node: a marker method plus a String
// method.
package queryir

import (
	"fmt"
	"sort"
	"strings"
)

// Expr is the sum type for scalar expressions: literals, field references,
// function/operator calls (including comparisons and boolean connectives,
// named uniformly so the predicate algebra can pattern-match on Name), and
// aggregates.
type Expr interface {
	expr()
	String() string
	// canon returns a canonical textual encoding used for fingerprinting:
	// commutative operand sets are sorted, everything else renders
	// positionally.
	canon() string
}

// Literal wraps a constant value. Supported dynamic types: bool, every
// integer/float width, string, nil, time.Time (compared by UTC instant,
// millisecond precision), and homogeneous []any of the above.
type Literal struct{ Value any }

func (Literal) expr() {}
func (l Literal) String() string { return fmt.Sprintf("%v", l.Value) }
func (l Literal) canon() string  { return "lit:" + canonLiteral(l.Value) }

// Val constructs a literal expression.
func Val(v any) Expr { return Literal{Value: v} }

// Ref is a field-path reference, e.g. ["u", "age"] for u.age. A single-
// segment path refers to a field on the query's natural (unjoined) row
// shape; a multi-segment path's first segment is a source alias.
type Ref struct{ Path []string }

func (Ref) expr() {}
func (r Ref) String() string { return strings.Join(r.Path, ".") }
func (r Ref) canon() string  { return "ref:" + strings.Join(r.Path, ".") }

// RefPath builds a Ref from path segments.
func RefPath(path ...string) Expr { return Ref{Path: append([]string(nil), path...)} }

// commutativeFuncs lists operator names whose argument order carries no
// semantic meaning, so the fingerprint sorts their operands rather than
// rendering them positionally.
var commutativeFuncs = map[string]bool{"and": true, "or": true}

// FuncCall is a named operator/function application: comparisons (eq, neq,
// gt, gte, lt, lte, in), boolean connectives (and, or, not), and scalar
// functions used inside projections.
type FuncCall struct {
	Name string
	Args []Expr
}

func (FuncCall) expr() {}

func (f FuncCall) String() string {
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", f.Name, strings.Join(parts, ", "))
}

func (f FuncCall) canon() string {
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		parts[i] = a.canon()
	}
	if commutativeFuncs[f.Name] {
		sort.Strings(parts)
	}
	return fmt.Sprintf("%s(%s)", f.Name, strings.Join(parts, ","))
}

// Func builds a FuncCall.
func Func(name string, args ...Expr) Expr { return FuncCall{Name: name, Args: args} }

func Eq(a, b Expr) Expr  { return Func("eq", a, b) }
func Neq(a, b Expr) Expr { return Func("neq", a, b) }
func Gt(a, b Expr) Expr  { return Func("gt", a, b) }
func Gte(a, b Expr) Expr { return Func("gte", a, b) }
func Lt(a, b Expr) Expr  { return Func("lt", a, b) }
func Lte(a, b Expr) Expr { return Func("lte", a, b) }
func And(args ...Expr) Expr {
	return FuncCall{Name: "and", Args: flattenSameOp("and", args)}
}
func Or(args ...Expr) Expr {
	return FuncCall{Name: "or", Args: flattenSameOp("or", args)}
}
func Not(a Expr) Expr { return Func("not", a) }

// In builds a membership test against a literal list of values.
func In(a Expr, values []any) Expr {
	return Func("in", a, Literal{Value: values})
}

func flattenSameOp(name string, args []Expr) []Expr {
	out := make([]Expr, 0, len(args))
	for _, a := range args {
		if fc, ok := a.(FuncCall); ok && fc.Name == name {
			out = append(out, fc.Args...)
			continue
		}
		out = append(out, a)
	}
	return out
}

// FalseLiteral is the canonical "unsatisfiable" expression produced by
// predicate intersection.
var FalseLiteral Expr = Literal{Value: false}

// IsFalseLiteral reports whether e is the canonical false literal.
func IsFalseLiteral(e Expr) bool {
	lit, ok := e.(Literal)
	if !ok {
		return false
	}
	b, ok := lit.Value.(bool)
	return ok && !b
}

// AggregateCall represents a group aggregate (count/sum/min/max/avg/first/
// last) applied to an expression.
type AggregateCall struct {
	Name string // "count", "sum", "min", "max", "avg", "first", "last"
	Arg  Expr   // nil for bare count(*)
}

func (AggregateCall) expr() {}

func (a AggregateCall) String() string {
	if a.Arg == nil {
		return a.Name + "(*)"
	}
	return fmt.Sprintf("%s(%s)", a.Name, a.Arg.String())
}

func (a AggregateCall) canon() string {
	if a.Arg == nil {
		return a.Name + "(*)"
	}
	return fmt.Sprintf("%s(%s)", a.Name, a.Arg.canon())
}

// Agg builds an AggregateCall.
func Agg(name string, arg Expr) Expr { return AggregateCall{Name: name, Arg: arg} }
