package querybuilder

import "github.com/relaydb/relaydb/internal/queryir"

// Path is this project's stand-in for the "recording proxy" design note in
// spec §9: a projection callback that received a duck-typed proxy object in
// the original would record a field path every time an attribute was
// accessed. Go has no attribute-access hook to intercept, so Path exposes
// the same capability explicitly: Field appends one path segment and
// returns a new Path, and Expr converts the accumulated path into a
// queryir.Ref the compiler can plan against — without ever evaluating a
// user callback against live row data.
type Path struct {
	segments []string
}

// Ref starts a Path rooted at a source alias (or, for an unjoined
// single-source query, at the row's own top-level field namespace).
func Ref(root string) Path { return Path{segments: []string{root}} }

// Field extends the path by one segment.
func (p Path) Field(name string) Path {
	return Path{segments: append(append([]string(nil), p.segments...), name)}
}

// Expr renders the accumulated path as a field-reference expression.
func (p Path) Expr() queryir.Expr { return queryir.RefPath(p.segments...) }

// Projection tree constructors. These are the "explicit PathTree API"
// spec §9 describes as the non-proxy fallback: a select clause is built by
// naming output fields and giving each one a Path-derived or literal
// expression, a nested Record, or a Spread of another field's shape.

// Field builds a named scalar projection field from a value expression
// (commonly p.Expr() for some Path p, or a queryir.Func/Agg call).
func Field(name string, value queryir.Expr) queryir.ProjectField {
	return queryir.ProjectField{Name: name, Value: value}
}

// RecordField builds a named nested-record projection field.
func RecordField(name string, fields ...queryir.ProjectField) queryir.ProjectField {
	return queryir.ProjectField{Name: name, Record: &queryir.Projection{Fields: fields}}
}

// SpreadField marks a field as a spread of another source's full row shape
// (e.g. spreading an unprojected join alias's natural row into the output).
func SpreadField(name string) queryir.ProjectField {
	return queryir.ProjectField{Name: name, Spread: true}
}

// Proj builds a Projection tree from its fields.
func Proj(fields ...queryir.ProjectField) *queryir.Projection {
	return &queryir.Projection{Fields: fields}
}
