package queryir

import (
	"fmt"
	"sort"
	"strings"
)

// SourceKind distinguishes a query's "from" between a concrete collection
// and an embedded sub-query.
type SourceKind int

const (
	SourceCollection SourceKind = iota
	SourceQuery
)

// Source is a collectionRef(collection, alias) or queryRef(subquery, alias).
type Source struct {
	Kind         SourceKind
	CollectionID string // stable id of the concrete collection, for SourceCollection
	Alias        string
	Sub          *Query // non-nil for SourceQuery
}

func (s Source) canon() string {
	if s.Kind == SourceQuery {
		return "subquery:" + s.Sub.Fingerprint().String()
	}
	return "coll:" + s.CollectionID
}

// JoinKind enumerates the supported join types.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinRight
	JoinFull
	JoinCross
)

func (k JoinKind) String() string {
	switch k {
	case JoinLeft:
		return "left"
	case JoinRight:
		return "right"
	case JoinFull:
		return "full"
	case JoinCross:
		return "cross"
	default:
		return "inner"
	}
}

// Join is one join clause: kind, the joined-in source, and the "on"
// condition. Cross joins are special-cased at compile time as inner with a
// constant-true on.
type Join struct {
	Kind JoinKind
	From Source
	On   Expr
}

func (j Join) canon() string {
	on := "true"
	if j.On != nil {
		on = j.On.canon()
	}
	return fmt.Sprintf("join(%s,%s,%s)", j.Kind, j.From.canon(), on)
}

// OrderDirection is ascending or descending.
type OrderDirection int

const (
	Asc OrderDirection = iota
	Desc
)

func (d OrderDirection) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// NullsPlacement controls where nulls sort relative to non-null values.
type NullsPlacement int

const (
	NullsFirst NullsPlacement = iota
	NullsLast
)

func (n NullsPlacement) String() string {
	if n == NullsFirst {
		return "first"
	}
	return "last"
}

// StringSortMode selects between byte/codepoint-wise comparison and
// locale-aware collation for string-typed orderBy terms.
type StringSortMode int

const (
	StringSortLexical StringSortMode = iota
	StringSortLocale
)

// CollateOptions configures locale-aware string comparison, consumed by
// internal/collate (backed by golang.org/x/text/collate). Mirrors the
// option bag exposed by Intl.Collator: a locale tag plus case/numeric
// sensitivity toggles.
type CollateOptions struct {
	Locale          string // BCP-47 tag, e.g. "en", "de"; empty = root locale
	CaseInsensitive bool
	Numeric         bool // "natural sort": embedded digit runs compare by value
}

// OrderTerm is one entry of an orderBy clause.
type OrderTerm struct {
	Expr       Expr
	Direction  OrderDirection
	Nulls      NullsPlacement
	StringSort StringSortMode
	Collate    CollateOptions
}

func (o OrderTerm) canon() string {
	return fmt.Sprintf("order(%s,%s,%s,%d,%s|%t|%t)", o.Expr.canon(), o.Direction, o.Nulls,
		o.StringSort, o.Collate.Locale, o.Collate.CaseInsensitive, o.Collate.Numeric)
}

// ProjectField is one entry of a select projection tree: a named value
// expression, a nested record (via Record), or a spread of another
// expression's fields.
type ProjectField struct {
	Name   string
	Value  Expr
	Record *Projection // non-nil for nested record projections
	Spread bool
}

// Projection is the select clause's projection tree.
type Projection struct {
	Fields []ProjectField
}

func (p *Projection) canon() string {
	if p == nil {
		return "proj:none"
	}
	parts := make([]string, len(p.Fields))
	for i, f := range p.Fields {
		v := "spread"
		switch {
		case f.Record != nil:
			v = f.Record.canon()
		case f.Value != nil:
			v = f.Value.canon()
		}
		parts[i] = f.Name + "=" + v
	}
	sort.Strings(parts) // field order is irrelevant to semantics
	return "proj:{" + strings.Join(parts, ",") + "}"
}

// Query is the full, immutable query IR.
type Query struct {
	From    Source
	Joins   []Join
	Where   Expr
	GroupBy []Expr
	Having  Expr
	OrderBy []OrderTerm
	Limit   *int
	Offset  *int
	Select  *Projection
	// SelectFn is the builder's `fn.select` escape hatch: an opaque
	// row-to-row projection function supplied instead of a declarative
	// Projection tree. It takes precedence over Select when non-nil. Since
	// it cannot be inspected structurally, it is excluded from
	// Fingerprint/CanonicalText: two queries differing only in SelectFn
	// share one fingerprint (spec §4.E "fn.select").
	SelectFn any
	FindOne  bool
}

// clone returns a shallow-enough copy of q for the builder to extend —
// queries are treated as immutable value trees; the builder is the only
// place that mutates in place, and even it only does so on freshly cloned
// copies.
func (q Query) clone() *Query {
	nq := q
	nq.Joins = append([]Join(nil), q.Joins...)
	nq.GroupBy = append([]Expr(nil), q.GroupBy...)
	nq.OrderBy = append([]OrderTerm(nil), q.OrderBy...)
	return &nq
}

// Clone returns a deep-enough copy for the builder to extend safely.
func (q *Query) Clone() *Query { return q.clone() }
