package queryir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint is a canonical hash of a Query, stable across runs for
// structurally equal IRs. Equal fingerprints mean equal canonical text.
// SelectFn is not part of that text, so queries that differ only in
// SelectFn share a fingerprint. Unequal fingerprints imply nothing about
// equivalence either way.
type Fingerprint uint64

func (f Fingerprint) String() string { return strconv.FormatUint(uint64(f), 16) }

// Fingerprint canonicalizes q (sorting commutative AND/OR argument sets and
// projection field names, which canon() already does per-node) into a
// textual encoding and hashes it with xxhash — the same hash beads pulls
// in transitively for fast structural keys, here promoted to a direct
// dependency and given a concrete job: a deterministic 64-bit digest of a
// query's canonical text form.
func (q *Query) Fingerprint() Fingerprint {
	return Fingerprint(xxhash.Sum64String(q.CanonicalText()))
}

// CanonicalText exposes the pre-hash canonical encoding that Fingerprint
// hashes, useful for the demo CLI's `describe` command and for debugging
// fingerprint collisions.
func (q *Query) CanonicalText() string {
	var b strings.Builder
	b.WriteString("from:")
	b.WriteString(q.From.canon())
	joins := make([]string, len(q.Joins))
	for i, j := range q.Joins {
		joins[i] = j.canon()
	}
	// Join order is semantically meaningful (later joins can reference
	// earlier aliases), so it is NOT sorted — only AND/OR argument sets
	// and projection fields are commutative.
	b.WriteString("|joins:[")
	b.WriteString(strings.Join(joins, ";"))
	b.WriteString("]")

	if q.Where != nil {
		b.WriteString("|where:")
		b.WriteString(q.Where.canon())
	}
	if len(q.GroupBy) > 0 {
		gb := make([]string, len(q.GroupBy))
		for i, e := range q.GroupBy {
			gb[i] = e.canon()
		}
		b.WriteString("|groupby:[")
		b.WriteString(strings.Join(gb, ";"))
		b.WriteString("]")
	}
	if q.Having != nil {
		b.WriteString("|having:")
		b.WriteString(q.Having.canon())
	}
	if len(q.OrderBy) > 0 {
		ob := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			ob[i] = o.canon()
		}
		b.WriteString("|orderby:[")
		b.WriteString(strings.Join(ob, ";"))
		b.WriteString("]")
	}
	if q.Limit != nil {
		fmt.Fprintf(&b, "|limit:%d", *q.Limit)
	}
	if q.Offset != nil {
		fmt.Fprintf(&b, "|offset:%d", *q.Offset)
	}
	b.WriteString("|select:")
	b.WriteString(q.Select.canon())
	if q.FindOne {
		b.WriteString("|findOne")
	}

	return b.String()
}
