package operator

import (
	"github.com/relaydb/relaydb/internal/multiset"
	"github.com/relaydb/relaydb/internal/rowkey"
)

// KeyFn derives a new key from a row value.
type KeyFn func(value any) rowkey.Key

// ReKey produces a new keyed stream, re-indexing every entry by Fn(value).
// Multiplicity is preserved. This is how the compiler builds per-alias
// join indices (spec §4.B "reKey") and how a collection's natural
// primary-key stream is derived from its adapter's wire keys.
type ReKey struct {
	In  *Buffer
	Out *Buffer
	Fn  KeyFn
}

// NewReKey wires a ReKey reading from in.
func NewReKey(in *Buffer, fn KeyFn) *ReKey {
	return &ReKey{In: in, Out: NewBuffer(), Fn: fn}
}

func (r *ReKey) PendingWork() bool { return r.In.PendingWork() }

func (r *ReKey) Propagate() {
	for _, c := range r.In.Drain() {
		switch c.Kind {
		case multiset.Enter:
			r.Out.Accumulate(r.Fn(c.Value), c.Value, c.Multiplicity)
		case multiset.Exit:
			r.Out.Accumulate(r.Fn(c.Value), c.Value, -c.Multiplicity)
		case multiset.Update:
			oldKey := r.Fn(c.PreviousValue)
			newKey := r.Fn(c.Value)
			r.Out.Accumulate(oldKey, c.PreviousValue, -c.Multiplicity)
			r.Out.Accumulate(newKey, c.Value, c.Multiplicity)
		}
	}
}

// Tagged wraps a row with the key it carried before being re-keyed to a
// join index, so the join operator can reconstruct a composite output key
// (spec §4.F.1 step 4: "reKey both sides to the join-key expression...
// then reKey to the composite key").
type Tagged struct {
	OrigKey rowkey.Key
	Row     any
}

// TagKeyed wraps every entry of in with its current key, producing a
// stream of Tagged values keyed identically to in. This is the per-alias
// "identity" step that precedes join-key re-keying; it needs the entry's
// key, not just its value, so it is implemented directly rather than via
// the key-blind Map helper.
type TagKeyed struct {
	In  *Buffer
	Out *Buffer
}

// NewTagKeyed wires a TagKeyed reading from in.
func NewTagKeyed(in *Buffer) *TagKeyed {
	return &TagKeyed{In: in, Out: NewBuffer()}
}

func (t *TagKeyed) PendingWork() bool { return t.In.PendingWork() }

func (t *TagKeyed) Propagate() {
	for _, c := range t.In.Drain() {
		switch c.Kind {
		case multiset.Enter:
			t.Out.Accumulate(c.Key, Tagged{OrigKey: c.Key, Row: c.Value}, c.Multiplicity)
		case multiset.Exit:
			t.Out.Accumulate(c.Key, Tagged{OrigKey: c.Key, Row: c.Value}, -c.Multiplicity)
		case multiset.Update:
			t.Out.Accumulate(c.Key, Tagged{OrigKey: c.Key, Row: c.PreviousValue}, -c.Multiplicity)
			t.Out.Accumulate(c.Key, Tagged{OrigKey: c.Key, Row: c.Value}, c.Multiplicity)
		}
	}
}
