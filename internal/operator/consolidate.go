package operator

import "github.com/relaydb/relaydb/internal/multiset"

// Consolidate forwards its input unchanged, folding equal (key, value)
// entries and dropping zero-multiplicity ones (spec §4.B "consolidate").
// Because every upstream Buffer already accumulates through
// multiset.Multiset before being drained, folding/dropping has already
// happened by the time entries reach Consolidate; it exists as an explicit
// pipeline stage so the compiler can document where consolidation is
// guaranteed (e.g. immediately downstream of a join or aggregate, before
// the terminal output operator) without relying on an incidental property
// of Buffer.
type Consolidate struct {
	In  *Buffer
	Out *Buffer
}

// NewConsolidate wires a Consolidate reading from in.
func NewConsolidate(in *Buffer) *Consolidate {
	return &Consolidate{In: in, Out: NewBuffer()}
}

func (c *Consolidate) PendingWork() bool { return c.In.PendingWork() }

func (c *Consolidate) Propagate() {
	for _, ch := range c.In.Drain() {
		switch ch.Kind {
		case multiset.Enter:
			c.Out.Accumulate(ch.Key, ch.Value, ch.Multiplicity)
		case multiset.Exit:
			c.Out.Accumulate(ch.Key, ch.Value, -ch.Multiplicity)
		case multiset.Update:
			c.Out.Accumulate(ch.Key, ch.PreviousValue, -ch.Multiplicity)
			c.Out.Accumulate(ch.Key, ch.Value, ch.Multiplicity)
		}
	}
}

// Distinct folds duplicate (key, row-fingerprint) pairs, used when a
// projection can legitimately produce the same key with structurally
// different payloads from two distinct upstream occurrences (spec §4.B
// "distinct"). Unlike Consolidate it compares by row fingerprint rather
// than passing every value straight through: a later occurrence at the
// same key with an identical fingerprint to one already forwarded is
// suppressed rather than re-announced.
type Distinct struct {
	In  *Buffer
	Out *Buffer

	lastFingerprint map[string]uint64
}

// NewDistinct wires a Distinct reading from in.
func NewDistinct(in *Buffer) *Distinct {
	return &Distinct{In: in, Out: NewBuffer(), lastFingerprint: map[string]uint64{}}
}

func (d *Distinct) PendingWork() bool { return d.In.PendingWork() }

func (d *Distinct) Propagate() {
	for _, ch := range d.In.Drain() {
		key := string(ch.Key)
		switch ch.Kind {
		case multiset.Enter:
			fp := multiset.RowFingerprint(ch.Value)
			if prev, ok := d.lastFingerprint[key]; ok && prev == fp {
				continue
			}
			d.lastFingerprint[key] = fp
			d.Out.Accumulate(ch.Key, ch.Value, ch.Multiplicity)
		case multiset.Exit:
			delete(d.lastFingerprint, key)
			d.Out.Accumulate(ch.Key, ch.Value, -ch.Multiplicity)
		case multiset.Update:
			fp := multiset.RowFingerprint(ch.Value)
			if prev, ok := d.lastFingerprint[key]; ok && prev == fp {
				continue
			}
			d.lastFingerprint[key] = fp
			d.Out.Accumulate(ch.Key, ch.PreviousValue, -ch.Multiplicity)
			d.Out.Accumulate(ch.Key, ch.Value, ch.Multiplicity)
		}
	}
}
