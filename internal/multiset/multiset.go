// Package multiset implements the keyed change multiset that every
// differential operator (internal/operator) reads and writes: a mapping
// from key to a signed insert/delete tally plus the row values involved,
// classified into enter/exit/update/drop on drain.
package multiset

import (
	"github.com/mitchellh/hashstructure/v2"

	"github.com/relaydb/relaydb/internal/rowkey"
)

// ChangeKind classifies a drained entry by its net insert/delete tally.
type ChangeKind int

const (
	// Drop means the entry contributed nothing: no inserts and no deletes, or
	// equal insert and delete counts of the same row value with no fractional
	// index attached. A dropped entry is not delivered downstream.
	Drop ChangeKind = iota
	Enter
	Exit
	Update
)

func (k ChangeKind) String() string {
	switch k {
	case Enter:
		return "enter"
	case Exit:
		return "exit"
	case Update:
		return "update"
	default:
		return "drop"
	}
}

// Change is one classified, ready-to-deliver entry drained from a Multiset.
type Change struct {
	Kind          ChangeKind
	Key           rowkey.Key
	Value         any // set for Enter/Update
	PreviousValue any // set for Exit/Update
	OrderByIndex  string
	Multiplicity  int // net multiplicity after consolidation (>=1 for Enter/Update, the deleted count for Exit)
}

// entry tracks independent insert/delete tallies plus the most recently
// seen row payload on each side, so that a net multiplicity of zero does
// not lose the information needed to classify the change correctly.
type entry struct {
	inserts      int
	deletes      int
	insertValue  any
	deleteValue  any
	orderByIndex string
	haveIndex    bool
}

// Multiset accumulates signed-multiplicity changes keyed by rowkey.Key
// until drained. It is not safe for concurrent use — the engine's
// cooperative single-threaded scheduling model means callers never need it
// to be.
type Multiset struct {
	entries map[rowkey.Key]*entry
}

// New returns an empty Multiset.
func New() *Multiset {
	return &Multiset{entries: make(map[rowkey.Key]*entry)}
}

// Accumulate folds one signed-multiplicity occurrence of value at key into
// the multiset. mult > 0 records an insert occurrence, mult < 0 a delete
// occurrence; |mult| beyond 1 is rare in this engine (rows carry
// multiplicity via repeated Accumulate calls) but handled uniformly.
func (m *Multiset) Accumulate(key rowkey.Key, value any, mult int) {
	e := m.entries[key]
	if e == nil {
		e = &entry{}
		m.entries[key] = e
	}
	if mult > 0 {
		e.inserts += mult
		e.insertValue = value
	} else if mult < 0 {
		e.deletes += -mult
		e.deleteValue = value
	}
}

// AccumulateOrdered is Accumulate plus an associated fractional index,
// used by the orderBy operator.
func (m *Multiset) AccumulateOrdered(key rowkey.Key, value any, mult int, orderByIndex string) {
	m.Accumulate(key, value, mult)
	e := m.entries[key]
	e.orderByIndex = orderByIndex
	e.haveIndex = true
}

// IsEmpty reports whether the multiset currently holds no accumulated
// entries (regardless of whether they would classify to Drop).
func (m *Multiset) IsEmpty() bool { return len(m.entries) == 0 }

// Len returns the number of distinct keys currently buffered.
func (m *Multiset) Len() int { return len(m.entries) }

// Drain classifies every buffered entry and empties the multiset. Entries
// are returned in a stable order (iteration order is non-deterministic in
// Go maps, so Drain sorts by key string) so operator output is
// deterministic.
func (m *Multiset) Drain() []Change {
	if len(m.entries) == 0 {
		return nil
	}
	out := make([]Change, 0, len(m.entries))
	for k, e := range m.entries {
		c := classify(k, e)
		if c.Kind == Drop {
			continue
		}
		out = append(out, c)
	}
	m.entries = make(map[rowkey.Key]*entry)
	sortChanges(out)
	return out
}

// Peek classifies without draining, useful for operators that need to
// inspect pending work without consuming it (e.g. pendingWork checks).
func (m *Multiset) Peek() []Change {
	out := make([]Change, 0, len(m.entries))
	for k, e := range m.entries {
		c := classify(k, e)
		if c.Kind == Drop {
			continue
		}
		out = append(out, c)
	}
	sortChanges(out)
	return out
}

func classify(key rowkey.Key, e *entry) Change {
	c := Change{Key: key}
	if e.haveIndex {
		c.OrderByIndex = e.orderByIndex
	}
	switch {
	case e.inserts > 0 && e.deletes == 0:
		c.Kind = Enter
		c.Value = e.insertValue
		c.Multiplicity = e.inserts
	case e.deletes > 0 && e.inserts == 0:
		c.Kind = Exit
		c.Value = e.deleteValue
		c.PreviousValue = e.deleteValue
		c.Multiplicity = e.deletes
	case e.inserts > 0 && e.inserts == e.deletes && !e.haveIndex && SameRow(e.insertValue, e.deleteValue):
		c.Kind = Drop
	case e.inserts > 0 && e.deletes > 0:
		c.Kind = Update
		c.Value = e.insertValue
		c.PreviousValue = e.deleteValue
		c.Multiplicity = e.inserts
	default:
		c.Kind = Drop
	}
	return c
}

func sortChanges(cs []Change) {
	// Simple insertion sort: change batches are small (bounded by a single
	// graph run's input), and this keeps Drain allocation-free beyond the
	// output slice.
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j-1].Key > cs[j].Key; j-- {
			cs[j-1], cs[j] = cs[j], cs[j-1]
		}
	}
}

// RowFingerprint computes the structural hash of a row value. The distinct
// operator keys its counts by it, and SameRow compares rows through it.
func RowFingerprint(row any) uint64 {
	h, err := hashstructure.Hash(row, hashstructure.FormatV2, nil)
	if err != nil {
		// hashstructure only errors on unsupported types (channels, funcs);
		// rows are expected to be plain data. Fall back to a constant so a
		// pathological row still participates in consolidation, just
		// without dedupe — never panic on a caller's data.
		return 0
	}
	return h
}

// SameRow reports whether two row values are structurally equal. classify
// uses it to drop a cancelling insert/delete pair of one value, and the
// aggregate and windowed orderBy operators use it to skip unchanged rows.
func SameRow(a, b any) bool {
	return RowFingerprint(a) == RowFingerprint(b)
}
