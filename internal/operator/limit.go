package operator

import (
	"github.com/relaydb/relaydb/internal/multiset"
	"github.com/relaydb/relaydb/internal/rowkey"
)

// InsertionLimit is the compiler's fallback for a bare limit clause with no
// orderBy: it forwards at most N rows, admitted in the order their Enter
// deltas arrive. Spec §4.F.1.8 notes this ordering is not guaranteed stable
// across reruns (a re-subscribe or adapter replay can admit rows in a
// different order) — callers needing a stable top-N should add an orderBy.
type InsertionLimit struct {
	In  *Buffer
	Out *Buffer
	N   int

	admitted []rowkey.Key
	rows     map[rowkey.Key]any
}

// NewInsertionLimit wires an InsertionLimit reading from in.
func NewInsertionLimit(in *Buffer, n int) *InsertionLimit {
	return &InsertionLimit{In: in, Out: NewBuffer(), N: n, rows: map[rowkey.Key]any{}}
}

func (l *InsertionLimit) PendingWork() bool { return l.In.PendingWork() }

func (l *InsertionLimit) Propagate() {
	for _, c := range l.In.Drain() {
		switch c.Kind {
		case multiset.Enter:
			if len(l.admitted) < l.N {
				l.admitted = append(l.admitted, c.Key)
				l.rows[c.Key] = c.Value
				l.Out.Accumulate(c.Key, c.Value, c.Multiplicity)
			}
		case multiset.Exit:
			if _, ok := l.rows[c.Key]; ok {
				delete(l.rows, c.Key)
				l.removeAdmitted(c.Key)
				l.Out.Accumulate(c.Key, c.Value, -c.Multiplicity)
			}
		case multiset.Update:
			if _, ok := l.rows[c.Key]; ok {
				l.rows[c.Key] = c.Value
				l.Out.Accumulate(c.Key, c.PreviousValue, -c.Multiplicity)
				l.Out.Accumulate(c.Key, c.Value, c.Multiplicity)
			}
		}
	}
}

func (l *InsertionLimit) removeAdmitted(k rowkey.Key) {
	for i, a := range l.admitted {
		if a == k {
			l.admitted = append(l.admitted[:i], l.admitted[i+1:]...)
			return
		}
	}
}
