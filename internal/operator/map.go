package operator

import "github.com/relaydb/relaydb/internal/multiset"

// MapFn transforms a row value; the key is unchanged (use ReKey when the
// key must change too).
type MapFn func(value any) any

// Map applies Fn to every value, preserving key and multiplicity (spec
// §4.B "map").
type Map struct {
	In  *Buffer
	Out *Buffer
	Fn  MapFn
}

// NewMap wires a Map reading from in.
func NewMap(in *Buffer, fn MapFn) *Map {
	return &Map{In: in, Out: NewBuffer(), Fn: fn}
}

func (m *Map) PendingWork() bool { return m.In.PendingWork() }

func (m *Map) Propagate() {
	for _, c := range m.In.Drain() {
		switch c.Kind {
		case multiset.Enter:
			if c.OrderByIndex != "" {
				m.Out.AccumulateOrdered(c.Key, m.Fn(c.Value), c.Multiplicity, c.OrderByIndex)
			} else {
				m.Out.Accumulate(c.Key, m.Fn(c.Value), c.Multiplicity)
			}
		case multiset.Exit:
			m.Out.Accumulate(c.Key, m.Fn(c.Value), -c.Multiplicity)
		case multiset.Update:
			m.Out.Accumulate(c.Key, m.Fn(c.PreviousValue), -c.Multiplicity)
			if c.OrderByIndex != "" {
				m.Out.AccumulateOrdered(c.Key, m.Fn(c.Value), c.Multiplicity, c.OrderByIndex)
			} else {
				m.Out.Accumulate(c.Key, m.Fn(c.Value), c.Multiplicity)
			}
		}
	}
}
