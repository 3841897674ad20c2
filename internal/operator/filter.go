package operator

import "github.com/relaydb/relaydb/internal/multiset"

// Predicate tests a row value (the natural or joined row shape, never the
// key) for inclusion.
type Predicate func(value any) bool

// Filter forwards entries whose value satisfies Pred, preserving
// multiplicity (spec §4.B "filter").
type Filter struct {
	In   *Buffer
	Out  *Buffer
	Pred Predicate
}

// NewFilter wires a Filter reading from in.
func NewFilter(in *Buffer, pred Predicate) *Filter {
	return &Filter{In: in, Out: NewBuffer(), Pred: pred}
}

func (f *Filter) PendingWork() bool { return f.In.PendingWork() }

func (f *Filter) Propagate() {
	for _, c := range f.In.Drain() {
		switch c.Kind {
		case multiset.Enter:
			if f.Pred(c.Value) {
				f.Out.Accumulate(c.Key, c.Value, c.Multiplicity)
			}
		case multiset.Exit:
			if f.Pred(c.Value) {
				f.Out.Accumulate(c.Key, c.Value, -c.Multiplicity)
			}
		case multiset.Update:
			oldPasses := f.Pred(c.PreviousValue)
			newPasses := f.Pred(c.Value)
			if oldPasses {
				f.Out.Accumulate(c.Key, c.PreviousValue, -c.Multiplicity)
			}
			if newPasses {
				f.Out.Accumulate(c.Key, c.Value, c.Multiplicity)
			}
		}
	}
}
