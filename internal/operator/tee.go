package operator

import "github.com/relaydb/relaydb/internal/multiset"

// Tee fans one upstream buffer out to any number of independent downstream
// branches, each receiving an identical copy of every drained change. The
// compiler uses this to let two aliases share one compiled sub-query
// pipeline (spec §4.F.1.2) without either alias's downstream reKey/join
// stage draining the other's input out from under it.
type Tee struct {
	In   *Buffer
	outs []*Buffer
}

// NewTee wires a Tee reading from in.
func NewTee(in *Buffer) *Tee { return &Tee{In: in} }

// Branch allocates a new independent output buffer fed by every future
// Propagate call.
func (t *Tee) Branch() *Buffer {
	b := NewBuffer()
	t.outs = append(t.outs, b)
	return b
}

func (t *Tee) PendingWork() bool { return t.In.PendingWork() }

func (t *Tee) Propagate() {
	changes := t.In.Drain()
	if len(changes) == 0 {
		return
	}
	for _, out := range t.outs {
		for _, c := range changes {
			switch c.Kind {
			case multiset.Enter:
				out.Accumulate(c.Key, c.Value, c.Multiplicity)
			case multiset.Exit:
				out.Accumulate(c.Key, c.Value, -c.Multiplicity)
			case multiset.Update:
				out.Accumulate(c.Key, c.PreviousValue, -c.Multiplicity)
				out.Accumulate(c.Key, c.Value, c.Multiplicity)
			}
		}
	}
}
