package operator

import "github.com/relaydb/relaydb/internal/multiset"

// Sink receives one graph run's drained, classified output batch.
type Sink func(changes []multiset.Change)

// Output is the terminal operator: it drains In and invokes Sink with the
// resulting batch on every graph run that has pending work (spec §4.B
// "output(sink)").
type Output struct {
	In   *Buffer
	Sink Sink
}

// NewOutput wires an Output reading from in.
func NewOutput(in *Buffer, sink Sink) *Output {
	return &Output{In: in, Sink: sink}
}

func (o *Output) PendingWork() bool { return o.In.PendingWork() }

func (o *Output) Propagate() {
	changes := o.In.Drain()
	if len(changes) == 0 {
		return
	}
	o.Sink(changes)
}
