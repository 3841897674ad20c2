// Package operator implements the differential dataflow operators from
// spec §4.B: filter, map, reKey, join, distinct/consolidate, aggregate,
// orderBy (unbounded and windowed), and the terminal output operator. Every
// operator reads a Buffer of changes accumulated since the last graph run,
// updates whatever materialized state it needs to answer future deltas
// correctly, and writes its own output Buffer for the next operator (or the
// graph's output sink) to consume.
package operator

import (
	"github.com/relaydb/relaydb/internal/multiset"
	"github.com/relaydb/relaydb/internal/rowkey"
)

// Buffer is the change queue between two operators (or between a graph
// input and the first operator reading it). It is intentionally the same
// shape as multiset.Multiset's accumulation contract — a Buffer *is* a
// multiset that has not yet been drained by its downstream reader.
type Buffer struct {
	ms *multiset.Multiset
}

// NewBuffer returns an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{ms: multiset.New()}
}

// Accumulate records one signed-multiplicity occurrence.
func (b *Buffer) Accumulate(key rowkey.Key, value any, mult int) {
	b.ms.Accumulate(key, value, mult)
}

// AccumulateOrdered is Accumulate plus a fractional index, used by the
// orderBy operator's output buffer.
func (b *Buffer) AccumulateOrdered(key rowkey.Key, value any, mult int, orderByIndex string) {
	b.ms.AccumulateOrdered(key, value, mult, orderByIndex)
}

// PendingWork reports whether the buffer holds entries not yet drained.
func (b *Buffer) PendingWork() bool { return !b.ms.IsEmpty() }

// Drain classifies and empties the buffer, in key order (deterministic,
// per invariant 3).
func (b *Buffer) Drain() []multiset.Change { return b.ms.Drain() }

// Node is one operator in the pipeline: it consumes whatever its own
// Buffer(s) accumulated since the last run and produces output into its own
// Buffer.
type Node interface {
	// Propagate drains this node's input(s) and writes to its output.
	Propagate()
	// PendingWork reports whether a Propagate call would do anything.
	PendingWork() bool
}
