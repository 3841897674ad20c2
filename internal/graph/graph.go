// Package graph implements the dataflow graph runtime from spec §4.C: a
// set of typed input buffers indexed by source alias, a finalized
// operator-chain topology built once by the compiler, and a single-pass,
// reentrancy-guarded Run loop.
package graph

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaydb/relaydb/internal/errs"
	"github.com/relaydb/relaydb/internal/operator"
)

var graphTracer trace.Tracer = otel.Tracer("github.com/relaydb/relaydb/internal/graph")

// Graph holds one compiled query's input buffers (one per source alias)
// and operator chain. It is owned by the livequery.Collection or
// effect.Effect that built it (spec §5 "operator graphs (owned by the
// live-query collection or effect that created them)").
type Graph struct {
	inputs    map[string]*operator.Buffer
	nodes     []operator.Node
	finalized bool
	running   bool
}

// New returns an empty, not-yet-finalized graph.
func New() *Graph {
	return &Graph{inputs: map[string]*operator.Buffer{}}
}

// Input returns the input buffer for alias, creating it if this is the
// first reference. Compiling a query taps this buffer as the alias's
// source stream; the owning collection/livequery feeds it from source
// subscription changes.
func (g *Graph) Input(alias string) *operator.Buffer {
	if b, ok := g.inputs[alias]; ok {
		return b
	}
	if g.finalized {
		panic(fmt.Sprintf("graph: Input(%q) after Finalize", alias))
	}
	b := operator.NewBuffer()
	g.inputs[alias] = b
	return b
}

// AddNode appends n to the operator chain. Nodes must be added in
// topological order (every node's upstream Buffer must belong to an
// earlier node, or to an Input) — the compiler guarantees this because it
// builds each node immediately after the node(s) feeding it.
func (g *Graph) AddNode(n operator.Node) {
	if g.finalized {
		panic("graph: AddNode after Finalize")
	}
	g.nodes = append(g.nodes, n)
}

// Finalize locks the topology. After Finalize, AddNode panics and Input
// panics for any alias not already registered.
func (g *Graph) Finalize() { g.finalized = true }

// Finalized reports whether Finalize has been called.
func (g *Graph) Finalized() bool { return g.finalized }

// PendingWork reports whether a Run call would currently propagate
// anything: true whenever any input buffer holds undrained entries.
func (g *Graph) PendingWork() bool {
	for _, b := range g.inputs {
		if b.PendingWork() {
			return true
		}
	}
	return false
}

// Run drains every input and propagates changes through the operator
// chain in a single pass, in the topological order nodes were added.
// Run is reentrancy-guarded per spec §4.C/§5: a nested call from within a
// sink invoked during this Run returns errs.ErrNestedRun rather than
// recursing; callers (the scheduler, or a sink itself) treat that as a
// silent no-op, per spec §7's NestedRun handling.
func (g *Graph) Run() error {
	_, span := graphTracer.Start(context.Background(), "graph.Run")
	defer span.End()
	if g.running {
		span.SetStatus(codes.Error, errs.ErrNestedRun.Error())
		return errs.Op("graph.Run", errs.ErrNestedRun)
	}
	g.running = true
	defer func() { g.running = false }()
	for _, n := range g.nodes {
		n.Propagate()
	}
	return nil
}
