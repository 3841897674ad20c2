// Package effect implements the delta-only subscriber variant of
// livequery.Collection described in spec §4.L: it drives the same compiled
// operator graph but never materializes a result Collection, instead
// handing enter/exit/update deltas straight to a caller-supplied callback.
package effect

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/relaydb/relaydb/internal/collection"
	"github.com/relaydb/relaydb/internal/compiler"
	"github.com/relaydb/relaydb/internal/errs"
	"github.com/relaydb/relaydb/internal/graph"
	"github.com/relaydb/relaydb/internal/multiset"
	"github.com/relaydb/relaydb/internal/operator"
	"github.com/relaydb/relaydb/internal/queryir"
	"github.com/relaydb/relaydb/internal/rowkey"
	"github.com/relaydb/relaydb/internal/scheduler"
)

var nextID int64

func autoID() string {
	return fmt.Sprintf("eff-%d", atomic.AddInt64(&nextID, 1))
}

// Source mirrors livequery.Source: one alias's binding to a concrete
// collection and the function recovering a row's primary key from it.
type Source struct {
	CollectionID string
	Collection   *collection.Collection
	GetKey       func(row any) rowkey.Key
}

// Delta is one classified change handed to an effect's callback, named for
// the enter/exit/update vocabulary of spec §4.L rather than the wire-level
// insert/update/delete of collection.ChangeMessage.
type Delta struct {
	Kind          multiset.ChangeKind // Enter, Exit, or Update
	Value         any
	PreviousValue any
}

// Callback receives one graph run's batch of deltas.
type Callback func(deltas []Delta)

// Options configures a new effect.
type Options struct {
	Query     *queryir.Query
	Sources   map[string]Source
	On        Callback
	// SkipInitial discards the output of the graph runs made while New
	// primes each source's subscription with IncludeInitialState=true
	// (spec §4.L). When no source row matches at start, no run happens
	// then and nothing is skipped.
	SkipInitial bool
	// Async, when true, hands each batch to On on its own goroutine instead
	// of inline during the graph run, so a slow callback never stalls the
	// scheduler's tick for other owners.
	Async     bool
	DependsOn []scheduler.Owner
	Scheduler *scheduler.Scheduler
}

// Handle is the dispose()/disposed contract from spec §3.1's "Effect
// handle".
type Handle struct {
	e *Effect
}

// Dispose marks the effect disposed and unsubscribes from every source. Any
// in-flight async callback is awaited before Dispose returns: when
// Options.Async is set, every On invocation runs inside an errgroup, and
// Dispose blocks on errgroup.Wait until the last of them returns. No
// cancellation signal is passed to On, so a running callback is not
// interrupted.
func (h *Handle) Dispose() { h.e.stop() }

// Disposed reports whether Dispose has been called.
func (h *Handle) Disposed() bool { return h.e.disposed }

// Effect is one running delta subscription over a compiled query graph.
type Effect struct {
	id   string
	opts Options

	g        *graph.Graph
	compl    *compiler.Compiled
	subs     []*collection.Subscription
	sched    *scheduler.Scheduler
	firstRun bool
	disposed bool
	lastErr  error

	wg errgroup.Group
}

// New builds, compiles, and starts an effect in one call (spec §4.K.3's
// lazy-compile-on-start does not apply to effects: an effect has no
// separate "materialize" phase to defer, so New both compiles and
// subscribes immediately).
func New(ctx context.Context, opts Options) (*Handle, error) {
	if opts.Query == nil {
		return nil, errs.Op("effect.New", fmt.Errorf("Query is required"))
	}
	if opts.On == nil {
		return nil, errs.Op("effect.New", fmt.Errorf("On callback is required"))
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = scheduler.Default()
	}
	e := &Effect{id: autoID(), opts: opts, sched: sched, firstRun: true}

	g := graph.New()
	sources := map[string]compiler.Source{}
	for alias, src := range opts.Sources {
		sources[alias] = compiler.Source{CollectionID: src.CollectionID, GetKey: src.GetKey}
	}
	compl, err := compiler.Compile(g, opts.Query, sources)
	if err != nil {
		return nil, errs.Op("effect.New", err)
	}
	e.compl = compl
	e.g = g

	g.AddNode(operator.NewOutput(compl.Output, e.onGraphRun))
	g.Finalize()

	for alias, collID := range compl.AliasToCollectionID {
		src, ok := opts.Sources[alias]
		if !ok || src.Collection == nil {
			continue
		}
		_ = collID
		where := compl.SourceWhereClauses[alias]
		if err := src.Collection.Preload(ctx, where); err != nil {
			return nil, errs.Op("effect.New", err)
		}
		alias := alias
		sub := src.Collection.SubscribeChanges(
			collection.SubscribeOptions{IncludeInitialState: true, Where: where},
			func(msgs []collection.ChangeMessage) { e.onSourceChange(alias, msgs) },
		)
		e.subs = append(e.subs, sub)
	}
	e.firstRun = false

	return &Handle{e: e}, nil
}

// ID is this effect's auto-generated identity, usable as a
// scheduler.Owner for a dependent live-query collection or effect.
func (e *Effect) ID() string { return e.id }

// Err returns the last error observed from an asynchronous graph run.
func (e *Effect) Err() error { return e.lastErr }

func (e *Effect) stop() {
	if e.disposed {
		return
	}
	e.disposed = true
	for _, s := range e.subs {
		s.Unsubscribe()
	}
	e.subs = nil
	_ = e.wg.Wait()
}

func (e *Effect) onSourceChange(alias string, msgs []collection.ChangeMessage) {
	if e.disposed {
		return
	}
	buf := e.g.Input(alias)
	for _, m := range msgs {
		switch m.Type {
		case collection.Insert:
			buf.Accumulate(m.Key, m.Value, 1)
		case collection.Update:
			buf.Accumulate(m.Key, m.PreviousValue, -1)
			buf.Accumulate(m.Key, m.Value, 1)
		case collection.Delete:
			buf.Accumulate(m.Key, m.PreviousValue, -1)
		}
	}
	ctxID := ctxIDFromMessages(msgs)
	e.sched.Schedule(ctxID, e, e.opts.DependsOn, e.runGraph)
}

func ctxIDFromMessages(msgs []collection.ChangeMessage) scheduler.ContextID {
	for _, m := range msgs {
		if tx, ok := m.Metadata["txid"].(string); ok && tx != "" {
			return scheduler.ContextID(tx)
		}
	}
	return ""
}

func (e *Effect) runGraph() {
	if e.disposed || e.g == nil {
		return
	}
	if err := e.g.Run(); err != nil && !errs.IsNestedRun(err) {
		e.lastErr = err
	}
}

// onGraphRun translates one output batch straight into Delta callbacks,
// skipping the output of runs made while New primes the subscriptions if
// SkipInitial was set (spec §4.L).
func (e *Effect) onGraphRun(changes []multiset.Change) {
	if (e.firstRun && e.opts.SkipInitial) || e.disposed {
		return
	}
	deltas := make([]Delta, 0, len(changes))
	for _, c := range changes {
		deltas = append(deltas, Delta{Kind: c.Kind, Value: c.Value, PreviousValue: c.PreviousValue})
	}
	if len(deltas) == 0 {
		return
	}
	if e.opts.Async {
		e.wg.Go(func() error {
			e.opts.On(deltas)
			return nil
		})
		return
	}
	e.opts.On(deltas)
}
