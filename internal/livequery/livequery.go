// Package livequery implements the glue layer from spec §4.K: it compiles
// a queryir.Query against a set of concrete source collections, wires the
// compiled operator graph's output back into a materialized
// collection.Collection, and schedules graph reruns through the
// transaction-scoped scheduler whenever a source alias changes.
package livequery

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

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
	return fmt.Sprintf("lq-%d", atomic.AddInt64(&nextID, 1))
}

// Source binds one alias of a query's from/join clauses to a concrete
// collection and the function recovering a row's primary key from it.
type Source struct {
	CollectionID string
	Collection   *collection.Collection
	GetKey       func(row any) rowkey.Key
}

// Options configures a new live-query collection.
type Options struct {
	// Query is the compiled-from IR (built via querybuilder or by hand).
	Query *queryir.Query
	// Sources maps every alias the query references (from + joins,
	// including ones nested in sub-queries) to its concrete binding.
	Sources map[string]Source
	// GetKey derives the output collection's row key from the *projected*
	// row. If nil, the key of each entry as produced by the compiled
	// pipeline (the natural source key, or join composite key) is reused
	// directly — the Go analogue of tracking origin keys in a weak map,
	// since the pipeline already carries that identity through (spec
	// §3.1 "internal weak map that records each row's origin tuple key").
	GetKey collection.KeyFn
	// GCTimeout, if positive, arms a timer after Start that tears the
	// compiled graph down once the output collection has had zero
	// subscribers for this long (spec §4.K.7). Zero disables GC.
	GCTimeout time.Duration
	// DependsOn lists upstream live-query collections this query reads
	// from (when a source's "collection" is itself a *livequery.Collection
	// wrapped for reuse) so the scheduler orders this collection's graph
	// run strictly after theirs within a shared transaction context
	// (spec §4.K.5, invariant 4).
	DependsOn []scheduler.Owner
	// Scheduler overrides the process-wide default (tests may want an
	// isolated scheduler per case).
	Scheduler *scheduler.Scheduler
}

// Collection is a Collection materialized from a live query's output
// (spec §4.K). It embeds nothing from collection.Collection directly —
// callers read the live result through Collection().
type Collection struct {
	id   string
	opts Options

	out   *collection.Collection
	g     *graph.Graph
	compl *compiler.Compiled
	subs  []*collection.Subscription
	sched *scheduler.Scheduler

	orderIdx   map[rowkey.Key]string
	pendingKey rowkey.Key

	started bool
	gcTimer *time.Timer
	lastErr error
}

// New builds a live-query collection from opts. The pipeline is not
// compiled nor subscribed until Start is called (spec §4.K.3 "compiles the
// pipeline lazily on first sync start").
func New(opts Options) (*Collection, error) {
	if opts.Query == nil {
		return nil, errs.Op("livequery.New", fmt.Errorf("Query is required"))
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = scheduler.Default()
	}
	lq := &Collection{
		id:       autoID(),
		opts:     opts,
		sched:    sched,
		orderIdx: map[rowkey.Key]string{},
	}
	keyFn := opts.GetKey
	if keyFn == nil {
		keyFn = func(collection.Row) rowkey.Key { return lq.pendingKey }
	}
	out, err := collection.New(collection.Options{KeyFn: keyFn})
	if err != nil {
		return nil, errs.Op("livequery.New", err)
	}
	lq.out = out
	return lq, nil
}

// ID is this live-query collection's auto-generated identity, usable as a
// scheduler.Owner for a downstream live-query collection's DependsOn.
func (lq *Collection) ID() string { return lq.id }

// Collection returns the materialized result as a plain Collection,
// usable as a source for further queries (spec §1 "may itself serve as a
// source for further queries").
func (lq *Collection) Collection() *collection.Collection { return lq.out }

// Row returns the single row of a findOne-built query, or false if the
// result set is currently empty. Callers should only use this when the
// query was built with Builder.FindOne.
func (lq *Collection) Row() (collection.Row, bool) {
	rows := lq.out.ToArray()
	if len(rows) == 0 {
		return nil, false
	}
	return rows[0], true
}

// OrderByIndex returns the fractional index last announced for key by the
// compiled pipeline's orderBy operator, if the query had one (spec §4.K.6).
func (lq *Collection) OrderByIndex(key rowkey.Key) (string, bool) {
	idx, ok := lq.orderIdx[key]
	return idx, ok
}

// Err returns the last error observed from an asynchronous graph run or
// load-more call (scheduled jobs have no direct return path to Start's
// caller).
func (lq *Collection) Err() error { return lq.lastErr }

// Start compiles the pipeline, creates one subscription per source alias,
// and arms GC if configured. It is idempotent.
func (lq *Collection) Start(ctx context.Context) error {
	if lq.started {
		return nil
	}
	g := graph.New()
	sources := map[string]compiler.Source{}
	for alias, src := range lq.opts.Sources {
		sources[alias] = compiler.Source{CollectionID: src.CollectionID, GetKey: src.GetKey}
	}
	compl, err := compiler.Compile(g, lq.opts.Query, sources)
	if err != nil {
		return errs.Op("livequery.Start", err)
	}
	lq.compl = compl
	lq.g = g

	g.AddNode(operator.NewOutput(compl.Output, lq.onGraphRun))
	g.Finalize()

	if compl.Optimizable != nil {
		lq.wireLoadMore(ctx, compl.Optimizable)
	}

	for alias, collID := range compl.AliasToCollectionID {
		src, ok := lq.opts.Sources[alias]
		if !ok || src.Collection == nil {
			continue
		}
		_ = collID
		where := compl.SourceWhereClauses[alias]
		if err := src.Collection.Preload(ctx, where); err != nil {
			return errs.Op("livequery.Start", err)
		}
		alias := alias
		sub := src.Collection.SubscribeChanges(
			collection.SubscribeOptions{IncludeInitialState: true, Where: where},
			func(msgs []collection.ChangeMessage) { lq.onSourceChange(alias, msgs) },
		)
		lq.subs = append(lq.subs, sub)
	}

	lq.started = true
	lq.armGC()
	return nil
}

// Stop tears down every source subscription and releases the compiled
// graph, returning the collection to its uncompiled state (spec §4.K.7).
// A subsequent Start recompiles from scratch.
func (lq *Collection) Stop() {
	for _, s := range lq.subs {
		s.Unsubscribe()
	}
	lq.subs = nil
	lq.g = nil
	lq.compl = nil
	lq.started = false
	if lq.gcTimer != nil {
		lq.gcTimer.Stop()
		lq.gcTimer = nil
	}
}

func (lq *Collection) armGC() {
	if lq.opts.GCTimeout <= 0 {
		return
	}
	lq.gcTimer = time.AfterFunc(lq.opts.GCTimeout, func() {
		if lq.out.SubscriberCount() == 0 {
			lq.Stop()
			return
		}
		lq.armGC()
	})
}

// onSourceChange feeds one source alias's change batch into the graph's
// input buffer for that alias and schedules a run. Changes carrying a
// transaction id in their Metadata (spec §4.H.2 applyCommitted) share one
// scheduler context, so every alias touched by the same transaction
// triggers at most one graph run for it (invariant 4); changes with no
// transaction id (e.g. a bare adapter sync commit) run immediately.
func (lq *Collection) onSourceChange(alias string, msgs []collection.ChangeMessage) {
	buf := lq.g.Input(alias)
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
	lq.sched.Schedule(ctxID, lq, lq.opts.DependsOn, lq.runGraph)
}

func ctxIDFromMessages(msgs []collection.ChangeMessage) scheduler.ContextID {
	for _, m := range msgs {
		if tx, ok := m.Metadata["txid"].(string); ok && tx != "" {
			return scheduler.ContextID(tx)
		}
	}
	return ""
}

// runGraph drives one pass of the compiled graph. A nested-run error (a
// sink scheduling more work while already inside Run) is expected and
// silently dropped per spec §7 ErrNestedRun; any other error is recorded
// for Err() since a scheduled job has no direct caller to return it to.
func (lq *Collection) runGraph() {
	if lq.g == nil {
		return
	}
	if err := lq.g.Run(); err != nil && !errs.IsNestedRun(err) {
		lq.lastErr = err
	}
}

// onGraphRun classifies one output batch and applies it to the
// materialized output collection inside a single synthetic transaction
// (spec §4.K.6), maintaining the orderByIndex weak-map analogue alongside.
func (lq *Collection) onGraphRun(changes []multiset.Change) {
	_ = lq.out.Mutate(context.Background(), func(tx *collection.Transaction) error {
		for _, c := range changes {
			switch c.Kind {
			case multiset.Enter:
				if c.OrderByIndex != "" {
					lq.orderIdx[c.Key] = c.OrderByIndex
				}
				lq.pendingKey = c.Key
				tx.Insert(c.Value)
			case multiset.Update:
				if c.OrderByIndex != "" {
					lq.orderIdx[c.Key] = c.OrderByIndex
				}
				tx.Update(c.Key, c.Value)
			case multiset.Exit:
				delete(lq.orderIdx, c.Key)
				tx.Delete(c.Key)
			}
		}
		return nil
	})
}

// wireLoadMore installs the windowed orderBy operator's post-run callback
// (spec §4.F.3): when the window runs short, it asks the source
// collection's adapter for more rows matching the same push-down
// predicate. Per §9's open question on load-more error handling, a
// rejected load is treated as "no more rows available" for this run — it
// is simply not retried until the next graph run re-arms it.
func (lq *Collection) wireLoadMore(ctx context.Context, opt *compiler.OptimizableOrderBy) {
	src, ok := lq.opts.Sources[opt.Alias]
	if !ok || src.Collection == nil {
		return
	}
	opt.Window.LoadMore = func(haveInWindow int) {
		where := lq.compl.SourceWhereClauses[opt.Alias]
		need := opt.WindowSize
		err := src.Collection.LoadMore(ctx, collection.LoadSubsetOptions{
			Where: where,
			Limit: &need,
			Cursor: &collection.LoadCursor{
				WhereCurrent: where,
				WhereFrom:    where,
			},
		})
		if err != nil {
			lq.lastErr = err
		}
	}
}
