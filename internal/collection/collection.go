package collection

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaydb/relaydb/internal/errs"
	"github.com/relaydb/relaydb/internal/predicate"
	"github.com/relaydb/relaydb/internal/queryir"
	"github.com/relaydb/relaydb/internal/rowkey"
)

// collectionTracer and collectionMetrics use the global OTel providers,
// no-op until a caller installs real ones (spec's ambient observability
// stack, grounded on this project's storage/dolt instrumentation).
var collectionTracer trace.Tracer = otel.Tracer("github.com/relaydb/relaydb/internal/collection")

var collectionMetrics struct {
	awaitTxIDRetries metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/relaydb/relaydb/internal/collection")
	collectionMetrics.awaitTxIDRetries, _ = m.Int64Counter("relaydb.collection.await_txid_retries",
		metric.WithDescription("AwaitTxID calls retried due to a transient adapter error"),
		metric.WithUnit("{retry}"),
	)
}

// KeyFn extracts a row's stable identity.
type KeyFn func(row Row) rowkey.Key

// Collection is the engine's synced-map-plus-overlay container (spec
// §4.H): a source adapter's sync batches write the base layer, local
// mutations apply immediately to an optimistic overlay and are reconciled
// once the adapter's own echo arrives, and every write of either kind
// broadcasts a ChangeMessage to subscribed callbacks. No field here is
// lock-protected: the engine's cooperative single-threaded scheduling model
// (spec §5) means a Collection is never touched by two goroutines at once.
type Collection struct {
	keyFn KeyFn

	base    map[rowkey.Key]Row
	overlay map[rowkey.Key]Row
	deleted map[rowkey.Key]bool // overlay-side tombstone over a base row

	status Status

	adapter         SourceAdapter
	mutationAdapter MutationAdapter
	cleanup         func()

	subs      []*Subscription
	nextSubID int

	indexes map[indexSignature]*derivedIndex

	loadedPredicates []queryir.Expr
}

// Options configures a new Collection.
type Options struct {
	KeyFn           KeyFn
	Adapter         SourceAdapter
	MutationAdapter MutationAdapter
}

// New constructs a Collection in the initialCommit state; if opts.Adapter
// is non-nil its Sync hook is invoked immediately.
func New(opts Options) (*Collection, error) {
	if opts.KeyFn == nil {
		return nil, errs.Op("collection.New", fmt.Errorf("KeyFn is required"))
	}
	c := &Collection{
		keyFn:           opts.KeyFn,
		base:            map[rowkey.Key]Row{},
		overlay:         map[rowkey.Key]Row{},
		deleted:         map[rowkey.Key]bool{},
		status:          StatusInitialCommit,
		adapter:         opts.Adapter,
		mutationAdapter: opts.MutationAdapter,
		indexes:         map[indexSignature]*derivedIndex{},
	}
	if c.adapter != nil {
		cleanup, err := c.adapter.Sync(SyncHandle{c: c})
		if err != nil {
			return nil, errs.Op("collection.New", err)
		}
		c.cleanup = cleanup
	} else {
		c.status = StatusReady
	}
	return c, nil
}

// State reports the collection's lifecycle status.
func (c *Collection) State() Status { return c.status }

// Close releases the adapter's resources, if any.
func (c *Collection) Close() {
	if c.cleanup != nil {
		c.cleanup()
	}
	c.status = StatusCleanedUp
}

// Get returns the row for key, preferring the optimistic overlay over the
// synced base layer, and reporting false if the row has been locally
// deleted or never existed.
func (c *Collection) Get(key rowkey.Key) (Row, bool) {
	if c.deleted[key] {
		return nil, false
	}
	if row, ok := c.overlay[key]; ok {
		return row, true
	}
	row, ok := c.base[key]
	return row, ok
}

// Has reports whether key currently resolves to a row.
func (c *Collection) Has(key rowkey.Key) bool {
	_, ok := c.Get(key)
	return ok
}

// Size returns the number of currently visible rows.
func (c *Collection) Size() int {
	n := 0
	c.forEachRow(func(rowkey.Key, Row) { n++ })
	return n
}

// ToArray returns every currently visible row in unspecified order.
func (c *Collection) ToArray() []Row {
	out := make([]Row, 0, len(c.base)+len(c.overlay))
	c.forEachRow(func(_ rowkey.Key, row Row) { out = append(out, row) })
	return out
}

// forEachRow visits every key currently visible (base row, possibly
// shadowed by an overlay entry or tombstone) exactly once.
func (c *Collection) forEachRow(visit func(key rowkey.Key, row Row)) {
	seen := map[rowkey.Key]bool{}
	for key, row := range c.overlay {
		seen[key] = true
		if !c.deleted[key] {
			visit(key, row)
		}
	}
	for key, row := range c.base {
		if seen[key] {
			continue
		}
		if c.deleted[key] {
			continue
		}
		visit(key, row)
	}
}

// matchingRows returns every currently visible row satisfying where (nil
// matches everything), keyed by its rowkey.
func (c *Collection) matchingRows(where queryir.Expr) map[rowkey.Key]Row {
	out := map[rowkey.Key]Row{}
	c.forEachRow(func(key rowkey.Key, row Row) {
		if where == nil || queryir.Truthy(queryir.Eval(where, row)) {
			out[key] = row
		}
	})
	return out
}

// --- optimistic overlay (local mutations, before/while the adapter echoes) ---

func (c *Collection) applyOverlay(key rowkey.Key, row Row) {
	c.overlay[key] = row
	delete(c.deleted, key)
	c.updateIndexes(key, row)
}

func (c *Collection) applyOverlayDelete(key rowkey.Key) {
	c.deleted[key] = true
	delete(c.overlay, key)
	c.removeFromIndexes(key)
}

func (c *Collection) removeOverlay(key rowkey.Key) {
	delete(c.overlay, key)
	delete(c.deleted, key)
	if row, ok := c.base[key]; ok {
		c.updateIndexes(key, row)
	} else {
		c.removeFromIndexes(key)
	}
}

func (c *Collection) updateIndexes(key rowkey.Key, row Row) {
	for _, idx := range c.indexes {
		idx.update(key, row)
	}
}

func (c *Collection) removeFromIndexes(key rowkey.Key) {
	for _, idx := range c.indexes {
		idx.remove(key)
	}
}

// --- transactional write path (spec §4.H.2) ---

// Mutate opens a Transaction, invokes fn to stage inserts/updates/deletes
// against it, and commits the batch atomically: if fn returns an error, or
// the collection's mutation adapter rejects any staged op, every staged
// overlay entry is reverted and the error is returned.
func (c *Collection) Mutate(ctx context.Context, fn func(tx *Transaction) error) error {
	tx := newTransaction(c, c.nextTxID())
	if err := fn(tx); err != nil {
		tx.revert()
		return err
	}
	return tx.commit(ctx)
}

// nextGlobalTxSeq is process-scoped monotone state, not per-collection: two
// different Collections' transactions must never produce the same id, or
// the scheduler's context registry (internal/scheduler) would conflate two
// unrelated transactions' queued reactions into one context (spec §9
// "global mutable counter for auto-generated collection/effect ids:
// acceptable as process-scoped monotone state").
var nextGlobalTxSeq int64

func (c *Collection) nextTxID() string {
	n := atomic.AddInt64(&nextGlobalTxSeq, 1)
	return fmt.Sprintf("tx-%d", n)
}

// Insert is shorthand for a single-row Mutate.
func (c *Collection) Insert(ctx context.Context, row Row) error {
	return c.Mutate(ctx, func(tx *Transaction) error {
		tx.Insert(row)
		return nil
	})
}

// Update is shorthand for a single-row Mutate.
func (c *Collection) Update(ctx context.Context, key rowkey.Key, row Row) error {
	return c.Mutate(ctx, func(tx *Transaction) error {
		tx.Update(key, row)
		return nil
	})
}

// Delete is shorthand for a single-row Mutate.
func (c *Collection) Delete(ctx context.Context, key rowkey.Key) error {
	return c.Mutate(ctx, func(tx *Transaction) error {
		tx.Delete(key)
		return nil
	})
}

// applyCommitted broadcasts one committed pendingOp to every subscription,
// tagging the ChangeMessage with the owning transaction's id.
func (c *Collection) applyCommitted(op pendingOp, txID string) {
	msg := ChangeMessage{Key: op.key, Metadata: map[string]any{"txid": txID}}
	switch op.kind {
	case opInsert:
		msg.Type = Insert
		msg.Value = op.after
	case opUpdate:
		msg.Type = Update
		msg.Value = op.after
		msg.PreviousValue = op.before
	case opDelete:
		msg.Type = Delete
		msg.PreviousValue = op.before
	}
	c.broadcast([]ChangeMessage{msg})
}

func (c *Collection) broadcast(msgs []ChangeMessage) {
	for _, s := range c.subs {
		s.deliver(msgs)
	}
}

// --- subscriptions (spec §4.H.1/§4.I) ---

// SubscribeChanges registers cb to receive future changes matching opts,
// optionally priming it first with every currently-matching row as a
// synthetic Insert batch.
func (c *Collection) SubscribeChanges(opts SubscribeOptions, cb SubscriptionCallback) *Subscription {
	c.nextSubID++
	s := newSubscription(c.nextSubID, c, opts, cb)
	if opts.IncludeInitialState {
		s.primeInitialState()
	}
	c.subs = append(c.subs, s)
	return s
}

// On is SubscribeChanges without initial-state priming, mirroring the
// external API's plain event-listener shape (spec §6).
func (c *Collection) On(where queryir.Expr, cb SubscriptionCallback) *Subscription {
	return c.SubscribeChanges(SubscribeOptions{Where: where}, cb)
}

// SubscriberCount reports how many active subscriptions this collection
// currently has, used by a live-query collection or effect to decide when
// it has gone idle and is eligible for GC teardown (spec §4.K.7).
func (c *Collection) SubscriberCount() int { return len(c.subs) }

func (c *Collection) removeSubscription(s *Subscription) {
	for i, sub := range c.subs {
		if sub == s {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

// --- on-demand loading / predicate push-down (spec §4.H.4) ---

// Preload asks the source adapter to load rows satisfying where, unless an
// already-loaded predicate covers it (grounded on the dedup-by-subset
// pattern in this project's query deduplicator, simplified here to a
// synchronous subset check since the engine never has two loadSubset calls
// for the same collection in flight at once).
func (c *Collection) Preload(ctx context.Context, where queryir.Expr) error {
	if c.adapter == nil {
		return nil
	}
	for _, loaded := range c.loadedPredicates {
		if predicate.IsWhereSubset(where, loaded) {
			return nil
		}
	}
	if err := c.adapter.LoadSubset(ctx, LoadSubsetOptions{Where: where}); err != nil {
		return errs.Op("collection.Preload", err)
	}
	c.loadedPredicates = append(c.loadedPredicates, where)
	return nil
}

// LoadMore asks the source adapter to fetch additional rows for a
// windowed orderBy's load-more protocol (spec §4.F.3, §4.H.4). Unlike
// Preload, it always calls through to the adapter rather than consulting
// the loaded-predicate cache: a cursor-bearing request is inherently
// incremental, not a repeat of a previously satisfied predicate.
func (c *Collection) LoadMore(ctx context.Context, opts LoadSubsetOptions) error {
	if c.adapter == nil {
		return nil
	}
	if err := c.adapter.LoadSubset(ctx, opts); err != nil {
		return errs.Op("collection.LoadMore", err)
	}
	return nil
}

// AwaitTxID blocks until the source adapter reports that txID has
// round-tripped through it, retrying with exponential backoff the way this
// project's dolt storage backend retries transient server errors. A nil
// adapter, or one whose AwaitTxID hook is a no-op, returns immediately.
func (c *Collection) AwaitTxID(ctx context.Context, txID string) error {
	if c.adapter == nil {
		return nil
	}
	ctx, span := collectionTracer.Start(ctx, "collection.AwaitTxID")
	defer span.End()

	attempts := 0
	bo := backoff.NewExponentialBackOff()
	err := backoff.Retry(func() error {
		attempts++
		err := c.adapter.AwaitTxID(ctx, txID)
		if err == nil {
			return nil
		}
		if errors.Is(err, errs.ErrTimeoutAwaitingTxID) {
			return backoff.Permanent(err)
		}
		return err // transient: keep retrying within the backoff's deadline
	}, backoff.WithContext(bo, ctx))
	if attempts > 1 {
		collectionMetrics.awaitTxIDRetries.Add(ctx, int64(attempts-1))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errs.Opf(err, "collection.AwaitTxID(%s)", txID)
	}
	return nil
}

// --- derived indexes (spec §4.H.5) ---

// AcquireIndex returns a read-only ascending view over the collection's
// rows ordered by exprs, building the underlying index on first use.
// Callers must call ReleaseIndex with the same exprs once done.
func (c *Collection) AcquireIndex(exprs []queryir.Expr, visit func(row Row) bool) {
	idx := c.acquireIndex(exprs)
	idx.ascend(visit)
}

// ReleaseIndex releases a reference acquired by AcquireIndex.
func (c *Collection) ReleaseIndex(exprs []queryir.Expr) {
	c.releaseIndex(exprs)
}
