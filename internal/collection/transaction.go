package collection

import (
	"context"

	"github.com/relaydb/relaydb/internal/errs"
	"github.com/relaydb/relaydb/internal/rowkey"
	"github.com/relaydb/relaydb/internal/scheduler"
)

// txStatus mirrors a Transaction's place in the write lifecycle (spec
// §3.3/§4.H.2): pending mutations accumulate, then commit either applies
// every adapter hook and persists the overlay, or one hook's failure
// reverts the whole batch.
type txStatus int

const (
	txPending txStatus = iota
	txCommitted
	txFailed
)

type opKind int

const (
	opInsert opKind = iota
	opUpdate
	opDelete
)

type pendingOp struct {
	kind   opKind
	key    rowkey.Key
	before Row // nil for insert
	after  Row // nil for delete
}

// Transaction batches a sequence of mutate calls against a Collection and
// applies them atomically on commit: every adapter hook must accept before
// any overlay entry is made durable, and a single rejection reverts the
// whole batch (spec §4.H.2).
type Transaction struct {
	c        *Collection
	id       string
	pending  []pendingOp
	status   txStatus
	metadata map[string]any
}

func newTransaction(c *Collection, id string) *Transaction {
	return &Transaction{c: c, id: id, status: txPending}
}

// ID is the transaction's identifier, propagated to ChangeMessage.Metadata
// and usable with a source adapter's AwaitTxID hook.
func (tx *Transaction) ID() string { return tx.id }

// Insert stages a new row, applying it to the collection's optimistic
// overlay immediately so subsequent reads within the same transaction
// observe it.
func (tx *Transaction) Insert(row Row) {
	key := tx.c.keyFn(row)
	tx.pending = append(tx.pending, pendingOp{kind: opInsert, key: key, after: row})
	tx.c.applyOverlay(key, row)
}

// Update stages a row replacement.
func (tx *Transaction) Update(key rowkey.Key, row Row) {
	before, _ := tx.c.Get(key)
	tx.pending = append(tx.pending, pendingOp{kind: opUpdate, key: key, before: before, after: row})
	tx.c.applyOverlay(key, row)
}

// Delete stages a row removal.
func (tx *Transaction) Delete(key rowkey.Key) {
	before, _ := tx.c.Get(key)
	tx.pending = append(tx.pending, pendingOp{kind: opDelete, key: key, before: before})
	tx.c.applyOverlayDelete(key)
}

// Commit dispatches every pending op through the collection's mutation
// adapter (if any), in order. The first hook to reject reverts the
// optimistic overlay for every staged op and marks the transaction failed;
// nothing partial is left in place. On full success, every staged change is
// broadcast to subscriptions tagged with this transaction's id, and the
// scheduler context those broadcasts queued work under is driven to
// completion before commit returns (spec §4.J "when contextId is null, the
// job runs immediately... for synchronous-source flows": for this
// engine's synchronous, in-memory sources, a transaction's own commit is
// the one point that knows every reaction it could possibly have queued
// has in fact been queued, so it is the right place to flush them).
func (tx *Transaction) commit(ctx context.Context) error {
	if tx.status != txPending {
		return nil
	}
	ma := tx.c.mutationAdapter
	if ma != nil {
		for _, op := range tx.pending {
			var err error
			switch op.kind {
			case opInsert:
				err = ma.OnInsert(ctx, tx, op.key, op.after)
			case opUpdate:
				err = ma.OnUpdate(ctx, tx, op.key, op.before, op.after)
			case opDelete:
				err = ma.OnDelete(ctx, tx, op.key, op.before)
			}
			if err != nil {
				tx.revert()
				tx.status = txFailed
				return errs.Op("transaction.commit", errs.ErrAdapterFailure)
			}
		}
	}
	tx.status = txCommitted
	for _, op := range tx.pending {
		tx.c.applyCommitted(op, tx.id)
	}
	if err := scheduler.FlushContext(scheduler.ContextID(tx.id)); err != nil {
		return errs.Op("transaction.commit", err)
	}
	return nil
}

// revert undoes every staged overlay entry, restoring each key to the
// value it had before this transaction touched it.
func (tx *Transaction) revert() {
	for i := len(tx.pending) - 1; i >= 0; i-- {
		op := tx.pending[i]
		switch op.kind {
		case opInsert:
			tx.c.removeOverlay(op.key)
		case opUpdate, opDelete:
			if op.before == nil {
				tx.c.removeOverlay(op.key)
			} else {
				tx.c.applyOverlay(op.key, op.before)
			}
		}
	}
}
