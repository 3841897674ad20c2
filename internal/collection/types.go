// Package collection implements the transactional keyed row container from
// spec §4.H: a synced map layered with an optimistic overlay, a
// transactional write phase, change-subscription fan-out with predicate
// push-down and on-demand loading, and the derived-index registry — plus
// the per-subscription delivery state from spec §4.I.
package collection

import (
	"context"

	"github.com/relaydb/relaydb/internal/queryir"
	"github.com/relaydb/relaydb/internal/rowkey"
)

// Row is an opaque record; a Collection's configured KeyFn extracts its
// stable identity.
type Row = any

// ChangeType is the wire-shape discriminant from spec §6.4.
type ChangeType int

const (
	Insert ChangeType = iota
	Update
	Delete
)

func (t ChangeType) String() string {
	switch t {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// ChangeMessage is the external wire shape a source adapter writes and a
// subscription callback receives (spec §6.4).
type ChangeMessage struct {
	Type          ChangeType
	Key           rowkey.Key
	Value         Row            // set for Insert/Update
	PreviousValue Row            // set for Update/Delete
	Metadata      map[string]any // mutation-supplied, e.g. a transaction id
}

// Status is a Collection's lifecycle state (spec §3.3).
type Status int

const (
	StatusInitialCommit Status = iota
	StatusReady
	StatusCleanedUp
)

func (s Status) String() string {
	switch s {
	case StatusInitialCommit:
		return "initialCommit"
	case StatusReady:
		return "ready"
	case StatusCleanedUp:
		return "cleaned-up"
	default:
		return "unknown"
	}
}

// LoadSubsetOptions is the external wire shape a source adapter's
// loadSubset hook receives (spec §6.3).
type LoadSubsetOptions struct {
	Where  queryir.Expr
	Limit  *int
	Offset *int
	// Cursor, when non-nil, asks the adapter to fetch rows matching
	// WhereFrom while still reporting how many rows already satisfy
	// WhereCurrent — the windowed load-more protocol (§4.F.3, §4.H.4).
	Cursor *LoadCursor
}

// LoadCursor is the optional window-loading cursor (§4.H.4).
type LoadCursor struct {
	WhereCurrent queryir.Expr
	WhereFrom    queryir.Expr
}

// SyncHandle is what a source adapter's sync(...) factory receives (spec
// §6.1): begin/write/commit for one batch, markReady for the
// initialCommit->ready transition.
type SyncHandle struct {
	c *Collection
}

// Begin opens a new sync batch.
func (h SyncHandle) Begin() *SyncBatch { return h.c.beginSyncBatch() }

// MarkReady transitions the collection from initialCommit to ready.
func (h SyncHandle) MarkReady() { h.c.markReady() }

// SourceAdapter is the factory contract from spec §6.1: Sync wires the
// collection to its external data source and returns a cleanup func. The
// optional hooks return errs.ErrAdapterFailure-wrapped errors (or nil) when
// unsupported — a nil hook behaves as if the corresponding feature were
// entirely absent.
type SourceAdapter interface {
	Sync(h SyncHandle) (cleanup func(), err error)
	// LoadSubset, if non-nil, is invoked with the push-down predicate for
	// a new subscription (§4.H.4). Implementations eventually Write the
	// matching rows through the same SyncHandle passed to Sync.
	LoadSubset(ctx context.Context, opts LoadSubsetOptions) error
	// AwaitTxID optionally blocks until a committed mutation's txid has
	// round-tripped through the source (§7 ErrTimeoutAwaitingTxID).
	AwaitTxID(ctx context.Context, txID string) error
}

// MutationAdapter is the optional commit-time hook contract from spec
// §6.2. Any handler may be nil.
type MutationAdapter interface {
	OnInsert(ctx context.Context, tx *Transaction, key rowkey.Key, row Row) error
	OnUpdate(ctx context.Context, tx *Transaction, key rowkey.Key, oldRow, newRow Row) error
	OnDelete(ctx context.Context, tx *Transaction, key rowkey.Key, oldRow Row) error
}

// SubscriptionCallback receives one batch of filtered, sentKeys-deduped
// changes (spec §4.I step 3), delivered in original order.
type SubscriptionCallback func(batch []ChangeMessage)

// SubscribeOptions configures a new subscription (spec §4.H.1
// subscribeChanges).
type SubscribeOptions struct {
	IncludeInitialState bool
	Where               queryir.Expr
}
