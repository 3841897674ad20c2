package relaydb

import (
	"context"
	"time"

	"github.com/relaydb/relaydb/internal/collection"
	"github.com/relaydb/relaydb/internal/effect"
	"github.com/relaydb/relaydb/internal/livequery"
	"github.com/relaydb/relaydb/internal/querybuilder"
	"github.com/relaydb/relaydb/internal/queryir"
	"github.com/relaydb/relaydb/internal/rowkey"
	"github.com/relaydb/relaydb/internal/scheduler"
)

// Re-exported types a host application builds queries and adapters
// against, without reaching into internal/*.
type (
	Row                 = collection.Row
	Key                 = rowkey.Key
	ChangeMessage       = collection.ChangeMessage
	ChangeType          = collection.ChangeType
	SourceAdapter       = collection.SourceAdapter
	MutationAdapter     = collection.MutationAdapter
	LoadSubsetOptions   = collection.LoadSubsetOptions
	LoadCursor          = collection.LoadCursor
	SyncHandle          = collection.SyncHandle
	SyncBatch           = collection.SyncBatch
	Transaction         = collection.Transaction
	SubscribeOptions    = collection.SubscribeOptions
	SubscriptionHandle  = collection.Subscription
	Expr                = queryir.Expr
	OrderDirection      = queryir.OrderDirection
	Projection          = queryir.Projection
	ProjectField        = queryir.ProjectField
	QueryBuilder        = querybuilder.Builder
)

const (
	Insert = collection.Insert
	Update = collection.Update
	Delete = collection.Delete

	Asc  = queryir.Asc
	Desc = queryir.Desc
)

// Expression constructors, re-exported for callers building IR by hand
// instead of through the fluent builder's reference-proxy path capture.
var (
	Val   = queryir.Val
	Ref    = queryir.RefPath
	And    = queryir.And
	Or     = queryir.Or
	Eq     = queryir.Eq
	Neq    = queryir.Neq
	Gt     = queryir.Gt
	Gte    = queryir.Gte
	Lt     = queryir.Lt
	Lte    = queryir.Lte
	In     = queryir.In
)

// Collection is the transactional, keyed row container from spec §4.H.
type Collection = collection.Collection

// NewCollection constructs a Collection backed by the given adapter. keyFn
// extracts a row's stable primary key.
func NewCollection(keyFn func(row Row) Key, adapter SourceAdapter) (*Collection, error) {
	return collection.New(collection.Options{
		KeyFn:   collection.KeyFn(keyFn),
		Adapter: adapter,
	})
}

// NewMutableCollection constructs a Collection with both a source adapter
// and a mutation adapter (spec §6.2), for local writes that must
// round-trip through an external sync target before their overlay entries
// are reconciled away.
func NewMutableCollection(keyFn func(row Row) Key, adapter SourceAdapter, mutAdapter MutationAdapter) (*Collection, error) {
	return collection.New(collection.Options{
		KeyFn:           collection.KeyFn(keyFn),
		Adapter:         adapter,
		MutationAdapter: mutAdapter,
	})
}

// Query starts a new immutable query builder rooted at the collection
// identified by collectionID, bound to alias (spec §4.E). The compiler
// resolves sources by that ID; callers typically use the same string
// everywhere they refer to this collection within a query.
func Query(collectionID, alias string) *QueryBuilder {
	return querybuilder.From(collectionID, alias)
}

// QueryFrom is Query plus capturing c and its key function, producing the
// livequery.Source binding CreateLiveQueryCollection needs for this alias.
func QueryFrom(collectionID, alias string, c *Collection, getKey func(row Row) Key) (*QueryBuilder, livequery.Source) {
	b := querybuilder.From(collectionID, alias)
	src := livequery.Source{CollectionID: collectionID, Collection: c, GetKey: getKey}
	return b, src
}

// LiveQueryCollection is a Collection materialized from a compiled query's
// incrementally maintained output (spec §4.K).
type LiveQueryCollection = livequery.Collection

// LiveQueryOptions configures CreateLiveQueryCollection.
type LiveQueryOptions struct {
	Query     *QueryBuilder
	Sources   map[string]livequery.Source
	GetKey    func(row Row) Key
	GCTimeout time.Duration
	DependsOn []*LiveQueryCollection
}

// CreateLiveQueryCollection compiles opts.Query against opts.Sources and
// starts maintaining its result, returning the materialized Collection
// wrapper. Per spec §7, an unresolvable alias surfaces synchronously here
// as ErrUnknownAlias/ErrMissingSource rather than later during a graph run.
func CreateLiveQueryCollection(ctx context.Context, opts LiveQueryOptions) (*LiveQueryCollection, error) {
	var keyFn collection.KeyFn
	if opts.GetKey != nil {
		keyFn = collection.KeyFn(opts.GetKey)
	}
	deps := make([]scheduler.Owner, len(opts.DependsOn))
	for i, d := range opts.DependsOn {
		deps[i] = d
	}
	lq, err := livequery.New(livequery.Options{
		Query:     opts.Query.Build(),
		Sources:   opts.Sources,
		GetKey:    keyFn,
		GCTimeout: opts.GCTimeout,
		DependsOn: deps,
	})
	if err != nil {
		return nil, err
	}
	if err := lq.Start(ctx); err != nil {
		return nil, err
	}
	return lq, nil
}

// Effect is the delta-only (non-materializing) subscriber from spec §4.L.
type Effect = effect.Effect

// EffectHandle is the dispose()/disposed handle for a running Effect.
type EffectHandle = effect.Handle

// EffectDelta is one enter/exit/update delta delivered to an effect's
// callback.
type EffectDelta = effect.Delta

// EffectOptions configures CreateEffect.
type EffectOptions struct {
	Query       *QueryBuilder
	Sources     map[string]livequery.Source
	On          func(deltas []EffectDelta)
	SkipInitial bool
	DependsOn   []*LiveQueryCollection
}

// CreateEffect compiles opts.Query and immediately begins delivering
// enter/exit/update deltas to opts.On as the underlying sources change
// (spec §4.L). The returned handle's Dispose tears the subscription down.
func CreateEffect(ctx context.Context, opts EffectOptions) (*EffectHandle, error) {
	effSources := make(map[string]effect.Source, len(opts.Sources))
	for alias, s := range opts.Sources {
		effSources[alias] = effect.Source{CollectionID: s.CollectionID, Collection: s.Collection, GetKey: s.GetKey}
	}
	deps := make([]scheduler.Owner, len(opts.DependsOn))
	for i, d := range opts.DependsOn {
		deps[i] = d
	}
	return effect.New(ctx, effect.Options{
		Query:       opts.Query.Build(),
		Sources:     effSources,
		On:          effect.Callback(opts.On),
		SkipInitial: opts.SkipInitial,
		DependsOn:   deps,
	})
}
