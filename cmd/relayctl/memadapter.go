package main

import (
	"context"

	"github.com/relaydb/relaydb/internal/collection"
	"github.com/relaydb/relaydb/internal/rowkey"
)

// memAdapter is a minimal collection.SourceAdapter over a fixed in-memory
// row set: it writes every row in one batch during Sync and marks the
// collection ready immediately. LoadSubset and AwaitTxID are no-ops since
// the fixture data is always fully loaded up front — a real adapter (HTTP
// polling, CDC log shipping, SQLite) is exactly what spec §1 scopes out of
// this core engine.
type memAdapter struct {
	rows   []collection.Row
	keyFn  func(collection.Row) rowkey.Key
	handle collection.SyncHandle
}

func newMemAdapter(keyFn func(collection.Row) rowkey.Key, rows ...collection.Row) *memAdapter {
	return &memAdapter{rows: rows, keyFn: keyFn}
}

func (a *memAdapter) Sync(h collection.SyncHandle) (func(), error) {
	a.handle = h
	batch := h.Begin()
	for _, row := range a.rows {
		batch.Write(collection.ChangeMessage{Type: collection.Insert, Key: a.keyFn(row), Value: row})
	}
	batch.Commit()
	h.MarkReady()
	return func() {}, nil
}

func (a *memAdapter) LoadSubset(ctx context.Context, opts collection.LoadSubsetOptions) error {
	return nil
}

func (a *memAdapter) AwaitTxID(ctx context.Context, txID string) error {
	return nil
}
