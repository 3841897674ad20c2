package collection

import (
	"time"

	"github.com/google/btree"
	"github.com/mitchellh/hashstructure/v2"

	"github.com/relaydb/relaydb/internal/queryir"
	"github.com/relaydb/relaydb/internal/rowkey"
)

// indexSignature identifies a derived index by the structural content of
// the expression list it is built over, so two queries requesting an index
// on the same fields share one materialized tree rather than each building
// its own (spec §4.H.5).
type indexSignature uint64

// signatureOf hashes expr's canonical text (not the Go Expr value itself,
// which may hold unexported fields hashstructure can't see into) into a
// stable signature.
func signatureOf(exprs []queryir.Expr) indexSignature {
	texts := make([]string, len(exprs))
	for i, e := range exprs {
		texts[i] = e.String()
	}
	h, err := hashstructure.Hash(texts, hashstructure.FormatV2, nil)
	if err != nil {
		// texts is a []string; hashstructure only errors on unsupported
		// types, so this is unreachable in practice.
		return 0
	}
	return indexSignature(h)
}

// idxItem is one row tracked by a derivedIndex's btree, ordered by the
// index's expression values and tie-broken by key.
type idxItem struct {
	key   rowkey.Key
	row   Row
	vals  []any
	index *derivedIndex
}

func (it *idxItem) Less(than btree.Item) bool {
	o := than.(*idxItem)
	for i := range it.vals {
		c, ok := queryir.NumericValue(it.vals[i])
		d, ok2 := queryir.NumericValue(o.vals[i])
		if ok && ok2 {
			if c != d {
				return c < d
			}
			continue
		}
		as, aok := it.vals[i].(string)
		bs, bok := o.vals[i].(string)
		if aok && bok && as != bs {
			return as < bs
		}
	}
	return it.key < o.key
}

// derivedIndex is a refcounted, on-demand secondary ordering over a
// collection's current rows, keyed by a fixed list of expressions (spec
// §4.H.5). Built lazily on first acquisition and kept current by the
// collection's write path. An index whose every referencing subscription
// has released it stays in c.indexes: evictIdleIndexes removes such
// indexes, but nothing in this package calls it.
type derivedIndex struct {
	signature indexSignature
	exprs     []queryir.Expr
	tree      *btree.BTree
	byKey     map[rowkey.Key]*idxItem
	refs      int
	idleSince time.Time
}

func newDerivedIndex(sig indexSignature, exprs []queryir.Expr) *derivedIndex {
	return &derivedIndex{
		signature: sig,
		exprs:     exprs,
		tree:      btree.New(32),
		byKey:     map[rowkey.Key]*idxItem{},
	}
}

func (d *derivedIndex) valuesFor(row Row) []any {
	vals := make([]any, len(d.exprs))
	for i, e := range d.exprs {
		vals[i] = queryir.Eval(e, row)
	}
	return vals
}

func (d *derivedIndex) insert(key rowkey.Key, row Row) {
	it := &idxItem{key: key, row: row, vals: d.valuesFor(row), index: d}
	d.tree.ReplaceOrInsert(it)
	d.byKey[key] = it
}

func (d *derivedIndex) remove(key rowkey.Key) {
	if it, ok := d.byKey[key]; ok {
		d.tree.Delete(it)
		delete(d.byKey, key)
	}
}

func (d *derivedIndex) update(key rowkey.Key, row Row) {
	d.remove(key)
	d.insert(key, row)
}

// acquireIndex returns the derived index over exprs, building it from the
// collection's current rows on first use and incrementing its refcount.
func (c *Collection) acquireIndex(exprs []queryir.Expr) *derivedIndex {
	sig := signatureOf(exprs)
	idx, ok := c.indexes[sig]
	if !ok {
		idx = newDerivedIndex(sig, exprs)
		c.forEachRow(func(key rowkey.Key, row Row) {
			idx.insert(key, row)
		})
		c.indexes[sig] = idx
	}
	idx.refs++
	return idx
}

// releaseIndex decrements the refcount on the index built over exprs; once
// it reaches zero the index records when it went idle and is kept rather
// than torn down, since another subscription with the same shape may
// acquire it again shortly.
func (c *Collection) releaseIndex(exprs []queryir.Expr) {
	sig := signatureOf(exprs)
	idx, ok := c.indexes[sig]
	if !ok {
		return
	}
	idx.refs--
	if idx.refs <= 0 {
		idx.refs = 0
		idx.idleSince = time.Now()
	}
}

// evictIdleIndexes removes every zero-refcount index that has been idle
// for at least maxAge. Nothing in this package calls it; a released index
// otherwise stays in c.indexes.
func (c *Collection) evictIdleIndexes(maxAge time.Duration) {
	now := time.Now()
	for sig, idx := range c.indexes {
		if idx.refs == 0 && now.Sub(idx.idleSince) >= maxAge {
			delete(c.indexes, sig)
		}
	}
}

func (d *derivedIndex) ascend(visit func(row Row) bool) {
	d.tree.Ascend(func(x btree.Item) bool {
		return visit(x.(*idxItem).row)
	})
}
