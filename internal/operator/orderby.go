package operator

import (
	"github.com/google/btree"

	"github.com/relaydb/relaydb/internal/multiset"
	"github.com/relaydb/relaydb/internal/rowkey"
)

// CompareFn orders two row values per the query's orderBy terms (ascending
// sense: negative when a sorts before b). The compiler builds this from
// queryir.OrderTerm list plus internal/collate for string terms.
type CompareFn func(a, b any) int

// obItem is one row tracked by the unbounded OrderBy operator's btree,
// ordered by CompareFn and tie-broken by key so every item has a strict
// position (btree.Item requires a strict weak order with no ties).
type obItem struct {
	key  rowkey.Key
	row  any
	frac string
	cmp  CompareFn
}

func (it *obItem) Less(than btree.Item) bool {
	o := than.(*obItem)
	if c := it.cmp(it.row, o.row); c != 0 {
		return c < 0
	}
	return it.key < o.key
}

// OrderBy maintains the full sorted order of its input with a stable
// fractional index per row (spec §4.B "orderBy... without limit"). It never
// drops rows; use OrderByWindow for the limited/offset variant.
type OrderBy struct {
	In  *Buffer
	Out *Buffer
	Cmp CompareFn

	tree  *btree.BTree
	byKey map[rowkey.Key]*obItem
}

// NewOrderBy wires an unbounded OrderBy reading from in.
func NewOrderBy(in *Buffer, cmp CompareFn) *OrderBy {
	return &OrderBy{In: in, Out: NewBuffer(), Cmp: cmp, tree: btree.New(32), byKey: map[rowkey.Key]*obItem{}}
}

func (o *OrderBy) PendingWork() bool { return o.In.PendingWork() }

func (o *OrderBy) Propagate() {
	for _, c := range o.In.Drain() {
		switch c.Kind {
		case multiset.Enter:
			o.insertNew(c.Key, c.Value, c.Multiplicity)
		case multiset.Exit:
			o.remove(c.Key, c.Multiplicity)
		case multiset.Update:
			o.applyUpdate(c.Key, c.PreviousValue, c.Value)
		}
	}
}

func (o *OrderBy) applyUpdate(key rowkey.Key, prev, next any) {
	old := o.byKey[key]
	if old == nil {
		o.insertNew(key, next, 1)
		return
	}
	if o.Cmp(old.row, next) == 0 {
		// Order-preserving: keep the existing fractional index, just swap
		// the materialized row.
		oldRow := old.row
		old.row = next
		o.Out.Accumulate(key, oldRow, -1)
		o.Out.AccumulateOrdered(key, next, 1, old.frac)
		return
	}
	o.tree.Delete(old)
	delete(o.byKey, key)
	o.Out.Accumulate(key, prev, -1)
	o.insertNew(key, next, 1)
}

func (o *OrderBy) insertNew(key rowkey.Key, value any, mult int) {
	it := &obItem{key: key, row: value, cmp: o.Cmp}
	o.tree.ReplaceOrInsert(it)
	prev, next := o.neighbors(it)
	pf, nf := "", ""
	if prev != nil {
		pf = prev.frac
	}
	if next != nil {
		nf = next.frac
	}
	it.frac = fracBetween(pf, nf)
	o.byKey[key] = it
	o.Out.AccumulateOrdered(key, value, mult, it.frac)
}

func (o *OrderBy) remove(key rowkey.Key, mult int) {
	it := o.byKey[key]
	if it == nil {
		return
	}
	o.tree.Delete(it)
	delete(o.byKey, key)
	o.Out.Accumulate(key, it.row, -mult)
}

// neighbors returns it's immediate predecessor/successor in the tree,
// excluding it itself.
func (o *OrderBy) neighbors(it *obItem) (prev, next *obItem) {
	o.tree.AscendGreaterOrEqual(it, func(x btree.Item) bool {
		xi := x.(*obItem)
		if xi.key == it.key {
			return true
		}
		next = xi
		return false
	})
	o.tree.DescendLessOrEqual(it, func(x btree.Item) bool {
		xi := x.(*obItem)
		if xi.key == it.key {
			return true
		}
		prev = xi
		return false
	})
	return
}
