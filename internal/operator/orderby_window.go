package operator

import (
	"sort"

	"github.com/esote/minmaxheap"

	"github.com/relaydb/relaydb/internal/multiset"
	"github.com/relaydb/relaydb/internal/rowkey"
)

// windowItem is one candidate row held by the bounded OrderByWindow
// operator while it is inside the offset+limit window.
type windowItem struct {
	key rowkey.Key
	row any
}

// witemHeap adapts a slice of *windowItem to esote/minmaxheap's Interface
// (sort.Interface plus Push/Pop). Whenever a candidate arrives while the
// window is already at capacity, admit rebuilds a heap from the current
// members (O(n)) and pops the worst of them.
type witemHeap struct {
	items []*windowItem
	cmp   CompareFn
}

func (h *witemHeap) Len() int { return len(h.items) }
func (h *witemHeap) Less(i, j int) bool {
	return h.cmp(h.items[i].row, h.items[j].row) < 0
}
func (h *witemHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *witemHeap) Push(x any)    { h.items = append(h.items, x.(*windowItem)) }
func (h *witemHeap) Pop() any {
	n := len(h.items)
	it := h.items[n-1]
	h.items = h.items[:n-1]
	return it
}

// OrderByWindow is the limit(+offset)-aware orderBy operator: its window
// (members) holds at most Offset+Limit rows and only the sub-range
// [Offset, Offset+Limit) is materialized to its output. Rows outside the
// window are kept in overflow, which has no size bound. See spec §4.B's
// "optimizable orderBy" / windowed variant and §4.F.3's load-more protocol
// (the compiler installs LoadMore separately; this operator only manages
// the in-memory window).
type OrderByWindow struct {
	In     *Buffer
	Out    *Buffer
	Cmp    CompareFn
	Offset int
	Limit  int

	members map[rowkey.Key]any // current window membership (<= Offset+Limit)

	// overflow holds every candidate that lost admission to members (or was
	// evicted from it) and has not since been removed, ranking outside the
	// window. An Exit promotes the best overflow candidate back into
	// members before falling back to LoadMore, so deletion stays correct
	// for sources with no backfill adapter.
	overflow map[rowkey.Key]any

	visible []rowkey.Key          // keys materialized to Out on the last run, in rank order
	fracOf  map[rowkey.Key]string // last-announced rank index per visible key
	rowOf   map[rowkey.Key]any    // last-announced row value per visible key

	// LoadMore is invoked after a run leaves the window short of
	// Offset+Limit candidates; nil if the source isn't optimizable.
	LoadMore func(haveInWindow int)
}

// NewOrderByWindow wires a windowed OrderBy reading from in.
func NewOrderByWindow(in *Buffer, cmp CompareFn, offset, limit int) *OrderByWindow {
	return &OrderByWindow{
		In: in, Out: NewBuffer(), Cmp: cmp, Offset: offset, Limit: limit,
		members:  map[rowkey.Key]any{},
		overflow: map[rowkey.Key]any{},
		fracOf:   map[rowkey.Key]string{},
		rowOf:    map[rowkey.Key]any{},
	}
}

func (o *OrderByWindow) PendingWork() bool { return o.In.PendingWork() }

func (o *OrderByWindow) windowSize() int { return o.Offset + o.Limit }

func (o *OrderByWindow) Propagate() {
	for _, c := range o.In.Drain() {
		switch c.Kind {
		case multiset.Enter:
			o.admit(c.Key, c.Value)
		case multiset.Exit:
			o.remove(c.Key)
		case multiset.Update:
			o.remove(c.Key)
			o.admit(c.Key, c.Value)
		}
	}
	o.promoteFromOverflow()
	o.rematerialize()
	if o.LoadMore != nil && len(o.overflow) == 0 && len(o.members) < o.windowSize() {
		o.LoadMore(len(o.members))
	}
}

// admit inserts a new candidate row into the window, evicting the current
// worst member to the overflow backlog if the window is already full and
// the candidate ranks ahead of it. A candidate that doesn't beat the
// current worst is itself kept in overflow rather than discarded, so it
// remains available to promote back in if the window later shrinks.
func (o *OrderByWindow) admit(key rowkey.Key, row any) {
	w := o.windowSize()
	if w <= 0 {
		return
	}
	if len(o.members) < w {
		o.members[key] = row
		return
	}
	h := &witemHeap{cmp: o.Cmp}
	for k, v := range o.members {
		h.items = append(h.items, &windowItem{key: k, row: v})
	}
	minmaxheap.Init(h)
	worst := minmaxheap.PopMax(h).(*windowItem)
	if o.Cmp(row, worst.row) < 0 {
		delete(o.members, worst.key)
		o.overflow[worst.key] = worst.row
		o.members[key] = row
	} else {
		o.overflow[key] = row
	}
}

// remove drops key from whichever of members/overflow currently holds it.
func (o *OrderByWindow) remove(key rowkey.Key) {
	if _, ok := o.members[key]; ok {
		delete(o.members, key)
		return
	}
	delete(o.overflow, key)
}

// promoteFromOverflow refills the window from the overflow backlog after a
// removal leaves it short of Offset+Limit members, picking the
// best-ranked overflow candidate each time so membership never depends on
// overflow's map iteration order.
func (o *OrderByWindow) promoteFromOverflow() {
	for len(o.members) < o.windowSize() && len(o.overflow) > 0 {
		var bestKey rowkey.Key
		var bestRow any
		first := true
		for k, v := range o.overflow {
			if first || o.Cmp(v, bestRow) < 0 {
				bestKey, bestRow, first = k, v, false
			}
		}
		delete(o.overflow, bestKey)
		o.members[bestKey] = bestRow
	}
}

// rematerialize recomputes the visible [Offset, Offset+Limit) sub-range of
// the current window and diffs it against what was last delivered,
// emitting the corresponding enter/exit/update deltas to Out.
func (o *OrderByWindow) rematerialize() {
	keys := make([]rowkey.Key, 0, len(o.members))
	for k := range o.members {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return o.Cmp(o.members[keys[i]], o.members[keys[j]]) < 0
	})
	lo := o.Offset
	if lo > len(keys) {
		lo = len(keys)
	}
	hi := o.Offset + o.Limit
	if hi > len(keys) {
		hi = len(keys)
	}
	newVisible := keys[lo:hi]

	prevSet := make(map[rowkey.Key]bool, len(o.visible))
	for _, k := range o.visible {
		prevSet[k] = true
	}
	newSet := make(map[rowkey.Key]bool, len(newVisible))
	newFracOf := make(map[rowkey.Key]string, len(newVisible))
	newRowOf := make(map[rowkey.Key]any, len(newVisible))
	for i, k := range newVisible {
		row := o.members[k]
		newSet[k] = true
		frac := rankIndex(i)
		newFracOf[k] = frac
		newRowOf[k] = row
		switch {
		case !prevSet[k]:
			o.Out.AccumulateOrdered(k, row, 1, frac)
		case o.fracOf[k] != frac || !sameRow(o.rowOf[k], row):
			// stayed visible but its rank or value changed: re-announce
			// under the current rank index so a live-query collection's
			// row ordering and materialized row stay consistent.
			o.Out.Accumulate(k, o.rowOf[k], -1)
			o.Out.AccumulateOrdered(k, row, 1, frac)
		}
	}
	for _, k := range o.visible {
		if !newSet[k] {
			o.Out.Accumulate(k, o.rowOf[k], -1)
		}
	}
	o.visible = append([]rowkey.Key(nil), newVisible...)
	o.fracOf = newFracOf
	o.rowOf = newRowOf
}

func sameRow(a, b any) bool { return multiset.SameRow(a, b) }

// rankIndex renders a visible-window position as a fractional index string
// so a windowed live-query collection's Compare function sorts consistently
// with an unbounded orderBy's fractional indices.
func rankIndex(rank int) string {
	s := fracInitial()
	for i := 0; i < rank; i++ {
		s = fracBetween(s, "")
	}
	return s
}
