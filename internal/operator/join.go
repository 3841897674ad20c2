package operator

import (
	"github.com/relaydb/relaydb/internal/multiset"
	"github.com/relaydb/relaydb/internal/queryir"
	"github.com/relaydb/relaydb/internal/rowkey"
)

// nullSentinel stands in for "no matching row on this side" in a composite
// output key, so a left/right/full join's null-extended rows have a stable,
// retractable identity distinct from any real origKey.
var nullSentinel = rowkey.Of("\x00relaydb:null\x00")

// CombineFn merges a matched (or null-extended) pair of rows from the two
// sides of a join into the output row shape. Either argument may be nil for
// a null-extended outer-join row.
type CombineFn func(left, right any) any

// sideState is one join side's materialized, join-key-indexed state: for
// every join key currently present, the ordered set of contributing
// origKey->row pairs. Ordering is insertion order, matching spec §4.B's
// join tie-break rule ("stable insertion order of the left stream, then
// the right stream").
type sideState struct {
	order map[rowkey.Key][]rowkey.Key
	rows  map[rowkey.Key]map[rowkey.Key]any
}

func newSideState() *sideState {
	return &sideState{order: map[rowkey.Key][]rowkey.Key{}, rows: map[rowkey.Key]map[rowkey.Key]any{}}
}

func (s *sideState) add(jk, origKey rowkey.Key, row any) {
	if s.rows[jk] == nil {
		s.rows[jk] = map[rowkey.Key]any{}
	}
	if _, exists := s.rows[jk][origKey]; !exists {
		s.order[jk] = append(s.order[jk], origKey)
	}
	s.rows[jk][origKey] = row
}

func (s *sideState) remove(jk, origKey rowkey.Key) {
	delete(s.rows[jk], origKey)
	ord := s.order[jk]
	for i, k := range ord {
		if k == origKey {
			s.order[jk] = append(ord[:i], ord[i+1:]...)
			break
		}
	}
	if len(s.rows[jk]) == 0 {
		delete(s.rows, jk)
		delete(s.order, jk)
	}
}

func (s *sideState) list(jk rowkey.Key) []rowkey.Key { return s.order[jk] }
func (s *sideState) get(jk, origKey rowkey.Key) any   { return s.rows[jk][origKey] }

// Join re-indexes two Tagged-keyed streams (each already re-keyed to the
// join-key expression) into a composite-keyed output stream, implementing
// spec §4.B's join contract including null extension for left/right/full
// and the stable tie-break rule. Cross joins are lowered by the compiler to
// an Inner join whose reKey functions both return one constant key, so this
// operator never special-cases JoinCross directly.
type Join struct {
	Left, Right *Buffer
	Out         *Buffer
	Kind        queryir.JoinKind
	Combine     CombineFn

	left, right         *sideState
	leftNullEmitted      map[rowkey.Key]map[rowkey.Key]bool
	rightNullEmitted     map[rowkey.Key]map[rowkey.Key]bool
}

// NewJoin wires a Join reading from left and right.
func NewJoin(left, right *Buffer, kind queryir.JoinKind, combine CombineFn) *Join {
	return &Join{
		Left: left, Right: right, Out: NewBuffer(),
		Kind: kind, Combine: combine,
		left: newSideState(), right: newSideState(),
		leftNullEmitted:  map[rowkey.Key]map[rowkey.Key]bool{},
		rightNullEmitted: map[rowkey.Key]map[rowkey.Key]bool{},
	}
}

func (j *Join) PendingWork() bool { return j.Left.PendingWork() || j.Right.PendingWork() }

func (j *Join) Propagate() {
	for _, c := range j.Left.Drain() {
		j.processLeft(c)
	}
	for _, c := range j.Right.Drain() {
		j.processRight(c)
	}
}

func (j *Join) processLeft(c multiset.Change) {
	switch c.Kind {
	case multiset.Enter:
		t := c.Value.(Tagged)
		j.applyLeft(c.Key, t.OrigKey, t.Row, c.Multiplicity)
	case multiset.Exit:
		t := c.Value.(Tagged)
		j.applyLeft(c.Key, t.OrigKey, t.Row, -c.Multiplicity)
	case multiset.Update:
		old := c.PreviousValue.(Tagged)
		neu := c.Value.(Tagged)
		j.applyLeft(c.Key, old.OrigKey, old.Row, -c.Multiplicity)
		j.applyLeft(c.Key, neu.OrigKey, neu.Row, c.Multiplicity)
	}
}

func (j *Join) processRight(c multiset.Change) {
	switch c.Kind {
	case multiset.Enter:
		t := c.Value.(Tagged)
		j.applyRight(c.Key, t.OrigKey, t.Row, c.Multiplicity)
	case multiset.Exit:
		t := c.Value.(Tagged)
		j.applyRight(c.Key, t.OrigKey, t.Row, -c.Multiplicity)
	case multiset.Update:
		old := c.PreviousValue.(Tagged)
		neu := c.Value.(Tagged)
		j.applyRight(c.Key, old.OrigKey, old.Row, -c.Multiplicity)
		j.applyRight(c.Key, neu.OrigKey, neu.Row, c.Multiplicity)
	}
}

func needsLeftNullExtension(k queryir.JoinKind) bool  { return k == queryir.JoinLeft || k == queryir.JoinFull }
func needsRightNullExtension(k queryir.JoinKind) bool { return k == queryir.JoinRight || k == queryir.JoinFull }

func (j *Join) emit(lok, rok rowkey.Key, lrow, rrow any, mult int) {
	j.Out.Accumulate(rowkey.Composite(lok, rok), j.Combine(lrow, rrow), mult)
}

func (j *Join) markLeftNull(jk, lok rowkey.Key, on bool) {
	if on {
		if j.leftNullEmitted[jk] == nil {
			j.leftNullEmitted[jk] = map[rowkey.Key]bool{}
		}
		j.leftNullEmitted[jk][lok] = true
	} else if j.leftNullEmitted[jk] != nil {
		delete(j.leftNullEmitted[jk], lok)
	}
}

func (j *Join) markRightNull(jk, rok rowkey.Key, on bool) {
	if on {
		if j.rightNullEmitted[jk] == nil {
			j.rightNullEmitted[jk] = map[rowkey.Key]bool{}
		}
		j.rightNullEmitted[jk][rok] = true
	} else if j.rightNullEmitted[jk] != nil {
		delete(j.rightNullEmitted[jk], rok)
	}
}

// applyLeft applies a signed-multiplicity change to the left row (jk,
// origKey) -> row. mult > 0 is an insertion into the left index; mult < 0
// is a removal, and matches are computed against current state before the
// index entry is removed. Mirrors applyRight: also responsible for
// retracting/re-establishing the right side's null extensions when the
// left side's presence at jk transitions empty<->non-empty.
func (j *Join) applyLeft(jk, origKey rowkey.Key, row any, mult int) {
	rightOrig := j.right.list(jk)
	if mult > 0 {
		wasEmpty := len(j.left.list(jk)) == 0
		if wasEmpty && len(rightOrig) > 0 && needsRightNullExtension(j.Kind) {
			for _, rok := range rightOrig {
				if j.rightNullEmitted[jk] != nil && j.rightNullEmitted[jk][rok] {
					j.emit(nullSentinel, rok, nil, j.right.get(jk, rok), -1)
					j.markRightNull(jk, rok, false)
				}
			}
		}
		if len(rightOrig) == 0 {
			if needsLeftNullExtension(j.Kind) {
				j.emit(origKey, nullSentinel, row, nil, mult)
				j.markLeftNull(jk, origKey, true)
			}
		} else {
			for _, rok := range rightOrig {
				j.emit(origKey, rok, row, j.right.get(jk, rok), mult)
			}
		}
		j.left.add(jk, origKey, row)
		return
	}
	if len(rightOrig) == 0 {
		if needsLeftNullExtension(j.Kind) {
			j.emit(origKey, nullSentinel, row, nil, mult)
			j.markLeftNull(jk, origKey, false)
		}
	} else {
		for _, rok := range rightOrig {
			j.emit(origKey, rok, row, j.right.get(jk, rok), mult)
		}
	}
	j.left.remove(jk, origKey)
	if len(j.left.list(jk)) == 0 && needsRightNullExtension(j.Kind) {
		for _, rok := range j.right.list(jk) {
			j.emit(nullSentinel, rok, nil, j.right.get(jk, rok), 1)
			j.markRightNull(jk, rok, true)
		}
	}
}

// applyRight is applyLeft's mirror image, additionally responsible for
// retracting/re-establishing the left side's null extensions when the
// right side's presence at a join key transitions empty<->non-empty.
func (j *Join) applyRight(jk, origKey rowkey.Key, row any, mult int) {
	leftOrig := j.left.list(jk)
	if mult > 0 {
		wasEmpty := len(j.right.list(jk)) == 0
		if wasEmpty && len(leftOrig) > 0 && needsLeftNullExtension(j.Kind) {
			for _, lok := range leftOrig {
				if j.leftNullEmitted[jk] != nil && j.leftNullEmitted[jk][lok] {
					j.emit(lok, nullSentinel, j.left.get(jk, lok), nil, -1)
					j.markLeftNull(jk, lok, false)
				}
			}
		}
		if len(leftOrig) == 0 {
			if needsRightNullExtension(j.Kind) {
				j.emit(nullSentinel, origKey, nil, row, mult)
				j.markRightNull(jk, origKey, true)
			}
		} else {
			for _, lok := range leftOrig {
				j.emit(lok, origKey, j.left.get(jk, lok), row, mult)
			}
		}
		j.right.add(jk, origKey, row)
		return
	}
	if len(leftOrig) == 0 {
		if needsRightNullExtension(j.Kind) {
			j.emit(nullSentinel, origKey, nil, row, mult)
			j.markRightNull(jk, origKey, false)
		}
	} else {
		for _, lok := range leftOrig {
			j.emit(lok, origKey, j.left.get(jk, lok), row, mult)
		}
	}
	j.right.remove(jk, origKey)
	if len(j.right.list(jk)) == 0 && needsLeftNullExtension(j.Kind) {
		for _, lok := range j.left.list(jk) {
			j.emit(lok, nullSentinel, j.left.get(jk, lok), nil, 1)
			j.markLeftNull(jk, lok, true)
		}
	}
}
