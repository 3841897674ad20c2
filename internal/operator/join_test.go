package operator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaydb/relaydb/internal/queryir"
	"github.com/relaydb/relaydb/internal/rowkey"
)

type joinUser struct {
	ID     int
	DeptID int
}

type joinDept struct {
	ID int
}

func combineUserDept(l, r any) any {
	var u *joinUser
	var d *joinDept
	if l != nil {
		uu := l.(joinUser)
		u = &uu
	}
	if r != nil {
		dd := r.(joinDept)
		d = &dd
	}
	return [2]any{u, d}
}

// feedRow accumulates one Tagged row into a join side's input buffer,
// keyed by the join key jk as the upstream reKey step would.
func feedRow(buf *Buffer, jk, origKey rowkey.Key, row any, mult int) {
	buf.Accumulate(jk, Tagged{OrigKey: origKey, Row: row}, mult)
}

// TestJoinTypeMatrix is spec §8 property 5: for 4 users (one with no
// matching department) and 3 departments (one with no matching user),
// inner/left/right/full/cross must produce exactly 3/4/4/5/12 rows.
func TestJoinTypeMatrix(t *testing.T) {
	users := []joinUser{{ID: 1, DeptID: 1}, {ID: 2, DeptID: 1}, {ID: 3, DeptID: 2}, {ID: 4, DeptID: 99}}
	depts := []joinDept{{ID: 1}, {ID: 2}, {ID: 3}}

	feedMatchingFixture := func(j *Join) {
		for _, u := range users {
			feedRow(j.Left, rowkey.Of(u.DeptID), rowkey.Of(u.ID), u, 1)
		}
		for _, d := range depts {
			feedRow(j.Right, rowkey.Of(d.ID), rowkey.Of(d.ID), d, 1)
		}
	}
	feedCrossFixture := func(j *Join) {
		const constKey = rowkey.Key("*")
		for _, u := range users {
			feedRow(j.Left, constKey, rowkey.Of(u.ID), u, 1)
		}
		for _, d := range depts {
			feedRow(j.Right, constKey, rowkey.Of(d.ID), d, 1)
		}
	}

	cases := []struct {
		kind  queryir.JoinKind
		cross bool
		want  int
	}{
		{kind: queryir.JoinInner, want: 3},
		{kind: queryir.JoinLeft, want: 4},
		{kind: queryir.JoinRight, want: 4},
		{kind: queryir.JoinFull, want: 5},
		{kind: queryir.JoinInner, cross: true, want: 12},
	}
	for _, tc := range cases {
		name := tc.kind.String()
		if tc.cross {
			name = "cross"
		}
		t.Run(name, func(t *testing.T) {
			j := NewJoin(NewBuffer(), NewBuffer(), tc.kind, combineUserDept)
			if tc.cross {
				feedCrossFixture(j)
			} else {
				feedMatchingFixture(j)
			}
			j.Propagate()
			got := j.Out.Drain()
			assert.Len(t, got, tc.want)
		})
	}
}

// TestJoinFullDynamicLeftRemovalReestablishesRightNullExtension covers the
// full-join retraction path: a left-side removal that empties a join key
// must re-extend the surviving right row with a null left match, mirroring
// what a right-side removal already does for the left row.
func TestJoinFullDynamicLeftRemovalReestablishesRightNullExtension(t *testing.T) {
	j := NewJoin(NewBuffer(), NewBuffer(), queryir.JoinFull, combineUserDept)

	u := joinUser{ID: 1, DeptID: 1}
	d := joinDept{ID: 1}
	feedRow(j.Left, rowkey.Of(1), rowkey.Of(1), u, 1)
	feedRow(j.Right, rowkey.Of(1), rowkey.Of(1), d, 1)
	j.Propagate()
	initial := j.Out.Drain()
	assert.Len(t, initial, 1, "one matched pair")

	// Remove the only left row at this join key.
	feedRow(j.Left, rowkey.Of(1), rowkey.Of(1), u, -1)
	j.Propagate()
	got := j.Out.Drain()

	var sawMatchExit, sawRightNullEnter bool
	for _, c := range got {
		switch c.Kind.String() {
		case "exit":
			if c.Key == rowkey.Composite(rowkey.Of(1), rowkey.Of(1)) {
				sawMatchExit = true
			}
		case "enter":
			if c.Key == rowkey.Composite(nullSentinel, rowkey.Of(1)) {
				sawRightNullEnter = true
			}
		}
	}
	assert.True(t, sawMatchExit, "the matched row must be retracted")
	assert.True(t, sawRightNullEnter, "department 1 must be re-extended with a null left match")
}
