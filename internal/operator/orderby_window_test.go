package operator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydb/relaydb/internal/rowkey"
)

type scoredRow struct {
	ID    int
	Value int
}

func scoredKey(id int) rowkey.Key { return rowkey.Of(id) }

// descByValue orders scoredRow values highest-first, matching the "orderBy
// value desc" queries spec §8's S3/S4 scenarios describe.
func descByValue(a, b any) int { return b.(scoredRow).Value - a.(scoredRow).Value }

func feedFive(t *testing.T, w *OrderByWindow) {
	t.Helper()
	values := []int{100, 90, 80, 70, 60}
	for i, v := range values {
		w.In.Accumulate(scoredKey(i+1), scoredRow{ID: i + 1, Value: v}, 1)
	}
	w.Propagate()
	w.Out.Drain() // discard the initial materialization batch
}

// TestOrderByWindowDeleteInsideWindowPromotesFromOverflow is spec §8 S3: a
// delete inside the visible top-N must surface the next-ranked row rather
// than leaving the window short, even though this source has no load-more
// adapter to backfill from.
func TestOrderByWindowDeleteInsideWindowPromotesFromOverflow(t *testing.T) {
	w := NewOrderByWindow(NewBuffer(), descByValue, 0, 3)
	feedFive(t, w)
	require.Equal(t, []rowkey.Key{scoredKey(1), scoredKey(2), scoredKey(3)}, w.visible)

	w.In.Accumulate(scoredKey(2), scoredRow{ID: 2, Value: 90}, -1)
	w.Propagate()

	assert.Equal(t, []rowkey.Key{scoredKey(1), scoredKey(3), scoredKey(4)}, w.visible,
		"key 4 must be promoted from overflow to replace deleted key 2")

	var sawExit2, sawEnter4 bool
	for _, c := range w.Out.Drain() {
		if c.Kind.String() == "exit" && c.Key == scoredKey(2) {
			sawExit2 = true
		}
		if c.Kind.String() == "enter" && c.Key == scoredKey(4) {
			sawEnter4 = true
		}
	}
	assert.True(t, sawExit2, "deleted key 2 must be retracted")
	assert.True(t, sawEnter4, "promoted key 4 must be announced")
}

// TestOrderByWindowDeleteWithOffsetPromotesFromOverflow is spec §8 S4: the
// same fixture with a 2-row window (offset 0, limit 2).
func TestOrderByWindowDeleteWithOffsetPromotesFromOverflow(t *testing.T) {
	w := NewOrderByWindow(NewBuffer(), descByValue, 0, 2)
	feedFive(t, w)
	require.Equal(t, []rowkey.Key{scoredKey(1), scoredKey(2)}, w.visible)

	w.In.Accumulate(scoredKey(2), scoredRow{ID: 2, Value: 90}, -1)
	w.Propagate()

	assert.Equal(t, []rowkey.Key{scoredKey(1), scoredKey(3)}, w.visible)
}

// TestOrderByWindowLoadMoreOnlyFiresWhenOverflowExhausted checks the
// windowed operator doesn't call out to LoadMore while it still has
// unplaced candidates of its own to promote from.
func TestOrderByWindowLoadMoreOnlyFiresWhenOverflowExhausted(t *testing.T) {
	w := NewOrderByWindow(NewBuffer(), descByValue, 0, 3)
	loadMoreCalls := 0
	w.LoadMore = func(int) { loadMoreCalls++ }
	feedFive(t, w)
	assert.Zero(t, loadMoreCalls, "overflow still has two spare candidates after the first run")

	// Delete every row, including the overflow backlog, until the window
	// is genuinely short of known candidates.
	for _, id := range []int{1, 2, 3, 4, 5} {
		w.In.Accumulate(scoredKey(id), scoredRow{ID: id, Value: 0}, -1)
	}
	w.Propagate()
	assert.Equal(t, 1, loadMoreCalls, "an empty overflow must fall back to LoadMore")
}
