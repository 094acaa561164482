package trades

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_Prepend(t *testing.T) {
	t.Run("Newest first", func(t *testing.T) {
		l := NewLog(100)
		l.Prepend([]Match{{Rate: 1, Stamp: 10}})
		l.Prepend([]Match{{Rate: 3, Stamp: 30}, {Rate: 2, Stamp: 20}})

		matches := l.Matches()
		require.Len(t, matches, 3)
		assert.Equal(t, uint64(3), matches[0].Rate)
		assert.Equal(t, uint64(2), matches[1].Rate)
		assert.Equal(t, uint64(1), matches[2].Rate)
	})

	t.Run("FIFO cap by insertion, not age", func(t *testing.T) {
		l := NewLog(100)
		for i := 0; i < 120; i++ {
			// Stamps deliberately not monotonic: eviction must not care.
			l.Prepend([]Match{{Rate: uint64(i), Stamp: uint64(120 - i)}})
		}
		matches := l.Matches()
		require.Len(t, matches, 100)
		// The most recently inserted survives at the front...
		assert.Equal(t, uint64(119), matches[0].Rate)
		// ...and the 20 oldest insertions were evicted.
		assert.Equal(t, uint64(20), matches[99].Rate)
	})

	t.Run("Oversized batch truncated", func(t *testing.T) {
		l := NewLog(5)
		batch := make([]Match, 8)
		for i := range batch {
			batch[i].Rate = uint64(i)
		}
		l.Prepend(batch)
		assert.Equal(t, 5, l.Len())
	})
}

func TestLog_Reload(t *testing.T) {
	l := NewLog(100)
	l.Prepend([]Match{{Rate: 1}})
	l.Reload([]Match{{Rate: 7}, {Rate: 8}})
	matches := l.Matches()
	require.Len(t, matches, 2)
	assert.Equal(t, uint64(7), matches[0].Rate)
}

func TestLog_SortedView(t *testing.T) {
	l := NewLog(100)
	l.Prepend([]Match{
		{Rate: 20, Qty: 1, Stamp: 300},
		{Rate: 10, Qty: 3, Stamp: 100},
		{Rate: 30, Qty: 2, Stamp: 200},
	})

	cases := []struct {
		key       SortKey
		direction int
		first     uint64 // expected Rate of first entry
	}{
		{SortByRate, 1, 10},
		{SortByRate, -1, 30},
		{SortByQty, 1, 20},
		{SortByQty, -1, 10},
		{SortByAge, 1, 10},
		{SortByAge, -1, 20},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s %d", tc.key, tc.direction), func(t *testing.T) {
			view := l.SortedView(tc.key, tc.direction)
			require.Len(t, view, 3)
			assert.Equal(t, tc.first, view[0].Rate)
		})
	}

	t.Run("Storage order untouched", func(t *testing.T) {
		l.SortedView(SortByRate, 1)
		matches := l.Matches()
		assert.Equal(t, uint64(20), matches[0].Rate)
		assert.Equal(t, uint64(10), matches[1].Rate)
		assert.Equal(t, uint64(30), matches[2].Rate)
	})
}
