package candles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCandle(start, end, high, low uint64) Candle {
	return Candle{StartStamp: start, EndStamp: end, HighRate: high, LowRate: low}
}

func TestCache_MergeUpdate(t *testing.T) {
	const dur = "5m"

	t.Run("Unloaded duration ignored", func(t *testing.T) {
		c := NewCache()
		assert.False(t, c.MergeUpdate(dur, testCandle(1000, 1300, 5, 3)))
		assert.Nil(t, c.Series(dur))
	})

	t.Run("Empty series appends", func(t *testing.T) {
		c := NewCache()
		c.SetSnapshot(dur, nil)
		require.True(t, c.MergeUpdate(dur, testCandle(1000, 1300, 5, 3)))
		require.Len(t, c.Series(dur).Candles, 1)
	})

	t.Run("Open bucket replaced in place", func(t *testing.T) {
		c := NewCache()
		c.SetSnapshot(dur, nil)
		c.MergeUpdate(dur, testCandle(1000, 1300, 5, 3))
		c.MergeUpdate(dur, testCandle(1000, 1300, 9, 3))

		series := c.Series(dur)
		require.Len(t, series.Candles, 1)
		assert.Equal(t, uint64(9), series.Candles[0].HighRate)
	})

	t.Run("Replay is a no-op", func(t *testing.T) {
		c := NewCache()
		c.SetSnapshot(dur, nil)
		update := testCandle(1000, 1300, 5, 3)
		c.MergeUpdate(dur, update)
		c.MergeUpdate(dur, update)

		series := c.Series(dur)
		require.Len(t, series.Candles, 1)
		assert.Equal(t, update, series.Candles[0])
	})

	t.Run("New bucket appends", func(t *testing.T) {
		c := NewCache()
		c.SetSnapshot(dur, nil)
		c.MergeUpdate(dur, testCandle(1000, 1300, 5, 3))
		c.MergeUpdate(dur, testCandle(1300, 1600, 6, 4))
		require.Len(t, c.Series(dur).Candles, 2)
	})

	t.Run("End before start dropped", func(t *testing.T) {
		c := NewCache()
		c.SetSnapshot(dur, nil)
		assert.False(t, c.MergeUpdate(dur, testCandle(1300, 1000, 5, 3)))
		assert.Empty(t, c.Series(dur).Candles)
	})
}

func TestCache_SetSnapshot(t *testing.T) {
	c := NewCache()
	c.SetSnapshot("5m", []Candle{testCandle(1000, 1300, 5, 3)})
	c.SetSnapshot("5m", []Candle{testCandle(2000, 2300, 7, 6), testCandle(2300, 2600, 8, 5)})

	series := c.Series("5m")
	require.NotNil(t, series)
	require.Len(t, series.Candles, 2)
	last, ok := series.Last()
	require.True(t, ok)
	assert.Equal(t, uint64(2300), last.StartStamp)
}

func TestCache_HighLowOverWindow(t *testing.T) {
	const dur = "5m"

	t.Run("No data returns zeros", func(t *testing.T) {
		c := NewCache()
		high, low := c.HighLowOverWindow(dur, 1000, 5000)
		assert.Zero(t, high)
		assert.Zero(t, low)
	})

	t.Run("Window bounds the scan", func(t *testing.T) {
		c := NewCache()
		c.SetSnapshot(dur, []Candle{
			testCandle(0, 1000, 50, 10),    // outside window
			testCandle(1000, 2000, 20, 15), // inside
			testCandle(2000, 3000, 30, 18), // inside
		})
		high, low := c.HighLowOverWindow(dur, 2000, 3500)
		assert.Equal(t, uint64(30), high)
		assert.Equal(t, uint64(15), low)
	})

	t.Run("Zero low rates ignored", func(t *testing.T) {
		c := NewCache()
		c.SetSnapshot(dur, []Candle{
			testCandle(1000, 2000, 20, 0),
			testCandle(2000, 3000, 30, 18),
		})
		high, low := c.HighLowOverWindow(dur, 5000, 3500)
		assert.Equal(t, uint64(30), high)
		assert.Equal(t, uint64(18), low)
	})
}
