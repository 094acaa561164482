package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buyOrder(token string, rate, qty uint64) Order {
	return Order{Token: token, Sell: false, MsgRate: rate, QtyAtomic: qty}
}

func sellOrder(token string, rate, qty uint64) Order {
	return Order{Token: token, Sell: true, MsgRate: rate, QtyAtomic: qty}
}

func TestBook_Add(t *testing.T) {
	t.Run("Sorted sides", func(t *testing.T) {
		b := New()
		b.Add(buyOrder("b1", 100, 5))
		b.Add(buyOrder("b2", 120, 5))
		b.Add(buyOrder("b3", 110, 5))
		b.Add(sellOrder("s1", 140, 5))
		b.Add(sellOrder("s2", 130, 5))

		buys := b.BuyOrders()
		require.Len(t, buys, 3)
		assert.Equal(t, uint64(120), buys[0].MsgRate)
		assert.Equal(t, uint64(110), buys[1].MsgRate)
		assert.Equal(t, uint64(100), buys[2].MsgRate)

		sells := b.SellOrders()
		require.Len(t, sells, 2)
		assert.Equal(t, uint64(130), sells[0].MsgRate)
		assert.Equal(t, uint64(140), sells[1].MsgRate)
	})

	t.Run("Equal rates keep arrival order", func(t *testing.T) {
		b := New()
		b.Add(sellOrder("s1", 100, 1))
		b.Add(sellOrder("s2", 100, 2))
		sells := b.SellOrders()
		require.Len(t, sells, 2)
		assert.Equal(t, "s1", sells[0].Token)
		assert.Equal(t, "s2", sells[1].Token)
	})

	t.Run("Zero rate not booked", func(t *testing.T) {
		b := New()
		assert.False(t, b.Add(buyOrder("m1", 0, 5)))
		assert.Empty(t, b.BuyOrders())
	})

	t.Run("Empty token dropped", func(t *testing.T) {
		b := New()
		assert.False(t, b.Add(buyOrder("", 100, 5)))
		assert.Empty(t, b.BuyOrders())
	})

	t.Run("Duplicate token rebooks", func(t *testing.T) {
		b := New()
		b.Add(buyOrder("b1", 100, 5))
		b.Add(buyOrder("b1", 100, 9))
		buys := b.BuyOrders()
		require.Len(t, buys, 1)
		assert.Equal(t, uint64(9), buys[0].QtyAtomic)
	})

	t.Run("Duplicate with changed rate re-sorts", func(t *testing.T) {
		b := New()
		b.Add(buyOrder("b1", 100, 5))
		b.Add(buyOrder("b2", 110, 1))
		b.Add(buyOrder("b1", 120, 5))
		buys := b.BuyOrders()
		require.Len(t, buys, 2)
		assert.Equal(t, "b1", buys[0].Token)
		assert.Equal(t, uint64(120), buys[0].MsgRate)
	})
}

func TestBook_Remove(t *testing.T) {
	b := New()
	b.Add(buyOrder("b1", 100, 5))
	b.Add(sellOrder("s1", 110, 3))

	assert.True(t, b.Remove("b1"))
	assert.Empty(t, b.BuyOrders())

	t.Run("Idempotent", func(t *testing.T) {
		assert.False(t, b.Remove("b1"))
		assert.Empty(t, b.BuyOrders())
		sells := b.SellOrders()
		require.Len(t, sells, 1)
		assert.Equal(t, "s1", sells[0].Token)
	})

	t.Run("Unknown token is a no-op", func(t *testing.T) {
		assert.False(t, b.Remove("nope"))
	})
}

func TestBook_UpdateRemaining(t *testing.T) {
	b := New()
	b.Add(sellOrder("s1", 110, 3))

	assert.True(t, b.UpdateRemaining("s1", 7))
	o, ok := b.Find("s1")
	require.True(t, ok)
	assert.Equal(t, uint64(7), o.QtyAtomic)

	assert.False(t, b.UpdateRemaining("unknown", 1))
}

func TestBook_LoadSnapshot(t *testing.T) {
	b := New()
	b.Add(buyOrder("old", 90, 1))
	b.LoadSnapshot([]Order{
		buyOrder("b1", 100, 5),
		sellOrder("s1", 110, 3),
	})

	_, ok := b.Find("old")
	assert.False(t, ok)
	require.Len(t, b.BuyOrders(), 1)
	require.Len(t, b.SellOrders(), 1)
}

func TestBook_MidRate(t *testing.T) {
	t.Run("Both sides empty", func(t *testing.T) {
		b := New()
		_, ok := b.MidRate()
		assert.False(t, ok)
	})

	t.Run("Only buys", func(t *testing.T) {
		b := New()
		b.Add(buyOrder("b1", 100, 5))
		mid, ok := b.MidRate()
		require.True(t, ok)
		assert.Equal(t, float64(100), mid)
	})

	t.Run("Only sells", func(t *testing.T) {
		b := New()
		b.Add(sellOrder("s1", 110, 5))
		mid, ok := b.MidRate()
		require.True(t, ok)
		assert.Equal(t, float64(110), mid)
	})

	t.Run("Both sides", func(t *testing.T) {
		b := New()
		b.Add(buyOrder("b1", 100, 5))
		b.Add(sellOrder("s1", 111, 5))
		mid, ok := b.MidRate()
		require.True(t, ok)
		assert.Equal(t, 105.5, mid)
	})
}
