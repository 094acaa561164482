// Package book
package book

import (
	"log"
	"sort"
)

// Order is a single book or epoch-queue entry. MsgRate and QtyAtomic are
// atomic (message-encoded) units. A zero MsgRate denotes a market order.
// Epoch is nonzero while the order sits in the epoch queue and is cleared
// once the order is booked.
type Order struct {
	Token     string
	Sell      bool
	MsgRate   uint64
	QtyAtomic uint64
	Epoch     uint64
	Immediate bool
}

// Book is the canonical in-memory order book for a single market. Buys are
// kept sorted descending by rate, sells ascending, so index 0 on either side
// is the best order. Market orders (zero rate) are not tracked here; they
// only appear in the display aggregation.
//
// Book performs no change notification itself. Callers re-derive display
// state after each mutation.
type Book struct {
	buys  []*Order
	sells []*Order
}

// New creates an empty Book.
func New() *Book {
	return &Book{}
}

// LoadSnapshot replaces both sides wholesale. Used on initial subscription
// and on reconnect. Epoch-queue orders are loaded alongside booked ones.
func (b *Book) LoadSnapshot(orders []Order) {
	b.buys = nil
	b.sells = nil
	for _, o := range orders {
		b.Add(o)
	}
}

// Add inserts an order into its side at the correct sorted position. Orders
// with a zero rate are not booked: a zero-rate, zero-quantity order is a
// cancellation notice and a zero-rate order with quantity is a market order,
// neither of which belongs in the rate-sorted book. Returns true if the book
// changed.
func (b *Book) Add(o Order) bool {
	if o.Token == "" {
		log.Printf("Book | Dropping order with empty token")
		return false
	}
	if o.MsgRate == 0 {
		return false
	}
	if b.find(o.Token) != nil {
		// Duplicate delivery. Rebook rather than double-book, so a changed
		// rate lands at its sorted position.
		log.Printf("Book | Duplicate add for token %s, rebooking", o.Token)
		b.Remove(o.Token)
	}
	side := b.side(o.Sell)
	i := b.insertionIndex(o.Sell, o.MsgRate)
	ord := o
	*side = append(*side, nil)
	copy((*side)[i+1:], (*side)[i:])
	(*side)[i] = &ord
	return true
}

// Remove removes an order by token from whichever side holds it. Removing an
// unknown token is a no-op: the order was already resolved by a prior event.
func (b *Book) Remove(token string) bool {
	for _, sell := range []bool{false, true} {
		side := b.side(sell)
		for i, o := range *side {
			if o.Token == token {
				*side = append((*side)[:i], (*side)[i+1:]...)
				return true
			}
		}
	}
	return false
}

// UpdateRemaining patches an order's remaining quantity in place. Unknown
// tokens are ignored.
func (b *Book) UpdateRemaining(token string, qty uint64) bool {
	if o := b.find(token); o != nil {
		o.QtyAtomic = qty
		return true
	}
	return false
}

// BestBuy returns the highest-rate buy order.
func (b *Book) BestBuy() (Order, bool) {
	if len(b.buys) == 0 {
		return Order{}, false
	}
	return *b.buys[0], true
}

// BestSell returns the lowest-rate sell order.
func (b *Book) BestSell() (Order, bool) {
	if len(b.sells) == 0 {
		return Order{}, false
	}
	return *b.sells[0], true
}

// MidRate returns the rate in the middle of the best buy and best sell. If
// one side is empty, the other side's best rate is returned. If both sides
// are empty the ok return is false; zero is a valid rate and is never used
// to signal absence.
func (b *Book) MidRate() (float64, bool) {
	bb, haveBuy := b.BestBuy()
	bs, haveSell := b.BestSell()
	switch {
	case haveBuy && haveSell:
		return (float64(bb.MsgRate) + float64(bs.MsgRate)) / 2, true
	case haveBuy:
		return float64(bb.MsgRate), true
	case haveSell:
		return float64(bs.MsgRate), true
	}
	return 0, false
}

// BuyOrders returns a copy of the buy side, best first.
func (b *Book) BuyOrders() []Order { return copySide(b.buys) }

// SellOrders returns a copy of the sell side, best first.
func (b *Book) SellOrders() []Order { return copySide(b.sells) }

// Find returns a copy of the order with the given token.
func (b *Book) Find(token string) (Order, bool) {
	if o := b.find(token); o != nil {
		return *o, true
	}
	return Order{}, false
}

func (b *Book) side(sell bool) *[]*Order {
	if sell {
		return &b.sells
	}
	return &b.buys
}

func (b *Book) find(token string) *Order {
	for _, side := range [][]*Order{b.buys, b.sells} {
		for _, o := range side {
			if o.Token == token {
				return o
			}
		}
	}
	return nil
}

// insertionIndex locates the first index whose order sorts after rate on the
// given side, so equal-rate orders keep arrival order.
func (b *Book) insertionIndex(sell bool, rate uint64) int {
	side := *b.side(sell)
	if sell {
		return sort.Search(len(side), func(i int) bool { return side[i].MsgRate > rate })
	}
	return sort.Search(len(side), func(i int) bool { return side[i].MsgRate < rate })
}

func copySide(side []*Order) []Order {
	out := make([]Order, len(side))
	for i, o := range side {
		out[i] = *o
	}
	return out
}
