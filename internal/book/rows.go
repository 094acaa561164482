package book

import (
	"log"
	"sync"
)

// RowEventKind distinguishes the aggregator's change notifications.
type RowEventKind int

const (
	RowAdded RowEventKind = iota
	RowUpdated
	RowRemoved
)

// DisplayRow is a read-only snapshot of one aggregated display row: every
// order on a side sharing (rate, epoch membership), or all market orders on
// the side collapsed into one pinned row.
type DisplayRow struct {
	Sell      bool
	MsgRate   uint64
	Epoch     bool
	QtyAtomic uint64
	NumOrders int
}

// RowEvent is emitted to subscribers after each row mutation. Index is the
// row's position on its side at emission time (-1 for removals).
type RowEvent struct {
	Kind  RowEventKind
	Index int
	Row   DisplayRow
}

// row is a live bin of orders sharing (rate, epoch membership). The zero-rate
// row additionally collects every market order on the side regardless of
// epoch membership.
type row struct {
	sell    bool
	msgRate uint64
	epoch   bool
	orders  []*Order
}

func (r *row) qty() uint64 {
	var total uint64
	for _, o := range r.orders {
		total += o.QtyAtomic
	}
	return total
}

func (r *row) snapshot() DisplayRow {
	return DisplayRow{
		Sell:      r.sell,
		MsgRate:   r.msgRate,
		Epoch:     r.epoch,
		QtyAtomic: r.qty(),
		NumOrders: len(r.orders),
	}
}

// compare returns 0 if o belongs in this row, a positive value if o sorts
// before this row on the side, and a negative value if it sorts after. Sell
// rows are ordered by ascending rate, buy rows descending, and epoch rows
// come after booked rows at the same rate.
func (r *row) compare(o *Order) int {
	oEpoch := o.Epoch != 0
	if r.msgRate == o.MsgRate && r.epoch == oEpoch {
		return 0
	}
	if r.msgRate != o.MsgRate {
		if (r.msgRate > o.MsgRate) == o.Sell {
			return 1
		}
		return -1
	}
	if r.epoch {
		return 1
	}
	return -1
}

// RowAggregator maintains both sides' ordered display rows, derived from
// book and epoch-queue orders. It never touches any UI; presenters subscribe
// to its change events.
type RowAggregator struct {
	buys  []*row
	sells []*row

	mu   sync.Mutex
	subs []chan RowEvent
}

// NewRowAggregator creates an empty aggregator.
func NewRowAggregator() *RowAggregator {
	return &RowAggregator{}
}

// Subscribe returns a channel of row change events. Slow subscribers have
// events dropped rather than stalling the event loop.
func (a *RowAggregator) Subscribe() <-chan RowEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := make(chan RowEvent, 256)
	a.subs = append(a.subs, ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (a *RowAggregator) Unsubscribe(ch <-chan RowEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, sub := range a.subs {
		if sub == ch {
			a.subs = append(a.subs[:i], a.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

func (a *RowAggregator) emit(kind RowEventKind, index int, r *row) {
	ev := RowEvent{Kind: kind, Index: index, Row: r.snapshot()}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, sub := range a.subs {
		select {
		case sub <- ev:
		default:
			log.Printf("RowAggregator | Dropping row event for slow subscriber")
		}
	}
}

// Reload replaces both sides from a book snapshot.
func (a *RowAggregator) Reload(orders []Order) {
	a.buys = nil
	a.sells = nil
	for _, o := range orders {
		a.Insert(o)
	}
}

// Insert adds a single order to its side's display rows. If a row already
// matches the order's (rate, epoch membership) the order merges into it,
// otherwise a new row is created at its sorted position. A token already held
// in any row is replaced rather than duplicated, so replayed deliveries and
// authoritative re-adds after epoch reclassification cannot double-count.
// Market orders aggregate into a pinned first row; a zero-rate, zero-quantity
// order is a cancellation notice and is dropped.
func (a *RowAggregator) Insert(o Order) {
	if o.Token == "" {
		log.Printf("RowAggregator | Dropping order with empty token")
		return
	}
	if a.Remove(o.Token) {
		log.Printf("RowAggregator | Duplicate insert for token %s, replacing", o.Token)
	}
	side := a.side(o.Sell)
	ord := o

	if o.MsgRate == 0 {
		if o.QtyAtomic == 0 {
			return
		}
		if len(*side) > 0 && (*side)[0].msgRate == 0 {
			(*side)[0].orders = append((*side)[0].orders, &ord)
			a.emit(RowUpdated, 0, (*side)[0])
			return
		}
		r := &row{sell: o.Sell, epoch: o.Epoch != 0, orders: []*Order{&ord}}
		*side = append([]*row{r}, *side...)
		a.emit(RowAdded, 0, r)
		return
	}

	// Limit order. Scan past the pinned market-order row, if any.
	start := 0
	if len(*side) > 0 && (*side)[0].msgRate == 0 {
		start = 1
	}
	for i := start; i < len(*side); i++ {
		r := (*side)[i]
		switch c := r.compare(&ord); {
		case c == 0:
			r.orders = append(r.orders, &ord)
			a.emit(RowUpdated, i, r)
			return
		case c > 0:
			nr := &row{sell: o.Sell, msgRate: o.MsgRate, epoch: o.Epoch != 0, orders: []*Order{&ord}}
			*side = append(*side, nil)
			copy((*side)[i+1:], (*side)[i:])
			(*side)[i] = nr
			a.emit(RowAdded, i, nr)
			return
		}
	}
	nr := &row{sell: o.Sell, msgRate: o.MsgRate, epoch: o.Epoch != 0, orders: []*Order{&ord}}
	*side = append(*side, nr)
	a.emit(RowAdded, len(*side)-1, nr)
}

// Remove drops the order with the given token from whichever row holds it,
// deleting the row if it empties. Unknown tokens are ignored.
func (a *RowAggregator) Remove(token string) bool {
	for _, sell := range []bool{false, true} {
		side := a.side(sell)
		for i, r := range *side {
			for j, o := range r.orders {
				if o.Token != token {
					continue
				}
				r.orders = append(r.orders[:j], r.orders[j+1:]...)
				if len(r.orders) == 0 {
					*side = append((*side)[:i], (*side)[i+1:]...)
					a.emit(RowRemoved, -1, r)
				} else {
					a.emit(RowUpdated, i, r)
				}
				return true
			}
		}
	}
	return false
}

// UpdateQuantity patches the remaining quantity of the order with the given
// token and recomputes its row's aggregate. Unknown tokens are ignored.
func (a *RowAggregator) UpdateQuantity(token string, qty uint64) bool {
	for _, sell := range []bool{false, true} {
		for i, r := range *a.side(sell) {
			for _, o := range r.orders {
				if o.Token == token {
					o.QtyAtomic = qty
					a.emit(RowUpdated, i, r)
					return true
				}
			}
		}
	}
	return false
}

// PurgeExpiredEpochOrders removes every row member tagged with an epoch
// other than currentEpoch, deleting rows left empty.
func (a *RowAggregator) PurgeExpiredEpochOrders(currentEpoch uint64) {
	for _, sell := range []bool{false, true} {
		side := a.side(sell)
		for i := 0; i < len(*side); i++ {
			r := (*side)[i]
			kept := r.orders[:0]
			for _, o := range r.orders {
				if o.Epoch != 0 && o.Epoch != currentEpoch {
					continue
				}
				kept = append(kept, o)
			}
			if len(kept) == len(r.orders) {
				continue
			}
			r.orders = kept
			if len(r.orders) == 0 {
				*side = append((*side)[:i], (*side)[i+1:]...)
				a.emit(RowRemoved, -1, r)
				i--
			} else {
				a.emit(RowUpdated, i, r)
			}
		}
	}
}

// Rows returns a snapshot of one side's display rows in display order.
func (a *RowAggregator) Rows(sell bool) []DisplayRow {
	side := *a.side(sell)
	out := make([]DisplayRow, len(side))
	for i, r := range side {
		out[i] = r.snapshot()
	}
	return out
}

func (a *RowAggregator) side(sell bool) *[]*row {
	if sell {
		return &a.sells
	}
	return &a.buys
}
