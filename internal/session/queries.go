package session

import (
	"time"

	"github.com/amirphl/dexbook/internal/book"
	"github.com/amirphl/dexbook/internal/estimate"
	"github.com/amirphl/dexbook/internal/msgs"
	"github.com/amirphl/dexbook/internal/trades"
)

// External read surface. The event loop is the only writer; these take the
// read lock so presenters can query from their own goroutines.

// BookLoaded reports whether the initial book snapshot has been applied.
func (s *Session) BookLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bookLoaded
}

// Epoch returns the currently open epoch number.
func (s *Session) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epochs.Current()
}

// MidGap returns the message-encoded rate in the middle of the best buy and
// best sell, falling back to the one populated side. ok is false when both
// sides are empty.
func (s *Session) MidGap() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.MidRate()
}

// MarketBuyEstimate returns the minimum market-buy quantity suggested by the
// server's buy buffer: lot size scaled by the buffer at the current mid-gap.
// ok is false while the book is empty.
func (s *Session) MarketBuyEstimate() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gap, ok := s.book.MidRate()
	if !ok {
		return 0, false
	}
	return uint64(float64(s.cfg.LotSize) * s.cfg.BuyBuffer * gap / float64(msgs.RateEncodingFactor)), true
}

// HighLow24 returns the high and low rates over the last 24 hours, derived
// from the five-minute candle series. Zeros mean unknown, not prices.
func (s *Session) HighLow24() (high, low uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := uint64(time.Now().UnixMilli())
	return s.candles.HighLowOverWindow(fiveMinBinKey, dayMillis, now)
}

// Rows returns one side's display rows in display order.
func (s *Session) Rows(sell bool) []book.DisplayRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows.Rows(sell)
}

// SubscribeRows returns a channel of display-row change events.
func (s *Session) SubscribeRows() <-chan book.RowEvent {
	return s.rows.Subscribe()
}

// UnsubscribeRows releases a row event subscription.
func (s *Session) UnsubscribeRows(ch <-chan book.RowEvent) {
	s.rows.Unsubscribe(ch)
}

// RecentMatches returns the trade log sorted for presentation.
func (s *Session) RecentMatches(key trades.SortKey, direction int) []trades.Match {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tradeLog.SortedView(key, direction)
}

// LastEstimate returns the most recent max order estimate result for a
// side, cache hits and failures included.
func (s *Session) LastEstimate(sell bool) (estimate.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.lastEstimate[sell]
	return res, ok
}

// CandleError returns the watchdog error for a duration, if its snapshot
// never arrived. A later snapshot clears it.
func (s *Session) CandleError(dur string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.candleErrs[dur]
}

// CandleSeries returns a copy of the cached candles for a duration, or nil
// before the snapshot arrives.
func (s *Session) CandleSeries(dur string) []msgs.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.candles.Series(dur)
	if series == nil {
		return nil
	}
	out := make([]msgs.Candle, len(series.Candles))
	copy(out, series.Candles)
	return out
}
