// Package msgs
package msgs

import (
	"encoding/json"
	"fmt"
)

// Routes for server-originating notifications consumed by a market session.
const (
	BookRoute              = "book"
	BookOrderRoute         = "book_order"
	UnbookOrderRoute       = "unbook_order"
	UpdateRemainingRoute   = "update_remaining"
	EpochOrderRoute        = "epoch_order"
	EpochRoute             = "epoch"
	CandlesRoute           = "candles"
	CandleUpdateRoute      = "candle_update"
	EpochMatchSummaryRoute = "epoch_match_summary"
)

// Routes for client-originating requests.
const (
	LoadMarketRoute  = "loadmarket"
	UnmarketRoute    = "unmarket"
	LoadCandlesRoute = "loadcandles"
)

// Update is the envelope for every feed notification. Payload shape depends
// on Route.
type Update struct {
	Route    string          `json:"route"`
	Host     string          `json:"host"`
	MarketID string          `json:"marketID"`
	Payload  json.RawMessage `json:"payload"`
}

// MiniOrder is the compact order representation used in book feeds. MsgRate
// and QtyAtomic are atomic (message-encoded) units. A zero MsgRate denotes a
// market order. Epoch is nonzero while the order sits in the epoch queue.
type MiniOrder struct {
	Token     string `json:"token"`
	Sell      bool   `json:"sell"`
	MsgRate   uint64 `json:"msgRate"`
	QtyAtomic uint64 `json:"qtyAtomic"`
	Epoch     uint64 `json:"epoch,omitempty"`
	Immediate bool   `json:"immediate,omitempty"`
}

// Validate rejects order payloads that would corrupt aggregate state.
func (o *MiniOrder) Validate() error {
	if o.Token == "" {
		return fmt.Errorf("order has empty token")
	}
	return nil
}

// MarketBook is the payload of a 'book' notification: the full book for one
// market, sent in response to a subscription.
type MarketBook struct {
	Base          uint32      `json:"base"`
	Quote         uint32      `json:"quote"`
	Bids          []MiniOrder `json:"bids"`
	Asks          []MiniOrder `json:"asks"`
	EpochOrders   []MiniOrder `json:"epochOrders"`
	RecentMatches []Match     `json:"recentMatches"`
}

// RemainderUpdate is the payload of an 'update_remaining' notification.
type RemainderUpdate struct {
	Token     string `json:"token"`
	QtyAtomic uint64 `json:"qtyAtomic"`
}

// UnbookNote is the payload of an 'unbook_order' notification.
type UnbookNote struct {
	Token string `json:"token"`
}

// EpochNote is the payload of an 'epoch' notification signalling the start of
// a new epoch.
type EpochNote struct {
	Epoch uint64 `json:"epoch"`
}

// Candle is one OHLC bucket. Stamps are milliseconds.
type Candle struct {
	StartStamp  uint64 `json:"startStamp"`
	EndStamp    uint64 `json:"endStamp"`
	MatchVolume uint64 `json:"matchVolume"`
	QuoteVolume uint64 `json:"quoteVolume"`
	HighRate    uint64 `json:"highRate"`
	LowRate     uint64 `json:"lowRate"`
	StartRate   uint64 `json:"startRate"`
	EndRate     uint64 `json:"endRate"`
}

// CandlesPayload is the payload of a 'candles' notification: a full series
// for one bin duration.
type CandlesPayload struct {
	Dur     string   `json:"dur"`
	Candles []Candle `json:"candles"`
}

// CandleUpdate is the payload of a 'candle_update' notification: the current
// (possibly still open) bucket for one bin duration.
type CandleUpdate struct {
	Dur    string `json:"dur"`
	Candle Candle `json:"candle"`
}

// Match is one matched trade as reported in epoch match summaries.
type Match struct {
	Rate  uint64 `json:"rate"`
	Qty   uint64 `json:"qty"`
	Stamp uint64 `json:"stamp"`
	Sell  bool   `json:"sell"`
}

// MatchSummaryPayload is the payload of an 'epoch_match_summary'
// notification.
type MatchSummaryPayload struct {
	MatchSummaries []Match `json:"matchSummaries"`
}

// RateEncodingFactor converts between message-encoded and conventional
// rates: msgRate = conventionalRate * RateEncodingFactor.
const RateEncodingFactor uint64 = 1e8

// SwapEstimate is the server's best-guess sizing for the largest possible
// order.
type SwapEstimate struct {
	Lots              uint64 `json:"lots"`
	Value             uint64 `json:"value"`
	MaxFees           uint64 `json:"maxFees"`
	FeeReservesPerLot uint64 `json:"feeReservesPerLot"`
}

// MaxOrderEstimate is the response payload of the maxbuy and maxsell API
// endpoints.
type MaxOrderEstimate struct {
	Swap SwapEstimate `json:"swap"`
}

// CandlesRequest asks the server to send a 'candles' notification.
type CandlesRequest struct {
	Host  string `json:"host"`
	Base  uint32 `json:"base"`
	Quote uint32 `json:"quote"`
	Dur   string `json:"dur"`
}

// MarketRequest subscribes to or unsubscribes from a market's feed.
type MarketRequest struct {
	Host  string `json:"host"`
	Base  uint32 `json:"base"`
	Quote uint32 `json:"quote"`
}

// Request is the envelope for client-originating requests.
type Request struct {
	Route   string `json:"route"`
	Payload any    `json:"payload"`
}
