// Package session
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/amirphl/dexbook/internal/book"
	"github.com/amirphl/dexbook/internal/candles"
	"github.com/amirphl/dexbook/internal/estimate"
	"github.com/amirphl/dexbook/internal/msgs"
	"github.com/amirphl/dexbook/internal/trades"
)

const (
	// DefaultWatchdogTimeout bounds the wait for a candle snapshot after a
	// loadcandles request.
	DefaultWatchdogTimeout = 10 * time.Second

	// fiveMinBinKey is the duration whose series backs the 24h high/low when
	// no finer stat source exists.
	fiveMinBinKey = "5m"

	dayMillis = 86400000
)

// Feed is the transport surface a session drives: market subscription and
// candle requests. Responses arrive later as Update deliveries.
type Feed interface {
	SubscribeMarket(req msgs.MarketRequest) error
	UnsubscribeMarket(req msgs.MarketRequest) error
	RequestCandles(req msgs.CandlesRequest) error
}

// Notifier carries operational alerts (snapshot timeouts, feed loss) out of
// the core.
type Notifier interface {
	Send(msg string) error
}

// Archiver persists closed candles and matched trades. Implementations must
// not block for long; the session calls it inline on its event loop.
type Archiver interface {
	SaveCandle(ctx context.Context, marketID, dur string, c msgs.Candle) error
	SaveMatches(ctx context.Context, marketID string, matches []msgs.Match) error
}

// Config identifies and parameterizes one market subscription.
type Config struct {
	Host      string
	MarketID  string
	Base      uint32
	Quote     uint32
	LotSize   uint64
	BuyBuffer float64 // market-buy minimum multiplier from server config

	EpochPolicy     book.EpochPolicy
	WatchdogTimeout time.Duration
	TradeCap        int
	Debounce        time.Duration
	InboxSize       int

	Feed      Feed
	Estimates estimate.Requester
	Notifier  Notifier
	Archiver  Archiver
}

// Session owns the live view of a single market: the canonical book, epoch
// tracker, display rows, candle caches, recent trade log and max order
// estimator. One Session is constructed per subscription and torn down on
// unsubscribe; switching markets means a new Session, never mutation of a
// shared one.
//
// All mutation runs on a single event loop fed through an inbox channel.
// Timer firings and estimate completions re-enter through the same inbox,
// so component state is never touched from two goroutines.
type Session struct {
	cfg Config

	book      *book.Book
	epochs    *book.EpochTracker
	rows      *book.RowAggregator
	candles   *candles.Cache
	tradeLog  *trades.Log
	estimator *estimate.Estimator

	inbox  chan event
	closed chan struct{}

	// mu guards component state for external reads only; the event loop is
	// the sole writer.
	mu sync.RWMutex

	bookLoaded   bool
	balances     map[uint32]uint64
	formSell     bool
	formRate     uint64
	lastEstimate map[bool]estimate.Result
	candleErrs   map[string]error
	watchdogs    map[string]uint64 // dur -> request generation
	watchdogGen  uint64

	closeOnce sync.Once
}

type event interface{}

type feedEvent struct{ u msgs.Update }

type balanceEvent struct {
	assetID uint32
	avail   uint64
}

type estimateEvent struct{ res estimate.Result }

type watchdogEvent struct {
	dur string
	gen uint64
}

type formEvent struct {
	sell bool
	rate uint64
}

// New creates a Session and issues the market subscription. Run must be
// started for events to be processed.
func New(cfg Config) (*Session, error) {
	if cfg.Feed == nil {
		return nil, fmt.Errorf("session requires a feed")
	}
	if cfg.WatchdogTimeout <= 0 {
		cfg.WatchdogTimeout = DefaultWatchdogTimeout
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	s := &Session{
		cfg:          cfg,
		book:         book.New(),
		epochs:       book.NewEpochTracker(cfg.EpochPolicy),
		rows:         book.NewRowAggregator(),
		candles:      candles.NewCache(),
		tradeLog:     trades.NewLog(cfg.TradeCap),
		inbox:        make(chan event, cfg.InboxSize),
		closed:       make(chan struct{}),
		balances:     make(map[uint32]uint64),
		lastEstimate: make(map[bool]estimate.Result),
		candleErrs:   make(map[string]error),
		watchdogs:    make(map[string]uint64),
	}
	s.estimator = estimate.New(cfg.Estimates, estimate.Config{
		Host:     cfg.Host,
		Base:     cfg.Base,
		Quote:    cfg.Quote,
		LotSize:  cfg.LotSize,
		Debounce: cfg.Debounce,
		OnResult: func(res estimate.Result) { s.post(estimateEvent{res: res}) },
	})
	if err := cfg.Feed.SubscribeMarket(msgs.MarketRequest{Host: cfg.Host, Base: cfg.Base, Quote: cfg.Quote}); err != nil {
		return nil, fmt.Errorf("market subscription failed: %w", err)
	}
	return s, nil
}

// Run drains the inbox until the context is canceled or the session is
// closed. It must run in exactly one goroutine.
func (s *Session) Run(ctx context.Context) {
	log.Printf("Session | Started for %s at %s", s.cfg.MarketID, s.cfg.Host)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case ev := <-s.inbox:
			s.mu.Lock()
			s.process(ev)
			s.mu.Unlock()
		}
	}
}

// Close tears the session down: pending estimates are canceled and the
// market unsubscribed. Events delivered after Close are dropped.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.estimator.Close()
		req := msgs.MarketRequest{Host: s.cfg.Host, Base: s.cfg.Base, Quote: s.cfg.Quote}
		if err := s.cfg.Feed.UnsubscribeMarket(req); err != nil {
			log.Printf("Session | Unsubscribe failed for %s: %v", s.cfg.MarketID, err)
		}
	})
}

// Deliver hands a feed notification to the session. Notifications for other
// markets or hosts are dropped by the event loop, so in-flight messages
// racing an unsubscribe are harmless.
func (s *Session) Deliver(u msgs.Update) {
	s.post(feedEvent{u: u})
}

// NotifyBalance reports a wallet balance change.
func (s *Session) NotifyBalance(assetID uint32, avail uint64) {
	s.post(balanceEvent{assetID: assetID, avail: avail})
}

// SetOrderForm records the side and rate the user is composing an order
// with, and triggers the matching max order estimate.
func (s *Session) SetOrderForm(sell bool, rate uint64) {
	s.post(formEvent{sell: sell, rate: rate})
}

// RequestCandles asks the server for a candle snapshot and arms the
// watchdog for it.
func (s *Session) RequestCandles(dur string) error {
	req := msgs.CandlesRequest{Host: s.cfg.Host, Base: s.cfg.Base, Quote: s.cfg.Quote, Dur: dur}
	if err := s.cfg.Feed.RequestCandles(req); err != nil {
		return fmt.Errorf("loadcandles request failed: %w", err)
	}
	s.mu.Lock()
	s.watchdogGen++
	gen := s.watchdogGen
	s.watchdogs[dur] = gen
	s.mu.Unlock()
	time.AfterFunc(s.cfg.WatchdogTimeout, func() {
		s.post(watchdogEvent{dur: dur, gen: gen})
	})
	return nil
}

func (s *Session) post(ev event) {
	select {
	case <-s.closed:
		return
	default:
	}
	select {
	case s.inbox <- ev:
	default:
		log.Printf("Session | Inbox full, dropping event for %s", s.cfg.MarketID)
	}
}

func (s *Session) process(ev event) {
	switch e := ev.(type) {
	case feedEvent:
		s.processUpdate(e.u)
	case balanceEvent:
		s.balances[e.assetID] = e.avail
		s.estimator.HandleBalanceChange(e.assetID, e.avail)
		s.triggerEstimate()
	case estimateEvent:
		s.lastEstimate[e.res.Sell] = e.res
	case watchdogEvent:
		if gen, ok := s.watchdogs[e.dur]; !ok || gen != e.gen {
			return // snapshot arrived, or a newer request owns the watchdog
		}
		delete(s.watchdogs, e.dur)
		err := fmt.Errorf("no candle snapshot for %s/%s within %s", s.cfg.MarketID, e.dur, s.cfg.WatchdogTimeout)
		s.candleErrs[e.dur] = err
		log.Printf("Session | %v", err)
		if s.cfg.Notifier != nil {
			if sendErr := s.cfg.Notifier.Send(err.Error()); sendErr != nil {
				log.Printf("Session | Notifier send failed: %v", sendErr)
			}
		}
	case formEvent:
		s.formSell = e.sell
		s.formRate = e.rate
		s.triggerEstimate()
	default:
		log.Printf("Session | Unknown event type %T", ev)
	}
}

// processUpdate applies one feed notification. Every notification is checked
// against the session's (host, marketID) identity first; mismatches are a
// normal consequence of at-least-once delivery racing market switches and
// are silently dropped.
func (s *Session) processUpdate(u msgs.Update) {
	if u.Host != s.cfg.Host || u.MarketID != s.cfg.MarketID {
		return
	}
	switch u.Route {
	case msgs.BookRoute:
		s.handleBook(u.Payload)
	case msgs.BookOrderRoute:
		s.handleBookOrder(u.Payload)
	case msgs.UnbookOrderRoute:
		s.handleUnbookOrder(u.Payload)
	case msgs.UpdateRemainingRoute:
		s.handleUpdateRemaining(u.Payload)
	case msgs.EpochOrderRoute:
		s.handleEpochOrder(u.Payload)
	case msgs.EpochRoute:
		s.handleEpoch(u.Payload)
	case msgs.CandlesRoute:
		s.handleCandles(u.Payload)
	case msgs.CandleUpdateRoute:
		s.handleCandleUpdate(u.Payload)
	case msgs.EpochMatchSummaryRoute:
		s.handleMatchSummary(u.Payload)
	default:
		log.Printf("Session | Unknown route %q", u.Route)
	}
}

// handleBook wholesale-replaces all component state from a full book
// snapshot. Also used on reconnect; no teardown is needed.
func (s *Session) handleBook(payload json.RawMessage) {
	var mb msgs.MarketBook
	if err := json.Unmarshal(payload, &mb); err != nil {
		log.Printf("Session | Malformed book payload: %v", err)
		return
	}
	var orders []book.Order
	for _, group := range [][]msgs.MiniOrder{mb.Bids, mb.Asks, mb.EpochOrders} {
		for _, mo := range group {
			if err := mo.Validate(); err != nil {
				log.Printf("Session | Dropping snapshot order: %v", err)
				continue
			}
			orders = append(orders, toOrder(mo))
		}
	}
	s.book.LoadSnapshot(orders)
	s.rows.Reload(orders)
	s.tradeLog.Reload(mb.RecentMatches)
	s.bookLoaded = true
}

func (s *Session) handleBookOrder(payload json.RawMessage) {
	mo, ok := decodeOrder(payload)
	if !ok {
		return
	}
	if mo.MsgRate > 0 {
		s.book.Add(toOrder(mo))
	}
	s.rows.Insert(toOrder(mo))
}

func (s *Session) handleUnbookOrder(payload json.RawMessage) {
	var note msgs.UnbookNote
	if err := json.Unmarshal(payload, &note); err != nil || note.Token == "" {
		log.Printf("Session | Malformed unbook payload: %v", err)
		return
	}
	s.book.Remove(note.Token)
	s.rows.Remove(note.Token)
}

func (s *Session) handleUpdateRemaining(payload json.RawMessage) {
	var ru msgs.RemainderUpdate
	if err := json.Unmarshal(payload, &ru); err != nil || ru.Token == "" {
		log.Printf("Session | Malformed update_remaining payload: %v", err)
		return
	}
	s.book.UpdateRemaining(ru.Token, ru.QtyAtomic)
	s.rows.UpdateQuantity(ru.Token, ru.QtyAtomic)
}

// handleEpochOrder inserts an order tagged with the open epoch. Cancel
// notices (zero quantity) are not displayed and market orders (zero rate)
// are not booked.
func (s *Session) handleEpochOrder(payload json.RawMessage) {
	mo, ok := decodeOrder(payload)
	if !ok {
		return
	}
	if mo.MsgRate > 0 {
		s.book.Add(toOrder(mo))
	}
	if mo.QtyAtomic > 0 {
		s.rows.Insert(toOrder(mo))
	}
}

// handleEpoch advances the open epoch. Expired epoch members are purged from
// the display rows first, then orders the tracker reclassified as booked are
// re-inserted so they merge into booked rows at their rate.
func (s *Session) handleEpoch(payload json.RawMessage) {
	var note msgs.EpochNote
	if err := json.Unmarshal(payload, &note); err != nil {
		log.Printf("Session | Malformed epoch payload: %v", err)
		return
	}
	report := s.epochs.Advance(note.Epoch, s.book)
	if report == nil {
		return // replayed or out-of-order epoch notification
	}
	s.rows.PurgeExpiredEpochOrders(note.Epoch)
	for _, o := range report.Booked {
		s.rows.Insert(o)
	}
}

func (s *Session) handleCandles(payload json.RawMessage) {
	var cp msgs.CandlesPayload
	if err := json.Unmarshal(payload, &cp); err != nil || cp.Dur == "" {
		log.Printf("Session | Malformed candles payload: %v", err)
		return
	}
	// A snapshot arriving after its watchdog fired is still accepted.
	delete(s.watchdogs, cp.Dur)
	delete(s.candleErrs, cp.Dur)
	s.candles.SetSnapshot(cp.Dur, cp.Candles)
}

func (s *Session) handleCandleUpdate(payload json.RawMessage) {
	var cu msgs.CandleUpdate
	if err := json.Unmarshal(payload, &cu); err != nil || cu.Dur == "" {
		log.Printf("Session | Malformed candle_update payload: %v", err)
		return
	}
	var closed *msgs.Candle
	if series := s.candles.Series(cu.Dur); series != nil {
		if last, ok := series.Last(); ok && last.StartStamp != cu.Candle.StartStamp {
			// The previous bucket just closed.
			closed = &last
		}
	}
	if !s.candles.MergeUpdate(cu.Dur, cu.Candle) {
		return
	}
	if closed != nil && s.cfg.Archiver != nil {
		if err := s.cfg.Archiver.SaveCandle(context.Background(), s.cfg.MarketID, cu.Dur, *closed); err != nil {
			log.Printf("Session | Candle archive failed: %v", err)
		}
	}
}

func (s *Session) handleMatchSummary(payload json.RawMessage) {
	var mp msgs.MatchSummaryPayload
	if err := json.Unmarshal(payload, &mp); err != nil {
		log.Printf("Session | Malformed epoch_match_summary payload: %v", err)
		return
	}
	s.tradeLog.Prepend(mp.MatchSummaries)
	if s.cfg.Archiver != nil && len(mp.MatchSummaries) > 0 {
		if err := s.cfg.Archiver.SaveMatches(context.Background(), s.cfg.MarketID, mp.MatchSummaries); err != nil {
			log.Printf("Session | Match archive failed: %v", err)
		}
	}
}

// triggerEstimate re-resolves the max order estimate for the side the user
// is composing against the latest known funding balance.
func (s *Session) triggerEstimate() {
	if s.cfg.Estimates == nil {
		return
	}
	if s.formSell {
		s.estimator.PreSell(s.balances[s.cfg.Base])
		return
	}
	if s.formRate == 0 {
		return
	}
	s.estimator.PreBuy(s.formRate, s.balances[s.cfg.Quote])
}

func decodeOrder(payload json.RawMessage) (msgs.MiniOrder, bool) {
	var mo msgs.MiniOrder
	if err := json.Unmarshal(payload, &mo); err != nil {
		log.Printf("Session | Malformed order payload: %v", err)
		return mo, false
	}
	if err := mo.Validate(); err != nil {
		log.Printf("Session | Dropping order: %v", err)
		return mo, false
	}
	return mo, true
}

func toOrder(mo msgs.MiniOrder) book.Order {
	return book.Order{
		Token:     mo.Token,
		Sell:      mo.Sell,
		MsgRate:   mo.MsgRate,
		QtyAtomic: mo.QtyAtomic,
		Epoch:     mo.Epoch,
		Immediate: mo.Immediate,
	}
}
