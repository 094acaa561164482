// Package estimate
package estimate

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/amirphl/dexbook/internal/msgs"
)

// ErrUnavailable reports that no estimate could be produced. It is distinct
// from a successful estimate of zero lots.
var ErrUnavailable = errors.New("max order estimate unavailable")

// DefaultDebounce is the coalescing delay applied to rapid successive buy
// requests. The first request after a balance change or market switch fires
// with no delay.
const DefaultDebounce = 350 * time.Millisecond

// Status is the observable request state for one side.
type Status int

const (
	StatusIdle Status = iota
	StatusRequesting
	StatusReady
	StatusFailed
)

// Requester performs the server round-trips. Calls are made off the event
// loop; results are delivered through the estimator's callback.
type Requester interface {
	MaxSell(ctx context.Context, host string, base, quote uint32) (*msgs.MaxOrderEstimate, error)
	MaxBuy(ctx context.Context, host string, base, quote uint32, rate uint64) (*msgs.MaxOrderEstimate, error)
}

// Result is delivered for every estimate that resolves, including cache hits
// and failures. Estimate is nil when Err is set or when the funding balance
// cannot cover a single lot.
type Result struct {
	Sell     bool
	Rate     uint64 // buy requests only
	Estimate *msgs.MaxOrderEstimate
	Err      error
}

// Config identifies the market an Estimator serves.
type Config struct {
	Host     string
	Base     uint32
	Quote    uint32
	LotSize  uint64
	Debounce time.Duration
	OnResult func(Result)
}

type cached struct {
	est     *msgs.MaxOrderEstimate
	balance uint64 // funding-asset balance at estimate time
}

// Estimator schedules, coalesces and caches server-computed maximum order
// size estimates for one market. Sell estimates occupy a single cache slot;
// buy estimates are cached per rate. A request is scheduled rather than
// fired: each schedule bumps a monotonic counter, and the timer compares its
// captured counter at fire time (and again after the round-trip), so of any
// burst of schedules only the most recent produces a delivered result.
type Estimator struct {
	mu  sync.Mutex
	cfg Config
	req Requester

	counter    uint64
	timer      *time.Timer
	closed     bool
	sellStatus Status
	buyStatus  Status

	maxSell          *cached
	maxSellRequested bool
	maxBuys          map[uint64]*cached
	buyBalance       uint64
	haveBuyBalance   bool
}

// New creates an Estimator for one market subscription.
func New(req Requester, cfg Config) *Estimator {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Estimator{
		cfg:     cfg,
		req:     req,
		maxBuys: make(map[uint64]*cached),
	}
}

// PreSell resolves the maximum sell estimate for the current base-asset
// balance. A cached estimate is delivered immediately. Sell estimates are
// fetched at most once per balance update, with no delay.
func (e *Estimator) PreSell(availBase uint64) {
	e.mu.Lock()
	if availBase < e.cfg.LotSize {
		e.mu.Unlock()
		e.deliver(Result{Sell: true})
		return
	}
	if e.maxSell != nil {
		est := e.maxSell.est
		e.mu.Unlock()
		e.deliver(Result{Sell: true, Estimate: est})
		return
	}
	if e.maxSellRequested {
		e.mu.Unlock()
		return
	}
	e.maxSellRequested = true
	e.sellStatus = StatusRequesting
	e.schedule(0, func(ctx context.Context) (*msgs.MaxOrderEstimate, error) {
		return e.req.MaxSell(ctx, e.cfg.Host, e.cfg.Base, e.cfg.Quote)
	}, func(est *msgs.MaxOrderEstimate, err error) {
		e.maxSellRequested = false
		if err != nil {
			e.sellStatus = StatusFailed
			return
		}
		e.sellStatus = StatusReady
		e.maxSell = &cached{est: est, balance: availBase}
	}, Result{Sell: true})
	e.mu.Unlock()
}

// PreBuy resolves the maximum buy estimate at the given rate for the current
// quote-asset balance. A cached estimate for the rate is delivered
// immediately. The first fetch after a balance update or market switch fires
// with no delay; subsequent rate edits are debounced.
func (e *Estimator) PreBuy(rate, availQuote uint64) {
	e.mu.Lock()
	aLot := e.cfg.LotSize * rate / msgs.RateEncodingFactor
	if availQuote < aLot {
		e.mu.Unlock()
		e.deliver(Result{Rate: rate})
		return
	}
	if c, ok := e.maxBuys[rate]; ok {
		est := c.est
		e.mu.Unlock()
		e.deliver(Result{Rate: rate, Estimate: est})
		return
	}
	var delay time.Duration
	if len(e.maxBuys) > 0 {
		delay = e.cfg.Debounce
	}
	e.buyStatus = StatusRequesting
	e.schedule(delay, func(ctx context.Context) (*msgs.MaxOrderEstimate, error) {
		return e.req.MaxBuy(ctx, e.cfg.Host, e.cfg.Base, e.cfg.Quote, rate)
	}, func(est *msgs.MaxOrderEstimate, err error) {
		if err != nil {
			e.buyStatus = StatusFailed
			return
		}
		e.buyStatus = StatusReady
		e.maxBuys[rate] = &cached{est: est, balance: availQuote}
		e.buyBalance = availQuote
		e.haveBuyBalance = true
	}, Result{Rate: rate})
	e.mu.Unlock()
}

// schedule arms the debounce timer. Must be called with the mutex held. Only
// the newest scheduled call survives: a later schedule bumps the counter and
// stops the pending timer, and a fired timer whose captured counter no
// longer matches discards its work.
func (e *Estimator) schedule(delay time.Duration, fetch func(context.Context) (*msgs.MaxOrderEstimate, error), record func(*msgs.MaxOrderEstimate, error), res Result) {
	if e.closed {
		return
	}
	e.counter++
	counter := e.counter
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(delay, func() {
		e.mu.Lock()
		if counter != e.counter || e.closed {
			e.mu.Unlock()
			return
		}
		e.timer = nil
		e.mu.Unlock()

		est, err := fetch(context.Background())
		if err == nil && est == nil {
			err = ErrUnavailable
		}

		e.mu.Lock()
		if counter != e.counter || e.closed {
			// A newer request superseded this one while it was in flight.
			e.mu.Unlock()
			return
		}
		record(est, err)
		e.mu.Unlock()

		if err != nil {
			log.Printf("MaxOrderEstimator | Estimate not available: %v", err)
			res.Err = ErrUnavailable
		} else {
			res.Estimate = est
		}
		e.deliver(res)
	})
}

// HandleBalanceChange invalidates cached estimates funded by the asset whose
// available balance changed. A balance equal to the one recorded at estimate
// time leaves the cache intact.
func (e *Estimator) HandleBalanceChange(assetID uint32, avail uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch assetID {
	case e.cfg.Base:
		if e.maxSell != nil && e.maxSell.balance != avail {
			e.maxSell = nil
			e.sellStatus = StatusIdle
		}
	case e.cfg.Quote:
		if len(e.maxBuys) > 0 && e.haveBuyBalance && e.buyBalance != avail {
			e.maxBuys = make(map[uint64]*cached)
			e.haveBuyBalance = false
			e.buyStatus = StatusIdle
		}
	}
}

// Status reports the request state for one side.
func (e *Estimator) Status(sell bool) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sell {
		return e.sellStatus
	}
	return e.buyStatus
}

// Close cancels any pending request. Timers that fire after Close no-op.
func (e *Estimator) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.counter++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Estimator) deliver(res Result) {
	if e.cfg.OnResult != nil {
		e.cfg.OnResult(res)
	}
}
