package estimate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/dexbook/internal/msgs"
)

type fakeRequester struct {
	mu        sync.Mutex
	sellCalls int
	buyCalls  int
	buyRates  []uint64
	est       *msgs.MaxOrderEstimate
	err       error
}

func (f *fakeRequester) MaxSell(ctx context.Context, host string, base, quote uint32) (*msgs.MaxOrderEstimate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sellCalls++
	return f.est, f.err
}

func (f *fakeRequester) MaxBuy(ctx context.Context, host string, base, quote uint32, rate uint64) (*msgs.MaxOrderEstimate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buyCalls++
	f.buyRates = append(f.buyRates, rate)
	return f.est, f.err
}

func (f *fakeRequester) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sellCalls, f.buyCalls
}

func (f *fakeRequester) rates() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint64, len(f.buyRates))
	copy(out, f.buyRates)
	return out
}

type resultRecorder struct {
	mu      sync.Mutex
	results []Result
}

func (r *resultRecorder) record(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *resultRecorder) all() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, len(r.results))
	copy(out, r.results)
	return out
}

func newTestEstimator(req Requester, onResult func(Result)) *Estimator {
	return New(req, Config{
		Host:     "dex.example.com",
		Base:     42,
		Quote:    0,
		LotSize:  1e8,
		Debounce: 40 * time.Millisecond,
		OnResult: onResult,
	})
}

func TestEstimator_PreSell(t *testing.T) {
	t.Run("Balance below one lot delivers nil without a round-trip", func(t *testing.T) {
		req := &fakeRequester{est: &msgs.MaxOrderEstimate{Swap: msgs.SwapEstimate{Lots: 5}}}
		rec := &resultRecorder{}
		e := newTestEstimator(req, rec.record)
		defer e.Close()

		e.PreSell(1e8 - 1)

		results := rec.all()
		require.Len(t, results, 1)
		assert.True(t, results[0].Sell)
		assert.Nil(t, results[0].Estimate)
		assert.NoError(t, results[0].Err)
		sells, _ := req.counts()
		assert.Zero(t, sells)
	})

	t.Run("Fetches once per balance, then serves from cache", func(t *testing.T) {
		req := &fakeRequester{est: &msgs.MaxOrderEstimate{Swap: msgs.SwapEstimate{Lots: 5}}}
		rec := &resultRecorder{}
		e := newTestEstimator(req, rec.record)
		defer e.Close()

		e.PreSell(10e8)
		time.Sleep(30 * time.Millisecond)
		e.PreSell(10e8)
		time.Sleep(30 * time.Millisecond)

		sells, _ := req.counts()
		assert.Equal(t, 1, sells)
		results := rec.all()
		require.Len(t, results, 2)
		require.NotNil(t, results[1].Estimate)
		assert.Equal(t, uint64(5), results[1].Estimate.Swap.Lots)
		assert.Equal(t, StatusReady, e.Status(true))
	})
}

func TestEstimator_PreBuy(t *testing.T) {
	t.Run("First request fires with no delay", func(t *testing.T) {
		req := &fakeRequester{est: &msgs.MaxOrderEstimate{Swap: msgs.SwapEstimate{Lots: 3}}}
		rec := &resultRecorder{}
		e := newTestEstimator(req, rec.record)
		defer e.Close()

		e.PreBuy(200e8, 1000e8)
		time.Sleep(20 * time.Millisecond)

		_, buys := req.counts()
		assert.Equal(t, 1, buys)
	})

	t.Run("Rapid rate edits coalesce to the last request", func(t *testing.T) {
		req := &fakeRequester{est: &msgs.MaxOrderEstimate{Swap: msgs.SwapEstimate{Lots: 3}}}
		rec := &resultRecorder{}
		e := newTestEstimator(req, rec.record)
		defer e.Close()

		// Seed the cache so subsequent edits take the debounce path.
		e.PreBuy(100e8, 1000e8)
		time.Sleep(30 * time.Millisecond)

		e.PreBuy(200e8, 1000e8)
		e.PreBuy(300e8, 1000e8)
		e.PreBuy(400e8, 1000e8)
		time.Sleep(120 * time.Millisecond)

		_, buys := req.counts()
		assert.Equal(t, 2, buys)
		rates := req.rates()
		require.Len(t, rates, 2)
		assert.Equal(t, uint64(400e8), rates[1])
	})

	t.Run("Insufficient quote balance delivers nil", func(t *testing.T) {
		req := &fakeRequester{est: &msgs.MaxOrderEstimate{Swap: msgs.SwapEstimate{Lots: 3}}}
		rec := &resultRecorder{}
		e := newTestEstimator(req, rec.record)
		defer e.Close()

		// One lot at rate 2e8 costs 2e8 quote units.
		e.PreBuy(2e8, 1e8)

		results := rec.all()
		require.Len(t, results, 1)
		assert.Nil(t, results[0].Estimate)
		assert.NoError(t, results[0].Err)
		_, buys := req.counts()
		assert.Zero(t, buys)
	})

	t.Run("Failure is reported, not conflated with zero lots", func(t *testing.T) {
		req := &fakeRequester{err: errors.New("order size exceeds available liquidity")}
		rec := &resultRecorder{}
		e := newTestEstimator(req, rec.record)
		defer e.Close()

		e.PreBuy(200e8, 1000e8)
		time.Sleep(30 * time.Millisecond)

		results := rec.all()
		require.Len(t, results, 1)
		assert.ErrorIs(t, results[0].Err, ErrUnavailable)
		assert.Nil(t, results[0].Estimate)
		assert.Equal(t, StatusFailed, e.Status(false))
	})
}

func TestEstimator_HandleBalanceChange(t *testing.T) {
	t.Run("Changed base balance invalidates the sell cache", func(t *testing.T) {
		req := &fakeRequester{est: &msgs.MaxOrderEstimate{Swap: msgs.SwapEstimate{Lots: 5}}}
		rec := &resultRecorder{}
		e := newTestEstimator(req, rec.record)
		defer e.Close()

		e.PreSell(10e8)
		time.Sleep(30 * time.Millisecond)
		e.HandleBalanceChange(42, 20e8)
		e.PreSell(20e8)
		time.Sleep(30 * time.Millisecond)

		sells, _ := req.counts()
		assert.Equal(t, 2, sells)
	})

	t.Run("Unchanged balance keeps the cache", func(t *testing.T) {
		req := &fakeRequester{est: &msgs.MaxOrderEstimate{Swap: msgs.SwapEstimate{Lots: 5}}}
		rec := &resultRecorder{}
		e := newTestEstimator(req, rec.record)
		defer e.Close()

		e.PreSell(10e8)
		time.Sleep(30 * time.Millisecond)
		e.HandleBalanceChange(42, 10e8)
		e.PreSell(10e8)
		time.Sleep(30 * time.Millisecond)

		sells, _ := req.counts()
		assert.Equal(t, 1, sells)
	})

	t.Run("Changed quote balance clears all buy rates", func(t *testing.T) {
		req := &fakeRequester{est: &msgs.MaxOrderEstimate{Swap: msgs.SwapEstimate{Lots: 3}}}
		rec := &resultRecorder{}
		e := newTestEstimator(req, rec.record)
		defer e.Close()

		e.PreBuy(100e8, 1000e8)
		time.Sleep(30 * time.Millisecond)
		e.HandleBalanceChange(0, 500e8)
		e.PreBuy(100e8, 500e8)
		time.Sleep(30 * time.Millisecond)

		_, buys := req.counts()
		assert.Equal(t, 2, buys)
	})
}

func TestEstimator_Close(t *testing.T) {
	req := &fakeRequester{est: &msgs.MaxOrderEstimate{Swap: msgs.SwapEstimate{Lots: 3}}}
	rec := &resultRecorder{}
	e := newTestEstimator(req, rec.record)

	// Seed so the next request is debounced, then close before it fires.
	e.PreBuy(100e8, 1000e8)
	time.Sleep(30 * time.Millisecond)
	e.PreBuy(200e8, 1000e8)
	e.Close()
	time.Sleep(120 * time.Millisecond)

	_, buys := req.counts()
	assert.Equal(t, 1, buys)
}
