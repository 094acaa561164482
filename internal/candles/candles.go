// Package candles
package candles

import (
	"log"

	"github.com/amirphl/dexbook/internal/msgs"
)

// Candle aliases the wire candle. Stamps are milliseconds; rates and volumes
// are atomic units.
type Candle = msgs.Candle

// Series is an ordered-by-time OHLC sequence for one bin duration. The last
// candle may still be an open bucket and is mutated in place by updates.
type Series struct {
	Dur     string
	Candles []Candle
}

// Last returns the most recent candle.
func (s *Series) Last() (Candle, bool) {
	if len(s.Candles) == 0 {
		return Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

// Cache holds one Series per bin duration for a single market. It is created
// fresh on each market subscription.
type Cache struct {
	series map[string]*Series
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{series: make(map[string]*Series)}
}

// SetSnapshot replaces the cached series for a duration.
func (c *Cache) SetSnapshot(dur string, candles []Candle) {
	c.series[dur] = &Series{Dur: dur, Candles: candles}
}

// Series returns the cached series for a duration, or nil if no snapshot has
// been loaded for it.
func (c *Cache) Series(dur string) *Series {
	return c.series[dur]
}

// MergeUpdate folds an incremental candle into the series for dur. An update
// for a duration with no cached series is a late or orphaned delivery and is
// ignored. If the incoming candle's bucket start matches the last cached
// candle's, that bucket is still open and is replaced in place; otherwise
// the candle is appended as a new bucket. Replaying the same update is
// therefore a no-op.
func (c *Cache) MergeUpdate(dur string, candle Candle) bool {
	s := c.series[dur]
	if s == nil {
		// Must not have seen the snapshot for this duration yet.
		log.Printf("CandleCache | Ignoring update for unloaded duration %s", dur)
		return false
	}
	if candle.EndStamp < candle.StartStamp {
		log.Printf("CandleCache | Dropping candle with end before start (dur %s, start %d)", dur, candle.StartStamp)
		return false
	}
	if len(s.Candles) == 0 {
		s.Candles = append(s.Candles, candle)
		return true
	}
	if s.Candles[len(s.Candles)-1].StartStamp == candle.StartStamp {
		s.Candles[len(s.Candles)-1] = candle
	} else {
		s.Candles = append(s.Candles, candle)
	}
	return true
}

// HighLowOverWindow scans the series for dur backward from the most recent
// candle, accumulating the low and high rates of every candle whose bucket
// ends within the last windowMillis milliseconds of nowMillis. Both returns
// are zero when no data is in range; callers must treat zero as unknown, not
// as a price.
func (c *Cache) HighLowOverWindow(dur string, windowMillis, nowMillis uint64) (high, low uint64) {
	s := c.series[dur]
	if s == nil {
		return 0, 0
	}
	cutoff := uint64(0)
	if nowMillis > windowMillis {
		cutoff = nowMillis - windowMillis
	}
	for i := len(s.Candles) - 1; i >= 0; i-- {
		candle := s.Candles[i]
		if candle.EndStamp < cutoff {
			break
		}
		if low == 0 || (candle.LowRate > 0 && candle.LowRate < low) {
			low = candle.LowRate
		}
		if candle.HighRate > high {
			high = candle.HighRate
		}
	}
	return high, low
}
