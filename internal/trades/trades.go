// Package trades
package trades

import (
	"sort"

	"github.com/amirphl/dexbook/internal/msgs"
)

// Match aliases the wire match summary.
type Match = msgs.Match

// SortKey selects the column a sorted view is ordered by.
type SortKey string

const (
	SortByRate SortKey = "rate"
	SortByQty  SortKey = "qty"
	SortByAge  SortKey = "age"
)

// DefaultCap is the retained match count when no cap is configured.
const DefaultCap = 100

// Log is a bounded record of recently matched trades for one market.
// Storage order is newest-first insertion order; eviction is FIFO by
// insertion, not by age. Sorting is a presentation-only transform and never
// alters storage order.
type Log struct {
	matches []Match
	cap     int
}

// NewLog creates a Log retaining at most cap matches.
func NewLog(cap int) *Log {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Log{cap: cap}
}

// Prepend merges newly reported matches (newest first) in front of the
// existing log, then truncates to the cap.
func (l *Log) Prepend(matches []Match) {
	merged := make([]Match, 0, len(matches)+len(l.matches))
	merged = append(merged, matches...)
	merged = append(merged, l.matches...)
	if len(merged) > l.cap {
		merged = merged[:l.cap]
	}
	l.matches = merged
}

// Reload replaces the log from a book snapshot.
func (l *Log) Reload(matches []Match) {
	l.matches = nil
	l.Prepend(matches)
}

// Len returns the retained match count.
func (l *Log) Len() int { return len(l.matches) }

// Matches returns the log in storage order, newest first.
func (l *Log) Matches() []Match {
	out := make([]Match, len(l.matches))
	copy(out, l.matches)
	return out
}

// SortedView returns the full log ordered by the given key. A positive
// direction sorts ascending, negative descending. Unknown keys fall back to
// age.
func (l *Log) SortedView(key SortKey, direction int) []Match {
	out := l.Matches()
	if direction == 0 {
		direction = 1
	}
	var less func(a, b Match) bool
	switch key {
	case SortByRate:
		less = func(a, b Match) bool { return a.Rate < b.Rate }
	case SortByQty:
		less = func(a, b Match) bool { return a.Qty < b.Qty }
	default:
		less = func(a, b Match) bool { return a.Stamp < b.Stamp }
	}
	sort.SliceStable(out, func(i, j int) bool {
		if direction > 0 {
			return less(out[i], out[j])
		}
		return less(out[j], out[i])
	})
	return out
}
