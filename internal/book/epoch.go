package book

// EpochPolicy selects what happens to an immediate-time-in-force order whose
// epoch has passed. The client cannot tell locally whether such an order
// executed or expired, so the choice is a policy, not a deduction.
type EpochPolicy int

const (
	// EpochPolicyPurge treats an expired immediate order as terminal and
	// removes it. If the order in fact booked, an authoritative book_order
	// notification re-adds it.
	EpochPolicyPurge EpochPolicy = iota
	// EpochPolicyBook optimistically reclassifies an expired immediate order
	// as booked, pending an authoritative follow-up.
	EpochPolicyBook
)

// EpochReport describes the reclassification performed by a single epoch
// advance.
type EpochReport struct {
	Epoch  uint64
	Booked []Order  // epoch cleared, now booked
	Purged []string // tokens removed from the book
}

// EpochTracker tracks the currently open epoch for one market and
// reclassifies orders between the epoch queue and the book as epochs
// advance.
type EpochTracker struct {
	current uint64
	policy  EpochPolicy
}

// NewEpochTracker creates a tracker with the given immediate-TiF policy.
func NewEpochTracker(policy EpochPolicy) *EpochTracker {
	return &EpochTracker{policy: policy}
}

// Current returns the currently open epoch number.
func (t *EpochTracker) Current() uint64 { return t.current }

// Advance moves the open epoch to n and reclassifies every order in b still
// tagged with an older epoch: standing orders become booked, immediate
// orders are resolved per the tracker's policy. Advancing to the current or
// an older epoch is a no-op, so replayed notifications are harmless.
func (t *EpochTracker) Advance(n uint64, b *Book) *EpochReport {
	if n <= t.current {
		return nil
	}
	t.current = n
	report := &EpochReport{Epoch: n}
	for _, sell := range []bool{false, true} {
		for _, o := range *b.side(sell) {
			if o.Epoch == 0 || o.Epoch >= n {
				continue
			}
			if o.Immediate && t.policy == EpochPolicyPurge {
				report.Purged = append(report.Purged, o.Token)
				continue
			}
			o.Epoch = 0
			report.Booked = append(report.Booked, *o)
		}
	}
	for _, token := range report.Purged {
		b.Remove(token)
	}
	return report
}
