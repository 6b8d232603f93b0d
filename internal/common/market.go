package common

import "time"

// MarketTick is one step of the simulator's price process for one security.
type MarketTick struct {
	SessionID  string
	SecurityID string
	Day        int
	TickInDay  int
	Price      Money
	Bid        Money
	Ask        Money
	Volume     Money
	Timestamp  time.Time
}

// NewsEvent is a one-shot drift shock broadcast for display and applied to
// the simulator's price model for the affected symbols.
type NewsEvent struct {
	SessionID  string
	Day        int
	Headline   string
	Symbols    []string
	ImpactSign int // +1 or -1
	Severity   float64
}
