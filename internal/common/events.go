package common

import "time"

// EventKind discriminates the payload carried by an Event envelope (spec.md §6.2).
type EventKind int

const (
	KindTrade EventKind = iota
	KindBookUpdate
	KindOrderUpdate
	KindPositionUpdate
	KindPortfolioSummary
	KindPnLUpdate
	KindMarketTick
	KindNews
	KindLifecycle
	KindLag
	KindDayStart
	KindDayEnd
	KindSimulationEnded
)

func (k EventKind) String() string {
	switch k {
	case KindTrade:
		return "Trade"
	case KindBookUpdate:
		return "BookUpdate"
	case KindOrderUpdate:
		return "OrderUpdate"
	case KindPositionUpdate:
		return "PositionUpdate"
	case KindPortfolioSummary:
		return "PortfolioSummary"
	case KindPnLUpdate:
		return "PnLUpdate"
	case KindMarketTick:
		return "MarketTick"
	case KindNews:
		return "News"
	case KindLifecycle:
		return "Lifecycle"
	case KindLag:
		return "Lag"
	case KindDayStart:
		return "DayStart"
	case KindDayEnd:
		return "DayEnd"
	case KindSimulationEnded:
		return "SimulationEnded"
	default:
		return "Unknown"
	}
}

// Event is the envelope every bus message carries (spec.md §6.2). Payload
// holds one of the Kind-specific structs below.
type Event struct {
	SessionID string
	Seq       uint64
	Timestamp time.Time
	Kind      EventKind
	Payload   any
}

// BookLevel is a derived, read-only view of one price level.
type BookLevel struct {
	Price         Money
	TotalQuantity Money
	OrderCount    int
}

// BookSnapshot is the depth view returned by get_book / book.Snapshot.
type BookSnapshot struct {
	SecurityID string
	Bids       []BookLevel
	Asks       []BookLevel
	LastPrice  Money
	Spread     Money
}

// OrderUpdatePayload carries enough to reconstruct order state without a
// re-query, per spec.md §7 "user-visible behavior".
type OrderUpdatePayload struct {
	Order  Order
	Fills  []Trade
}

// PositionUpdatePayload mirrors a single Position after a trade or tick.
type PositionUpdatePayload struct {
	Position Position
}

// PortfolioSummaryPayload mirrors the whole portfolio after a trade.
type PortfolioSummaryPayload struct {
	Portfolio Portfolio
}

// PnLUpdatePayload is emitted per-position on every MarketTick mark.
type PnLUpdatePayload struct {
	SecurityID    string
	UserID        string
	UnrealizedPnL Money
	MarkPrice     Money
}

// LifecyclePayload reports a session state transition.
type LifecyclePayload struct {
	From SessionState
	To   SessionState
}

// LagPayload tells a subscriber how many messages were dropped from the
// tail of its buffer so it knows to resync from a snapshot.
type LagPayload struct {
	Topic   string
	Dropped int
}

// DayBoundaryPayload marks the start or end of a simulated trading day.
type DayBoundaryPayload struct {
	Day int
}

// SimulationEndedPayload marks the end of the last simulated day.
type SimulationEndedPayload struct {
	TotalDays int
}
