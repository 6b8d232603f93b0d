package common

import (
	"fmt"
	"time"
)

// Order is mutated only by its Matching Engine once submitted. The book
// keeps the very *Order passed to SubmitOrder, so the submitter can read
// its Status/Remaining afterwards, and ExpireDay/EndSession return the
// book's own pointers; event payloads carry copies.
type Order struct {
	ID        string // order UUID
	SessionID string
	UserID    string
	SecurityID string

	Side       Side
	Type       OrderType
	Quantity   Money // original quantity requested
	Remaining  Money // remaining quantity, decremented on each fill
	Price      Money // limit price; zero/unused for MARKET
	HasPrice   bool
	StopPrice  Money // activation price for STOP/STOP_LIMIT
	HasStop    bool
	TIF        TIF
	Status     OrderStatus
	Reject     RejectReason

	SubmittedAt time.Time
	Seq         uint64 // assigned at engine ingress; strictly monotonic per session

	// Synthetic marks simulator-injected liquidity orders, which bypass
	// the market_open gate (though not the RUNNING gate) per spec.md §4.2.
	Synthetic bool
}

// Resting reports whether the order still occupies book space.
func (o *Order) Resting() bool {
	return !o.Status.Terminal() && o.Remaining.IsPositive()
}

func (o Order) String() string {
	return fmt.Sprintf(
		"Order{id=%s sec=%s side=%s type=%s qty=%s/%s price=%s tif=%s status=%s seq=%d owner=%s}",
		o.ID, o.SecurityID, o.Side, o.Type, o.Remaining.String(), o.Quantity.String(),
		o.Price.String(), o.TIF, o.Status, o.Seq, o.UserID,
	)
}
