package common

import (
	"fmt"
	"time"
)

// Trade is immutable once created. Price is always the resting (maker)
// order's price per spec.md §4.1's matching rule.
type Trade struct {
	ID         string
	SessionID  string
	SecurityID string

	BuyOrderID  string
	SellOrderID string
	BuyUserID   string
	SellUserID  string

	Price    Money
	Quantity Money

	Aggressor Side // which side initiated the match

	Timestamp time.Time
	Seq       uint64
}

func (t Trade) String() string {
	return fmt.Sprintf(
		"Trade{id=%s sec=%s buy=%s sell=%s price=%s qty=%s aggressor=%s seq=%d}",
		t.ID, t.SecurityID, t.BuyOrderID, t.SellOrderID, t.Price, t.Quantity, t.Aggressor, t.Seq,
	)
}
