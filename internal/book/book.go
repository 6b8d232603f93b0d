// Package book implements the per-security, price-time-priority limit
// order book: matching, resting, cancellation, and depth snapshots
// (spec.md §4.1). A Book never touches cash or positions; that is the
// Portfolio Engine's job once the Matching Engine has turned a match into
// a Trade event.
package book

import (
	"time"

	"classroom-exchange/internal/common"

	"github.com/tidwall/btree"
)

// PriceLevel holds every resting order at one price, in submission-sequence
// (FIFO) order.
type PriceLevel struct {
	Price  common.Money
	Orders []*common.Order
}

// PriceLevels is a price-sorted ladder of PriceLevel entries.
type PriceLevels = btree.BTreeG[*PriceLevel]

// Book is the order book for one security within one session. It is owned
// by exactly one goroutine (the session's matching worker, §5) and is not
// safe for concurrent use — callers outside the owning goroutine must go
// through Snapshot, never hold a reference into bids/asks directly.
type Book struct {
	Security common.Security

	bids *PriceLevels // descending: Min() is the best bid
	asks *PriceLevels // ascending: Min() is the best ask
	stops *stopBook

	ordersByID map[string]*common.Order

	lastPrice    common.Money
	hasLastPrice bool
	volume       common.Money

	// PreventSelfCross, when set by the owning session, skips matching an
	// aggressor against a resting order from the same user rather than
	// crossing them (spec.md §9's optional future extension).
	PreventSelfCross bool

	pendingActivations []*common.Order
}

// New creates an empty book for sec.
func New(sec common.Security) *Book {
	return &Book{
		Security: sec,
		bids: btree.NewBTreeG(func(a, b *PriceLevel) bool {
			return a.Price.GreaterThan(b.Price)
		}),
		asks: btree.NewBTreeG(func(a, b *PriceLevel) bool {
			return a.Price.LessThan(b.Price)
		}),
		stops:      newStopBook(),
		ordersByID: make(map[string]*common.Order),
		lastPrice:  common.Zero,
		volume:     common.Zero,
	}
}

// LastPrice returns the last traded price, or ok=false if nothing has
// traded yet (callers should fall back to mid-quote per the mark-price
// definition in the glossary).
func (b *Book) LastPrice() (common.Money, bool) {
	return b.lastPrice, b.hasLastPrice
}

// Volume is the running traded-quantity counter for this security.
func (b *Book) Volume() common.Money { return b.volume }

// DrainActivations returns and clears any stop orders that crossed their
// trigger price during the most recent Submit call. Per spec.md §4.1,
// these are not matched within the same Submit; the caller (the Matching
// Engine) re-submits each one as its own Submit once the triggering
// Submit has returned.
func (b *Book) DrainActivations() []*common.Order {
	out := b.pendingActivations
	b.pendingActivations = nil
	return out
}

// validate applies the BAD_PRICE / BAD_QUANTITY checks from spec.md §4.1's
// failure-mode table.
func (b *Book) validate(order *common.Order) error {
	if !order.Quantity.IsPositive() || order.Quantity.LessThan(b.Security.MinQuantity) {
		return ErrBadQuantity
	}
	if order.Type == common.Market {
		return nil
	}
	if order.Type == common.Limit || order.Type == common.StopLimit {
		if !order.HasPrice || !order.Price.IsPositive() || !common.OnTick(order.Price, b.Security.TickSize) {
			return ErrBadPrice
		}
	}
	if order.Type == common.Stop || order.Type == common.StopLimit {
		if !order.HasStop || !order.StopPrice.IsPositive() {
			return ErrBadPrice
		}
	}
	return nil
}

// Submit attempts to match order against the resting book, resting any
// unfilled residual per its TIF, and returns the trades produced. The
// returned trades have Price/Quantity/BuyOrderID/SellOrderID/Aggressor and
// SecurityID populated; ID, Seq, Timestamp and SessionID are left for the
// Matching Engine to stamp, since those are session-level concerns.
func (b *Book) Submit(order *common.Order) ([]common.Trade, error) {
	if err := b.validate(order); err != nil {
		order.Status = common.Rejected
		order.Reject = reasonFor(err)
		return nil, err
	}

	switch order.Type {
	case common.Stop, common.StopLimit:
		order.Status = common.New
		b.stops.add(order)
		b.ordersByID[order.ID] = order
		return nil, nil
	case common.Market:
		trades, err := b.handleMarket(order)
		if err != nil {
			return trades, err
		}
		return trades, b.checkFillInvariant(order, trades)
	default:
		trades, err := b.handleLimit(order)
		if err != nil {
			return trades, err
		}
		return trades, b.checkFillInvariant(order, trades)
	}
}

// checkFillInvariant enforces I5: the sum of an aggressor order's trade
// quantities must equal the decrement in its own remaining_quantity. The
// match has already committed by the time this runs, so a violation
// can't be undone; it only flags the submission as ErrInvariantViolation
// so the caller can log and count it without pretending the fill never
// happened.
func (b *Book) checkFillInvariant(order *common.Order, trades []common.Trade) error {
	filled := common.Zero
	for _, t := range trades {
		filled = filled.Add(t.Quantity)
	}
	if !filled.Equal(order.Quantity.Sub(order.Remaining)) {
		order.Reject = reasonFor(ErrInvariantViolation)
		return ErrInvariantViolation
	}
	return nil
}

// Order looks up a resting order by id, for callers that need to check
// ownership (e.g. the Matching Engine validating a cancel request)
// before mutating the book.
func (b *Book) Order(orderID string) (*common.Order, bool) {
	o, ok := b.ordersByID[orderID]
	return o, ok
}

// Cancel removes a resting order (book-ladder or stop-structure) if
// present, reporting whether it removed one. Idempotent: a missing or
// already-terminal order id leaves the book unchanged and returns false.
func (b *Book) Cancel(orderID string) bool {
	order, ok := b.ordersByID[orderID]
	if !ok || order.Status.Terminal() {
		return false
	}

	if order.Type == common.Stop || order.Type == common.StopLimit {
		if b.stops.remove(order.Side, order.StopPrice, orderID) {
			order.Status = common.Cancelled
			delete(b.ordersByID, orderID)
			return true
		}
		return false
	}

	levels := b.ladderFor(order.Side)
	level, ok := levels.Get(&PriceLevel{Price: order.Price})
	if !ok {
		return false
	}
	for i, o := range level.Orders {
		if o.ID == orderID {
			level.Orders = append(level.Orders[:i], level.Orders[i+1:]...)
			if len(level.Orders) == 0 {
				levels.Delete(level)
			}
			order.Status = common.Cancelled
			delete(b.ordersByID, orderID)
			return true
		}
	}
	return false
}

// ExpireDay cancels every resting DAY order, returning the ones expired,
// for the Market Simulator to call at day-end (spec.md §4.4).
func (b *Book) ExpireDay() []*common.Order {
	var expired []*common.Order
	for _, side := range []common.Side{common.Buy, common.Sell} {
		levels := b.ladderFor(side)
		var toDelete []*PriceLevel
		levels.Scan(func(level *PriceLevel) bool {
			remaining := level.Orders[:0:0]
			for _, o := range level.Orders {
				if o.TIF == common.DAY {
					o.Status = common.Expired
					o.Reject = common.RejectNone
					delete(b.ordersByID, o.ID)
					expired = append(expired, o)
					continue
				}
				remaining = append(remaining, o)
			}
			level.Orders = remaining
			if len(level.Orders) == 0 {
				toDelete = append(toDelete, level)
			}
			return true
		})
		for _, level := range toDelete {
			levels.Delete(level)
		}
	}
	return expired
}

// CancelAllResting cancels every order still resting in either ladder
// (used at session end for DAY/GTC orders per spec.md §4.6).
func (b *Book) CancelAllResting() []*common.Order {
	var cancelled []*common.Order
	for _, side := range []common.Side{common.Buy, common.Sell} {
		levels := b.ladderFor(side)
		levels.Scan(func(level *PriceLevel) bool {
			for _, o := range level.Orders {
				o.Status = common.Cancelled
				delete(b.ordersByID, o.ID)
				cancelled = append(cancelled, o)
			}
			return true
		})
		for levels.Len() > 0 {
			item, _ := levels.Min()
			levels.Delete(item)
		}
	}
	return cancelled
}

func (b *Book) ladderFor(side common.Side) *PriceLevels {
	if side == common.Buy {
		return b.bids
	}
	return b.asks
}

func (b *Book) oppositeLadder(side common.Side) *PriceLevels {
	return b.ladderFor(side.Opposite())
}

func (b *Book) rest(order *common.Order) {
	order.Status = statusAfterFill(order)
	levels := b.ladderFor(order.Side)
	level, ok := levels.Get(&PriceLevel{Price: order.Price})
	if ok {
		level.Orders = append(level.Orders, order)
	} else {
		levels.Set(&PriceLevel{Price: order.Price, Orders: []*common.Order{order}})
	}
	b.ordersByID[order.ID] = order
}

func statusAfterFill(order *common.Order) common.OrderStatus {
	if order.Remaining.Equal(order.Quantity) {
		return common.New
	}
	return common.Partial
}

// Snapshot returns a read-only depth view up to depth levels per side.
func (b *Book) Snapshot(depth int) common.BookSnapshot {
	snap := common.BookSnapshot{
		SecurityID: b.Security.ID,
		LastPrice:  b.lastPrice,
	}

	n := 0
	b.bids.Scan(func(level *PriceLevel) bool {
		if n >= depth {
			return false
		}
		snap.Bids = append(snap.Bids, toBookLevel(level))
		n++
		return true
	})

	n = 0
	b.asks.Scan(func(level *PriceLevel) bool {
		if n >= depth {
			return false
		}
		snap.Asks = append(snap.Asks, toBookLevel(level))
		n++
		return true
	})

	if len(snap.Bids) > 0 && len(snap.Asks) > 0 {
		snap.Spread = snap.Asks[0].Price.Sub(snap.Bids[0].Price)
	}
	return snap
}

func toBookLevel(level *PriceLevel) common.BookLevel {
	total := common.Zero
	for _, o := range level.Orders {
		total = total.Add(o.Remaining)
	}
	return common.BookLevel{Price: level.Price, TotalQuantity: total, OrderCount: len(level.Orders)}
}

func newTrade(sec string, makerOrder, takerOrder *common.Order, qty common.Money, aggressor common.Side) common.Trade {
	t := common.Trade{
		SecurityID: sec,
		Price:      makerOrder.Price,
		Quantity:   qty,
		Aggressor:  aggressor,
		Timestamp:  time.Time{}, // stamped by the Matching Engine
	}
	if aggressor == common.Buy {
		t.BuyOrderID = takerOrder.ID
		t.BuyUserID = takerOrder.UserID
		t.SellOrderID = makerOrder.ID
		t.SellUserID = makerOrder.UserID
	} else {
		t.BuyOrderID = makerOrder.ID
		t.BuyUserID = makerOrder.UserID
		t.SellOrderID = takerOrder.ID
		t.SellUserID = takerOrder.UserID
	}
	return t
}
