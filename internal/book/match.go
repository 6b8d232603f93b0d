package book

import "classroom-exchange/internal/common"

// handleMarket sweeps the opposite side as far as liquidity allows. MARKET
// orders never rest (spec.md §4.1); if the opposite side has no resting
// orders at all, the order is rejected with NO_LIQUIDITY rather than
// partially parked.
func (b *Book) handleMarket(order *common.Order) ([]common.Trade, error) {
	opposite := b.oppositeLadder(order.Side)
	if opposite.Len() == 0 {
		order.Status = common.Rejected
		order.Reject = common.NoLiquidity
		return nil, ErrNotEnoughLiquidity
	}

	trades := b.sweep(order)
	b.afterFill(order)
	return trades, nil
}

// handleLimit dispatches on TIF. FOK is evaluated by a staged feasibility
// check so the book is never mutated unless the order can be filled
// completely (spec.md §4.1: "staged-match approach ... required").
func (b *Book) handleLimit(order *common.Order) ([]common.Trade, error) {
	if order.TIF == common.FOK {
		if b.feasibleQuantity(order).LessThan(order.Quantity) {
			order.Status = common.Rejected
			order.Reject = common.FOKInfeasible
			return nil, ErrFOKInfeasible
		}
		trades := b.sweep(order)
		b.afterFill(order)
		return trades, nil
	}

	trades := b.sweep(order)

	if order.Remaining.IsPositive() {
		switch order.TIF {
		case common.DAY, common.GTC:
			b.rest(order)
			return trades, nil
		case common.IOC:
			// Residual is cancelled regardless of whether anything filled;
			// the fills already recorded in trades are unaffected.
			order.Status = common.Cancelled
			return trades, nil
		}
	}

	order.Status = common.Filled
	return trades, nil
}

// feasibleQuantity performs a read-only walk of the opposite ladder,
// computing how much of order could be filled without mutating any state.
func (b *Book) feasibleQuantity(order *common.Order) common.Money {
	opposite := b.oppositeLadder(order.Side)
	available := common.Zero
	need := order.Quantity

	opposite.Scan(func(level *PriceLevel) bool {
		if !crosses(order, level.Price) {
			return false
		}
		for _, resting := range level.Orders {
			if b.PreventSelfCross && resting.UserID == order.UserID {
				continue
			}
			available = available.Add(resting.Remaining)
			if available.GreaterThanOrEqual(need) {
				return false
			}
		}
		return true
	})
	return available
}

// crosses reports whether an aggressor order crosses a resting price level.
// MARKET orders cross any level; LIMIT orders cross only while their limit
// price is at least as aggressive as the level price.
func crosses(order *common.Order, levelPrice common.Money) bool {
	if order.Type == common.Market {
		return true
	}
	if order.Side == common.Buy {
		return order.Price.GreaterThanOrEqual(levelPrice)
	}
	return order.Price.LessThanOrEqual(levelPrice)
}

// sweep consumes crossing resting orders FIFO within each price level,
// mutating the book and returning the trades produced. This is the
// mutating half shared by handleMarket and the non-FOK/FOK-confirmed
// paths of handleLimit: walk the best level, consume FIFO, delete
// exhausted levels, advance.
func (b *Book) sweep(order *common.Order) []common.Trade {
	var trades []common.Trade
	opposite := b.oppositeLadder(order.Side)

	for order.Remaining.IsPositive() {
		level, ok := opposite.Min()
		if !ok || !crosses(order, level.Price) {
			break
		}

		remaining := level.Orders[:0:0]
		progressed := false
		for _, resting := range level.Orders {
			if order.Remaining.IsZero() {
				remaining = append(remaining, resting)
				continue
			}
			if b.PreventSelfCross && resting.UserID == order.UserID {
				remaining = append(remaining, resting)
				continue
			}

			qty := order.Remaining
			if resting.Remaining.LessThan(qty) {
				qty = resting.Remaining
			}

			trade := newTrade(b.Security.ID, resting, order, qty, order.Side)
			trades = append(trades, trade)
			progressed = true

			order.Remaining = order.Remaining.Sub(qty)
			resting.Remaining = resting.Remaining.Sub(qty)

			b.lastPrice = trade.Price
			b.hasLastPrice = true
			b.volume = b.volume.Add(qty)

			if resting.Remaining.IsZero() {
				resting.Status = common.Filled
				delete(b.ordersByID, resting.ID)
			} else {
				resting.Status = common.Partial
				remaining = append(remaining, resting)
			}

			b.pendingActivations = append(b.pendingActivations, b.stops.activate(b.lastPrice)...)
		}

		level.Orders = remaining
		if len(level.Orders) == 0 {
			opposite.Delete(level)
		}
		if !progressed {
			// Every resting order at this level was skipped for
			// self-cross prevention; there is nothing left to do here.
			break
		}
	}

	return trades
}

func (b *Book) afterFill(order *common.Order) {
	if order.Remaining.IsZero() {
		order.Status = common.Filled
	} else if order.Remaining.LessThan(order.Quantity) {
		order.Status = common.Partial
	}
}
