package engine

import (
	"classroom-exchange/internal/book"
	"classroom-exchange/internal/common"
)

// depthUnbounded is passed to Book.Snapshot when estimating a MARKET
// order's cost against full displayed depth rather than a client-facing
// top-of-book window.
const depthUnbounded = 1 << 20

// checkRisk applies the pre-trade check from spec.md §4.2: a BUY must be
// covered by cash at its effective price, a SELL must be covered by the
// user's current position unless short-selling is enabled for the
// session. It never mutates the book; only order.Status/Reject are set
// on rejection.
func (e *Engine) checkRisk(b *book.Book, order *common.Order) error {
	if order.Side == common.Buy {
		cost, err := estimateBuyCost(b, order)
		if err != nil {
			order.Status = common.Rejected
			order.Reject = common.NoLiquidity
			return common.NewRejection(common.ClassPolicy, common.NoLiquidity, err)
		}
		cash, _ := e.portfolio.Cash(order.UserID)
		if cash.LessThan(cost) {
			order.Status = common.Rejected
			order.Reject = common.InsufficientFunds
			return common.NewRejection(common.ClassPolicy, common.InsufficientFunds, book.ErrInsufficientFunds)
		}
		return nil
	}

	if e.allowShort {
		return nil
	}
	pos, _ := e.portfolio.PositionQuantity(order.UserID, order.SecurityID)
	if pos.LessThan(order.Quantity) {
		order.Status = common.Rejected
		order.Reject = common.InsufficientPosition
		return common.NewRejection(common.ClassPolicy, common.InsufficientPosition, book.ErrInsufficientPosition)
	}
	return nil
}

// estimateBuyCost prices order at its displayed cost: the limit price for
// a LIMIT order, or a volume-weighted walk of the ask side for a MARKET
// order. Returns book.ErrNotEnoughLiquidity if the displayed asks can't
// cover the full quantity, so the caller can't be undercharged against a
// book that would reject for NO_LIQUIDITY anyway.
func estimateBuyCost(b *book.Book, order *common.Order) (common.Money, error) {
	if order.Type == common.Stop {
		// A plain STOP order carries a trigger (StopPrice) but no limit
		// Price until it activates and converts to MARKET; price the
		// pre-trade check off the trigger so it isn't a free pass.
		return order.StopPrice.Mul(order.Quantity), nil
	}
	if order.Type != common.Market {
		return order.Price.Mul(order.Quantity), nil
	}

	snap := b.Snapshot(depthUnbounded)
	need := order.Quantity
	cost := common.Zero
	for _, lvl := range snap.Asks {
		if !need.IsPositive() {
			break
		}
		qty := lvl.TotalQuantity
		if qty.GreaterThan(need) {
			qty = need
		}
		cost = cost.Add(lvl.Price.Mul(qty))
		need = need.Sub(qty)
	}
	if need.IsPositive() {
		return common.Zero, book.ErrNotEnoughLiquidity
	}
	return cost, nil
}
