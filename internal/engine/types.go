package engine

import (
	"time"

	"classroom-exchange/internal/common"
)

// PortfolioReader is the engine's read-only view into the session's
// portfolios, used only for pre-trade risk checks (spec.md §4.2). All
// mutation happens in the portfolio task once a trade is emitted; the
// engine never writes cash or positions itself.
type PortfolioReader interface {
	Cash(userID string) (common.Money, bool)
	PositionQuantity(userID, securityID string) (common.Money, bool)
}

type kind int

const (
	kindSubmitOrder kind = iota
	kindCancelOrder
	kindGetBook
	kindLastPrice
	kindOpenMarket
	kindCloseMarket
	kindExpireDay
	kindEndSession
)

// submission is the single message type carried on the engine's queue;
// every public method on Engine builds one of these and waits on reply,
// which is how the single-writer invariant (spec.md §5) is enforced
// without a mutex around the books.
type submission struct {
	kind kind

	order *common.Order

	cancelOrderID string
	cancelUserID  string

	securityID string
	depth      int

	deadline time.Time

	reply chan submitResult
}

type submitResult struct {
	trades    []common.Trade
	order     *common.Order
	snapshot  common.BookSnapshot
	price     common.Money
	hasPrice  bool
	volume    common.Money
	cancelled []*common.Order
	err       error
}
