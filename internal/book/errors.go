package book

import (
	"errors"

	"classroom-exchange/internal/common"
)

// Sentinel errors in the package's var Err... = errors.New(...) idiom,
// covering the full reject taxonomy spec.md §4.1 requires.
var (
	ErrNotEnoughLiquidity = errors.New("not enough liquidity")
	ErrBadPrice           = errors.New("price is non-positive or not on the tick grid")
	ErrBadQuantity        = errors.New("quantity is non-positive or below minimum")
	ErrMarketClosed       = errors.New("market is closed")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientPosition = errors.New("insufficient position for sell")
	ErrFOKInfeasible      = errors.New("fill-or-kill order cannot be fully filled")
	ErrOrderNotFound      = errors.New("order not found")

	// ErrInvariantViolation is returned when a post-match consistency
	// check (spec.md §7's I5) fails. This indicates a matching bug, not
	// a rejectable submission: the match already happened and the book
	// already reflects it, so Submit still returns the trades alongside
	// this error for the caller to log and count.
	ErrInvariantViolation = errors.New("post-match invariant violation")
)

// reasonFor maps a book-level sentinel error to the wire-visible RejectReason.
func reasonFor(err error) common.RejectReason {
	switch {
	case errors.Is(err, ErrBadPrice):
		return common.BadPrice
	case errors.Is(err, ErrBadQuantity):
		return common.BadQuantity
	case errors.Is(err, ErrMarketClosed):
		return common.MarketClosed
	case errors.Is(err, ErrNotEnoughLiquidity):
		return common.NoLiquidity
	case errors.Is(err, ErrInsufficientFunds):
		return common.InsufficientFunds
	case errors.Is(err, ErrInsufficientPosition):
		return common.InsufficientPosition
	case errors.Is(err, ErrFOKInfeasible):
		return common.FOKInfeasible
	default:
		return common.Internal
	}
}
