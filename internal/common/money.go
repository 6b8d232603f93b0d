package common

import "github.com/shopspring/decimal"

// Money is a fixed-precision monetary/price amount. Every price and cash
// field in this module uses decimal.Decimal rather than float64, per the
// project's decimal-vs-floating design decision: float64 accumulation lets
// I2 (cash conservation) drift silently over a long session.
type Money = decimal.Decimal

// Zero is the additive identity, handy for accumulator initialization.
var Zero = decimal.Zero

// SnapToTick rounds price to the nearest multiple of tick, for quoting code
// (bots, the Market Simulator) that needs an on-grid price rather than the
// book's hard BAD_PRICE rejection of an off-grid one. Callers that only need
// on-grid validation should use OnTick.
func SnapToTick(price, tick Money) Money {
	if tick.IsZero() {
		return price
	}
	quotient := price.Div(tick).Round(0)
	return quotient.Mul(tick)
}

// OnTick reports whether price is an exact multiple of tick.
func OnTick(price, tick Money) bool {
	if tick.IsZero() {
		return true
	}
	return SnapToTick(price, tick).Equal(price)
}
