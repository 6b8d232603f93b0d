package market

import "classroom-exchange/internal/common"

// SecurityConfig is one security's GBM and quoting parameters
// (spec.md §4.4).
type SecurityConfig struct {
	SecurityID string
	TickSize   common.Money
	StartPrice float64
	Volatility float64 // sigma, per day
	Drift      float64 // mu, per day
	SpreadBps  float64
}

// Config is the Market Simulator's full lesson configuration.
type Config struct {
	TotalDays     int
	MsPerDay      int
	TicksPerDay   int
	NewsFrequency float64 // probability of a news event per day
	LiquidityQty  common.Money
	Securities    []SecurityConfig
	Seed          uint64
}
