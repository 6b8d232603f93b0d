package bot

import (
	"fmt"

	"classroom-exchange/internal/common"
)

// NewStrategy builds one of the five built-in strategies by name, for
// config-driven lesson setup (spec.md §4.5's strategy list).
func NewStrategy(kind string, cfg StrategyConfig, rng common.RandomSource) (Strategy, error) {
	switch kind {
	case "momentum":
		return NewMomentum(cfg), nil
	case "mean_reversion":
		return NewMeanReversion(cfg), nil
	case "random":
		return NewRandom(cfg, rng), nil
	case "market_maker":
		return NewMarketMaker(cfg), nil
	case "liquidity_provider":
		return NewLiquidityProvider(cfg), nil
	default:
		return nil, fmt.Errorf("bot: unknown strategy %q", kind)
	}
}
