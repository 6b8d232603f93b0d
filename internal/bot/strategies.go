package bot

import (
	"classroom-exchange/internal/common"

	"github.com/shopspring/decimal"
)

// maWindow is a fixed-size ring buffer of mid prices for a moving
// average, shared by Momentum and MeanReversion.
type maWindow struct {
	prices []float64
	cap    int
	pos    int
	filled bool
}

func newMAWindow(cap int) *maWindow {
	return &maWindow{prices: make([]float64, cap), cap: cap}
}

func (w *maWindow) push(v float64) {
	w.prices[w.pos] = v
	w.pos = (w.pos + 1) % w.cap
	if w.pos == 0 {
		w.filled = true
	}
}

func (w *maWindow) average() (float64, bool) {
	n := w.cap
	if !w.filled {
		n = w.pos
	}
	if n == 0 {
		return 0, false
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += w.prices[i]
	}
	return sum / float64(n), true
}

// Momentum maintains a short moving average and crosses trigger a trade
// in the direction of the cross, sized and priced by aggressiveness
// (spec.md §4.5).
type Momentum struct {
	cfg    StrategyConfig
	window *maWindow
	above  bool
	primed bool
}

func NewMomentum(cfg StrategyConfig) *Momentum {
	return &Momentum{cfg: cfg, window: newMAWindow(5)}
}

func (m *Momentum) OnTick(state MarketState) []OrderIntent {
	mid, _ := state.Mid.Float64()
	avg, ok := m.window.average()
	m.window.push(mid)
	if !ok {
		return nil
	}

	nowAbove := mid > avg
	defer func() { m.above, m.primed = nowAbove, true }()
	if !m.primed || nowAbove == m.above {
		return nil
	}

	side := common.Buy
	if !nowAbove {
		side = common.Sell
	}
	return []OrderIntent{priceByAggressiveness(side, m.cfg, state)}
}

func (m *Momentum) OnTrade(common.Trade) []OrderIntent { return nil }

// MeanReversion compares mid to a longer moving average and fades moves
// away from it (spec.md §4.5).
type MeanReversion struct {
	cfg       StrategyConfig
	window    *maWindow
	threshold float64
}

func NewMeanReversion(cfg StrategyConfig) *MeanReversion {
	return &MeanReversion{cfg: cfg, window: newMAWindow(20), threshold: 0.01}
}

func (m *MeanReversion) OnTick(state MarketState) []OrderIntent {
	mid, _ := state.Mid.Float64()
	avg, ok := m.window.average()
	m.window.push(mid)
	if !ok || avg == 0 {
		return nil
	}

	deviation := (mid - avg) / avg
	switch {
	case deviation < -m.threshold:
		return []OrderIntent{priceByAggressiveness(common.Buy, m.cfg, state)}
	case deviation > m.threshold:
		return []OrderIntent{priceByAggressiveness(common.Sell, m.cfg, state)}
	default:
		return nil
	}
}

func (m *MeanReversion) OnTrade(common.Trade) []OrderIntent { return nil }

// Random submits a market order of a random side with probability
// trade_frequency per tick (spec.md §4.5).
type Random struct {
	cfg StrategyConfig
	rng common.RandomSource
}

func NewRandom(cfg StrategyConfig, rng common.RandomSource) *Random {
	return &Random{cfg: cfg, rng: rng}
}

func (r *Random) OnTick(state MarketState) []OrderIntent {
	if r.rng.NextUniform() >= r.cfg.TradeFrequency {
		return nil
	}
	side := common.Buy
	if r.rng.NextUniform() < 0.5 {
		side = common.Sell
	}
	return []OrderIntent{{Side: side, Type: common.Market, Quantity: r.cfg.OrderSize, TIF: common.IOC}}
}

func (r *Random) OnTrade(common.Trade) []OrderIntent { return nil }

// MarketMaker posts symmetric LIMIT quotes around mid, cancels and
// reposts when mid moves by more than one tick, and skews its quotes
// against inventory (spec.md §4.5).
type MarketMaker struct {
	cfg           StrategyConfig
	moveThreshold int // ticks
	lastQuoteMid  common.Money
	quoted        bool
}

func NewMarketMaker(cfg StrategyConfig) *MarketMaker {
	return &MarketMaker{cfg: cfg, moveThreshold: 1}
}

func (mm *MarketMaker) OnTick(state MarketState) []OrderIntent {
	return quoteAroundMid(mm.cfg, state, mm.moveThreshold, &mm.lastQuoteMid, &mm.quoted, mm.cfg.OrderSize)
}

func (mm *MarketMaker) OnTrade(common.Trade) []OrderIntent { return nil }

// LiquidityProvider behaves like MarketMaker but only refreshes on
// larger mid moves (more than three ticks). Its quotes are sized at
// OrderSize, the same as MarketMaker's; there is no separate depth
// setting that scales them.
type LiquidityProvider struct {
	cfg           StrategyConfig
	moveThreshold int
	lastQuoteMid  common.Money
	quoted        bool
}

func NewLiquidityProvider(cfg StrategyConfig) *LiquidityProvider {
	return &LiquidityProvider{cfg: cfg, moveThreshold: 3}
}

func (lp *LiquidityProvider) OnTick(state MarketState) []OrderIntent {
	return quoteAroundMid(lp.cfg, state, lp.moveThreshold, &lp.lastQuoteMid, &lp.quoted, lp.cfg.OrderSize)
}

func (lp *LiquidityProvider) OnTrade(common.Trade) []OrderIntent { return nil }

// quoteAroundMid is the shared market-making behavior behind MarketMaker
// and LiquidityProvider: requote only once mid has moved by more than
// moveThreshold ticks since the last quote, skewing bid/ask against
// inventory.
func quoteAroundMid(cfg StrategyConfig, state MarketState, moveThreshold int, lastQuoteMid *common.Money, quoted *bool, size common.Money) []OrderIntent {
	if state.TickSize.IsZero() {
		return nil
	}

	if *quoted {
		moved := state.Mid.Sub(*lastQuoteMid).Abs().Div(state.TickSize)
		if moved.LessThanOrEqual(decimal.NewFromInt(int64(moveThreshold))) {
			return nil
		}
	}
	*lastQuoteMid = state.Mid
	*quoted = true

	// Inventory skew: long positions widen the bid (less eager to buy
	// more) and tighten the ask (more eager to sell down); short
	// positions do the opposite. Ratio is clamped to [-1, 1].
	ratio := 0.0
	if cfg.MaxPosition.IsPositive() {
		ratio, _ = state.Position.Div(cfg.MaxPosition).Float64()
		if ratio > 1 {
			ratio = 1
		} else if ratio < -1 {
			ratio = -1
		}
	}
	bidMult := decimal.NewFromFloat(1 + ratio)
	askMult := decimal.NewFromFloat(1 - ratio)
	if bidMult.LessThan(decimal.NewFromFloat(0.1)) {
		bidMult = decimal.NewFromFloat(0.1)
	}
	if askMult.LessThan(decimal.NewFromFloat(0.1)) {
		askMult = decimal.NewFromFloat(0.1)
	}

	bid := common.SnapToTick(state.Mid.Sub(state.TickSize.Mul(bidMult)), state.TickSize)
	ask := common.SnapToTick(state.Mid.Add(state.TickSize.Mul(askMult)), state.TickSize)

	bidID := cfg.UserID + ":" + cfg.SecurityID + ":bid"
	askID := cfg.UserID + ":" + cfg.SecurityID + ":ask"

	return []OrderIntent{
		{CancelOrderID: bidID},
		{CancelOrderID: askID},
		{ClientOrderID: bidID, Side: common.Buy, Type: common.Limit, Price: bid, HasPrice: true, Quantity: size, TIF: common.GTC},
		{ClientOrderID: askID, Side: common.Sell, Type: common.Limit, Price: ask, HasPrice: true, Quantity: size, TIF: common.GTC},
	}
}

// priceByAggressiveness prices a directional intent: MARKET at full
// aggressiveness, otherwise a LIMIT at mid offset by the remaining
// spread, per spec.md §4.5.
func priceByAggressiveness(side common.Side, cfg StrategyConfig, state MarketState) OrderIntent {
	if cfg.Aggressiveness >= 1 {
		return OrderIntent{Side: side, Type: common.Market, Quantity: cfg.OrderSize, TIF: common.IOC}
	}

	spread := state.Ask.Sub(state.Bid)
	k := decimal.NewFromFloat(1 - cfg.Aggressiveness)
	offset := spread.Mul(k)

	price := state.Mid
	if side == common.Buy {
		price = price.Sub(offset)
	} else {
		price = price.Add(offset)
	}
	price = common.SnapToTick(price, state.TickSize)

	return OrderIntent{Side: side, Type: common.Limit, Price: price, HasPrice: true, Quantity: cfg.OrderSize, TIF: common.DAY}
}
