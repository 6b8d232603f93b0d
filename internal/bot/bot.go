// Package bot is the per-session Bot Manager (spec.md §4.5): it hosts a
// set of Strategy instances, feeds them market state and trade events
// off the event bus, and turns their OrderIntents into real submissions
// on the Matching Engine's own queue. Reuses the package's
// tomb-supervised single-consumer-loop shape, generalized from "one
// session's order flow" to "one session's fleet of strategies."
package bot

import (
	"context"
	"time"

	"classroom-exchange/internal/common"
	"classroom-exchange/internal/engine"
	"classroom-exchange/internal/eventbus"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tomb "gopkg.in/tomb.v2"
)

var two = decimal.NewFromInt(2)

// StrategyConfig parameterizes one strategy instance, per spec.md §4.5.
type StrategyConfig struct {
	UserID         string
	SecurityID     string
	MaxPosition    common.Money
	OrderSize      common.Money
	TradeFrequency float64 // probability per tick, used by Random
	Aggressiveness float64 // 0..1, MARKET vs LIMIT-near-mid tradeoff
}

// MarketState is what a Strategy sees on each tick: the simulator's
// latest quote for its configured security, plus the strategy's own
// current position so inventory-skewing strategies don't need their own
// side-channel into the Portfolio Engine.
type MarketState struct {
	SecurityID string
	Day        int
	TickInDay  int
	Mid        common.Money
	Bid        common.Money
	Ask        common.Money
	LastPrice  common.Money
	TickSize   common.Money
	Position   common.Money
	Timestamp  time.Time
}

// OrderIntent is a Strategy's request to submit or cancel an order.
// ClientOrderID, when set, lets a strategy reuse the same order ID
// across ticks (e.g. a market maker's standing bid), and pass it back as
// CancelOrderID to cancel-and-replace without tracking engine-assigned
// UUIDs.
type OrderIntent struct {
	ClientOrderID string
	CancelOrderID string

	Side      common.Side
	Type      common.OrderType
	Price     common.Money
	HasPrice  bool
	Quantity  common.Money
	TIF       common.TIF
}

// Strategy is the capability set spec.md §4.5 names: react to a market
// tick, react to a trade, emit zero or more intents either way.
type Strategy interface {
	OnTick(state MarketState) []OrderIntent
	OnTrade(trade common.Trade) []OrderIntent
}

type boundStrategy struct {
	cfg      StrategyConfig
	strategy Strategy
}

// Manager owns every strategy instance for one session. It never mutates
// a Book; all output goes through eng.SubmitOrder/CancelOrder like any
// other order source, per spec.md §5.
type Manager struct {
	sessionID  string
	eng        *engine.Engine
	bus        *eventbus.Bus
	portfolio  engine.PortfolioReader
	tickSizes  map[string]common.Money
	strategies []boundStrategy

	t tomb.Tomb
}

// New constructs a Manager for sessionID. securities supplies each
// security's tick size so strategies can snap quotes to the book's grid
// without needing their own copy of the lesson's security list.
func New(sessionID string, eng *engine.Engine, bus *eventbus.Bus, portfolio engine.PortfolioReader, securities []common.Security) *Manager {
	tickSizes := make(map[string]common.Money, len(securities))
	for _, sec := range securities {
		tickSizes[sec.ID] = sec.TickSize
	}
	return &Manager{sessionID: sessionID, eng: eng, bus: bus, portfolio: portfolio, tickSizes: tickSizes}
}

// Register adds a strategy instance; call before Run.
func (m *Manager) Register(cfg StrategyConfig, strategy Strategy) {
	m.strategies = append(m.strategies, boundStrategy{cfg: cfg, strategy: strategy})
}

// Run subscribes to the session's market and trade topics and drives
// every registered strategy until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.t.Go(func() error { return m.loop(ctx) })
	return m.t.Wait()
}

// Kill stops the manager's event loop.
func (m *Manager) Kill(err error) { m.t.Kill(err) }

func (m *Manager) loop(ctx context.Context) error {
	topics := eventbus.SessionTopics(m.sessionID)
	marketSub := m.bus.Subscribe(topics.Market)
	tradeSub := m.bus.Subscribe(topics.Trades)
	defer marketSub.Unsubscribe()
	defer tradeSub.Unsubscribe()

	log.Info().Str("session_id", m.sessionID).Int("strategies", len(m.strategies)).Msg("bot manager started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.t.Dying():
			return nil
		case ev := <-marketSub.C:
			tick, ok := ev.Payload.(common.MarketTick)
			if ok {
				m.handleTick(ctx, tick)
			}
		case ev := <-tradeSub.C:
			trade, ok := ev.Payload.(common.Trade)
			if ok {
				m.handleTrade(ctx, trade)
			}
		}
	}
}

func (m *Manager) handleTick(ctx context.Context, tick common.MarketTick) {
	for _, bs := range m.strategies {
		if bs.cfg.SecurityID != tick.SecurityID {
			continue
		}
		position, _ := m.portfolio.PositionQuantity(bs.cfg.UserID, bs.cfg.SecurityID)
		mid := tick.Bid.Add(tick.Ask).Div(two)
		state := MarketState{
			SecurityID: tick.SecurityID, Day: tick.Day, TickInDay: tick.TickInDay,
			Mid: mid, Bid: tick.Bid, Ask: tick.Ask, LastPrice: tick.Price,
			TickSize: m.tickSizes[tick.SecurityID],
			Position: position, Timestamp: tick.Timestamp,
		}
		m.dispatch(ctx, bs, bs.strategy.OnTick(state))
	}
}

func (m *Manager) handleTrade(ctx context.Context, trade common.Trade) {
	for _, bs := range m.strategies {
		if bs.cfg.SecurityID != trade.SecurityID {
			continue
		}
		m.dispatch(ctx, bs, bs.strategy.OnTrade(trade))
	}
}

// dispatch clamps each intent to the strategy's position limit and
// submits or cancels it on the engine.
func (m *Manager) dispatch(ctx context.Context, bs boundStrategy, intents []OrderIntent) {
	for _, intent := range intents {
		if intent.CancelOrderID != "" {
			if err := m.eng.CancelOrder(ctx, intent.CancelOrderID, bs.cfg.UserID); err != nil {
				log.Debug().Err(err).Str("session_id", m.sessionID).Str("user_id", bs.cfg.UserID).Msg("bot cancel failed")
			}
			continue
		}

		qty, ok := m.clamp(bs.cfg, intent)
		if !ok {
			continue
		}

		order := &common.Order{
			ID: intent.ClientOrderID, UserID: bs.cfg.UserID, SecurityID: bs.cfg.SecurityID,
			Side: intent.Side, Type: intent.Type, Price: intent.Price, HasPrice: intent.HasPrice,
			Quantity: qty, Remaining: qty, TIF: intent.TIF,
		}
		if _, err := m.eng.SubmitOrder(ctx, order, time.Time{}); err != nil {
			log.Debug().Err(err).Str("session_id", m.sessionID).Str("user_id", bs.cfg.UserID).Msg("bot order rejected")
		}
	}
}

// clamp enforces spec.md §4.5's position limit: a strategy must not
// produce an intent that would push |position_after| above max_position.
// Rather than rejecting outright, it reduces the quantity to the largest
// size that keeps the position within bounds; bot risk limits are
// enforced silently, with no rejection surfaced back to any client.
func (m *Manager) clamp(cfg StrategyConfig, intent OrderIntent) (common.Money, bool) {
	if cfg.MaxPosition.IsZero() || !cfg.MaxPosition.IsPositive() {
		return intent.Quantity, true
	}

	position, _ := m.portfolio.PositionQuantity(cfg.UserID, cfg.SecurityID)
	signed := intent.Quantity
	if intent.Side == common.Sell {
		signed = signed.Neg()
	}
	after := position.Add(signed)
	if after.Abs().LessThanOrEqual(cfg.MaxPosition) {
		return intent.Quantity, true
	}

	// Reduce to the largest quantity that keeps |position_after| within
	// max_position; if the position is already at or past the limit on
	// this side, drop the intent entirely.
	var room common.Money
	if intent.Side == common.Buy {
		room = cfg.MaxPosition.Sub(position)
	} else {
		room = cfg.MaxPosition.Add(position)
	}
	if !room.IsPositive() {
		return common.Zero, false
	}
	if room.GreaterThan(intent.Quantity) {
		room = intent.Quantity
	}
	return room, true
}
