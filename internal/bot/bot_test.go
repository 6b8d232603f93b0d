package bot_test

import (
	"context"
	"testing"
	"time"

	"classroom-exchange/internal/bot"
	"classroom-exchange/internal/common"
	"classroom-exchange/internal/engine"
	"classroom-exchange/internal/eventbus"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) common.Money { return decimal.RequireFromString(s) }

type fixedClock struct{}

func (fixedClock) Now() time.Time      { return time.Unix(0, 0) }
func (fixedClock) Sleep(time.Duration) {}

type fakePortfolio struct {
	positions map[string]common.Money
}

func (p *fakePortfolio) Cash(string) (common.Money, bool) { return dec("1000000"), true }
func (p *fakePortfolio) PositionQuantity(_, securityID string) (common.Money, bool) {
	qty, ok := p.positions[securityID]
	if !ok {
		return common.Zero, false
	}
	return qty, true
}

func newTestEngine(t *testing.T, portfolio engine.PortfolioReader) (*engine.Engine, *eventbus.Bus, *eventbus.Sequencer) {
	t.Helper()
	bus := eventbus.New()
	seq := eventbus.NewSequencer()
	sec := common.Security{ID: "AAPL", Symbol: "AAPL", TickSize: dec("0.01"), MinQuantity: dec("1")}
	eng := engine.New("sess-1", []common.Security{sec}, bus, seq, nil, portfolio, nil, fixedClock{}, true, false)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)
	require.NoError(t, eng.OpenMarket(ctx))
	return eng, bus, seq
}

func TestClampReducesOversizedIntentInsteadOfRejectingEverything(t *testing.T) {
	portfolio := &fakePortfolio{positions: map[string]common.Money{"AAPL": dec("90")}}
	eng, bus, _ := newTestEngine(t, portfolio)

	mgr := bot.New("sess-1", eng, bus, portfolio, []common.Security{{ID: "AAPL", TickSize: dec("0.01")}})
	cfg := bot.StrategyConfig{UserID: "bot-1", SecurityID: "AAPL", MaxPosition: dec("100"), OrderSize: dec("50"), TradeFrequency: 1}
	mgr.Register(cfg, bot.NewRandom(cfg, constantRNG{uniform: 0.9}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go mgr.Run(ctx)

	// Seed a resting ask so the bot's market BUY has something to match.
	_, err := eng.SubmitOrder(ctx, &common.Order{
		UserID: "mm", SecurityID: "AAPL", Side: common.Sell, Type: common.Limit,
		Price: dec("10.00"), HasPrice: true, Quantity: dec("10"), Remaining: dec("10"), TIF: common.GTC,
	}, time.Time{})
	require.NoError(t, err)

	bus.Publish(eventbus.SessionTopics("sess-1").Market, common.Event{
		Kind: common.KindMarketTick,
		Payload: common.MarketTick{
			SecurityID: "AAPL", Bid: dec("9.99"), Ask: dec("10.00"), Price: dec("10.00"),
		},
	})

	require.Eventually(t, func() bool {
		snap, err := eng.GetBook(ctx, "AAPL", 5)
		return err == nil && len(snap.Asks) == 0
	}, time.Second, 5*time.Millisecond, "bot's clamped order should have matched the full resting ask")
}

// constantRNG always fires (uniform below trade_frequency) and always buys.
type constantRNG struct{ uniform float64 }

func (r constantRNG) NextUniform() float64 { return r.uniform }
func (r constantRNG) NextNormal() float64  { return 0 }

func TestMomentumStaysSilentWhileMidIsFlat(t *testing.T) {
	cfg := bot.StrategyConfig{UserID: "bot-1", SecurityID: "AAPL", OrderSize: dec("10"), Aggressiveness: 1}
	m := bot.NewMomentum(cfg)

	state := bot.MarketState{SecurityID: "AAPL", Mid: dec("100"), Bid: dec("99.9"), Ask: dec("100.1"), TickSize: dec("0.01")}
	for i := 0; i < 4; i++ {
		require.Empty(t, m.OnTick(state))
	}
}

func TestMarketMakerSkewsQuotesWhenLong(t *testing.T) {
	cfg := bot.StrategyConfig{UserID: "bot-1", SecurityID: "AAPL", MaxPosition: dec("100"), OrderSize: dec("10")}
	mm := bot.NewMarketMaker(cfg)

	flat := bot.MarketState{SecurityID: "AAPL", Mid: dec("100"), TickSize: dec("0.01"), Position: dec("0")}
	flatIntents := mm.OnTick(flat)
	require.Len(t, flatIntents, 4)

	long := bot.MarketState{SecurityID: "AAPL", Mid: dec("102"), TickSize: dec("0.01"), Position: dec("80")}
	longIntents := mm.OnTick(long)
	require.Len(t, longIntents, 4)

	var flatBid, longBid common.Money
	for _, in := range flatIntents {
		if in.Side == common.Buy {
			flatBid = in.Price
		}
	}
	for _, in := range longIntents {
		if in.Side == common.Buy {
			longBid = in.Price
		}
	}
	require.True(t, longBid.Sub(dec("102")).Abs().GreaterThan(flatBid.Sub(dec("100")).Abs()),
		"a long inventory should widen the bid relative to mid")
}
