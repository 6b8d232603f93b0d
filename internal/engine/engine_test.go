package engine_test

import (
	"context"
	"testing"
	"time"

	"classroom-exchange/internal/common"
	"classroom-exchange/internal/engine"
	"classroom-exchange/internal/eventbus"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) common.Money { return decimal.RequireFromString(s) }

func testSecurity() common.Security {
	return common.Security{ID: "AAPL", Symbol: "AAPL", TickSize: dec("0.01"), MinQuantity: dec("1")}
}

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time      { return f.now }
func (fixedClock) Sleep(d time.Duration) {}

// fakePortfolio gives every user the same cash/position so tests can
// exercise the risk-check gate without a real Portfolio Engine.
type fakePortfolio struct {
	cash      common.Money
	positions map[string]common.Money // securityID -> quantity
}

func (p *fakePortfolio) Cash(userID string) (common.Money, bool) { return p.cash, true }
func (p *fakePortfolio) PositionQuantity(userID, securityID string) (common.Money, bool) {
	qty, ok := p.positions[securityID]
	if !ok {
		return common.Zero, false
	}
	return qty, true
}

func newTestEngine(t *testing.T, portfolio engine.PortfolioReader) *engine.Engine {
	t.Helper()
	bus := eventbus.New()
	eng := engine.New(
		"sess-1",
		[]common.Security{testSecurity()},
		bus,
		eventbus.NewSequencer(),
		nil,
		portfolio,
		nil,
		fixedClock{now: time.Unix(0, 0)},
		false,
		false,
	)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)
	return eng
}

func limitOrder(user string, side common.Side, price, qty string, tif common.TIF) *common.Order {
	return &common.Order{
		UserID: user, SecurityID: "AAPL",
		Side: side, Type: common.Limit, HasPrice: true,
		Price: dec(price), Quantity: dec(qty), Remaining: dec(qty), TIF: tif,
	}
}

func TestSubmitOrderRejectsWhenMarketClosed(t *testing.T) {
	eng := newTestEngine(t, &fakePortfolio{cash: dec("1000000")})
	ctx := context.Background()

	order := limitOrder("U1", common.Buy, "50.00", "10", common.GTC)
	_, err := eng.SubmitOrder(ctx, order, time.Time{})

	require.Error(t, err)
	assert.Equal(t, common.Rejected, order.Status)
	assert.Equal(t, common.MarketClosed, order.Reject)
}

func TestSubmitOrderMatchesOnceMarketOpen(t *testing.T) {
	eng := newTestEngine(t, &fakePortfolio{cash: dec("1000000"), positions: map[string]common.Money{"AAPL": dec("1000")}})
	ctx := context.Background()
	require.NoError(t, eng.OpenMarket(ctx))

	sell := limitOrder("S", common.Sell, "50.00", "100", common.GTC)
	_, err := eng.SubmitOrder(ctx, sell, time.Time{})
	require.NoError(t, err)

	buy := limitOrder("B", common.Buy, "50.00", "100", common.GTC)
	trades, err := eng.SubmitOrder(ctx, buy, time.Time{})
	require.NoError(t, err)

	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(dec("50.00")))
	assert.NotEmpty(t, trades[0].ID)
	assert.Equal(t, common.Filled, buy.Status)
}

func TestSubmitOrderRejectsInsufficientFunds(t *testing.T) {
	eng := newTestEngine(t, &fakePortfolio{cash: dec("10")})
	ctx := context.Background()
	require.NoError(t, eng.OpenMarket(ctx))

	order := limitOrder("U1", common.Buy, "50.00", "100", common.GTC)
	_, err := eng.SubmitOrder(ctx, order, time.Time{})

	require.Error(t, err)
	assert.Equal(t, common.Rejected, order.Status)
	assert.Equal(t, common.InsufficientFunds, order.Reject)
}

func TestSubmitOrderRejectsInsufficientPositionWhenShortDisabled(t *testing.T) {
	eng := newTestEngine(t, &fakePortfolio{cash: dec("1000000"), positions: map[string]common.Money{"AAPL": dec("0")}})
	ctx := context.Background()
	require.NoError(t, eng.OpenMarket(ctx))

	order := limitOrder("U1", common.Sell, "50.00", "10", common.GTC)
	_, err := eng.SubmitOrder(ctx, order, time.Time{})

	require.Error(t, err)
	assert.Equal(t, common.InsufficientPosition, order.Reject)
}

func TestCancelOrderIsIdempotentAndOwnerScoped(t *testing.T) {
	eng := newTestEngine(t, &fakePortfolio{cash: dec("1000000")})
	ctx := context.Background()
	require.NoError(t, eng.OpenMarket(ctx))

	order := limitOrder("U1", common.Buy, "50.00", "10", common.GTC)
	order.ID = "ord-1"
	_, err := eng.SubmitOrder(ctx, order, time.Time{})
	require.NoError(t, err)

	// Wrong owner: silent no-op, never an error.
	require.NoError(t, eng.CancelOrder(ctx, "ord-1", "someone-else"))
	snap, err := eng.GetBook(ctx, "AAPL", 10)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)

	require.NoError(t, eng.CancelOrder(ctx, "ord-1", "U1"))
	require.NoError(t, eng.CancelOrder(ctx, "ord-1", "U1")) // idempotent

	snap, err = eng.GetBook(ctx, "AAPL", 10)
	require.NoError(t, err)
	assert.Empty(t, snap.Bids)
}

func TestGetBookUnknownSecurity(t *testing.T) {
	eng := newTestEngine(t, &fakePortfolio{cash: dec("1000000")})
	_, err := eng.GetBook(context.Background(), "MSFT", 10)
	assert.ErrorIs(t, err, engine.ErrUnknownSecurity)
}

func TestExpireDayCancelsOnlyDayOrders(t *testing.T) {
	eng := newTestEngine(t, &fakePortfolio{cash: dec("1000000")})
	ctx := context.Background()
	require.NoError(t, eng.OpenMarket(ctx))

	dayOrder := limitOrder("U1", common.Buy, "50.00", "10", common.DAY)
	_, err := eng.SubmitOrder(ctx, dayOrder, time.Time{})
	require.NoError(t, err)

	gtcOrder := limitOrder("U2", common.Buy, "49.00", "10", common.GTC)
	_, err = eng.SubmitOrder(ctx, gtcOrder, time.Time{})
	require.NoError(t, err)

	expired, err := eng.ExpireDay(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, dayOrder.ID, expired[0].ID)
	assert.Equal(t, common.Expired, expired[0].Status)

	snap, err := eng.GetBook(ctx, "AAPL", 10)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	assert.True(t, snap.Bids[0].Price.Equal(dec("49.00")), "only the GTC order should still be resting")
}

func TestSubmitOrderRejectsBuyStopWithInsufficientFundsAtSubmission(t *testing.T) {
	eng := newTestEngine(t, &fakePortfolio{cash: dec("10")})
	ctx := context.Background()
	require.NoError(t, eng.OpenMarket(ctx))

	order := &common.Order{
		UserID: "U1", SecurityID: "AAPL",
		Side: common.Buy, Type: common.Stop,
		StopPrice: dec("50.00"), HasStop: true,
		Quantity: dec("100"), Remaining: dec("100"), TIF: common.GTC,
	}
	_, err := eng.SubmitOrder(ctx, order, time.Time{})

	require.Error(t, err, "a STOP order priced off its trigger should still fail the funds check")
	assert.Equal(t, common.Rejected, order.Status)
	assert.Equal(t, common.InsufficientFunds, order.Reject)
}

func TestActivatedStopOrderIsRejectedWhenItNoLongerPassesRiskCheck(t *testing.T) {
	// 550 cash covers the stop's own trigger estimate (500) and the
	// trigger buy (550), not the ask it walks once activated (600). The
	// position lets the sellers pass the short-selling check.
	portfolio := &fakePortfolio{cash: dec("550"), positions: map[string]common.Money{"AAPL": dec("1000")}}
	eng := newTestEngine(t, portfolio)
	ctx := context.Background()
	require.NoError(t, eng.OpenMarket(ctx))

	// One ask the trigger trade consumes (moves the last price through
	// the stop's trigger), and a second, pricier ask that survives for
	// the activated MARKET order to walk.
	near := limitOrder("S1", common.Sell, "55.00", "10", common.GTC)
	_, err := eng.SubmitOrder(ctx, near, time.Time{})
	require.NoError(t, err)
	far := limitOrder("S2", common.Sell, "60.00", "10", common.GTC)
	_, err = eng.SubmitOrder(ctx, far, time.Time{})
	require.NoError(t, err)

	stop := &common.Order{
		ID: "stop-1", UserID: "U1", SecurityID: "AAPL",
		Side: common.Buy, Type: common.Stop,
		StopPrice: dec("50.00"), HasStop: true,
		Quantity: dec("10"), Remaining: dec("10"), TIF: common.GTC,
	}
	_, err = eng.SubmitOrder(ctx, stop, time.Time{})
	require.NoError(t, err, "50.00 * 10 = 500 <= 550 cash, so the stop order itself rests fine")

	// A trade at 55.00 triggers the 50.00 stop; once activated it
	// converts to MARKET and must walk the remaining 60.00 ask (600
	// total), which 550 cash cannot cover, so the re-run risk check
	// must reject it rather than letting it fill for free.
	trigger := limitOrder("U2", common.Buy, "55.00", "10", common.GTC)
	_, err = eng.SubmitOrder(ctx, trigger, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, common.Rejected, stop.Status)
	assert.Equal(t, common.InsufficientFunds, stop.Reject)

	snap, err := eng.GetBook(ctx, "AAPL", 10)
	require.NoError(t, err)
	require.Len(t, snap.Asks, 1, "the far ask should still be resting, never consumed by the rejected activation")
	assert.True(t, snap.Asks[0].Price.Equal(dec("60.00")))
}

func TestEndSessionCancelsRestingOrders(t *testing.T) {
	eng := newTestEngine(t, &fakePortfolio{cash: dec("1000000")})
	ctx := context.Background()
	require.NoError(t, eng.OpenMarket(ctx))

	order := limitOrder("U1", common.Buy, "50.00", "10", common.GTC)
	_, err := eng.SubmitOrder(ctx, order, time.Time{})
	require.NoError(t, err)

	cancelled, err := eng.EndSession(ctx)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, common.Cancelled, cancelled[0].Status)

	_, err = eng.SubmitOrder(ctx, limitOrder("U2", common.Buy, "50.00", "10", common.GTC), time.Time{})
	require.Error(t, err)
}
