package session_test

import (
	"context"
	"testing"
	"time"

	"classroom-exchange/internal/common"
	"classroom-exchange/internal/eventbus"
	"classroom-exchange/internal/market"
	"classroom-exchange/internal/session"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) common.Money { return decimal.RequireFromString(s) }

type fixedClock struct{}

func (fixedClock) Now() time.Time      { return time.Unix(0, 0) }
func (fixedClock) Sleep(time.Duration) {}

func testConfig() session.Config {
	return session.Config{
		SessionID:    "sess-1",
		Securities:   []common.Security{{ID: "AAPL", Symbol: "AAPL", TickSize: dec("0.01"), MinQuantity: dec("1")}},
		StartingCash: dec("100000"),
		AllowShort:   true, // alice sells before she holds any AAPL
		RNG:          market.NewRand(1),
		Clock:        fixedClock{},
		Market: market.Config{
			TotalDays: 1, MsPerDay: 10, TicksPerDay: 2, LiquidityQty: dec("10"),
			Securities: []market.SecurityConfig{{SecurityID: "AAPL", TickSize: dec("0.01"), StartPrice: 100, Volatility: 0.1, Drift: 0, SpreadBps: 10}},
		},
	}
}

func TestLifecycleRejectsOutOfOrderTransitions(t *testing.T) {
	co := session.New(testConfig())
	require.Equal(t, common.Created, co.State())

	ctx := context.Background()
	require.Error(t, co.Start(ctx), "cannot start before Open")
	require.Error(t, co.Pause(ctx), "cannot pause before Start")

	require.NoError(t, co.Open())
	require.Equal(t, common.Waiting, co.State())
}

func TestFullLifecycleMatchesAnOrderAndEndsCleanly(t *testing.T) {
	co := session.New(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, co.Open())
	co.RegisterUser("alice")
	co.RegisterUser("bob")
	require.NoError(t, co.Start(ctx))
	require.Equal(t, common.Running, co.State())

	_, err := co.Engine().SubmitOrder(ctx, &common.Order{
		UserID: "alice", SecurityID: "AAPL", Side: common.Sell, Type: common.Limit,
		Price: dec("50.00"), HasPrice: true, Quantity: dec("5"), Remaining: dec("5"), TIF: common.GTC,
	}, time.Time{})
	require.NoError(t, err)

	_, err = co.Engine().SubmitOrder(ctx, &common.Order{
		UserID: "bob", SecurityID: "AAPL", Side: common.Buy, Type: common.Limit,
		Price: dec("50.00"), HasPrice: true, Quantity: dec("5"), Remaining: dec("5"), TIF: common.GTC,
	}, time.Time{})
	require.NoError(t, err)

	require.NoError(t, co.Pause(ctx))
	require.Equal(t, common.Paused, co.State())
	require.NoError(t, co.Resume(ctx))
	require.Equal(t, common.Running, co.State())

	require.NoError(t, co.End(ctx))
	require.Equal(t, common.Ended, co.State())
	require.NoError(t, co.End(ctx), "ending an already-ended session is a no-op")
}

func TestEndBroadcastsAFinalPortfolioSnapshotPerParticipant(t *testing.T) {
	co := session.New(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sub := co.Bus().Subscribe(eventbus.PortfolioTopic("sess-1", "alice"))
	defer sub.Unsubscribe()

	require.NoError(t, co.Open())
	co.RegisterUser("alice")
	require.NoError(t, co.Start(ctx))
	require.NoError(t, co.End(ctx))

	select {
	case ev := <-sub.C:
		_, ok := ev.Payload.(common.PortfolioSummaryPayload)
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected a final portfolio snapshot on session end")
	}
}
