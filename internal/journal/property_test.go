package journal_test

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"testing"
	"time"

	"classroom-exchange/internal/common"
	"classroom-exchange/internal/journal"
	"classroom-exchange/internal/market"
	"classroom-exchange/internal/session"

	"github.com/stretchr/testify/require"
)

// TestRandomizedReplayReconstructsBitIdenticalPortfolios is the
// property-style check for spec.md §8 P6: for a randomized sequence of
// order submissions between two users, replaying the recorded journal
// against a fresh Portfolio Engine must reproduce the live session's
// final portfolios exactly, every time. Fixed seed for deterministic
// failures.
func TestRandomizedReplayReconstructsBitIdenticalPortfolios(t *testing.T) {
	rng := rand.New(rand.NewSource(20240606))
	const trials = 15
	const ordersPerTrial = 20

	for trial := 0; trial < trials; trial++ {
		sink := journal.NewMemorySink()
		sessionID := fmt.Sprintf("sess-replay-%d", trial)
		startingCash := dec("1000000")

		co := session.New(session.Config{
			SessionID:    sessionID,
			Securities:   []common.Security{{ID: "AAPL", Symbol: "AAPL", TickSize: dec("0.01"), MinQuantity: dec("1")}},
			StartingCash: startingCash,
			AllowShort:   true, // bob only ever sells
			RNG:          market.NewRand(uint64(trial)),
			Journal:      sink,
			Clock:        fixedClock{},
			Market: market.Config{
				TotalDays: 1, MsPerDay: 10, TicksPerDay: 2, LiquidityQty: dec("10"),
				Securities: []market.SecurityConfig{{SecurityID: "AAPL", TickSize: dec("0.01"), StartPrice: 100, Volatility: 0.1, Drift: 0, SpreadBps: 10}},
			},
		})

		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		require.NoError(t, co.Open())
		co.RegisterUser("alice")
		co.RegisterUser("bob")
		require.NoError(t, co.Start(ctx))

		price := 50 + rng.Intn(20)
		for i := 0; i < ordersPerTrial; i++ {
			side := common.Buy
			user := "alice"
			if i%2 == 1 {
				side = common.Sell
				user = "bob"
			}
			// Walk the price by at most one dollar per order so
			// alternating buys and sells mostly cross; an order priced
			// past the other side simply rests. Qty varies freely.
			price += rng.Intn(3) - 1
			if price < 1 {
				price = 1
			}
			qty := 1 + rng.Intn(20)
			_, err := co.Engine().SubmitOrder(ctx, &common.Order{
				UserID: user, SecurityID: "AAPL", Side: side, Type: common.Limit,
				Price: dec(strconv.Itoa(price) + ".00"), HasPrice: true,
				Quantity: dec(strconv.Itoa(qty)), Remaining: dec(strconv.Itoa(qty)), TIF: common.GTC,
			}, time.Time{})
			require.NoError(t, err)
		}

		require.NoError(t, co.End(context.Background()))

		wantAlice, ok := co.Portfolio().Snapshot("alice")
		require.True(t, ok)
		wantBob, ok := co.Portfolio().Snapshot("bob")
		require.True(t, ok)

		records := sink.Records(sessionID)
		got, err := journal.Replay(sessionID, startingCash, records)
		require.NoError(t, err)

		requirePortfolioEqual(t, wantAlice, got["alice"])
		requirePortfolioEqual(t, wantBob, got["bob"])
	}
}
