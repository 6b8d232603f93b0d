package book_test

import (
	"fmt"
	"math/rand"
	"strconv"
	"testing"

	"classroom-exchange/internal/book"
	"classroom-exchange/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRandomizedPriceTimePriorityAndTradePriceBounds is the property-style
// check for spec.md §8 P2 (price-time priority) and P3 (trade-price bound):
// repeated randomized order sequences against a fixed seed, so a failure is
// reproducible without capturing the random inputs separately. A small
// reference FIFO oracle tracks submission order independently of the book;
// every trade the book produces must match what that oracle predicts.
func TestRandomizedPriceTimePriorityAndTradePriceBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(20240601))
	const trials = 200
	const restPrice = "50.00"
	const restingSide = common.Sell

	type fifoEntry struct {
		id        string
		remaining int
	}

	for trial := 0; trial < trials; trial++ {
		b := book.New(testSecurity())

		var fifo []*fifoEntry
		numResting := 1 + rng.Intn(8)
		for i := 0; i < numResting; i++ {
			qty := 1 + rng.Intn(20)
			id := fmt.Sprintf("t%d-r%d", trial, i)
			order := limitOrder(id, "maker", restingSide, restPrice, strconv.Itoa(qty), common.GTC)
			_, err := b.Submit(order)
			require.NoError(t, err)
			fifo = append(fifo, &fifoEntry{id: id, remaining: qty})
		}

		numAggressors := 1 + rng.Intn(8)
		for a := 0; a < numAggressors; a++ {
			qty := 1 + rng.Intn(15)
			id := fmt.Sprintf("t%d-agg%d", trial, a)
			order := limitOrder(id, "taker", restingSide.Opposite(), restPrice, strconv.Itoa(qty), common.IOC)
			trades, err := b.Submit(order)
			require.NoError(t, err)

			for _, trade := range trades {
				assert.True(t, trade.Price.Equal(dec(restPrice)), "P3: trade price must equal the maker's price")

				makerID := trade.SellOrderID
				if restingSide == common.Buy {
					makerID = trade.BuyOrderID
				}

				for len(fifo) > 0 && fifo[0].remaining == 0 {
					fifo = fifo[1:]
				}
				require.NotEmpty(t, fifo, "trial %d: trade matched after the reference FIFO was exhausted", trial)
				assert.Equal(t, fifo[0].id, makerID,
					"trial %d: P2 violated: %s matched while %s was still ahead of it in price-time order", trial, makerID, fifo[0].id)

				fifo[0].remaining -= int(trade.Quantity.IntPart())
				require.GreaterOrEqual(t, fifo[0].remaining, 0, "trial %d: oracle's resting order over-filled", trial)
			}
		}
	}
}

// TestRandomizedCancellationIsAlwaysIdempotent is the property-style check
// for spec.md §8 P5: for a randomized mix of resting orders and cancel
// calls (including double-cancels and cancels of unknown ids), a second
// cancel of the same id is always a no-op once the first one succeeds.
func TestRandomizedCancellationIsAlwaysIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(20240602))
	const trials = 200

	for trial := 0; trial < trials; trial++ {
		b := book.New(testSecurity())

		var ids []string
		numOrders := 1 + rng.Intn(10)
		for i := 0; i < numOrders; i++ {
			side := common.Buy
			if rng.Intn(2) == 1 {
				side = common.Sell
			}
			qty := 1 + rng.Intn(20)
			id := fmt.Sprintf("t%d-o%d", trial, i)
			order := limitOrder(id, "u", side, "50.00", strconv.Itoa(qty), common.GTC)
			_, err := b.Submit(order)
			require.NoError(t, err)
			ids = append(ids, id)
		}

		target := ids[rng.Intn(len(ids))]
		first := b.Cancel(target)
		second := b.Cancel(target)
		assert.False(t, second, "trial %d: cancel(cancel(%s)) must be a no-op", trial, target)
		if !first {
			// Already consumed by a resting cross or otherwise absent;
			// cancelling it again must stay a no-op too.
			assert.False(t, b.Cancel(target))
		}
	}
}

// TestRandomizedFOKIsAllOrNothing is the property-style check for spec.md
// §8 P4: a randomized FOK order either fills completely or leaves the book
// byte-equal to its pre-submit snapshot; there is no partial-fill outcome.
func TestRandomizedFOKIsAllOrNothing(t *testing.T) {
	rng := rand.New(rand.NewSource(20240605))
	const trials = 150

	for trial := 0; trial < trials; trial++ {
		b := book.New(testSecurity())

		numResting := 1 + rng.Intn(6)
		for i := 0; i < numResting; i++ {
			qty := 1 + rng.Intn(30)
			id := fmt.Sprintf("t%d-s%d", trial, i)
			order := limitOrder(id, "maker", common.Sell, "50.00", strconv.Itoa(qty), common.GTC)
			_, err := b.Submit(order)
			require.NoError(t, err)
		}

		before := b.Snapshot(100)

		fokQty := 1 + rng.Intn(100)
		fok := limitOrder(fmt.Sprintf("t%d-fok", trial), "taker", common.Buy, "50.00", strconv.Itoa(fokQty), common.FOK)
		trades, err := b.Submit(fok)

		filled := common.Zero
		for _, tr := range trades {
			filled = filled.Add(tr.Quantity)
		}

		if err == nil {
			assert.True(t, filled.Equal(dec(strconv.Itoa(fokQty))), "trial %d: FOK reported success but did not fully fill", trial)
		} else {
			assert.ErrorIs(t, err, book.ErrFOKInfeasible)
			after := b.Snapshot(100)
			assert.Equal(t, before, after, "trial %d: rejected FOK must leave the book untouched", trial)
		}
	}
}
