package journal_test

import (
	"path/filepath"
	"testing"
	"time"

	"classroom-exchange/internal/common"
	"classroom-exchange/internal/journal"

	"github.com/stretchr/testify/require"
)

func TestFileSinkRoundTripsTradeAndMarketTickRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")

	sink, err := journal.NewFileSink(path)
	require.NoError(t, err)

	trade := common.Trade{
		ID: "t1", SessionID: "sess-1", SecurityID: "AAPL",
		BuyOrderID: "o1", SellOrderID: "o2", BuyUserID: "bob", SellUserID: "alice",
		Price: dec("50.00"), Quantity: dec("5"), Aggressor: common.Buy,
		Timestamp: time.Unix(0, 0), Seq: 1,
	}
	tick := common.MarketTick{
		SessionID: "sess-1", SecurityID: "AAPL", Day: 0, TickInDay: 0,
		Price: dec("100"), Bid: dec("99.95"), Ask: dec("100.05"), Volume: dec("0"),
		Timestamp: time.Unix(0, 0),
	}

	require.NoError(t, sink.Append("sess-1", common.JournalRecord{Seq: 1, Kind: common.KindTrade, Payload: trade, Timestamp: trade.Timestamp}))
	require.NoError(t, sink.Append("sess-1", common.JournalRecord{Seq: 2, Kind: common.KindMarketTick, Payload: tick, Timestamp: tick.Timestamp}))
	require.NoError(t, sink.Close())

	records, err := journal.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, records, 2)

	gotTrade, ok := records[0].Payload.(common.Trade)
	require.True(t, ok)
	require.Equal(t, trade.ID, gotTrade.ID)
	require.True(t, trade.Price.Equal(gotTrade.Price))

	gotTick, ok := records[1].Payload.(common.MarketTick)
	require.True(t, ok)
	require.Equal(t, tick.SecurityID, gotTick.SecurityID)
	require.True(t, tick.Bid.Equal(gotTick.Bid))
}
