package journal

import (
	"context"

	"classroom-exchange/internal/common"
	"classroom-exchange/internal/eventbus"
	"classroom-exchange/internal/portfolio"
)

// Replay feeds a recorded journal's Trade and MarketTick records into a
// fresh Portfolio Engine, in the order given, and returns the resulting
// per-user snapshots. This is the P6 replay-determinism check (spec.md
// §8): the journal is the sole source of truth, so reconstructing from
// it must reproduce the live session's final portfolios bit-for-bit.
//
// Replay only drives the Portfolio Engine, not a full Matching Engine:
// the journal already records trades as matched, so re-matching would
// be redundant and would require replaying order submissions the
// journal never stores.
func Replay(sessionID string, startingCash common.Money, records []common.JournalRecord) (map[string]common.Portfolio, error) {
	bus := eventbus.New()
	seq := eventbus.NewSequencer()
	clock := common.SystemClock{}
	eng := portfolio.New(sessionID, startingCash, bus, seq, NopSink{}, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	// Run subscribes synchronously before it starts processing, but it
	// does so on its own goroutine; wait for that handshake before
	// publishing anything, or the first records would race an
	// as-yet-unsubscribed topic and be silently dropped.
	<-eng.Ready()

	// Register every user that ever appears in a trade or a portfolio
	// summary, mirroring the live session's RegisterUser-before-fill
	// ordering; End journals a summary per participant, so users who
	// never traded are reconstructed too.
	for _, rec := range records {
		switch p := rec.Payload.(type) {
		case common.Trade:
			if p.BuyUserID != "" {
				eng.Register(p.BuyUserID)
			}
			if p.SellUserID != "" {
				eng.Register(p.SellUserID)
			}
		case common.PortfolioSummaryPayload:
			eng.Register(p.Portfolio.UserID)
		}
	}

	topics := eventbus.SessionTopics(sessionID)
	for _, rec := range records {
		switch rec.Payload.(type) {
		case common.Trade:
			bus.Publish(topics.Trades, common.Event{SessionID: sessionID, Seq: rec.Seq, Timestamp: rec.Timestamp, Kind: rec.Kind, Payload: rec.Payload})
		case common.MarketTick:
			bus.Publish(topics.Market, common.Event{SessionID: sessionID, Seq: rec.Seq, Timestamp: rec.Timestamp, Kind: rec.Kind, Payload: rec.Payload})
		}
	}

	// Wait for every published record to actually be applied before
	// snapshotting, then tear the engine down.
	if err := eng.Drain(ctx); err != nil {
		cancel()
		<-done
		return nil, err
	}
	cancel()
	<-done

	out := make(map[string]common.Portfolio)
	for _, userID := range eng.Users() {
		snap, ok := eng.Snapshot(userID)
		if ok {
			out[userID] = snap
		}
	}
	return out, nil
}

// NopSink discards every record; Replay uses one because reconstructed
// state has nowhere further to journal to.
type NopSink struct{}

func (NopSink) Append(string, common.JournalRecord) error { return nil }
