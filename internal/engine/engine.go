// Package engine is the per-session Matching Engine (spec.md §4.2): one
// actor goroutine owning every security's Order Book for a session,
// fed by a single bounded submission queue so I3-I5 hold without any
// locking inside the book itself. The actor wiring (tomb.WithContext,
// t.Go, a single consumer draining a channel) generalizes "one tomb per
// TCP listener" to "one tomb per trading session."
package engine

import (
	"context"
	"fmt"
	"time"

	"classroom-exchange/internal/book"
	"classroom-exchange/internal/common"
	"classroom-exchange/internal/eventbus"
	"classroom-exchange/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

// defaultQueueDepth is the bounded submission channel size from spec.md §5.
const defaultQueueDepth = 4096

// defaultSnapshotDepth bounds how many price levels GetBook returns when
// the caller doesn't specify a depth.
const defaultSnapshotDepth = 50

// Engine owns one Order Book per security for exactly one session. All
// mutation happens inside the single goroutine started by Run; every
// other method sends a submission and blocks on its reply channel.
type Engine struct {
	sessionID string

	queue chan submission
	t     tomb.Tomb

	books map[string]*book.Book

	bus       *eventbus.Bus
	seq       *eventbus.Sequencer
	metrics   *metrics.Collector
	portfolio PortfolioReader
	journal   common.JournalSink
	clock     common.Clock

	ended      bool
	marketOpen bool

	allowShort bool
}

// New constructs an Engine for sessionID over securities. allowShort and
// preventSelfCross are the per-session policy flags from spec.md §9; the
// returned Engine does nothing until Run is called.
func New(
	sessionID string,
	securities []common.Security,
	bus *eventbus.Bus,
	seq *eventbus.Sequencer,
	coll *metrics.Collector,
	portfolio PortfolioReader,
	journal common.JournalSink,
	clock common.Clock,
	allowShort bool,
	preventSelfCross bool,
) *Engine {
	books := make(map[string]*book.Book, len(securities))
	for _, sec := range securities {
		b := book.New(sec)
		b.PreventSelfCross = preventSelfCross
		books[sec.ID] = b
	}
	return &Engine{
		sessionID:  sessionID,
		queue:      make(chan submission, defaultQueueDepth),
		books:      books,
		bus:        bus,
		seq:        seq,
		metrics:    coll,
		portfolio:  portfolio,
		journal:    journal,
		clock:      clock,
		allowShort: allowShort,
	}
}

// Run starts the engine's actor loop under ctx, returning once the loop
// exits (on ctx cancellation or Kill). Callers typically do
// `e.t.Go(func() error { return e.Run(ctx) })` style wiring one level up
// (in session.Coordinator).
func (e *Engine) Run(ctx context.Context) error {
	e.t.Go(func() error {
		return e.loop(ctx)
	})
	return e.t.Wait()
}

// Kill requests the engine's loop to stop once the submission it is
// handling, if any, is done; submissions still queued are not processed.
func (e *Engine) Kill(err error) { e.t.Kill(err) }

// Dead reports when the engine's actor loop has fully exited.
func (e *Engine) Dead() <-chan struct{} { return e.t.Dead() }

func (e *Engine) loop(ctx context.Context) error {
	log.Info().Str("session_id", e.sessionID).Msg("matching engine started")
	for {
		if e.metrics != nil {
			e.metrics.QueueDepth.WithLabelValues(e.sessionID).Set(float64(len(e.queue)))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-e.t.Dying():
			return nil
		case sub := <-e.queue:
			e.handle(sub)
		}
	}
}

// send enqueues sub and waits for its reply, honoring ctx cancellation.
// A saturated queue blocks the caller until there is room, ctx is done,
// or the engine stops; no BUSY rejection is produced.
func (e *Engine) send(ctx context.Context, sub submission) (submitResult, error) {
	sub.reply = make(chan submitResult, 1)
	select {
	case e.queue <- sub:
	case <-ctx.Done():
		return submitResult{}, ctx.Err()
	case <-e.t.Dying():
		return submitResult{}, fmt.Errorf("engine: session %s ended", e.sessionID)
	}

	select {
	case res := <-sub.reply:
		return res, res.err
	case <-ctx.Done():
		return submitResult{}, ctx.Err()
	case <-e.t.Dying():
		return submitResult{}, fmt.Errorf("engine: session %s ended", e.sessionID)
	}
}

// SubmitOrder enqueues order for matching, assigns it an ID if empty,
// and blocks until the engine has processed it (filled, partially
// filled, rested, or rejected). deadline, if non-zero, is the latest
// time the order may still be waiting in queue before the engine gives
// up and rejects it TIMED_OUT (spec.md §5 "cancellation and timeouts").
func (e *Engine) SubmitOrder(ctx context.Context, order *common.Order, deadline time.Time) ([]common.Trade, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	res, err := e.send(ctx, submission{kind: kindSubmitOrder, order: order, deadline: deadline})
	return res.trades, err
}

// CancelOrder requests cancellation of orderID on behalf of userID.
// Idempotent per spec.md §4.2: an unknown or already-terminal order is
// a no-op success, never surfaced to the caller as an error.
func (e *Engine) CancelOrder(ctx context.Context, orderID, userID string) error {
	_, err := e.send(ctx, submission{kind: kindCancelOrder, cancelOrderID: orderID, cancelUserID: userID})
	return err
}

// GetBook returns a depth snapshot for securityID via the same
// serialized queue other submissions use, so a reader never observes a
// torn mid-mutation state (spec.md §5 "shared-resource policy").
func (e *Engine) GetBook(ctx context.Context, securityID string, depth int) (common.BookSnapshot, error) {
	res, err := e.send(ctx, submission{kind: kindGetBook, securityID: securityID, depth: depth})
	return res.snapshot, err
}

// LastPrice returns the last traded price for securityID, if any.
func (e *Engine) LastPrice(ctx context.Context, securityID string) (common.Money, bool, error) {
	res, err := e.send(ctx, submission{kind: kindLastPrice, securityID: securityID})
	return res.price, res.hasPrice, err
}

// MarketStats returns the last traded price and cumulative traded volume
// for securityID, for the Market Simulator's per-tick MarketTick events.
func (e *Engine) MarketStats(ctx context.Context, securityID string) (price common.Money, hasPrice bool, volume common.Money, err error) {
	res, sendErr := e.send(ctx, submission{kind: kindLastPrice, securityID: securityID})
	return res.price, res.hasPrice, res.volume, sendErr
}

// OpenMarket flips the engine into RUNNING with market_open=true; called
// only by the Session Coordinator on the CREATED/WAITING→RUNNING and
// PAUSED→RUNNING transitions.
func (e *Engine) OpenMarket(ctx context.Context) error {
	_, err := e.send(ctx, submission{kind: kindOpenMarket})
	return err
}

// CloseMarket flips market_open=false without tearing the engine down;
// used for RUNNING→PAUSED (spec.md §4.6: "pause halts the simulator tick
// loop and rejects new non-cancel submissions with MARKET_CLOSED").
func (e *Engine) CloseMarket(ctx context.Context) error {
	_, err := e.send(ctx, submission{kind: kindCloseMarket})
	return err
}

// ExpireDay cancels every resting DAY order across all securities,
// called by the Market Simulator at each simulated day boundary.
func (e *Engine) ExpireDay(ctx context.Context) ([]*common.Order, error) {
	res, err := e.send(ctx, submission{kind: kindExpireDay})
	return res.cancelled, err
}

// EndSession cancels every resting order across all securities and
// leaves the engine in a state where further submissions are rejected
// SESSION_ENDED; called once by the Session Coordinator on ENDED.
func (e *Engine) EndSession(ctx context.Context) ([]*common.Order, error) {
	res, err := e.send(ctx, submission{kind: kindEndSession})
	return res.cancelled, err
}

func newTradeID() string { return uuid.NewString() }

func journalAppendFailed(sessionID string, err error) {
	log.Error().Err(err).Str("session_id", sessionID).Msg("journal append failed")
}
