// Package portfolio is the per-session Portfolio Engine (spec.md §4.3):
// it owns every participant's cash and positions for one session,
// applying fills as they arrive off the event bus and marking positions
// to market on every tick, in the project's struct-plus-methods idiom
// with zerolog on every applied trade.
package portfolio

import (
	"context"
	"sync"

	"classroom-exchange/internal/common"
	"classroom-exchange/internal/eventbus"
	"classroom-exchange/internal/metrics"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

// Engine owns cash and positions for every participant of one session.
// Reads (Cash, PositionQuantity) and Register are safe from any
// goroutine; cash and positions only change inside Run's event loop.
type Engine struct {
	sessionID    string
	startingCash common.Money

	bus     *eventbus.Bus
	seq     *eventbus.Sequencer
	journal common.JournalSink
	clock   common.Clock
	metrics *metrics.Collector

	mu         sync.RWMutex
	portfolios map[string]*common.Portfolio

	ready chan struct{}
	t     tomb.Tomb
}

// New constructs a Portfolio Engine for sessionID. Every participant
// opens with startingCash once Register is called for them. seq must be
// the same Sequencer passed to this session's Matching Engine, so
// portfolio events interleave causally with trade/book events. coll may
// be nil (tests, Replay), in which case the open-positions gauge is
// simply never written.
func New(sessionID string, startingCash common.Money, bus *eventbus.Bus, seq *eventbus.Sequencer, journal common.JournalSink, clock common.Clock, coll *metrics.Collector) *Engine {
	return &Engine{
		sessionID:    sessionID,
		startingCash: startingCash,
		bus:          bus,
		seq:          seq,
		journal:      journal,
		clock:        clock,
		metrics:      coll,
		portfolios:   make(map[string]*common.Portfolio),
		ready:        make(chan struct{}),
	}
}

// Register opens a flat portfolio for userID funded with startingCash,
// if one doesn't already exist. Called through the Session Coordinator's
// RegisterUser for every participant, human or bot.
func (e *Engine) Register(userID string) *common.Portfolio {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.portfolios[userID]
	if !ok {
		p = common.NewPortfolio(e.sessionID, userID, e.startingCash)
		e.portfolios[userID] = p
	}
	return p
}

// Cash implements engine.PortfolioReader.
func (e *Engine) Cash(userID string) (common.Money, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.portfolios[userID]
	if !ok {
		return common.Zero, false
	}
	return p.Cash, true
}

// PositionQuantity implements engine.PortfolioReader.
func (e *Engine) PositionQuantity(userID, securityID string) (common.Money, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.portfolios[userID]
	if !ok {
		return common.Zero, false
	}
	pos, ok := p.Positions[securityID]
	if !ok {
		return common.Zero, false
	}
	return pos.Quantity, true
}

// Snapshot returns a deep-enough copy of userID's portfolio for
// client-facing reads; callers must not mutate the returned positions.
func (e *Engine) Snapshot(userID string) (common.Portfolio, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.portfolios[userID]
	if !ok {
		return common.Portfolio{}, false
	}
	out := *p
	out.Positions = make(map[string]*common.Position, len(p.Positions))
	for sec, pos := range p.Positions {
		cp := *pos
		out.Positions[sec] = &cp
	}
	return out, true
}

// Users returns every participant registered so far, for the Session
// Coordinator's end-of-session portfolio broadcast (spec.md §4.6).
func (e *Engine) Users() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	users := make([]string, 0, len(e.portfolios))
	for userID := range e.portfolios {
		users = append(users, userID)
	}
	return users
}

// Ready returns a channel that closes once Run has subscribed to this
// session's topics. Publish drops events for topics with no current
// subscriber (spec.md §4.7), so a caller that starts Run on its own
// goroutine and then publishes immediately must wait on Ready first or
// risk losing the earliest events to that race.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// Run subscribes to this session's trade and market-tick topics and
// applies every event serially until ctx is done, mirroring the
// teacher's one-goroutine-per-task tomb wiring.
func (e *Engine) Run(ctx context.Context) error {
	topics := eventbus.SessionTopics(e.sessionID)
	trades := e.bus.Subscribe(topics.Trades)
	ticks := e.bus.Subscribe(topics.Market)
	defer trades.Unsubscribe()
	defer ticks.Unsubscribe()
	close(e.ready)

	e.t.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-e.t.Dying():
				return nil
			case ev, ok := <-trades.C:
				if !ok {
					return nil
				}
				e.applyEvent(ev)
			case ev, ok := <-ticks.C:
				if !ok {
					return nil
				}
				e.applyEvent(ev)
			}
		}
	})
	return e.t.Wait()
}

// Kill stops the Portfolio Engine's event loop.
func (e *Engine) Kill(err error) { e.t.Kill(err) }

// drainMarker is an internal payload Drain publishes onto each of this
// Engine's subscribed topics; applyEvent recognizes it by type ahead of
// the Kind switch and signals done rather than trying to interpret it
// as a trade or tick.
type drainMarker struct{ done chan struct{} }

// Drain blocks until every event already published to this Engine's
// topics has been applied. It works by publishing a marker behind
// everything already enqueued on each topic's channel and waiting for
// the worker to reach it; channel delivery is FIFO per subscriber, so
// the marker can only be received after every real event ahead of it
// has already been dequeued. Only safe when this Engine's bus has no
// other subscriber of these topics — true for Replay's private bus,
// not for a live session's shared one.
func (e *Engine) Drain(ctx context.Context) error {
	topics := eventbus.SessionTopics(e.sessionID)
	tradesDone := make(chan struct{})
	ticksDone := make(chan struct{})
	e.bus.Publish(topics.Trades, common.Event{Payload: drainMarker{done: tradesDone}})
	e.bus.Publish(topics.Market, common.Event{Payload: drainMarker{done: ticksDone}})

	for _, done := range []chan struct{}{tradesDone, ticksDone} {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *Engine) applyEvent(ev common.Event) {
	if marker, ok := ev.Payload.(drainMarker); ok {
		close(marker.done)
		return
	}
	switch ev.Kind {
	case common.KindTrade:
		trade, ok := ev.Payload.(common.Trade)
		if !ok {
			return
		}
		e.applyTrade(trade)
	case common.KindMarketTick:
		tick, ok := ev.Payload.(common.MarketTick)
		if !ok {
			return
		}
		e.applyMark(tick)
	}
}

// applyTrade implements spec.md §4.3's fill-application rule for both
// legs of trade, each against the respective user's own position.
func (e *Engine) applyTrade(trade common.Trade) {
	e.applyFill(trade.BuyUserID, trade.SecurityID, common.Buy, trade.Price, trade.Quantity)
	e.applyFill(trade.SellUserID, trade.SecurityID, common.Sell, trade.Price, trade.Quantity)
}

func (e *Engine) applyFill(userID, securityID string, side common.Side, price, qty common.Money) {
	if userID == "" {
		return
	}

	e.mu.Lock()
	p, ok := e.portfolios[userID]
	if !ok {
		p = common.NewPortfolio(e.sessionID, userID, e.startingCash)
		e.portfolios[userID] = p
	}
	pos := p.Position(securityID)

	signedQty := qty
	if side == common.Sell {
		signedQty = qty.Neg()
	}

	if side == common.Buy {
		p.Cash = p.Cash.Sub(price.Mul(qty))
	} else {
		p.Cash = p.Cash.Add(price.Mul(qty))
	}

	applyFIFOThroughZero(pos, price, qty, signedQty)
	pos.UnrealizedPnL = markToMarket(pos)

	open := e.countOpenPositionsLocked()
	posCopy := *pos
	portfolioCopy := *p
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.OpenPositions.WithLabelValues(e.sessionID).Set(float64(open))
	}

	log.Debug().
		Str("session_id", e.sessionID).
		Str("user_id", userID).
		Str("security_id", securityID).
		Str("side", side.String()).
		Str("qty", qty.String()).
		Str("price", price.String()).
		Msg("applied trade to portfolio")

	e.emit(eventbus.PortfolioTopic(e.sessionID, userID), common.KindPositionUpdate, common.PositionUpdatePayload{Position: posCopy})
	e.emit(eventbus.PortfolioTopic(e.sessionID, userID), common.KindPortfolioSummary, common.PortfolioSummaryPayload{Portfolio: portfolioCopy})
}

// applyFIFOThroughZero is spec.md §4.3's position-update rule: averaging
// while the sign is unchanged, realizing the closed leg and reopening
// the residual at the trade price when the fill crosses through zero.
func applyFIFOThroughZero(pos *common.Position, price, qty, signedQty common.Money) {
	if pos.Quantity.IsZero() || pos.Quantity.Sign() == signedQty.Sign() {
		absExisting := pos.Quantity.Abs()
		notional := pos.AvgPrice.Mul(absExisting).Add(price.Mul(qty))
		newAbs := absExisting.Add(qty)
		pos.AvgPrice = notional.Div(newAbs)
		pos.Quantity = pos.Quantity.Add(signedQty)
		return
	}

	// Opposing signs: this fill closes some or all of the existing
	// position before (possibly) opening a new one on the other side.
	closed := decMin(pos.Quantity.Abs(), qty)
	diff := price.Sub(pos.AvgPrice).Mul(closed)
	if pos.Quantity.IsNegative() {
		diff = diff.Neg()
	}
	pos.RealizedPnL = pos.RealizedPnL.Add(diff)

	residual := qty.Sub(closed)
	pos.Quantity = pos.Quantity.Add(signedQty)

	switch {
	case pos.Quantity.IsZero():
		pos.AvgPrice = common.Zero
	case residual.IsPositive():
		pos.AvgPrice = price
	}
}

func markToMarket(pos *common.Position) common.Money {
	if pos.Quantity.IsZero() {
		return common.Zero
	}
	return pos.LastMarkPrice.Sub(pos.AvgPrice).Mul(pos.Quantity)
}

// countOpenPositionsLocked counts every non-flat position across every
// participant of this session. Callers must hold e.mu.
func (e *Engine) countOpenPositionsLocked() int {
	count := 0
	for _, p := range e.portfolios {
		for _, pos := range p.Positions {
			if !pos.Quantity.IsZero() {
				count++
			}
		}
	}
	return count
}

func decMin(a, b common.Money) common.Money {
	if a.LessThan(b) {
		return a
	}
	return b
}

// applyMark implements spec.md §4.3's tick-driven mark: every position in
// the ticked security gets last_mark_price refreshed and unrealized P&L
// recomputed, emitting a PnLUpdate per user.
func (e *Engine) applyMark(tick common.MarketTick) {
	type markResult struct {
		userID string
		pnl    common.Money
	}
	var results []markResult

	e.mu.Lock()
	for userID, p := range e.portfolios {
		pos, ok := p.Positions[tick.SecurityID]
		if !ok {
			continue
		}
		pos.LastMarkPrice = tick.Price
		pos.UnrealizedPnL = markToMarket(pos)
		results = append(results, markResult{userID: userID, pnl: pos.UnrealizedPnL})
	}
	e.mu.Unlock()

	for _, r := range results {
		e.emit(eventbus.PortfolioTopic(e.sessionID, r.userID), common.KindPnLUpdate, common.PnLUpdatePayload{
			SecurityID:    tick.SecurityID,
			UserID:        r.userID,
			UnrealizedPnL: r.pnl,
			MarkPrice:     tick.Price,
		})
	}
}

func (e *Engine) emit(topic string, kind common.EventKind, payload any) {
	ev := common.Event{SessionID: e.sessionID, Seq: e.seq.Next(), Timestamp: e.clock.Now(), Kind: kind, Payload: payload}
	e.bus.Publish(topic, ev)
	if e.journal == nil {
		return
	}
	if err := e.journal.Append(e.sessionID, common.JournalRecord{Seq: ev.Seq, Kind: kind, Payload: payload, Timestamp: ev.Timestamp}); err != nil {
		log.Error().Err(err).Str("session_id", e.sessionID).Msg("journal append failed")
	}
}
