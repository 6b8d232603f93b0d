// Package session is the per-lesson Session Coordinator (spec.md §4.6):
// it owns the CREATED → WAITING → RUNNING → {PAUSED ↔ RUNNING} → ENDED
// lifecycle state machine and is the only caller allowed to start or
// stop the Matching Engine, Market Simulator, and Bot Manager it wires
// together. The wiring style (`eng := engine.New(...); srv :=
// net.New(...); go srv.Run(ctx)`) scales "one engine, one server" up to
// "one coordinator owning an engine, a simulator, a portfolio engine,
// and a bot manager."
package session

import (
	"context"
	"fmt"
	"sync"

	"classroom-exchange/internal/bot"
	"classroom-exchange/internal/common"
	"classroom-exchange/internal/engine"
	"classroom-exchange/internal/eventbus"
	"classroom-exchange/internal/market"
	"classroom-exchange/internal/metrics"
	"classroom-exchange/internal/portfolio"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

// Config is everything needed to stand up one session's full stack.
type Config struct {
	SessionID        string
	Securities       []common.Security
	StartingCash     common.Money
	AllowShort       bool
	PreventSelfCross bool
	Market           market.Config
	RNG              common.RandomSource
	Journal          common.JournalSink
	Clock            common.Clock
	Metrics          *metrics.Collector
}

// Coordinator owns one lesson session end to end. All state-machine
// transitions are serialized by mu; the component goroutines themselves
// remain lock-free, owning their own state per spec.md §5.
type Coordinator struct {
	sessionID string
	bus       *eventbus.Bus
	seq       *eventbus.Sequencer
	clock     common.Clock
	journal   common.JournalSink

	eng       *engine.Engine
	portfolio *portfolio.Engine
	sim       *market.Simulator
	bots      *bot.Manager

	ctx    context.Context
	cancel context.CancelFunc
	t      tomb.Tomb

	mu    sync.Mutex
	state common.SessionState
}

// New wires every component for cfg.SessionID but starts nothing; the
// session begins in CREATED, per spec.md §4.6.
func New(cfg Config) *Coordinator {
	bus := eventbus.New()
	seq := eventbus.NewSequencer()

	coll := cfg.Metrics
	if coll == nil {
		// Every session needs a live Collector to record against; a
		// caller that doesn't care about scraping one (tests, single-
		// lesson CLI runs) still gets a private registry rather than a
		// nil *Collector that would panic on the first metric write.
		coll = metrics.New(prometheus.NewRegistry())
	}

	p := portfolio.New(cfg.SessionID, cfg.StartingCash, bus, seq, cfg.Journal, cfg.Clock, coll)
	eng := engine.New(cfg.SessionID, cfg.Securities, bus, seq, coll, p, cfg.Journal, cfg.Clock, cfg.AllowShort, cfg.PreventSelfCross)
	sim := market.New(cfg.SessionID, cfg.Market, eng, bus, seq, cfg.Journal, cfg.Clock, cfg.RNG)
	bots := bot.New(cfg.SessionID, eng, bus, p, cfg.Securities)

	return &Coordinator{
		sessionID: cfg.SessionID,
		bus:       bus,
		seq:       seq,
		clock:     cfg.Clock,
		journal:   cfg.Journal,
		eng:       eng,
		portfolio: p,
		sim:       sim,
		bots:      bots,
		state:     common.Created,
	}
}

// Bus exposes the session's event bus for subscribers (the broadcaster
// layer, per spec.md §4.7); read-only from the caller's perspective.
func (c *Coordinator) Bus() *eventbus.Bus { return c.bus }

// Engine exposes the session's Matching Engine for client-facing command
// handlers (submit_order, cancel_order, get_book).
func (c *Coordinator) Engine() *engine.Engine { return c.eng }

// Portfolio exposes the session's Portfolio Engine for get_portfolio.
func (c *Coordinator) Portfolio() *portfolio.Engine { return c.portfolio }

// Bots exposes the Bot Manager so a caller can Register strategies
// before Start.
func (c *Coordinator) Bots() *bot.Manager { return c.bots }

// RegisterUser opens a flat starting-cash portfolio for userID. Called
// for every human participant on WAITING-room join and for every bot on
// registration (spec.md §9 "bot cash" decision).
func (c *Coordinator) RegisterUser(userID string) {
	c.portfolio.Register(userID)
}

func (c *Coordinator) transition(to common.SessionState) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()

	log.Info().Str("session_id", c.sessionID).Str("from", from.String()).Str("to", to.String()).Msg("session lifecycle transition")
	ev := common.Event{SessionID: c.sessionID, Seq: c.seq.Next(), Timestamp: c.clock.Now(), Kind: common.KindLifecycle, Payload: common.LifecyclePayload{From: from, To: to}}
	c.bus.Publish(eventbus.SessionTopics(c.sessionID).Lifecycle, ev)
	if c.journal != nil {
		if err := c.journal.Append(c.sessionID, common.JournalRecord{Seq: ev.Seq, Kind: ev.Kind, Payload: ev.Payload, Timestamp: ev.Timestamp}); err != nil {
			log.Error().Err(err).Str("session_id", c.sessionID).Msg("journal append failed")
		}
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() common.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open moves CREATED → WAITING, opening the instructor's waiting room.
// No components start yet; students may join and be registered.
func (c *Coordinator) Open() error {
	c.mu.Lock()
	if c.state != common.Created {
		c.mu.Unlock()
		return fmt.Errorf("session %s: cannot open from state %s", c.sessionID, c.state)
	}
	c.mu.Unlock()
	c.transition(common.Waiting)
	return nil
}

// Start moves WAITING → RUNNING: launches the engine, portfolio engine,
// simulator, and bot manager as tomb-supervised goroutines sharing this
// coordinator's lifetime, then opens the market (spec.md §4.6 "Starting
// transitions market_open to true").
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != common.Waiting {
		c.mu.Unlock()
		return fmt.Errorf("session %s: cannot start from state %s", c.sessionID, c.state)
	}
	c.mu.Unlock()

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.t.Go(func() error { return c.eng.Run(c.ctx) })
	c.t.Go(func() error { return c.portfolio.Run(c.ctx) })
	c.t.Go(func() error { return c.sim.Run(c.ctx) })
	c.t.Go(func() error { return c.bots.Run(c.ctx) })

	if err := c.eng.OpenMarket(c.ctx); err != nil {
		return err
	}
	c.transition(common.Running)
	return nil
}

// Pause moves RUNNING → PAUSED: closes the market (new non-cancel
// submissions get MARKET_CLOSED) and halts the simulator's tick loop.
func (c *Coordinator) Pause(ctx context.Context) error {
	c.mu.Lock()
	if c.state != common.Running {
		c.mu.Unlock()
		return fmt.Errorf("session %s: cannot pause from state %s", c.sessionID, c.state)
	}
	c.mu.Unlock()

	if err := c.eng.CloseMarket(ctx); err != nil {
		return err
	}
	c.sim.Pause()
	c.transition(common.Paused)
	return nil
}

// Resume moves PAUSED → RUNNING, restarting the simulator's tick loop
// from the next scheduled tick and reopening the market.
func (c *Coordinator) Resume(ctx context.Context) error {
	c.mu.Lock()
	if c.state != common.Paused {
		c.mu.Unlock()
		return fmt.Errorf("session %s: cannot resume from state %s", c.sessionID, c.state)
	}
	c.mu.Unlock()

	if err := c.eng.OpenMarket(ctx); err != nil {
		return err
	}
	c.sim.Resume()
	c.transition(common.Running)
	return nil
}

// End moves {RUNNING,PAUSED,WAITING} → ENDED: drains the submission
// queue via EndSession (cancelling every resting order), stops the
// simulator and bot manager, and broadcasts a final portfolio snapshot
// per participant before the lifecycle event itself (spec.md §4.6).
func (c *Coordinator) End(ctx context.Context) error {
	c.mu.Lock()
	if c.state == common.Ended {
		c.mu.Unlock()
		return nil
	}
	started := c.state == common.Running || c.state == common.Paused
	c.mu.Unlock()

	if started {
		if _, err := c.eng.EndSession(ctx); err != nil {
			return err
		}
		c.sim.Kill(nil)
		c.bots.Kill(nil)
		if c.cancel != nil {
			c.cancel()
		}
		_ = c.t.Wait()
	}

	for _, userID := range c.portfolio.Users() {
		snap, ok := c.portfolio.Snapshot(userID)
		if !ok {
			continue
		}
		c.emitFinalSnapshot(userID, snap)
	}

	c.transition(common.Ended)
	return nil
}

func (c *Coordinator) emitFinalSnapshot(userID string, snap common.Portfolio) {
	ev := common.Event{SessionID: c.sessionID, Seq: c.seq.Next(), Timestamp: c.clock.Now(), Kind: common.KindPortfolioSummary, Payload: common.PortfolioSummaryPayload{Portfolio: snap}}
	c.bus.Publish(eventbus.PortfolioTopic(c.sessionID, userID), ev)
	if c.journal == nil {
		return
	}
	if err := c.journal.Append(c.sessionID, common.JournalRecord{Seq: ev.Seq, Kind: ev.Kind, Payload: ev.Payload, Timestamp: ev.Timestamp}); err != nil {
		log.Error().Err(err).Str("session_id", c.sessionID).Msg("journal append failed")
	}
}
