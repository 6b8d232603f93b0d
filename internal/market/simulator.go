// Package market is the per-session Market Simulator (spec.md §4.4): it
// drives the simulated calendar, moves prices by a GBM tick model,
// injects resting liquidity through the Matching Engine's own
// submission queue, and emits the occasional news shock. Grounded on
// "inject synthetic orders into the same queue real orders use" from
// rizrmd-aibot's SimulationExecutor, adapted here to push real LIMIT
// orders into engine.Engine instead of self-contained simulated fills.
package market

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"classroom-exchange/internal/common"
	"classroom-exchange/internal/engine"
	"classroom-exchange/internal/eventbus"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tomb "gopkg.in/tomb.v2"
)

// pausePollInterval is how often a paused simulator checks for resume.
const pausePollInterval = 25 * time.Millisecond

// marketMakerUser is the synthetic attribution for simulator-injected
// liquidity, per spec.md §4.4 ("attributed to a synthetic market-maker
// user").
const marketMakerUser = "sim-market-maker"

// Simulator owns one session's calendar loop. It never touches a Book
// directly; every price-moving action goes through eng.SubmitOrder like
// any other order source, per spec.md §5.
type Simulator struct {
	sessionID string
	cfg       Config
	eng       *engine.Engine
	bus       *eventbus.Bus
	seq       *eventbus.Sequencer
	journal   common.JournalSink
	clock     common.Clock
	rng       common.RandomSource

	mids        map[string]float64
	pendingMuMx map[string]float64 // one-shot drift multiplier for the next tick, from a news shock
	restingBid  map[string]string
	restingAsk  map[string]string

	paused atomic.Bool
	t      tomb.Tomb
}

// New constructs a Simulator for sessionID. eng must be the session's
// already-running Matching Engine.
func New(
	sessionID string,
	cfg Config,
	eng *engine.Engine,
	bus *eventbus.Bus,
	seq *eventbus.Sequencer,
	journal common.JournalSink,
	clock common.Clock,
	rng common.RandomSource,
) *Simulator {
	mids := make(map[string]float64, len(cfg.Securities))
	for _, sc := range cfg.Securities {
		mids[sc.SecurityID] = sc.StartPrice
	}
	return &Simulator{
		sessionID:   sessionID,
		cfg:         cfg,
		eng:         eng,
		bus:         bus,
		seq:         seq,
		journal:     journal,
		clock:       clock,
		rng:         rng,
		mids:        mids,
		pendingMuMx: make(map[string]float64),
		restingBid:  make(map[string]string),
		restingAsk:  make(map[string]string),
	}
}

// Run drives the calendar until ctx is cancelled, the tomb is killed, or
// the configured number of days elapses.
func (s *Simulator) Run(ctx context.Context) error {
	s.t.Go(func() error { return s.runCalendar(ctx) })
	return s.t.Wait()
}

// Kill stops the simulator's calendar loop.
func (s *Simulator) Kill(err error) { s.t.Kill(err) }

// Pause halts the tick loop after the in-flight tick finishes, without
// tearing the calendar down (spec.md §4.6: pause "halts the simulator
// tick loop").
func (s *Simulator) Pause() { s.paused.Store(true) }

// Resume restarts the tick loop from the next scheduled tick.
func (s *Simulator) Resume() { s.paused.Store(false) }

func (s *Simulator) runCalendar(ctx context.Context) error {
	ticksPerDay := s.cfg.TicksPerDay
	if ticksPerDay <= 0 {
		ticksPerDay = 1
	}
	tickInterval := time.Duration(s.cfg.MsPerDay) * time.Millisecond / time.Duration(ticksPerDay)

	for day := 0; day < s.cfg.TotalDays; day++ {
		if s.cancelled(ctx) {
			return nil
		}

		s.emit(eventbus.SessionTopics(s.sessionID).Lifecycle, common.KindDayStart, common.DayBoundaryPayload{Day: day})
		s.maybeInjectNews(day)

		for tick := 0; tick < ticksPerDay; tick++ {
			for s.paused.Load() {
				if s.cancelled(ctx) {
					return nil
				}
				s.clock.Sleep(pausePollInterval)
			}
			if s.cancelled(ctx) {
				return nil
			}
			s.runTick(ctx, day, tick)
			s.clock.Sleep(tickInterval)
		}

		s.emit(eventbus.SessionTopics(s.sessionID).Lifecycle, common.KindDayEnd, common.DayBoundaryPayload{Day: day})
		if _, err := s.eng.ExpireDay(ctx); err != nil {
			log.Error().Err(err).Str("session_id", s.sessionID).Msg("day-end DAY-order expiry failed")
		}
	}

	s.emit(eventbus.SessionTopics(s.sessionID).Lifecycle, common.KindSimulationEnded, common.SimulationEndedPayload{TotalDays: s.cfg.TotalDays})
	return nil
}

func (s *Simulator) cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-s.t.Dying():
		return true
	default:
		return false
	}
}

// runTick advances every security's mid by one GBM step, requotes the
// bid/ask, and re-injects the two resting liquidity orders.
func (s *Simulator) runTick(ctx context.Context, day, tick int) {
	dt := 1.0 / float64(maxInt(s.cfg.TicksPerDay, 1))

	for _, sc := range s.cfg.Securities {
		mu := sc.Drift * s.pendingMuMx[sc.SecurityID]
		if s.pendingMuMx[sc.SecurityID] == 0 {
			mu = sc.Drift
		}
		delete(s.pendingMuMx, sc.SecurityID)

		sigma := sc.Volatility
		z := s.rng.NextNormal()

		mid := s.mids[sc.SecurityID]
		mid = mid * math.Exp((mu-sigma*sigma/2)*dt+sigma*math.Sqrt(dt)*z)
		s.mids[sc.SecurityID] = mid

		midMoney := decimal.NewFromFloat(mid)
		bid := common.SnapToTick(midMoney.Mul(decimal.NewFromFloat(1-sc.SpreadBps/20000)), sc.TickSize)
		ask := common.SnapToTick(midMoney.Mul(decimal.NewFromFloat(1+sc.SpreadBps/20000)), sc.TickSize)

		s.reinjectLiquidity(ctx, sc.SecurityID, bid, ask)

		_, _, volume, _ := s.eng.MarketStats(ctx, sc.SecurityID)
		s.emit(eventbus.SessionTopics(s.sessionID).Market, common.KindMarketTick, common.MarketTick{
			SessionID: s.sessionID, SecurityID: sc.SecurityID,
			Day: day, TickInDay: tick,
			Price: common.SnapToTick(midMoney, sc.TickSize), Bid: bid, Ask: ask,
			Volume: volume, Timestamp: s.clock.Now(),
		})
	}
}

// reinjectLiquidity cancels the previous tick's resting quotes (if any)
// and posts a fresh BUY at bid / SELL at ask, sized to the lesson's
// liquidity parameter (spec.md §4.4).
func (s *Simulator) reinjectLiquidity(ctx context.Context, securityID string, bid, ask common.Money) {
	if id, ok := s.restingBid[securityID]; ok {
		_ = s.eng.CancelOrder(ctx, id, marketMakerUser)
	}
	if id, ok := s.restingAsk[securityID]; ok {
		_ = s.eng.CancelOrder(ctx, id, marketMakerUser)
	}

	buyOrder := &common.Order{
		UserID: marketMakerUser, SecurityID: securityID,
		Side: common.Buy, Type: common.Limit, HasPrice: true, Price: bid,
		Quantity: s.cfg.LiquidityQty, Remaining: s.cfg.LiquidityQty,
		TIF: common.DAY, Synthetic: true,
	}
	if _, err := s.eng.SubmitOrder(ctx, buyOrder, time.Time{}); err == nil {
		s.restingBid[securityID] = buyOrder.ID
	}

	sellOrder := &common.Order{
		UserID: marketMakerUser, SecurityID: securityID,
		Side: common.Sell, Type: common.Limit, HasPrice: true, Price: ask,
		Quantity: s.cfg.LiquidityQty, Remaining: s.cfg.LiquidityQty,
		TIF: common.DAY, Synthetic: true,
	}
	if _, err := s.eng.SubmitOrder(ctx, sellOrder, time.Time{}); err == nil {
		s.restingAsk[securityID] = sellOrder.ID
	}
}

// maybeInjectNews draws one news event with probability news_frequency
// and, if drawn, queues a one-shot drift multiplier for the affected
// security's next tick (spec.md §4.4 "News").
func (s *Simulator) maybeInjectNews(day int) {
	if s.rng.NextUniform() >= s.cfg.NewsFrequency || len(s.cfg.Securities) == 0 {
		return
	}

	idx := int(s.rng.NextUniform() * float64(len(s.cfg.Securities)))
	if idx >= len(s.cfg.Securities) {
		idx = len(s.cfg.Securities) - 1
	}
	sc := s.cfg.Securities[idx]

	sign := 1.0
	if s.rng.NextUniform() < 0.5 {
		sign = -1.0
	}
	severity := s.rng.NextUniform()

	s.pendingMuMx[sc.SecurityID] = severity * sign

	news := common.NewsEvent{
		SessionID: s.sessionID, Day: day,
		Headline:   newsHeadline(sc.SecurityID, sign),
		Symbols:    []string{sc.SecurityID},
		ImpactSign: int(sign),
		Severity:   severity,
	}
	s.emit(eventbus.SessionTopics(s.sessionID).News, common.KindNews, news)
}

func newsHeadline(securityID string, sign float64) string {
	if sign > 0 {
		return securityID + ": analysts raise outlook"
	}
	return securityID + ": analysts cut outlook"
}

func (s *Simulator) emit(topic string, kind common.EventKind, payload any) {
	ev := common.Event{SessionID: s.sessionID, Seq: s.seq.Next(), Timestamp: s.clock.Now(), Kind: kind, Payload: payload}
	s.bus.Publish(topic, ev)
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(s.sessionID, common.JournalRecord{Seq: ev.Seq, Kind: kind, Payload: payload, Timestamp: ev.Timestamp}); err != nil {
		log.Error().Err(err).Str("session_id", s.sessionID).Msg("journal append failed")
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
