package engine

import (
	"errors"

	"classroom-exchange/internal/book"
	"classroom-exchange/internal/common"
	"classroom-exchange/internal/eventbus"

	"github.com/rs/zerolog/log"
)

// handle dispatches one queued submission. It is the only place that
// touches e.books, e.ended, or e.marketOpen, which is what makes the
// single-writer invariant (spec.md §5) hold without any lock.
func (e *Engine) handle(sub submission) {
	switch sub.kind {
	case kindSubmitOrder:
		e.handleSubmitOrder(sub)
	case kindCancelOrder:
		e.handleCancelOrder(sub)
	case kindGetBook:
		e.handleGetBook(sub)
	case kindLastPrice:
		e.handleLastPrice(sub)
	case kindOpenMarket:
		e.marketOpen = true
		sub.reply <- submitResult{}
	case kindCloseMarket:
		e.marketOpen = false
		sub.reply <- submitResult{}
	case kindExpireDay:
		e.handleExpireDay(sub)
	case kindEndSession:
		e.handleEndSession(sub)
	}
}

func (e *Engine) handleSubmitOrder(sub submission) {
	order := sub.order

	if !sub.deadline.IsZero() && e.clock.Now().After(sub.deadline) {
		order.Status = common.Rejected
		order.Reject = common.TimedOut
		e.rejectMetric(order)
		sub.reply <- submitResult{order: order, err: common.NewRejection(common.ClassTransient, common.TimedOut, ErrTimedOut)}
		return
	}

	if e.ended {
		order.Status = common.Rejected
		order.Reject = common.SessionEnded
		e.rejectMetric(order)
		sub.reply <- submitResult{order: order, err: common.NewRejection(common.ClassPolicy, common.SessionEnded, ErrSessionEnded)}
		return
	}

	if !e.marketOpen && !order.Synthetic {
		order.Status = common.Rejected
		order.Reject = common.MarketClosed
		e.rejectMetric(order)
		sub.reply <- submitResult{order: order, err: common.NewRejection(common.ClassPolicy, common.MarketClosed, book.ErrMarketClosed)}
		return
	}

	b, ok := e.books[order.SecurityID]
	if !ok {
		order.Status = common.Rejected
		order.Reject = common.UnknownSecurity
		e.rejectMetric(order)
		sub.reply <- submitResult{order: order, err: common.NewRejection(common.ClassValidation, common.UnknownSecurity, ErrUnknownSecurity)}
		return
	}

	order.Seq = e.nextSeq()
	order.SubmittedAt = e.clock.Now()

	if !order.Synthetic {
		if err := e.checkRisk(b, order); err != nil {
			e.rejectMetric(order)
			e.emit(eventbus.OrdersTopic(e.sessionID, order.UserID), common.KindOrderUpdate, common.OrderUpdatePayload{Order: *order})
			sub.reply <- submitResult{order: order, err: err}
			return
		}
	}

	trades, err := b.Submit(order)
	if err != nil {
		e.rejectMetric(order)
		if errors.Is(err, book.ErrInvariantViolation) {
			e.reportInvariantViolation(order, err)
		}
		e.emit(eventbus.OrdersTopic(e.sessionID, order.UserID), common.KindOrderUpdate, common.OrderUpdatePayload{Order: *order})
		sub.reply <- submitResult{order: order, err: common.NewRejection(classify(err), order.Reject, err)}
		return
	}

	e.emitResult(b, order, trades)
	e.processActivations(b)

	sub.reply <- submitResult{order: order, trades: trades}
}

func (e *Engine) handleCancelOrder(sub submission) {
	for _, b := range e.books {
		order, ok := b.Order(sub.cancelOrderID)
		if !ok {
			continue
		}
		if order.UserID != sub.cancelUserID {
			// Cancelling someone else's order is treated the same as
			// cancelling one that doesn't exist: a silent no-op.
			break
		}
		if b.Cancel(sub.cancelOrderID) {
			e.emit(eventbus.OrdersTopic(e.sessionID, order.UserID), common.KindOrderUpdate, common.OrderUpdatePayload{Order: *order})
		}
		break
	}
	sub.reply <- submitResult{}
}

func (e *Engine) handleGetBook(sub submission) {
	b, ok := e.books[sub.securityID]
	if !ok {
		sub.reply <- submitResult{err: ErrUnknownSecurity}
		return
	}
	depth := sub.depth
	if depth <= 0 {
		depth = defaultSnapshotDepth
	}
	sub.reply <- submitResult{snapshot: b.Snapshot(depth)}
}

func (e *Engine) handleLastPrice(sub submission) {
	b, ok := e.books[sub.securityID]
	if !ok {
		sub.reply <- submitResult{err: ErrUnknownSecurity}
		return
	}
	price, has := b.LastPrice()
	sub.reply <- submitResult{price: price, hasPrice: has, volume: b.Volume()}
}

func (e *Engine) handleExpireDay(sub submission) {
	var all []*common.Order
	for _, b := range e.books {
		for _, o := range b.ExpireDay() {
			e.emit(eventbus.OrdersTopic(e.sessionID, o.UserID), common.KindOrderUpdate, common.OrderUpdatePayload{Order: *o})
			all = append(all, o)
		}
	}
	sub.reply <- submitResult{cancelled: all}
}

func (e *Engine) handleEndSession(sub submission) {
	var all []*common.Order
	for _, b := range e.books {
		for _, o := range b.CancelAllResting() {
			e.emit(eventbus.OrdersTopic(e.sessionID, o.UserID), common.KindOrderUpdate, common.OrderUpdatePayload{Order: *o})
			all = append(all, o)
		}
	}
	e.ended = true
	e.marketOpen = false
	sub.reply <- submitResult{cancelled: all}
}

// processActivations resubmits every stop order a trade just triggered,
// converting STOP to MARKET and STOP_LIMIT to LIMIT before re-entering
// the book. Each activation is its own atomic submit; any activation it
// in turn triggers queues for the next iteration of this loop rather
// than recursing into the same match, per spec.md §4.1's
// one-pass-per-trade cascade rule.
func (e *Engine) processActivations(b *book.Book) {
	for {
		activated := b.DrainActivations()
		if len(activated) == 0 {
			return
		}
		for _, order := range activated {
			switch order.Type {
			case common.Stop:
				order.Type = common.Market
			case common.StopLimit:
				order.Type = common.Limit
			}

			if !order.Synthetic {
				if err := e.checkRisk(b, order); err != nil {
					e.rejectMetric(order)
					e.emit(eventbus.OrdersTopic(e.sessionID, order.UserID), common.KindOrderUpdate, common.OrderUpdatePayload{Order: *order})
					continue
				}
			}

			trades, err := b.Submit(order)
			if err != nil {
				e.rejectMetric(order)
				if errors.Is(err, book.ErrInvariantViolation) {
					e.reportInvariantViolation(order, err)
				}
				e.emit(eventbus.OrdersTopic(e.sessionID, order.UserID), common.KindOrderUpdate, common.OrderUpdatePayload{Order: *order})
				continue
			}
			e.emitResult(b, order, trades)
		}
	}
}

// reportInvariantViolation records a post-match invariant failure
// (spec.md §7's Internal error class): it logs a diagnostic and
// increments the exported counter, but never kills the session
// worker — processing continues with the next submission.
func (e *Engine) reportInvariantViolation(order *common.Order, err error) {
	log.Error().Str("session_id", e.sessionID).Str("order_id", order.ID).Err(err).Msg("invariant violation detected during match")
	if e.metrics != nil {
		e.metrics.InvariantViolations.WithLabelValues(e.sessionID, "I5").Inc()
	}
}

// emitResult stamps and publishes the Trade/BookUpdate/OrderUpdate
// sequence for one processed order, in the order spec.md §4.2 requires.
func (e *Engine) emitResult(b *book.Book, order *common.Order, trades []common.Trade) {
	topics := eventbus.SessionTopics(e.sessionID)

	for i := range trades {
		trades[i].ID = newTradeID()
		trades[i].SessionID = e.sessionID
		trades[i].Timestamp = e.clock.Now()
		seq := e.nextSeq()
		trades[i].Seq = seq
		if e.metrics != nil {
			e.metrics.TradesTotal.WithLabelValues(e.sessionID, trades[i].SecurityID).Inc()
		}
		e.emitWithSeq(topics.Trades, seq, common.KindTrade, trades[i])
	}

	if len(trades) > 0 {
		e.emit(eventbus.BookTopic(e.sessionID, order.SecurityID), common.KindBookUpdate, b.Snapshot(defaultSnapshotDepth))
	}

	e.emit(eventbus.OrdersTopic(e.sessionID, order.UserID), common.KindOrderUpdate, common.OrderUpdatePayload{Order: *order, Fills: trades})
}

func (e *Engine) rejectMetric(order *common.Order) {
	if e.metrics != nil {
		e.metrics.OrdersRejectedTotal.WithLabelValues(e.sessionID, order.Reject.String()).Inc()
	}
}

func (e *Engine) nextSeq() uint64 { return e.seq.Next() }

func (e *Engine) emit(topic string, kind common.EventKind, payload any) {
	e.emitWithSeq(topic, e.nextSeq(), kind, payload)
}

func (e *Engine) emitWithSeq(topic string, seq uint64, kind common.EventKind, payload any) {
	ev := common.Event{SessionID: e.sessionID, Seq: seq, Timestamp: e.clock.Now(), Kind: kind, Payload: payload}
	e.bus.Publish(topic, ev)
	if e.journal == nil {
		return
	}
	record := common.JournalRecord{Seq: seq, Kind: kind, Payload: payload, Timestamp: ev.Timestamp}
	if err := e.journal.Append(e.sessionID, record); err != nil {
		journalAppendFailed(e.sessionID, err)
	}
}
