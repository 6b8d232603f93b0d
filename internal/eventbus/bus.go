// Package eventbus is the in-process topic-based pub/sub fabric of
// spec.md §4.7: append-only, seq-monotonic topics, best-effort ordered
// delivery, tail-drop on a slow subscriber rather than ever reordering.
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"

	"classroom-exchange/internal/common"

	"github.com/rs/zerolog/log"
)

// defaultBufferSize bounds each subscriber's backlog before the bus starts
// dropping from the tail, per spec.md §4.7.
const defaultBufferSize = 1024

// Sequencer hands out a strictly increasing seq shared by every task in
// a session (matching engine, portfolio engine, market simulator), so
// events published from different goroutines still compose into one
// causally consistent order per spec.md §5's cross-topic ordering
// guarantee.
type Sequencer struct{ n atomic.Uint64 }

// NewSequencer creates a sequencer starting at 1.
func NewSequencer() *Sequencer { return &Sequencer{} }

// Next returns the next value in the sequence.
func (s *Sequencer) Next() uint64 { return s.n.Add(1) }

// Subscription is a single subscriber's view of a topic.
type Subscription struct {
	Topic string
	C     <-chan common.Event

	bus *Bus
	ch  chan common.Event
}

// Unsubscribe detaches this subscription; the bus stops delivering to it.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.Topic, s)
}

// Bus is a per-session (or global, for cross-session topics like
// session.<id>.lifecycle) registry of topics to subscriber channels.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*subscriber
}

type subscriber struct {
	ch      chan common.Event
	mu      sync.Mutex
	dropped int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]*subscriber)}
}

// Subscribe attaches a new subscriber to topic with the default buffer
// size. The returned Subscription's lifetime is the caller's
// responsibility to close with Unsubscribe.
func (b *Bus) Subscribe(topic string) *Subscription {
	sub := &subscriber{ch: make(chan common.Event, defaultBufferSize)}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	return &Subscription{Topic: topic, C: sub.ch, bus: b, ch: sub.ch}
}

func (b *Bus) unsubscribe(topic string, s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, sub := range subs {
		if sub.ch == s.ch {
			close(sub.ch)
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every subscriber of topic. A subscriber whose
// buffer is full has the event dropped — never reordered — and gets a
// LAG marker enqueued in its place the next time there is room, so it can
// detect the gap and resync from a snapshot.
func (b *Bus) Publish(topic string, ev common.Event) {
	b.mu.Lock()
	subs := append([]*subscriber(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, sub := range subs {
		b.deliver(topic, sub, ev)
	}
}

func (b *Bus) deliver(topic string, sub *subscriber, ev common.Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	select {
	case sub.ch <- ev:
		if sub.dropped > 0 {
			b.emitLag(topic, sub)
		}
	default:
		sub.dropped++
		log.Warn().Str("topic", topic).Int("dropped", sub.dropped).Msg("subscriber buffer full, dropping from tail")
	}
}

// emitLag tries to enqueue a LAG marker once buffer space frees up;
// best-effort, since the marker itself can be dropped under sustained
// saturation (the subscriber's next successful read will still see a gap
// in Seq and know to resync).
func (b *Bus) emitLag(topic string, sub *subscriber) {
	lag := common.Event{Kind: common.KindLag, Payload: common.LagPayload{Topic: topic, Dropped: sub.dropped}}
	select {
	case sub.ch <- lag:
		sub.dropped = 0
	default:
	}
}

// SessionTopics returns the well-known per-session topic names from
// spec.md §4.7.
func SessionTopics(sessionID string) struct {
	Trades, Market, News, Lifecycle string
} {
	return struct{ Trades, Market, News, Lifecycle string }{
		Trades:    "session." + sessionID + ".trades",
		Market:    "session." + sessionID + ".market",
		News:      "session." + sessionID + ".news",
		Lifecycle: "session." + sessionID + ".lifecycle",
	}
}

// BookTopic is the per-security depth topic for a session.
func BookTopic(sessionID, securityID string) string {
	return "session." + sessionID + ".book." + securityID
}

// OrdersTopic is the per-user order-update topic for a session.
func OrdersTopic(sessionID, userID string) string {
	return "session." + sessionID + ".orders." + userID
}

// PortfolioTopic is the per-user portfolio topic for a session.
func PortfolioTopic(sessionID, userID string) string {
	return "session." + sessionID + ".portfolio." + userID
}

// ParseUserTopic extracts the user id from an orders/portfolio topic, or
// ok=false if topic doesn't match that shape.
func ParseUserTopic(topic string) (userID string, ok bool) {
	parts := strings.Split(topic, ".")
	if len(parts) != 4 || parts[0] != "session" || (parts[2] != "orders" && parts[2] != "portfolio") {
		return "", false
	}
	return parts[3], true
}
