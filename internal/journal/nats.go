package journal

import (
	"encoding/json"
	"fmt"

	"classroom-exchange/internal/common"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes every journal record as JSON to subject
// "journal.<session_id>", grounded on max.com's use of nats.go as its
// messaging fabric. This is optional infrastructure: the core only
// requires the JournalSink interface (§6.4), and a deployment that wants
// a durable off-process journal constructs a NATSSink itself — the core
// never reaches for one on its own.
type NATSSink struct {
	conn *nats.Conn
}

// NewNATSSink wraps an already-connected NATS client.
func NewNATSSink(conn *nats.Conn) *NATSSink {
	return &NATSSink{conn: conn}
}

// wireRecord is the JSON shape published to NATS; common.JournalRecord's
// Payload field is `any`, so it round-trips through JSON rather than a
// binary encoding.
type wireRecord struct {
	Seq       uint64          `json:"seq"`
	Kind      string          `json:"kind"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func (s *NATSSink) Append(sessionID string, record common.JournalRecord) error {
	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return fmt.Errorf("journal: marshal payload: %w", err)
	}

	wire := wireRecord{
		Seq:       record.Seq,
		Kind:      record.Kind.String(),
		Timestamp: record.Timestamp.Format("2006-01-02T15:04:05.000000000Z07:00"),
		Payload:   payload,
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("journal: marshal record: %w", err)
	}

	return s.conn.Publish("journal."+sessionID, body)
}
