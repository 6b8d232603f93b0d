package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"classroom-exchange/internal/common"
)

// FileSink appends one JSON line per record to a file on disk, in the
// fileRecord shape below. That shape differs from NATSSink's wireRecord
// (kind as an int rather than a name, plus session_id), so ReadFile does
// not decode NATSSink messages.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileSink opens path for appending, creating it if necessary.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Append(sessionID string, record common.JournalRecord) error {
	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return fmt.Errorf("journal: marshal payload: %w", err)
	}
	wire := fileRecord{
		SessionID: sessionID,
		Seq:       record.Seq,
		Kind:      record.Kind,
		Timestamp: record.Timestamp,
		Payload:   payload,
	}
	line, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("journal: marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.f.Write(append(line, '\n'))
	return err
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// fileRecord is the on-disk shape: EventKind round-trips as its
// underlying int rather than through String(), since String() has no
// inverse and the replay path needs one.
type fileRecord struct {
	SessionID string           `json:"session_id"`
	Seq       uint64           `json:"seq"`
	Kind      common.EventKind `json:"kind"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload"`
}

// ReadFile decodes every record previously written by a FileSink.
// Trade, MarketTick and PortfolioSummary payloads are resolved into
// their concrete structs so a replay consumer can type-switch on them
// exactly as the live bus does (spec.md §6.2). Every other kind (order,
// book, position and PnL updates, lifecycle, news, day boundaries) is
// decoded into common.JournalRecord with its Payload left as raw JSON.
func ReadFile(path string) ([]common.JournalRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer f.Close()

	var out []common.JournalRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var wire fileRecord
		if err := json.Unmarshal(line, &wire); err != nil {
			return nil, fmt.Errorf("journal: decode record: %w", err)
		}

		record := common.JournalRecord{Seq: wire.Seq, Kind: wire.Kind, Timestamp: wire.Timestamp}
		switch wire.Kind {
		case common.KindTrade:
			var payload common.Trade
			if err := json.Unmarshal(wire.Payload, &payload); err != nil {
				return nil, fmt.Errorf("journal: decode Trade at seq %d: %w", wire.Seq, err)
			}
			record.Payload = payload
		case common.KindMarketTick:
			var payload common.MarketTick
			if err := json.Unmarshal(wire.Payload, &payload); err != nil {
				return nil, fmt.Errorf("journal: decode MarketTick at seq %d: %w", wire.Seq, err)
			}
			record.Payload = payload
		case common.KindPortfolioSummary:
			var payload common.PortfolioSummaryPayload
			if err := json.Unmarshal(wire.Payload, &payload); err != nil {
				return nil, fmt.Errorf("journal: decode PortfolioSummary at seq %d: %w", wire.Seq, err)
			}
			record.Payload = payload
		default:
			record.Payload = wire.Payload
		}
		out = append(out, record)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("journal: scan %s: %w", path, err)
	}
	return out, nil
}
