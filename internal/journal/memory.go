// Package journal provides JournalSink implementations for the
// write-behind journal described in spec.md §6.3: the canonical
// source of truth for replay and audit, never written to synchronously
// on the matching path.
package journal

import (
	"sync"

	"classroom-exchange/internal/common"
)

// MemorySink is the default, in-memory JournalSink. It is what P6 replay
// tests use: record a session's journal, then feed it back into a fresh
// engine and assert the reconstructed state matches bit-for-bit.
type MemorySink struct {
	mu      sync.Mutex
	records map[string][]common.JournalRecord
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{records: make(map[string][]common.JournalRecord)}
}

// Append stores record under sessionID, preserving append order.
func (m *MemorySink) Append(sessionID string, record common.JournalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[sessionID] = append(m.records[sessionID], record)
	return nil
}

// Records returns a copy of everything recorded for sessionID, in append
// order. Records from one publisher (the engine, say) are in seq order;
// records from different publishers may interleave out of seq order.
func (m *MemorySink) Records(sessionID string) []common.JournalRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]common.JournalRecord, len(m.records[sessionID]))
	copy(out, m.records[sessionID])
	return out
}
