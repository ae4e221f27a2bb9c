package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// record is the stored form of an entry: the payload is kept as the raw
// bytes that were appended, exactly as a durable implementation would.
type record struct {
	sequence  int64
	eventType string
	timestamp time.Time
	payload   []byte
}

// MemoryLog is an in-memory Log used in tests and single-process setups.
// Safe for concurrent use.
type MemoryLog struct {
	mu      sync.RWMutex
	streams map[string][]record
}

var _ Log = (*MemoryLog)(nil)

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{streams: make(map[string][]record)}
}

func (l *MemoryLog) Append(ctx context.Context, stream, eventType string, payload map[string]any) (int64, error) {
	if stream == "" {
		return 0, fmt.Errorf("eventlog: stream name is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("eventlog: encode payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq := int64(len(l.streams[stream])) + 1
	l.streams[stream] = append(l.streams[stream], record{
		sequence:  seq,
		eventType: eventType,
		timestamp: time.Now().UTC(),
		payload:   raw,
	})
	return seq, nil
}

// appendRaw stores bytes without validation. Used by tests to exercise the
// malformed-payload path.
func (l *MemoryLog) appendRaw(stream, eventType string, raw []byte) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := int64(len(l.streams[stream])) + 1
	l.streams[stream] = append(l.streams[stream], record{
		sequence:  seq,
		eventType: eventType,
		timestamp: time.Now().UTC(),
		payload:   raw,
	})
	return seq
}

func (l *MemoryLog) Range(ctx context.Context, stream string, from, to int64, limit int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	records := l.streams[stream]
	if from <= 0 {
		from = 1
	}
	if to <= 0 {
		to = int64(len(records))
	}

	var out []Entry
	for _, r := range records {
		if r.sequence < from || r.sequence > to {
			continue
		}
		out = append(out, Entry{
			Stream:    stream,
			Sequence:  r.sequence,
			Type:      r.eventType,
			Timestamp: r.timestamp,
			Payload:   DecodePayload(r.payload),
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *MemoryLog) Close() error { return nil }
