// Package eventlog provides the append-only domain event log. Entries are
// partitioned into named streams; each stream carries its own contiguous,
// log-assigned sequence starting at 1. Append is the only mutation; there
// is no update and no delete.
package eventlog

import (
	"context"
	"encoding/json"
	"time"
)

// RawPayloadKey is the sentinel key under which an undecodable stored
// payload is returned. A malformed record never aborts a range read.
const RawPayloadKey = "_raw"

// Entry is one immutable record in a stream.
type Entry struct {
	Stream    string         `json:"stream"`
	Sequence  int64          `json:"sequence_id"`
	Type      string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// Log is the append-only ordered event log. Implementations must assign
// monotonic per-stream sequence ids; different streams are independent and
// may be appended concurrently.
type Log interface {
	// Append stores a new entry at the next sequence of the stream and
	// returns the assigned sequence id.
	Append(ctx context.Context, stream, eventType string, payload map[string]any) (int64, error)

	// Range returns entries of the stream in ascending sequence order.
	// from <= 0 reads from the beginning, to <= 0 reads to the latest,
	// both bounds inclusive. limit <= 0 means no limit.
	Range(ctx context.Context, stream string, from, to int64, limit int) ([]Entry, error)

	// Close releases the underlying resources.
	Close() error
}

// DecodePayload decodes a stored JSON payload. Undecodable bytes are wrapped
// under RawPayloadKey instead of failing the read.
func DecodePayload(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return map[string]any{RawPayloadKey: string(raw)}
	}
	return payload
}
