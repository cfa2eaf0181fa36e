package billing

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Document is an opaque JSON blob at the storage boundary. Business
// logic never walks it as a free-form dictionary; handlers read the
// specific fields they need through typed accessors or the parsed
// Event envelope.
type Document json.RawMessage

func (d Document) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return d, nil
}

func (d *Document) UnmarshalJSON(data []byte) error {
	*d = append((*d)[:0], data...)
	return nil
}

// GetString extracts a top-level string field, returning false when the
// field is absent or of another type.
func (d Document) GetString(key string) (string, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(d, &m); err != nil {
		return "", false
	}
	raw, ok := m[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// WebhookLog is an append-only receipt record of an inbound gateway
// webhook. Receipt (row insert) is recorded before processing so an
// unhandled failure still leaves an auditable trail. If an event
// carries a gateway event ID, at most one row for that ID may ever be
// marked processed: that is the dedup key.
type WebhookLog struct {
	ID         uuid.UUID
	EventID    string // gateway event ID, may be empty
	EventType  string
	EntityType string
	EntityID   string
	Payload    Document

	Processed    bool
	ProcessError string

	ReceivedAt  time.Time
	ProcessedAt *time.Time
}
