package models

import (
	"encoding/json"
	"time"
)

// Event is one domain event accepted by the ingestor. Events are immutable
// after creation and purged by the event retention window. An event may or
// may not project to samples; projection failure never blocks persistence.
type Event struct {
	ID         string            `json:"id"         db:"id"`
	EventType  string            `json:"event_type" db:"event_type"`
	Payload    map[string]string `json:"payload,omitempty" db:"-"`
	PayloadRaw string            `json:"-"          db:"payload"` // JSON-encoded, stored in DB
	UserID     string            `json:"user_id,omitempty"    db:"user_id"`
	UserAgent  string            `json:"user_agent,omitempty" db:"user_agent"`
	IP         string            `json:"ip,omitempty"         db:"ip"`
	Timestamp  time.Time         `json:"timestamp"  db:"timestamp"`
}

// EncodePayload serializes Payload into PayloadRaw for storage.
func (e *Event) EncodePayload() error {
	if len(e.Payload) == 0 {
		e.PayloadRaw = "{}"
		return nil
	}
	b, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	e.PayloadRaw = string(b)
	return nil
}

// DecodePayload populates Payload from PayloadRaw after a read.
func (e *Event) DecodePayload() error {
	if e.PayloadRaw == "" || e.PayloadRaw == "{}" {
		e.Payload = nil
		return nil
	}
	return json.Unmarshal([]byte(e.PayloadRaw), &e.Payload)
}

// EventFilter narrows event listings (activity feeds).
type EventFilter struct {
	EventType string
	UserID    string
	Since     time.Time
	Limit     int
}
