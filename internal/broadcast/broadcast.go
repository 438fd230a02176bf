// Package broadcast carries engine events to the dispatcher layer that
// fans them out to room participants. The engine publishes; it never
// pushes to client connections itself.
package broadcast

import (
	"context"
	"encoding/json"
	"time"
)

type EventType string

const (
	EventOperation EventType = "operation"
	EventPresence  EventType = "presence"
	EventTyping    EventType = "typing"
	EventCursor    EventType = "cursor"
	EventRoom      EventType = "room"
)

// Event mirrors the inbound message shapes plus server-assigned fields.
// Events with a RoomID are scoped to that room's participants; events
// without one (presence) are global.
type Event struct {
	Type      EventType       `json:"type"`
	RoomID    string          `json:"room_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Broadcaster delivers events to dispatcher subscribers. Publish is
// best-effort: a slow or absent subscriber must never block a document
// update.
type Broadcaster interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NewEvent builds an event with the payload marshalled in place.
func NewEvent(eventType EventType, roomID, userID string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:      eventType,
		RoomID:    roomID,
		UserID:    userID,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}
