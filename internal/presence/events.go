package presence

import (
	"time"
)

const (
	// RoomActivity is the kelindar/event type id for RoomEvent.
	RoomActivity = 0x01
)

// RoomEvent is published on the dispatcher whenever room membership changes.
// Subscribers (the audit recorder) must not reach back into the registry.
type RoomEvent struct {
	Kind     string    `json:"kind"` // "join" or "leave"
	NoteID   string    `json:"noteId"`
	SocketID string    `json:"socketId"`
	UserID   string    `json:"userId,omitempty"`
	At       time.Time `json:"at"`
}

// Type returns the event type id.
func (ev RoomEvent) Type() uint32 {
	return RoomActivity
}
