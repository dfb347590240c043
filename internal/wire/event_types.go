package wire

type EventType uint

const (
	_ EventType = iota

	// Client to server
	JoinNote
	CursorUpdate

	// Server to client
	UserJoined
	UserLeft
	RoomUsers
	CursorBroadcast
)

func (e EventType) String() string {
	switch e {
	case JoinNote:
		return "JoinNote"
	case CursorUpdate:
		return "CursorUpdate"
	case UserJoined:
		return "UserJoined"
	case UserLeft:
		return "UserLeft"
	case RoomUsers:
		return "RoomUsers"
	case CursorBroadcast:
		return "CursorBroadcast"
	default:
		return "Unknown"
	}
}
