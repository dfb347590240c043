package wire

// Message is the untyped envelope exchanged over the channel. From and To
// carry socket ids, not user ids.
type Message struct {
	To      string    `json:"to,omitempty"`
	From    string    `json:"from,omitempty"`
	Type    EventType `json:"type"`
	Content any       `json:"content"`
}

type MessageContent[T any] struct {
	From    string    `json:"from,omitempty"`
	Type    EventType `json:"type"`
	Content T         `json:"content"`
	To      string    `json:"to,omitempty"`
}

// User is the descriptor announced when joining a note. The server fills it
// from the verified token claims, never from what the client sent alone.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Join is the content of a JoinNote message.
type Join struct {
	NoteID string `json:"noteId"`
	User   User   `json:"user"`
}

// Joined announces a new room member to the existing ones.
type Joined struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	SocketID string `json:"socketId"`
}

// Left announces a departed room member. UserID may be empty when the
// session disconnected before it ever announced itself.
type Left struct {
	UserID   string `json:"userId,omitempty"`
	SocketID string `json:"socketId"`
}

// Cursor carries a cursor/selection position. The client sends it without
// UserID; the server stamps the sender before relaying.
type Cursor struct {
	UserID    string `json:"userId,omitempty"`
	Position  any    `json:"position"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// RoomUser is one entry of the RoomUsers membership snapshot.
type RoomUser struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	SocketID  string `json:"socketId"`
}
