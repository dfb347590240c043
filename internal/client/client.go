package client

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/scribly/presence/internal/app/logger/logging"
	"github.com/scribly/presence/internal/wire"
)

// State of the presence session. Switching notes moves directly from one
// Joined state to the next; the UI never observes a gap.
type State int

const (
	Disconnected State = iota
	Connecting
	Joined
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Joined:
		return "Joined"
	default:
		return "Disconnected"
	}
}

// Client owns one channel to the presence server and reconciles inbound
// broadcasts into a local view of who else is looking at the same note.
// It performs no automatic reconnection; when the channel drops, the caller
// decides whether and when to Open again (see Redial).
type Client struct {
	URL   string
	Token string

	// OnPresence, when set, is invoked with the reconciled user list after
	// every membership change. OnCursor is invoked per relayed cursor.
	// Both are called from the read loop goroutine.
	OnPresence func([]wire.RoomUser)
	OnCursor   func(wire.Cursor)
	// OnDisconnect is invoked once when the channel closes for any reason
	// other than an explicit Close.
	OnDisconnect func(error)

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	noteID  string
	users   map[string]wire.RoomUser // keyed by socket id
	cursors map[string]wire.Cursor   // keyed by user id
	closed  bool
}

func NewClient(wsURL string, token string) *Client {
	return &Client{
		URL:     wsURL,
		Token:   token,
		users:   make(map[string]wire.RoomUser),
		cursors: make(map[string]wire.Cursor),
	}
}

// Open connects the channel if needed and announces intent to view noteID.
// Calling it again with a different note while connected switches notes over
// the existing channel; the server absorbs the implicit leave.
func (c *Client) Open(ctx context.Context, noteID string, user wire.User) error {
	c.mu.Lock()
	if c.conn == nil {
		c.state = Connecting
		c.closed = false
		c.mu.Unlock()

		ws, err := wire.Connect(ctx, c.URL, c.Token)
		if err != nil {
			c.mu.Lock()
			c.state = Disconnected
			c.mu.Unlock()
			return err
		}

		c.mu.Lock()
		c.conn = ws
		go c.readLoop(context.WithoutCancel(ctx), ws)
	}

	conn := c.conn
	c.noteID = noteID
	c.mu.Unlock()

	payload := wire.ComposeTyped(wire.JoinNote, wire.MessageContent[wire.Join]{
		Content: wire.Join{NoteID: noteID, User: user},
	})
	if err := wire.Write(ctx, conn, payload); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = Joined
	c.mu.Unlock()
	return nil
}

// UpdateCursor reports the local cursor position. Silently dropped when no
// channel is open.
func (c *Client) UpdateCursor(ctx context.Context, position any) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	payload := wire.ComposeTyped(wire.CursorUpdate, wire.MessageContent[wire.Cursor]{
		Content: wire.Cursor{
			Position:  position,
			Timestamp: time.Now().UnixMilli(),
		},
	})
	if err := wire.Write(ctx, conn, payload); err != nil {
		slog.Debug("Could not send the cursor update", logging.Error(err))
	}
}

// Close tears the channel down and clears local presence state immediately;
// the server runs its own disconnect cleanup when the channel closes.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.closed = true
	c.resetLocked()
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "bye")
}

// State returns the current session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NoteID returns the note the session last announced.
func (c *Client) NoteID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noteID
}

// Users returns the reconciled list of connected users, ordered by socket id.
func (c *Client) Users() []wire.RoomUser {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := make([]wire.RoomUser, 0, len(c.users))
	for _, u := range c.users {
		list = append(list, u)
	}
	slices.SortFunc(list, func(a, b wire.RoomUser) int {
		return strings.Compare(a.SocketID, b.SocketID)
	})
	return list
}

// Cursors returns the last known cursor position per user id.
func (c *Client) Cursors() map[string]wire.Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]wire.Cursor, len(c.cursors))
	for id, cur := range c.cursors {
		out[id] = cur
	}
	return out
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			explicit := c.closed
			if c.conn == conn {
				c.conn = nil
			}
			c.resetLocked()
			c.mu.Unlock()

			if !explicit {
				slog.Debug("Presence channel dropped", logging.Error(err))
				if c.OnDisconnect != nil {
					c.OnDisconnect(err)
				}
			}
			return
		}

		c.HandleEvent(payload)
	}
}

// HandleEvent reconciles one inbound event into the local presence view.
func (c *Client) HandleEvent(payload []byte) {
	switch et := wire.ParseEventType(payload); et {
	case wire.UserJoined:
		_, m, err := wire.DecodeTyped[wire.Joined](payload)
		if err != nil {
			slog.Debug("Ignoring malformed user-joined", logging.Error(err))
			return
		}
		joined := m.Content

		c.mu.Lock()
		// Keyed by socket id; a duplicate join for the same connection
		// replaces the prior entry instead of producing two rows.
		c.users[joined.SocketID] = wire.RoomUser{
			UserID:    joined.UserID,
			Name:      joined.Name,
			AvatarURL: joined.Avatar,
			SocketID:  joined.SocketID,
		}
		c.mu.Unlock()
		c.notifyPresence()

	case wire.UserLeft:
		_, m, err := wire.DecodeTyped[wire.Left](payload)
		if err != nil {
			slog.Debug("Ignoring malformed user-left", logging.Error(err))
			return
		}
		left := m.Content

		c.mu.Lock()
		if prior, ok := c.users[left.SocketID]; ok {
			delete(c.users, left.SocketID)
			// Do not leak the departed user's cursor.
			delete(c.cursors, prior.UserID)
		}
		if left.UserID != "" {
			delete(c.cursors, left.UserID)
		}
		c.mu.Unlock()
		c.notifyPresence()

	case wire.RoomUsers:
		_, m, err := wire.DecodeTyped[[]wire.RoomUser](payload)
		if err != nil {
			slog.Debug("Ignoring malformed room-users", logging.Error(err))
			return
		}

		c.mu.Lock()
		// Authoritative resync point: replace the whole list.
		clear(c.users)
		present := make(map[string]bool, len(m.Content))
		for _, u := range m.Content {
			c.users[u.SocketID] = u
			present[u.UserID] = true
		}
		// A missed user-left would otherwise leave the departed user's
		// cursor behind forever.
		for id := range c.cursors {
			if !present[id] {
				delete(c.cursors, id)
			}
		}
		c.mu.Unlock()
		c.notifyPresence()

	case wire.CursorBroadcast:
		_, m, err := wire.DecodeTyped[wire.Cursor](payload)
		if err != nil {
			slog.Debug("Ignoring malformed cursor-update", logging.Error(err))
			return
		}
		cursor := m.Content

		c.mu.Lock()
		c.cursors[cursor.UserID] = cursor
		c.mu.Unlock()
		if c.OnCursor != nil {
			c.OnCursor(cursor)
		}

	default:
		slog.Debug("Unhandled event type", "type", et.String())
	}
}

func (c *Client) resetLocked() {
	c.state = Disconnected
	clear(c.users)
	clear(c.cursors)
}

func (c *Client) notifyPresence() {
	if c.OnPresence == nil {
		return
	}
	c.OnPresence(c.Users())
}
