package presence

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kelindar/event"
	"github.com/scribly/presence/internal/app/logger/logging"
	"github.com/scribly/presence/internal/metrics"
	"github.com/scribly/presence/internal/wire"
)

// Registry owns the note -> viewing-sessions mapping and mediates every
// broadcast between sessions sharing a room. It is the only component that
// mutates membership; the transport hands sessions in through Join,
// CursorUpdate and Disconnect and never touches room state itself.
//
// A single mutex guards all rooms and is held across mutate+fan-out, which
// gives the per-room broadcast ordering guarantee for free: no recipient can
// observe a cursor update from a user it has not been told about yet.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]map[string]*UserSession

	bus         *event.Dispatcher
	resyncEvery time.Duration
}

type RegistryOption func(*Registry)

// WithResyncInterval enables the periodic room-users resend that bounds the
// staleness window after a missed broadcast. Zero disables it.
func WithResyncInterval(d time.Duration) RegistryOption {
	return func(r *Registry) { r.resyncEvery = d }
}

// WithDispatcher attaches an event bus receiving RoomEvent on every
// membership change.
func WithDispatcher(bus *event.Dispatcher) RegistryOption {
	return func(r *Registry) { r.bus = bus }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		rooms: make(map[string]map[string]*UserSession),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join adds the session to the room keyed by noteID. Switching rooms is
// leave+join in one critical section, so no third party can observe the
// session in two rooms at once. The snapshot sent back to the joiner is
// computed after the add and therefore includes the joiner itself.
//
// Note existence is not validated here; the caller was already authorized
// by the account service before the channel was accepted.
func (r *Registry) Join(ctx context.Context, session *UserSession, noteID string, user wire.User) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	if session.NoteID == noteID {
		// Duplicate announce for the same note; resend the snapshot so the
		// client can resync, but do not re-broadcast the join.
		session.User = user
		r.sendSnapshotLocked(ctx, session)
		return
	}

	if session.NoteID != "" {
		r.leaveLocked(ctx, session)
	}

	session.User = user
	session.NoteID = noteID

	room, ok := r.rooms[noteID]
	if !ok {
		room = make(map[string]*UserSession)
		r.rooms[noteID] = room
	}
	room[session.SocketID] = session

	slog.Debug("Session joined a room", logging.NoteID(noteID), logging.SocketID(session.SocketID), logging.UserID(user.ID))

	// Announce to everyone already in the room, never back to the joiner.
	payload := wire.ComposeTyped(wire.UserJoined, wire.MessageContent[wire.Joined]{
		From: session.SocketID,
		Content: wire.Joined{
			UserID:   user.ID,
			Name:     user.Name,
			Avatar:   user.AvatarURL,
			SocketID: session.SocketID,
		},
	})
	for id, member := range room {
		if id == session.SocketID {
			continue
		}
		member.Send(ctx, payload)
		metrics.MessagesBroadcasted.Inc()
	}

	r.sendSnapshotLocked(ctx, session)

	metrics.RoomJoins.Inc()
	metrics.ActiveRooms.Set(float64(len(r.rooms)))
	r.publish(RoomEvent{Kind: "join", NoteID: noteID, SocketID: session.SocketID, UserID: user.ID, At: time.Now().In(time.UTC)})
}

// Leave removes the session from its current room, if any. Calling it on a
// session without a room is a no-op, which makes the explicit-leave and
// disconnect paths safely stackable.
func (r *Registry) Leave(ctx context.Context, session *UserSession) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(ctx, session)
}

// CursorUpdate relays the cursor position to every other member of the
// session's room. Updates from a session that never joined cannot be
// attributed to a room and are silently dropped.
func (r *Registry) CursorUpdate(ctx context.Context, session *UserSession, cursor wire.Cursor) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	if session.NoteID == "" {
		return
	}
	room, ok := r.rooms[session.NoteID]
	if !ok {
		return
	}

	cursor.UserID = session.User.ID
	if cursor.Timestamp == 0 {
		cursor.Timestamp = time.Now().UnixMilli()
	}

	payload := wire.ComposeTyped(wire.CursorBroadcast, wire.MessageContent[wire.Cursor]{
		From:    session.SocketID,
		Content: cursor,
	})
	for id, member := range room {
		if id == session.SocketID {
			continue
		}
		member.Send(ctx, payload)
		metrics.MessagesBroadcasted.Inc()
	}
	metrics.CursorUpdates.Inc()
}

// Disconnect is invoked by the transport when the channel closes for any
// reason. It runs the same cleanup as Leave and additionally closes the
// socket. Safe to call after an explicit Leave, or twice.
func (r *Registry) Disconnect(ctx context.Context, session *UserSession) {
	if session.wsConn != nil {
		if err := session.wsConn.CloseNow(); err != nil {
			slog.Debug("Could not close the connection", logging.SocketID(session.SocketID), logging.Error(err))
		}
	}
	r.Leave(ctx, session)
}

// RoomMembers returns the current membership of the room, or an empty slice
// when the room does not exist. Rooms with no members have no entry at all.
func (r *Registry) RoomMembers(noteID string) []wire.RoomUser {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.membersLocked(noteID)
}

// RoomInfo is the membership view exposed over the query API.
type RoomInfo struct {
	NoteID string          `json:"noteId"`
	Users  []wire.RoomUser `json:"users"`
}

// ListRooms returns a membership view of every active room.
func (r *Registry) ListRooms() []RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]RoomInfo, 0, len(r.rooms))
	for noteID := range r.rooms {
		list = append(list, RoomInfo{NoteID: noteID, Users: r.membersLocked(noteID)})
	}
	slices.SortFunc(list, func(a, b RoomInfo) int {
		return strings.Compare(a.NoteID, b.NoteID)
	})
	return list
}

// Run drives the periodic resync loop until the context is cancelled, then
// tears down every remaining session. A disabled interval keeps the loop
// alive for the teardown alone.
func (r *Registry) Run(ctx context.Context) {
	var tick <-chan time.Time
	if r.resyncEvery > 0 {
		ticker := time.NewTicker(r.resyncEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			r.Reset()
			return
		case <-tick:
			r.Resync(ctx)
		}
	}
}

// Resync re-sends the authoritative room-users snapshot to every member of
// every room. Receiving it is idempotent on the client since the snapshot
// replaces the whole local list.
func (r *Registry) Resync(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	for noteID, room := range r.rooms {
		members := r.membersLocked(noteID)
		payload := wire.ComposeTyped(wire.RoomUsers, wire.MessageContent[[]wire.RoomUser]{Content: members})
		for _, member := range room {
			member.Send(ctx, payload)
			metrics.ResyncBroadcasts.Inc()
		}
	}
}

// Reset closes every connection and clears all rooms.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, room := range r.rooms {
		for _, member := range room {
			if member.wsConn != nil {
				_ = member.wsConn.CloseNow()
			}
			member.NoteID = ""
		}
	}
	clear(r.rooms)
	metrics.ActiveRooms.Set(0)
}

func (r *Registry) leaveLocked(ctx context.Context, session *UserSession) {
	if session.NoteID == "" {
		return
	}

	noteID := session.NoteID
	room, ok := r.rooms[noteID]
	if !ok {
		session.NoteID = ""
		return
	}
	if _, ok := room[session.SocketID]; !ok {
		session.NoteID = ""
		return
	}

	delete(room, session.SocketID)

	left := wire.Left{UserID: session.User.ID, SocketID: session.SocketID}

	session.NoteID = ""
	session.User = wire.User{}

	if len(room) == 0 {
		// Last member out, drop the room entry entirely.
		delete(r.rooms, noteID)
	} else {
		payload := wire.ComposeTyped(wire.UserLeft, wire.MessageContent[wire.Left]{
			From:    left.SocketID,
			Content: left,
		})
		for _, member := range room {
			member.Send(ctx, payload)
			metrics.MessagesBroadcasted.Inc()
		}
	}

	slog.Debug("Session left a room", logging.NoteID(noteID), logging.SocketID(left.SocketID), logging.UserID(left.UserID))

	metrics.RoomLeaves.Inc()
	metrics.ActiveRooms.Set(float64(len(r.rooms)))
	r.publish(RoomEvent{Kind: "leave", NoteID: noteID, SocketID: left.SocketID, UserID: left.UserID, At: time.Now().In(time.UTC)})
}

func (r *Registry) sendSnapshotLocked(ctx context.Context, session *UserSession) {
	members := r.membersLocked(session.NoteID)
	session.Send(ctx, wire.ComposeTyped(wire.RoomUsers, wire.MessageContent[[]wire.RoomUser]{
		To:      session.SocketID,
		Content: members,
	}))
}

func (r *Registry) membersLocked(noteID string) []wire.RoomUser {
	room := r.rooms[noteID]
	list := make([]wire.RoomUser, 0, len(room))
	for _, member := range room {
		list = append(list, member.ToRoomUser())
	}
	slices.SortFunc(list, func(a, b wire.RoomUser) int {
		return strings.Compare(a.SocketID, b.SocketID)
	})
	return list
}

func (r *Registry) publish(ev RoomEvent) {
	if r.bus == nil {
		return
	}
	event.Publish(r.bus, ev)
}
