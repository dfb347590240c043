package presence

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/kelindar/event"
	"github.com/scribly/presence/internal/wire"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *recordingConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	return websocket.MessageText, nil, io.EOF
}

func (c *recordingConn) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(p))
	copy(buf, p)
	c.frames = append(c.frames, buf)
	return nil
}

func (c *recordingConn) CloseNow() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *recordingConn) FramesOfType(et wire.EventType) [][]byte {
	var out [][]byte
	for _, frame := range c.Frames() {
		if wire.ParseEventType(frame) == et {
			out = append(out, frame)
		}
	}
	return out
}

// failingConn rejects every write, standing in for a recipient whose socket
// went bad mid-broadcast.
type failingConn struct {
	recordingConn
}

func (c *failingConn) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	return errors.New("broken pipe")
}

func newTestSession(socketID string) (*UserSession, *recordingConn) {
	conn := &recordingConn{}
	return NewUserSession(socketID, conn), conn
}

func testUser(id string) wire.User {
	return wire.User{ID: id, Name: "user-" + id}
}

func TestJoinSnapshotIncludesSelf(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	// Three sessions join the same note one after another. The Nth joiner's
	// snapshot must contain exactly N users, itself included.
	ids := []string{"s1", "s2", "s3"}
	for n, id := range ids {
		sess, conn := newTestSession(id)
		r.Join(ctx, sess, "note-42", testUser(id))

		snapshots := conn.FramesOfType(wire.RoomUsers)
		require.Len(t, snapshots, 1)

		_, m, err := wire.DecodeTyped[[]wire.RoomUser](snapshots[0])
		require.NoError(t, err)
		require.Len(t, m.Content, n+1)

		var seenSelf bool
		for _, u := range m.Content {
			if u.SocketID == id {
				seenSelf = true
			}
		}
		require.True(t, seenSelf, "joiner must see itself in its own snapshot")
	}
}

func TestNoSelfJoinNotification(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	a, connA := newTestSession("a")
	b, connB := newTestSession("b")

	r.Join(ctx, a, "note-42", testUser("ua"))
	r.Join(ctx, b, "note-42", testUser("ub"))

	// A was alone when it joined and hears about B afterwards.
	joinedA := connA.FramesOfType(wire.UserJoined)
	require.Len(t, joinedA, 1)
	_, m, err := wire.DecodeTyped[wire.Joined](joinedA[0])
	require.NoError(t, err)
	require.Equal(t, "ub", m.Content.UserID)
	require.Equal(t, "b", m.Content.SocketID)

	// B never hears about its own join.
	require.Empty(t, connB.FramesOfType(wire.UserJoined))
}

func TestLeaveBroadcastGoesToRemainingMembersOnly(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	s, _ := newTestSession("s")
	a, connA := newTestSession("a")
	b, connB := newTestSession("b")
	other, connOther := newTestSession("x")

	r.Join(ctx, s, "note-1", testUser("us"))
	r.Join(ctx, a, "note-1", testUser("ua"))
	r.Join(ctx, b, "note-1", testUser("ub"))
	r.Join(ctx, other, "note-2", testUser("ux"))

	r.Leave(ctx, s)

	for _, conn := range []*recordingConn{connA, connB} {
		lefts := conn.FramesOfType(wire.UserLeft)
		require.Len(t, lefts, 1)
		_, m, err := wire.DecodeTyped[wire.Left](lefts[0])
		require.NoError(t, err)
		require.Equal(t, "s", m.Content.SocketID)
		require.Equal(t, "us", m.Content.UserID)
	}

	// The other room hears nothing.
	require.Empty(t, connOther.FramesOfType(wire.UserLeft))
}

func TestIdempotentDisconnect(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	s, connS := newTestSession("s")
	a, connA := newTestSession("a")

	r.Join(ctx, s, "note-1", testUser("us"))
	r.Join(ctx, a, "note-1", testUser("ua"))

	// Explicit leave followed by the transport-driven disconnect, then a
	// second disconnect. At most one user-left may be observed.
	r.Leave(ctx, s)
	r.Disconnect(ctx, s)
	r.Disconnect(ctx, s)

	require.Len(t, connA.FramesOfType(wire.UserLeft), 1)
	require.True(t, connS.closed)
}

func TestRoomSwitchIsAtomic(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	s, connS := newTestSession("s")
	a, connA := newTestSession("a")
	b, connB := newTestSession("b")

	r.Join(ctx, a, "note-1", testUser("ua"))
	r.Join(ctx, b, "note-2", testUser("ub"))
	r.Join(ctx, s, "note-1", testUser("us"))

	r.Join(ctx, s, "note-2", testUser("us"))

	// note-1 no longer contains the switcher, note-2 does.
	membersOne := r.RoomMembers("note-1")
	require.Len(t, membersOne, 1)
	require.Equal(t, "a", membersOne[0].SocketID)

	membersTwo := r.RoomMembers("note-2")
	require.Len(t, membersTwo, 2)

	// The old room got the leave, the new room got the join.
	require.Len(t, connA.FramesOfType(wire.UserLeft), 1)
	require.Len(t, connB.FramesOfType(wire.UserJoined), 1)

	// The switcher's second snapshot reflects the new room.
	snapshots := connS.FramesOfType(wire.RoomUsers)
	require.Len(t, snapshots, 2)
	_, m, err := wire.DecodeTyped[[]wire.RoomUser](snapshots[1])
	require.NoError(t, err)
	require.Len(t, m.Content, 2)
}

func TestEmptyRoomCleanup(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	s, _ := newTestSession("s")
	r.Join(ctx, s, "note-1", testUser("us"))
	r.Leave(ctx, s)

	require.Empty(t, r.RoomMembers("note-1"))
	require.Empty(t, r.ListRooms())

	r.mu.Lock()
	_, lingering := r.rooms["note-1"]
	r.mu.Unlock()
	require.False(t, lingering, "an emptied room must not keep a map entry")
}

func TestCursorRelayIsolation(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	s, connS := newTestSession("s")
	a, connA := newTestSession("a")
	other, connOther := newTestSession("x")

	r.Join(ctx, s, "note-1", testUser("us"))
	r.Join(ctx, a, "note-1", testUser("ua"))
	r.Join(ctx, other, "note-2", testUser("ux"))

	r.CursorUpdate(ctx, s, wire.Cursor{Position: float64(10)})

	cursors := connA.FramesOfType(wire.CursorBroadcast)
	require.Len(t, cursors, 1)
	_, m, err := wire.DecodeTyped[wire.Cursor](cursors[0])
	require.NoError(t, err)
	require.Equal(t, "us", m.Content.UserID)
	require.Equal(t, float64(10), m.Content.Position)
	require.NotZero(t, m.Content.Timestamp)

	// Never echoed back to the sender, never leaked to another room.
	require.Empty(t, connS.FramesOfType(wire.CursorBroadcast))
	require.Empty(t, connOther.FramesOfType(wire.CursorBroadcast))
}

func TestBroadcastContinuesPastFailingRecipient(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	// The first member's socket rejects every write; deliveries to the
	// healthy members must not be affected.
	bad := NewUserSession("bad", &failingConn{})
	r.Join(ctx, bad, "note-1", testUser("ubad"))

	a, connA := newTestSession("a")
	r.Join(ctx, a, "note-1", testUser("ua"))

	b, connB := newTestSession("b")
	r.Join(ctx, b, "note-1", testUser("ub"))

	require.Len(t, connA.FramesOfType(wire.UserJoined), 1)

	r.CursorUpdate(ctx, b, wire.Cursor{Position: float64(4)})
	require.Len(t, connA.FramesOfType(wire.CursorBroadcast), 1)

	r.Leave(ctx, b)
	require.Len(t, connA.FramesOfType(wire.UserLeft), 1)

	// A failing socket loses its own deliveries but stays a member.
	require.Len(t, r.RoomMembers("note-1"), 2)
	require.NotEmpty(t, connB.FramesOfType(wire.RoomUsers))
}

func TestCursorUpdateBeforeJoinIsDropped(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	s, connS := newTestSession("s")
	a, connA := newTestSession("a")
	r.Join(ctx, a, "note-1", testUser("ua"))

	r.CursorUpdate(ctx, s, wire.Cursor{Position: float64(3)})

	require.Empty(t, connA.FramesOfType(wire.CursorBroadcast))
	require.Empty(t, connS.Frames())
}

func TestExampleScenario(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	a, connA := newTestSession("sock-a")
	b, connB := newTestSession("sock-b")

	r.Join(ctx, a, "note-42", testUser("A"))
	r.Join(ctx, b, "note-42", testUser("B"))

	// A's snapshot contains only itself, B's contains both.
	_, snapA, err := wire.DecodeTyped[[]wire.RoomUser](connA.FramesOfType(wire.RoomUsers)[0])
	require.NoError(t, err)
	require.Len(t, snapA.Content, 1)

	_, snapB, err := wire.DecodeTyped[[]wire.RoomUser](connB.FramesOfType(wire.RoomUsers)[0])
	require.NoError(t, err)
	require.Len(t, snapB.Content, 2)

	require.Len(t, connA.FramesOfType(wire.UserJoined), 1)
	require.Empty(t, connB.FramesOfType(wire.UserJoined))

	r.CursorUpdate(ctx, a, wire.Cursor{Position: float64(10)})
	require.Len(t, connB.FramesOfType(wire.CursorBroadcast), 1)
	require.Empty(t, connA.FramesOfType(wire.CursorBroadcast))

	r.Disconnect(ctx, b)
	lefts := connA.FramesOfType(wire.UserLeft)
	require.Len(t, lefts, 1)
	_, left, err := wire.DecodeTyped[wire.Left](lefts[0])
	require.NoError(t, err)
	require.Equal(t, "B", left.Content.UserID)

	members := r.RoomMembers("note-42")
	require.Len(t, members, 1)
	require.Equal(t, "sock-a", members[0].SocketID)
}

func TestRejoinSameRoomResendsSnapshotWithoutDuplicateJoin(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	a, connA := newTestSession("a")
	b, connB := newTestSession("b")

	r.Join(ctx, a, "note-1", testUser("ua"))
	r.Join(ctx, b, "note-1", testUser("ub"))
	r.Join(ctx, b, "note-1", testUser("ub"))

	require.Len(t, connB.FramesOfType(wire.RoomUsers), 2)
	require.Len(t, connA.FramesOfType(wire.UserJoined), 1)
	require.Len(t, r.RoomMembers("note-1"), 2)
}

func TestResyncSendsSnapshotToEveryMember(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	a, connA := newTestSession("a")
	b, connB := newTestSession("b")
	r.Join(ctx, a, "note-1", testUser("ua"))
	r.Join(ctx, b, "note-1", testUser("ub"))

	r.Resync(ctx)

	// One snapshot from joining plus one from the resync.
	require.Len(t, connA.FramesOfType(wire.RoomUsers), 2)
	require.Len(t, connB.FramesOfType(wire.RoomUsers), 2)

	_, m, err := wire.DecodeTyped[[]wire.RoomUser](connA.FramesOfType(wire.RoomUsers)[1])
	require.NoError(t, err)
	require.Len(t, m.Content, 2)
}

func TestRunResyncLoop(t *testing.T) {
	r := NewRegistry(WithResyncInterval(10 * time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	a, connA := newTestSession("a")
	r.Join(ctx, a, "note-1", testUser("ua"))

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(connA.FramesOfType(wire.RoomUsers)) >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	// Reset on shutdown closed the socket and dropped the rooms.
	require.True(t, connA.closed)
	require.Empty(t, r.ListRooms())
}

func TestMembershipEventsPublished(t *testing.T) {
	bus := event.NewDispatcher()

	var mu sync.Mutex
	var events []RoomEvent
	unsubscribe := event.SubscribeTo(bus, RoomActivity, func(ev RoomEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	defer unsubscribe()

	r := NewRegistry(WithDispatcher(bus))
	ctx := context.Background()

	s, _ := newTestSession("s")
	r.Join(ctx, s, "note-1", testUser("us"))
	r.Leave(ctx, s)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "join", events[0].Kind)
	require.Equal(t, "leave", events[1].Kind)
	require.Equal(t, "note-1", events[0].NoteID)
	require.Equal(t, "us", events[1].UserID)
}
