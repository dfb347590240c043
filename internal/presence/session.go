package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/scribly/presence/internal/app/logger/logging"
	"github.com/scribly/presence/internal/metrics"
	"github.com/scribly/presence/internal/wire"
)

// UserSession is one active channel connection. The socket id is assigned
// when the channel is accepted; NoteID and User are set by the registry on
// join and must only be touched while holding the registry lock.
type UserSession struct {
	SocketID string `json:"socketId"`
	NoteID   string `json:"noteId,omitempty"`

	ConnectedAt time.Time `json:"connectedAt,omitempty"`
	LastSeen    time.Time `json:"lastSeen,omitempty"`

	User wire.User

	wsConn ConnReadWriter
}

func NewUserSession(socketID string, conn ConnReadWriter) *UserSession {
	return &UserSession{
		SocketID:    socketID,
		ConnectedAt: time.Now().In(time.UTC),
		wsConn:      conn,
	}
}

func (us *UserSession) ReadNext(ctx context.Context) ([]byte, error) {
	if us.wsConn == nil {
		return nil, fmt.Errorf("not connected")
	}
	_, payload, err := us.wsConn.Read(ctx)
	if err != nil {
		slog.Debug("Could not read the message", logging.Error(err), "closeError", websocket.CloseStatus(err))
		return nil, err
	}
	return payload, nil
}

// Send delivers a composed payload. A failed write is logged and counted,
// never returned, so one slow or closing recipient cannot abort a fan-out.
func (us *UserSession) Send(ctx context.Context, payload []byte) {
	if us.wsConn == nil {
		slog.Debug("not connected", logging.SocketID(us.SocketID))
		metrics.FailedMessageSends.WithLabelValues("not_connected").Inc()
		return
	}
	if len(payload) < 1 {
		slog.Debug("payload is too short", "length", len(payload))
		metrics.FailedMessageSends.WithLabelValues("payload_too_short").Inc()
		return
	}

	if err := wire.Write(ctx, us.wsConn, payload); err != nil {
		slog.Warn("Could not send a WS message", "to", us.SocketID, logging.Error(err))
		metrics.FailedMessageSends.WithLabelValues("write_error").Inc()
	}
}

func (us *UserSession) ToRoomUser() wire.RoomUser {
	return wire.RoomUser{
		UserID:    us.User.ID,
		Name:      us.User.Name,
		AvatarURL: us.User.AvatarURL,
		SocketID:  us.SocketID,
	}
}

var _ ConnReadWriter = (*websocket.Conn)(nil)

type ConnReadWriter interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	CloseNow() error
}
