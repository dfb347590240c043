package wire

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
)

const SupportedSubProtocol = "scribly.presence.v1"

var ProtoVersion = "dev"

// Connect dials the presence server. The bearer token authenticates the
// session; announcing which note is being viewed happens afterwards with a
// JoinNote message.
func Connect(ctx context.Context, wsURL string, token string) (*websocket.Conn, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}

	slog.Debug("Connecting to the presence server", "url", u.String())

	// Give 5 seconds to establish the WebSocket connection.
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	headers := http.Header{}
	headers.Set("X-Version", ProtoVersion)
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	ws, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{SupportedSubProtocol},
		HTTPHeader:   headers,
	})
	if err != nil {
		return nil, err
	}

	return ws, nil
}

var _ WebSocketWriter = (*websocket.Conn)(nil)

type WebSocketWriter interface {
	Write(ctx context.Context, messageType websocket.MessageType, payload []byte) error
}

func Write(ctx context.Context, wsConn WebSocketWriter, payload []byte) error {
	return wsConn.Write(ctx, websocket.MessageText, payload)
}
