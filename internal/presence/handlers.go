package presence

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/scribly/presence/internal/app/logger/logging"
	"github.com/scribly/presence/internal/metrics"
	"github.com/scribly/presence/internal/wire"
)

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, authenticated, err := s.authenticate(r)
	if err != nil {
		slog.Warn("Rejected presence connection", logging.Error(err), "origin", r.Header.Get("Origin"))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wire.SupportedSubProtocol},
	})
	if err != nil {
		slog.Error("Could not accept the connection",
			logging.Error(err),
			"origin", r.Header.Get("Origin"))
		metrics.ConnectionErrs.Inc()
		return
	}
	defer conn.CloseNow()

	if conn.Subprotocol() != wire.SupportedSubProtocol {
		_ = conn.Close(websocket.StatusPolicyViolation, "client must speak the presence subprotocol")
		return
	}

	session := NewUserSession(uuid.NewString(), conn)
	if err := s.HandleSession(r.Context(), session, user, authenticated); err != nil {
		return
	}
}

// authenticate resolves the user descriptor from the bearer token. Without a
// configured verifier the server runs open and the descriptor supplied in
// the join-note payload is trusted as-is.
func (s *Server) authenticate(r *http.Request) (wire.User, bool, error) {
	if s.Verifier == nil {
		return wire.User{}, false, nil
	}

	raw := r.URL.Query().Get("token")
	if header := r.Header.Get("Authorization"); header != "" {
		raw = strings.TrimPrefix(header, "Bearer ")
	}
	if raw == "" {
		return wire.User{}, false, errors.New("missing bearer token")
	}

	user, err := s.Verifier.Verify(raw)
	if err != nil {
		return wire.User{}, false, err
	}
	return user, true, nil
}

// HandleSession pumps the channel until it closes. Malformed messages are
// dropped without tearing the channel down; only read errors end the pump.
func (s *Server) HandleSession(ctx context.Context, session *UserSession, claims wire.User, authenticated bool) error {
	metrics.TotalSessions.Inc()
	metrics.ActiveSessions.Inc()
	defer func() {
		metrics.ActiveSessions.Dec()
		metrics.SessionDuration.Observe(time.Since(session.ConnectedAt).Seconds())
	}()

	// Channel close runs the same cleanup whether the peer left politely or
	// the tab vanished.
	defer s.Registry.Disconnect(context.WithoutCancel(ctx), session)

	for {
		session.LastSeen = time.Now().In(time.UTC)

		payload, err := session.ReadNext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			switch state := websocket.CloseStatus(err); state {
			case -1:
				// connection reset by peer
				return nil
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			default:
				slog.Debug("Read failed, dropping the session", logging.SocketID(session.SocketID), logging.Error(err))
				return err
			}
		}

		s.handleMessage(ctx, session, claims, authenticated, payload)
	}
}

func (s *Server) handleMessage(ctx context.Context, session *UserSession, claims wire.User, authenticated bool, payload []byte) {
	et := wire.ParseEventType(payload)
	metrics.MessagesReceived.WithLabelValues(et.String()).Inc()

	switch et {
	case wire.JoinNote:
		_, m, err := wire.DecodeTyped[wire.Join](payload)
		if err != nil {
			slog.Debug("Ignoring malformed join-note", logging.SocketID(session.SocketID), logging.Error(err))
			metrics.InvalidPayloads.Inc()
			return
		}
		if m.Content.NoteID == "" {
			slog.Debug("Ignoring join-note without a note id", logging.SocketID(session.SocketID))
			metrics.InvalidPayloads.Inc()
			return
		}

		user := m.Content.User
		if authenticated {
			// The verified claims win over whatever the client announced.
			user = claims
		}
		if user.ID == "" {
			slog.Debug("Ignoring join-note without a user", logging.SocketID(session.SocketID))
			metrics.InvalidPayloads.Inc()
			return
		}

		s.Registry.Join(ctx, session, m.Content.NoteID, user)

	case wire.CursorUpdate:
		_, m, err := wire.DecodeTyped[wire.Cursor](payload)
		if err != nil {
			slog.Debug("Ignoring malformed cursor-update", logging.SocketID(session.SocketID), logging.Error(err))
			metrics.InvalidPayloads.Inc()
			return
		}
		s.Registry.CursorUpdate(ctx, session, m.Content)

	default:
		slog.Debug("Unhandled event type", "type", et.String(), logging.SocketID(session.SocketID))
		metrics.InvalidPayloads.Inc()
	}
}
