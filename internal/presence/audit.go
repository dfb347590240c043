package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/kelindar/event"
	"github.com/scribly/presence/internal/app/logger/logging"
	"github.com/scribly/presence/internal/database"
)

// AttachAuditLog subscribes the database to the registry's membership
// events. Returns the unsubscribe function. Failing to record a row is
// logged and dropped; the audit trail is best-effort and must never stall
// the registry.
func AttachAuditLog(bus *event.Dispatcher, db *database.SQLite) func() {
	return event.SubscribeTo(bus, RoomActivity, func(ev RoomEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := db.RecordPresence(ctx, database.PresenceRecord{
			Kind:     ev.Kind,
			NoteID:   ev.NoteID,
			SocketID: ev.SocketID,
			UserID:   ev.UserID,
			At:       ev.At,
		})
		if err != nil {
			slog.Warn("Could not record the presence event", logging.NoteID(ev.NoteID), logging.Error(err))
		}
	})
}
