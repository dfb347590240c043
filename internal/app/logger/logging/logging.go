package logging

import (
	"log/slog"
)

func Error(err error) slog.Attr {
	if err == nil {
		slog.Error("Going to log nil error")
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

func NoteID(noteID string) slog.Attr {
	return slog.String("noteId", noteID)
}

func SocketID(socketID string) slog.Attr {
	return slog.String("socketId", socketID)
}

func UserID(userID string) slog.Attr {
	return slog.String("userId", userID)
}
