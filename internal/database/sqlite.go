package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/scribly/presence/internal/app/logger/logging"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLite stores the presence audit trail. The Writer connection is capped at
// one open conn to serialize writes; reads go through a separate pool.
type SQLite struct {
	Writer *sql.DB
	Reader *sql.DB
}

func NewMemory() (*SQLite, error) {
	slog.Debug("Connecting to in-memory SQLite database")

	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}

	// Set max open connections to 1 to prevent concurrent writes
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		return nil, err
	}
	if err := Migrate(conn); err != nil {
		return nil, err
	}

	return &SQLite{
		Reader: conn,
		Writer: conn,
	}, nil
}

func NewLocal(pathToDatabase string) (*SQLite, error) {
	pragmas := "_pragma=busy_timeout(10000)&" +
		"_pragma=journal_mode(WAL)&" +
		"_pragma=journal_size_limit(200000000)&" +
		"_pragma=synchronous(NORMAL)&" +
		"_pragma=foreign_keys(ON)&" +
		"_pragma=temp_store(MEMORY)&" +
		"_pragma=cache_size(-16000)"
	uri := fmt.Sprintf("%s?%s", pathToDatabase, pragmas)
	slog.Debug("Connecting to local SQLite database", "uri", uri)

	writer, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, err
	}

	writer.SetMaxOpenConns(1)

	if err := writer.Ping(); err != nil {
		return nil, err
	}
	if err := Migrate(writer); err != nil {
		return nil, err
	}

	reader, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, err
	}

	reader.SetMaxOpenConns(min(runtime.NumCPU(), 4))
	if err := reader.Ping(); err != nil {
		return nil, err
	}

	return &SQLite{
		Reader: reader,
		Writer: writer,
	}, nil
}

func Migrate(conn *sql.DB) error {
	migrationSource, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlite.WithInstance(conn, &sqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", migrationSource, "sqlite", driver)
	if err != nil {
		return err
	}

	{
		version, dirty, err := m.Version()
		slog.Debug("Migration status", "version", version, "dirty", dirty, logging.Error(err))
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migration: %w", err)
	}

	return nil
}

func (db *SQLite) Ping() error {
	return db.Reader.Ping()
}

func (db *SQLite) Close() error {
	if db.Reader == db.Writer {
		return db.Writer.Close()
	}
	return errors.Join(
		db.Writer.Close(),
		db.Reader.Close(),
	)
}

// PresenceRecord is one row of the audit trail.
type PresenceRecord struct {
	ID       int64     `json:"id"`
	Kind     string    `json:"kind"`
	NoteID   string    `json:"noteId"`
	SocketID string    `json:"socketId"`
	UserID   string    `json:"userId"`
	At       time.Time `json:"at"`
}

// RecordPresence appends one membership change to the audit trail.
func (db *SQLite) RecordPresence(ctx context.Context, rec PresenceRecord) error {
	_, err := db.Writer.ExecContext(ctx,
		`INSERT INTO presence_log (kind, note_id, socket_id, user_id, happened_at) VALUES (?, ?, ?, ?, ?)`,
		rec.Kind, rec.NoteID, rec.SocketID, rec.UserID, rec.At.In(time.UTC).Format(time.RFC3339Nano),
	)
	return err
}

// ListPresence returns the most recent audit rows for a note, newest first.
func (db *SQLite) ListPresence(ctx context.Context, noteID string, limit int) ([]PresenceRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Reader.QueryContext(ctx,
		`SELECT id, kind, note_id, socket_id, user_id, happened_at FROM presence_log WHERE note_id = ? ORDER BY id DESC LIMIT ?`,
		noteID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []PresenceRecord
	for rows.Next() {
		var rec PresenceRecord
		var at string
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.NoteID, &rec.SocketID, &rec.UserID, &at); err != nil {
			return nil, err
		}
		rec.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse happened_at: %w", err)
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}
