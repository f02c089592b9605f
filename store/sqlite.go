package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/KarimAziev/elfai/domain"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// In-memory SQLite gives every pooled connection its own database.
	// Keep a single connection so the schema survives across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS streams (
			stream_id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			model TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_streams_document ON streams(document_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			stream_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (stream_id) REFERENCES streams(stream_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_stream ON messages(stream_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			stream_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			FOREIGN KEY (stream_id) REFERENCES streams(stream_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_stream ON events(stream_id, ts)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateStream creates a new stream record.
func (s *SQLiteStore) CreateStream(ctx context.Context, stream *domain.Stream) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO streams (stream_id, document_id, model, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		stream.StreamID, stream.DocumentID, stream.Model, stream.Status, stream.StartedAt)
	return err
}

// GetStream retrieves a stream by ID.
func (s *SQLiteStore) GetStream(ctx context.Context, streamID string) (*domain.Stream, error) {
	var stream domain.Stream
	var endedAt sql.NullTime
	var errData sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT stream_id, document_id, model, status, started_at, ended_at, error FROM streams WHERE stream_id = ?`,
		streamID).Scan(&stream.StreamID, &stream.DocumentID, &stream.Model, &stream.Status, &stream.StartedAt, &endedAt, &errData)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		stream.EndedAt = &endedAt.Time
	}
	if errData.Valid {
		stream.Error = json.RawMessage(errData.String)
	}
	return &stream, nil
}

// ListStreams retrieves streams, most recent first. An empty documentID
// lists streams across all documents.
func (s *SQLiteStore) ListStreams(ctx context.Context, documentID string, limit int) ([]domain.Stream, error) {
	query := `SELECT stream_id, document_id, model, status, started_at, ended_at, error FROM streams`
	args := []interface{}{}

	if documentID != "" {
		query += ` WHERE document_id = ?`
		args = append(args, documentID)
	}

	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var streams []domain.Stream
	for rows.Next() {
		var stream domain.Stream
		var endedAt sql.NullTime
		var errData sql.NullString
		if err := rows.Scan(&stream.StreamID, &stream.DocumentID, &stream.Model, &stream.Status, &stream.StartedAt, &endedAt, &errData); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			stream.EndedAt = &endedAt.Time
		}
		if errData.Valid {
			stream.Error = json.RawMessage(errData.String)
		}
		streams = append(streams, stream)
	}
	return streams, rows.Err()
}

// UpdateStreamStatus updates the status of a stream. Terminal statuses are
// sticky: a late transition write racing the finalizer cannot resurrect a
// finished stream.
func (s *SQLiteStore) UpdateStreamStatus(ctx context.Context, streamID string, status domain.StreamStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE streams SET status = ? WHERE stream_id = ? AND status NOT IN (?, ?, ?)`,
		status, streamID,
		domain.StreamStatusDone, domain.StreamStatusAborted, domain.StreamStatusFailed)
	return err
}

// UpdateStreamCompleted updates a stream to a terminal state.
func (s *SQLiteStore) UpdateStreamCompleted(ctx context.Context, streamID string, status domain.StreamStatus, errData []byte) error {
	now := time.Now()
	var errStr sql.NullString
	if errData != nil {
		errStr = sql.NullString{String: string(errData), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE streams SET status = ?, ended_at = ?, error = ? WHERE stream_id = ?`,
		status, now, errStr, streamID)
	return err
}

// CreateMessage creates a new archived message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.StreamMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, stream_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		message.MessageID, message.StreamID, message.Role, message.Content, message.CreatedAt)
	return err
}

// GetMessages retrieves the archived messages of a stream in order.
func (s *SQLiteStore) GetMessages(ctx context.Context, streamID string, limit int) ([]domain.StreamMessage, error) {
	query := `SELECT message_id, stream_id, role, content, created_at FROM messages WHERE stream_id = ? ORDER BY created_at ASC, message_id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.StreamMessage
	for rows.Next() {
		var msg domain.StreamMessage
		if err := rows.Scan(&msg.MessageID, &msg.StreamID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CreateEvent creates a new lifecycle event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	payload := ""
	if event.Payload != nil {
		payload = string(event.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, stream_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		event.EventID, event.StreamID, event.Ts, event.Type, payload)
	return err
}

// GetEvents retrieves the lifecycle events of a stream in recorded order.
func (s *SQLiteStore) GetEvents(ctx context.Context, streamID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	query := `SELECT event_id, stream_id, ts, type, payload FROM events WHERE stream_id = ?`
	args := []interface{}{streamID}

	if afterTs > 0 {
		query += ` AND ts > ?`
		args = append(args, afterTs)
	}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND type IN (%s)", strings.Join(placeholders, ","))
	}

	// Events recorded in the same millisecond keep insertion order
	query += ` ORDER BY ts ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var payload sql.NullString
		if err := rows.Scan(&event.EventID, &event.StreamID, &event.Ts, &event.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
