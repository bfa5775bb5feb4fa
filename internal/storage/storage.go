// Package storage persists normalized messages from every channel in a
// single indexed SQLite database with idempotent upsert semantics.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"secretary/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotConnected is returned by every operation invoked before Connect or
// after Close.
var ErrNotConnected = errors.New("storage not connected")

// timeLayout is SQLite's canonical datetime text format. Fixed width keeps
// lexicographic ordering identical to chronological ordering, which the
// timestamp index relies on.
const timeLayout = "2006-01-02 15:04:05.000"

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id            TEXT PRIMARY KEY,
	channel       TEXT NOT NULL,
	channel_id    TEXT NOT NULL,
	sender_id     TEXT NOT NULL,
	sender_name   TEXT,
	text          TEXT,
	message_type  TEXT DEFAULT 'text',
	timestamp     DATETIME NOT NULL,
	is_group      BOOLEAN DEFAULT FALSE,
	is_mention    BOOLEAN DEFAULT FALSE,
	reply_to_id   TEXT,
	media_urls    TEXT,
	raw_json      TEXT,
	priority      TEXT,
	has_action    BOOLEAN DEFAULT FALSE,
	processed_at  DATETIME,
	received_at   DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_messages_priority ON messages(priority);
CREATE INDEX IF NOT EXISTS idx_messages_processed ON messages(processed_at);
`

// Stats summarizes stored message counts.
type Stats struct {
	TotalMessages int            `json:"total_messages"`
	ByChannel     map[string]int `json:"by_channel"`
	Unprocessed   int            `json:"unprocessed"`
}

// Store is the unified message store. Safe for concurrent use: SQLite access
// is serialized through a single pooled connection.
type Store struct {
	dbPath string
	db     *sql.DB
	logger *slog.Logger
}

// New creates a Store for the database at dbPath. Connect must be called
// before any other operation.
func New(dbPath string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dbPath: dbPath, logger: logger}
}

// Connect opens the database, creating the parent directory and schema as
// needed. The DDL is idempotent, so reconnecting against an existing file is
// safe.
func (s *Store) Connect(ctx context.Context) error {
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create data directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", s.dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("schema init failed: %w", err)
	}

	s.db = db
	s.logger.Info("storage connected", "path", s.dbPath)
	return nil
}

// Close releases the database connection. Safe to call when not connected.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SaveMessage upserts by id: a second save with the same id fully replaces
// the row (last-write-wins). Returns the message id. This is the idempotency
// primitive that makes pipeline re-runs safe.
func (s *Store) SaveMessage(ctx context.Context, msg *model.NormalizedMessage) (string, error) {
	if s.db == nil {
		return "", ErrNotConnected
	}

	var mediaURLs any
	if len(msg.MediaURLs) > 0 {
		b, err := json.Marshal(msg.MediaURLs)
		if err != nil {
			return "", fmt.Errorf("serialize media urls: %w", err)
		}
		mediaURLs = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO messages
		 (id, channel, channel_id, sender_id, sender_name, text, message_type,
		  timestamp, is_group, is_mention, reply_to_id, media_urls, raw_json,
		  priority, has_action, processed_at, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		msg.ID, string(msg.Channel), msg.ChannelID, msg.SenderID,
		nullable(msg.SenderName), msg.Text, string(msg.MessageType),
		msg.Timestamp.UTC().Format(timeLayout), msg.IsGroup, msg.IsMention,
		nullable(msg.ReplyToID), mediaURLs, nullable(msg.RawJSON),
		nullable(string(msg.Priority)), msg.HasAction,
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("save message %s: %w", msg.ID, err)
	}
	return msg.ID, nil
}

// GetMessage returns the stored message or (nil, nil) when the id is unknown.
func (s *Store) GetMessage(ctx context.Context, id string) (*model.NormalizedMessage, error) {
	if s.db == nil {
		return nil, ErrNotConnected
	}

	row := s.db.QueryRowContext(ctx, selectColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return msg, nil
}

// GetRecentMessages returns messages ordered by timestamp descending.
// channel and since are independent optional filters conjoined with AND;
// pass an empty channel or zero since to skip one.
func (s *Store) GetRecentMessages(ctx context.Context, channel model.ChannelType, limit int, since time.Time) ([]*model.NormalizedMessage, error) {
	if s.db == nil {
		return nil, ErrNotConnected
	}
	if limit <= 0 {
		limit = 50
	}

	query := selectColumns + ` FROM messages WHERE 1=1`
	var args []any
	if channel != "" {
		query += ` AND channel = ?`
		args = append(args, string(channel))
	}
	if !since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, since.UTC().Format(timeLayout))
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// GetUnprocessedMessages returns messages without a processed_at mark,
// oldest first, so downstream consumers see FIFO order.
func (s *Store) GetUnprocessedMessages(ctx context.Context) ([]*model.NormalizedMessage, error) {
	if s.db == nil {
		return nil, ErrNotConnected
	}

	rows, err := s.db.QueryContext(ctx,
		selectColumns+` FROM messages WHERE processed_at IS NULL ORDER BY timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("unprocessed messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// MarkProcessed stamps processed_at. An unknown id is a silent no-op: the
// update matches zero rows and that is not treated as an error.
func (s *Store) MarkProcessed(ctx context.Context, id string) error {
	if s.db == nil {
		return ErrNotConnected
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET processed_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("mark processed %s: %w", id, err)
	}
	return nil
}

// GetStats returns total, per-channel, and unprocessed message counts.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	if s.db == nil {
		return nil, ErrNotConnected
	}

	stats := &Stats{ByChannel: make(map[string]int)}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages`).Scan(&stats.TotalMessages); err != nil {
		return nil, fmt.Errorf("stats total: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, COUNT(*) FROM messages GROUP BY channel`)
	if err != nil {
		return nil, fmt.Errorf("stats by channel: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var channel string
		var count int
		if err := rows.Scan(&channel, &count); err != nil {
			return nil, err
		}
		stats.ByChannel[channel] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE processed_at IS NULL`).Scan(&stats.Unprocessed); err != nil {
		return nil, fmt.Errorf("stats unprocessed: %w", err)
	}

	return stats, nil
}

const selectColumns = `SELECT id, channel, channel_id, sender_id, sender_name,
	text, message_type, timestamp, is_group, is_mention, reply_to_id,
	media_urls, raw_json, priority, has_action`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*model.NormalizedMessage, error) {
	var (
		msg                                 model.NormalizedMessage
		channel, messageType, timestamp     string
		senderName, replyTo, media, rawJSON sql.NullString
		priority                            sql.NullString
	)

	err := row.Scan(&msg.ID, &channel, &msg.ChannelID, &msg.SenderID,
		&senderName, &msg.Text, &messageType, &timestamp, &msg.IsGroup,
		&msg.IsMention, &replyTo, &media, &rawJSON, &priority, &msg.HasAction)
	if err != nil {
		return nil, err
	}

	msg.Channel = model.ParseChannelType(channel)
	msg.MessageType = model.ParseMessageType(messageType)
	msg.SenderName = senderName.String
	msg.ReplyToID = replyTo.String
	msg.RawJSON = rawJSON.String
	if priority.Valid {
		msg.Priority, _ = model.ParsePriority(priority.String)
	}
	if ts, err := time.Parse(timeLayout, timestamp); err == nil {
		msg.Timestamp = ts
	}
	if media.Valid && media.String != "" {
		if err := json.Unmarshal([]byte(media.String), &msg.MediaURLs); err != nil {
			return nil, fmt.Errorf("decode media urls for %s: %w", msg.ID, err)
		}
	}
	return &msg, nil
}

func collectMessages(rows *sql.Rows) ([]*model.NormalizedMessage, error) {
	var out []*model.NormalizedMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
