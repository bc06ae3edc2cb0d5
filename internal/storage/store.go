// Package storage persists messages and chats in SQLite. The server is the
// only writer; clients see this data through the history endpoint and the
// event fanout.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000

	// DefaultChatID backs clients that never pick an explicit chat.
	DefaultChatID = "general"
)

var (
	// ErrMessageExists is returned when inserting a duplicate message id.
	ErrMessageExists = errors.New("message already exists")
	// ErrNotFound is returned when the target message does not exist.
	ErrNotFound = errors.New("message not found")
	// ErrNotOwner is returned when a mutation names a sender that does not
	// own the message.
	ErrNotOwner = errors.New("not the message sender")
)

// Message is one persisted message row. Reactions are stored as a JSON blob;
// the mapping is always replaced whole, never patched.
type Message struct {
	ID            string
	ChatID        string
	User          string
	DisplayName   string
	Text          string
	Timestamp     int64
	MessageType   string
	MediaURL      string
	MediaType     string
	MediaDuration int64
	FileName      string
	FileSize      int64
	StickerID     string
	ReplyToID     string
	IsForwarded   bool
	ForwardedFrom string
	Reactions     map[string][]string
	UpdatedAt     int64
	Deleted       bool
}

// Chat is one persisted chat row.
type Chat struct {
	ID            string
	Name          string
	Description   string
	ImageURL      string
	LastMessageAt int64
	CreatedAt     int64
}

// Store wraps the SQLite handle and exposes the helpers the server uses.
type Store struct {
	db *sql.DB
}

// NewStore initializes the SQLite database at the provided path. Call Close
// when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "parley.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements and seeds the default chat.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			last_message_at INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			user TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL,
			message_type TEXT NOT NULL DEFAULT 'text',
			media_url TEXT NOT NULL DEFAULT '',
			media_type TEXT NOT NULL DEFAULT '',
			media_duration INTEGER NOT NULL DEFAULT 0,
			file_name TEXT NOT NULL DEFAULT '',
			file_size INTEGER NOT NULL DEFAULT 0,
			sticker_id TEXT NOT NULL DEFAULT '',
			reply_to_id TEXT NOT NULL DEFAULT '',
			is_forwarded INTEGER NOT NULL DEFAULT 0,
			forwarded_from TEXT NOT NULL DEFAULT '',
			reactions TEXT NOT NULL DEFAULT '{}',
			updated_at INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY(chat_id) REFERENCES chats(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_time ON messages(chat_id, timestamp DESC);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO chats(id, name, created_at) VALUES(?, ?, strftime('%s','now') * 1000)`,
		DefaultChatID, "General"); err != nil {
		return err
	}
	return tx.Commit()
}

// InsertMessage persists one message and bumps the chat's activity timestamp.
// The caller has already assigned the id and timestamp.
func (s *Store) InsertMessage(ctx context.Context, m *Message) error {
	reactions, err := json.Marshal(reactionsOrEmpty(m.Reactions))
	if err != nil {
		return err
	}
	chatID := m.ChatID
	if chatID == "" {
		chatID = DefaultChatID
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO messages(
			id, chat_id, user, display_name, text, timestamp, message_type,
			media_url, media_type, media_duration, file_name, file_size,
			sticker_id, reply_to_id, is_forwarded, forwarded_from,
			reactions, updated_at, deleted
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)`,
		m.ID, chatID, m.User, m.DisplayName, m.Text, m.Timestamp, m.MessageType,
		m.MediaURL, m.MediaType, m.MediaDuration, m.FileName, m.FileSize,
		m.StickerID, m.ReplyToID, boolToInt(m.IsForwarded), m.ForwardedFrom,
		string(reactions)); err != nil {
		if isConstraintError(err) {
			err = ErrMessageExists
		}
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE chats SET last_message_at = ? WHERE id = ? AND last_message_at < ?`,
		m.Timestamp, chatID, m.Timestamp); err != nil {
		return err
	}
	return tx.Commit()
}

// ListMessages returns up to limit messages for the chat, newest first.
func (s *Store) ListMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if chatID == "" {
		chatID = DefaultChatID
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, user, display_name, text, timestamp, message_type,
			media_url, media_type, media_duration, file_name, file_size,
			sticker_id, reply_to_id, is_forwarded, forwarded_from,
			reactions, updated_at, deleted
		FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var reactions string
		var forwarded, deleted int
		if err := rows.Scan(&m.ID, &m.ChatID, &m.User, &m.DisplayName, &m.Text,
			&m.Timestamp, &m.MessageType, &m.MediaURL, &m.MediaType,
			&m.MediaDuration, &m.FileName, &m.FileSize, &m.StickerID,
			&m.ReplyToID, &forwarded, &m.ForwardedFrom, &reactions,
			&m.UpdatedAt, &deleted); err != nil {
			return nil, err
		}
		m.IsForwarded = forwarded != 0
		m.Deleted = deleted != 0
		if err := json.Unmarshal([]byte(reactions), &m.Reactions); err != nil {
			m.Reactions = map[string][]string{}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMessageText rewrites the text of a message owned by user.
func (s *Store) UpdateMessageText(ctx context.Context, id, user, text string, updatedAt int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET text = ?, updated_at = ? WHERE id = ? AND user = ? AND deleted = 0`,
		text, updatedAt, id, user)
	if err != nil {
		return err
	}
	return ownershipResult(ctx, s.db, res, id)
}

// MarkDeleted soft-deletes a message owned by user. The row stays so history
// keeps its position and reply references stay resolvable.
func (s *Store) MarkDeleted(ctx context.Context, id, user string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET deleted = 1 WHERE id = ? AND user = ?`, id, user)
	if err != nil {
		return err
	}
	return ownershipResult(ctx, s.db, res, id)
}

// SetReactions replaces the full reaction mapping of a message.
func (s *Store) SetReactions(ctx context.Context, id string, reactions map[string][]string) error {
	blob, err := json.Marshal(reactionsOrEmpty(reactions))
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET reactions = ? WHERE id = ?`, string(blob), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertChat inserts or refreshes a chat row.
func (s *Store) UpsertChat(ctx context.Context, c *Chat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats(id, name, description, image_url, last_message_at, created_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			image_url = excluded.image_url`,
		c.ID, c.Name, c.Description, c.ImageURL, c.LastMessageAt, c.CreatedAt)
	return err
}

// ListChats returns every chat, most recently active first.
func (s *Store) ListChats(ctx context.Context) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, image_url, last_message_at, created_at
		FROM chats
		ORDER BY last_message_at DESC, created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.ImageURL,
			&c.LastMessageAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ownershipResult distinguishes "no such message" from "not yours" after an
// ownership-guarded update that matched nothing.
func ownershipResult(ctx context.Context, db *sql.DB, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM messages WHERE id = ?`, id).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrNotOwner
}

func reactionsOrEmpty(m map[string][]string) map[string][]string {
	if m == nil {
		return map[string][]string{}
	}
	return m
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqliteConstraintCode
	}
	return false
}
