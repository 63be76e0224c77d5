// Package store provides a SQLite-backed conversation history store.
// Each collection has its own conversation thread. Messages are persisted
// across restarts, injected into the prompt on follow-up questions and can
// be exported to or imported from JSON.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/docrag-go/internal/rag"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser is a question asked by the human operator.
	RoleUser Role = "user"
	// RoleAssistant is an answer produced by the responder.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleUser || r == RoleAssistant }

// Message is a single turn in a conversation. Its JSON form is the history
// export format.
type Message struct {
	// Role is the author of the message.
	Role Role `json:"role"`
	// Content is the text of the message.
	Content string `json:"content"`
	// Sources are the units an assistant answer was grounded on.
	Sources []rag.RetrievedSource `json:"sources,omitempty"`
	// CreatedAt is when the message was persisted.
	CreatedAt time.Time `json:"-"`
}

// ConversationStore persists and retrieves conversation history keyed by
// collection name. Implementations must be safe for concurrent use.
type ConversationStore interface {
	// Append persists msgs for the collection atomically, in order.
	Append(ctx context.Context, collection string, msgs ...Message) error
	// Recent returns the most recent n messages for the collection, ordered
	// oldest-first so they can be placed in the prompt directly.
	// If fewer than n messages exist, all are returned.
	Recent(ctx context.Context, collection string, n int) ([]Message, error)
	// All returns the full history for the collection, oldest-first.
	All(ctx context.Context, collection string) ([]Message, error)
	// Clear deletes the collection's history and returns how many messages
	// were removed.
	Clear(ctx context.Context, collection string) (int64, error)
	// Replace atomically swaps the collection's history for msgs.
	Replace(ctx context.Context, collection string, msgs []Message) error
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a ConversationStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

var _ ConversationStore = (*SQLiteStore)(nil)

// DefaultDBPath returns the default path for the conversation history database.
// It resolves to ~/.docrag/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// The sqlite driver only applies pragmas passed as _pragma parameters.
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS messages (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    collection   TEXT    NOT NULL,
    role         TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content      TEXT    NOT NULL,
    sources      TEXT    NOT NULL DEFAULT '',  -- JSON array, empty when none
    created_at   INTEGER NOT NULL              -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_messages_collection_created
    ON messages (collection, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insert(ctx context.Context, ex execer, collection string, m Message) error {
	if !m.Role.Valid() {
		return fmt.Errorf("store: unknown role %q: %w", m.Role, rag.ErrInvalidInput)
	}
	var sources string
	if len(m.Sources) > 0 {
		b, err := json.Marshal(m.Sources)
		if err != nil {
			return fmt.Errorf("store: encode sources: %w", err)
		}
		sources = string(b)
	}
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	const q = `INSERT INTO messages (collection, role, content, sources, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := ex.ExecContext(ctx, q, collection, string(m.Role), m.Content, sources, created.Unix()); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Append persists msgs for the collection in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, collection string, msgs ...Message) error {
	if collection == "" {
		return fmt.Errorf("store: collection name is empty: %w", rag.ErrInvalidInput)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, m := range msgs {
			if err := insert(ctx, tx, collection, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// Recent returns the most recent n messages for the collection, ordered
// oldest-first. Uses a subquery to select the tail then re-order for injection.
func (s *SQLiteStore) Recent(ctx context.Context, collection string, n int) ([]Message, error) {
	const q = `
SELECT role, content, sources, created_at FROM (
    SELECT id, role, content, sources, created_at
    FROM   messages
    WHERE  collection = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`
	return s.query(ctx, "recent", q, collection, n)
}

// All returns every message for the collection, oldest-first.
func (s *SQLiteStore) All(ctx context.Context, collection string) ([]Message, error) {
	const q = `
SELECT role, content, sources, created_at
FROM   messages
WHERE  collection = ?
ORDER  BY created_at ASC, id ASC`
	return s.query(ctx, "all", q, collection)
}

func (s *SQLiteStore) query(ctx context.Context, op, q string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", op, err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		var ts int64
		var role, sources string
		if err := rows.Scan(&role, &m.Content, &sources, &ts); err != nil {
			return nil, fmt.Errorf("store: %s scan: %w", op, err)
		}
		m.Role = Role(role)
		m.CreatedAt = time.Unix(ts, 0)
		if sources != "" {
			if err := json.Unmarshal([]byte(sources), &m.Sources); err != nil {
				return nil, fmt.Errorf("store: %s: decode sources: %w", op, err)
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: %s rows: %w", op, err)
	}
	return msgs, nil
}

// Clear deletes the collection's history.
func (s *SQLiteStore) Clear(ctx context.Context, collection string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE collection = ?`, collection)
	if err != nil {
		return 0, fmt.Errorf("store: clear: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: clear: %w", err)
	}
	return n, nil
}

// Replace swaps the collection's history for msgs in one transaction.
func (s *SQLiteStore) Replace(ctx context.Context, collection string, msgs []Message) error {
	if collection == "" {
		return fmt.Errorf("store: collection name is empty: %w", rag.ErrInvalidInput)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE collection = ?`, collection); err != nil {
			return fmt.Errorf("store: replace: %w", err)
		}
		for _, m := range msgs {
			if err := insert(ctx, tx, collection, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// Export writes the collection's history to w as a JSON array indented by
// two spaces. An empty history is written as [].
func Export(ctx context.Context, s ConversationStore, collection string, w io.Writer) error {
	msgs, err := s.All(ctx, collection)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(msgs); err != nil {
		return fmt.Errorf("store: export: %w", err)
	}
	return nil
}

// Import reads a JSON array in the Export format from r and replaces the
// collection's history with it. It returns the number of messages imported.
// Malformed input or an unknown role is rag.ErrInvalidInput and leaves the
// existing history untouched.
func Import(ctx context.Context, s ConversationStore, collection string, r io.Reader) (int, error) {
	var msgs []Message
	if err := json.NewDecoder(r).Decode(&msgs); err != nil {
		return 0, fmt.Errorf("store: import: %w: %w", rag.ErrInvalidInput, err)
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return 0, fmt.Errorf("store: import: message %d: unknown role %q: %w", i, m.Role, rag.ErrInvalidInput)
		}
	}
	if err := s.Replace(ctx, collection, msgs); err != nil {
		return 0, err
	}
	return len(msgs), nil
}
