// Package store persists conversation state in a local SQLite database:
// the message log, condensed memory, pending-extraction transcripts, and
// crash-durability checkpoints.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/voiceloop/voiceloop/pkg/core/live"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	character  TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_character ON messages(character, created_at);

CREATE TABLE IF NOT EXISTS memories (
	character TEXT PRIMARY KEY,
	content   TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_transcripts (
	character TEXT PRIMARY KEY,
	content   TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	character TEXT PRIMARY KEY,
	content   TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// Store is a SQLite-backed live.Store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendMessage adds one message to the character's conversation log.
func (s *Store) AppendMessage(character string, msg live.Message) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (id, character, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, character, string(msg.Role), msg.Content, msg.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit messages for the character, oldest
// first.
func (s *Store) RecentMessages(character string, limit int) ([]live.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, role, content, created_at FROM messages
		 WHERE character = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		character, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []live.Message
	for rows.Next() {
		var m live.Message
		var role string
		var ts time.Time
		if err := rows.Scan(&m.ID, &role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = live.Role(role)
		m.Timestamp = ts
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) getSlot(table, character string) (string, error) {
	var content string
	err := s.db.QueryRow(
		`SELECT content FROM `+table+` WHERE character = ?`, character,
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", table, err)
	}
	return content, nil
}

func (s *Store) setSlot(table, character, content string) error {
	_, err := s.db.Exec(
		`INSERT INTO `+table+` (character, content, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(character) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		character, content, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("write %s: %w", table, err)
	}
	return nil
}

func (s *Store) clearSlot(table, character string) error {
	_, err := s.db.Exec(`DELETE FROM `+table+` WHERE character = ?`, character)
	if err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	return nil
}

// Memory returns the condensed conversation memory, or "".
func (s *Store) Memory(character string) (string, error) {
	return s.getSlot("memories", character)
}

// SetMemory replaces the condensed conversation memory.
func (s *Store) SetMemory(character, content string) error {
	return s.setSlot("memories", character, content)
}

// PendingTranscript returns the transcript awaiting fact extraction, or "".
func (s *Store) PendingTranscript(character string) (string, error) {
	return s.getSlot("pending_transcripts", character)
}

// SetPendingTranscript replaces the pending-extraction transcript.
func (s *Store) SetPendingTranscript(character, content string) error {
	return s.setSlot("pending_transcripts", character, content)
}

// ClearPendingTranscript removes the pending-extraction transcript.
func (s *Store) ClearPendingTranscript(character string) error {
	return s.clearSlot("pending_transcripts", character)
}

// Checkpoint returns the live-session durability snapshot, or "".
func (s *Store) Checkpoint(character string) (string, error) {
	return s.getSlot("checkpoints", character)
}

// SetCheckpoint replaces the durability snapshot.
func (s *Store) SetCheckpoint(character, content string) error {
	return s.setSlot("checkpoints", character, content)
}

// ClearCheckpoint removes the durability snapshot.
func (s *Store) ClearCheckpoint(character string) error {
	return s.clearSlot("checkpoints", character)
}
