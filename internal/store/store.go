// Package store implements the gateway's persisted state: the append-only
// conversation log and critical-event log in SQLite (grounded on
// store/sqlite/sqlite.go's single-connection-pool, CREATE TABLE IF NOT
// EXISTS idiom), and the smaller paired-device / agent-config lists as
// atomically-replaced JSON files (grounded on internal/config's plain-file
// load shape, generalized to a write path).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

// DB wraps a single-connection SQLite pool the way store/sqlite.Store does:
// SetMaxOpenConns(1) serializes all writers through one connection,
// eliminating SQLITE_BUSY from independently-opened concurrent connections.
type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	conn.SetMaxOpenConns(1)
	return &DB{conn: conn}, nil
}

func (d *DB) Raw() *sql.DB { return d.conn }

func (d *DB) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			model TEXT,
			timestamp INTEGER NOT NULL,
			client_ip TEXT NOT NULL,
			agent_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS critical_events (
			timestamp INTEGER NOT NULL,
			name TEXT NOT NULL,
			payload TEXT,
			source TEXT NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := d.conn.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("store: create table: %w", err)
		}
	}
	return nil
}

// AppendMessage persists one conversation message (spec.md §4.6 Stage 5/7).
func (d *DB) AppendMessage(ctx context.Context, sessionID string, m gatewaytypes.ConversationMessage) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO conversation_messages (id, session_id, role, content, model, timestamp, client_ip, agent_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, sessionID, m.Role, m.Content.ExtractText(), m.Model, m.Timestamp, m.ClientIP, m.AgentID)
	return err
}

// SessionMessages returns the last limit messages for a session, oldest first.
func (d *DB) SessionMessages(ctx context.Context, sessionID string, limit int) ([]gatewaytypes.ConversationMessage, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, role, content, model, timestamp, client_ip, agent_id FROM conversation_messages
		 WHERE session_id = ? ORDER BY timestamp DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gatewaytypes.ConversationMessage
	for rows.Next() {
		var m gatewaytypes.ConversationMessage
		var content, model, agentID sql.NullString
		if err := rows.Scan(&m.ID, &m.Role, &content, &model, &m.Timestamp, &m.ClientIP, &agentID); err != nil {
			return nil, err
		}
		m.Content = gatewaytypes.TextContent(content.String)
		m.Model = model.String
		m.AgentID = agentID.String
		out = append(out, m)
	}
	// Reverse to oldest-first for LLM consumption.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// PersistCriticalEvent implements eventbus.PersistFunc.
func (d *DB) PersistCriticalEvent(ctx context.Context, e gatewaytypes.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	_, err = d.conn.ExecContext(ctx,
		`INSERT INTO critical_events (timestamp, name, payload, source) VALUES (?, ?, ?, ?)`,
		e.Timestamp, e.Name, string(payload), e.Source)
	return err
}

// FileStore persists a small record list (paired devices, agent configs) to
// a local file with atomic replace-on-write: write to a temp file, then
// rename over the target, so a crash mid-write never corrupts the existing
// file.
type FileStore[T any] struct {
	mu   sync.Mutex
	path string
}

func NewFileStore[T any](path string) *FileStore[T] {
	return &FileStore[T]{path: path}
}

// Load reads the current records, returning an empty slice if the file does
// not exist yet.
func (f *FileStore[T]) Load() ([]T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("filestore: read: %w", err)
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("filestore: decode: %w", err)
	}
	return out, nil
}

// Save atomically replaces the file's contents.
func (f *FileStore[T]) Save(records []T) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("filestore: mkdir: %w", err)
		}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("filestore: encode: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("filestore: write temp: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("filestore: rename: %w", err)
	}
	return nil
}
