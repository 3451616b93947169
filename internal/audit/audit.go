// Package audit implements the append-only audit log: a bounded in-memory
// ring for the fast path plus an optional SQLite sink for durability,
// exposed via a read-only paginated endpoint. The JSON response shape
// mirrors cmd/sandbox/handler.go's writeJSON helper; the SQLite schema
// mirrors store/sqlite's CREATE TABLE IF NOT EXISTS idiom.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

const defaultCapacity = 10_000

// Log is an append-only, bounded audit trail.
type Log struct {
	mu       sync.Mutex
	entries  []gatewaytypes.AuditEntry
	capacity int
	db       *sql.DB // optional durable sink, nil disables it
	now      func() time.Time
}

// New creates an in-memory-only Log.
func New() *Log {
	return &Log{capacity: defaultCapacity, now: time.Now}
}

// WithSink attaches a SQLite database for durable persistence alongside the
// in-memory ring. Safe to call once at startup.
func (l *Log) WithSink(db *sql.DB) *Log {
	l.db = db
	return l
}

// Init creates the audit table when a sink is attached.
func (l *Log) Init(ctx context.Context) error {
	if l.db == nil {
		return nil
	}
	_, err := l.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS audit_log (
		timestamp INTEGER NOT NULL,
		client_ip TEXT NOT NULL,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		required_level INTEGER NOT NULL,
		granted INTEGER NOT NULL,
		detail TEXT
	)`)
	if err != nil {
		return fmt.Errorf("audit: create table: %w", err)
	}
	return nil
}

// Record appends one entry. Invariant (spec.md property #1): every request
// that reaches AccessGuard produces exactly one entry, granted or not.
func (l *Log) Record(e gatewaytypes.AuditEntry) {
	e.Timestamp = l.now().Unix()

	l.mu.Lock()
	l.entries = append(l.entries, e)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
	l.mu.Unlock()

	if l.db != nil {
		go l.persist(e)
	}
}

func (l *Log) persist(e gatewaytypes.AuditEntry) {
	granted := 0
	if e.Granted {
		granted = 1
	}
	_, _ = l.db.ExecContext(context.Background(),
		`INSERT INTO audit_log (timestamp, client_ip, method, path, required_level, granted, detail) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp, e.ClientIP, e.Method, e.Path, int(e.RequiredLevel), granted, e.Detail)
}

// Page returns up to limit entries starting at offset, most recent first.
func (l *Log) Page(offset, limit int) []gatewaytypes.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.entries)
	if offset >= n {
		return nil
	}
	// Most-recent-first: reverse-index from the end.
	start := n - offset
	end := start - limit
	if end < 0 {
		end = 0
	}
	out := make([]gatewaytypes.AuditEntry, 0, start-end)
	for i := start - 1; i >= end; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// MarshalPage renders a page as the JSON body returned by GET /audit/log.
func (l *Log) MarshalPage(offset, limit int) ([]byte, error) {
	return json.Marshal(struct {
		Entries []gatewaytypes.AuditEntry `json:"entries"`
		Offset  int                       `json:"offset"`
		Limit   int                       `json:"limit"`
	}{Entries: l.Page(offset, limit), Offset: offset, Limit: limit})
}
