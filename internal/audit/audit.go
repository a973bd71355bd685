// Package audit persists the core event stream (pkg/core.Event) to a
// local SQLite database, supplementing the in-memory event bus with a
// durable record a user can query after a run finishes. Grounded on the
// teacher's internal/state package: same modernc.org/sqlite driver,
// same WAL-mode Open and versioned-migration shape, generalized from
// session/agent/task CRUD rows to a single append-only events table
// fed by core.Emitter.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ralph-tui/ralph-tui/pkg/core"
)

// DB wraps a SQLite connection holding the audit log.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.Mutex
}

// DefaultPath returns the default audit log location under the
// project's .ralph-tui directory.
func DefaultPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".ralph-tui", "audit.db")
}

// Open opens (creating if needed) the audit database at path.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

const migrationV1Events = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	session_id TEXT,
	worker_id TEXT,
	operation_id TEXT,
	task_id TEXT,
	task_title TEXT,
	message TEXT,
	error TEXT,
	reason TEXT,
	conflict_files TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_session_id ON events(session_id);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`

func (db *DB) migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Events},
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Record appends ev to the audit log.
func (db *DB) Record(ev core.Event) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var errMsg *string
	if ev.Error != nil {
		s := ev.Error.Error()
		errMsg = &s
	}

	var conflictFiles *string
	if len(ev.ConflictFiles) > 0 {
		b, err := json.Marshal(ev.ConflictFiles)
		if err != nil {
			return fmt.Errorf("marshal conflict files: %w", err)
		}
		s := string(b)
		conflictFiles = &s
	}

	_, err := db.conn.Exec(`
		INSERT INTO events (type, timestamp, session_id, worker_id, operation_id, task_id, task_title, message, error, reason, conflict_files)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(ev.Type), formatTime(ev.Timestamp), ev.SessionID, ev.WorkerID, ev.OperationID, ev.TaskID, ev.TaskTitle, ev.Message, errMsg, ev.Reason, conflictFiles)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Record is a row read back from the audit log via Query.
type Record struct {
	ID            int64
	Type          core.EventType
	Timestamp     time.Time
	SessionID     string
	WorkerID      string
	OperationID   string
	TaskID        string
	TaskTitle     string
	Message       string
	Error         string
	Reason        string
	ConflictFiles []string
}

// ForSession returns every recorded event for sessionID in emission order.
func (db *DB) ForSession(sessionID string) ([]Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.Query(`
		SELECT id, type, timestamp, session_id, worker_id, operation_id, task_id, task_title, message, error, reason, conflict_files
		FROM events WHERE session_id = ? ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var typ, ts string
		var errMsg, conflictFiles sql.NullString
		if err := rows.Scan(&r.ID, &typ, &ts, &r.SessionID, &r.WorkerID, &r.OperationID, &r.TaskID, &r.TaskTitle, &r.Message, &errMsg, &r.Reason, &conflictFiles); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.Type = core.EventType(typ)
		r.Timestamp, _ = parseTime(ts)
		if errMsg.Valid {
			r.Error = errMsg.String
		}
		if conflictFiles.Valid {
			json.Unmarshal([]byte(conflictFiles.String), &r.ConflictFiles)
		}
		records = append(records, r)
	}
	return records, nil
}

// PurgeOlderThan deletes events older than age, returning the count removed.
func (db *DB) PurgeOlderThan(age time.Duration) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	cutoff := formatTime(time.Now().Add(-age))
	result, err := db.conn.Exec("DELETE FROM events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old events: %w", err)
	}
	return result.RowsAffected()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
