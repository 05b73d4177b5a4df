// Package history logs evaluated code and daemon lifecycle events to a
// SQLite database so post-mortem debugging has something durable to read,
// independent of the in-memory
// LogBroadcaster ring buffer. Grounded on the teacher's internal/db
// package: same Open/Close/Flush shape, same WAL-mode pragma, same
// schema-on-open pattern, retargeted from sensor/tunnel events to
// console eval requests.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// History wraps the SQLite connection backing the eval/command-history log.
type History struct {
	conn *sql.DB
	path string
}

// Open opens or creates the SQLite database at path, enabling WAL mode and
// initializing the schema if it doesn't exist yet.
func Open(path string) (*History, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	h := &History{conn: conn, path: path}
	if err := h.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return h, nil
}

// Close checkpoints the WAL and closes the underlying connection.
func (h *History) Close() error {
	if h.conn != nil {
		h.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return h.conn.Close()
	}
	return nil
}

// Flush forces a WAL checkpoint so recent history survives even if the
// process is killed before a clean Close.
func (h *History) Flush() error {
	if h.conn != nil {
		_, err := h.conn.Exec("PRAGMA wal_checkpoint(RESTART)")
		return err
	}
	return nil
}

func (h *History) initSchema() error {
	schema := `
	-- Evaluated code and its outcome
	CREATE TABLE IF NOT EXISTS eval_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target TEXT NOT NULL,
		code TEXT NOT NULL,
		success INTEGER NOT NULL,
		error_code TEXT,
		execution_time_ms INTEGER,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Daemon lifecycle events (start, stop, restart, watchdog kill, adoption)
	CREATE TABLE IF NOT EXISTS daemon_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target TEXT NOT NULL,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_eval_history_timestamp ON eval_history(timestamp);
	CREATE INDEX IF NOT EXISTS idx_eval_history_target ON eval_history(target);
	CREATE INDEX IF NOT EXISTS idx_daemon_events_timestamp ON daemon_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_daemon_events_target ON daemon_events(target);
	`
	_, err := h.conn.Exec(schema)
	return err
}

// EvalRecord is one logged evaluation.
type EvalRecord struct {
	ID              int64
	Target          string
	Code            string
	Success         bool
	ErrorCode       string
	ExecutionTimeMs int64
	Timestamp       time.Time
}

// LogEval records one evaluated request and its outcome. Retries briefly on
// SQLITE_BUSY since this is called from the daemon's connection handler
// after the Broker has answered, and must not hold the response back for
// long; logging failures are best-effort and never surfaced to the client.
func (h *History) LogEval(target, code string, success bool, errorCode string, executionTime time.Duration) error {
	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		_, err := h.conn.Exec(
			`INSERT INTO eval_history (target, code, success, error_code, execution_time_ms, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			target, code, success, errorCode, executionTime.Milliseconds(), time.Now(),
		)
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY") {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		return err
	}
	return fmt.Errorf("failed to log eval after %d retries: database locked", maxRetries)
}

// DaemonEvent is one logged lifecycle event.
type DaemonEvent struct {
	ID        int64
	Target    string
	EventType string
	Details   string
	Timestamp time.Time
}

// LogDaemonEvent records a daemon lifecycle event (start, stop, restart,
// watchdog-kill, adoption).
func (h *History) LogDaemonEvent(target, eventType, details string) error {
	_, err := h.conn.Exec(
		`INSERT INTO daemon_events (target, event_type, details, timestamp)
		 VALUES (?, ?, ?, ?)`,
		target, eventType, details, time.Now(),
	)
	return err
}

// RecentEvals retrieves the most recently logged evaluations, newest first.
func (h *History) RecentEvals(target string, limit int) ([]EvalRecord, error) {
	rows, err := h.conn.Query(
		`SELECT id, target, code, success, error_code, execution_time_ms, timestamp
		 FROM eval_history
		 WHERE target = ? OR ? = ''
		 ORDER BY timestamp DESC
		 LIMIT ?`,
		target, target, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EvalRecord
	for rows.Next() {
		var r EvalRecord
		var errorCode sql.NullString
		if err := rows.Scan(&r.ID, &r.Target, &r.Code, &r.Success, &errorCode, &r.ExecutionTimeMs, &r.Timestamp); err != nil {
			return nil, err
		}
		r.ErrorCode = errorCode.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecentDaemonEvents retrieves the most recently logged daemon events,
// newest first.
func (h *History) RecentDaemonEvents(target string, limit int) ([]DaemonEvent, error) {
	rows, err := h.conn.Query(
		`SELECT id, target, event_type, details, timestamp
		 FROM daemon_events
		 WHERE target = ? OR ? = ''
		 ORDER BY timestamp DESC
		 LIMIT ?`,
		target, target, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []DaemonEvent
	for rows.Next() {
		var e DaemonEvent
		if err := rows.Scan(&e.ID, &e.Target, &e.EventType, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
