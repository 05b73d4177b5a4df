package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenAndClose(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "history.db")

	h, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open history database: %v", err)
	}
	defer h.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("history database file was not created")
	}

	if err := h.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
}

func TestLogEvalAndRecentEvals(t *testing.T) {
	tmpDir := t.TempDir()
	h, err := Open(filepath.Join(tmpDir, "history.db"))
	if err != nil {
		t.Fatalf("Failed to open history database: %v", err)
	}
	defer h.Close()

	if err := h.LogEval("myapp", "2 + 2", true, "", 15*time.Millisecond); err != nil {
		t.Fatalf("LogEval returned error: %v", err)
	}
	if err := h.LogEval("myapp", "raise 'boom'", false, "STANDARD_ERROR", 3*time.Millisecond); err != nil {
		t.Fatalf("LogEval returned error: %v", err)
	}

	records, err := h.RecentEvals("myapp", 10)
	if err != nil {
		t.Fatalf("RecentEvals returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("RecentEvals returned %d records, want 2", len(records))
	}

	// Newest first.
	if records[0].Code != "raise 'boom'" {
		t.Errorf("records[0].Code = %q, want the most recently logged eval", records[0].Code)
	}
	if records[0].Success {
		t.Error("records[0].Success = true, want false")
	}
	if records[0].ErrorCode != "STANDARD_ERROR" {
		t.Errorf("records[0].ErrorCode = %q, want STANDARD_ERROR", records[0].ErrorCode)
	}
	if records[1].Code != "2 + 2" || !records[1].Success {
		t.Errorf("records[1] = %+v, want the successful 2 + 2 eval", records[1])
	}
}

func TestRecentEvalsFiltersByTarget(t *testing.T) {
	tmpDir := t.TempDir()
	h, err := Open(filepath.Join(tmpDir, "history.db"))
	if err != nil {
		t.Fatalf("Failed to open history database: %v", err)
	}
	defer h.Close()

	if err := h.LogEval("app-one", "1", true, "", time.Millisecond); err != nil {
		t.Fatalf("LogEval returned error: %v", err)
	}
	if err := h.LogEval("app-two", "2", true, "", time.Millisecond); err != nil {
		t.Fatalf("LogEval returned error: %v", err)
	}

	records, err := h.RecentEvals("app-one", 10)
	if err != nil {
		t.Fatalf("RecentEvals returned error: %v", err)
	}
	if len(records) != 1 || records[0].Target != "app-one" {
		t.Errorf("RecentEvals(\"app-one\") = %+v, want exactly the app-one record", records)
	}

	all, err := h.RecentEvals("", 10)
	if err != nil {
		t.Fatalf("RecentEvals(\"\") returned error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("RecentEvals(\"\") returned %d records, want both (empty target means all)", len(all))
	}
}

func TestRecentEvalsRespectsLimit(t *testing.T) {
	tmpDir := t.TempDir()
	h, err := Open(filepath.Join(tmpDir, "history.db"))
	if err != nil {
		t.Fatalf("Failed to open history database: %v", err)
	}
	defer h.Close()

	for i := 0; i < 5; i++ {
		if err := h.LogEval("myapp", "x", true, "", time.Millisecond); err != nil {
			t.Fatalf("LogEval returned error: %v", err)
		}
	}

	records, err := h.RecentEvals("myapp", 2)
	if err != nil {
		t.Fatalf("RecentEvals returned error: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("RecentEvals limit=2 returned %d records, want 2", len(records))
	}
}

func TestLogDaemonEventAndRecentDaemonEvents(t *testing.T) {
	tmpDir := t.TempDir()
	h, err := Open(filepath.Join(tmpDir, "history.db"))
	if err != nil {
		t.Fatalf("Failed to open history database: %v", err)
	}
	defer h.Close()

	if err := h.LogDaemonEvent("myapp", "start", "pid=123"); err != nil {
		t.Fatalf("LogDaemonEvent returned error: %v", err)
	}
	if err := h.LogDaemonEvent("myapp", "watchdog_kill", "unresponsive for 10s"); err != nil {
		t.Fatalf("LogDaemonEvent returned error: %v", err)
	}

	events, err := h.RecentDaemonEvents("myapp", 10)
	if err != nil {
		t.Fatalf("RecentDaemonEvents returned error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("RecentDaemonEvents returned %d events, want 2", len(events))
	}
	if events[0].EventType != "watchdog_kill" {
		t.Errorf("events[0].EventType = %q, want watchdog_kill (newest first)", events[0].EventType)
	}
}

func TestFlushDoesNotError(t *testing.T) {
	tmpDir := t.TempDir()
	h, err := Open(filepath.Join(tmpDir, "history.db"))
	if err != nil {
		t.Fatalf("Failed to open history database: %v", err)
	}
	defer h.Close()

	if err := h.LogEval("myapp", "1", true, "", time.Millisecond); err != nil {
		t.Fatalf("LogEval returned error: %v", err)
	}
	if err := h.Flush(); err != nil {
		t.Errorf("Flush returned error: %v", err)
	}
}
