package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadPidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.pid")
	if err := os.WriteFile(path, []byte("1234\n"), 0o644); err != nil {
		t.Fatalf("failed to write pid file: %v", err)
	}

	pid, err := readPidFile(path)
	if err != nil {
		t.Fatalf("readPidFile returned error: %v", err)
	}
	if pid != 1234 {
		t.Errorf("readPidFile() = %d, want 1234", pid)
	}
}

func TestReadPidFileRejectsMalformedContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatalf("failed to write pid file: %v", err)
	}

	if _, err := readPidFile(path); err == nil {
		t.Error("expected an error for a malformed pid file")
	}
}

func TestReadPidFileMissingFile(t *testing.T) {
	if _, err := readPidFile(filepath.Join(t.TempDir(), "missing.pid")); err == nil {
		t.Error("expected an error for a missing pid file")
	}
}
