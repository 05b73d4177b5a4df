// Package procutil validates that a pid recorded in the target registry
// still refers to the process the daemon originally spawned, guarding
// against PID reuse across a daemon restart.
package procutil

import (
	"log/slog"
	"os"
	"strings"
	"syscall"
)

// Alive reports whether pid names a process we can still signal.
// Signal 0 performs existence/permission checks without side effects.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// ValidateLaunch reports whether pid is both alive and still running the
// given launch command, so a starting daemon doesn't mistake an unrelated
// process that happens to have reused the old pid for a live daemon.
func ValidateLaunch(pid int, target, launchCommand string) bool {
	if !Alive(pid) {
		slog.Debug("process not alive", "pid", pid, "target", target)
		return false
	}

	cmdline, err := getProcessCommandLine(pid)
	if err != nil {
		// Best effort: if we can't read cmdline (sandboxing, permissions),
		// fall back to the liveness check alone rather than reporting a mismatch.
		slog.Debug("could not read process command line, adopting on liveness alone",
			"pid", pid, "target", target, "error", err)
		return true
	}

	if !commandLineMatches(cmdline, launchCommand) {
		slog.Debug("process command line mismatch, refusing to adopt",
			"pid", pid, "target", target, "expected", launchCommand, "actual", cmdline)
		return false
	}

	return true
}

// commandLineMatches checks the actual command line contains the key
// tokens of the configured launch command. Matching is loose (substring of
// the whitespace-split tokens) because the shell that execs the launch
// command may add quoting or wrapper arguments the kernel's cmdline view
// doesn't preserve verbatim.
func commandLineMatches(actual, expected string) bool {
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return true
	}
	for _, tok := range strings.Fields(expected) {
		if len(tok) <= 2 {
			continue // skip bare flags like "-e" that are too common to be diagnostic
		}
		if !strings.Contains(actual, tok) {
			return false
		}
	}
	return true
}

// getProcessCommandLine is implemented per-platform in procutil_linux.go and
// procutil_darwin.go; no other platform has an implementation.
func getProcessCommandLine(pid int) (string, error) {
	return getProcessCommandLinePlatform(pid)
}
