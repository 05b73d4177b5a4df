// Package registry maintains the on-disk catalog of known targets so the
// CLI can resolve a target name to its socket path without a daemon already
// running to ask. Grounded on the teacher's companion hot-reload state file
// (internal/daemon/companion.go's CompanionStateFile/SaveCompanionState/
// LoadCompanionState): same JSON-with-version-field shape, same atomic
// write-to-temp-then-rename discipline.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const registryVersion = "1"

// Entry describes one known target: where its socket and pid file live and
// when it was last (re)registered.
type Entry struct {
	Target       string    `json:"target"`
	ProjectRoot  string    `json:"project_root"`
	Environment  string    `json:"environment"`
	SocketPath   string    `json:"socket_path"`
	PidFilePath  string    `json:"pid_file_path"`
	Pid          int       `json:"pid"`
	RegisteredAt time.Time `json:"registered_at"`
}

// file is the on-disk shape, keyed by target name so concurrent daemons for
// different targets don't stomp each other's entries.
type file struct {
	Version string           `json:"version"`
	Targets map[string]Entry `json:"targets"`
}

// Registry is a JSON-on-disk catalog at a fixed path. All methods read the
// whole file, mutate, and atomically rewrite it; this is adequate since
// registrations happen at daemon-start/stop cadence, not per-request.
type Registry struct {
	path string
}

// New returns a Registry backed by path (typically
// ~/.config/consolle/targets.json).
func New(path string) *Registry {
	return &Registry{path: path}
}

// Register records or updates a target's entry.
func (r *Registry) Register(entry Entry) error {
	f, err := r.load()
	if err != nil {
		return err
	}
	entry.RegisteredAt = time.Now()
	f.Targets[entry.Target] = entry
	return r.save(f)
}

// Remove deletes a target's entry, if present. Missing entries are not an
// error.
func (r *Registry) Remove(target string) error {
	f, err := r.load()
	if err != nil {
		return err
	}
	if _, ok := f.Targets[target]; !ok {
		return nil
	}
	delete(f.Targets, target)
	return r.save(f)
}

// Lookup returns the entry for target, if known.
func (r *Registry) Lookup(target string) (Entry, bool, error) {
	f, err := r.load()
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := f.Targets[target]
	return e, ok, nil
}

// List returns every known entry.
func (r *Registry) List() ([]Entry, error) {
	f, err := r.load()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(f.Targets))
	for _, e := range f.Targets {
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *Registry) load() (*file, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &file{Version: registryVersion, Targets: make(map[string]Entry)}, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if f.Targets == nil {
		f.Targets = make(map[string]Entry)
	}
	if f.Version != registryVersion {
		return nil, fmt.Errorf("unsupported registry version: %s", f.Version)
	}
	return &f, nil
}

func (r *Registry) save(f *file) error {
	f.Version = registryVersion

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}

	tempPath := r.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("write registry temp file: %w", err)
	}
	if err := os.Rename(tempPath, r.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename registry file: %w", err)
	}
	return nil
}
