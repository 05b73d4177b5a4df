//go:build linux

package procutil

import (
	"fmt"
	"os"
	"strings"
)

// getProcessCommandLinePlatform reads /proc/<pid>/cmdline, whose arguments
// are NUL-separated, and joins them with spaces for substring matching.
func getProcessCommandLinePlatform(pid int) (string, error) {
	path := fmt.Sprintf("/proc/%d/cmdline", pid)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	cmdline := strings.TrimSpace(strings.ReplaceAll(string(data), "\x00", " "))
	if cmdline == "" {
		return "", fmt.Errorf("empty command line for pid %d", pid)
	}
	return cmdline, nil
}
