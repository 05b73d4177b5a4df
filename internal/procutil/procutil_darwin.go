//go:build darwin

package procutil

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// getProcessCommandLinePlatform shells out to ps since darwin has no /proc.
func getProcessCommandLinePlatform(pid int) (string, error) {
	out, err := exec.Command("/bin/ps", "-p", strconv.Itoa(pid), "-o", "command=").Output()
	if err != nil {
		return "", fmt.Errorf("ps -p %d: %w", pid, err)
	}

	cmdline := strings.TrimSpace(string(out))
	if cmdline == "" {
		return "", fmt.Errorf("empty command line for pid %d", pid)
	}
	return cmdline, nil
}
