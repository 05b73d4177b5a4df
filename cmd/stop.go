package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"go.olrik.dev/consolle/internal/core"
	"go.olrik.dev/consolle/internal/daemon"
)

func NewStopCommand() *cobra.Command {
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the console daemon for a target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, projectRoot, err := resolveTarget(cmd)
			if err != nil {
				return err
			}

			pidFilePath := core.TargetPIDFilePath(projectRoot, target)
			socketPath := core.TargetSocketPath(projectRoot, target)

			pid, err := readPidFile(pidFilePath)
			if err != nil {
				return fmt.Errorf("target %q does not appear to be running: %w", target, err)
			}

			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				return fmt.Errorf("signal daemon pid %d: %w", pid, err)
			}

			if err := daemon.WaitForDaemonStop(socketPath); err != nil {
				return err
			}

			fmt.Printf("stopped %s\n", target)
			return nil
		},
	}

	addTargetFlags(stopCmd)
	stopCmd.RegisterFlagCompletionFunc("target", targetCompletionFunc)

	return stopCmd
}

// readPidFile parses the integer pid written by the daemon at startup.
func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", path, err)
	}
	return pid, nil
}
