package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"go.olrik.dev/consolle/internal/broker"
	"go.olrik.dev/consolle/internal/core"
	"go.olrik.dev/consolle/internal/daemon"
)

func NewVersionCommand() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Long:  `Show the client's version and whether the target daemon is running.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(os.Stderr, "Client version: %s\n", core.FormatVersion(core.Version))

			target, projectRoot, err := resolveTarget(cmd)
			if err != nil {
				return err
			}
			socketPath := core.TargetSocketPath(projectRoot, target)

			resp, err := daemon.SendRequest(socketPath, broker.Request{Action: broker.ActionStatus}, 2*time.Second)
			if err != nil || !resp.Running {
				fmt.Fprintf(os.Stderr, "Daemon (%s): not running\n", target)
				return nil
			}
			fmt.Fprintf(os.Stderr, "Daemon (%s): running (pid %d)\n", target, resp.Pid)
			return nil
		},
	}

	addTargetFlags(versionCmd)
	versionCmd.RegisterFlagCompletionFunc("target", targetCompletionFunc)

	return versionCmd
}
