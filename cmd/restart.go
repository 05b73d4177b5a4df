package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"go.olrik.dev/consolle/internal/broker"
	"go.olrik.dev/consolle/internal/core"
	"go.olrik.dev/consolle/internal/daemon"
)

func NewRestartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the console child",
		Long: `Restart the console child in-place, without tearing down the daemon process itself.

The daemon keeps listening on the same socket throughout; any eval queued behind
the restart observes the new child.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, projectRoot, err := resolveTarget(cmd)
			if err != nil {
				return err
			}

			socketPath := core.TargetSocketPath(projectRoot, target)
			resp, err := daemon.SendRequest(socketPath, broker.Request{Action: broker.ActionRestart}, 30*time.Second)
			if err != nil {
				return fmt.Errorf("target %q does not appear to be running: %w", target, err)
			}
			if !resp.Success {
				return fmt.Errorf("restart failed: %s", resp.Message)
			}

			fmt.Printf("restarted %s (pid %d)\n", target, resp.Pid)
			return nil
		},
	}

	addTargetFlags(cmd)
	cmd.RegisterFlagCompletionFunc("target", targetCompletionFunc)

	return cmd
}
