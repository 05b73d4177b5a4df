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

// NewAskpassCommand returns the hidden subcommand the daemon points
// SSH_ASKPASS at. ssh invokes it as `consolle askpass <prompt text>`; the
// prompt text itself is ignored, since the target/token identifying which
// cached credential to return travel through the environment instead
// (CONSOLLE_ASKPASS_TARGET/CONSOLLE_ASKPASS_TOKEN), not argv.
func NewAskpassCommand() *cobra.Command {
	askpassCmd := &cobra.Command{
		Use:    "askpass",
		Hidden: true,
		Args:   cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := os.Getenv("CONSOLLE_ASKPASS_TARGET")
			token := os.Getenv("CONSOLLE_ASKPASS_TOKEN")
			if target == "" || token == "" {
				return fmt.Errorf("missing CONSOLLE_ASKPASS_TARGET/CONSOLLE_ASKPASS_TOKEN in environment")
			}

			projectRoot, _ := cmd.Flags().GetString("project-root")
			if projectRoot == "" {
				var err error
				projectRoot, err = os.Getwd()
				if err != nil {
					return err
				}
			}

			socketPath := core.TargetSocketPath(projectRoot, target)
			resp, err := daemon.SendRequest(socketPath, broker.Request{
				Action: broker.ActionAskpass,
				Target: target,
				Token:  token,
			}, 10*time.Second)
			if err != nil {
				return fmt.Errorf("failed to reach daemon for askpass callback: %w", err)
			}
			if !resp.Success {
				return fmt.Errorf("askpass callback rejected: %s", resp.Message)
			}

			fmt.Println(resp.Result)
			return nil
		},
	}

	askpassCmd.Flags().String("project-root", "", "project root directory (defaults to the current directory)")

	return askpassCmd
}
