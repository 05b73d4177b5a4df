package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"go.olrik.dev/consolle/internal/broker"
	"go.olrik.dev/consolle/internal/core"
	"go.olrik.dev/consolle/internal/daemon"
)

func NewStatusCommand() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the target's console daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, projectRoot, err := resolveTarget(cmd)
			if err != nil {
				return err
			}

			socketPath := core.TargetSocketPath(projectRoot, target)
			resp, err := daemon.SendRequest(socketPath, broker.Request{Action: broker.ActionStatus}, 5*time.Second)

			format, _ := cmd.Flags().GetString("format")
			if err != nil {
				if format == "json" {
					fmt.Println(`{"running":false}`)
					return nil
				}
				fmt.Printf("%s: not running\n", target)
				return nil
			}

			switch format {
			case "json":
				data, err := json.Marshal(resp)
				if err != nil {
					return err
				}
				fmt.Println(string(data))
			case "text":
				if resp.Running {
					fmt.Printf("%s: running (pid %d, %s/%s)\n", target, resp.Pid, resp.RailsRoot, resp.RailsEnv)
				} else {
					fmt.Printf("%s: not running\n", target)
				}
			default:
				return fmt.Errorf("unknown format %q, want text or json", format)
			}
			return nil
		},
	}
	statusCmd.Flags().StringP("format", "F", "text", "output format (text/json)")
	addTargetFlags(statusCmd)
	statusCmd.RegisterFlagCompletionFunc("target", targetCompletionFunc)

	return statusCmd
}
