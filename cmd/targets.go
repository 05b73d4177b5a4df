package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"go.olrik.dev/consolle/internal/broker"
	"go.olrik.dev/consolle/internal/core"
	"go.olrik.dev/consolle/internal/daemon"
	"go.olrik.dev/consolle/internal/registry"
)

// NewTargetsCommand returns `consolle targets`, listing every target this
// machine has ever started a daemon for, plus whether it currently answers.
func NewTargetsCommand() *cobra.Command {
	targetsCmd := &cobra.Command{
		Use:   "targets",
		Short: "List known targets and whether their daemon is currently running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.New(core.RegistryPath())
			entries, err := reg.List()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no known targets")
				return nil
			}

			for _, e := range entries {
				running := "not running"
				if resp, err := daemon.SendRequest(e.SocketPath, broker.Request{Action: broker.ActionStatus}, time.Second); err == nil && resp.Running {
					running = fmt.Sprintf("running (pid %d)", resp.Pid)
				}
				fmt.Printf("%-20s %-10s %-40s %s\n", e.Target, e.Environment, e.ProjectRoot, running)
			}
			return nil
		},
	}

	targetsCmd.AddCommand(newTargetsForgetCommand())

	return targetsCmd
}

func newTargetsForgetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forget <target>",
		Short: "Remove a target from the registry without stopping it",
		Long:  `Removes a stale catalog entry. Use this when a daemon crashed without cleaning up after itself; it does not signal any running process.`,
		Args:  cobra.ExactArgs(1),
		ValidArgsFunction: targetCompletionFunc,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry.New(core.RegistryPath())
			return reg.Remove(args[0])
		},
	}
	return cmd
}
