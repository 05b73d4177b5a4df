package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"go.olrik.dev/consolle/internal/core"
	"go.olrik.dev/consolle/internal/daemon"
)

func NewStartCommand() *cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the console daemon for a target",
		Long:  `Start the console daemon for a target, forking it into the background if it isn't already running.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, projectRoot, err := resolveTarget(cmd)
			if err != nil {
				return err
			}
			environment, _ := cmd.Flags().GetString("environment")
			command, _ := cmd.Flags().GetString("command")
			mode, _ := cmd.Flags().GetString("mode")

			socketPath := core.TargetSocketPath(projectRoot, target)
			daemon.EnsureDaemonIsRunning(socketPath, daemonForkArgs(target, projectRoot, environment, command, mode))

			slog.Info("console daemon is running", "target", target, "socket", socketPath)
			return nil
		},
	}

	addTargetFlags(startCmd)
	startCmd.Flags().String("environment", "development", "runtime environment name passed to the console command")
	startCmd.Flags().String("command", "", "command used to launch the console child (e.g. \"bin/rails console\")")
	startCmd.Flags().String("mode", "pty", "supervisor backend: pty, embed-irb, embed-rails")
	startCmd.RegisterFlagCompletionFunc("target", targetCompletionFunc)

	return startCmd
}
