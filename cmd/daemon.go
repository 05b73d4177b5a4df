package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"go.olrik.dev/consolle/internal/consolle"
	"go.olrik.dev/consolle/internal/core"
	"go.olrik.dev/consolle/internal/daemon"
	"go.olrik.dev/consolle/internal/history"
	"go.olrik.dev/consolle/internal/procutil"
	"go.olrik.dev/consolle/internal/registry"
)

// NewDaemonCommand returns the hidden subcommand `consolle start` forks to
// become the long-running daemon process for one target. Not meant to be
// invoked directly by an operator.
func NewDaemonCommand() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:    "daemon",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, projectRoot, err := resolveTarget(cmd)
			if err != nil {
				return err
			}
			environment, _ := cmd.Flags().GetString("environment")
			command, _ := cmd.Flags().GetString("command")
			mode, _ := cmd.Flags().GetString("mode")
			promptPattern, _ := cmd.Flags().GetString("prompt-pattern")

			cfg := consolle.SessionConfig{
				ProjectRoot:        projectRoot,
				Environment:        environment,
				Command:            command,
				Mode:               consolle.Mode(mode),
				InitialWaitSeconds: core.GetInitialWaitSeconds(),
				PromptPattern:      promptPattern,
			}
			cfg, err = consolle.LoadProjectConfig(cfg)
			if err != nil {
				return fmt.Errorf("load project config: %w", err)
			}

			socketPath := core.TargetSocketPath(projectRoot, target)
			pidFilePath := core.TargetPIDFilePath(projectRoot, target)
			historyPath := core.TargetHistoryPath(projectRoot, target)

			if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
				return fmt.Errorf("create target directory: %w", err)
			}

			var hist *history.History
			hist, err = history.Open(historyPath)
			if err != nil {
				slog.Warn("failed to open history database, eval history will not be recorded", "error", err, "path", historyPath)
				hist = nil
			}

			reg := registry.New(core.RegistryPath())
			if prior, ok, err := reg.Lookup(target); err == nil && ok {
				if procutil.ValidateLaunch(prior.Pid, target, cfg.Command) {
					return fmt.Errorf("target %q already has a live daemon (pid %d); stop it first or choose a different --target", target, prior.Pid)
				}
				slog.Info("registry entry for target refers to a dead process, overwriting", "target", target, "stale_pid", prior.Pid)
			}

			if err := reg.Register(registry.Entry{
				Target:      target,
				ProjectRoot: projectRoot,
				Environment: environment,
				SocketPath:  socketPath,
				PidFilePath: pidFilePath,
				Pid:         os.Getpid(),
			}); err != nil {
				slog.Warn("failed to register target", "error", err)
			}
			defer reg.Remove(target)

			d := daemon.New(cfg, socketPath, pidFilePath, target, hist)
			d.Run()
			return nil
		},
	}

	addTargetFlags(daemonCmd)
	daemonCmd.Flags().String("environment", "development", "runtime environment name passed to the console command")
	daemonCmd.Flags().String("command", "", "command used to launch the console child (e.g. \"bin/rails console\")")
	daemonCmd.Flags().String("mode", string(consolle.ModePTY), "supervisor backend: pty, embed-irb, embed-rails")
	daemonCmd.Flags().String("prompt-pattern", "", "override the built-in prompt-matching regex")

	return daemonCmd
}

// daemonForkArgs builds the argv EnsureDaemonIsRunning/StartDaemon use to
// re-exec this same binary as `consolle daemon ...` in the background.
func daemonForkArgs(target, projectRoot, environment, command, mode string) []string {
	args := []string{"daemon", "--target", target, "--project-root", projectRoot, "--environment", environment, "--mode", mode}
	if command != "" {
		args = append(args, "--command", command)
	}
	return args
}
