package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"go.olrik.dev/consolle/internal/core"
)

func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	homeDir, _ := os.UserHomeDir()

	rootCmd := &cobra.Command{
		Use:   "consolle",
		Short: "Consolle - persistent interactive console daemon",
		Long:  `Consolle keeps a long-lived IRB/Rails-console-style runtime running behind a socket, so evaluating a line of code never pays process-boot cost.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize config and bind global flags to the config
			messages, err := core.InitializeConfig(cmd)
			for _, message := range messages {
				fmt.Println(message)
			}
			if err != nil {
				return err
			}

			// Set global logger with custom options
			w := os.Stderr
			slog.SetDefault(slog.New(
				tint.NewHandler(w, &tint.Options{
					Level:      slog.LevelDebug,
					TimeFormat: time.DateTime,
				}),
			))

			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config-path", fmt.Sprintf("%s/%s", homeDir, core.BaseDirName),
		"config path",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewDaemonCommand(),
		NewStartCommand(),
		NewStopCommand(),
		NewRestartCommand(),
		NewStatusCommand(),
		NewEvalCommand(),
		NewConsoleCommand(),
		NewLogsCommand(),
		NewAskpassCommand(),
		NewTargetsCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}
