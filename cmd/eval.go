package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"go.olrik.dev/consolle/internal/broker"
	"go.olrik.dev/consolle/internal/core"
	"go.olrik.dev/consolle/internal/daemon"
)

func NewEvalCommand() *cobra.Command {
	evalCmd := &cobra.Command{
		Use:   "eval [code]",
		Short: "Evaluate one expression in the running console",
		Long:  `Evaluate one expression in the running console and print its result. Code is read from the first argument, or from stdin when no argument is given.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, projectRoot, err := resolveTarget(cmd)
			if err != nil {
				return err
			}

			var code string
			if len(args) == 1 {
				code = args[0]
			} else {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read code from stdin: %w", err)
				}
				code = strings.TrimSpace(string(data))
			}
			if code == "" {
				return fmt.Errorf("no code given: pass it as an argument or pipe it on stdin")
			}

			timeoutSeconds, _ := cmd.Flags().GetFloat64("timeout")

			socketPath := core.TargetSocketPath(projectRoot, target)
			dialSeconds := timeoutSeconds
			if dialSeconds <= 0 {
				dialSeconds = 60 // the daemon's default evaluation timeout
			}
			dialTimeout := time.Duration(dialSeconds)*time.Second + 5*time.Second
			resp, err := daemon.SendRequest(socketPath, broker.Request{
				Action:  broker.ActionEval,
				Code:    code,
				Timeout: timeoutSeconds,
			}, dialTimeout)
			if err != nil {
				return fmt.Errorf("target %q does not appear to be running: %w", target, err)
			}

			if !resp.Success {
				fmt.Fprintln(os.Stderr, resp.Message)
				for _, line := range resp.Backtrace {
					fmt.Fprintln(os.Stderr, "  "+line)
				}
				os.Exit(1)
			}

			fmt.Println(resp.Result)
			if resp.Truncated {
				fmt.Fprintln(os.Stderr, "(output truncated)")
			}
			return nil
		},
	}

	addTargetFlags(evalCmd)
	evalCmd.Flags().Float64("timeout", 0, "evaluation timeout in seconds (0 uses the daemon's default)")
	evalCmd.RegisterFlagCompletionFunc("target", targetCompletionFunc)

	return evalCmd
}
