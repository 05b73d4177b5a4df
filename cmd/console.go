package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"go.olrik.dev/consolle/internal/broker"
	"go.olrik.dev/consolle/internal/core"
	"go.olrik.dev/consolle/internal/daemon"
)

// NewConsoleCommand returns `consolle console`, a line-buffered REPL front
// end over the eval action: it spares an operator from hand-writing JSON
// request lines. Stdin is put into raw mode so Ctrl+C interrupts the local
// read loop cleanly (rather than leaving the terminal in whatever state a
// half-typed line left it) without ever reaching for readline-grade editing.
func NewConsoleCommand() *cobra.Command {
	consoleCmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive REPL over the running console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, projectRoot, err := resolveTarget(cmd)
			if err != nil {
				return err
			}
			attach, _ := cmd.Flags().GetBool("attach")

			socketPath := core.TargetSocketPath(projectRoot, target)
			if _, err := daemon.Status(socketPath, 2*time.Second); err != nil {
				return fmt.Errorf("target %q does not appear to be running", target)
			}

			if attach {
				go func() {
					if err := streamLogs(socketPath, os.Stderr); err != nil {
						// The primary REPL loop is what matters; a lost log
						// stream is not fatal to the session.
						fmt.Fprintf(os.Stderr, "\n(log stream ended: %v)\n", err)
					}
				}()
			}

			return runConsoleLoop(socketPath, target)
		},
	}

	addTargetFlags(consoleCmd)
	consoleCmd.Flags().Bool("attach", false, "also mirror daemon log lines to stderr while evaluating")
	consoleCmd.RegisterFlagCompletionFunc("target", targetCompletionFunc)

	return consoleCmd
}

func runConsoleLoop(socketPath, target string) error {
	fd := int(os.Stdin.Fd())
	isTerminal := term.IsTerminal(fd)

	var oldState *term.State
	if isTerminal {
		var err error
		oldState, err = term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("put terminal into raw mode: %w", err)
		}
		defer term.Restore(fd, oldState)
	}

	fmt.Printf("%s> ", target)

	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if n == 0 || err != nil {
			fmt.Print("\r\n")
			return nil
		}

		b := buf[0]
		switch b {
		case '\r', '\n':
			fmt.Print("\r\n")
			code := string(line)
			line = line[:0]
			if code == "" {
				fmt.Printf("%s> ", target)
				continue
			}
			if code == "exit" || code == "quit" {
				return nil
			}
			evalAndPrint(socketPath, code)
			fmt.Printf("%s> ", target)
		case 0x03: // Ctrl+C
			fmt.Print("^C\r\n")
			return nil
		case 0x04: // Ctrl+D
			fmt.Print("\r\n")
			return nil
		case 0x7f, 0x08: // backspace/delete
			if len(line) > 0 {
				line = line[:len(line)-1]
				fmt.Print("\b \b")
			}
		default:
			line = append(line, b)
			os.Stdout.Write(buf)
		}
	}
}

func evalAndPrint(socketPath, code string) {
	resp, err := daemon.SendRequest(socketPath, broker.Request{Action: broker.ActionEval, Code: code}, 65*time.Second)
	if err != nil {
		fmt.Printf("error: %v\r\n", err)
		return
	}
	if !resp.Success {
		fmt.Printf("%s\r\n", resp.Message)
		return
	}
	for _, r := range resp.Result {
		if r == '\n' {
			fmt.Print("\r\n")
			continue
		}
		fmt.Print(string(r))
	}
	fmt.Print("\r\n")
}
