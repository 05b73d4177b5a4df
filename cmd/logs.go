package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/spf13/cobra"

	"go.olrik.dev/consolle/internal/broker"
	"go.olrik.dev/consolle/internal/core"
)

func NewLogsCommand() *cobra.Command {
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Follow the console daemon's log output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, projectRoot, err := resolveTarget(cmd)
			if err != nil {
				return err
			}

			socketPath := core.TargetSocketPath(projectRoot, target)
			return streamLogs(socketPath, os.Stdout)
		},
	}

	addTargetFlags(logsCmd)
	logsCmd.RegisterFlagCompletionFunc("target", targetCompletionFunc)

	return logsCmd
}

// streamLogs dials socketPath, requests broker.ActionLogs, and copies the
// daemon's raw log stream to w until the daemon closes the connection. This
// is the one place a client departs from the request/response JSON-line
// contract: once ActionLogs is accepted, the socket carries plain text.
func streamLogs(socketPath string, w io.Writer) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("target does not appear to be running: %w", err)
	}
	defer conn.Close()

	req := broker.Request{Action: broker.ActionLogs}
	line, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write logs request: %w", err)
	}

	_, err = io.Copy(w, conn)
	return err
}
