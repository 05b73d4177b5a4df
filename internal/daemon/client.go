package daemon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.olrik.dev/consolle/internal/broker"
)

// SendRequest dials socketPath, writes req as one JSON line, reads exactly
// one JSON line back, and decodes it into a Response (spec.md section 4.7's
// "reads exactly one line, writes exactly one line back" socket contract).
func SendRequest(socketPath string, req broker.Request, timeout time.Duration) (broker.Response, error) {
	var resp broker.Response

	var conn net.Conn
	var err error
	if timeout > 0 {
		conn, err = net.DialTimeout("unix", socketPath, timeout)
	} else {
		conn, err = net.Dial("unix", socketPath)
	}
	if err != nil {
		return resp, err
	}
	defer conn.Close()

	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
	}

	line, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("encode request: %w", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return resp, fmt.Errorf("write request to daemon: %w", err)
	}

	reader := bufio.NewReader(conn)
	replyLine, err := reader.ReadBytes('\n')
	if err != nil && len(replyLine) == 0 {
		return resp, fmt.Errorf("read response from daemon: %w", err)
	}
	if err := json.Unmarshal(replyLine, &resp); err != nil {
		return resp, fmt.Errorf("decode response from daemon: %w", err)
	}
	return resp, nil
}

// Status is a convenience wrapper over SendRequest for the status action,
// used by the auto-start polling loop below.
func Status(socketPath string, timeout time.Duration) (broker.Response, error) {
	return SendRequest(socketPath, broker.Request{Action: broker.ActionStatus}, timeout)
}

// EnsureDaemonIsRunning starts the daemon for socketPath if it isn't already
// answering status requests, grounded on the teacher's auto-start dance in
// the original client.go (SendCommand("STATUS") probe, then StartDaemon +
// WaitForDaemon).
func EnsureDaemonIsRunning(socketPath string, daemonArgs []string) {
	if _, err := Status(socketPath, time.Second); err == nil {
		return
	}

	slog.Info("daemon not running, starting it now", "socket", socketPath)
	cmd, err := StartDaemon(daemonArgs)
	if err != nil {
		slog.Error("failed to launch daemon", "error", err)
		os.Exit(1)
	}
	slog.Info("daemon process launched", "pid", cmd.Process.Pid)

	if err := WaitForDaemon(cmd, socketPath); err != nil {
		slog.Error("daemon failed to become ready", "error", err)
		os.Exit(1)
	}
	slog.Info("daemon is ready")
}

// StartDaemon launches the daemon process in the background and returns the
// exec.Cmd so callers can monitor the subprocess for an early crash. Grounded
// on the teacher's StartDaemon, including the stderr-to-tempfile trick: a
// *bytes.Buffer would create a pipe whose broken-pipe-on-parent-exit sends
// the daemon SIGPIPE on fd 2, which Go kills the process for by default.
func StartDaemon(args []string) (*exec.Cmd, error) {
	cmd := exec.Command(os.Args[0], args...)
	cmd.Env = os.Environ()

	stderrFile, err := os.CreateTemp("", "consolle-daemon-stderr-*")
	if err != nil {
		return nil, fmt.Errorf("create stderr capture file: %w", err)
	}
	cmd.Stderr = stderrFile

	if err := cmd.Start(); err != nil {
		stderrFile.Close()
		os.Remove(stderrFile.Name())
		return nil, fmt.Errorf("fork daemon process: %w", err)
	}
	return cmd, nil
}

// WaitForDaemon polls socketPath until it answers a status request or the
// subprocess exits early, in which case the captured stderr is surfaced.
func WaitForDaemon(cmd *exec.Cmd, socketPath string) error {
	defer func() {
		if f, ok := cmd.Stderr.(*os.File); ok {
			name := f.Name()
			f.Close()
			os.Remove(name)
		}
	}()

	type waitResult struct{ err error }
	exited := make(chan waitResult, 1)
	go func() { exited <- waitResult{err: cmd.Wait()} }()

	for range 50 {
		time.Sleep(100 * time.Millisecond)

		select {
		case result := <-exited:
			stderr := ""
			if f, ok := cmd.Stderr.(*os.File); ok {
				f.Seek(0, 0)
				data, _ := io.ReadAll(f)
				stderr = strings.TrimSpace(string(data))
			}
			if stderr != "" {
				return fmt.Errorf("daemon crashed during startup (exit status: %v):\n%s", result.err, stderr)
			}
			return fmt.Errorf("daemon crashed during startup (exit status: %v)", result.err)
		default:
		}

		if _, err := Status(socketPath, 500*time.Millisecond); err == nil {
			return nil
		}
	}

	return fmt.Errorf("daemon was launched but socket was not created in time")
}

// WaitForDaemonStop polls until socketPath stops answering, or times out.
func WaitForDaemonStop(socketPath string) error {
	for range 20 {
		time.Sleep(100 * time.Millisecond)
		if _, err := Status(socketPath, time.Second); err != nil {
			return nil
		}
	}
	return fmt.Errorf("daemon did not stop in time")
}
