package daemon

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.olrik.dev/consolle/internal/askpass"
	"go.olrik.dev/consolle/internal/broker"
	"go.olrik.dev/consolle/internal/consolle"
	"go.olrik.dev/consolle/internal/history"
)

// stubSupervisor is a minimal consolle.Supervisor double for exercising the
// socket plumbing without a real PTY child, mirroring the fake used by the
// broker package's own tests.
type stubSupervisor struct {
	evalResult consolle.EvalResult
	status     consolle.Status
}

func (s *stubSupervisor) Eval(code string, timeout time.Duration, preSigint bool) consolle.EvalResult {
	return s.evalResult
}
func (s *stubSupervisor) Status() consolle.Status { return s.status }
func (s *stubSupervisor) Restart() error          { return nil }
func (s *stubSupervisor) Stop() error             { return nil }
func (s *stubSupervisor) Mode() consolle.Mode     { return consolle.ModePTY }

func newTestDaemon(t *testing.T, sup consolle.Supervisor) (*Daemon, string) {
	t.Helper()
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "daemon.sock")

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		cfg:           consolle.SessionConfig{ProjectRoot: dir, Environment: "test"},
		supervisor:    sup,
		broker:        broker.New(sup),
		socketPath:    socketPath,
		pidFilePath:   filepath.Join(dir, "daemon.pid"),
		logBroadcast:  NewLogBroadcaster(10),
		askpassTokens: askpass.NewPendingValidator(),
		target:        "myapp",
		ctx:           ctx,
		cancel:        cancel,
	}

	listener, err := d.bindSocket()
	if err != nil {
		t.Fatalf("bindSocket returned error: %v", err)
	}
	d.listener = listener

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go d.handleConnection(conn)
		}
	}()

	t.Cleanup(func() { d.shutdown() })
	return d, socketPath
}

func TestBindSocketSetsPermissions(t *testing.T) {
	d, socketPath := newTestDaemon(t, &stubSupervisor{})
	_ = d

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("expected socket file to exist: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("socket permissions = %v, want 0600", info.Mode().Perm())
	}
}

func TestBindSocketRemovesStaleFile(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "daemon.sock")

	// Create a stale socket file nothing is listening on.
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("failed to create a throwaway listener: %v", err)
	}
	l.(*net.UnixListener).SetUnlinkOnClose(false)
	l.Close() // leaves the socket file behind without anyone listening

	d := &Daemon{socketPath: socketPath}
	listener, err := d.bindSocket()
	if err != nil {
		t.Fatalf("expected bindSocket to recover from a stale socket file, got: %v", err)
	}
	defer listener.Close()
}

func TestBindSocketFailsWhenDaemonAlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "daemon.sock")

	live, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("failed to create a live listener: %v", err)
	}
	defer live.Close()

	d := &Daemon{socketPath: socketPath}
	if _, err := d.bindSocket(); err == nil {
		t.Error("expected bindSocket to fail when another daemon already holds the socket")
	}
}

func sendRequest(t *testing.T, socketPath string, req broker.Request) broker.Response {
	t.Helper()
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		t.Fatalf("failed to dial test socket: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	line, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		t.Fatalf("failed to write request: %v", err)
	}

	buf := make([]byte, 64*1024)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}

	var resp broker.Response
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", buf[:n], err)
	}
	return resp
}

func TestHandleConnectionEvalRoundTrip(t *testing.T) {
	sup := &stubSupervisor{evalResult: consolle.EvalResult{Success: true, Output: "4"}}
	_, socketPath := newTestDaemon(t, sup)

	resp := sendRequest(t, socketPath, broker.Request{Action: broker.ActionEval, Code: "2 + 2", RequestID: "r1"})
	if !resp.Success || resp.Result != "4" {
		t.Errorf("response = %+v, want success with result 4", resp)
	}
	if resp.RequestID != "r1" {
		t.Errorf("RequestID = %q, want r1", resp.RequestID)
	}
}

func TestHandleConnectionStatus(t *testing.T) {
	sup := &stubSupervisor{status: consolle.Status{Running: true, Pid: 42, ProjectRoot: "/app", Environment: "development"}}
	_, socketPath := newTestDaemon(t, sup)

	resp := sendRequest(t, socketPath, broker.Request{Action: broker.ActionStatus})
	if !resp.Success || resp.Pid != 42 || !resp.Running {
		t.Errorf("response = %+v", resp)
	}
}

func TestHandleAskpassRejectsUnknownToken(t *testing.T) {
	d, socketPath := newTestDaemon(t, &stubSupervisor{})
	_ = d

	resp := sendRequest(t, socketPath, broker.Request{Action: broker.ActionAskpass, Target: "myapp", Token: "bogus"})
	if resp.Success {
		t.Error("expected askpass to fail for an unregistered token")
	}
}

func TestHandleAskpassRejectsTokenForWrongTarget(t *testing.T) {
	d, socketPath := newTestDaemon(t, &stubSupervisor{})
	d.askpassTokens.Register("myapp", "tok-123")

	resp := sendRequest(t, socketPath, broker.Request{Action: broker.ActionAskpass, Target: "other-app", Token: "tok-123"})
	if resp.Success {
		t.Error("expected askpass to fail when the token was issued for a different target")
	}
}

func TestHandleConnectionRecordsEvalHistory(t *testing.T) {
	hist, err := history.Open(filepath.Join(t.TempDir(), "target.history.db"))
	if err != nil {
		t.Fatalf("history.Open returned error: %v", err)
	}
	t.Cleanup(func() { hist.Close() })

	sup := &stubSupervisor{evalResult: consolle.EvalResult{Success: true, Output: "4"}}
	d, socketPath := newTestDaemon(t, sup)
	d.history = hist

	sendRequest(t, socketPath, broker.Request{Action: broker.ActionEval, Code: "2 + 2", RequestID: "r1"})

	records, err := hist.RecentEvals(d.target, 10)
	if err != nil {
		t.Fatalf("RecentEvals returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 recorded eval, got %d", len(records))
	}
	if records[0].Code != "2 + 2" || !records[0].Success {
		t.Errorf("recorded eval = %+v, want code %q success true", records[0], "2 + 2")
	}
}

func TestHandleConnectionInvalidJSON(t *testing.T) {
	_, socketPath := newTestDaemon(t, &stubSupervisor{})

	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		t.Fatalf("failed to dial test socket: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := conn.Write([]byte("not json\n")); err != nil {
		t.Fatalf("failed to write malformed request: %v", err)
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}

	var resp broker.Response
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		t.Fatalf("expected a valid JSON error response, got %q: %v", buf[:n], err)
	}
	if resp.Success {
		t.Error("expected failure for malformed JSON input")
	}
	if resp.Error != consolle.ErrInvalidRequest {
		t.Errorf("Error = %q, want %q", resp.Error, consolle.ErrInvalidRequest)
	}
}
