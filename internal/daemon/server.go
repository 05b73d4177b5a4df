package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.olrik.dev/consolle/internal/askpass"
	"go.olrik.dev/consolle/internal/broker"
	"go.olrik.dev/consolle/internal/consolle"
	"go.olrik.dev/consolle/internal/core"
	"go.olrik.dev/consolle/internal/history"
)

// Daemon owns one Supervisor, its Broker, the listening Unix socket, and the
// log broadcaster clients attach to. One Daemon serves exactly one target
// (spec.md section 2: "the unit of supervision is a single console child"),
// unlike the teacher's Daemon which multiplexed many named tunnels.
type Daemon struct {
	cfg consolle.SessionConfig

	supervisor consolle.Supervisor
	broker     *broker.Broker

	listener      net.Listener
	socketPath    string
	pidFilePath   string
	logBroadcast  *LogBroadcaster
	askpassTokens *askpass.PendingValidator
	target        string
	history       *history.History

	shutdownOnce sync.Once
	ctx          context.Context
	cancel       context.CancelFunc
}

// New constructs a Daemon for the given session configuration and socket
// location. hist may be nil, in which case eval/restart activity is simply
// not recorded (the daemon is otherwise fully functional without it). The
// Supervisor (and its child) is not started until Run.
func New(cfg consolle.SessionConfig, socketPath, pidFilePath, target string, hist *history.History) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		cfg:           cfg,
		socketPath:    socketPath,
		pidFilePath:   pidFilePath,
		logBroadcast:  NewLogBroadcaster(1000),
		askpassTokens: askpass.NewPendingValidator(),
		target:        target,
		history:       hist,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Run starts the console child, binds the socket, and serves requests until
// a shutdown signal arrives or the listener is closed. It does not return
// under normal operation.
func (d *Daemon) Run() {
	d.setupLogging()

	if consolle.IsRemoteCommand(d.cfg.Command) {
		env, token, err := askpass.BuildEnv(d.target)
		if err != nil {
			slog.Warn("failed to configure SSH askpass wiring, remote prompts may hang", "error", err)
		} else {
			d.cfg.ExtraEnv = append(d.cfg.ExtraEnv, env...)
			d.askpassTokens.Register(d.target, token)
		}
	}

	var backend func(consolle.SessionConfig) (consolle.Supervisor, error)
	switch d.cfg.Mode {
	case consolle.ModeEmbedIRB, consolle.ModeEmbedRails:
		backend = consolle.NewEmbedded
	default:
		backend = consolle.NewPTYSupervisor
	}

	sup, err := backend(d.cfg)
	if err != nil {
		slog.Error("failed to start console supervisor", "error", err)
		os.Exit(1)
	}
	d.supervisor = sup
	d.broker = broker.New(sup)

	listener, err := d.bindSocket()
	if err != nil {
		slog.Error("failed to bind daemon socket", "error", err)
		os.Exit(1)
	}
	d.listener = listener

	if err := os.WriteFile(d.pidFilePath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		slog.Warn("failed to write pid file", "error", err, "path", d.pidFilePath)
	}
	defer os.Remove(d.pidFilePath)
	defer os.Remove(d.socketPath)

	slog.Info("daemon listening", "socket", d.socketPath, "project_root", d.cfg.ProjectRoot, "environment", d.cfg.Environment)
	d.logEvent("daemon_started", fmt.Sprintf("pid=%d socket=%s", os.Getpid(), d.socketPath))

	d.watchConfig()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-shutdownChan
		slog.Info("shutdown signal received")
		d.shutdown()
		os.Exit(0)
	}()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if !strings.Contains(err.Error(), "use of closed network connection") {
				slog.Info("error accepting connection", "error", err)
			}
			return
		}
		go d.handleConnection(conn)
	}
}

// bindSocket implements spec.md section 4.7's stale-socket handling: a
// Listen failure is only fatal once a dial probe confirms another daemon is
// genuinely listening; otherwise the leftover file is removed and bound
// fresh. Grounded on the teacher's Run() socket setup.
func (d *Daemon) bindSocket() (net.Listener, error) {
	listener, err := net.Listen("unix", d.socketPath)
	if err == nil {
		if chmodErr := os.Chmod(d.socketPath, 0o600); chmodErr != nil {
			slog.Warn("failed to set socket permissions", "error", chmodErr)
		}
		return listener, nil
	}

	if _, statErr := os.Stat(d.socketPath); statErr != nil {
		return nil, err
	}

	conn, dialErr := net.Dial("unix", d.socketPath)
	if dialErr == nil {
		conn.Close()
		return nil, fmt.Errorf("a daemon is already listening on %s", d.socketPath)
	}

	slog.Info("removing stale socket file", "path", d.socketPath)
	if removeErr := os.Remove(d.socketPath); removeErr != nil {
		return nil, fmt.Errorf("remove stale socket: %w", removeErr)
	}

	listener, err = net.Listen("unix", d.socketPath)
	if err != nil {
		return nil, err
	}
	if chmodErr := os.Chmod(d.socketPath, 0o600); chmodErr != nil {
		slog.Warn("failed to set socket permissions", "error", chmodErr)
	}
	return listener, nil
}

// handleConnection implements spec.md section 4.7's per-connection
// contract: read exactly one JSON line, hand it to the Broker, write exactly
// one JSON line back, close. A client that already hung up by the time the
// response is ready is tolerated rather than logged as an error.
func (d *Daemon) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	if !scanner.Scan() {
		return
	}

	var req broker.Request
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		d.writeResponse(conn, broker.Response{Success: false, Error: consolle.ErrInvalidRequest, Message: "invalid JSON request"})
		return
	}

	if req.Action == broker.ActionAskpass {
		d.writeResponse(conn, d.handleAskpass(req))
		return
	}

	if req.Action == broker.ActionLogs {
		d.handleLogs(conn)
		return
	}

	timeout := d.requestTimeout(req)
	start := time.Now()
	resp := d.broker.Process(req, timeout)
	d.recordActivity(req, resp, time.Since(start))
	d.writeResponse(conn, resp)
}

// recordActivity persists eval/exec outcomes and restart events to the
// target's history database. A nil d.history (the database failed to open)
// makes this a no-op rather than an error.
func (d *Daemon) recordActivity(req broker.Request, resp broker.Response, elapsed time.Duration) {
	if d.history == nil {
		return
	}

	switch req.Action {
	case broker.ActionEval, broker.ActionExec:
		if err := d.history.LogEval(d.target, req.Code, resp.Success, resp.Error, elapsed); err != nil {
			slog.Warn("failed to record eval history", "error", err)
		}
	case broker.ActionRestart:
		details := "ok"
		if !resp.Success {
			details = resp.Message
		}
		d.logEvent("restart_requested", details)
	}
}

// logEvent records a daemon lifecycle event (start, stop, restart) to the
// history database, if one is configured.
func (d *Daemon) logEvent(eventType, details string) {
	if d.history == nil {
		return
	}
	if err := d.history.LogDaemonEvent(d.target, eventType, details); err != nil {
		slog.Warn("failed to record daemon event", "error", err, "event", eventType)
	}
}

// handleAskpass answers an SSH_ASKPASS callback. It is handled here rather
// than via the Broker because it never touches the Supervisor and must not
// wait behind a long-running eval in the same FIFO queue.
func (d *Daemon) handleAskpass(req broker.Request) broker.Response {
	if req.Target == "" || req.Token == "" || !d.askpassTokens.Validate(req.Target, req.Token) {
		return broker.Response{Success: false, RequestID: req.RequestID, Error: consolle.ErrUnknownError, Message: "invalid or expired askpass token"}
	}

	password, err := askpass.GetPassword(req.Target)
	if err != nil {
		slog.Error("failed to read cached passphrase", "target", req.Target, "error", err)
		return broker.Response{Success: false, RequestID: req.RequestID, Error: consolle.ErrUnknownError, Message: "failed to read cached passphrase"}
	}
	if password == "" {
		return broker.Response{Success: false, RequestID: req.RequestID, Error: consolle.ErrUnknownError, Message: "no passphrase cached for target"}
	}

	return broker.Response{Success: true, RequestID: req.RequestID, Result: password}
}

// defaultRequestTimeoutSeconds mirrors the Supervisor's own eval default
// (resolveTimeout in internal/consolle/supervisor.go), and like it lets
// CONSOLLE_TIMEOUT override the caller's timeout: the server-side socket
// deadline must always be at least the evaluation timeout plus a small
// epsilon, so it never fires before the Supervisor's own deadline would.
const defaultRequestTimeoutSeconds = 60

func (d *Daemon) requestTimeout(req broker.Request) time.Duration {
	seconds := defaultRequestTimeoutSeconds
	if n, err := strconv.Atoi(os.Getenv("CONSOLLE_TIMEOUT")); err == nil && n > 0 {
		seconds = n
	} else if req.Timeout > 0 {
		seconds = int(req.Timeout)
	} else if core.Config != nil {
		seconds = core.GetDefaultTimeoutSeconds()
	}
	return time.Duration(seconds)*time.Second + 5*time.Second
}

func (d *Daemon) writeResponse(conn net.Conn, resp broker.Response) {
	line, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		if !isBrokenPipe(err) {
			slog.Debug("failed to write response to client", "error", err)
		}
	}
}

func isBrokenPipe(err error) bool {
	return strings.Contains(err.Error(), "broken pipe") || strings.Contains(err.Error(), "connection reset")
}

// shutdown stops the broker and supervisor and closes the listener. Safe to
// call more than once.
func (d *Daemon) shutdown() {
	d.shutdownOnce.Do(func() {
		d.logEvent("daemon_stopping", "")
		d.cancel()
		if d.broker != nil {
			d.broker.Stop()
		}
		if d.supervisor != nil {
			if err := d.supervisor.Stop(); err != nil {
				slog.Error("error stopping supervisor during shutdown", "error", err)
			}
		}
		if d.listener != nil {
			d.listener.Close()
		}
		if d.history != nil {
			if err := d.history.Close(); err != nil {
				slog.Warn("failed to close history database", "error", err)
			}
		}
	})
}
