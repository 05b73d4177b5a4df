package consolle

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ErrBackendNotImplemented is returned by the embedded (in-process, no-PTY)
// backend constructor. Spec.md requires the design accommodate an embedded
// Supervisor as an optional backend without building one; this is that
// documented extension point.
var ErrBackendNotImplemented = errors.New("consolle: embedded backend not implemented")

// Status is returned by Supervisor.Status, matching the response envelope's
// status fields (spec.md section 6).
type Status struct {
	Running     bool
	Pid         int
	ProjectRoot string
	Environment string
}

// Supervisor owns a child runtime's lifecycle: spawn, eval, restart, stop,
// and status reporting. It is implemented by ptySupervisor (the hard core)
// and, in principle, by an in-process "embedded" backend that bypasses the
// PTY entirely (spec.md section 9) — not built here, see NewEmbedded.
type Supervisor interface {
	Eval(code string, timeout time.Duration, preSigint bool) EvalResult
	Status() Status
	Restart() error
	Stop() error
	Mode() Mode
}

// NewEmbedded is the documented extension point for an in-process backend.
// It always fails: building it is explicitly out of scope (spec.md section
// 1's non-goals, reaffirmed in section 9).
func NewEmbedded(cfg SessionConfig) (Supervisor, error) {
	return nil, ErrBackendNotImplemented
}

// restartBudget tracks the bounded restart-timestamp sequence from spec.md
// section 3 invariant 3: entries older than window are pruned, and a
// warning is logged (not an error — the supervisor still attempts to
// continue) when the remaining count would exceed the configured cap.
type restartBudget struct {
	window      time.Duration
	maxRestarts int
	timestamps  []time.Time
}

func (b *restartBudget) record(now time.Time) {
	cutoff := now.Add(-b.window)
	kept := b.timestamps[:0]
	for _, ts := range b.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.timestamps = append(kept, now)
	if len(b.timestamps) > b.maxRestarts {
		slog.Warn("restart rate exceeded configured cap",
			"count", len(b.timestamps), "window", b.window, "max", b.maxRestarts)
	}
}

// ptySupervisor is the PTY-backed Supervisor implementation: spec.md's
// hard core. evalMu serializes PTY dialogue; processMu serializes
// spawn/stop/restart and is taken briefly by the watchdog so an in-flight
// eval never observes the child replaced out from under it (spec.md
// section 9, "two mutexes, not one").
type ptySupervisor struct {
	cfg     SessionConfig
	matcher *PromptMatcher

	evalMu    sync.Mutex
	processMu sync.Mutex

	child   *Child
	running bool
	budget  restartBudget

	watchdog *watchdog
}

// scrubbedEnv builds the environment the child is launched with: pagers,
// colors, and config files disabled, terminal geometry pinned, exactly as
// spec.md section 4.4.1 lists.
func scrubbedEnv(cfg SessionConfig) []string {
	env := os.Environ()
	overrides := map[string]string{
		"RAILS_ENV":           cfg.Environment,
		"IRBRC":               "skip",
		"DISABLE_PRY_RAILS":   "1",
		"PAGER":               "cat",
		"GEM_PAGER":           "cat",
		"IRB_PAGER":           "cat",
		"NO_PAGER":            "1",
		"LESS":                "",
		"TERM":                "dumb",
		"FORCE_COLOR":         "0",
		"NO_COLOR":            "1",
		"COLUMNS":             "120",
		"LINES":               "24",
	}
	filtered := env[:0]
	for _, kv := range env {
		key, _, _ := cutEnv(kv)
		if _, overridden := overrides[key]; overridden {
			continue
		}
		filtered = append(filtered, kv)
	}
	for k, v := range overrides {
		filtered = append(filtered, k+"="+v)
	}
	filtered = append(filtered, cfg.ExtraEnv...)
	return filtered
}

func cutEnv(kv string) (key, value string, found bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return kv, "", false
}

// NewPTYSupervisor constructs a Supervisor, spawning the child immediately
// and starting its watchdog. Matches spec.md section 3's lifecycle: "the
// PTY Child is created on Supervisor construction."
func NewPTYSupervisor(cfg SessionConfig) (Supervisor, error) {
	matcher, err := NewPromptMatcher(cfg.PromptPattern)
	if err != nil {
		return nil, fmt.Errorf("compile prompt pattern: %w", err)
	}
	if cfg.InitialWaitSeconds <= 0 {
		cfg.InitialWaitSeconds = 15
	}

	s := &ptySupervisor{
		cfg:     cfg,
		matcher: matcher,
		budget: restartBudget{
			window:      300 * time.Second,
			maxRestarts: 5,
		},
	}

	if err := s.spawn(); err != nil {
		return nil, err
	}

	s.watchdog = newWatchdog(s)
	s.watchdog.start()

	return s, nil
}

// spawnLocked launches a fresh child and drives it to a reprogrammed, ready
// prompt. Caller must hold processMu.
func (s *ptySupervisor) spawnLocked() error {
	child, err := StartChild(s.cfg.Command, scrubbedEnv(s.cfg), 120, 24)
	if err != nil {
		return fmt.Errorf("start child: %w", err)
	}
	s.child = child

	if err := s.awaitInitialPrompt(); err != nil {
		child.Close()
		s.child = nil
		return err
	}

	s.reprogramPrompt()

	if s.cfg.RemoteHint {
		s.handleRemoteHandshake()
	}

	s.running = true
	s.budget.record(time.Now())
	return nil
}

func (s *ptySupervisor) spawn() error {
	s.processMu.Lock()
	defer s.processMu.Unlock()
	return s.spawnLocked()
}

// awaitInitialPrompt waits up to the configured budget for the Prompt
// Matcher to recognize a line of output, answering DSR cursor-position
// probes along the way (spec.md 4.4.1).
func (s *ptySupervisor) awaitInitialPrompt() error {
	deadline := time.Now().Add(time.Duration(s.cfg.InitialWaitSeconds) * time.Second)
	var buf bytes.Buffer
	readBuf := make([]byte, 4096)

	for time.Now().Before(deadline) {
		n, err := s.child.Read(readBuf)
		if err != nil {
			if errors.Is(err, ErrChildClosed) {
				return fmt.Errorf("child exited before initial prompt")
			}
			return err
		}
		if n == 0 {
			continue
		}
		buf.Write(readBuf[:n])
		replyToDSR(s.child, readBuf[:n])

		clean := Sanitize(buf.Bytes())
		for _, line := range splitLines(clean) {
			if s.matcher.Match(line) {
				return nil
			}
		}
	}
	return fmt.Errorf("timed out waiting for initial prompt after %ds", s.cfg.InitialWaitSeconds)
}

// reprogramPrompt sends the fixed configuration sequence that disables the
// pager, autocompletion, multi-line editing, and colorization, and installs
// the sentinel prompt (spec.md 4.4.1). Residual output is drained.
func (s *ptySupervisor) reprogramPrompt() {
	commands := []string{
		"IRB.conf[:USE_PAGER] = false rescue nil",
		"IRB.conf[:USE_AUTOCOMPLETE] = false rescue nil",
		"IRB.conf[:USE_MULTILINE] = false rescue nil",
		"IRB.conf[:USE_COLORIZE] = false rescue nil",
		fmt.Sprintf("IRB.conf[:PROMPT][:CONSOLLE] = {PROMPT_I: %q, PROMPT_S: \"\", PROMPT_C: \"\", RETURN: \"=> %%s\\n\"} rescue nil",
			SentinelPrompt+" "),
		"IRB.conf[:PROMPT_MODE] = :CONSOLLE rescue nil",
	}
	for _, cmd := range commands {
		s.child.Write([]byte(cmd + "\n"))
	}
	s.drainFor(300 * time.Millisecond)
}

// handleRemoteHandshake implements spec.md 4.4.1's extra handshake for
// children whose launch command mentions ssh/docker/a deploy tool: send
// Ctrl-C and re-await a prompt, then drain pre-prompt noise up to a unique
// marker.
func (s *ptySupervisor) handleRemoteHandshake() {
	s.child.SendInterrupt()
	s.awaitInitialPrompt()

	marker := fmt.Sprintf("__consolle_ready_%d__", time.Now().UnixNano())
	s.child.Write([]byte(readyMarkerStatement(marker) + "\n"))

	deadline := time.Now().Add(5 * time.Second)
	var buf bytes.Buffer
	readBuf := make([]byte, 4096)
	for time.Now().Before(deadline) {
		n, err := s.child.Read(readBuf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		buf.Write(readBuf[:n])
		if strings.Contains(Sanitize(buf.Bytes()), marker) {
			return
		}
	}
}

// drainFor reads and discards output for the given duration, replying to
// DSR probes as it goes.
func (s *ptySupervisor) drainFor(d time.Duration) {
	deadline := time.Now().Add(d)
	readBuf := make([]byte, 4096)
	for time.Now().Before(deadline) {
		n, err := s.child.Read(readBuf)
		if err != nil {
			return
		}
		if n > 0 {
			replyToDSR(s.child, readBuf[:n])
		}
	}
}

// dsrProbe is the cursor-position request ESC[6n; dsrReply is the answer
// the Supervisor fabricates (row 1, column 1) since the PTY has no real
// cursor to report.
var dsrProbe = []byte("\x1b[6n")
var dsrReply = []byte("\x1b[1;1R")

func replyToDSR(child *Child, chunk []byte) {
	if bytes.Contains(chunk, dsrProbe) {
		child.Write(dsrReply)
	}
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}


// Eval implements spec.md 4.4.2: the central protocol. It holds evalMu for
// its entire duration, guaranteeing invariant 1 (at most one evaluation in
// flight).
func (s *ptySupervisor) Eval(code string, timeout time.Duration, preSigint bool) EvalResult {
	s.evalMu.Lock()
	defer s.evalMu.Unlock()

	timeout = s.resolveTimeout(timeout)

	if preSigint && !disablePreSigintGlobally() {
		if !s.preExecHealthCheck() {
			s.restartUnhealthy()
			return EvalResult{Success: false, ErrorCode: ErrServerUnhealthy, Message: "console did not respond to health probe"}
		}
	}

	line, tempFile, err := buildInjection(code, timeout, s.cfg.ProjectRoot)
	if err != nil {
		return EvalResult{Success: false, ErrorCode: ErrUnknownError, Message: err.Error()}
	}
	defer func() {
		if tempFile != "" {
			os.Remove(tempFile)
		}
	}()

	s.processMu.Lock()
	child := s.child
	s.processMu.Unlock()
	if child == nil {
		return EvalResult{Success: false, ErrorCode: ErrServerUnhealthy, Message: "no child process"}
	}

	start := time.Now()
	if _, err := child.Write([]byte(line + "\n")); err != nil {
		return EvalResult{Success: false, ErrorCode: ErrServerUnhealthy, Message: fmt.Sprintf("write to child failed: %v", err)}
	}

	result, timedOut := s.collectOutput(child, timeout)
	elapsed := time.Since(start).Seconds()

	if timedOut {
		child.SendInterrupt()
		s.drainChildFor(child, 500*time.Millisecond)
		return EvalResult{Success: false, ErrorCode: ErrExecutionTimeout, Message: "evaluation timed out", ExecutionTime: elapsed}
	}

	result.ExecutionTime = elapsed
	return result
}

// resolveTimeout implements spec.md 4.4.2/6's timeout precedence:
// CONSOLLE_TIMEOUT, when set to a positive integer, overrides even a
// caller-supplied timeout; otherwise the caller's timeout applies, and
// absent both, 60 seconds.
func (s *ptySupervisor) resolveTimeout(requested time.Duration) time.Duration {
	if v := os.Getenv("CONSOLLE_TIMEOUT"); v != "" {
		if n, err := parsePositiveInt(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	if requested > 0 {
		return requested
	}
	return 60 * time.Second
}

func disablePreSigintGlobally() bool {
	return os.Getenv("CONSOLLE_DISABLE_PRE_SIGINT") == "1"
}

// preExecHealthCheck implements spec.md 4.4.2 step 1: Ctrl-C, probe
// statement, await a prompt or the probe marker within 3 seconds.
func (s *ptySupervisor) preExecHealthCheck() bool {
	s.processMu.Lock()
	child := s.child
	s.processMu.Unlock()
	if child == nil {
		return false
	}

	child.SendInterrupt()
	child.Write([]byte(probeStatement() + "\n"))

	deadline := time.Now().Add(3 * time.Second)
	var buf bytes.Buffer
	readBuf := make([]byte, 4096)
	for time.Now().Before(deadline) {
		n, err := child.Read(readBuf)
		if err != nil {
			return false
		}
		if n == 0 {
			continue
		}
		buf.Write(readBuf[:n])
		replyToDSR(child, readBuf[:n])
		clean := Sanitize(buf.Bytes())
		if strings.Contains(clean, probeMarker) {
			return true
		}
		for _, line := range splitLines(clean) {
			if s.matcher.Match(line) {
				return true
			}
		}
	}
	return false
}

func (s *ptySupervisor) drainChildFor(child *Child, d time.Duration) {
	deadline := time.Now().Add(d)
	readBuf := make([]byte, 4096)
	for time.Now().Before(deadline) {
		n, err := child.Read(readBuf)
		if err != nil {
			return
		}
		if n > 0 {
			replyToDSR(child, readBuf[:n])
		}
	}
}

// collectOutput implements spec.md 4.4.2 step 3: read chunks until a
// prompt line appears, then grace-read briefly for trailing bytes.
func (s *ptySupervisor) collectOutput(child *Child, timeout time.Duration) (result EvalResult, timedOut bool) {
	var buf bytes.Buffer
	readBuf := make([]byte, 4096)
	deadline := time.Now().Add(timeout)

	for {
		if time.Now().After(deadline) {
			return EvalResult{}, true
		}

		n, err := child.Read(readBuf)
		if err != nil {
			if errors.Is(err, ErrChildClosed) {
				return EvalResult{Success: false, ErrorCode: ErrUnknownError, Message: "console terminated"}, false
			}
			return EvalResult{Success: false, ErrorCode: ErrUnknownError, Message: err.Error()}, false
		}
		if n == 0 {
			continue
		}
		buf.Write(readBuf[:n])
		replyToDSR(child, readBuf[:n])

		clean := Sanitize(buf.Bytes())
		if _, ok := s.matcher.MatchAny(splitLines(clean)); ok {
			s.grace(child, &buf, 100*time.Millisecond)
			out, truncated := TruncateOutput(buf.Bytes())
			result = ParseOutput(out, s.matcher)
			result.Truncated = truncated
			return result, false
		}
	}
}

func (s *ptySupervisor) grace(child *Child, buf *bytes.Buffer, d time.Duration) {
	deadline := time.Now().Add(d)
	readBuf := make([]byte, 4096)
	for time.Now().Before(deadline) {
		n, err := child.Read(readBuf)
		if err != nil {
			return
		}
		if n > 0 {
			buf.Write(readBuf[:n])
			replyToDSR(child, readBuf[:n])
		}
	}
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not a number: %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// restartUnhealthy is called when the pre-exec health check fails: the
// child is torn down and a fresh one spawned so the next request can
// succeed, per spec.md 4.4.2 step 1.
func (s *ptySupervisor) restartUnhealthy() {
	if err := s.Restart(); err != nil {
		slog.Error("failed to restart unhealthy child", "error", err)
	}
}

// Restart implements spec.md 4.4.3: under the process mutex, stop then
// spawn a replacement.
func (s *ptySupervisor) Restart() error {
	s.processMu.Lock()
	defer s.processMu.Unlock()

	s.stopChildLocked()
	return s.spawnLocked()
}

// Stop implements spec.md 4.4.4: clear running, kill the watchdog, then
// under the process mutex escalate exit/SIGTERM/SIGKILL and close the PTY.
func (s *ptySupervisor) Stop() error {
	s.processMu.Lock()
	s.running = false
	s.processMu.Unlock()

	if s.watchdog != nil {
		s.watchdog.stop()
	}

	s.processMu.Lock()
	defer s.processMu.Unlock()
	s.stopChildLocked()
	return nil
}

// stopChildLocked escalates exit -> SIGTERM -> SIGKILL with graceful waits,
// matching the timing in spec.md 4.4.4 / the teacher's stopProcess. Caller
// must hold processMu.
func (s *ptySupervisor) stopChildLocked() {
	child := s.child
	if child == nil {
		return
	}
	s.child = nil

	child.Write([]byte("exit\n"))
	if s.waitForExit(child, 3*time.Second) {
		child.Close()
		return
	}

	child.Signal(syscall.SIGTERM)
	if s.waitForExit(child, 3*time.Second) {
		child.Close()
		return
	}

	child.Signal(syscall.SIGKILL)
	s.waitForExit(child, 1*time.Second)
	child.Close()
}

func (s *ptySupervisor) waitForExit(child *Child, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if child.Exited() {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return child.Exited()
}

// Status reports the current child pid and running flag.
func (s *ptySupervisor) Status() Status {
	s.processMu.Lock()
	defer s.processMu.Unlock()

	st := Status{
		Running:     s.running,
		ProjectRoot: s.cfg.ProjectRoot,
		Environment: s.cfg.Environment,
	}
	if s.child != nil {
		st.Pid = s.child.Pid()
	}
	return st
}

func (s *ptySupervisor) Mode() Mode {
	return ModePTY
}

// isAlive reports whether the current child is still alive, used by the
// watchdog's liveness poll. It takes processMu itself so the watchdog
// doesn't need to reach into supervisor internals. A signal-0 check alone
// would report a zombie child as alive, so a child stuck as a zombie (its
// exit not yet reaped) is also treated as dead here.
func (s *ptySupervisor) isAlive() bool {
	s.processMu.Lock()
	defer s.processMu.Unlock()
	if s.child == nil {
		return false
	}
	if s.child.Exited() {
		return false
	}
	return !s.child.Zombied()
}

func (s *ptySupervisor) isRunning() bool {
	s.processMu.Lock()
	defer s.processMu.Unlock()
	return s.running
}

// respawn is called by the watchdog once it has detected child death; it
// re-enters spawnLocked under processMu.
func (s *ptySupervisor) respawn() error {
	s.processMu.Lock()
	defer s.processMu.Unlock()
	if s.child != nil {
		s.child.Close()
		s.child = nil
	}
	return s.spawnLocked()
}
