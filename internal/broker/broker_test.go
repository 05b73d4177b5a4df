package broker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.olrik.dev/consolle/internal/consolle"
)

// fakeSupervisor is a test double implementing consolle.Supervisor without
// a real PTY child, letting broker tests exercise dispatch logic in
// isolation the way the teacher's own daemon tests stub out companion
// processes rather than spawning real ones for every case.
type fakeSupervisor struct {
	mu          sync.Mutex
	evalCalls   []string
	evalResult  consolle.EvalResult
	status      consolle.Status
	restartErr  error
	restartHits int
}

func (f *fakeSupervisor) Eval(code string, timeout time.Duration, preSigint bool) consolle.EvalResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evalCalls = append(f.evalCalls, code)
	return f.evalResult
}

func (f *fakeSupervisor) Status() consolle.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSupervisor) Restart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restartHits++
	return f.restartErr
}

func (f *fakeSupervisor) Stop() error { return nil }

func (f *fakeSupervisor) Mode() consolle.Mode { return consolle.ModePTY }

func TestProcessEvalSuccess(t *testing.T) {
	sup := &fakeSupervisor{evalResult: consolle.EvalResult{Success: true, Output: "4", ExecutionTime: 0.01}}
	b := New(sup)
	defer b.Stop()

	resp := b.Process(Request{Action: ActionEval, Code: "2 + 2"}, time.Second)

	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
	if resp.Result != "4" {
		t.Errorf("Result = %q, want %q", resp.Result, "4")
	}
	if resp.RequestID == "" {
		t.Error("expected a generated request_id")
	}
}

func TestProcessEvalFailure(t *testing.T) {
	sup := &fakeSupervisor{evalResult: consolle.EvalResult{
		Success: false, ErrorCode: consolle.ErrNoMethodError, Message: "undefined method", Backtrace: []string{"a.rb:1"},
	}}
	b := New(sup)
	defer b.Stop()

	resp := b.Process(Request{Action: ActionExec, Code: "nil.foo"}, time.Second)

	if resp.Success {
		t.Fatal("expected a failed response")
	}
	if resp.Error != consolle.ErrNoMethodError {
		t.Errorf("Error = %q, want %q", resp.Error, consolle.ErrNoMethodError)
	}
	if len(resp.Backtrace) != 1 {
		t.Errorf("Backtrace = %v", resp.Backtrace)
	}
}

func TestProcessEvalMissingCode(t *testing.T) {
	sup := &fakeSupervisor{}
	b := New(sup)
	defer b.Stop()

	resp := b.Process(Request{Action: ActionEval}, time.Second)
	if resp.Success {
		t.Fatal("expected failure for a missing code field")
	}
	if resp.Error != consolle.ErrMissingParameter {
		t.Errorf("Error = %q, want %q", resp.Error, consolle.ErrMissingParameter)
	}
	if len(sup.evalCalls) != 0 {
		t.Error("expected the supervisor to never be called for a missing code field")
	}
}

func TestProcessStatus(t *testing.T) {
	sup := &fakeSupervisor{status: consolle.Status{Running: true, Pid: 1234, ProjectRoot: "/srv/app", Environment: "development"}}
	b := New(sup)
	defer b.Stop()

	resp := b.Process(Request{Action: ActionStatus}, time.Second)
	if !resp.Success || !resp.Running || resp.Pid != 1234 {
		t.Errorf("status response = %+v", resp)
	}
	if resp.RailsRoot != "/srv/app" || resp.RailsEnv != "development" {
		t.Errorf("status response = %+v", resp)
	}
}

func TestProcessRestartSuccess(t *testing.T) {
	sup := &fakeSupervisor{status: consolle.Status{Pid: 99}}
	b := New(sup)
	defer b.Stop()

	resp := b.Process(Request{Action: ActionRestart}, time.Second)
	if !resp.Success || resp.Pid != 99 {
		t.Errorf("restart response = %+v", resp)
	}
	if sup.restartHits != 1 {
		t.Errorf("expected Restart called once, got %d", sup.restartHits)
	}
}

func TestProcessRestartFailure(t *testing.T) {
	sup := &fakeSupervisor{restartErr: errors.New("boom")}
	b := New(sup)
	defer b.Stop()

	resp := b.Process(Request{Action: ActionRestart}, time.Second)
	if resp.Success {
		t.Fatal("expected failure when Restart returns an error")
	}
	if resp.Error != consolle.ErrServerUnhealthy {
		t.Errorf("Error = %q, want %q", resp.Error, consolle.ErrServerUnhealthy)
	}
}

func TestProcessUnknownAction(t *testing.T) {
	sup := &fakeSupervisor{}
	b := New(sup)
	defer b.Stop()

	resp := b.Process(Request{Action: "frobnicate"}, time.Second)
	if resp.Success {
		t.Fatal("expected failure for an unknown action")
	}
	if resp.Error != consolle.ErrUnknownAction {
		t.Errorf("Error = %q, want %q", resp.Error, consolle.ErrUnknownAction)
	}
}

func TestProcessPreservesCallerSuppliedRequestID(t *testing.T) {
	sup := &fakeSupervisor{status: consolle.Status{}}
	b := New(sup)
	defer b.Stop()

	resp := b.Process(Request{Action: ActionStatus, RequestID: "caller-123"}, time.Second)
	if resp.RequestID != "caller-123" {
		t.Errorf("RequestID = %q, want %q", resp.RequestID, "caller-123")
	}
}

func TestProcessConcurrentRequestsAllReachSupervisor(t *testing.T) {
	sup := &fakeSupervisor{evalResult: consolle.EvalResult{Success: true}}
	b := New(sup)
	defer b.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			b.Process(Request{Action: ActionEval, Code: "noop"}, 2*time.Second)
		}(i)
	}
	wg.Wait()

	sup.mu.Lock()
	defer sup.mu.Unlock()
	if len(sup.evalCalls) != 20 {
		t.Errorf("expected 20 eval calls serialized through the broker, got %d", len(sup.evalCalls))
	}
}

func TestStopIsIdempotent(t *testing.T) {
	sup := &fakeSupervisor{}
	b := New(sup)
	b.Stop()
	b.Stop()
}

func TestProcessAfterStopReturnsUnhealthy(t *testing.T) {
	sup := &fakeSupervisor{}
	b := New(sup)
	b.Stop()

	resp := b.Process(Request{Action: ActionStatus}, time.Second)
	if resp.Success {
		t.Fatal("expected failure after the broker has stopped")
	}
	if resp.Error != consolle.ErrServerUnhealthy {
		t.Errorf("Error = %q, want %q", resp.Error, consolle.ErrServerUnhealthy)
	}
}
