// Package broker implements the Request Broker: a single FIFO worker that
// serializes every action against one Supervisor, so PTY dialogue is never
// interleaved across concurrent socket connections (spec.md section 4.6).
package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.olrik.dev/consolle/internal/consolle"
)

// pending is one FIFO item: the decoded request plus the channel its result
// is delivered on. resultCh is buffered so the worker's send never blocks
// even if Process already gave up and returned a timeout.
type pending struct {
	req        Request
	enqueuedAt time.Time
	resultCh   chan Response
}

// Broker owns the request queue and the single worker goroutine that drains
// it against a Supervisor. Grounded on the teacher's single accept-loop
// shape in internal/daemon/server.go, generalized from "one goroutine per
// connection" to "one worker, many connections" since spec.md invariant 1
// requires at most one evaluation in flight at a time.
type Broker struct {
	supervisor consolle.Supervisor

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*pending
	requests map[string]*pending
	stopped  bool

	done chan struct{}
}

// New constructs a Broker and starts its worker goroutine.
func New(supervisor consolle.Supervisor) *Broker {
	b := &Broker{
		supervisor: supervisor,
		requests:   make(map[string]*pending),
		done:       make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.run()
	return b
}

// Process enqueues req and blocks until the worker completes it or timeout
// elapses, whichever comes first (spec.md section 4.6's "process_request").
// A zero request_id is assigned a fresh uuid so every response is traceable.
func (b *Broker) Process(req Request, timeout time.Duration) Response {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	item := &pending{
		req:        req,
		enqueuedAt: time.Now(),
		resultCh:   make(chan Response, 1),
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return Response{Success: false, RequestID: req.RequestID, Error: consolle.ErrServerUnhealthy, Message: "broker is shutting down"}
	}
	b.queue = append(b.queue, item)
	b.requests[req.RequestID] = item
	b.cond.Signal()
	b.mu.Unlock()

	if timeout <= 0 {
		return <-item.resultCh
	}

	select {
	case resp := <-item.resultCh:
		return resp
	case <-time.After(timeout):
		b.mu.Lock()
		delete(b.requests, req.RequestID)
		b.mu.Unlock()
		return Response{Success: false, RequestID: req.RequestID, Error: consolle.ErrRequestTimeout, Message: "request timed out waiting for the broker"}
	}
}

// Stop wakes the worker with a poison pill and waits for it to exit. Safe to
// call once; a second call is a no-op.
func (b *Broker) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.queue = append(b.queue, nil) // poison pill
	b.cond.Signal()
	b.mu.Unlock()

	<-b.done
}

// run is the single worker: pop in FIFO order, dispatch, deliver. A nil item
// is the poison pill that ends the loop.
func (b *Broker) run() {
	defer close(b.done)
	for {
		item := b.pop()
		if item == nil {
			return
		}
		resp := b.dispatch(item.req)
		resp.RequestID = item.req.RequestID

		b.mu.Lock()
		delete(b.requests, item.req.RequestID)
		b.mu.Unlock()

		item.resultCh <- resp
	}
}

func (b *Broker) pop() *pending {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.queue) == 0 {
		b.cond.Wait()
	}
	item := b.queue[0]
	b.queue = b.queue[1:]
	return item
}

// dispatch implements spec.md section 4.6's action table.
func (b *Broker) dispatch(req Request) Response {
	switch req.Action {
	case ActionEval, ActionExec:
		return b.dispatchEval(req)
	case ActionStatus:
		return b.dispatchStatus()
	case ActionRestart:
		return b.dispatchRestart()
	default:
		return Response{Success: false, Error: consolle.ErrUnknownAction, Message: fmt.Sprintf("unrecognized action %q", req.Action)}
	}
}

func (b *Broker) dispatchEval(req Request) Response {
	if req.Code == "" {
		return Response{Success: false, Error: consolle.ErrMissingParameter, Message: "eval requires a non-empty code field"}
	}

	timeout := time.Duration(req.Timeout * float64(time.Second))
	result := b.supervisor.Eval(req.Code, timeout, true)

	if result.Success {
		return Response{
			Success:       true,
			Result:        result.Output,
			ExecutionTime: result.ExecutionTime,
			Truncated:     result.Truncated,
		}
	}
	return Response{
		Success:       false,
		Error:         result.ErrorCode,
		Message:       result.Message,
		Backtrace:     result.Backtrace,
		ExecutionTime: result.ExecutionTime,
	}
}

func (b *Broker) dispatchStatus() Response {
	st := b.supervisor.Status()
	return Response{
		Success:   true,
		Running:   st.Running,
		Pid:       st.Pid,
		RailsRoot: st.ProjectRoot,
		RailsEnv:  st.Environment,
	}
}

func (b *Broker) dispatchRestart() Response {
	if err := b.supervisor.Restart(); err != nil {
		return Response{Success: false, Error: consolle.ErrServerUnhealthy, Message: err.Error()}
	}
	st := b.supervisor.Status()
	return Response{
		Success:   true,
		Pid:       st.Pid,
		RailsRoot: st.ProjectRoot,
		RailsEnv:  st.Environment,
		Message:   "restarted",
	}
}
