package consolle

import (
	"context"
	"log/slog"
	"time"
)

// pollInterval is the watchdog's liveness-check cadence (spec.md 4.5).
const pollInterval = 500 * time.Millisecond

// restartDelay is the pause between detecting death and respawning
// (spec.md 4.5 / section 5's restart policy).
const restartDelay = 1 * time.Second

// watchdog is a background task that periodically checks whether the
// supervised child is still alive and, if it died while the supervisor's
// running flag is still set, respawns it after a short delay. Grounded on
// the teacher's ParentMonitor poll loop (ticker + context cancellation
// shape), generalized from "is our parent gone" to "is our child gone."
type watchdog struct {
	supervisor *ptySupervisor
	cancel     context.CancelFunc
	done       chan struct{}
}

func newWatchdog(s *ptySupervisor) *watchdog {
	return &watchdog{supervisor: s}
}

func (w *watchdog) start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(ctx)
}

func (w *watchdog) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *watchdog) tick() {
	if !w.supervisor.isRunning() {
		return
	}
	if w.supervisor.isAlive() {
		return
	}

	slog.Warn("console child is no longer alive, scheduling restart")
	time.Sleep(restartDelay)

	if !w.supervisor.isRunning() {
		// stop() may have raced the death detection; honor it.
		return
	}
	if err := w.supervisor.respawn(); err != nil {
		slog.Error("watchdog failed to respawn console", "error", err)
	}
}

// stop cancels the background poll loop and waits for it to exit.
func (w *watchdog) stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}
