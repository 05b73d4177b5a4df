package daemon

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// LogBroadcaster fans daemon log lines out to any number of `consolle logs`
// clients, keeping a ring buffer of recent lines so a newly attached client
// can replay history before following live output. Kept close to verbatim
// from the teacher's own LogBroadcaster, which is generic pub/sub
// infrastructure with no tunnel-specific assumptions.
type LogBroadcaster struct {
	clients map[chan string]bool
	history []string
	maxHist int
	mu      sync.RWMutex
}

// NewLogBroadcaster creates a broadcaster retaining up to historySize lines.
func NewLogBroadcaster(historySize int) *LogBroadcaster {
	if historySize <= 0 {
		historySize = 1000
	}
	return &LogBroadcaster{
		clients: make(map[chan string]bool),
		history: make([]string, 0, historySize),
		maxHist: historySize,
	}
}

// Subscribe adds a new client channel to receive broadcasts.
func (lb *LogBroadcaster) Subscribe() chan string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	ch := make(chan string, 100)
	lb.clients[ch] = true
	return ch
}

// SubscribeWithHistory adds a new client channel and returns the last
// historyLines lines already broadcast.
func (lb *LogBroadcaster) SubscribeWithHistory(historyLines int) (chan string, []string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	ch := make(chan string, 100)
	lb.clients[ch] = true

	var history []string
	if historyLines > 0 && len(lb.history) > 0 {
		start := len(lb.history) - historyLines
		if start < 0 {
			start = 0
		}
		history = make([]string, len(lb.history)-start)
		copy(history, lb.history[start:])
	}

	return ch, history
}

// Unsubscribe removes and closes a client channel.
func (lb *LogBroadcaster) Unsubscribe(ch chan string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	delete(lb.clients, ch)
	close(ch)
}

// Broadcast records message in history and fans it out to every subscriber,
// dropping it for any client whose buffer is currently full rather than
// blocking the logger.
func (lb *LogBroadcaster) Broadcast(message string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if len(lb.history) >= lb.maxHist {
		lb.history = lb.history[1:]
	}
	lb.history = append(lb.history, message)

	for ch := range lb.clients {
		select {
		case ch <- message:
		default:
		}
	}
}

// LogWriter is an io.Writer adapter that broadcasts every write to a
// LogBroadcaster, letting slog's handler fan out as a side effect of normal
// logging.
type LogWriter struct {
	broadcaster *LogBroadcaster
}

func (lw *LogWriter) Write(p []byte) (n int, err error) {
	lw.broadcaster.Broadcast(string(p))
	return len(p), nil
}

// setupLogging installs a tint handler writing to both stderr and the
// broadcaster, so `consolle logs`/`consolle console --attach` clients see
// exactly what the operator sees on the terminal running `consolle daemon`.
func (d *Daemon) setupLogging() {
	logWriter := &LogWriter{broadcaster: d.logBroadcast}
	multiWriter := io.MultiWriter(os.Stderr, logWriter)

	handler := tint.NewHandler(multiWriter, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.DateTime,
	})
	slog.SetDefault(slog.New(handler))
}

// handleLogs streams daemon logs to conn until the client disconnects,
// replaying a short tail of recent history first. Shared by both
// `consolle logs` and `consolle console --attach` (a second, backgrounded
// connection the console REPL opens to mirror daemon log lines to stderr
// while the operator evaluates code on the primary connection).
func (d *Daemon) handleLogs(conn net.Conn) {
	d.handleLogsWithHistory(conn, true, 20)
}

func (d *Daemon) handleLogsWithHistory(conn net.Conn, showHistory bool, historyLines int) {
	defer conn.Close()

	var logChan chan string
	var history []string
	if showHistory {
		logChan, history = d.logBroadcast.SubscribeWithHistory(historyLines)
	} else {
		logChan = d.logBroadcast.Subscribe()
	}
	defer d.logBroadcast.Unsubscribe(logChan)

	initialMsg := "Connected to consolle daemon logs. Press Ctrl+C to exit.\n"
	if _, err := conn.Write([]byte(initialMsg)); err != nil {
		slog.Warn("failed to send initial message to logs client", "error", err)
		return
	}

	for _, msg := range history {
		if _, err := conn.Write([]byte(msg)); err != nil {
			return
		}
	}

	done := make(chan bool)
	go func() {
		io.Copy(io.Discard, bufio.NewReader(conn))
		done <- true
	}()

	for {
		select {
		case logMsg, ok := <-logChan:
			if !ok {
				return
			}
			if _, err := conn.Write([]byte(logMsg)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

