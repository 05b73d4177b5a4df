package consolle

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

// ErrChildClosed is returned by Child.Read when the PTY master has reached
// end-of-input: either the child exited or the master fd was closed. It is
// distinguished from "no data right now" so callers in a non-blocking read
// loop can tell apart a dead child from a merely quiet one.
var ErrChildClosed = errors.New("consolle: child pty closed")

// Child wraps a single child process attached to a pseudo-terminal pair.
// The master end lives in the daemon; the slave end is the child's
// controlling tty. All reads and writes go through the master file handle.
type Child struct {
	cmd  *exec.Cmd
	ptmx *os.File

	reapDone chan struct{}
	waitErr  error
}

// StartChild launches command (via "sh -c") with env as its environment,
// attached to a new PTY sized cols x rows, and returns a Child wrapping it.
// Setsid is set so the child becomes its own process group leader, letting
// the supervisor signal the whole group (including any grandchildren a
// shell wrapper spawns) rather than just the immediate child.
func StartChild(command string, env []string, cols, rows int) (*Child, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, err
	}

	c := &Child{cmd: cmd, ptmx: ptmx, reapDone: make(chan struct{})}
	go c.reap()
	return c, nil
}

// reap blocks on the child's exit and collects its status, so it never
// lingers in the process table as a zombie once it exits (spec.md 4.4.4's
// waitpid requirement). Exited/Wait observe completion via reapDone
// instead of polling, since reaping owns its own goroutine for the life
// of the child.
func (c *Child) reap() {
	c.waitErr = c.cmd.Wait()
	close(c.reapDone)
}

// Pid returns the child process's pid, or 0 if it never started.
func (c *Child) Pid() int {
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Write writes to the PTY master, i.e. delivers input as if typed at the
// child's tty.
func (c *Child) Write(p []byte) (int, error) {
	return c.ptmx.Write(p)
}

// Read performs one read from the PTY master bounded by a short readiness
// deadline. It returns (0, nil) when no data arrived within that window
// (the caller's poll loop should just try again), and ErrChildClosed when
// the master has hit EOF because the child exited or the fd was closed.
func (c *Child) Read(buf []byte) (n int, err error) {
	_ = c.ptmx.SetReadDeadline(time.Now().Add(readPollInterval))
	n, err = c.ptmx.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, nil
		}
		if errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed) {
			return n, ErrChildClosed
		}
		return n, err
	}
	return n, nil
}

// readPollInterval bounds a single Child.Read call so the supervisor's
// collection loop can interleave DSR-reply checks and timeout bookkeeping
// between reads instead of blocking indefinitely on a quiet child.
const readPollInterval = 50 * time.Millisecond

// SendInterrupt writes Ctrl-C to the PTY master. Because the slave is the
// child's controlling tty, the tty driver delivers SIGINT to the whole
// foreground process group, which reaches even a privileged child a bare
// syscall.Kill could not signal.
func (c *Child) SendInterrupt() error {
	_, err := c.ptmx.Write([]byte{0x03})
	return err
}

// SendEOF writes Ctrl-D to the PTY master, signaling end-of-input to a
// child reading from its controlling tty (e.g. to make a REPL exit its
// read loop cleanly).
func (c *Child) SendEOF() error {
	_, err := c.ptmx.Write([]byte{0x04})
	return err
}

// Signal delivers sig to the child's process group, falling back to
// signaling just the child if the group signal is refused.
func (c *Child) Signal(sig syscall.Signal) error {
	pid := c.Pid()
	if pid <= 0 {
		return errors.New("consolle: no child process")
	}
	if err := syscall.Kill(-pid, sig); err != nil {
		if c.cmd.Process != nil {
			return c.cmd.Process.Signal(sig)
		}
		return err
	}
	return nil
}

// Wait blocks until the child has exited and been reaped, returning the
// error its wait() status produced.
func (c *Child) Wait() error {
	if c.reapDone == nil {
		return nil
	}
	<-c.reapDone
	return c.waitErr
}

// Exited reports, without blocking, whether the child has already exited
// and been reaped by the background reap goroutine started in StartChild.
func (c *Child) Exited() bool {
	if c.reapDone == nil {
		return false
	}
	select {
	case <-c.reapDone:
		return true
	default:
		return false
	}
}

// Zombied reports whether the child's pid is currently a zombie in the
// process table. With StartChild's background reap in place this should
// only ever be true for the brief window between the child's exit and the
// reap goroutine's Wait() call returning; it exists as a defense-in-depth
// check for the watchdog, which must not mistake a zombie for a live
// child while that window is open.
func (c *Child) Zombied() bool {
	pid := c.Pid()
	if pid <= 0 {
		return false
	}
	proc, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	status, err := proc.Status()
	if err != nil {
		return false
	}
	for _, s := range status {
		if s == gopsprocess.Zombie {
			return true
		}
	}
	return false
}

// Resize changes the PTY window size; the child sees a SIGWINCH.
func (c *Child) Resize(cols, rows int) error {
	return pty.Setsize(c.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Close closes the PTY master end. Safe to call more than once.
func (c *Child) Close() error {
	if c.ptmx == nil {
		return nil
	}
	if err := c.ptmx.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
