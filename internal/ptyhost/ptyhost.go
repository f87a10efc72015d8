// Package ptyhost owns the pseudo-terminal and the child shell process:
// it spawns the shell under a PTY, streams raw bytes to a downstream
// sink, and exposes the handful of control operations (write, resize,
// interrupt, eof, clear) that the rest of the pipeline needs.
package ptyhost

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// Sentinel errors per the error taxonomy in the system spec. pty.StartWithSize
// opens the PTY and spawns the child as one atomic call, so a failure here is
// always reported as ErrSpawn; there is no separate open-only failure mode to
// distinguish.
var (
	ErrSpawn     = errors.New("ptyhost: failed to spawn shell")
	ErrPtyClosed = errors.New("ptyhost: pty closed")
)

// Event is published on the Closed channel when the reader loop
// terminates, carrying the underlying read error (if any) and the
// child's exit code when known.
type Event struct {
	Err      error
	ExitCode int
}

// Host supervises a single PTY-backed shell process.
type Host struct {
	cmd  *exec.Cmd
	ptmx *os.File

	output chan []byte
	closed chan Event

	stopOnce sync.Once
	stopCh   chan struct{}
	waitDone chan struct{}
}

// Start opens a PTY, spawns shellPath as a session leader with the
// slave end as its stdio, and begins streaming master-fd reads to the
// returned Host's Output channel.
func Start(shellPath string, arg string, cols, rows uint16) (*Host, error) {
	cmd := exec.Command(shellPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	h := &Host{
		cmd:    cmd,
		ptmx:   ptmx,
		output: make(chan []byte, 64),
		closed:   make(chan Event, 1),
		stopCh:   make(chan struct{}),
		waitDone: make(chan struct{}),
	}

	go h.readLoop()
	go h.waitLoop()

	return h, nil
}

// Output is the channel of raw byte chunks read from the PTY master.
func (h *Host) Output() <-chan []byte { return h.output }

// Closed fires exactly once, when the reader loop stops (master fd
// closed, read error, or child exit).
func (h *Host) Closed() <-chan Event { return h.closed }

func (h *Host) readLoop() {
	defer close(h.output)
	buf := make([]byte, 4096)
	for {
		select {
		case <-h.stopCh:
			return
		default:
		}

		n, err := h.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case h.output <- chunk:
			case <-h.stopCh:
				return
			}
		}
		if err != nil {
			select {
			case h.closed <- Event{Err: fmt.Errorf("%w: %v", ErrPtyClosed, err)}:
			default:
			}
			return
		}
	}
}

func (h *Host) waitLoop() {
	defer close(h.waitDone)
	err := h.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	select {
	case h.closed <- Event{ExitCode: code}:
	default:
	}
}

// Write sends bytes to the shell as if typed at the keyboard.
func (h *Host) Write(p []byte) error {
	_, err := h.ptmx.Write(p)
	return err
}

// Resize applies a new terminal window size via the PTY's TIOCSWINSZ
// ioctl (wrapped by creack/pty).
func (h *Host) Resize(cols, rows uint16) error {
	return pty.Setsize(h.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Interrupt sends Ctrl-C (0x03) to the foreground process.
func (h *Host) Interrupt() error { return h.Write([]byte{0x03}) }

// SendEOF sends Ctrl-D (0x04), signalling end-of-input to a shell
// reading from its stdin.
func (h *Host) SendEOF() error { return h.Write([]byte{0x04}) }

// Clear sends form-feed (0x0C), the conventional "clear screen" key.
func (h *Host) Clear() error { return h.Write([]byte{0x0C}) }

// Stop terminates the child: SIGTERM, a 2s grace period, then SIGKILL.
// It is safe to call Stop multiple times.
func (h *Host) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.cmd.Process == nil {
			return
		}
		pgid := -h.cmd.Process.Pid
		_ = syscall.Kill(pgid, syscall.SIGTERM)

		select {
		case <-h.waitDone:
		case <-time.After(2 * time.Second):
			_ = syscall.Kill(pgid, syscall.SIGKILL)
			<-h.waitDone
		}
		_ = h.ptmx.Close()
	})
}
