// Package ptyhost allocates the PTY pair, spawns the child that execs the
// target command, and owns the master file descriptor and the child handle
// for reaping.
//
// Adapted from the PTY-spawn and resize logic the agent package used to
// manage per-agent shells; here there's exactly one child per Host and no
// worktree or scrollback bookkeeping.
package ptyhost

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// SpawnError reports that the child could not be started: the binary was
// missing or not executable, or the PTY pair itself could not be allocated.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitStatus is the terminal outcome of the child process.
type ExitStatus struct {
	// Code is the exit code for a normal exit.
	Code int
	// Signal is the symbolic signal name ("SIGTERM") when the child was
	// killed by a signal, otherwise empty.
	Signal string
}

// Signaled reports whether the child died from a signal rather than exiting
// normally.
func (s ExitStatus) Signaled() bool { return s.Signal != "" }

// Host owns one PTY pair and the child process running behind it.
type Host struct {
	master *os.File
	cmd    *exec.Cmd

	mu       sync.Mutex
	cols     int
	rows     int
	masterOK bool

	waitOnce sync.Once
	waitErr  error
	status   ExitStatus
}

// Spawn allocates a PTY pair at (cols, rows) and execs command with args and
// env under the slave. The caller gets a duplex *os.File (the master) to
// read PTY output from and write input to.
func Spawn(command string, args []string, env []string, cols, rows int) (*Host, error) {
	if _, err := exec.LookPath(command); err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}

	cmd := exec.Command(command, args...)
	cmd.Env = env
	// Detach into its own process group so the supervisor can signal the
	// whole group (child plus any grandchildren) rather than just the
	// direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	master, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
		}
		return nil, &SpawnError{Command: command, Err: err}
	}

	return &Host{
		master:   master,
		cmd:      cmd,
		cols:     cols,
		rows:     rows,
		masterOK: true,
	}, nil
}

// Master returns the PTY master endpoint. Reads observe child output; writes
// are forwarded to the child's stdin. The caller must serialize writes
// itself if more than one goroutine writes concurrently.
func (h *Host) Master() *os.File {
	return h.master
}

// Pid returns the child's process id, or 0 if it never started.
func (h *Host) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Resize propagates new geometry to the PTY via TIOCSWINSZ. It is idempotent
// and fails silently once the master has been closed, matching the spec's
// contract for a host whose session is already tearing down.
func (h *Host) Resize(cols, rows int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.masterOK {
		return nil
	}

	if err := pty.Setsize(h.master, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	h.cols, h.rows = cols, rows
	return nil
}

// Size returns the last geometry the host successfully applied.
func (h *Host) Size() (cols, rows int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cols, h.rows
}

// Signal delivers sig to the child's process group.
func (h *Host) Signal(sig syscall.Signal) error {
	if h.cmd.Process == nil {
		return errors.New("ptyhost: child not started")
	}
	pgid := h.cmd.Process.Pid
	if err := syscall.Kill(-pgid, sig); err != nil {
		// Fall back to the direct child if the group signal fails (e.g. the
		// child already reaped and the pgid was recycled).
		return h.cmd.Process.Signal(sig)
	}
	return nil
}

// Wait blocks until the child exits and returns its terminal status. It
// completes exactly once; later calls return the cached result.
func (h *Host) Wait() ExitStatus {
	h.waitOnce.Do(func() {
		err := h.cmd.Wait()
		h.status = statusFromWaitErr(err)
		h.waitErr = err
	})
	return h.status
}

// CloseMaster closes the master descriptor exactly once. It is safe to call
// after Wait or concurrently with pending reads, which will observe EIO or
// EOF.
func (h *Host) CloseMaster() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.masterOK {
		return nil
	}
	h.masterOK = false
	return h.master.Close()
}

func statusFromWaitErr(err error) ExitStatus {
	if err == nil {
		return ExitStatus{Code: 0}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return ExitStatus{Signal: signalName(ws.Signal())}
			}
			return ExitStatus{Code: ws.ExitStatus()}
		}
		return ExitStatus{Code: exitErr.ExitCode()}
	}

	// Not an ExitError (e.g. the process was never started); report it as a
	// generic non-zero failure rather than losing the error entirely.
	return ExitStatus{Code: -1}
}

func signalName(sig syscall.Signal) string {
	if name, ok := signalNames[sig]; ok {
		return name
	}
	return sig.String()
}

var signalNames = map[syscall.Signal]string{
	syscall.SIGHUP:  "SIGHUP",
	syscall.SIGINT:  "SIGINT",
	syscall.SIGQUIT: "SIGQUIT",
	syscall.SIGILL:  "SIGILL",
	syscall.SIGABRT: "SIGABRT",
	syscall.SIGFPE:  "SIGFPE",
	syscall.SIGKILL: "SIGKILL",
	syscall.SIGSEGV: "SIGSEGV",
	syscall.SIGPIPE: "SIGPIPE",
	syscall.SIGALRM: "SIGALRM",
	syscall.SIGTERM: "SIGTERM",
	syscall.SIGUSR1: "SIGUSR1",
	syscall.SIGUSR2: "SIGUSR2",
	syscall.SIGCHLD: "SIGCHLD",
	syscall.SIGCONT: "SIGCONT",
	syscall.SIGSTOP: "SIGSTOP",
	syscall.SIGTSTP: "SIGTSTP",
	syscall.SIGTTIN: "SIGTTIN",
	syscall.SIGTTOU: "SIGTTOU",
}

// SignalNumber returns the POSIX signal number for a name produced by
// signalName, or -1 if name isn't known. Used to compute 128+n exit codes.
func SignalNumber(name string) int {
	for sig, n := range signalNames {
		if n == name {
			return int(sig)
		}
	}
	return -1
}
