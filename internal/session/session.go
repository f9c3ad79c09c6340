// Package session wires the PTY host, classifier, optimizer, recorder and
// sink into one supervised run: the top-level lifecycle described for a
// spectertty session, from spawn through signal handling to exit reporting.
//
// Grounded on the chunked-read PTY pump in the agent package this module
// descends from (buf := make([]byte, N); for { n, err := pty.Read(buf) ...
// }), generalized from "buffer for a TUI to redraw" into "feed the frame
// classifier and the recorder".
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/spectertty/spectertty/internal/classify"
	"github.com/spectertty/spectertty/internal/config"
	"github.com/spectertty/spectertty/internal/diagnostics"
	"github.com/spectertty/spectertty/internal/frame"
	"github.com/spectertty/spectertty/internal/optimize"
	"github.com/spectertty/spectertty/internal/ptyhost"
	"github.com/spectertty/spectertty/internal/recorder"
	"github.com/spectertty/spectertty/internal/sink"
)

const readChunkSize = 8192

// Exit codes the process reports, per the external-interfaces contract.
const (
	ExitOK           = 0
	ExitUsageError   = 2
	ExitSpawnFailure = 111
)

// Supervisor owns every component of one session and drives it from spawn
// to exit reporting.
type Supervisor struct {
	cfg      config.Config
	patterns []*regexp.Regexp
	logger   *slog.Logger

	clock *frame.Clock
	start frame.StartTime

	out  io.Writer
	sink *sink.Sink
	rec  *recorder.Recorder

	host       *ptyhost.Host
	classifier *classify.Classifier
	stripper   *optimize.Stripper

	overflowMu     sync.Mutex
	overflowTimer  *time.Timer
	overflowKilled bool
}

// New builds a Supervisor. out is the frame sink's destination (parent
// stdout in normal operation); logger receives diagnostics.
func New(cfg config.Config, patterns []*regexp.Regexp, out io.Writer, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", uuid.NewString())

	s := &Supervisor{
		cfg:      cfg,
		patterns: patterns,
		logger:   logger,
		clock:    frame.NewClock(),
		start:    frame.NewStartTime(),
		out:      out,
	}

	s.sink = sink.New(out, cfg.BufferBytes, sink.WithOverflowCallbacks(s.onOverflowStart, s.onOverflowEnd))

	s.classifier = classify.New(classify.Config{
		Compact:        cfg.TokenMode.Compact(),
		Patterns:       patterns,
		IdleTimeout:    cfg.IdleTimeout,
		SettleInterval: config.DefaultSettleMs * time.Millisecond,
		BatchBytes:     config.DefaultBatchBytes,
		BatchInterval:  config.DefaultBatchInterval,
	}, s.clock, s.emitFrame)

	if cfg.TokenMode.Compact() {
		s.stripper = optimize.NewStripper()
	}

	return s
}

// emitFrame queues f for serialization. Without --json there is no frame
// consumer on stdout at all — the session instead passes the child's raw
// output straight through in pumpOutput — so this is a no-op.
func (s *Supervisor) emitFrame(f frame.Frame) {
	if !s.cfg.JSONFrames {
		return
	}
	if err := s.sink.Emit(f); err != nil {
		s.logger.Warn("failed to emit frame", "error", err)
	}
}

// Run spawns the child, pumps I/O until it exits or the process receives a
// termination signal, and returns the process exit code.
func (s *Supervisor) Run(ctx context.Context) int {
	env := buildEnv(s.cfg)

	host, err := ptyhost.Spawn(s.cfg.Command, s.cfg.Args, env, s.cfg.Cols, s.cfg.Rows)
	if err != nil {
		diagnostics.Error("%v", err)
		return ExitSpawnFailure
	}
	s.host = host

	if s.cfg.RecordPath != "" {
		rec, err := recorder.New(s.cfg.RecordPath, s.cfg.Cols, s.cfg.Rows, recordEnv(), s.start, s.logger)
		if err != nil {
			diagnostics.Warn("%v", err)
		} else {
			s.rec = rec
		}
	}

	childDone := make(chan ptyhost.ExitStatus, 1)
	go func() {
		childDone <- host.Wait()
	}()

	readerDone := make(chan struct{})
	go s.pumpOutput(readerDone)

	go s.pumpStdin()

	sigCh := make(chan os.Signal, 16)
	signal.Notify(sigCh,
		syscall.SIGWINCH, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP,
		syscall.SIGTSTP, syscall.SIGCONT,
	)
	defer signal.Stop(sigCh)

	var graceTimer *time.Timer
	var graceC <-chan time.Time
	terminating := false

	for {
		select {
		case status := <-childDone:
			<-readerDone
			return s.finish(status)

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGWINCH:
				s.handleResize()
			case syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP:
				name := signalName(sig)
				s.emitFrame(frame.SignalFrame(s.clock.Now(), name))
				if !terminating {
					terminating = true
					_ = host.Signal(sig.(syscall.Signal))
					graceTimer = time.NewTimer(s.cfg.GracePeriod)
					graceC = graceTimer.C
				}
			case syscall.SIGTSTP, syscall.SIGCONT:
				s.emitFrame(frame.SignalFrame(s.clock.Now(), signalName(sig)))
				_ = host.Signal(sig.(syscall.Signal))
			}

		case <-graceC:
			_ = host.Signal(syscall.SIGKILL)
			graceC = nil

		case <-ctx.Done():
			if !terminating {
				terminating = true
				_ = host.Signal(syscall.SIGTERM)
				graceTimer = time.NewTimer(s.cfg.GracePeriod)
				graceC = graceTimer.C
			}
		}
	}
}

// finish runs the common terminal sequence: emit the exit frame, flush and
// close the sink and recorder, and compute the process exit status.
func (s *Supervisor) finish(status ptyhost.ExitStatus) int {
	_ = s.host.CloseMaster()

	s.classifier.Flush()
	s.classifier.Stop()

	ts := s.clock.Now()
	s.emitFrame(frame.ExitFrame(ts, status.Code, status.Signal))

	if s.rec != nil {
		if err := s.rec.Close(); err != nil {
			s.logger.Warn("recorder close failed", "error", err)
		}
	}
	if err := s.sink.Close(); err != nil {
		s.logger.Warn("sink close failed", "error", err)
	}

	if status.Signaled() {
		n := ptyhost.SignalNumber(status.Signal)
		if n <= 0 {
			n = 1
		}
		return 128 + n
	}
	return status.Code
}

func (s *Supervisor) pumpOutput(done chan struct{}) {
	defer close(done)
	buf := make([]byte, readChunkSize)
	master := s.host.Master()

	for {
		n, err := master.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)

			if s.rec != nil {
				s.rec.WriteOutput(chunk)
			}

			if !s.cfg.JSONFrames {
				// No frame consumer: pass the child's raw terminal output
				// straight through, exactly as a plain PTY wrapper would.
				s.out.Write(chunk)
			} else if s.stripper != nil {
				s.classifier.Feed(frame.Stdout, s.stripper.Strip(chunk))
			} else {
				s.classifier.Feed(frame.Stdout, chunk)
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Supervisor) pumpStdin() {
	buf := make([]byte, readChunkSize)
	master := s.host.Master()

	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, werr := master.Write(chunk); werr != nil {
				return
			}
			s.classifier.Activity()
			if s.rec != nil {
				s.rec.WriteInput(chunk)
			}
			if s.cfg.MirrorStdin {
				s.emitFrame(frame.Text(s.clock.Now(), frame.Stdin, string(chunk)))
			}
		}
		if err != nil {
			// Parent stdin reached EOF. There is no portable way to
			// half-close a PTY master's write side independently of its
			// read side, so the pump simply stops forwarding; a child
			// still reading from its stdin will see no further input
			// rather than an EOF signal.
			return
		}
	}
}

func (s *Supervisor) handleResize() {
	cols, rows, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return
	}
	if err := s.host.Resize(cols, rows); err != nil {
		s.logger.Warn("resize failed", "error", err)
		return
	}
	ts := s.clock.Now()
	if s.rec != nil {
		s.rec.WriteResize(cols, rows)
	}
	s.emitFrame(frame.ResizeFrame(ts, cols, rows))
}

func (s *Supervisor) onOverflowStart() {
	s.overflowMu.Lock()
	defer s.overflowMu.Unlock()
	s.overflowTimer = time.AfterFunc(s.cfg.OverflowTimeout, func() {
		s.overflowMu.Lock()
		killed := s.overflowKilled
		if !killed {
			s.overflowKilled = true
		}
		s.overflowMu.Unlock()
		if !killed && s.host != nil {
			s.logger.Warn("sink overflow exceeded timeout, killing child")
			_ = s.host.Signal(syscall.SIGKILL)
		}
	})
}

func (s *Supervisor) onOverflowEnd() {
	s.overflowMu.Lock()
	defer s.overflowMu.Unlock()
	if s.overflowTimer != nil {
		s.overflowTimer.Stop()
		s.overflowTimer = nil
	}
}

func buildEnv(cfg config.Config) []string {
	env := os.Environ()
	hasTerm := false
	for _, kv := range env {
		if len(kv) >= 5 && kv[:5] == "TERM=" {
			hasTerm = true
			break
		}
	}
	if !hasTerm {
		env = append(env, "TERM=xterm-256color")
	}
	env = append(env, fmt.Sprintf("COLUMNS=%d", cfg.Cols), fmt.Sprintf("LINES=%d", cfg.Rows))
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

func recordEnv() map[string]string {
	return map[string]string{
		"TERM":  envOr("TERM", "xterm-256color"),
		"SHELL": envOr("SHELL", ""),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func signalName(sig os.Signal) string {
	if s, ok := sig.(syscall.Signal); ok {
		switch s {
		case syscall.SIGINT:
			return "SIGINT"
		case syscall.SIGTERM:
			return "SIGTERM"
		case syscall.SIGHUP:
			return "SIGHUP"
		case syscall.SIGTSTP:
			return "SIGTSTP"
		case syscall.SIGCONT:
			return "SIGCONT"
		case syscall.SIGWINCH:
			return "SIGWINCH"
		}
	}
	return sig.String()
}
