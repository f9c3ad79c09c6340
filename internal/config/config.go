// Package config holds the typed configuration a Session is built from.
//
// The core never parses command-line flags itself — that's deliberately an
// external collaborator's job (see cmd/spectertty) — but it owns validation:
// turning a filled-in Config into a runnable session, or into a descriptive
// Error the collaborator can print and exit on.
package config

import (
	"fmt"
	"regexp"
	"time"
)

// TokenMode selects the transform applied to PTY output before frames reach
// the sink. The set is sealed: raw, compact, and a reserved parsed variant
// that currently behaves like compact.
type TokenMode string

const (
	ModeRaw     TokenMode = "raw"
	ModeCompact TokenMode = "compact"
	ModeParsed  TokenMode = "parsed"
)

// Defaults mirror the CLI surface in the spec's external-interfaces table.
const (
	DefaultCols            = 120
	DefaultRows            = 40
	DefaultIdleMs          = 200
	DefaultBufferBytes     = 8 * 1024 * 1024
	DefaultOverflowTimeout = 5 * time.Second
	DefaultGracePeriod     = 5 * time.Second
	DefaultSettleMs        = 20
	DefaultBatchBytes      = 512
	DefaultBatchInterval   = 10 * time.Millisecond
)

// Config is the sole input the core accepts to build and run a Session.
// Everything the spec designates an external collaborator's concern — flag
// parsing, help text, sandboxing — ends here as plain fields.
type Config struct {
	// Command and Args describe the child to spawn under the PTY.
	Command string
	Args    []string

	// Env is extra environment to layer on top of the parent's environment;
	// TERM/COLUMNS/LINES are applied separately from the resolved geometry.
	Env map[string]string

	// Cols and Rows are the initial PTY geometry.
	Cols int
	Rows int

	// JSONFrames enables newline-delimited JSON frame emission on stdout.
	JSONFrames bool

	// TokenMode selects the output transform.
	TokenMode TokenMode

	// RecordPath is the asciinema-v2 cast file path; empty disables
	// recording.
	RecordPath string

	// IdleTimeout is how long output must be quiescent before an idle frame
	// fires.
	IdleTimeout time.Duration

	// PromptPatterns are tested, in order, against the tail of each line.
	PromptPatterns []string

	// MirrorStdin, when true, emits a stdin frame for every chunk of input
	// mirrored to the PTY master in addition to writing it.
	MirrorStdin bool

	// BufferBytes bounds the Frame Sink's pending-payload queue.
	BufferBytes int

	// OverflowTimeout is how long a sustained sink overflow is tolerated
	// before the supervisor kills the child.
	OverflowTimeout time.Duration

	// GracePeriod is how long a terminated child is given to exit before
	// SIGKILL follows.
	GracePeriod time.Duration

	// Verbose enables human-readable diagnostics on stderr.
	Verbose bool
}

// Default returns a Config with the spec's documented defaults; callers
// still need to set Command before running it.
func Default() Config {
	return Config{
		Cols:            DefaultCols,
		Rows:            DefaultRows,
		TokenMode:       ModeRaw,
		IdleTimeout:     DefaultIdleMs * time.Millisecond,
		BufferBytes:     DefaultBufferBytes,
		OverflowTimeout: DefaultOverflowTimeout,
		GracePeriod:     DefaultGracePeriod,
	}
}

// Error reports a configuration problem detected before any session is
// created. cmd/spectertty maps it to exit code 2.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s", e.Reason)
}

// Validate checks the config for the invalid combinations the spec calls
// out (impossible geometry, unparseable regex, missing command) and
// compiles the prompt patterns so callers don't pay the cost twice.
func (c *Config) Validate() ([]*regexp.Regexp, error) {
	if c.Command == "" {
		return nil, &Error{Reason: "no command given to spawn"}
	}
	if c.Cols < 1 || c.Rows < 1 {
		return nil, &Error{Reason: fmt.Sprintf("impossible geometry %dx%d", c.Cols, c.Rows)}
	}
	switch c.TokenMode {
	case ModeRaw, ModeCompact, ModeParsed:
	default:
		return nil, &Error{Reason: fmt.Sprintf("unknown token mode %q", c.TokenMode)}
	}
	if c.BufferBytes <= 0 {
		return nil, &Error{Reason: "buffer size must be positive"}
	}

	patterns := make([]*regexp.Regexp, 0, len(c.PromptPatterns))
	for _, p := range c.PromptPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, &Error{Reason: fmt.Sprintf("invalid prompt regex %q: %v", p, err)}
		}
		patterns = append(patterns, re)
	}

	return patterns, nil
}

// Compact reports whether the selected token mode applies the compact
// transform. parsed is reserved and currently an alias for compact.
func (m TokenMode) Compact() bool {
	return m == ModeCompact || m == ModeParsed
}
