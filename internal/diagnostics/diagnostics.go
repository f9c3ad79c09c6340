// Package diagnostics writes human-readable, styled messages to stderr.
// Stdout is reserved for JSON frames; the styled human-readable lines —
// spawn failures, config errors, recorder failures, verbose-only Info
// lines — go through here instead. Structured log records go to stderr
// through log/slog, not through this package.
//
// Styling follows the lipgloss palette the hub's TUI used for its status
// text, scaled down to single stderr lines rather than a full screen
// layout.
package diagnostics

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("203"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// Writer emits styled diagnostic lines. Verbose gates Info; Error and Warn
// always print.
type Writer struct {
	out     io.Writer
	verbose bool
}

// New creates a Writer over out (typically os.Stderr).
func New(out io.Writer, verbose bool) *Writer {
	return &Writer{out: out, verbose: verbose}
}

// Stderr is the default Writer used by package-level helpers.
var Stderr = New(os.Stderr, false)

// SetVerbose toggles whether Stderr.Info prints.
func SetVerbose(v bool) {
	Stderr.verbose = v
}

// Error prints a styled failure line. Used for spawn and config errors that
// abort the process.
func (w *Writer) Error(format string, args ...interface{}) {
	fmt.Fprintln(w.out, errorStyle.Render("spectertty: "+fmt.Sprintf(format, args...)))
}

// Warn prints a styled non-fatal diagnostic, e.g. a recorder I/O failure.
func (w *Writer) Warn(format string, args ...interface{}) {
	fmt.Fprintln(w.out, warnStyle.Render("spectertty: "+fmt.Sprintf(format, args...)))
}

// Info prints a styled trace line, only when verbose mode is on.
func (w *Writer) Info(format string, args ...interface{}) {
	if !w.verbose {
		return
	}
	fmt.Fprintln(w.out, infoStyle.Render(fmt.Sprintf(format, args...)))
}

func Error(format string, args ...interface{}) { Stderr.Error(format, args...) }
func Warn(format string, args ...interface{})  { Stderr.Warn(format, args...) }
func Info(format string, args ...interface{})  { Stderr.Info(format, args...) }
