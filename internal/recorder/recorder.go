// Package recorder writes an asciinema-v2 cast file alongside frame
// emission. Recordings always capture the raw PTY byte stream — never the
// token-optimized transform — so a cast replays exactly what the terminal
// would have shown.
//
// Grounded on the asciinema stream-writer pattern used for session capture:
// a single JSON header line followed by newline-delimited [time, code,
// data] event arrays.
package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/spectertty/spectertty/internal/frame"
)

// eventCode is the asciinema v2 single-character event discriminator.
type eventCode string

const (
	codeOutput eventCode = "o"
	codeInput  eventCode = "i"
	codeResize eventCode = "r"
)

// header is the single JSON object that opens a cast file.
type header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
}

// Recorder appends [elapsed, code, data] events to a cast file. It is safe
// for concurrent use; one goroutine typically calls WriteOutput while
// another calls WriteInput or WriteResize.
type Recorder struct {
	mu       sync.Mutex
	w        *bufio.Writer
	file     io.Closer
	start    frame.StartTime
	logger   *slog.Logger
	disabled bool
}

// New creates path, writes the asciinema-v2 header, and returns a Recorder
// ready to accept events. start anchors elapsed-time fields; it should be
// the same reference point the session's frame clock uses.
func New(path string, cols, rows int, env map[string]string, start frame.StartTime, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: create %s: %w", path, err)
	}

	r := &Recorder{
		w:      bufio.NewWriter(f),
		file:   f,
		start:  start,
		logger: logger,
	}

	h := header{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: start.Unix(),
		Env:       env,
	}
	if err := r.writeLine(h); err != nil {
		f.Close()
		return nil, fmt.Errorf("recorder: write header: %w", err)
	}

	return r, nil
}

// WriteOutput records a chunk of raw PTY output.
func (r *Recorder) WriteOutput(data []byte) {
	r.writeEvent(codeOutput, string(data))
}

// WriteInput records a chunk of raw stdin mirrored to the PTY.
func (r *Recorder) WriteInput(data []byte) {
	r.writeEvent(codeInput, string(data))
}

// WriteResize records a geometry change as "cols x rows".
func (r *Recorder) WriteResize(cols, rows int) {
	r.writeEvent(codeResize, fmt.Sprintf("%d x %d", cols, rows))
}

// writeEvent appends one [elapsed, code, data] array. A write failure
// disables the recorder for the rest of the session per the spec: recorder
// I/O errors are diagnostic-only and never abort the session.
func (r *Recorder) writeEvent(code eventCode, data string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disabled {
		return
	}

	event := [3]interface{}{r.start.Elapsed(), code, data}
	err := r.encode(event)
	if err == nil {
		// Flush per event so a failing file surfaces here rather than only
		// at Close.
		err = r.w.Flush()
	}
	if err != nil {
		r.logger.Warn("recorder write failed, disabling for remainder of session", "error", err)
		r.disabled = true
	}
}

func (r *Recorder) writeLine(v interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.encode(v)
}

func (r *Recorder) encode(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := r.w.Write(data); err != nil {
		return err
	}
	return r.w.WriteByte('\n')
}

// Close flushes buffered events and closes the underlying file. Safe to
// call even if the recorder has already been disabled by a write failure.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	flushErr := r.w.Flush()
	closeErr := r.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
