// Package sink serializes frames to a single output stream as
// newline-delimited JSON, providing the back-pressure the rest of the
// pipeline relies on: a bounded pending-payload budget with a single
// escape hatch (an overflow frame) instead of blocking the session forever.
package sink

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spectertty/spectertty/internal/frame"
)

// EnqueueDeadline is how long Emit blocks trying to make room in the queue
// before giving up and surfacing an overflow frame.
const EnqueueDeadline = 100 * time.Millisecond

const pollInterval = 2 * time.Millisecond

// Sink serializes frames to w, one JSON object per line. A single writer
// goroutine owns w so concurrent Emit callers never interleave partial
// lines.
type Sink struct {
	w      *bufio.Writer
	maxBuf int64

	pending int64 // atomic: bytes queued but not yet written

	queue chan []byte

	mu         sync.Mutex
	overflowed bool

	onOverflowStart func()
	onOverflowEnd   func()

	wg   sync.WaitGroup
	done chan struct{}
}

// Option configures optional overflow-episode callbacks the supervisor uses
// to drive the overflow_timeout grace window.
type Option func(*Sink)

// WithOverflowCallbacks registers functions invoked when a sustained
// overflow episode starts and ends.
func WithOverflowCallbacks(onStart, onEnd func()) Option {
	return func(s *Sink) {
		s.onOverflowStart = onStart
		s.onOverflowEnd = onEnd
	}
}

// New creates a Sink writing to w with a queue budgeted at maxBufBytes of
// pending payload.
func New(w io.Writer, maxBufBytes int, opts ...Option) *Sink {
	s := &Sink{
		w:      bufio.NewWriter(w),
		maxBuf: int64(maxBufBytes),
		queue:  make(chan []byte, 4096),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.writeLoop()
	return s
}

// Emit serializes f and enqueues it for writing. If the queue is full, Emit
// blocks up to EnqueueDeadline trying to make room; on expiry it emits a
// single overflow frame and drops f (and everything else) until the queue
// has drained, at which point normal emission resumes.
func (s *Sink) Emit(f frame.Frame) error {
	data, err := f.Marshal()
	if err != nil {
		return fmt.Errorf("sink: marshal frame: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	dropping := s.overflowed
	s.mu.Unlock()
	if dropping {
		if s.drained() {
			s.endOverflow()
		} else {
			return nil
		}
	}

	if s.reserve(int64(len(data)), EnqueueDeadline) {
		s.queue <- data
		return nil
	}

	s.beginOverflow()
	overflow, err := frame.OverflowFrame(f.Ts, "buffer").Marshal()
	if err != nil {
		return err
	}
	overflow = append(overflow, '\n')
	// The overflow frame itself is exempt from the budget check: the
	// session must be told it's shedding data even while full.
	atomic.AddInt64(&s.pending, int64(len(overflow)))
	s.queue <- overflow
	return nil
}

// reserve attempts to add n bytes to the pending budget, waiting up to
// deadline for room to free up.
func (s *Sink) reserve(n int64, deadline time.Duration) bool {
	expires := time.Now().Add(deadline)
	for {
		if atomic.LoadInt64(&s.pending)+n <= s.maxBuf {
			atomic.AddInt64(&s.pending, n)
			return true
		}
		if time.Now().After(expires) {
			return false
		}
		time.Sleep(pollInterval)
	}
}

func (s *Sink) drained() bool {
	return atomic.LoadInt64(&s.pending) <= s.maxBuf/2
}

func (s *Sink) beginOverflow() {
	s.mu.Lock()
	already := s.overflowed
	s.overflowed = true
	s.mu.Unlock()
	if !already && s.onOverflowStart != nil {
		s.onOverflowStart()
	}
}

func (s *Sink) endOverflow() {
	s.mu.Lock()
	was := s.overflowed
	s.overflowed = false
	s.mu.Unlock()
	if was && s.onOverflowEnd != nil {
		s.onOverflowEnd()
	}
}

// Overflowing reports whether the sink is currently in a dropping episode.
func (s *Sink) Overflowing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflowed
}

func (s *Sink) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case data, ok := <-s.queue:
			if !ok {
				return
			}
			s.w.Write(data)
			atomic.AddInt64(&s.pending, -int64(len(data)))
		case <-s.done:
			// Drain whatever is already queued before exiting so a final
			// exit frame emitted just before shutdown isn't lost.
			for {
				select {
				case data := <-s.queue:
					s.w.Write(data)
					atomic.AddInt64(&s.pending, -int64(len(data)))
				default:
					return
				}
			}
		}
	}
}

// Close stops accepting new writes, flushes whatever is queued, and flushes
// the underlying writer.
func (s *Sink) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.w.Flush()
}
