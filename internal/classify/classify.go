// Package classify turns raw PTY output chunks into the typed frame
// sequence: UTF-8-safe text (or base64 binary) framing, idle detection,
// prompt-regex matching against the current line, and, in compact token
// mode, carriage-return-driven line_update coalescing and output batching.
//
// Timers are polled rather than driven by per-event goroutine timers
// (idle, settle, and batch deadlines are all plain time.Time values checked
// on a shared ticker), which keeps the state machine single-threaded and
// its firing order easy to reason about under the same mutex that Feed
// uses.
package classify

import (
	"regexp"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/spectertty/spectertty/internal/frame"
)

const tickInterval = 5 * time.Millisecond

// maxCarry is the longest an unresolved UTF-8 suffix is allowed to grow
// before it is flushed as binary data instead of held for more bytes.
const maxCarry = 4

// Config selects the classifier's behavior; it is a narrow read of
// config.Config so this package doesn't import the CLI-facing config type.
type Config struct {
	Compact        bool
	Patterns       []*regexp.Regexp
	IdleTimeout    time.Duration
	SettleInterval time.Duration
	BatchBytes     int
	BatchInterval  time.Duration
}

// Classifier consumes chunks from one direction of PTY traffic (typically
// just stdout, since a PTY multiplexes stdout/stderr onto one channel) and
// emits frames through Emit.
type Classifier struct {
	cfg   Config
	clock *frame.Clock
	emit  func(frame.Frame)

	mu sync.Mutex

	carry []byte

	line          []byte
	lineBatchLen  int
	overwriting   bool
	pendingCR     bool
	promptEmitted bool

	batch          []byte
	batchDeadline  time.Time
	settleDeadline time.Time
	idleDeadline   time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Classifier that calls emit for every frame it produces.
// clock supplies monotonic timestamps; emit must be safe to call from the
// classifier's internal ticker goroutine as well as from Feed.
func New(cfg Config, clock *frame.Clock, emit func(frame.Frame)) *Classifier {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 200 * time.Millisecond
	}
	if cfg.SettleInterval <= 0 {
		cfg.SettleInterval = 20 * time.Millisecond
	}
	if cfg.BatchBytes <= 0 {
		cfg.BatchBytes = 512
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = 10 * time.Millisecond
	}

	c := &Classifier{
		cfg:   cfg,
		clock: clock,
		emit:  emit,
		stop:  make(chan struct{}),
	}
	c.idleDeadline = time.Now().Add(cfg.IdleTimeout)

	c.wg.Add(1)
	go c.run()
	return c
}

// Stop halts the ticker goroutine. It does not flush pending state; callers
// should call Flush first if final frames are wanted.
func (c *Classifier) Stop() {
	close(c.stop)
	c.wg.Wait()
}

func (c *Classifier) run() {
	defer c.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.tick()
		case <-c.stop:
			return
		}
	}
}

func (c *Classifier) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()

	if !c.idleDeadline.IsZero() && now.After(c.idleDeadline) {
		c.emitLocked(frame.IdleFrame(c.clock.Now(), int(c.cfg.IdleTimeout/time.Millisecond)))
		c.idleDeadline = time.Time{}
	}

	if c.overwriting && !c.settleDeadline.IsZero() && now.After(c.settleDeadline) {
		c.flushLineUpdateLocked()
		c.overwriting = false
		c.settleDeadline = time.Time{}
	}

	if len(c.batch) > 0 && !c.batchDeadline.IsZero() && now.After(c.batchDeadline) {
		c.flushBatchLocked()
	}
}

// Activity rearms the idle timer without feeding any bytes; the Stdin Pump
// calls this so keyboard input also counts as activity.
func (c *Classifier) Activity() {
	c.mu.Lock()
	c.idleDeadline = time.Now().Add(c.cfg.IdleTimeout)
	c.mu.Unlock()
}

// Feed processes a chunk of raw bytes read from the PTY master. typ is
// Stdout or Stderr; PTY mode multiplexes both onto one channel, so callers
// that can't distinguish should pass Stdout.
func (c *Classifier) Feed(typ frame.Type, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.idleDeadline = time.Now().Add(c.cfg.IdleTimeout)

	combined := append(c.carry, data...)
	validLen, carryLen := splitValidUTF8(combined)
	text := combined[:validLen]
	newCarry := combined[validLen : validLen+carryLen]

	if carryLen > maxCarry {
		ts := c.clock.Now()
		c.emitLocked(frame.BinaryFrame(ts, typ, newCarry))
		newCarry = nil
	}
	c.carry = append([]byte(nil), newCarry...)

	if len(text) == 0 {
		return
	}

	if !c.cfg.Compact {
		c.emitLocked(frame.AutoText(c.clock.Now(), typ, text))
		for _, b := range text {
			c.trackLine(b)
		}
		c.checkPrompt()
		return
	}

	for _, b := range text {
		// A PTY turns every LF the child writes into CRLF, so a CR only
		// starts an in-place overwrite when something other than LF follows
		// it; the decision waits for the next byte, even across chunks.
		if c.pendingCR {
			c.pendingCR = false
			if b != '\n' {
				c.feedCompactByte('\r')
			}
		}
		if b == '\r' {
			c.pendingCR = true
			continue
		}
		c.feedCompactByte(b)
	}
}

// feedCompactByte applies the CR-collapse and batching rules to a single
// byte in compact mode; it is called with c.mu already held. Compact mode
// treats the PTY's single output channel uniformly, so batched frames are
// always emitted as Stdout.
func (c *Classifier) feedCompactByte(b byte) {
	switch b {
	case '\r':
		// Bytes of the current line may already sit in the batch buffer,
		// provisionally written before we knew a CR was coming. Retract
		// them before they flush as stdout; a progress bar's intermediate
		// states should never reach the sink as plain text.
		if c.lineBatchLen > 0 && c.lineBatchLen <= len(c.batch) {
			c.batch = c.batch[:len(c.batch)-c.lineBatchLen]
			if len(c.batch) == 0 {
				c.batchDeadline = time.Time{}
			}
		}
		c.lineBatchLen = 0
		c.overwriting = true
		c.line = c.line[:0]
		c.settleDeadline = time.Now().Add(c.cfg.SettleInterval)
		c.promptEmitted = false

	case '\n':
		if c.overwriting {
			c.flushLineUpdateLocked()
			c.overwriting = false
			c.settleDeadline = time.Time{}
		} else {
			if len(c.batch) == 0 {
				c.batchDeadline = time.Now().Add(c.cfg.BatchInterval)
			}
			c.batch = append(c.batch, '\n')
			c.flushBatchLocked()
		}
		c.line = c.line[:0]
		c.lineBatchLen = 0
		c.promptEmitted = false

	default:
		c.line = append(c.line, b)
		if !c.overwriting {
			if len(c.batch) == 0 {
				c.batchDeadline = time.Now().Add(c.cfg.BatchInterval)
			}
			c.batch = append(c.batch, b)
			c.lineBatchLen++
			if len(c.batch) >= c.cfg.BatchBytes {
				c.flushBatchLocked()
			}
		}
		c.checkPrompt()
	}
}

// trackLine updates the line buffer used for prompt matching in raw mode,
// where output is emitted verbatim and CR is not treated as a rewrite.
func (c *Classifier) trackLine(b byte) {
	switch b {
	case '\n':
		c.line = c.line[:0]
		c.promptEmitted = false
	case '\r':
		c.line = c.line[:0]
		c.promptEmitted = false
	default:
		c.line = append(c.line, b)
	}
}

func (c *Classifier) checkPrompt() {
	if c.promptEmitted || len(c.cfg.Patterns) == 0 {
		return
	}
	line := string(c.line)
	for _, re := range c.cfg.Patterns {
		if re.MatchString(line) {
			c.emitLocked(frame.PromptFrame(c.clock.Now(), line, re.String()))
			c.promptEmitted = true
			return
		}
	}
}

func (c *Classifier) flushLineUpdateLocked() {
	c.emitLocked(frame.Text(c.clock.Now(), frame.LineUpdate, string(c.line)))
	c.checkPrompt()
}

func (c *Classifier) flushBatchLocked() {
	if len(c.batch) == 0 {
		return
	}
	c.emitLocked(frame.AutoText(c.clock.Now(), frame.Stdout, c.batch))
	c.batch = nil
	c.batchDeadline = time.Time{}
	c.lineBatchLen = 0
}

// Flush forces out any pending batch, line_update, or unresolved UTF-8
// carry; callers use this when the Output Reader observes the child is
// gone so partial state isn't silently lost.
func (c *Classifier) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.overwriting {
		c.flushLineUpdateLocked()
		c.overwriting = false
	}
	c.flushBatchLocked()
	if len(c.carry) > 0 {
		c.emitLocked(frame.BinaryFrame(c.clock.Now(), frame.Stdout, c.carry))
		c.carry = nil
	}
}

func (c *Classifier) emitLocked(f frame.Frame) {
	c.emit(f)
}

// splitValidUTF8 returns the length of the longest valid UTF-8 prefix of b
// and the length of the unresolved suffix that follows it.
func splitValidUTF8(b []byte) (validLen, carryLen int) {
	if len(b) == 0 {
		return 0, 0
	}
	i := 0
	for i < len(b) {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			// Either a genuinely invalid byte or an incomplete sequence at
			// the tail. Only treat it as "incomplete" (carry) if it could
			// still be the start of a valid multi-byte rune and we're at
			// the end of the buffer.
			if i == len(b)-1 && isIncompleteStart(b[i]) {
				return i, len(b) - i
			}
			if remaining := len(b) - i; remaining <= 3 && incompleteTail(b[i:]) {
				return i, remaining
			}
			// A genuinely invalid byte mid-buffer: treat it as consumed so
			// we don't stall forever on bad input.
			i++
			continue
		}
		i += size
	}
	return i, 0
}

// isIncompleteStart reports whether b could begin a multi-byte UTF-8
// sequence (i.e. it isn't itself a malformed lead byte).
func isIncompleteStart(b byte) bool {
	return b >= 0xC0
}

// incompleteTail reports whether tail looks like the start of a multi-byte
// sequence that simply hasn't received all of its continuation bytes yet.
func incompleteTail(tail []byte) bool {
	lead := tail[0]
	var want int
	switch {
	case lead >= 0xF0:
		want = 4
	case lead >= 0xE0:
		want = 3
	case lead >= 0xC0:
		want = 2
	default:
		return false
	}
	if want <= len(tail) {
		return false
	}
	for _, b := range tail[1:] {
		if b < 0x80 || b >= 0xC0 {
			return false
		}
	}
	return true
}
