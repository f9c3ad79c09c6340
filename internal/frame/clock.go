package frame

import (
	"sync"
	"time"
)

// Clock hands out frame timestamps as floating-point seconds since the Unix
// epoch. It guarantees the sequence is monotonically non-decreasing even if
// the wall clock is stepped backwards underneath it (NTP adjustment, VM
// migration), which the session invariants require.
type Clock struct {
	mu   sync.Mutex
	last float64
}

// NewClock returns a Clock anchored to the current wall-clock time.
func NewClock() *Clock {
	return &Clock{}
}

// Now returns the current timestamp, never smaller than the previous value
// returned.
func (c *Clock) Now() float64 {
	ts := float64(time.Now().UnixNano()) / 1e9

	c.mu.Lock()
	defer c.mu.Unlock()
	if ts <= c.last {
		// Clock stalled or stepped back; nudge forward by a sub-millisecond
		// epsilon so ordering invariants still hold.
		ts = c.last + 1e-6
	}
	c.last = ts
	return ts
}

// StartTime is used by the recorder, which needs elapsed-since-start rather
// than epoch seconds.
type StartTime struct {
	at time.Time
}

// NewStartTime captures now as the reference point for elapsed-time events.
func NewStartTime() StartTime {
	return StartTime{at: time.Now()}
}

// Unix returns the reference point as Unix seconds.
func (s StartTime) Unix() int64 {
	return s.at.Unix()
}

// Elapsed returns seconds since the reference point.
func (s StartTime) Elapsed() float64 {
	return time.Since(s.at).Seconds()
}
