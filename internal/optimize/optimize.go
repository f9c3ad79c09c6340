// Package optimize implements the compact token-mode transform: stripping
// terminal control sequences from PTY output before it reaches the Frame
// Classifier.
//
// The stripper is a small incremental state machine rather than a one-shot
// string filter, because PTY reads chunk output at arbitrary byte
// boundaries and a CSI or OSC sequence can straddle two reads. State carries
// across Strip calls so a sequence split mid-escape resolves correctly on
// the following chunk, the same way a vt100 parser carries emulator state
// across Process calls.
package optimize

// scanState is which part of an escape sequence the stripper is currently
// inside, if any.
type scanState int

const (
	stateText scanState = iota
	stateEsc            // saw ESC, waiting to see what kind of sequence follows
	stateCSI             // inside CSI ESC [ ... until a final byte in 0x40-0x7E
	stateOSC             // inside OSC ESC ] ... until BEL or ESC \
	stateOSCEsc          // inside OSC, just saw ESC, expecting \ to terminate
)

const (
	esc = 0x1b
	bel = 0x07
)

// Stripper removes CSI sequences, OSC sequences, and single-character
// escapes from a byte stream, passing through printable characters, tabs,
// newlines, and carriage returns untouched.
type Stripper struct {
	state scanState
}

// NewStripper returns a Stripper ready to filter the start of a stream.
func NewStripper() *Stripper {
	return &Stripper{state: stateText}
}

// Strip filters data and returns the printable bytes it contains, carrying
// any in-progress escape sequence into the next call.
func (s *Stripper) Strip(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		switch s.state {
		case stateText:
			if b == esc {
				s.state = stateEsc
				continue
			}
			out = append(out, b)

		case stateEsc:
			switch b {
			case '[':
				s.state = stateCSI
			case ']':
				s.state = stateOSC
			default:
				// Single-character escape (e.g. ESC M, ESC 7): consumed and
				// dropped, back to plain text.
				s.state = stateText
			}

		case stateCSI:
			if b >= 0x40 && b <= 0x7e {
				s.state = stateText
			}

		case stateOSC:
			switch b {
			case bel:
				s.state = stateText
			case esc:
				s.state = stateOSCEsc
			}

		case stateOSCEsc:
			if b == '\\' {
				s.state = stateText
			} else {
				// Not a valid ST terminator; treat as still inside the OSC
				// body rather than losing track of the sequence.
				s.state = stateOSC
			}
		}
	}
	return out
}

// InSequence reports whether the stripper currently holds unresolved escape
// state, useful for diagnostics when a session ends mid-sequence.
func (s *Stripper) InSequence() bool {
	return s.state != stateText
}
