package tf1

import "fmt"

// AssemblerCapacity is the reassembly buffer size. A frame whose declared
// length exceeds it is treated as a corrupt stream.
const AssemblerCapacity = 1024

// Assembler reassembles possibly-fragmented notification payloads into
// complete TF1 frames. Fragments arrive in order; once the declared frame
// length (LE16 at offset 4, plus the 2-byte head/length overhead) is
// buffered, one complete frame is emitted and the buffer resets.
type Assembler struct {
	buf      [AssemblerCapacity]byte
	n        int
	expected int
}

// Feed appends one notification payload. It returns a complete frame once
// the declared length is satisfied, or nil while more fragments are
// needed. A non-nil error means the stream lost sync (overflow or an
// impossible declared length) and all buffered bytes were discarded.
//
// The returned frame is a copy and remains valid across further feeds.
// Any bytes in the same delivery beyond the completed frame are dropped;
// the fixture never packs two frames into one notification.
func (a *Assembler) Feed(p []byte) ([]byte, error) {
	if len(p) == 0 {
		return nil, nil
	}
	if a.n+len(p) > AssemblerCapacity {
		a.Reset()
		return nil, fmt.Errorf("tf1: reassembly overflow, dropping partial frame")
	}
	copy(a.buf[a.n:], p)
	a.n += len(p)

	if a.expected == 0 && a.n >= 6 {
		a.expected = int(a.buf[4]) | int(a.buf[5])<<8
		a.expected += 2
		if a.expected > AssemblerCapacity {
			declared := a.expected
			a.Reset()
			return nil, fmt.Errorf("tf1: invalid declared frame length %d", declared)
		}
	}

	if a.expected > 0 && a.n >= a.expected {
		frame := make([]byte, a.expected)
		copy(frame, a.buf[:a.expected])
		a.Reset()
		return frame, nil
	}
	return nil, nil
}

// Pending reports how many bytes are buffered awaiting frame completion.
func (a *Assembler) Pending() int {
	return a.n
}

// Reset discards all buffered bytes and the expected-length marker.
func (a *Assembler) Reset() {
	a.n = 0
	a.expected = 0
}
