// Package tf1 implements the TF1 transfer protocol spoken by NF-F2
// fixtures: encoding of the handshake and chunk frames, decoding of the
// fixture's acknowledgment frames, and reassembly of fragmented
// notification payloads.
package tf1

import (
	"encoding/binary"
	"fmt"
)

// Frame envelope constants per the NF-F2 firmware.
const (
	// FrameHead is the frame start marker (0xAA).
	FrameHead = 0xAA

	// FrameTail is the marker at byte 3 of every frame (0x5A).
	FrameTail = 0x5A

	// CmdHandshake announces a transfer and its total payload length.
	CmdHandshake = 17

	// CmdChunk carries one slice of the payload.
	CmdChunk = 18

	// HeaderSize is the fixed frame header:
	// head(1) + cmd(1) + reserved(1) + tail(1) + length(2) + seq(2) + tag(4).
	HeaderSize = 12

	// HandshakeSize is the fixed handshake frame size:
	// header + total payload length (LE32).
	HandshakeSize = 16

	// MinAckSize is the smallest acknowledgment frame the fixture sends.
	MinAckSize = 10

	// MaxChunkFrame bounds an encoded chunk frame regardless of the
	// cache length the fixture advertises.
	MaxChunkFrame = 600
)

// Protocol tag carried at bytes 8-11 of every outbound frame.
var tag = [4]byte{'T', 'F', '1', 0}

// EncodeHandshake builds the 16-byte handshake frame declaring the total
// payload length to transfer.
func EncodeHandshake(totalLen uint32) []byte {
	frame := make([]byte, HandshakeSize)
	frame[0] = FrameHead
	frame[1] = CmdHandshake
	frame[2] = 0
	frame[3] = FrameTail
	binary.LittleEndian.PutUint16(frame[4:6], HandshakeSize)
	binary.LittleEndian.PutUint16(frame[6:8], 0)
	copy(frame[8:12], tag[:])
	binary.LittleEndian.PutUint32(frame[12:16], totalLen)
	return frame
}

// EncodeChunk builds a chunk frame carrying one payload slice.
func EncodeChunk(seq uint16, payload []byte) []byte {
	frame := make([]byte, HeaderSize+len(payload))
	frame[0] = FrameHead
	frame[1] = CmdChunk
	frame[2] = 0
	frame[3] = FrameTail
	binary.LittleEndian.PutUint16(frame[4:6], uint16(len(frame)))
	binary.LittleEndian.PutUint16(frame[6:8], seq)
	copy(frame[8:12], tag[:])
	copy(frame[HeaderSize:], payload)
	return frame
}

// Ack is a decoded acknowledgment frame from the fixture.
type Ack struct {
	Cmd    byte
	Status byte

	// CacheLength is the fixture's receive-buffer capacity, present only
	// in handshake acknowledgments.
	CacheLength uint16
}

// DecodeAck parses an acknowledgment frame. Frames shorter than
// MinAckSize are malformed.
func DecodeAck(frame []byte) (Ack, error) {
	if len(frame) < MinAckSize {
		return Ack{}, fmt.Errorf("tf1: ack frame too short: %d bytes", len(frame))
	}
	ack := Ack{
		Cmd:    frame[1],
		Status: frame[6],
	}
	if ack.Cmd == CmdHandshake {
		ack.CacheLength = binary.LittleEndian.Uint16(frame[8:10])
	}
	return ack, nil
}
