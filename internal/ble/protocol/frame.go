// Package protocol implements the scooter's UART wire format: checksummed
// frames fragmented to the BLE MTU, and the register command messages
// carried inside the secure channel.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame layout: magic (2) | len (1) | payload (len) | checksum (2, LE).
const (
	HeaderSize   = 3
	TrailerSize  = 2
	Overhead     = HeaderSize + TrailerSize
	MaxFrameData = 255

	// DefaultMTU matches the 20-byte writes the scooter firmware expects.
	DefaultMTU = 20
)

// Magic is the preamble every frame starts with.
var Magic = [2]byte{0x5A, 0xA5}

// ErrFraming is the sentinel wrapped by every FramingError.
var ErrFraming = errors.New("protocol: framing error")

// FramingError reports corrupt or undecodable bytes on the wire.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return "protocol: framing error: " + e.Reason
}

func (e *FramingError) Unwrap() error { return ErrFraming }

// Frame is one integrity-checked payload reassembled from the wire.
type Frame struct {
	Payload []byte
}

// Checksum returns the 16-bit sum of b XORed with 0xFFFF.
func Checksum(b []byte) uint16 {
	var sum uint16
	for _, c := range b {
		sum += uint16(c)
	}
	return sum ^ 0xFFFF
}

// Codec turns payloads into MTU-sized wire chunks and reassembles
// incoming notifications into frames. It is not safe for concurrent use;
// the owner of the receive stream drives it.
type Codec struct {
	mtu    int
	maxLen int
	buf    []byte
}

// NewCodec returns a codec fragmenting to mtu bytes. A non-positive mtu
// falls back to DefaultMTU.
func NewCodec(mtu int) *Codec {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	return &Codec{mtu: mtu, maxLen: MaxFrameData}
}

// MTU returns the chunk size used by Encode.
func (c *Codec) MTU() int { return c.mtu }

// Encode wraps payload in a frame and splits it into chunks of at most
// MTU bytes.
func (c *Codec) Encode(payload []byte) ([][]byte, error) {
	if len(payload) > MaxFrameData {
		return nil, fmt.Errorf("protocol: payload too large: %d > %d", len(payload), MaxFrameData)
	}

	frame := make([]byte, 0, len(payload)+Overhead)
	frame = append(frame, Magic[:]...)
	frame = append(frame, byte(len(payload)))
	frame = append(frame, payload...)
	frame = binary.LittleEndian.AppendUint16(frame, Checksum(frame[2:]))

	chunks := make([][]byte, 0, (len(frame)+c.mtu-1)/c.mtu)
	for len(frame) > 0 {
		n := min(c.mtu, len(frame))
		chunks = append(chunks, frame[:n:n])
		frame = frame[n:]
	}
	return chunks, nil
}

// Feed appends a transport chunk to the reassembly buffer and returns every
// frame it completes. On a FramingError the buffer is discarded.
func (c *Codec) Feed(chunk []byte) ([]Frame, error) {
	c.buf = append(c.buf, chunk...)

	var frames []Frame
	for len(c.buf) > 0 {
		// Validate the magic as soon as its bytes arrive.
		n := min(len(c.buf), len(Magic))
		if !bytes.Equal(c.buf[:n], Magic[:n]) {
			return frames, c.fail(fmt.Sprintf("bad magic % X", c.buf[:n]))
		}
		if len(c.buf) < HeaderSize {
			break
		}

		size := int(c.buf[2])
		if size > c.maxLen {
			return frames, c.fail(fmt.Sprintf("declared length %d exceeds %d", size, c.maxLen))
		}
		total := HeaderSize + size + TrailerSize
		if len(c.buf) < total {
			break
		}

		want := binary.LittleEndian.Uint16(c.buf[HeaderSize+size:])
		if got := Checksum(c.buf[2 : HeaderSize+size]); got != want {
			return frames, c.fail(fmt.Sprintf("checksum 0x%04X, want 0x%04X", got, want))
		}

		payload := make([]byte, size)
		copy(payload, c.buf[HeaderSize:HeaderSize+size])
		frames = append(frames, Frame{Payload: payload})
		c.buf = c.buf[total:]
	}

	if len(c.buf) == 0 {
		c.buf = nil
	}
	return frames, nil
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (c *Codec) Buffered() int { return len(c.buf) }

// Reset drops any partially reassembled frame.
func (c *Codec) Reset() { c.buf = nil }

func (c *Codec) fail(reason string) error {
	c.buf = nil
	return &FramingError{Reason: reason}
}
