// Package channel implements the secure channel: per-message encryption
// on top of the frame codec, with sequence numbers for replay protection.
//
// Wire message: session tag (4) | sealed(plaintext || seq (4, LE)).
package channel

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chaz8081/scooter-ble/internal/ble/crypto"
	"github.com/chaz8081/scooter-ble/internal/ble/protocol"
)

const seqSize = 4

var (
	// ErrChannel marks failures that close the channel.
	ErrChannel = errors.New("channel: closed")
	// ErrReplay marks a well-tagged message with a stale sequence number.
	ErrReplay = errors.New("channel: replayed message")
	// ErrTooLarge is returned by Send for plaintexts that cannot fit a frame.
	ErrTooLarge = errors.New("channel: plaintext too large")
)

// ReplayError carries the offending sequence number.
type ReplayError struct {
	Seq       uint32
	HighWater uint32
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("channel: replayed message: seq %d <= high-water mark %d", e.Seq, e.HighWater)
}

func (e *ReplayError) Unwrap() error { return ErrReplay }

// WriteFunc forwards one wire chunk to the transport.
type WriteFunc func(chunk []byte) error

// Channel wraps a codec and a session. Like the codec, it is driven by a
// single owner and is not safe for concurrent use.
type Channel struct {
	codec  *protocol.Codec
	crypto crypto.Crypto
	sess   *crypto.SessionContext
	write  WriteFunc
	closed bool
	cause  error
}

// New returns a channel that sends through write.
func New(codec *protocol.Codec, c crypto.Crypto, sess *crypto.SessionContext, write WriteFunc) *Channel {
	return &Channel{codec: codec, crypto: c, sess: sess, write: write}
}

// MaxPlaintext is the largest plaintext Send accepts.
func (ch *Channel) MaxPlaintext() int {
	return protocol.MaxFrameData - crypto.TagSize - crypto.SealOverhead - seqSize
}

// Session returns the underlying session context.
func (ch *Channel) Session() *crypto.SessionContext { return ch.sess }

// Closed reports whether a fatal error has closed the channel.
func (ch *Channel) Closed() bool { return ch.closed }

// Send seals plaintext under the next sequence number, frames it and
// writes every chunk. Encryption failures close the channel.
func (ch *Channel) Send(plaintext []byte) error {
	if ch.closed {
		return fmt.Errorf("%w: %w", ErrChannel, ch.cause)
	}
	if len(plaintext) > ch.MaxPlaintext() {
		return fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(plaintext), ch.MaxPlaintext())
	}

	seq, err := ch.sess.NextSendSeq()
	if err != nil {
		return ch.close(err)
	}
	buf := make([]byte, 0, len(plaintext)+seqSize)
	buf = append(buf, plaintext...)
	buf = binary.LittleEndian.AppendUint32(buf, seq)

	sealed, err := ch.crypto.Encrypt(ch.sess, buf)
	if err != nil {
		return ch.close(fmt.Errorf("encrypt: %w", err))
	}

	msg := make([]byte, 0, crypto.TagSize+len(sealed))
	msg = append(msg, ch.sess.Tag[:]...)
	msg = append(msg, sealed...)

	chunks, err := ch.codec.Encode(msg)
	if err != nil {
		return ch.close(err)
	}
	for _, c := range chunks {
		if err := ch.write(c); err != nil {
			return fmt.Errorf("channel: write seq %d: %w", seq, err)
		}
	}
	slog.Debug("[CHANNEL] sent", "seq", seq, "len", len(plaintext), "chunks", len(chunks))
	return nil
}

// Receive opens a frame. It returns nil plaintext and nil error for
// foreign or corrupt traffic, which is expected on a shared characteristic,
// and a *ReplayError (closing the channel) for a stale sequence number.
func (ch *Channel) Receive(f protocol.Frame) ([]byte, error) {
	if ch.closed {
		return nil, fmt.Errorf("%w: %w", ErrChannel, ch.cause)
	}

	p := f.Payload
	if len(p) < crypto.TagSize || !bytes.Equal(p[:crypto.TagSize], ch.sess.Tag[:]) {
		slog.Debug("[CHANNEL] discarding foreign frame", "len", len(p))
		return nil, nil
	}
	buf, err := ch.crypto.Decrypt(ch.sess, p[crypto.TagSize:])
	if err != nil {
		slog.Debug("[CHANNEL] discarding corrupt frame", "error", err)
		return nil, nil
	}
	if len(buf) < seqSize {
		slog.Debug("[CHANNEL] discarding short frame", "len", len(buf))
		return nil, nil
	}

	seq := binary.LittleEndian.Uint32(buf[len(buf)-seqSize:])
	high := ch.sess.HighWater()
	if !ch.sess.Accept(seq) {
		rerr := &ReplayError{Seq: seq, HighWater: high}
		slog.Error("[CHANNEL] replay detected", "event", "security", "seq", seq, "high_water", high)
		ch.closed = true
		ch.cause = rerr
		return nil, rerr
	}
	return buf[:len(buf)-seqSize], nil
}

// Close destroys the session keys. Further use fails with ErrChannel.
func (ch *Channel) Close() {
	if ch.closed && ch.sess.Destroyed() {
		return
	}
	ch.closed = true
	if ch.cause == nil {
		ch.cause = errors.New("closed by owner")
	}
	ch.sess.Destroy()
}

func (ch *Channel) close(err error) error {
	ch.closed = true
	ch.cause = err
	ch.sess.Destroy()
	return fmt.Errorf("%w: %w", ErrChannel, err)
}
