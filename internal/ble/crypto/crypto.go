// Package crypto provides the key-exchange and AEAD capability used by the
// scooter session: a Noise XX handshake (Curve25519, ChaCha20-Poly1305,
// BLAKE2s) that yields a SessionContext, HKDF-SHA256 derivation of the
// traffic keys and session tag, and per-message sealing with
// ChaCha20-Poly1305.
package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	KeySize = 32
	TagSize = 4
)

// ErrAuthentication reports a message that failed AEAD verification.
var ErrAuthentication = errors.New("ble/crypto: message authentication failed")

// ErrSequenceExhausted is returned when the outgoing counter would wrap.
var ErrSequenceExhausted = errors.New("ble/crypto: sequence counter exhausted")

// Crypto is the capability the handshake and secure channel are built on.
// An instance negotiates exactly one session.
type Crypto interface {
	// BeginHandshake returns the first handshake message to send.
	BeginHandshake() ([]byte, error)
	// ProcessHandshakeMessage consumes a peer handshake message. It returns
	// the next message to send (nil if none), and once done is true, the
	// negotiated session.
	ProcessHandshakeMessage(in []byte) (out []byte, sess *SessionContext, done bool, err error)
	// Encrypt seals plaintext under the session's send key.
	Encrypt(sess *SessionContext, plaintext []byte) ([]byte, error)
	// Decrypt opens ciphertext under the session's receive key. It fails
	// with ErrAuthentication on tampered or foreign input.
	Decrypt(sess *SessionContext, ciphertext []byte) ([]byte, error)
}

// SessionContext holds the negotiated key material and the sequence
// bookkeeping for one connection. It is owned by a single secure channel
// and never reused across connections.
type SessionContext struct {
	Tag     [TagSize]byte
	SendKey [KeySize]byte
	RecvKey [KeySize]byte

	// PeerStatic is the peer's static public key from the handshake.
	PeerStatic []byte

	sendSeq   uint32
	recvHigh  uint32
	destroyed bool
}

// NextSendSeq advances and returns the outgoing sequence number. The first
// number issued is 1.
func (s *SessionContext) NextSendSeq() (uint32, error) {
	if s.destroyed {
		return 0, errors.New("ble/crypto: session destroyed")
	}
	if s.sendSeq == ^uint32(0) {
		return 0, ErrSequenceExhausted
	}
	s.sendSeq++
	return s.sendSeq, nil
}

// SendSeq returns the last outgoing sequence number issued.
func (s *SessionContext) SendSeq() uint32 { return s.sendSeq }

// HighWater returns the highest incoming sequence number accepted so far.
func (s *SessionContext) HighWater() uint32 { return s.recvHigh }

// Accept records seq as received if it is strictly above the high-water
// mark and reports whether it was.
func (s *SessionContext) Accept(seq uint32) bool {
	if seq <= s.recvHigh {
		return false
	}
	s.recvHigh = seq
	return true
}

// Destroy wipes the key material.
func (s *SessionContext) Destroy() {
	clear(s.SendKey[:])
	clear(s.RecvKey[:])
	s.destroyed = true
}

// Destroyed reports whether Destroy has been called.
func (s *SessionContext) Destroyed() bool { return s.destroyed }

// DeriveKey uses HKDF-SHA256 to expand secret into n bytes bound to salt
// and info.
func DeriveKey(secret, salt []byte, info string, n int) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	key := make([]byte, n)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("ble/crypto: HKDF: %w", err)
	}
	return key, nil
}
