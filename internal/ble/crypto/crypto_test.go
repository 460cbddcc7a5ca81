package crypto

import (
	"bytes"
	"errors"
	"testing"
)

// runHandshake drives both sides of the XX exchange and returns the two
// sessions.
func runHandshake(t *testing.T, initiator, responder *Noise) (*SessionContext, *SessionContext) {
	t.Helper()
	msg1, err := initiator.BeginHandshake()
	if err != nil {
		t.Fatalf("BeginHandshake() error = %v", err)
	}
	msg2, rs, done, err := responder.ProcessHandshakeMessage(msg1)
	if err != nil || done || rs != nil {
		t.Fatalf("responder msg1: done=%v sess=%v err=%v", done, rs, err)
	}
	msg3, is, done, err := initiator.ProcessHandshakeMessage(msg2)
	if err != nil || !done || is == nil {
		t.Fatalf("initiator msg2: done=%v sess=%v err=%v", done, is, err)
	}
	out, rs, done, err := responder.ProcessHandshakeMessage(msg3)
	if err != nil || !done || rs == nil {
		t.Fatalf("responder msg3: done=%v sess=%v err=%v", done, rs, err)
	}
	if out != nil {
		t.Errorf("responder produced %d bytes after msg3, want none", len(out))
	}
	return is, rs
}

func newPair(t *testing.T, prologue string) (*Noise, *Noise) {
	t.Helper()
	i, err := NewNoise(NoiseConfig{Initiator: true, Prologue: []byte(prologue)})
	if err != nil {
		t.Fatalf("NewNoise(initiator) error = %v", err)
	}
	r, err := NewNoise(NoiseConfig{Prologue: []byte(prologue)})
	if err != nil {
		t.Fatalf("NewNoise(responder) error = %v", err)
	}
	return i, r
}

func TestNoiseHandshakeDerivesMatchingSessions(t *testing.T) {
	i, r := newPair(t, "MyScooter")
	is, rs := runHandshake(t, i, r)

	if is.Tag != rs.Tag {
		t.Errorf("session tags differ: %x vs %x", is.Tag, rs.Tag)
	}
	if is.SendKey != rs.RecvKey || is.RecvKey != rs.SendKey {
		t.Error("send/receive keys are not mirrored")
	}
	if is.SendKey == is.RecvKey {
		t.Error("both directions share one key")
	}
	if !bytes.Equal(is.PeerStatic, r.StaticPublic()) {
		t.Error("initiator did not learn the responder's static key")
	}
}

func TestNoiseEncryptDecryptRoundTrip(t *testing.T) {
	i, r := newPair(t, "MyScooter")
	is, rs := runHandshake(t, i, r)

	plaintext := []byte("read register 0x32")
	ct, err := i.Encrypt(is, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if len(ct) != len(plaintext)+SealOverhead {
		t.Errorf("ciphertext len = %d, want %d", len(ct), len(plaintext)+SealOverhead)
	}
	got, err := r.Decrypt(rs, ct)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestNoiseDecryptTampered(t *testing.T) {
	i, r := newPair(t, "MyScooter")
	is, rs := runHandshake(t, i, r)

	ct, err := i.Encrypt(is, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	ct[len(ct)-1] ^= 0xFF
	if _, err := r.Decrypt(rs, ct); !errors.Is(err, ErrAuthentication) {
		t.Errorf("Decrypt() error = %v, want ErrAuthentication", err)
	}
	if _, err := r.Decrypt(rs, []byte{0x01}); !errors.Is(err, ErrAuthentication) {
		t.Errorf("Decrypt(short) error = %v, want ErrAuthentication", err)
	}
}

func TestNoisePrologueMismatchRejected(t *testing.T) {
	i, err := NewNoise(NoiseConfig{Initiator: true, Prologue: []byte("one")})
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewNoise(NoiseConfig{Prologue: []byte("two")})
	if err != nil {
		t.Fatal(err)
	}
	msg1, _ := i.BeginHandshake()
	msg2, _, _, err := r.ProcessHandshakeMessage(msg1)
	if err != nil {
		t.Fatalf("responder msg1 error = %v", err)
	}
	if _, _, _, err := i.ProcessHandshakeMessage(msg2); err == nil {
		t.Error("initiator accepted msg2 under a different prologue")
	}
}

func TestNoisePinnedPeerMismatch(t *testing.T) {
	i, err := NewNoise(NoiseConfig{Initiator: true, ExpectedPeer: bytes.Repeat([]byte{1}, 32)})
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewNoise(NoiseConfig{})
	if err != nil {
		t.Fatal(err)
	}
	msg1, _ := i.BeginHandshake()
	msg2, _, _, _ := r.ProcessHandshakeMessage(msg1)
	if _, _, _, err := i.ProcessHandshakeMessage(msg2); err == nil {
		t.Error("initiator accepted an unpinned peer key")
	}
}

func TestNoiseResponderCannotBegin(t *testing.T) {
	r, err := NewNoise(NoiseConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.BeginHandshake(); err == nil {
		t.Error("responder BeginHandshake() should fail")
	}
}

func TestSessionSequenceCounters(t *testing.T) {
	s := &SessionContext{}
	for want := uint32(1); want <= 3; want++ {
		got, err := s.NextSendSeq()
		if err != nil {
			t.Fatalf("NextSendSeq() error = %v", err)
		}
		if got != want {
			t.Errorf("NextSendSeq() = %d, want %d", got, want)
		}
	}

	if s.Accept(0) {
		t.Error("Accept(0) should be rejected")
	}
	if !s.Accept(5) {
		t.Error("Accept(5) should be accepted")
	}
	if s.Accept(5) || s.Accept(4) {
		t.Error("sequence numbers at or below the high-water mark must be rejected")
	}
	if s.HighWater() != 5 {
		t.Errorf("HighWater() = %d, want 5", s.HighWater())
	}
}

func TestSessionSequenceExhausted(t *testing.T) {
	s := &SessionContext{sendSeq: ^uint32(0)}
	if _, err := s.NextSendSeq(); !errors.Is(err, ErrSequenceExhausted) {
		t.Errorf("NextSendSeq() error = %v, want ErrSequenceExhausted", err)
	}
}

func TestSessionDestroy(t *testing.T) {
	s := &SessionContext{}
	s.SendKey[0] = 0x42
	s.Destroy()
	if s.SendKey[0] != 0 {
		t.Error("Destroy() did not wipe the send key")
	}
	if _, err := s.NextSendSeq(); err == nil {
		t.Error("NextSendSeq() after Destroy should fail")
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	secret := make([]byte, 32)
	secret[0] = 0x42

	k1, err := DeriveKey(secret, nil, "info", 32)
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	k2, _ := DeriveKey(secret, nil, "info", 32)
	if !bytes.Equal(k1, k2) {
		t.Error("DeriveKey is not deterministic")
	}
	k3, _ := DeriveKey(secret, nil, "other", 32)
	if bytes.Equal(k1, k3) {
		t.Error("DeriveKey ignores info")
	}
}
