package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"
	"golang.org/x/crypto/chacha20poly1305"
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

const (
	infoSendInitiator = "scooter-ble initiator->responder"
	infoSendResponder = "scooter-ble responder->initiator"
	infoSessionTag    = "scooter-ble session tag"
)

// NoiseConfig configures one side of the Noise XX exchange.
type NoiseConfig struct {
	Initiator bool
	// Prologue is mixed into the handshake hash; both sides must agree.
	// The client uses the advertised device name.
	Prologue []byte
	// StaticKey is the local long-term keypair. A fresh one is generated
	// when empty.
	StaticKey noise.DHKey
	// ExpectedPeer pins the peer's static public key when set.
	ExpectedPeer []byte
}

// Noise implements Crypto with a Noise XX handshake.
type Noise struct {
	cfg    NoiseConfig
	hs     *noise.HandshakeState
	begun  bool
	done   bool
	rounds int
}

var _ Crypto = (*Noise)(nil)

// GenerateStaticKey creates a Curve25519 keypair for NoiseConfig.StaticKey.
func GenerateStaticKey() (noise.DHKey, error) {
	key, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return noise.DHKey{}, fmt.Errorf("ble/crypto: generate static key: %w", err)
	}
	return key, nil
}

// NewNoise prepares a handshake for one session.
func NewNoise(cfg NoiseConfig) (*Noise, error) {
	if len(cfg.StaticKey.Private) == 0 {
		key, err := GenerateStaticKey()
		if err != nil {
			return nil, err
		}
		cfg.StaticKey = key
	}
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXX,
		Initiator:     cfg.Initiator,
		Prologue:      cfg.Prologue,
		StaticKeypair: cfg.StaticKey,
	})
	if err != nil {
		return nil, fmt.Errorf("ble/crypto: noise handshake config: %w", err)
	}
	return &Noise{cfg: cfg, hs: hs}, nil
}

// StaticPublic returns the local static public key.
func (n *Noise) StaticPublic() []byte { return n.cfg.StaticKey.Public }

// BeginHandshake writes "-> e". Only the initiator begins.
func (n *Noise) BeginHandshake() ([]byte, error) {
	if !n.cfg.Initiator {
		return nil, errors.New("ble/crypto: responder cannot begin the handshake")
	}
	if n.begun {
		return nil, errors.New("ble/crypto: handshake already begun")
	}
	n.begun = true
	msg, _, _, err := n.hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("ble/crypto: noise write msg1: %w", err)
	}
	return msg, nil
}

// ProcessHandshakeMessage reads one peer message and writes our reply.
func (n *Noise) ProcessHandshakeMessage(in []byte) ([]byte, *SessionContext, bool, error) {
	if n.done {
		return nil, nil, false, errors.New("ble/crypto: handshake already complete")
	}
	if n.cfg.Initiator && !n.begun {
		return nil, nil, false, errors.New("ble/crypto: handshake not begun")
	}
	n.rounds++

	if n.cfg.Initiator {
		// <- e, ee, s, es
		if _, _, _, err := n.hs.ReadMessage(nil, in); err != nil {
			return nil, nil, false, fmt.Errorf("ble/crypto: noise read msg2: %w", err)
		}
		if err := n.checkPeer(); err != nil {
			return nil, nil, false, err
		}
		// -> s, se
		out, cs1, cs2, err := n.hs.WriteMessage(nil, nil)
		if err != nil {
			return nil, nil, false, fmt.Errorf("ble/crypto: noise write msg3: %w", err)
		}
		sess, err := n.finish(cs1, cs2)
		if err != nil {
			return nil, nil, false, err
		}
		return out, sess, true, nil
	}

	if n.rounds == 1 {
		// <- e
		if _, _, _, err := n.hs.ReadMessage(nil, in); err != nil {
			return nil, nil, false, fmt.Errorf("ble/crypto: noise read msg1: %w", err)
		}
		// -> e, ee, s, es
		out, _, _, err := n.hs.WriteMessage(nil, nil)
		if err != nil {
			return nil, nil, false, fmt.Errorf("ble/crypto: noise write msg2: %w", err)
		}
		return out, nil, false, nil
	}

	// <- s, se
	_, cs1, cs2, err := n.hs.ReadMessage(nil, in)
	if err != nil {
		return nil, nil, false, fmt.Errorf("ble/crypto: noise read msg3: %w", err)
	}
	if err := n.checkPeer(); err != nil {
		return nil, nil, false, err
	}
	sess, err := n.finish(cs1, cs2)
	if err != nil {
		return nil, nil, false, err
	}
	return nil, sess, true, nil
}

func (n *Noise) checkPeer() error {
	if len(n.cfg.ExpectedPeer) == 0 {
		return nil
	}
	if !bytes.Equal(n.hs.PeerStatic(), n.cfg.ExpectedPeer) {
		return errors.New("ble/crypto: peer static key does not match pinned key")
	}
	return nil
}

// finish derives the session from the split cipher states. cs1 carries
// initiator->responder traffic, cs2 the reverse.
func (n *Noise) finish(cs1, cs2 *noise.CipherState) (*SessionContext, error) {
	if cs1 == nil || cs2 == nil {
		return nil, errors.New("ble/crypto: handshake did not split")
	}
	n.done = true

	binding := n.hs.ChannelBinding()
	k1 := cs1.UnsafeKey()
	k2 := cs2.UnsafeKey()
	i2r, err := DeriveKey(k1[:], binding, infoSendInitiator, KeySize)
	if err != nil {
		return nil, err
	}
	r2i, err := DeriveKey(k2[:], binding, infoSendResponder, KeySize)
	if err != nil {
		return nil, err
	}
	tag, err := DeriveKey(binding, nil, infoSessionTag, TagSize)
	if err != nil {
		return nil, err
	}

	sess := &SessionContext{PeerStatic: append([]byte(nil), n.hs.PeerStatic()...)}
	copy(sess.Tag[:], tag)
	if n.cfg.Initiator {
		copy(sess.SendKey[:], i2r)
		copy(sess.RecvKey[:], r2i)
	} else {
		copy(sess.SendKey[:], r2i)
		copy(sess.RecvKey[:], i2r)
	}
	return sess, nil
}

// Encrypt returns nonce (12) || ciphertext || tag (16).
func (n *Noise) Encrypt(sess *SessionContext, plaintext []byte) ([]byte, error) {
	return Seal(sess.SendKey[:], plaintext)
}

// Decrypt reverses Encrypt with the receive key.
func (n *Noise) Decrypt(sess *SessionContext, ciphertext []byte) ([]byte, error) {
	return Open(sess.RecvKey[:], ciphertext)
}

// Seal encrypts plaintext with ChaCha20-Poly1305 under a random nonce and
// prepends the nonce.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("ble/crypto: new AEAD: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("ble/crypto: random nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts the output of Seal.
func Open(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("ble/crypto: new AEAD: %w", err)
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrAuthentication
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// SealOverhead is the number of bytes Seal adds to a plaintext.
const SealOverhead = chacha20poly1305.NonceSize + chacha20poly1305.Overhead
