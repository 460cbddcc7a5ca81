// Package handshake drives the multi-round key exchange that turns a fresh
// BLE connection into an authenticated session.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/scooter-ble/internal/ble/crypto"
)

const (
	DefaultRoundTimeout = 5 * time.Second
	DefaultMaxRounds    = 5
)

var (
	ErrTimeout  = errors.New("handshake: timed out")
	ErrRejected = errors.New("handshake: rejected")
)

// State is a position in the handshake state machine.
type State int

const (
	StateIdle State = iota
	StateSentInit
	StateReceivedChallenge
	StateSentProof
	StateEstablished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSentInit:
		return "sent-init"
	case StateReceivedChallenge:
		return "received-challenge"
	case StateSentProof:
		return "sent-proof"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Error is returned when the handshake fails. Kind is ErrTimeout,
// ErrRejected, or nil for transport and cancellation failures.
type Error struct {
	State State // state the failure happened in
	Round int
	Kind  error
	Cause error
}

func (e *Error) Error() string {
	msg := "handshake: failed"
	if e.Kind != nil {
		msg = e.Kind.Error()
	}
	msg = fmt.Sprintf("%s in %s (round %d)", msg, e.State, e.Round)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// FrameIO moves whole handshake frames over the connection.
type FrameIO interface {
	SendFrame(payload []byte) error
	// RecvFrame blocks until a frame arrives or ctx is done.
	RecvFrame(ctx context.Context) ([]byte, error)
}

// Options bound the exchange.
type Options struct {
	RoundTimeout time.Duration
	MaxRounds    int
}

// Handshake is a one-shot state machine. Discard it after Run returns.
type Handshake struct {
	crypto crypto.Crypto
	opts   Options
	state  State
	round  int
	sent   int
}

// New prepares a handshake using c for every cryptographic step.
func New(c crypto.Crypto, opts Options) *Handshake {
	if opts.RoundTimeout <= 0 {
		opts.RoundTimeout = DefaultRoundTimeout
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = DefaultMaxRounds
	}
	return &Handshake{crypto: c, opts: opts}
}

// State returns the current state.
func (h *Handshake) State() State { return h.state }

// FramesSent returns how many handshake frames have been written.
func (h *Handshake) FramesSent() int { return h.sent }

// Run executes the exchange to completion. Rejections are never retried
// here; the caller decides whether to probe the device again.
func (h *Handshake) Run(ctx context.Context, fio FrameIO) (*crypto.SessionContext, error) {
	if h.state != StateIdle {
		return nil, fmt.Errorf("handshake: Run called in state %s", h.state)
	}

	out, err := h.crypto.BeginHandshake()
	if err != nil {
		return nil, h.fail(ErrRejected, err)
	}
	if err := h.send(fio, out); err != nil {
		return nil, h.fail(nil, err)
	}
	h.state = StateSentInit

	for {
		if h.round >= h.opts.MaxRounds {
			return nil, h.fail(ErrRejected, fmt.Errorf("no session after %d rounds", h.round))
		}

		in, err := h.recv(ctx, fio)
		if err != nil {
			return nil, err
		}
		h.round++
		h.state = StateReceivedChallenge

		out, sess, done, err := h.crypto.ProcessHandshakeMessage(in)
		if err != nil {
			return nil, h.fail(ErrRejected, err)
		}
		if len(out) > 0 {
			if err := h.send(fio, out); err != nil {
				return nil, h.fail(nil, err)
			}
			h.state = StateSentProof
		}
		if !done {
			continue
		}
		if sess == nil {
			return nil, h.fail(ErrRejected, errors.New("crypto finished without a session"))
		}

		h.state = StateEstablished
		slog.Debug("[HANDSHAKE] established", "rounds", h.round, "frames_sent", h.sent)
		return sess, nil
	}
}

func (h *Handshake) send(fio FrameIO, payload []byte) error {
	if err := fio.SendFrame(payload); err != nil {
		return err
	}
	h.sent++
	slog.Debug("[HANDSHAKE] sent frame", "state", h.state, "len", len(payload))
	return nil
}

func (h *Handshake) recv(ctx context.Context, fio FrameIO) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, h.opts.RoundTimeout)
	defer cancel()

	in, err := fio.RecvFrame(rctx)
	if err == nil {
		return in, nil
	}
	// The parent's own deadline or cancellation is not a round timeout.
	if ctx.Err() != nil {
		return nil, h.fail(nil, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, h.fail(ErrTimeout, fmt.Errorf("no reply within %s", h.opts.RoundTimeout))
	}
	return nil, h.fail(nil, err)
}

func (h *Handshake) fail(kind, cause error) error {
	e := &Error{State: h.state, Round: h.round, Kind: kind, Cause: cause}
	h.state = StateFailed
	slog.Warn("[HANDSHAKE] failed", "error", e)
	return e
}
