package register

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/scooter-ble/internal/ble/protocol"
)

// DefaultTimeout is the per-attempt response deadline.
const DefaultTimeout = 2 * time.Second

// PingAddress is the pseudo-register used by keepalive pings.
var PingAddress = Address{Device: protocol.DeviceBLE, Index: 0x00}

// Sender delivers a plaintext message through the secure channel.
type Sender interface {
	Send(plaintext []byte) error
}

// Scheduler arms a timer that calls fire after d. The returned stop
// function disarms it. The engine requires fire to run on the same
// goroutine that drives the engine.
type Scheduler func(d time.Duration, fire func()) (stop func() bool)

// Engine owns the pending table and applies the timeout and retry policy.
// All methods must be called from a single goroutine.
type Engine struct {
	sender    Sender
	schedule  Scheduler
	timeout   time.Duration
	pending   *PendingTable
	nextToken uint16
}

// NewEngine returns an engine sending through s and arming timers with
// sched.
func NewEngine(s Sender, sched Scheduler, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{
		sender:   s,
		schedule: sched,
		timeout:  timeout,
		pending:  NewPendingTable(),
	}
}

// Pending returns the number of outstanding requests.
func (e *Engine) Pending() int { return e.pending.Len() }

// Submit validates req, assigns its token, sends it, and arms the first
// deadline. On error nothing is sent and Done is not called.
func (e *Engine) Submit(req *Request) error {
	if err := e.validate(req); err != nil {
		return &RequestError{Op: req.Op, Address: req.Address, Err: err}
	}
	if e.pending.HasAddress(req.Address) {
		return &RequestError{Op: req.Op, Address: req.Address, Err: ErrConflict}
	}

	req.Token = e.allocToken()
	if err := e.pending.Add(req); err != nil {
		return &RequestError{Op: req.Op, Address: req.Address, Token: req.Token, Err: err}
	}
	if err := e.transmit(req); err != nil {
		e.pending.Take(req.Token)
		return &RequestError{Op: req.Op, Address: req.Address, Token: req.Token, Err: err}
	}
	return nil
}

func (e *Engine) validate(req *Request) error {
	if req.Op == OpPing {
		return nil
	}
	l, ok := LayoutFor(req.Address)
	if !ok {
		return ErrUnknownRegister
	}
	switch req.Op {
	case OpRead:
		if l.WriteOnly {
			return ErrNotReadable
		}
	case OpWrite:
		if l.ReadOnly {
			return ErrNotWritable
		}
		if len(req.Data) != l.ReadLen() {
			return fmt.Errorf("register: write of %d bytes, want %d", len(req.Data), l.ReadLen())
		}
	default:
		return fmt.Errorf("register: unsupported op %v", req.Op)
	}
	return nil
}

// allocToken returns the next free non-zero token.
func (e *Engine) allocToken() uint16 {
	for {
		e.nextToken++
		if e.nextToken != 0 && !e.pending.HasToken(e.nextToken) {
			return e.nextToken
		}
	}
}

// transmit sends req as a new wire message and arms its deadline.
func (e *Engine) transmit(req *Request) error {
	if err := e.sender.Send(protocol.MarshalMessage(e.message(req))); err != nil {
		return err
	}
	token, attempt := req.Token, req.attempt
	req.stop = e.schedule(e.timeout, func() { e.HandleTimeout(token, attempt) })
	slog.Debug("[REGISTER] sent", "op", req.Op, "addr", req.Address, "token", req.Token, "attempt", req.attempt)
	return nil
}

func (e *Engine) message(req *Request) protocol.Message {
	m := protocol.Message{Target: req.Address.Device, Index: req.Address.Index, Token: req.Token}
	switch req.Op {
	case OpRead:
		l, _ := LayoutFor(req.Address)
		m.Command = protocol.CmdRead
		m.Data = []byte{byte(l.ReadLen())}
	case OpWrite:
		m.Command = protocol.CmdWrite
		m.Data = req.Data
	case OpPing:
		m.Command = protocol.CmdPing
	}
	return m
}

// HandleMessage matches a decrypted message to its pending request.
// Unknown tokens are discarded as stale or duplicate responses.
func (e *Engine) HandleMessage(plaintext []byte) {
	msg, err := protocol.UnmarshalMessage(plaintext)
	if err != nil {
		slog.Debug("[REGISTER] discarding undecodable message", "error", err)
		return
	}
	req, ok := e.pending.Take(msg.Token)
	if !ok {
		slog.Debug("[REGISTER] discarding stale response", "token", msg.Token, "cmd", msg.Command)
		return
	}
	e.disarm(req)

	res := e.decode(req, msg)
	if res.Err != nil {
		res.Err = &RequestError{Op: req.Op, Address: req.Address, Token: req.Token, Err: res.Err}
	}
	req.Done(res)
}

func (e *Engine) decode(req *Request, msg protocol.Message) Result {
	want := e.message(req).Command.Reply()
	if msg.Command != want {
		return Result{Err: fmt.Errorf("%w: got %v, want %v", ErrDecode, msg.Command, want)}
	}
	if msg.Target != req.Address.Device || msg.Index != req.Address.Index {
		got := Address{Device: msg.Target, Index: msg.Index}
		return Result{Err: fmt.Errorf("%w: response for %s", ErrDecode, got)}
	}

	switch req.Op {
	case OpRead:
		v, err := Decode(req.Address, msg.Data)
		if err != nil {
			return Result{Err: err}
		}
		return Result{Value: v}
	case OpWrite:
		if len(msg.Data) > 0 && msg.Data[0] != 0 {
			return Result{Err: fmt.Errorf("%w: status 0x%02X", ErrWriteRejected, msg.Data[0])}
		}
		return Result{Value: Value{Address: req.Address, Kind: KindBlob, Raw: req.Data}}
	default:
		return Result{Value: Value{Address: req.Address, Kind: KindBlob, Raw: msg.Data}}
	}
}

// HandleTimeout applies the retry policy: the first expiry retransmits
// under the same token, the second fails the request. Expiries for
// requests already resolved, or for an earlier attempt, are ignored.
func (e *Engine) HandleTimeout(token uint16, attempt int) {
	req, ok := e.pending.Get(token)
	if !ok || req.attempt != attempt {
		return
	}

	if req.attempt == 0 {
		req.attempt++
		slog.Info("[REGISTER] timed out, retrying", "op", req.Op, "addr", req.Address, "token", token)
		if err := e.transmit(req); err != nil {
			e.pending.Take(token)
			req.Done(Result{Err: &RequestError{Op: req.Op, Address: req.Address, Token: token, Err: err}})
		}
		return
	}

	e.pending.Take(token)
	slog.Warn("[REGISTER] timed out after retry", "op", req.Op, "addr", req.Address, "token", token)
	req.Done(Result{Err: &RequestError{Op: req.Op, Address: req.Address, Token: token, Err: ErrTimeout}})
}

// Cancel drops the request for token without resolving it and without any
// wire traffic. A late response for it is discarded.
func (e *Engine) Cancel(token uint16) bool {
	req, ok := e.pending.Take(token)
	if !ok {
		return false
	}
	e.disarm(req)
	slog.Debug("[REGISTER] cancelled", "addr", req.Address, "token", token)
	return true
}

// FailAll resolves every pending request with cause.
func (e *Engine) FailAll(cause error) int {
	reqs := e.pending.Drain()
	for _, req := range reqs {
		e.disarm(req)
		req.Done(Result{Err: &RequestError{Op: req.Op, Address: req.Address, Token: req.Token, Err: cause}})
	}
	return len(reqs)
}

func (e *Engine) disarm(req *Request) {
	if req.stop != nil {
		req.stop()
		req.stop = nil
	}
}

// IsRequestLevel reports whether err affects only a single call, as
// opposed to the whole connection.
func IsRequestLevel(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrConflict) || errors.Is(err, ErrWriteRejected) ||
		errors.Is(err, ErrNotReadable) || errors.Is(err, ErrNotWritable) ||
		errors.Is(err, ErrUnknownRegister)
}
