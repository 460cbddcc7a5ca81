package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/scooter-ble/internal/ble/channel"
	blecrypto "github.com/chaz8081/scooter-ble/internal/ble/crypto"
	"github.com/chaz8081/scooter-ble/internal/ble/handshake"
	"github.com/chaz8081/scooter-ble/internal/ble/protocol"
	"github.com/chaz8081/scooter-ble/internal/ble/register"
)

// State is the session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateReady
	StateDisconnecting
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateDisconnecting:
		return "disconnecting"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CryptoFactory builds the crypto capability for one connection attempt.
type CryptoFactory func() (blecrypto.Crypto, error)

// ClientOptions configures the BLE client behavior.
type ClientOptions struct {
	MTU               int           // transport chunk size
	HandshakeTimeout  time.Duration // per handshake round
	RequestTimeout    time.Duration // per request attempt
	KeepaliveInterval time.Duration // idle time before a PING; 0 disables
	QueueSize         int           // processing loop inbox depth
	NewCrypto         CryptoFactory
}

// DefaultClientOptions returns sensible defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		MTU:               protocol.DefaultMTU,
		HandshakeTimeout:  handshake.DefaultRoundTimeout,
		RequestTimeout:    register.DefaultTimeout,
		KeepaliveInterval: 10 * time.Second,
		QueueSize:         64,
	}
}

// NoiseInitiator returns a CryptoFactory for the client side of the Noise
// handshake. An empty peer accepts any scooter key.
func NoiseInitiator(prologue string, peer []byte) CryptoFactory {
	return func() (blecrypto.Crypto, error) {
		return blecrypto.NewNoise(blecrypto.NoiseConfig{
			Initiator:    true,
			Prologue:     []byte(prologue),
			ExpectedPeer: peer,
		})
	}
}

// Client is one scooter session. The zero value is not usable; create one
// with NewClient. All methods are safe for concurrent use.
type Client struct {
	dialer Dialer
	opts   ClientOptions

	mu        sync.Mutex
	state     State
	device    string
	sessionID string
	loop      *loop
	fault     error
}

// NewClient creates a disconnected client.
func NewClient(dialer Dialer, opts ClientOptions) *Client {
	def := DefaultClientOptions()
	if opts.MTU <= 0 {
		opts.MTU = def.MTU
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = def.RequestTimeout
	}
	if opts.KeepaliveInterval < 0 {
		opts.KeepaliveInterval = 0
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.NewCrypto == nil {
		opts.NewCrypto = NoiseInitiator("", nil)
	}
	return &Client{dialer: dialer, opts: opts}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID identifies the current or most recent connection in logs.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Err returns the error that faulted the session, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fault
}

// transition moves from one of the allowed states to next.
func (c *Client) transition(op string, next State, from ...State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range from {
		if c.state == s {
			c.state = next
			return nil
		}
	}
	return &StateError{Op: op, State: c.state}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect dials device, runs the handshake and starts the processing
// loop. Handshake failures are returned as *handshake.Error and are not
// retried; any failure other than ErrTimeout or ErrRejected also matches
// ErrConnect.
func (c *Client) Connect(ctx context.Context, device string) error {
	if err := c.transition("connect", StateConnecting, StateDisconnected); err != nil {
		return err
	}
	id := uuid.NewString()
	c.mu.Lock()
	c.device = device
	c.sessionID = id
	c.mu.Unlock()
	log := slog.With("session", id, "device", device)

	log.Info("[BLE] connecting")
	tr, err := c.dialer.Dial(ctx, device)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: %s: %w", ErrConnect, device, err)
	}

	c.setState(StateHandshaking)
	cr, err := c.opts.NewCrypto()
	if err != nil {
		_ = tr.Disconnect()
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: %s: %w", ErrConnect, device, err)
	}
	codec := protocol.NewCodec(c.opts.MTU)
	fio := &frameIO{codec: codec, tr: tr}
	hs := handshake.New(cr, handshake.Options{RoundTimeout: c.opts.HandshakeTimeout})
	sess, err := hs.Run(ctx, fio)
	if err != nil {
		_ = tr.Disconnect()
		c.setState(StateDisconnected)
		if errors.Is(err, handshake.ErrTimeout) || errors.Is(err, handshake.ErrRejected) {
			return err
		}
		// Link loss or corrupt frames mid-handshake.
		return fmt.Errorf("%w: %s: %w", ErrConnect, device, err)
	}

	ch := channel.New(codec, cr, sess, tr.Write)
	l := newLoop(c, tr, codec, ch, fio.backlog, log)

	c.mu.Lock()
	c.loop = l
	c.state = StateReady
	c.mu.Unlock()
	go l.run()

	log.Info("[BLE] session ready", "handshake_frames", hs.FramesSent(), "mtu", codec.MTU())
	return nil
}

// Read fetches the register at addr.
func (c *Client) Read(ctx context.Context, addr register.Address) (register.Value, error) {
	res, err := c.do(ctx, "read", register.OpRead, addr, nil)
	return res.Value, err
}

// Write stores data in the register at addr. data must be exactly the
// register's width; see register.EncodeWord.
func (c *Client) Write(ctx context.Context, addr register.Address, data []byte) error {
	_, err := c.do(ctx, "write", register.OpWrite, addr, data)
	return err
}

// Ping checks that the BLE module answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "ping", register.OpPing, register.PingAddress, nil)
	return err
}

func (c *Client) do(ctx context.Context, name string, op register.Op, addr register.Address, data []byte) (register.Result, error) {
	c.mu.Lock()
	l, state := c.loop, c.state
	c.mu.Unlock()
	if state != StateReady || l == nil {
		return register.Result{}, &StateError{Op: name, State: state}
	}

	pc := &call{op: op, addr: addr, data: data, result: make(chan register.Result, 1)}
	if err := l.submit(ctx, pc); err != nil {
		return register.Result{}, err
	}

	return await(ctx, l, pc)
}

// await waits for pc to resolve. A result that is already available wins
// over a cancelled ctx.
func await(ctx context.Context, l *loop, pc *call) (register.Result, error) {
	op, addr := pc.op, pc.addr
	select {
	case res := <-pc.result:
		return res, res.Err
	case <-ctx.Done():
		select {
		case res := <-pc.result:
			return res, res.Err
		default:
		}
		l.cancel(pc)
		return register.Result{}, &register.RequestError{
			Op: op, Address: addr, Err: fmt.Errorf("%w: %w", register.ErrCancelled, ctx.Err()),
		}
	case <-l.done:
		// The loop fails every pending call before it exits.
		select {
		case res := <-pc.result:
			return res, res.Err
		default:
			return register.Result{}, &register.RequestError{Op: op, Address: addr, Err: register.ErrConnectionLost}
		}
	}
}

// Disconnect stops the session. It returns once the processing loop has
// failed every pending call and released the transport.
func (c *Client) Disconnect(ctx context.Context) error {
	if err := c.transition("disconnect", StateDisconnecting, StateReady); err != nil {
		return err
	}
	c.mu.Lock()
	l := c.loop
	c.mu.Unlock()

	l.stop()
	select {
	case <-l.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateFaulted {
		return c.fault
	}
	return nil
}

// finish is called by the loop as it exits.
func (c *Client) finish(l *loop, next State, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loop != l {
		return
	}
	c.loop = nil
	c.state = next
	if next == StateFaulted {
		c.fault = cause
	}
}

// frameIO adapts the transport to the handshake before the loop exists.
// Frames received after the final handshake frame are kept in backlog.
type frameIO struct {
	codec   *protocol.Codec
	tr      Transport
	backlog []protocol.Frame
}

func (f *frameIO) SendFrame(payload []byte) error {
	chunks, err := f.codec.Encode(payload)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := f.tr.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (f *frameIO) RecvFrame(ctx context.Context) ([]byte, error) {
	for len(f.backlog) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.tr.Closed():
			return nil, fmt.Errorf("%w: link closed during handshake", ErrTransport)
		case chunk := <-f.tr.Notifications():
			frames, err := f.codec.Feed(chunk)
			if err != nil {
				return nil, err
			}
			f.backlog = append(f.backlog, frames...)
		}
	}
	fr := f.backlog[0]
	f.backlog = f.backlog[1:]
	return fr.Payload, nil
}

// IsConnectionError reports whether err ended the session rather than a
// single request.
func IsConnectionError(err error) bool {
	return errors.Is(err, register.ErrConnectionLost) || errors.Is(err, protocol.ErrFraming) ||
		errors.Is(err, channel.ErrReplay) || errors.Is(err, channel.ErrChannel) ||
		errors.Is(err, ErrTransport)
}
