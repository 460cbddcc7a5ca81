package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/scooter-ble/internal/ble/channel"
	"github.com/chaz8081/scooter-ble/internal/ble/protocol"
	"github.com/chaz8081/scooter-ble/internal/ble/register"
)

// call is a caller's request in flight through the loop. Fields other
// than result are owned by the loop goroutine once submitted.
type call struct {
	op     register.Op
	addr   register.Address
	data   []byte
	result chan register.Result // buffered, receives exactly one value

	req      *register.Request
	resolved bool
}

// minKeepaliveTick bounds the keepalive ticker for very small intervals.
const minKeepaliveTick = time.Millisecond

type command struct {
	call   *call
	cancel bool
}

// loop is the single goroutine that owns the codec, the channel and the
// register engine for one connection. Callers, timers and the transport
// reach it only through channels.
type loop struct {
	client *Client
	tr     Transport
	codec  *protocol.Codec
	ch     *channel.Channel
	engine *register.Engine
	log    *slog.Logger

	backlog      []protocol.Frame
	keepalive    time.Duration
	lastActivity time.Time

	inbox    chan command
	timers   chan func()
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

func newLoop(c *Client, tr Transport, codec *protocol.Codec, ch *channel.Channel, backlog []protocol.Frame, log *slog.Logger) *loop {
	l := &loop{
		client:       c,
		tr:           tr,
		codec:        codec,
		ch:           ch,
		log:          log,
		backlog:      backlog,
		keepalive:    c.opts.KeepaliveInterval,
		lastActivity: time.Now(),
		inbox:        make(chan command, c.opts.QueueSize),
		timers:       make(chan func()),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	l.engine = register.NewEngine(l, l.schedule, c.opts.RequestTimeout)
	return l
}

// Send implements register.Sender.
func (l *loop) Send(plaintext []byte) error {
	if err := l.ch.Send(plaintext); err != nil {
		return err
	}
	l.lastActivity = time.Now()
	return nil
}

// schedule implements register.Scheduler by posting the expiry back into
// the loop.
func (l *loop) schedule(d time.Duration, fire func()) func() bool {
	t := time.AfterFunc(d, func() {
		select {
		case l.timers <- fire:
		case <-l.done:
		}
	})
	return t.Stop
}

func (l *loop) submit(ctx context.Context, c *call) error {
	select {
	case l.inbox <- command{call: c}:
		return nil
	case <-ctx.Done():
		return &register.RequestError{Op: c.op, Address: c.addr, Err: fmt.Errorf("%w: %w", register.ErrCancelled, ctx.Err())}
	case <-l.done:
		return &register.RequestError{Op: c.op, Address: c.addr, Err: register.ErrConnectionLost}
	}
}

func (l *loop) cancel(c *call) {
	select {
	case l.inbox <- command{call: c, cancel: true}:
	case <-l.done:
	}
}

func (l *loop) stop() {
	l.quitOnce.Do(func() { close(l.quit) })
}

func (l *loop) run() {
	next, cause := l.serve()
	if n := l.codec.Buffered(); n > 0 {
		l.log.Debug("[BLE] dropping partial frame", "bytes", n)
		l.codec.Reset()
	}
	l.ch.Close()
	if err := l.tr.Disconnect(); err != nil {
		l.log.Debug("[BLE] disconnect", "error", err)
	}
	l.client.finish(l, next, cause)
	close(l.done)
	l.log.Info("[BLE] session ended", "state", next)
}

func (l *loop) serve() (State, error) {
	var tick <-chan time.Time
	if l.keepalive > 0 {
		t := time.NewTicker(max(l.keepalive/2, minKeepaliveTick))
		defer t.Stop()
		tick = t.C
	}

	if err := l.handleFrames(l.backlog); err != nil {
		return l.fail(err)
	}
	l.backlog = nil

	for {
		select {
		case chunk := <-l.tr.Notifications():
			frames, ferr := l.codec.Feed(chunk)
			if err := l.handleFrames(frames); err != nil {
				return l.fail(err)
			}
			if ferr != nil {
				return l.fail(ferr)
			}

		case <-l.tr.Closed():
			n := l.engine.FailAll(register.ErrConnectionLost)
			l.log.Warn("[BLE] connection lost", "failed_requests", n)
			return StateDisconnected, register.ErrConnectionLost

		case cmd := <-l.inbox:
			l.handleCommand(cmd)

		case fire := <-l.timers:
			fire()

		case <-tick:
			l.keepaliveTick()

		case <-l.quit:
			n := l.engine.FailAll(fmt.Errorf("%w: disconnect requested", register.ErrConnectionLost))
			l.log.Info("[BLE] disconnecting", "failed_requests", n)
			return StateDisconnected, nil
		}

		if l.ch.Closed() {
			return l.fail(fmt.Errorf("%w: closed after send failure", channel.ErrChannel))
		}
	}
}

func (l *loop) handleFrames(frames []protocol.Frame) error {
	for _, f := range frames {
		pt, err := l.ch.Receive(f)
		if err != nil {
			return err
		}
		if pt == nil {
			continue
		}
		l.lastActivity = time.Now()
		l.engine.HandleMessage(pt)
	}
	return nil
}

func (l *loop) handleCommand(cmd command) {
	c := cmd.call
	if cmd.cancel {
		if c.req != nil && !c.resolved {
			c.resolved = true
			l.engine.Cancel(c.req.Token)
		}
		return
	}

	c.req = &register.Request{
		Op:      c.op,
		Address: c.addr,
		Data:    c.data,
		Done: func(r register.Result) {
			c.resolved = true
			c.result <- r
		},
	}
	if err := l.engine.Submit(c.req); err != nil {
		c.resolved = true
		c.result <- register.Result{Err: err}
	}
}

func (l *loop) keepaliveTick() {
	if l.engine.Pending() > 0 || time.Since(l.lastActivity) < l.keepalive {
		return
	}
	req := &register.Request{
		Op:      register.OpPing,
		Address: register.PingAddress,
		Done: func(r register.Result) {
			if r.Err != nil {
				l.log.Warn("[BLE] keepalive failed", "error", r.Err)
			}
		},
	}
	if err := l.engine.Submit(req); err != nil {
		l.log.Warn("[BLE] keepalive not sent", "error", err)
	}
}

// fail ends the session on an unrecoverable channel error.
func (l *loop) fail(err error) (State, error) {
	n := l.engine.FailAll(err)
	l.log.Error("[BLE] session faulted", "error", err, "failed_requests", n)
	return StateFaulted, err
}
