package ble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/scooter-ble/internal/ble/channel"
	blecrypto "github.com/chaz8081/scooter-ble/internal/ble/crypto"
	"github.com/chaz8081/scooter-ble/internal/ble/protocol"
	"github.com/chaz8081/scooter-ble/internal/ble/register"
)

var (
	addrBatteryPercent = register.Address{Device: protocol.DeviceBattery, Index: 0x32}
	addrBatteryVoltage = register.Address{Device: protocol.DeviceBattery, Index: 0x34}
	addrFirmware       = register.Address{Device: protocol.DeviceController, Index: 0x1A}
	addrSerial         = register.Address{Device: protocol.DeviceController, Index: 0x10}
	addrCruise         = register.Address{Device: protocol.DeviceController, Index: 0x7C}
	addrTailLight      = register.Address{Device: protocol.DeviceController, Index: 0x7D}
)

// fakeScooter plays the peripheral side of the protocol with the real
// Noise responder and secure channel. Register state survives reconnects.
type fakeScooter struct {
	t        *testing.T
	prologue string

	mu            sync.Mutex
	regs          map[register.Address][]byte
	silent        map[register.Address]bool
	muteHandshake bool
	dropHandshake bool // drop the link on the first handshake frame
	received      []protocol.Message
	peer          *peripheral
}

func newFakeScooter(t *testing.T) *fakeScooter {
	return &fakeScooter{
		t: t,
		regs: map[register.Address][]byte{
			addrBatteryPercent: {87, 0},
			addrBatteryVoltage: {0x2C, 0x0F},
			addrFirmware:       {0x52, 0x01},
			addrSerial:         []byte("N4GSD2011C1234"),
			addrCruise:         {0, 0},
			addrTailLight:      {1, 0},
		},
		silent: map[register.Address]bool{},
	}
}

// newScooterClient wires a client to a fresh fake scooter.
func newScooterClient(t *testing.T, opts ClientOptions) (*Client, *fakeScooter, *mockAdapter) {
	t.Helper()
	s := newFakeScooter(t)
	adapter := newMockAdapter(nil)
	adapter.onConnect = s.attach
	if opts.NewCrypto == nil {
		opts.NewCrypto = NoiseInitiator(s.prologue, nil)
	}
	c := NewClient(NewAdapterDialer(adapter), opts)
	t.Cleanup(func() {
		if c.State() == StateReady {
			_ = c.Disconnect(context.Background())
		}
	})
	return c, s, adapter
}

func (s *fakeScooter) setSilent(addr register.Address, silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent[addr] = silent
}

func (s *fakeScooter) reg(addr register.Address) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.regs[addr]...)
}

// count returns how many messages with cmd the scooter has received.
func (s *fakeScooter) count(cmd protocol.Command) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.received {
		if m.Command == cmd {
			n++
		}
	}
	return n
}

func (s *fakeScooter) messages() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.received...)
}

func (s *fakeScooter) current() *peripheral {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// attach starts a new peripheral session for conn.
func (s *fakeScooter) attach(conn *mockConnection) {
	n, err := blecrypto.NewNoise(blecrypto.NoiseConfig{Prologue: []byte(s.prologue)})
	if err != nil {
		s.t.Errorf("responder noise: %v", err)
		return
	}
	p := &peripheral{
		scooter: s,
		conn:    conn,
		noise:   n,
		codec:   protocol.NewCodec(protocol.DefaultMTU),
		inbox:   make(chan []byte, 256),
		stop:    make(chan struct{}),
	}
	conn.rxChar.onWrite = p.receive
	conn.onClose = p.close

	s.mu.Lock()
	s.peer = p
	s.mu.Unlock()
	go p.run()
}

// answer returns the reply to msg, or false to stay silent.
func (s *fakeScooter) answer(msg protocol.Message) (protocol.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, msg)

	addr := register.Address{Device: msg.Target, Index: msg.Index}
	if s.silent[addr] {
		return protocol.Message{}, false
	}
	reply := protocol.Message{Command: msg.Command.Reply(), Target: msg.Target, Index: msg.Index, Token: msg.Token}
	switch msg.Command {
	case protocol.CmdRead:
		data, ok := s.regs[addr]
		if !ok {
			return protocol.Message{}, false
		}
		reply.Data = append([]byte(nil), data...)
	case protocol.CmdWrite:
		s.regs[addr] = append([]byte(nil), msg.Data...)
		reply.Data = []byte{0}
	case protocol.CmdPing:
		reply.Data = []byte{1}
	default:
		return protocol.Message{}, false
	}
	return reply, true
}

// peripheral is the scooter's side of one connection.
type peripheral struct {
	scooter *fakeScooter
	conn    *mockConnection
	noise   *blecrypto.Noise
	codec   *protocol.Codec
	ch      *channel.Channel

	inbox    chan []byte
	stop     chan struct{}
	stopOnce sync.Once

	pending [][]byte // chunks of the message being sent

	// sendMu is held while a reply is being sent, so replayLast never
	// sees a half-recorded message.
	sendMu sync.Mutex
	last   [][]byte // chunks of the last secure message sent
}

func (p *peripheral) receive(chunk []byte) error {
	select {
	case p.inbox <- chunk:
		return nil
	case <-p.stop:
		return errors.New("peripheral: link closed")
	}
}

func (p *peripheral) close() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *peripheral) run() {
	for {
		select {
		case <-p.stop:
			return
		case chunk := <-p.inbox:
			p.handle(chunk)
		}
	}
}

func (p *peripheral) handle(chunk []byte) {
	frames, err := p.codec.Feed(chunk)
	if err != nil {
		p.scooter.t.Logf("peripheral: %v", err)
	}
	for _, f := range frames {
		if p.ch == nil {
			p.handshake(f)
			continue
		}
		pt, err := p.ch.Receive(f)
		if err != nil || pt == nil {
			continue
		}
		msg, err := protocol.UnmarshalMessage(pt)
		if err != nil {
			continue
		}
		reply, ok := p.scooter.answer(msg)
		if !ok {
			continue
		}
		p.sendMu.Lock()
		p.pending = nil
		if err := p.ch.Send(protocol.MarshalMessage(reply)); err != nil {
			p.scooter.t.Logf("peripheral send: %v", err)
		} else {
			p.last = p.pending
		}
		p.sendMu.Unlock()
	}
}

func (p *peripheral) handshake(f protocol.Frame) {
	p.scooter.mu.Lock()
	mute, drop := p.scooter.muteHandshake, p.scooter.dropHandshake
	p.scooter.mu.Unlock()
	if drop {
		go p.conn.SimulateDisconnect()
		return
	}
	if mute {
		return
	}

	out, sess, done, err := p.noise.ProcessHandshakeMessage(f.Payload)
	if err != nil {
		p.scooter.t.Logf("peripheral handshake: %v", err)
		return
	}
	if len(out) > 0 {
		chunks, err := p.codec.Encode(out)
		if err != nil {
			p.scooter.t.Errorf("peripheral encode: %v", err)
			return
		}
		for _, c := range chunks {
			p.conn.txChar.SimulateNotification(c)
		}
	}
	if done {
		p.ch = channel.New(p.codec, p.noise, sess, p.notify)
	}
}

func (p *peripheral) notify(chunk []byte) error {
	p.pending = append(p.pending, append([]byte(nil), chunk...))
	p.conn.txChar.SimulateNotification(chunk)
	return nil
}

// replayLast resends the chunks of the previous secure message verbatim.
func (p *peripheral) replayLast() {
	p.sendMu.Lock()
	last := p.last
	p.sendMu.Unlock()
	for _, c := range last {
		p.conn.txChar.SimulateNotification(c)
	}
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
