package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Transport is a connected byte pipe to the scooter's UART service.
type Transport interface {
	// Write sends one chunk no larger than the negotiated MTU.
	Write(chunk []byte) error
	// Notifications yields received chunks in arrival order.
	Notifications() <-chan []byte
	// Closed is closed once the link is gone, for whatever reason.
	Closed() <-chan struct{}
	// Disconnect tears the link down. It is safe to call more than once.
	Disconnect() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, device string) (Transport, error)
}

// DefaultNotifyBuffer is the depth of the notification queue.
const DefaultNotifyBuffer = 256

// AdapterDialer opens transports over a BLE adapter.
type AdapterDialer struct {
	Adapter Adapter
	Buffer  int
}

// NewAdapterDialer returns a dialer using adapter.
func NewAdapterDialer(adapter Adapter) *AdapterDialer {
	return &AdapterDialer{Adapter: adapter, Buffer: DefaultNotifyBuffer}
}

// Dial connects to device, discovers the UART characteristics and
// subscribes to notifications.
func (d *AdapterDialer) Dial(ctx context.Context, device string) (Transport, error) {
	if err := d.Adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	conn, err := d.Adapter.Connect(ctx, device)
	if err != nil {
		return nil, err
	}

	rx, err := conn.DiscoverCharacteristic(ServiceUUID, RXCharUUID)
	if err != nil {
		_ = conn.Disconnect()
		return nil, fmt.Errorf("ble: discover RX characteristic: %w", err)
	}
	tx, err := conn.DiscoverCharacteristic(ServiceUUID, TXCharUUID)
	if err != nil {
		_ = conn.Disconnect()
		return nil, fmt.Errorf("ble: discover TX characteristic: %w", err)
	}

	buf := d.Buffer
	if buf <= 0 {
		buf = DefaultNotifyBuffer
	}
	t := &gattTransport{
		device: device,
		conn:   conn,
		rx:     rx,
		notes:  make(chan []byte, buf),
		closed: make(chan struct{}),
	}
	conn.OnDisconnect(func() {
		slog.Warn("[BLE] link dropped", "device", device)
		t.markClosed()
	})
	if err := tx.Subscribe(t.deliver); err != nil {
		_ = conn.Disconnect()
		return nil, fmt.Errorf("ble: subscribe to notifications: %w", err)
	}
	return t, nil
}

var _ Dialer = (*AdapterDialer)(nil)

type gattTransport struct {
	device string
	conn   Connection
	rx     Characteristic
	notes  chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// deliver runs on the BLE stack's callback goroutine. The buffer it gets
// is only valid for the duration of the call.
func (t *gattTransport) deliver(data []byte) {
	chunk := append([]byte(nil), data...)
	select {
	case t.notes <- chunk:
	case <-t.closed:
	}
}

func (t *gattTransport) Write(chunk []byte) error {
	select {
	case <-t.closed:
		return fmt.Errorf("%w: %s: link closed", ErrTransport, t.device)
	default:
	}
	if err := t.rx.Write(chunk); err != nil {
		return fmt.Errorf("%w: write to %s: %w", ErrTransport, t.device, err)
	}
	return nil
}

func (t *gattTransport) Notifications() <-chan []byte { return t.notes }

func (t *gattTransport) Closed() <-chan struct{} { return t.closed }

func (t *gattTransport) Disconnect() error {
	select {
	case <-t.closed:
		return nil
	default:
	}
	t.markClosed()
	if err := t.conn.Disconnect(); err != nil {
		return fmt.Errorf("%w: disconnect %s: %w", ErrTransport, t.device, err)
	}
	return nil
}

func (t *gattTransport) markClosed() {
	t.closeOnce.Do(func() { close(t.closed) })
}
