// Package ble provides the BLE client for a scooter's encrypted register
// protocol. It handles connection management, the session handshake, and
// register reads and writes over the Nordic UART service.
package ble

import (
	"context"
	"slices"
)

// Nordic UART service UUIDs used by the scooter's BLE module.
const (
	ServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	RXCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e" // client writes
	TXCharUUID  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e" // device notifies
)

// NinebotManufacturerID is the company id scooters put in their
// advertisement's manufacturer data.
const NinebotManufacturerID uint16 = 0x424E

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name            string
	Address         string // MAC address, or a CoreBluetooth UUID on macOS
	RSSI            int
	ManufacturerIDs []uint16 // company ids from the advertisement
}

// IsScooter reports whether d advertises the Ninebot manufacturer id.
func (d Device) IsScooter() bool {
	return slices.Contains(d.ManufacturerIDs, NinebotManufacturerID)
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals advertising the given service UUID.
	// Returns discovered devices until ctx is cancelled or timeout.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
