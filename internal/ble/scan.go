package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrNoDevice is returned when a scan finds no matching scooter.
var ErrNoDevice = errors.New("ble: no scooter found")

// ScanForDevices scans for scooters: devices advertising the UART service
// and the Ninebot manufacturer id. Other UART peripherals are skipped.
func ScanForDevices(adapter Adapter, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	found, err := adapter.Scan(ctx, ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	var devices []Device
	for _, d := range found {
		if !d.IsScooter() {
			slog.Debug("[BLE] skipping non-scooter UART device", "name", d.Name, "address", d.Address)
			continue
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// FindDevice scans and picks a scooter. With a non-empty name it returns
// the first device whose advertised name matches (case-insensitively);
// otherwise the one with the strongest signal.
func FindDevice(adapter Adapter, timeout time.Duration, name string) (Device, error) {
	devices, err := ScanForDevices(adapter, timeout)
	if err != nil {
		return Device{}, err
	}

	var best *Device
	for i := range devices {
		d := &devices[i]
		if name != "" {
			if strings.EqualFold(d.Name, name) {
				return *d, nil
			}
			continue
		}
		if best == nil || d.RSSI > best.RSSI {
			best = d
		}
	}
	if best == nil {
		if name != "" {
			return Device{}, fmt.Errorf("%w named %q", ErrNoDevice, name)
		}
		return Device{}, ErrNoDevice
	}
	return *best, nil
}
