package register

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/chaz8081/scooter-ble/internal/ble/protocol"
)

// Encoding is the wire representation of a register's words.
type Encoding uint8

const (
	EncUint16 Encoding = iota
	EncInt16
	EncUint32 // two little-endian words, low word first
	EncString
	EncHex
	EncVersion // one word, rendered major.minor.patch
	EncEnum
)

// Layout describes how to read and decode one address.
type Layout struct {
	Words    int
	Encoding Encoding
	Enum     []string // EncEnum names indexed by ordinal
	ReadOnly bool
	// WriteOnly registers are control triggers with nothing to read.
	WriteOnly bool
}

// ReadLen is the byte count requested from the device.
func (l Layout) ReadLen() int { return l.Words * 2 }

var (
	operationModes = []string{"normal", "eco", "sport"}
	kersLevels     = []string{"off", "medium", "strong"}
)

func ctrl(i uint8) Address { return Address{Device: protocol.DeviceController, Index: i} }
func bms(i uint8) Address  { return Address{Device: protocol.DeviceBattery, Index: i} }

// layouts is fixed by the protocol version; it is never mutated.
var layouts = map[Address]Layout{
	ctrl(0x10): {Words: 7, Encoding: EncString, ReadOnly: true},
	ctrl(0x17): {Words: 3, Encoding: EncString, ReadOnly: true},
	ctrl(0x1A): {Words: 1, Encoding: EncVersion, ReadOnly: true},
	ctrl(0x1B): {Words: 1, Encoding: EncUint16, ReadOnly: true},
	ctrl(0x1C): {Words: 1, Encoding: EncUint16, ReadOnly: true},
	ctrl(0x1D): {Words: 1, Encoding: EncUint16, ReadOnly: true},
	ctrl(0x24): {Words: 1, Encoding: EncUint16, ReadOnly: true},
	ctrl(0x25): {Words: 1, Encoding: EncUint16, ReadOnly: true},
	ctrl(0x29): {Words: 2, Encoding: EncUint32, ReadOnly: true},
	ctrl(0x32): {Words: 2, Encoding: EncUint32, ReadOnly: true},
	ctrl(0x34): {Words: 2, Encoding: EncUint32, ReadOnly: true},
	ctrl(0x3E): {Words: 1, Encoding: EncUint16, ReadOnly: true},
	ctrl(0x47): {Words: 1, Encoding: EncUint16, ReadOnly: true},
	ctrl(0x65): {Words: 1, Encoding: EncUint16, ReadOnly: true},
	ctrl(0x66): {Words: 1, Encoding: EncUint16, ReadOnly: true},
	ctrl(0x68): {Words: 1, Encoding: EncVersion, ReadOnly: true},
	ctrl(0x70): {Words: 1, Encoding: EncUint16, WriteOnly: true},
	ctrl(0x71): {Words: 1, Encoding: EncUint16, WriteOnly: true},
	ctrl(0x72): {Words: 1, Encoding: EncInt16},
	ctrl(0x73): {Words: 1, Encoding: EncInt16},
	ctrl(0x74): {Words: 1, Encoding: EncInt16},
	ctrl(0x75): {Words: 1, Encoding: EncEnum, Enum: operationModes},
	ctrl(0x7B): {Words: 1, Encoding: EncEnum, Enum: kersLevels},
	ctrl(0x7C): {Words: 1, Encoding: EncUint16},
	ctrl(0x7D): {Words: 1, Encoding: EncUint16},
	ctrl(0xB9): {Words: 1, Encoding: EncUint16, ReadOnly: true},
	ctrl(0xBA): {Words: 1, Encoding: EncUint16, ReadOnly: true},

	bms(0x10): {Words: 7, Encoding: EncHex, ReadOnly: true},
	bms(0x17): {Words: 1, Encoding: EncUint16, ReadOnly: true},
	bms(0x18): {Words: 1, Encoding: EncUint16, ReadOnly: true},
	bms(0x1F): {Words: 1, Encoding: EncUint16, ReadOnly: true},
	bms(0x31): {Words: 1, Encoding: EncUint16, ReadOnly: true},
	bms(0x32): {Words: 1, Encoding: EncUint16, ReadOnly: true},
	bms(0x33): {Words: 1, Encoding: EncInt16, ReadOnly: true},
	bms(0x34): {Words: 1, Encoding: EncUint16, ReadOnly: true},
	bms(0x35): {Words: 1, Encoding: EncUint16, ReadOnly: true},
	bms(0x36): {Words: 1, Encoding: EncUint16, ReadOnly: true},
	bms(0x37): {Words: 1, Encoding: EncUint16, ReadOnly: true},
	bms(0x38): {Words: 1, Encoding: EncUint16, ReadOnly: true},
	bms(0x3B): {Words: 1, Encoding: EncUint16, ReadOnly: true},
}

// LayoutFor returns the layout of addr.
func LayoutFor(addr Address) (Layout, bool) {
	l, ok := layouts[addr]
	return l, ok
}

// Decode turns a READ_ACK payload into a typed value.
func Decode(addr Address, data []byte) (Value, error) {
	l, ok := layouts[addr]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrUnknownRegister, addr)
	}
	if len(data) != l.ReadLen() {
		return Value{}, fmt.Errorf("%w: %s: got %d bytes, want %d", ErrDecode, addr, len(data), l.ReadLen())
	}

	raw := append([]byte(nil), data...)
	v := Value{Address: addr, Kind: KindInt, Raw: raw}
	switch l.Encoding {
	case EncUint16:
		v.Int = int64(binary.LittleEndian.Uint16(raw))
	case EncInt16:
		v.Int = int64(int16(binary.LittleEndian.Uint16(raw)))
	case EncUint32:
		lo := uint32(binary.LittleEndian.Uint16(raw[0:2]))
		hi := uint32(binary.LittleEndian.Uint16(raw[2:4]))
		v.Int = int64(hi<<16 | lo)
	case EncString:
		v.Kind = KindBlob
		v.Text = strings.TrimRight(string(raw), "\x00")
	case EncHex:
		v.Kind = KindBlob
		v.Text = strings.ToUpper(hex.EncodeToString(raw))
	case EncVersion:
		w := binary.LittleEndian.Uint16(raw)
		v.Int = int64(w)
		v.Kind = KindBlob
		v.Text = fmt.Sprintf("%d.%d.%d", w>>8, (w>>4)&0x0F, w&0x0F)
	case EncEnum:
		n := binary.LittleEndian.Uint16(raw)
		if int(n) >= len(l.Enum) {
			return Value{}, fmt.Errorf("%w: %s: enum ordinal %d out of range", ErrDecode, addr, n)
		}
		v.Kind = KindEnum
		v.Int = int64(n)
		v.Text = l.Enum[n]
	default:
		return Value{}, fmt.Errorf("%w: %s: unsupported encoding %d", ErrDecode, addr, l.Encoding)
	}
	return v, nil
}

// EncodeWord encodes a write value for a one-word register.
func EncodeWord(addr Address, n int64) ([]byte, error) {
	l, ok := layouts[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRegister, addr)
	}
	if l.Words != 1 {
		return nil, fmt.Errorf("register: %s is %d words wide", addr, l.Words)
	}
	switch l.Encoding {
	case EncInt16:
		if n < -32768 || n > 32767 {
			return nil, fmt.Errorf("register: %d out of int16 range for %s", n, addr)
		}
	case EncEnum:
		if n < 0 || int(n) >= len(l.Enum) {
			return nil, fmt.Errorf("register: %d is not a valid value for %s", n, addr)
		}
	default:
		if n < 0 || n > 0xFFFF {
			return nil, fmt.Errorf("register: %d out of uint16 range for %s", n, addr)
		}
	}
	return binary.LittleEndian.AppendUint16(nil, uint16(n)), nil
}

// EnumOrdinal resolves an enum name for addr.
func EnumOrdinal(addr Address, name string) (int64, bool) {
	l, ok := layouts[addr]
	if !ok || l.Encoding != EncEnum {
		return 0, false
	}
	for i, n := range l.Enum {
		if strings.EqualFold(n, name) {
			return int64(i), true
		}
	}
	return 0, false
}
