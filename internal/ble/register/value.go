// Package register maps application reads and writes of numbered scooter
// registers onto secure-channel messages: the fixed per-address decode
// table, the named register catalog, the pending-request table, and the
// request engine with its timeout and retry policy.
package register

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/chaz8081/scooter-ble/internal/ble/protocol"
)

// Address identifies a register: the bus device and its word index.
type Address struct {
	Device protocol.DeviceID
	Index  uint8
}

func (a Address) String() string {
	return fmt.Sprintf("%s/0x%02X", a.Device, a.Index)
}

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindInt Kind = iota
	KindEnum
	KindBlob
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindEnum:
		return "enum"
	case KindBlob:
		return "blob"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is an immutable decoded register read.
type Value struct {
	Address Address
	Kind    Kind
	// Int holds integers and enum ordinals.
	Int int64
	// Text is the enum name, or the rendered blob (string, hex, version).
	Text string
	// Raw is the payload as received.
	Raw []byte
}

func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindEnum, KindBlob:
		return v.Text
	default:
		return hex.EncodeToString(v.Raw)
	}
}
