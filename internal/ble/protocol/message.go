package protocol

import (
	"encoding/binary"
	"fmt"
)

// Command is the operation byte of a register message.
type Command uint8

const (
	CmdRead     Command = 0x01
	CmdWrite    Command = 0x02
	CmdReadAck  Command = 0x04
	CmdWriteAck Command = 0x05
	CmdPing     Command = 0x5C
)

func (c Command) String() string {
	switch c {
	case CmdRead:
		return "READ"
	case CmdWrite:
		return "WRITE"
	case CmdReadAck:
		return "READ_ACK"
	case CmdWriteAck:
		return "WRITE_ACK"
	case CmdPing:
		return "PING"
	default:
		return fmt.Sprintf("CMD(0x%02X)", uint8(c))
	}
}

// Reply returns the command a device answers c with.
func (c Command) Reply() Command {
	switch c {
	case CmdRead:
		return CmdReadAck
	case CmdWrite:
		return CmdWriteAck
	default:
		return c
	}
}

// DeviceID addresses a unit on the scooter's internal bus.
type DeviceID uint8

const (
	DeviceController DeviceID = 0x20
	DeviceBLE        DeviceID = 0x21
	DeviceBattery    DeviceID = 0x22
)

func (d DeviceID) String() string {
	switch d {
	case DeviceController:
		return "controller"
	case DeviceBLE:
		return "ble"
	case DeviceBattery:
		return "battery"
	default:
		return fmt.Sprintf("device(0x%02X)", uint8(d))
	}
}

// MessageHeaderSize is cmd (1) | target (1) | index (1) | token (2).
const MessageHeaderSize = 5

// Message is a register request or response carried in the secure channel.
type Message struct {
	Command Command
	Target  DeviceID
	Index   uint8
	Token   uint16
	Data    []byte
}

// MarshalMessage encodes m into its wire layout.
func MarshalMessage(m Message) []byte {
	buf := make([]byte, 0, MessageHeaderSize+len(m.Data))
	buf = append(buf, byte(m.Command), byte(m.Target), m.Index)
	buf = binary.LittleEndian.AppendUint16(buf, m.Token)
	return append(buf, m.Data...)
}

// UnmarshalMessage decodes a register message. Data aliases a copy of the
// input, never the input itself.
func UnmarshalMessage(data []byte) (Message, error) {
	if len(data) < MessageHeaderSize {
		return Message{}, fmt.Errorf("protocol: message too short: %d < %d bytes", len(data), MessageHeaderSize)
	}
	m := Message{
		Command: Command(data[0]),
		Target:  DeviceID(data[1]),
		Index:   data[2],
		Token:   binary.LittleEndian.Uint16(data[3:5]),
	}
	if len(data) > MessageHeaderSize {
		m.Data = make([]byte, len(data)-MessageHeaderSize)
		copy(m.Data, data[MessageHeaderSize:])
	}
	return m, nil
}
