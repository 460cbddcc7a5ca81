package protocol

import (
	"bytes"
	"testing"
)

func TestMarshalMessage(t *testing.T) {
	got := MarshalMessage(Message{
		Command: CmdRead,
		Target:  DeviceBattery,
		Index:   0x32,
		Token:   0x0102,
		Data:    []byte{0x02},
	})
	want := []byte{0x01, 0x22, 0x32, 0x02, 0x01, 0x02}
	if !bytes.Equal(got, want) {
		t.Errorf("MarshalMessage() = % X, want % X", got, want)
	}
}

func TestUnmarshalMessage(t *testing.T) {
	raw := []byte{0x04, 0x20, 0x1A, 0x07, 0x00, 0x34, 0x01}
	m, err := UnmarshalMessage(raw)
	if err != nil {
		t.Fatalf("UnmarshalMessage() error = %v", err)
	}
	if m.Command != CmdReadAck {
		t.Errorf("Command = %v, want %v", m.Command, CmdReadAck)
	}
	if m.Target != DeviceController {
		t.Errorf("Target = %v, want %v", m.Target, DeviceController)
	}
	if m.Index != 0x1A || m.Token != 7 {
		t.Errorf("Index/Token = 0x%02X/%d, want 0x1A/7", m.Index, m.Token)
	}
	if !bytes.Equal(m.Data, []byte{0x34, 0x01}) {
		t.Errorf("Data = % X, want 34 01", m.Data)
	}

	raw[5] = 0xFF
	if m.Data[0] != 0x34 {
		t.Error("Data aliases the input buffer")
	}
}

func TestUnmarshalMessageTooShort(t *testing.T) {
	if _, err := UnmarshalMessage([]byte{0x04, 0x20}); err == nil {
		t.Error("expected error for truncated message")
	}
}

func TestUnmarshalMessageNoData(t *testing.T) {
	m, err := UnmarshalMessage([]byte{0x05, 0x20, 0x70, 0x01, 0x00})
	if err != nil {
		t.Fatalf("UnmarshalMessage() error = %v", err)
	}
	if m.Data != nil {
		t.Errorf("Data = % X, want nil", m.Data)
	}
}

func TestCommandReply(t *testing.T) {
	tests := []struct {
		cmd  Command
		want Command
	}{
		{CmdRead, CmdReadAck},
		{CmdWrite, CmdWriteAck},
		{CmdPing, CmdPing},
	}
	for _, tt := range tests {
		if got := tt.cmd.Reply(); got != tt.want {
			t.Errorf("%v.Reply() = %v, want %v", tt.cmd, got, tt.want)
		}
	}
}
