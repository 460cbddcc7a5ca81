package register

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		addr     Address
		data     []byte
		wantKind Kind
		wantInt  int64
		wantText string
	}{
		{"uint16", bms(0x32), []byte{0x57, 0x00}, KindInt, 87, ""},
		{"int16 negative", bms(0x33), []byte{0x9C, 0xFF}, KindInt, -100, ""},
		{"uint32 low word first", ctrl(0x29), []byte{0x34, 0x12, 0x01, 0x00}, KindInt, 0x11234, ""},
		{"string trims padding", ctrl(0x17), []byte{'1', '2', '3', '4', 0, 0}, KindBlob, 0, "1234"},
		{"hex", bms(0x10), []byte{0xDE, 0xAD, 0xBE, 0xEF, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, KindBlob, 0, "DEADBEEF00010203040506070809"},
		{"version", ctrl(0x1A), []byte{0x52, 0x01}, KindBlob, 0x0152, "1.5.2"},
		{"enum", ctrl(0x75), []byte{0x02, 0x00}, KindEnum, 2, "sport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Decode(tt.addr, tt.data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if v.Kind != tt.wantKind || v.Int != tt.wantInt || v.Text != tt.wantText {
				t.Errorf("Decode() = {%v %d %q}, want {%v %d %q}", v.Kind, v.Int, v.Text, tt.wantKind, tt.wantInt, tt.wantText)
			}
			if !bytes.Equal(v.Raw, tt.data) {
				t.Errorf("Raw = % X, want % X", v.Raw, tt.data)
			}
		})
	}
}

func TestDecodeRawIsCopied(t *testing.T) {
	data := []byte{1, 0}
	v, err := Decode(bms(0x32), data)
	if err != nil {
		t.Fatal(err)
	}
	data[0] = 9
	if v.Raw[0] != 1 {
		t.Error("Value shares its buffer with the caller")
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		addr Address
		data []byte
		want error
	}{
		{"unknown", ctrl(0x02), []byte{0, 0}, ErrUnknownRegister},
		{"short", bms(0x32), []byte{1}, ErrDecode},
		{"long", bms(0x32), []byte{1, 2, 3}, ErrDecode},
		{"enum out of range", ctrl(0x7B), []byte{3, 0}, ErrDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.addr, tt.data); !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEncodeWord(t *testing.T) {
	got, err := EncodeWord(ctrl(0x72), -5)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0xFB, 0xFF}) {
		t.Errorf("EncodeWord(-5) = % X, want FB FF", got)
	}

	for _, tc := range []struct {
		addr Address
		n    int64
	}{
		{ctrl(0x7C), -1},
		{ctrl(0x7C), 0x10000},
		{ctrl(0x72), 40000},
		{ctrl(0x75), 3},
		{ctrl(0x29), 1},
	} {
		if _, err := EncodeWord(tc.addr, tc.n); err == nil {
			t.Errorf("EncodeWord(%v, %d) should fail", tc.addr, tc.n)
		}
	}
}

func TestEnumOrdinal(t *testing.T) {
	if n, ok := EnumOrdinal(ctrl(0x7B), "Strong"); !ok || n != 2 {
		t.Errorf("EnumOrdinal(kers, Strong) = %d, %v; want 2, true", n, ok)
	}
	if _, ok := EnumOrdinal(ctrl(0x7B), "max"); ok {
		t.Error("EnumOrdinal(kers, max) should fail")
	}
	if _, ok := EnumOrdinal(bms(0x32), "eco"); ok {
		t.Error("EnumOrdinal on a non-enum register should fail")
	}
}

func TestAddressString(t *testing.T) {
	if got := ctrl(0x1A).String(); got != "controller/0x1A" {
		t.Errorf("String() = %q", got)
	}
}
