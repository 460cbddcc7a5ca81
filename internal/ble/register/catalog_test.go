package register

import (
	"bytes"
	"errors"
	"testing"
)

func mustLookup(t *testing.T, name string) Register {
	t.Helper()
	r, ok := Lookup(name)
	if !ok {
		t.Fatalf("Lookup(%q) not found", name)
	}
	return r
}

func TestCatalogAddressesHaveLayouts(t *testing.T) {
	seen := map[string]bool{}
	for _, r := range Catalog() {
		if seen[r.Name] {
			t.Errorf("duplicate catalog name %q", r.Name)
		}
		seen[r.Name] = true
		if _, ok := LayoutFor(r.Address); !ok {
			t.Errorf("%s: no layout for %v", r.Name, r.Address)
		}
	}
}

func TestCatalogFormat(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"battery-percent", []byte{87, 0}, "87 %"},
		{"battery-voltage", []byte{0x2C, 0x0F}, "38.84 V"},
		{"odometer", []byte{0x10, 0x27, 0x00, 0x00}, "10 km"},
		{"locked", []byte{0x02, 0x00}, "true"},
		{"speed-limited", []byte{0x02, 0x00}, "false"},
		{"battery-temp-1", []byte{45, 44}, "25 °C"},
		{"battery-temp-2", []byte{45, 44}, "24 °C"},
		{"operation-mode", []byte{1, 0}, "eco"},
		{"firmware", []byte{0x52, 0x01}, "1.5.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustLookup(t, tt.name)
			v, err := Decode(r.Address, tt.data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got := r.Format(v); got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCatalogAccess(t *testing.T) {
	if r := mustLookup(t, "lock"); r.Readable() || !r.Writable() {
		t.Error("lock should be write-only")
	}
	if r := mustLookup(t, "serial"); !r.Readable() || r.Writable() {
		t.Error("serial should be read-only")
	}
	if r := mustLookup(t, "locked"); r.Writable() {
		t.Error("bit fields should not be writable")
	}
	if r := mustLookup(t, "cruise"); !r.Readable() || !r.Writable() {
		t.Error("cruise should be read-write")
	}
}

func TestParseWrite(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []byte
	}{
		{"cruise", "1", []byte{1, 0}},
		{"kers", "strong", []byte{2, 0}},
		{"operation-mode", "1", []byte{1, 0}},
		{"speed-limit", "25", []byte{0xFA, 0x00}},
		{"lock", "1", []byte{1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mustLookup(t, tt.name).ParseWrite(tt.input)
			if err != nil {
				t.Fatalf("ParseWrite(%q) error = %v", tt.input, err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("ParseWrite(%q) = % X, want % X", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseWriteErrors(t *testing.T) {
	if _, err := mustLookup(t, "odometer").ParseWrite("1"); !errors.Is(err, ErrNotWritable) {
		t.Errorf("ParseWrite(odometer) error = %v, want ErrNotWritable", err)
	}
	if _, err := mustLookup(t, "cruise").ParseWrite("yes"); err == nil {
		t.Error("ParseWrite(yes) should fail")
	}
	if _, err := mustLookup(t, "kers").ParseWrite("7"); err == nil {
		t.Error("ParseWrite(7) on kers should fail")
	}
}

func TestLookupUnknown(t *testing.T) {
	if _, ok := Lookup("warp-drive"); ok {
		t.Error("Lookup(warp-drive) should fail")
	}
}
