package register

import (
	"math"
	"strconv"
	"strings"
)

// Field selects the part of a register word a catalog entry presents.
type Field uint8

const (
	FieldWhole Field = iota
	FieldBit
	FieldLowByte
	FieldHighByte
)

// Register is a named view of an address, as presented to users.
type Register struct {
	Name        string // flag-style name, e.g. "battery-percent"
	Description string
	Address     Address
	Field       Field
	Bit         uint8
	Scale       float64 // multiplier; zero means 1
	Offset      float64
	Decimals    int
	Unit        string
}

// Readable reports whether the register can be read.
func (r Register) Readable() bool {
	l, ok := LayoutFor(r.Address)
	return ok && !l.WriteOnly
}

// Writable reports whether the register accepts writes.
func (r Register) Writable() bool {
	l, ok := LayoutFor(r.Address)
	return ok && !l.ReadOnly && r.Field == FieldWhole
}

// Quantity extracts the presented number from v.
func (r Register) Quantity(v Value) float64 {
	n := v.Int
	switch r.Field {
	case FieldBit:
		n = (n >> r.Bit) & 1
	case FieldLowByte:
		n &= 0xFF
	case FieldHighByte:
		n = (n >> 8) & 0xFF
	}
	q := float64(n)
	if r.Scale != 0 {
		q *= r.Scale
	}
	q += r.Offset
	if r.Decimals >= 0 {
		p := math.Pow10(r.Decimals)
		q = math.Round(q*p) / p
	}
	return q
}

// Format renders v for display, including the unit.
func (r Register) Format(v Value) string {
	var s string
	switch {
	case v.Kind == KindEnum || v.Kind == KindBlob:
		s = v.Text
	case r.Field == FieldBit:
		s = strconv.FormatBool(r.Quantity(v) != 0)
	default:
		s = strconv.FormatFloat(r.Quantity(v), 'f', -1, 64)
	}
	if r.Unit != "" {
		s += " " + r.Unit
	}
	return s
}

// ParseWrite converts user input into the bytes written to the register.
// Enum registers accept names as well as ordinals; scaled registers take
// the presented unit (e.g. km/h) and are converted back to raw counts.
func (r Register) ParseWrite(input string) ([]byte, error) {
	if !r.Writable() {
		return nil, &RequestError{Op: OpWrite, Address: r.Address, Err: ErrNotWritable}
	}
	input = strings.TrimSpace(input)
	if n, ok := EnumOrdinal(r.Address, input); ok {
		return EncodeWord(r.Address, n)
	}
	f, err := strconv.ParseFloat(input, 64)
	if err != nil {
		return nil, err
	}
	f -= r.Offset
	if r.Scale != 0 {
		f /= r.Scale
	}
	return EncodeWord(r.Address, int64(math.Round(f)))
}

var catalog = []Register{
	{Name: "serial", Description: "Scooter serial number", Address: ctrl(0x10)},
	{Name: "bt-password", Description: "Bluetooth pairing code", Address: ctrl(0x17)},
	{Name: "firmware", Description: "Controller firmware", Address: ctrl(0x1A)},
	{Name: "error-code", Description: "Error code", Address: ctrl(0x1B)},
	{Name: "alarm-code", Description: "Alarm code", Address: ctrl(0x1C)},
	{Name: "speed-limited", Description: "Speed limited", Address: ctrl(0x1D), Field: FieldBit, Bit: 0},
	{Name: "locked", Description: "Scooter locked", Address: ctrl(0x1D), Field: FieldBit, Bit: 1},
	{Name: "beep", Description: "Buzzer alarm activated", Address: ctrl(0x1D), Field: FieldBit, Bit: 2},
	{Name: "ext-battery", Description: "External battery inserted", Address: ctrl(0x1D), Field: FieldBit, Bit: 9},
	{Name: "activated", Description: "Scooter activated", Address: ctrl(0x1D), Field: FieldBit, Bit: 11},
	{Name: "remaining-range", Description: "Actual remaining mileage", Address: ctrl(0x24), Scale: 0.01, Decimals: 2, Unit: "km"},
	{Name: "predicted-range", Description: "Predicted remaining mileage", Address: ctrl(0x25), Scale: 0.01, Decimals: 2, Unit: "km"},
	{Name: "odometer", Description: "Total mileage", Address: ctrl(0x29), Scale: 0.001, Decimals: 1, Unit: "km"},
	{Name: "operation-time", Description: "Total operation time", Address: ctrl(0x32), Scale: 1.0 / 3600, Decimals: 1, Unit: "h"},
	{Name: "riding-time", Description: "Total riding time", Address: ctrl(0x34), Scale: 1.0 / 3600, Decimals: 1, Unit: "h"},
	{Name: "temperature", Description: "Scooter temperature", Address: ctrl(0x3E), Scale: 0.1, Decimals: 1, Unit: "°C"},
	{Name: "supply-voltage", Description: "Controller supply voltage", Address: ctrl(0x47), Scale: 0.01, Decimals: 2, Unit: "V"},
	{Name: "average-speed", Description: "Average speed", Address: ctrl(0x65), Scale: 0.1, Decimals: 1, Unit: "km/h"},
	{Name: "ext-bms-firmware", Description: "External BMS firmware version", Address: ctrl(0x66)},
	{Name: "ble-firmware", Description: "BLE firmware version", Address: ctrl(0x68)},
	{Name: "lock", Description: "Lock the scooter", Address: ctrl(0x70)},
	{Name: "unlock", Description: "Unlock the scooter", Address: ctrl(0x71)},
	{Name: "speed-limit", Description: "Speed limit or speed limit release", Address: ctrl(0x72), Scale: 0.1, Decimals: 1, Unit: "km/h"},
	{Name: "normal-speed", Description: "Speed limit value in normal mode", Address: ctrl(0x73), Scale: 0.1, Decimals: 1, Unit: "km/h"},
	{Name: "limited-speed", Description: "Speed limit value in speed limit mode", Address: ctrl(0x74), Scale: 0.1, Decimals: 1, Unit: "km/h"},
	{Name: "operation-mode", Description: "Operating mode", Address: ctrl(0x75)},
	{Name: "kers", Description: "KERS level", Address: ctrl(0x7B)},
	{Name: "cruise", Description: "Cruise control enabled", Address: ctrl(0x7C)},
	{Name: "tail-light", Description: "Tail light on", Address: ctrl(0x7D)},
	{Name: "trip-distance", Description: "Single mileage", Address: ctrl(0xB9), Scale: 0.01, Decimals: 2, Unit: "km"},
	{Name: "trip-time", Description: "Single operation time", Address: ctrl(0xBA), Scale: 1.0 / 3600, Decimals: 1, Unit: "h"},

	{Name: "bms-serial", Description: "BMS serial number", Address: bms(0x10)},
	{Name: "bms-firmware", Description: "BMS firmware version", Address: bms(0x17)},
	{Name: "battery-capacity", Description: "Battery factory capacity", Address: bms(0x18), Unit: "mAh"},
	{Name: "battery-overflow-count", Description: "Battery overflowing times", Address: bms(0x1F), Field: FieldLowByte},
	{Name: "battery-overdischarge-count", Description: "Battery over-discharging times", Address: bms(0x1F), Field: FieldHighByte},
	{Name: "battery-remaining", Description: "Remaining battery capacity", Address: bms(0x31), Unit: "mAh"},
	{Name: "battery-percent", Description: "Remaining battery capacity", Address: bms(0x32), Unit: "%"},
	{Name: "battery-current", Description: "Battery current", Address: bms(0x33), Scale: 0.01, Decimals: 2, Unit: "A"},
	{Name: "battery-voltage", Description: "Battery voltage", Address: bms(0x34), Scale: 0.01, Decimals: 2, Unit: "V"},
	{Name: "battery-temp-1", Description: "Battery temperature 1", Address: bms(0x35), Field: FieldLowByte, Offset: -20, Unit: "°C"},
	{Name: "battery-temp-2", Description: "Battery temperature 2", Address: bms(0x35), Field: FieldHighByte, Offset: -20, Unit: "°C"},
	{Name: "battery-balancing", Description: "Battery balancing open status", Address: bms(0x36)},
	{Name: "battery-undervoltage", Description: "Battery cell undervoltage condition", Address: bms(0x37)},
	{Name: "battery-overvoltage", Description: "Battery cell overvoltage condition", Address: bms(0x38)},
	{Name: "battery-health", Description: "Battery health", Address: bms(0x3B), Unit: "%"},
}

// Catalog returns the named registers in display order.
func Catalog() []Register {
	return append([]Register(nil), catalog...)
}

// Lookup finds a catalog entry by name.
func Lookup(name string) (Register, bool) {
	for _, r := range catalog {
		if r.Name == name {
			return r, true
		}
	}
	return Register{}, false
}
