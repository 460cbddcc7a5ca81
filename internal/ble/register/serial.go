package register

import (
	"fmt"
	"strconv"
	"time"
)

// Product series prefixes found in scooter serial numbers.
const (
	SeriesE   = "N2G"
	SeriesMax = "N4G"
	SeriesF   = "N5G"
)

var productVersions = map[string]map[byte]string{
	SeriesE: {
		'D': "E22", 'G': "E22E", 'I': "E22D", 'V': "E25", 'Y': "E25D",
		'X': "E25E", 'Z': "E25A", 'R': "E45D", 'O': "E45E", 'M': "E45E",
		'Q': "E45 (30 km/h)",
	},
	SeriesMax: {
		'S': "G30P (30 km/h)", 'C': "G30 (25 km/h)", 'E': "G30D blue (20 km/h)",
		'P': "G30E (25 km/h)", 'N': "G30LP (30 km/h)", 'A': "G30LE (25 km/h)",
		'O': "G30LE (25 km/h)", 'M': "G30LD (20 km/h)", 'T': "G30M (25 km/h)",
		'2': "SNSC2.2A (25 km/h)", '0': "SNSC2.3 (25 km/h)", '1': "Audi EKS G30D (20 km/h)",
	},
	SeriesF: {
		'A': "F20", 'B': "F20D", 'C': "F30", 'D': "F30D", 'E': "F40",
		'F': "F40E", 'G': "F40D", 'H': "F60", 'I': "F60D/F60E", 'J': "F60D/F60E",
		'M': "F60A/F60 Asia", 'N': "F25", 'O': "F20A", 'Q': "F30E", 'R': "F40A",
		'S': "F20E/F20D (?)", 'V': "F40", 'W': "F25E",
	},
}

// Serial is a parsed scooter serial number.
type Serial struct {
	Series         string
	Version        string // empty if the model letter is unknown
	ProductionLine byte
	Year           int
	Week           int
	Revision       byte
	WeeklySerial   int
}

// ParseSerial decodes a serial such as "N4GSD2011C1234".
func ParseSerial(s string) (Serial, error) {
	if len(s) < 14 {
		return Serial{}, fmt.Errorf("register: unsupported serial number %q", s)
	}
	series := s[:3]
	versions, ok := productVersions[series]
	if !ok {
		return Serial{}, fmt.Errorf("register: unknown product series %q", series)
	}
	year, err := strconv.Atoi(s[5:7])
	if err != nil {
		return Serial{}, fmt.Errorf("register: serial year: %w", err)
	}
	week, err := strconv.Atoi(s[7:9])
	if err != nil {
		return Serial{}, fmt.Errorf("register: serial week: %w", err)
	}
	if week < 1 || week > 53 {
		return Serial{}, fmt.Errorf("register: serial week %d out of range", week)
	}
	weekly, err := strconv.Atoi(s[10:14])
	if err != nil {
		return Serial{}, fmt.Errorf("register: serial number: %w", err)
	}
	return Serial{
		Series:         series,
		Version:        versions[s[3]],
		ProductionLine: s[4],
		Year:           2000 + year,
		Week:           week,
		Revision:       s[9],
		WeeklySerial:   weekly,
	}, nil
}

// Model returns the product name, falling back to the series.
func (s Serial) Model() string {
	if s.Version == "" {
		return s.Series + "-series"
	}
	return s.Version
}

// ProductionDate returns the Monday of the ISO production week.
func (s Serial) ProductionDate() time.Time {
	// ISO week 1 contains January 4th.
	jan4 := time.Date(s.Year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	week1 := jan4.AddDate(0, 0, -offset)
	return week1.AddDate(0, 0, (s.Week-1)*7)
}

func (s Serial) String() string {
	return "Ninebot " + s.Model()
}
