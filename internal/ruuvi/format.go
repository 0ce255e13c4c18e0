// Package ruuvi extracts and decodes RuuviTag manufacturer payloads.
//
// Three wire formats are understood: the legacy Eddystone URL encoding (data
// formats 2 and 4), binary data format 3 ("RAWv1") and binary data format 5
// ("RAWv2"). See https://github.com/ruuvi/ruuvi-sensor-protocols.
package ruuvi

import (
	"strconv"
	"strings"
)

// Format identifies which decoder a payload must be handed to.
type Format int

const (
	FormatURL Format = iota + 1
	Format3
	Format5
)

func (f Format) String() string {
	switch f {
	case FormatURL:
		return "url"
	case Format3:
		return "df3"
	case Format5:
		return "df5"
	default:
		return "unknown(" + strconv.Itoa(int(f)) + ")"
	}
}

// Manufacturer specific data (0xFF), Ruuvi Innovations company id 0x0499 sent
// little-endian. btmon prints the payload after this header, so it is put back
// before probing.
const manufacturerHeader = "FF9904"

const (
	urlMarker      = "ruu.vi/#"
	urlShortMarker = "r/"

	format3Marker = manufacturerHeader + "03"
	format5Marker = manufacturerHeader + "05"
)

// Extract rebuilds the manufacturer data element from a btmon Data field and
// returns the format and the payload for the first probe that matches. Probes
// run in a fixed order: URL, format 3, format 5.
func Extract(data string) (Format, string, bool) {
	raw := manufacturerHeader + strings.ToUpper(data)

	if payload, ok := probeURL(raw); ok {
		return FormatURL, payload, true
	}
	if payload, ok := probeBinary(raw, format3Marker); ok {
		return Format3, payload, true
	}
	if payload, ok := probeBinary(raw, format5Marker); ok {
		return Format5, payload, true
	}
	return 0, "", false
}

// probeURL keeps only the 7-bit bytes of raw as text and returns whatever
// follows the Ruuvi URL marker.
func probeURL(raw string) (string, bool) {
	var text strings.Builder
	text.Grow(len(raw) / 2)
	for i := 0; i < len(raw); i += 2 {
		end := min(i+2, len(raw))
		v, err := strconv.ParseUint(raw[i:end], 16, 8)
		if err != nil {
			return "", false
		}
		if v < 0x80 {
			text.WriteByte(byte(v))
		}
	}

	s := text.String()
	if idx := strings.Index(s, urlMarker); idx > -1 {
		return s[idx+len(urlMarker):], true
	}
	if idx := strings.Index(s, urlShortMarker); idx > -1 {
		return s[idx+len(urlShortMarker):], true
	}
	return "", false
}

// probeBinary returns raw from the format byte onwards, skipping the
// manufacturer header that precedes it.
func probeBinary(raw, marker string) (string, bool) {
	idx := strings.Index(raw, marker)
	if idx < 0 {
		return "", false
	}
	return raw[idx+len(manufacturerHeader):], true
}
