package ruuvi

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"math"
	"strings"

	"github.com/pkg/errors"
)

const (
	urlEncodedLen = 8
	urlMinLen     = 6
	format3MinLen = 14
	format5MinLen = 24
)

// Format 5 "not available" patterns.
const (
	df5InvalidSigned   = 0x7FFF
	df5InvalidUnsigned = 0xFFFF
	df5InvalidBattery  = 0x7FF
	df5InvalidTxPower  = 0x1F
)

// DecodeURL decodes the base64 part of a format 2/4 URL. Anything after the
// eighth character is returned as the reading's identifier.
//
//	0:   format
//	1:   humidity, 0.5 % per lsb
//	2-3: temperature, sign bit + whole degrees, hundredths
//	4-5: pressure, Pa - 50000
func DecodeURL(encoded string) (*Reading, error) {
	r := &Reading{Format: FormatURL}
	if len(encoded) > urlEncodedLen {
		r.Identifier = encoded[urlEncodedLen:]
		r.HasIdentifier = true
		encoded = encoded[:urlEncodedLen]
	}

	b, err := base64.StdEncoding.DecodeString(normalizeBase64(encoded))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidData, "url payload %q: %v", encoded, err)
	}
	if len(b) < urlMinLen {
		return nil, errors.Wrapf(ErrInvalidData, "url payload %q: %d bytes, want %d", encoded, len(b), urlMinLen)
	}

	r.set(Temperature, signedTemperature(b[2], b[3]))
	r.set(Humidity, float64(b[1])*0.5)
	r.set(Pressure, pressureHPa(b[4], b[5]))
	return r, nil
}

// normalizeBase64 maps the URL-safe alphabet onto the standard one and drops
// everything that is not part of it.
func normalizeBase64(s string) string {
	return strings.Map(func(c rune) rune {
		switch {
		case c == '-':
			return '+'
		case c == '_':
			return '/'
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '+', c == '/', c == '=':
			return c
		default:
			return -1
		}
	}, s)
}

// DecodeFormat3 decodes a data format 3 payload given as hex, starting at the
// format byte.
func DecodeFormat3(payload string) (*Reading, error) {
	data, err := decodeHex(payload, format3MinLen)
	if err != nil {
		return nil, err
	}

	x, y, z := int16At(data, 6), int16At(data, 8), int16At(data, 10)

	r := &Reading{Format: Format3}
	r.set(Humidity, float64(data[1])*0.5)
	r.set(Temperature, signedTemperature(data[2], data[3]))
	r.set(Pressure, pressureHPa(data[4], data[5]))
	r.set(Acceleration, norm(x, y, z))
	r.set(AccelerationX, float64(x))
	r.set(AccelerationY, float64(y))
	r.set(AccelerationZ, float64(z))
	r.set(Battery, float64(binary.BigEndian.Uint16(data[12:14])))
	return r, nil
}

// DecodeFormat5 decodes a data format 5 payload given as hex, starting at the
// format byte. Fields holding their "not available" pattern come back as
// unavailable measurements.
func DecodeFormat5(payload string) (*Reading, error) {
	data, err := decodeHex(payload, format5MinLen)
	if err != nil {
		return nil, err
	}

	r := &Reading{Format: Format5}

	if raw := binary.BigEndian.Uint16(data[3:5]); raw == df5InvalidUnsigned {
		r.setUnavailable(Humidity)
	} else {
		r.set(Humidity, round(float64(raw)/400, 2))
	}

	if raw := binary.BigEndian.Uint16(data[1:3]); raw == df5InvalidSigned {
		r.setUnavailable(Temperature)
	} else {
		r.set(Temperature, round(float64(int16(raw))/200, 2))
	}

	if raw := binary.BigEndian.Uint16(data[5:7]); raw == df5InvalidUnsigned {
		r.setUnavailable(Pressure)
	} else {
		r.set(Pressure, round((float64(raw)+50000)/100, 2))
	}

	rx := binary.BigEndian.Uint16(data[7:9])
	ry := binary.BigEndian.Uint16(data[9:11])
	rz := binary.BigEndian.Uint16(data[11:13])
	if rx == df5InvalidSigned || ry == df5InvalidSigned || rz == df5InvalidSigned {
		r.setUnavailable(Acceleration)
		r.setUnavailable(AccelerationX)
		r.setUnavailable(AccelerationY)
		r.setUnavailable(AccelerationZ)
	} else {
		x, y, z := int16(rx), int16(ry), int16(rz)
		r.set(Acceleration, norm(x, y, z))
		r.set(AccelerationX, float64(x))
		r.set(AccelerationY, float64(y))
		r.set(AccelerationZ, float64(z))
	}

	power := binary.BigEndian.Uint16(data[13:15])
	if tx := power & 0x1F; tx == df5InvalidTxPower {
		r.setUnavailable(TxPower)
	} else {
		r.set(TxPower, float64(tx)*2-40)
	}
	if batt := power >> 5; batt == df5InvalidBattery {
		r.setUnavailable(Battery)
	} else {
		r.set(Battery, round(float64(batt)/1000+1.6, 3))
	}

	r.set(MovementCounter, float64(data[15]))
	r.set(MeasurementSequenceNumber, float64(binary.BigEndian.Uint16(data[16:18])))
	r.MAC = hex.EncodeToString(data[18:24])
	return r, nil
}

func decodeHex(payload string, minLen int) ([]byte, error) {
	data, err := hex.DecodeString(payload)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidData, "payload %q: %v", payload, err)
	}
	if len(data) < minLen {
		return nil, errors.Wrapf(ErrInvalidData, "payload %q: %d bytes, want %d", payload, len(data), minLen)
	}
	return data, nil
}

func int16At(b []byte, off int) int16 {
	return int16(binary.BigEndian.Uint16(b[off : off+2]))
}

func norm(x, y, z int16) float64 {
	fx, fy, fz := float64(x), float64(y), float64(z)
	return math.Sqrt(fx*fx + fy*fy + fz*fz)
}
