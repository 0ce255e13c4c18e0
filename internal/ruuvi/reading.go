package ruuvi

import (
	"strconv"

	"github.com/pkg/errors"
)

// ErrInvalidData is wrapped by every decode failure.
var ErrInvalidData = errors.New("ruuvi: invalid data")

// Measurement names. They double as metric series names.
const (
	Temperature               = "temperature"
	Humidity                  = "humidity"
	Pressure                  = "pressure"
	Acceleration              = "acceleration"
	AccelerationX             = "acceleration_x"
	AccelerationY             = "acceleration_y"
	AccelerationZ             = "acceleration_z"
	Battery                   = "battery"
	TxPower                   = "tx_power"
	MovementCounter           = "movement_counter"
	MeasurementSequenceNumber = "measurement_sequence_number"
	LastSeen                  = "last_seen"
)

// Measurement is one named value of a Reading. Valid is false when the
// sensor flagged the field as not available.
type Measurement struct {
	Name  string
	Value float64
	Valid bool
}

// Reading is the decoded content of a single advertisement.
type Reading struct {
	Format       Format
	Measurements []Measurement

	// Identifier is the tail of a format 4 URL, if any.
	Identifier    string
	HasIdentifier bool

	// MAC is the sensor's own address as carried in a format 5 payload.
	MAC string
}

// Get returns the named value and whether it is present.
func (r *Reading) Get(name string) (float64, bool) {
	for _, m := range r.Measurements {
		if m.Name == name {
			return m.Value, m.Valid
		}
	}
	return 0, false
}

// Has reports whether name belongs to the reading, available or not.
func (r *Reading) Has(name string) bool {
	for _, m := range r.Measurements {
		if m.Name == name {
			return true
		}
	}
	return false
}

// Present returns the measurements that carry a value, in decode order.
func (r *Reading) Present() []Measurement {
	out := make([]Measurement, 0, len(r.Measurements))
	for _, m := range r.Measurements {
		if m.Valid {
			out = append(out, m)
		}
	}
	return out
}

func (r *Reading) set(name string, v float64) {
	r.Measurements = append(r.Measurements, Measurement{Name: name, Value: v, Valid: true})
}

func (r *Reading) setUnavailable(name string) {
	r.Measurements = append(r.Measurements, Measurement{Name: name})
}

// Decode runs the decoder selected by f.
func Decode(f Format, payload string) (*Reading, error) {
	switch f {
	case FormatURL:
		return DecodeURL(payload)
	case Format3:
		return DecodeFormat3(payload)
	case Format5:
		return DecodeFormat5(payload)
	default:
		return nil, errors.Wrapf(ErrInvalidData, "unsupported format %s", f)
	}
}

// round rounds the exact binary value of v to places decimals, ties to even.
// 0.015 is stored as 0.01499... and rounds down.
func round(v float64, places int) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', places, 64), 64)
	if err != nil {
		return v
	}
	return r
}

// signedTemperature decodes the sign-and-magnitude temperature shared by the
// URL format and format 3: bit 7 of whole is the sign, the rest whole degrees,
// frac is hundredths.
func signedTemperature(whole, frac byte) float64 {
	t := float64(whole&0x7F) + float64(frac)/100
	if whole&0x80 != 0 {
		t = -t
	}
	return round(t, 2)
}

func pressureHPa(hi, lo byte) float64 {
	return (float64(uint16(hi)<<8|uint16(lo)) + 50000) / 100
}
