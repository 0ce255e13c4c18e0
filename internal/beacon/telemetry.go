package beacon

import (
	"time"

	"github.com/atonkyra/ls-ruuvi/internal/ruuvi"
	"github.com/atonkyra/ls-ruuvi/internal/types"
)

func telemetryFrom(address, alias string, r *ruuvi.Reading, ts time.Time) types.Telemetry {
	t := types.Telemetry{
		Address:    address,
		Identifier: alias,
		Format:     r.Format.String(),
		Timestamp:  ts,
		MAC:        r.MAC,
	}
	if r.HasIdentifier {
		t.TagID = r.Identifier
	}

	floats := map[string]**float64{
		ruuvi.Temperature:   &t.Temperature,
		ruuvi.Humidity:      &t.Humidity,
		ruuvi.Pressure:      &t.Pressure,
		ruuvi.Acceleration:  &t.Acceleration,
		ruuvi.AccelerationX: &t.AccelerationX,
		ruuvi.AccelerationY: &t.AccelerationY,
		ruuvi.AccelerationZ: &t.AccelerationZ,
		ruuvi.Battery:       &t.Battery,
		ruuvi.TxPower:       &t.TxPower,
	}
	ints := map[string]**int{
		ruuvi.MovementCounter:           &t.MovementCounter,
		ruuvi.MeasurementSequenceNumber: &t.Sequence,
	}

	for _, m := range r.Present() {
		v := m.Value
		if dst, ok := floats[m.Name]; ok {
			// Format 3 reports millivolts, format 5 volts.
			if m.Name == ruuvi.Battery && r.Format == ruuvi.Format3 {
				v /= 1000
			}
			*dst = &v
			continue
		}
		if dst, ok := ints[m.Name]; ok {
			n := int(v)
			*dst = &n
		}
	}
	return t
}
