package types

import "time"

// Telemetry is the MQTT message published for every decoded advertisement.
// Nil fields were not broadcast or flagged as not available by the tag.
type Telemetry struct {
	Address    string    `json:"address"`
	Identifier string    `json:"identifier,omitempty"`
	Format     string    `json:"format"`
	Timestamp  time.Time `json:"timestamp"`

	Temperature     *float64 `json:"temperature_c,omitempty"`
	Humidity        *float64 `json:"humidity_pct,omitempty"`
	Pressure        *float64 `json:"pressure_hpa,omitempty"`
	Acceleration    *float64 `json:"acceleration_mg,omitempty"`
	AccelerationX   *float64 `json:"acceleration_x_mg,omitempty"`
	AccelerationY   *float64 `json:"acceleration_y_mg,omitempty"`
	AccelerationZ   *float64 `json:"acceleration_z_mg,omitempty"`
	Battery         *float64 `json:"battery_v,omitempty"`
	TxPower         *float64 `json:"tx_power_dbm,omitempty"`
	MovementCounter *int     `json:"movement_counter,omitempty"`
	Sequence        *int     `json:"sequence,omitempty"`

	// TagID is the identifier carried by a format 4 URL.
	TagID string `json:"tag_id,omitempty"`
	// MAC is the address the tag reports for itself in format 5.
	MAC string `json:"mac,omitempty"`
}
