package fix

import (
	"math"
	"time"
)

// Fix is a single GPS sample. Speed, Altitude and Heading are optional; a
// zero Speed means the sensor reported nothing usable.
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	AccuracyM float64   `json:"accuracy"`
	AltitudeM float64   `json:"altitude,omitempty"`
	SpeedMps  float64   `json:"speed,omitempty"`
	Heading   float64   `json:"heading,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Valid reports whether the fix carries usable coordinates. Malformed fixes
// are dropped silently by the accumulator.
func (f Fix) Valid() bool {
	if math.IsNaN(f.Latitude) || math.IsNaN(f.Longitude) {
		return false
	}
	if f.Latitude < -90 || f.Latitude > 90 {
		return false
	}
	if f.Longitude < -180 || f.Longitude > 180 {
		return false
	}
	return true
}
