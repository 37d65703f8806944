// Package gauge implements the open-loop motion control of the cluster's
// needles: an acceleration-limited step planner per axis and the boot-time
// homing sequence that gives every axis an absolute zero.
package gauge

import "math"

// AxisID identifies one of the cluster's gauges
type AxisID uint8

const (
	AxisSpeed AxisID = iota // speedometer
	AxisTach                // tachometer
	AxisFuel                // fuel level
	NumAxes
)

// String returns the gauge name
func (a AxisID) String() string {
	switch a {
	case AxisSpeed:
		return "speed"
	case AxisTach:
		return "tach"
	case AxisFuel:
		return "fuel"
	default:
		return "unknown"
	}
}

// AxisConfig holds the per-gauge tuning and calibration constants
type AxisConfig struct {
	ScaleFactor       float64 `json:"scale_factor"`        // Steps per physical unit; negative for a reversed gauge
	MaxSpeed          float64 `json:"max_speed"`           // Steps/s
	Acceleration      float64 `json:"acceleration"`        // Steps/s^2
	ZeroOffsetSteps   int32   `json:"zero_offset_steps"`   // Hard stop to true zero mark
	HomingTravelSteps int32   `json:"homing_travel_steps"` // Must exceed the full mechanical travel
	FullScale         float64 `json:"full_scale"`          // Highest dial mark, physical units (sweep target)
	IdleValue         float64 `json:"idle_value"`          // Rest reading after boot, physical units
	InvertDirection   bool    `json:"invert_direction"`    // Motor wired backward at the connector
}

// ZeroSign is the direction in which the reading increases.
// The hard stop sits on the opposite side.
func (c AxisConfig) ZeroSign() int32 {
	if c.ScaleFactor < 0 {
		return -1
	}
	return 1
}

// StepsFor converts a physical reading to an absolute step position.
// Rounds half away from zero and saturates at the int32 range.
func (c AxisConfig) StepsFor(value float64) int32 {
	steps := math.Round(value * c.ScaleFactor)
	switch {
	case math.IsNaN(steps):
		return 0
	case steps > math.MaxInt32:
		return math.MaxInt32
	case steps < math.MinInt32:
		return math.MinInt32
	}
	return int32(steps)
}

// ValueFor converts a step position back to the physical reading
func (c AxisConfig) ValueFor(steps int32) float64 {
	if c.ScaleFactor == 0 {
		return 0
	}
	return float64(steps) / c.ScaleFactor
}
