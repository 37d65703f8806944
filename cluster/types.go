// Package cluster ties the gauge axes, the telemetry protocol and the
// cluster's switched outputs together into the firmware's control loop.
package cluster

import "gaugecluster/gauge"

// Actuator kinds
const (
	ActuatorShield  = "shield"  // Adafruit Motor Shield v2 stepper port (PCA9685 over I2C)
	ActuatorStepDir = "stepdir" // Step/dir driver on two GPIOs
	ActuatorCoil    = "coil"    // Four coil GPIOs through a Darlington array
	ActuatorSim     = "sim"     // Simulated needle (host only)
)

// ActuatorConfig describes how one gauge motor is wired
type ActuatorConfig struct {
	Kind string `json:"kind"`

	// Motor shield
	Bus     uint8 `json:"bus"`     // I2C bus number
	Address uint8 `json:"address"` // 7-bit I2C address of the board (0x60 default)
	Port    uint8 `json:"port"`    // Stepper port on the board, 1 or 2

	// Step/dir driver
	StepPin uint32 `json:"step_pin"`
	DirPin  uint32 `json:"dir_pin"`
	UsePIO  bool   `json:"use_pio"` // Generate step pulses with a PIO state machine

	// Bare coils
	CoilPins [4]uint32 `json:"coil_pins"`

	// Simulated needle travel between the stops
	SimTravel int32 `json:"sim_travel"`
}

// GaugeConfig is the configuration of one gauge
type GaugeConfig struct {
	gauge.AxisConfig
	Name     string         `json:"name"`
	Actuator ActuatorConfig `json:"actuator"`
}

// Config is the complete cluster configuration
type Config struct {
	Speed GaugeConfig `json:"speed"`
	Tach  GaugeConfig `json:"tach"`
	Fuel  GaugeConfig `json:"fuel"`

	KMHToMPH float64 `json:"kmh_to_mph"` // Applied to kmh commands before the speed scale

	IgnitionPin     uint32 `json:"ignition_pin"`     // Driven high once the gauges are homed
	IlluminationPin uint32 `json:"illumination_pin"` // Dial backlight enable

	Sweep               bool   `json:"sweep"`                 // Full-scale self-test during boot
	ReleaseAfterBoot    bool   `json:"release_after_boot"`    // De-energize the motors once homed
	HomingMaxIterations int    `json:"homing_max_iterations"` // Boot aborts after this many homing iterations
	QueueSize           int    `json:"queue_size"`            // Receive ring capacity in bytes
	LoopDelayUS         uint32 `json:"loop_delay_us"`         // Yield between control loop iterations
	Debug               bool   `json:"debug"`
}

// Gauge returns the configuration of one axis
func (c *Config) Gauge(axis gauge.AxisID) *GaugeConfig {
	switch axis {
	case gauge.AxisSpeed:
		return &c.Speed
	case gauge.AxisTach:
		return &c.Tach
	case gauge.AxisFuel:
		return &c.Fuel
	default:
		return nil
	}
}

// Status is a snapshot of one gauge for diagnostics
type Status struct {
	Axis       gauge.AxisID `json:"axis"`
	Position   int32        `json:"position"`
	Target     int32        `json:"target"`
	Speed      float64      `json:"speed"`
	Reading    float64      `json:"reading"` // Position in physical units (mph, rpm, percent)
	Calibrated bool         `json:"calibrated"`
}
