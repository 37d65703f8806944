package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gaugecluster/cluster"
	"gaugecluster/gauge"
	"gaugecluster/protocol"
)

// Calibration defaults
const (
	SpeedScaleMPH = 1.785   // Steps per mph
	TachScale     = 0.057   // Steps per rpm
	FuelScale     = -1.5    // Steps per percent; the fuel dial reads backward
	KMHToMPH      = 0.62137 // Applied to kmh before the speed scale

	HomingTravelSteps = 600 // One full motor revolution, more than any dial sweeps

	DefaultMaxSpeed     = 600.0  // Steps/s
	DefaultAcceleration = 1200.0 // Steps/s^2
	DefaultLoopDelayUS  = 10
	DefaultShieldAddr   = 0x60
)

// LoadConfig parses a JSON configuration and fills in defaults
func LoadConfig(jsonData []byte) (*cluster.Config, error) {
	var config cluster.Config

	err := json.Unmarshal(jsonData, &config)
	if err != nil {
		return nil, err
	}

	// Apply defaults
	applyDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// applyDefaults fills in missing configuration values
func applyDefaults(config *cluster.Config) {
	if config.KMHToMPH == 0 {
		config.KMHToMPH = KMHToMPH
	}
	if config.QueueSize == 0 {
		config.QueueSize = protocol.QueueSize
	}
	if config.LoopDelayUS == 0 {
		config.LoopDelayUS = DefaultLoopDelayUS
	}
	if config.HomingMaxIterations == 0 {
		config.HomingMaxIterations = gauge.DefaultHomingIterations
	}

	defaults := DefaultClusterConfig()
	for axis := gauge.AxisID(0); axis < gauge.NumAxes; axis++ {
		g := config.Gauge(axis)
		d := defaults.Gauge(axis)

		if g.Name == "" {
			g.Name = axis.String()
		}
		if g.ScaleFactor == 0 {
			g.ScaleFactor = d.ScaleFactor
		}
		if g.MaxSpeed == 0 {
			g.MaxSpeed = DefaultMaxSpeed
		}
		if g.Acceleration == 0 {
			g.Acceleration = DefaultAcceleration
		}
		if g.HomingTravelSteps == 0 {
			g.HomingTravelSteps = HomingTravelSteps
		}
		if g.FullScale == 0 {
			g.FullScale = d.FullScale
		}
		if g.Actuator.Kind == "" {
			g.Actuator.Kind = cluster.ActuatorShield
		}
		if g.Actuator.Kind == cluster.ActuatorShield {
			if g.Actuator.Address == 0 {
				g.Actuator.Address = d.Actuator.Address
			}
			if g.Actuator.Port == 0 {
				g.Actuator.Port = d.Actuator.Port
			}
		}
		if g.Actuator.Kind == cluster.ActuatorSim && g.Actuator.SimTravel == 0 {
			g.Actuator.SimTravel = HomingTravelSteps / 2
		}
	}
}

// Validate checks a configuration for values the firmware cannot run with
func Validate(config *cluster.Config) error {
	if config.QueueSize < 2 {
		return errors.New("queue_size must be at least 2")
	}
	if config.HomingMaxIterations < 0 {
		return errors.New("homing_max_iterations must not be negative")
	}

	for axis := gauge.AxisID(0); axis < gauge.NumAxes; axis++ {
		g := config.Gauge(axis)
		if err := validateGauge(g); err != nil {
			return fmt.Errorf("%s: %w", axis, err)
		}
	}

	// Two gauges cannot share a shield port
	type port struct{ bus, addr, port uint8 }
	used := make(map[port]gauge.AxisID)
	for axis := gauge.AxisID(0); axis < gauge.NumAxes; axis++ {
		a := config.Gauge(axis).Actuator
		if a.Kind != cluster.ActuatorShield {
			continue
		}
		p := port{a.Bus, a.Address, a.Port}
		if other, ok := used[p]; ok {
			return fmt.Errorf("%s: shield port %d at 0x%02x already used by %s", axis, a.Port, a.Address, other)
		}
		used[p] = axis
	}
	return nil
}

func validateGauge(g *cluster.GaugeConfig) error {
	if !finite(g.ScaleFactor) || g.ScaleFactor == 0 {
		return errors.New("scale_factor must be finite and non-zero")
	}
	if !finite(g.MaxSpeed) || g.MaxSpeed <= 0 {
		return errors.New("max_speed must be positive")
	}
	if !finite(g.Acceleration) || g.Acceleration <= 0 {
		return errors.New("acceleration must be positive")
	}
	if g.HomingTravelSteps <= 0 {
		return errors.New("homing_travel_steps must be positive")
	}
	if g.ZeroOffsetSteps < 0 {
		return errors.New("zero_offset_steps must not be negative")
	}

	switch g.Actuator.Kind {
	case cluster.ActuatorShield:
		if g.Actuator.Port != 1 && g.Actuator.Port != 2 {
			return fmt.Errorf("shield port %d out of range (1-2)", g.Actuator.Port)
		}
		if g.Actuator.Address > 0x7f {
			return fmt.Errorf("I2C address 0x%02x out of range", g.Actuator.Address)
		}
	case cluster.ActuatorStepDir:
		if g.Actuator.StepPin == g.Actuator.DirPin {
			return errors.New("step and dir pins must differ")
		}
	case cluster.ActuatorCoil:
		seen := make(map[uint32]bool)
		for _, pin := range g.Actuator.CoilPins {
			if seen[pin] {
				return fmt.Errorf("coil pin %d used twice", pin)
			}
			seen[pin] = true
		}
	case cluster.ActuatorSim:
		if g.Actuator.SimTravel <= 0 {
			return errors.New("sim_travel must be positive")
		}
	default:
		return fmt.Errorf("unknown actuator kind %q", g.Actuator.Kind)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// DefaultClusterConfig returns the configuration of the reference build:
// speedometer and tachometer on the two ports of one motor shield, fuel
// gauge on a second shield
func DefaultClusterConfig() *cluster.Config {
	return &cluster.Config{
		Speed: cluster.GaugeConfig{
			Name: "speed",
			AxisConfig: gauge.AxisConfig{
				ScaleFactor:       SpeedScaleMPH,
				MaxSpeed:          DefaultMaxSpeed,
				Acceleration:      DefaultAcceleration,
				ZeroOffsetSteps:   12,
				HomingTravelSteps: HomingTravelSteps,
				FullScale:         160,
			},
			Actuator: cluster.ActuatorConfig{Kind: cluster.ActuatorShield, Address: DefaultShieldAddr, Port: 1},
		},
		Tach: cluster.GaugeConfig{
			Name: "tach",
			AxisConfig: gauge.AxisConfig{
				ScaleFactor:       TachScale,
				MaxSpeed:          DefaultMaxSpeed,
				Acceleration:      DefaultAcceleration,
				ZeroOffsetSteps:   20,
				HomingTravelSteps: HomingTravelSteps,
				FullScale:         8000,
			},
			Actuator: cluster.ActuatorConfig{Kind: cluster.ActuatorShield, Address: DefaultShieldAddr, Port: 2},
		},
		Fuel: cluster.GaugeConfig{
			Name: "fuel",
			AxisConfig: gauge.AxisConfig{
				ScaleFactor:       FuelScale,
				MaxSpeed:          400,
				Acceleration:      800,
				ZeroOffsetSteps:   8,
				HomingTravelSteps: HomingTravelSteps,
				FullScale:         100,
			},
			Actuator: cluster.ActuatorConfig{Kind: cluster.ActuatorShield, Address: DefaultShieldAddr + 1, Port: 1},
		},
		KMHToMPH:            KMHToMPH,
		IgnitionPin:         14,
		IlluminationPin:     15,
		HomingMaxIterations: gauge.DefaultHomingIterations,
		QueueSize:           protocol.QueueSize,
		LoopDelayUS:         DefaultLoopDelayUS,
	}
}
