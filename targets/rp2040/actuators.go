//go:build rp2040

package main

import (
	"errors"
	"machine"

	"gaugecluster/cluster"
	"gaugecluster/core"
	"gaugecluster/gauge"
	"gaugecluster/shield"
	"gaugecluster/targets/stepdir"

	"tinygo.org/x/drivers/easystepper"
)

// Coil timing for bare X27-style movements: one Move(1) sleeps
// 60e6/(coilStepCount*coilRPM) us, about 100us here.
const (
	coilStepCount = 720
	coilRPM       = 800
)

type boardKey struct {
	bus  uint8
	addr uint8
}

// buildActuators creates the actuator of every gauge from its wiring.
// Motor shields shared by several gauges are initialized once.
func buildActuators(cfg *cluster.Config, i2c core.I2CDriver) ([gauge.NumAxes]core.StepActuator, error) {
	var actuators [gauge.NumAxes]core.StepActuator
	boards := make(map[boardKey]*shield.Board)
	buses := make(map[uint8]bool)

	for axis := gauge.AxisID(0); axis < gauge.NumAxes; axis++ {
		wiring := cfg.Gauge(axis).Actuator

		switch wiring.Kind {
		case cluster.ActuatorShield:
			if !buses[wiring.Bus] {
				if err := i2c.ConfigureBus(core.I2CBusID(wiring.Bus), shield.BusFrequency); err != nil {
					return actuators, err
				}
				buses[wiring.Bus] = true
			}
			key := boardKey{wiring.Bus, wiring.Address}
			board, ok := boards[key]
			if !ok {
				board = shield.NewBoard(i2c, core.I2CBusID(wiring.Bus), core.I2CAddress(wiring.Address))
				if err := board.Init(shield.DefaultFrequency); err != nil {
					return actuators, errors.New(axis.String() + ": shield at address " + core.Itoa(int(wiring.Address)) + ": " + err.Error())
				}
				boards[key] = board
			}
			stepper, err := board.Stepper(wiring.Port)
			if err != nil {
				return actuators, err
			}
			actuators[axis] = stepper

		case cluster.ActuatorStepDir:
			if wiring.UsePIO {
				a, err := stepdir.NewPIOActuator(uint8(wiring.StepPin), uint8(wiring.DirPin))
				if err != nil {
					return actuators, err
				}
				actuators[axis] = a
			} else {
				actuators[axis] = stepdir.NewGPIOActuator(uint8(wiring.StepPin), uint8(wiring.DirPin))
			}

		case cluster.ActuatorCoil:
			a, err := newCoilActuator(wiring.CoilPins)
			if err != nil {
				return actuators, err
			}
			actuators[axis] = a

		default:
			return actuators, errors.New(axis.String() + ": unsupported actuator " + wiring.Kind)
		}
	}
	return actuators, nil
}

// coilActuator drives a four-wire movement directly through easystepper
type coilActuator struct {
	dev *easystepper.Device
}

func newCoilActuator(pins [4]uint32) (*coilActuator, error) {
	dev, err := easystepper.New(easystepper.DeviceConfig{
		Pin1:      machine.Pin(pins[0]),
		Pin2:      machine.Pin(pins[1]),
		Pin3:      machine.Pin(pins[2]),
		Pin4:      machine.Pin(pins[3]),
		StepCount: coilStepCount,
		RPM:       coilRPM,
		Mode:      easystepper.ModeFour,
	})
	if err != nil {
		return nil, err
	}
	dev.Configure()
	return &coilActuator{dev: dev}, nil
}

// StepForward implements core.StepActuator
func (a *coilActuator) StepForward() {
	a.dev.Move(1)
}

// StepBackward implements core.StepActuator
func (a *coilActuator) StepBackward() {
	a.dev.Move(-1)
}

// Release de-energizes all four coils
func (a *coilActuator) Release() {
	a.dev.Off()
}

// Info returns backend performance information
func (a *coilActuator) Info() core.ActuatorInfo {
	return core.ActuatorInfo{
		Name:        "coil",
		MaxStepRate: coilStepCount * coilRPM / 60,
		Blocking:    true,
	}
}
