//go:build rp2040

package stepdir

import (
	"device/arm"
	"device/rp"
	"machine"

	"gaugecluster/core"
)

// GPIOActuator drives a step/dir motor driver by toggling pins from the
// CPU. Fallback for boards where the PIO blocks are taken.
type GPIOActuator struct {
	stepMask uint32
	dirMask  uint32
}

// NewGPIOActuator configures both pins as outputs, driven low
func NewGPIOActuator(stepPin, dirPin uint8) *GPIOActuator {
	step := machine.Pin(stepPin)
	dir := machine.Pin(dirPin)
	step.Configure(machine.PinConfig{Mode: machine.PinOutput})
	step.Low()
	dir.Configure(machine.PinConfig{Mode: machine.PinOutput})
	dir.Low()

	return &GPIOActuator{
		stepMask: 1 << stepPin,
		dirMask:  1 << dirPin,
	}
}

// StepForward implements core.StepActuator
func (a *GPIOActuator) StepForward() {
	rp.SIO.GPIO_OUT_CLR.Set(a.dirMask)
	a.pulse()
}

// StepBackward implements core.StepActuator
func (a *GPIOActuator) StepBackward() {
	rp.SIO.GPIO_OUT_SET.Set(a.dirMask)
	a.pulse()
}

func (a *GPIOActuator) pulse() {
	// Dir-to-step setup time, ~24ns @ 125MHz
	arm.Asm("nop\nnop\nnop")

	rp.SIO.GPIO_OUT_SET.Set(a.stepMask)
	// 13 NOPs = ~104ns pulse width
	arm.Asm("nop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop")
	rp.SIO.GPIO_OUT_CLR.Set(a.stepMask)
}

// Info returns backend performance information
func (a *GPIOActuator) Info() core.ActuatorInfo {
	return core.ActuatorInfo{
		Name:        "stepdir-gpio",
		MaxStepRate: 1000,
	}
}
