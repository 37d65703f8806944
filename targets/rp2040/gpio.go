//go:build rp2040

package main

import (
	"fmt"
	"machine"

	"gaugecluster/core"
)

const numGPIO = 30

// outputBank drives the ignition and illumination lines. The cluster has
// no inputs, so reads report the level last written.
type outputBank struct {
	output [numGPIO]bool
	level  [numGPIO]bool
}

func (b *outputBank) check(pin core.GPIOPin) error {
	if pin >= numGPIO {
		return fmt.Errorf("gpio%d: no such pin", pin)
	}
	return nil
}

func (b *outputBank) ConfigureOutput(pin core.GPIOPin) error {
	if err := b.check(pin); err != nil {
		return err
	}
	machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinOutput})
	b.output[pin] = true
	return nil
}

func (b *outputBank) SetPin(pin core.GPIOPin, value bool) error {
	if err := b.check(pin); err != nil {
		return err
	}
	if !b.output[pin] {
		return fmt.Errorf("gpio%d: not an output", pin)
	}
	machine.Pin(pin).Set(value)
	b.level[pin] = value
	return nil
}

func (b *outputBank) GetPin(pin core.GPIOPin) (bool, error) {
	if err := b.check(pin); err != nil {
		return false, err
	}
	return b.level[pin], nil
}
