package cluster

import (
	"errors"

	"gaugecluster/core"
)

// Signals drives the cluster's switched outputs: ignition enable and the
// dial illumination. Both stay low until the gauges are homed.
type Signals struct {
	driver       core.GPIODriver
	ignition     core.GPIOPin
	illumination core.GPIOPin
	enabled      bool
}

// NewSignals configures both pins as outputs, driven low
func NewSignals(driver core.GPIODriver, ignition, illumination core.GPIOPin) (*Signals, error) {
	if driver == nil {
		return nil, errors.New("signals: no GPIO driver")
	}
	s := &Signals{driver: driver, ignition: ignition, illumination: illumination}
	for _, pin := range []core.GPIOPin{ignition, illumination} {
		if err := driver.ConfigureOutput(pin); err != nil {
			return nil, err
		}
		if err := driver.SetPin(pin, false); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Enable drives ignition and illumination high
func (s *Signals) Enable() error {
	return s.set(true)
}

// Disable drives both outputs low
func (s *Signals) Disable() error {
	return s.set(false)
}

// Enabled reports the last state written
func (s *Signals) Enabled() bool {
	return s.enabled
}

func (s *Signals) set(on bool) error {
	if err := s.driver.SetPin(s.ignition, on); err != nil {
		return err
	}
	if err := s.driver.SetPin(s.illumination, on); err != nil {
		return err
	}
	s.enabled = on
	return nil
}
