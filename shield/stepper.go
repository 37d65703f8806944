package shield

import (
	"errors"

	"gaugecluster/core"
)

// Channel assignment of the two stepper ports
type portPins struct {
	pwmA, ain1, ain2 uint8
	pwmB, bin1, bin2 uint8
}

var ports = map[uint8]portPins{
	1: {pwmA: 8, ain2: 9, ain1: 10, pwmB: 13, bin2: 12, bin1: 11},
	2: {pwmA: 2, ain2: 3, ain1: 4, pwmB: 7, bin2: 6, bin1: 5},
}

// Double-coil full-step sequence, coil polarity of A and B per phase
var phases = [4][2]int8{
	{1, 1},
	{-1, 1},
	{-1, -1},
	{1, -1},
}

// Stepper is one stepper port of a shield.
// It implements core.StepActuator and core.Releaser.
type Stepper struct {
	board *Board
	pins  portPins
	phase uint8

	// Last level written to AIN1, AIN2, BIN1, BIN2
	levels [4]bool
	known  bool

	err   error
	steps uint32
}

// Stepper returns the stepper on port 1 or 2 and energizes its coils
func (b *Board) Stepper(port uint8) (*Stepper, error) {
	pins, ok := ports[port]
	if !ok {
		return nil, errors.New("shield: stepper port must be 1 or 2")
	}
	if !b.ready {
		return nil, errors.New("shield: board not initialized")
	}

	s := &Stepper{board: b, pins: pins}
	if err := b.SetPin(pins.pwmA, true); err != nil {
		return nil, err
	}
	if err := b.SetPin(pins.pwmB, true); err != nil {
		return nil, err
	}
	if err := s.apply(); err != nil {
		return nil, err
	}
	return s, nil
}

// StepForward implements core.StepActuator
func (s *Stepper) StepForward() {
	s.phase = (s.phase + 1) % 4
	s.steps++
	s.record(s.apply())
}

// StepBackward implements core.StepActuator
func (s *Stepper) StepBackward() {
	s.phase = (s.phase + 3) % 4
	s.steps++
	s.record(s.apply())
}

// Release de-energizes both coils. The next step re-energizes them.
func (s *Stepper) Release() {
	pins := [4]uint8{s.pins.ain1, s.pins.ain2, s.pins.bin1, s.pins.bin2}
	for i, pin := range pins {
		if err := s.board.SetPin(pin, false); err != nil {
			s.record(err)
			s.known = false
			return
		}
		s.levels[i] = false
	}
	s.known = false
}

// Err returns the first bus error seen while stepping
func (s *Stepper) Err() error {
	return s.err
}

// Steps returns the number of steps issued
func (s *Stepper) Steps() uint32 {
	return s.steps
}

// Info describes the actuator
func (s *Stepper) Info() core.ActuatorInfo {
	return core.ActuatorInfo{
		Name: "motor-shield",
		// Up to two channel writes of 5 bytes each at 400kHz
		MaxStepRate: 2000,
		Blocking:    true,
	}
}

// apply writes the coil levels of the current phase, skipping pins that
// already hold the right level
func (s *Stepper) apply() error {
	coil := phases[s.phase]
	want := [4]bool{coil[0] > 0, coil[0] < 0, coil[1] > 0, coil[1] < 0}
	pins := [4]uint8{s.pins.ain1, s.pins.ain2, s.pins.bin1, s.pins.bin2}

	// Switch off before on so a bridge never drives both sides
	for pass := 0; pass < 2; pass++ {
		on := pass == 1
		for i, pin := range pins {
			if want[i] != on || (s.known && s.levels[i] == on) {
				continue
			}
			if err := s.board.SetPin(pin, on); err != nil {
				s.known = false
				return err
			}
			s.levels[i] = on
		}
	}
	s.known = true
	return nil
}

func (s *Stepper) record(err error) {
	if err != nil && s.err == nil {
		s.err = err
		core.DebugAsync("[SHIELD] step failed: " + err.Error())
	}
}
