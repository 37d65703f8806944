//go:build rp2040

package stepdir

// Step/dir driver backend using the RP2040 PIO blocks.
// Pulse timing is generated in hardware; the control loop only pushes
// one command word per step.

import (
	"errors"
	"machine"

	"gaugecluster/core"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

// PIO program for step pulse generation
// Command word format (see StepCommand):
//
//	Bits 0-15:  pulse count
//	Bits 16-23: delay cycles between pulses
//	Bit 31:     direction (0=forward, 1=reverse)
func buildStepProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),          // 0: pull block
		asm.Out(rp2pio.OutDestX, 16).Encode(),   // 1: out x, 16 (pulse count)
		asm.Out(rp2pio.OutDestY, 8).Encode(),    // 2: out y, 8 (delay cycles)
		asm.Out(rp2pio.OutDestNull, 7).Encode(), // 3: out null, 7 (padding)
		asm.Out(rp2pio.OutDestPins, 1).Encode(), // 4: out pins, 1 (direction)
		// step_loop:
		asm.Set(rp2pio.SetDestPins, 1).Delay(7).Encode(), // 5: set pins, 1 [7]
		asm.Set(rp2pio.SetDestPins, 0).Encode(),          // 6: set pins, 0
		// delay_loop:
		asm.Jmp(7, rp2pio.JmpYNZeroDec).Encode(), // 7: jmp y--, 7
		asm.Jmp(5, rp2pio.JmpXNZeroDec).Encode(), // 8: jmp x--, 5
		// .wrap
	}
}

// Shared by every state machine of a block; jump targets assume offset 0
const stepProgramOrigin = 0

var programLoaded [NumPIO]bool

// ErrNoStateMachine is returned when every PIO state machine is in use
var ErrNoStateMachine = errors.New("stepdir: no free PIO state machine")

var allocator Allocator

// PIOActuator drives a step/dir motor driver from a PIO state machine
type PIOActuator struct {
	pio     *rp2pio.PIO
	sm      rp2pio.StateMachine
	stepPin machine.Pin
	dirPin  machine.Pin
	pioNum  uint8
	smNum   uint8
}

// NewPIOActuator claims a state machine and starts the step program on it
func NewPIOActuator(stepPin, dirPin uint8) (*PIOActuator, error) {
	pioNum, smNum, ok := allocator.Allocate()
	if !ok {
		return nil, ErrNoStateMachine
	}

	pioHW := rp2pio.PIO0
	if pioNum == 1 {
		pioHW = rp2pio.PIO1
	}

	a := &PIOActuator{
		pio:     pioHW,
		sm:      pioHW.StateMachine(smNum),
		stepPin: machine.Pin(stepPin),
		dirPin:  machine.Pin(dirPin),
		pioNum:  pioNum,
		smNum:   smNum,
	}
	if err := a.init(); err != nil {
		allocator.Free(pioNum, smNum)
		return nil, err
	}

	core.DebugPrintln("[STEPDIR] PIO" + core.Itoa(int(pioNum)) + " SM" + core.Itoa(int(smNum)))
	return a, nil
}

func (a *PIOActuator) init() error {
	// Claim the state machine before touching its registers
	a.sm.TryClaim()

	program := buildStepProgram()
	offset := uint8(stepProgramOrigin)
	if !programLoaded[a.pioNum] {
		var err error
		offset, err = a.pio.AddProgram(program, stepProgramOrigin)
		if err != nil {
			return err
		}
		programLoaded[a.pioNum] = true
	}

	a.stepPin.Configure(machine.PinConfig{Mode: a.pio.PinMode()})
	a.dirPin.Configure(machine.PinConfig{Mode: a.pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(a.stepPin, 1)
	cfg.SetOutPins(a.dirPin, 1)

	// Shift right, no autopull (the program pulls explicitly), 32-bit threshold
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)

	// 125kHz PIO clock: 8-cycle pulses are 64us wide, plenty for any driver
	cfg.SetClkDivIntFrac(1000, 0)

	// Pin directions must be set after Init
	a.sm.Init(offset, cfg)
	a.sm.SetPindirsConsecutive(a.stepPin, 1, true)
	a.sm.SetPindirsConsecutive(a.dirPin, 1, true)
	a.sm.SetPinsConsecutive(a.stepPin, 1, false)
	a.sm.SetPinsConsecutive(a.dirPin, 1, false)

	a.sm.SetEnabled(true)
	return nil
}

// StepForward implements core.StepActuator
func (a *PIOActuator) StepForward() {
	a.put(StepCommand(1, 1, false))
}

// StepBackward implements core.StepActuator
func (a *PIOActuator) StepBackward() {
	a.put(StepCommand(1, 1, true))
}

func (a *PIOActuator) put(cmd uint32) {
	// The FIFO holds 4 words; at gauge rates it is never full for long
	for a.sm.IsTxFIFOFull() {
	}
	a.sm.TxPut(cmd)
}

// Info returns backend performance information
func (a *PIOActuator) Info() core.ActuatorInfo {
	return core.ActuatorInfo{
		Name:        "stepdir-pio",
		MaxStepRate: 1000,
	}
}
