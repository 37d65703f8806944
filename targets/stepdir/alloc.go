package stepdir

// RP2040 has 2 PIO blocks (PIO0, PIO1) with 4 state machines each
const (
	NumPIO        = 2
	SMPerPIO      = 4
	StateMachines = NumPIO * SMPerPIO
)

// Allocator hands out PIO state machines round-robin
type Allocator struct {
	used    [NumPIO][SMPerPIO]bool
	nextPIO uint8
	nextSM  uint8
}

// Allocate reserves a free state machine.
// Returns (pioNum, smNum, ok); ok is false when all are taken.
func (a *Allocator) Allocate() (uint8, uint8, bool) {
	for i := 0; i < StateMachines; i++ {
		pioNum := a.nextPIO
		smNum := a.nextSM

		// Advance to next slot
		a.nextSM++
		if a.nextSM >= SMPerPIO {
			a.nextSM = 0
			a.nextPIO = (a.nextPIO + 1) % NumPIO
		}

		if !a.used[pioNum][smNum] {
			a.used[pioNum][smNum] = true
			return pioNum, smNum, true
		}
	}
	return 0, 0, false
}

// Free returns a state machine to the pool
func (a *Allocator) Free(pioNum, smNum uint8) {
	if pioNum < NumPIO && smNum < SMPerPIO {
		a.used[pioNum][smNum] = false
	}
}

// Status returns the allocation map for debugging
func (a *Allocator) Status() [NumPIO][SMPerPIO]bool {
	return a.used
}

// Reset frees every state machine
func (a *Allocator) Reset() {
	*a = Allocator{}
}

// Command word layout of the step program
const (
	cmdCountMask  = 0xFFFF
	cmdDelayShift = 16
	cmdDirBit     = 1 << 31
)

// StepCommand encodes a request for count pulses spaced by delay extra
// cycles; reverse sets the direction pin high for the burst
func StepCommand(count uint16, delay uint8, reverse bool) uint32 {
	cmd := uint32(count)&cmdCountMask | uint32(delay)<<cmdDelayShift
	if reverse {
		cmd |= cmdDirBit
	}
	return cmd
}
