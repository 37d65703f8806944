package gauge

import (
	"errors"

	"gaugecluster/core"
)

// ErrHomingTimeout is returned when homing does not finish within its
// iteration budget.
var ErrHomingTimeout = errors.New("homing did not complete")

// DefaultHomingIterations bounds Homing.Run when no explicit budget is given
const DefaultHomingIterations = 50000000

// Phase is a step of the boot-time homing sequence
type Phase uint8

const (
	PhaseSeekStop    Phase = iota // Drive every needle into its hard stop
	PhaseOffset                   // Back off from the stop to the zero mark
	PhaseDeclareZero              // Redefine the current position as zero
	PhaseSweep                    // Optional full-scale self-test
	PhaseRest                     // Move to the idle reading
	PhaseDone
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case PhaseSeekStop:
		return "seek-stop"
	case PhaseOffset:
		return "offset"
	case PhaseDeclareZero:
		return "declare-zero"
	case PhaseSweep:
		return "sweep"
	case PhaseRest:
		return "rest"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Homing establishes the absolute zero of every axis without position
// feedback. The needles are driven further than their full travel into the
// mechanical stop, so wherever they start they end up stalled on it.
type Homing struct {
	axes  []*Controller
	sweep bool

	phase      Phase
	entered    bool  // Moves for the current phase have been issued
	sweepLeg   uint8 // 0 = out to full scale, 1 = back to zero
	iterations int
}

// NewHoming creates a homing sequence over the given axes.
// With sweep set every needle visits full scale once before resting.
func NewHoming(axes []*Controller, sweep bool) *Homing {
	return &Homing{
		axes:  axes,
		sweep: sweep,
		phase: PhaseSeekStop,
	}
}

// Phase returns the current phase
func (h *Homing) Phase() Phase {
	return h.phase
}

// Iterations returns how many times Advance has been called
func (h *Homing) Iterations() int {
	return h.iterations
}

// Done reports whether the sequence has completed
func (h *Homing) Done() bool {
	return h.phase == PhaseDone
}

// Advance runs one iteration of the sequence: issue the moves of the
// current phase if needed, tick every axis once, and move on to the next
// phase when all axes have arrived. Never blocks. Returns true once homing
// has completed.
func (h *Homing) Advance(now uint32) (bool, error) {
	if h.phase == PhaseDone {
		return true, nil
	}
	h.iterations++

	if !h.entered {
		if err := h.enter(now); err != nil {
			return false, err
		}
		h.entered = true
		if h.phase == PhaseDone {
			return true, nil
		}
	}

	for _, axis := range h.axes {
		axis.Tick(now)
	}

	if !h.settled() {
		return false, nil
	}

	if h.phase == PhaseSweep && h.sweepLeg == 0 {
		h.sweepLeg = 1
		for _, axis := range h.axes {
			axis.MoveTo(0)
		}
		return false, nil
	}

	h.next()
	return h.phase == PhaseDone, nil
}

// Run drives the sequence to completion, reading the time from clock.
// Fails with ErrHomingTimeout after maxIterations iterations; a
// non-positive budget selects DefaultHomingIterations.
func (h *Homing) Run(clock core.Clock, maxIterations int) error {
	if maxIterations <= 0 {
		maxIterations = DefaultHomingIterations
	}
	for n := 0; n < maxIterations; n++ {
		done, err := h.Advance(clock.Now())
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	core.DebugPrintln("[HOMING] timeout in phase " + h.phase.String())
	return ErrHomingTimeout
}

// enter issues the moves of the current phase
func (h *Homing) enter(now uint32) error {
	core.RecordEvent(core.EvtHomingPhase, 0, now, int32(h.phase), int32(h.iterations))
	core.DebugPrintln("[HOMING] " + h.phase.String())

	switch h.phase {
	case PhaseSeekStop:
		for _, axis := range h.axes {
			cfg := axis.Config()
			axis.MoveRelative(-cfg.ZeroSign() * cfg.HomingTravelSteps)
		}

	case PhaseOffset:
		for _, axis := range h.axes {
			cfg := axis.Config()
			axis.MoveRelative(cfg.ZeroSign() * cfg.ZeroOffsetSteps)
		}

	case PhaseDeclareZero:
		for _, axis := range h.axes {
			if err := axis.SetCurrentPosition(0); err != nil {
				return errors.New("homing: " + axis.Axis().String() + ": " + err.Error())
			}
			axis.markCalibrated()
		}

	case PhaseSweep:
		h.sweepLeg = 0
		for _, axis := range h.axes {
			cfg := axis.Config()
			axis.MoveTo(cfg.StepsFor(cfg.FullScale))
		}

	case PhaseRest:
		for _, axis := range h.axes {
			cfg := axis.Config()
			axis.MoveTo(cfg.StepsFor(cfg.IdleValue))
		}
	}
	return nil
}

func (h *Homing) next() {
	switch h.phase {
	case PhaseDeclareZero:
		if h.sweep {
			h.phase = PhaseSweep
		} else {
			h.phase = PhaseRest
		}
	case PhaseDone:
	default:
		h.phase++
	}
	h.entered = false
	if h.phase == PhaseDone {
		core.RecordEvent(core.EvtHomingPhase, 0, 0, int32(PhaseDone), int32(h.iterations))
	}
}

// settled reports whether every axis is at rest on its target
func (h *Homing) settled() bool {
	for _, axis := range h.axes {
		if axis.IsRunning() || axis.DistanceToGo() != 0 {
			return false
		}
	}
	return true
}
