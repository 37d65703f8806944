// Package sim provides software stand-ins for the cluster hardware: a
// needle with mechanical end stops and controllable clocks. The desktop
// simulator and the tests drive the real motion code against them.
package sim

import (
	"sync"

	"gaugecluster/core"
)

// Needle is a simulated gauge needle. Steps beyond the stops are absorbed
// by the mechanism, the same way a real needle stalls against its pin.
type Needle struct {
	Name string
	Min  int32 // Hard stop, lowest reachable position
	Max  int32 // Highest reachable position

	mu       sync.Mutex
	position int32
	stalls   uint32
	forward  uint32
	backward uint32
	released bool
	onStep   func(position int32)
}

// NewNeedle creates a needle between two stops, starting at start
func NewNeedle(name string, min, max, start int32) *Needle {
	if start < min {
		start = min
	}
	if start > max {
		start = max
	}
	return &Needle{Name: name, Min: min, Max: max, position: start}
}

// StepForward implements core.StepActuator
func (n *Needle) StepForward() {
	n.mu.Lock()
	n.forward++
	n.released = false
	if n.position < n.Max {
		n.position++
	} else {
		n.stalls++
	}
	pos, cb := n.position, n.onStep
	n.mu.Unlock()

	if cb != nil {
		cb(pos)
	}
}

// StepBackward implements core.StepActuator
func (n *Needle) StepBackward() {
	n.mu.Lock()
	n.backward++
	n.released = false
	if n.position > n.Min {
		n.position--
	} else {
		n.stalls++
	}
	pos, cb := n.position, n.onStep
	n.mu.Unlock()

	if cb != nil {
		cb(pos)
	}
}

// Release implements core.Releaser
func (n *Needle) Release() {
	n.mu.Lock()
	n.released = true
	n.mu.Unlock()
}

// Info describes the actuator
func (n *Needle) Info() core.ActuatorInfo {
	return core.ActuatorInfo{Name: "sim-" + n.Name, MaxStepRate: core.TimerFreq}
}

// OnStep registers a callback invoked after every step with the new
// physical position
func (n *Needle) OnStep(fn func(position int32)) {
	n.mu.Lock()
	n.onStep = fn
	n.mu.Unlock()
}

// Position returns the physical needle position relative to its stops
func (n *Needle) Position() int32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.position
}

// Stalls returns how many steps were absorbed by the stops
func (n *Needle) Stalls() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stalls
}

// StepCounts returns the number of forward and backward steps commanded
func (n *Needle) StepCounts() (forward, backward uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.forward, n.backward
}

// Released reports whether the coils are currently released
func (n *Needle) Released() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.released
}
