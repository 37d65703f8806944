package core

// StepActuator is the hardware abstraction for one gauge motor.
// Implementations drive a motor shield channel, a step/dir driver or
// bare coils; the motion controller only ever sees this interface.
type StepActuator interface {
	// StepForward advances the motor by exactly one increment.
	// Must be fast and non-blocking (called from the control loop).
	StepForward()

	// StepBackward retracts the motor by exactly one increment.
	StepBackward()
}

// Releaser is implemented by actuators that can de-energize their coils.
// The cluster releases every motor after boot when configured to, for
// boards where holding current would heat the motor. The next step
// re-energizes it.
type Releaser interface {
	Release()
}

// ActuatorInfo describes an actuator implementation
type ActuatorInfo struct {
	Name        string
	MaxStepRate uint32 // Maximum steps/second the backend can sustain, 0 if unknown
	Blocking    bool   // True if a step waits on the bus or a pulse delay
}

// Describer is implemented by actuators that report their limits
type Describer interface {
	Info() ActuatorInfo
}

// InvertedActuator swaps the direction of another actuator.
// Used when a motor is wired backward.
type InvertedActuator struct {
	Actuator StepActuator
}

// StepForward implements StepActuator
func (a InvertedActuator) StepForward() {
	a.Actuator.StepBackward()
}

// StepBackward implements StepActuator
func (a InvertedActuator) StepBackward() {
	a.Actuator.StepForward()
}

// Release releases the wrapped actuator if it supports it
func (a InvertedActuator) Release() {
	if r, ok := a.Actuator.(Releaser); ok {
		r.Release()
	}
}
