package gauge

// Acceleration-limited single-step planner.
//
// Every step covers exactly one unit of distance, so constant acceleration
// gives v(k+1)^2 = v(k)^2 +/- 2a between consecutive steps. Before each
// step the planner picks the fastest speed that still lets the needle stop
// on the target, never changes speed by more than that per step, and never
// reverses before the speed has come down to the starting speed.

import (
	"errors"
	"math"

	"gaugecluster/core"
)

// ErrAxisMoving is returned when the origin is redefined while the axis
// still has distance to go.
var ErrAxisMoving = errors.New("axis is moving")

// restEpsilon is the relative tolerance, in units of 2a, below which a
// planned squared speed counts as zero
const restEpsilon = 1e-9

// Controller moves one gauge needle towards its target without blocking
type Controller struct {
	axis     AxisID
	config   AxisConfig
	actuator core.StepActuator

	// Position state
	position int32 // Steps from logical zero
	target   int32 // Requested steps from logical zero

	// Profile state. Speeds are kept squared; the planner never squares a
	// square root, so arrival lands on exactly zero.
	lastSpeed2 float64 // Squared speed of the last executed step, 0 at rest
	speed2     float64 // Squared speed of the planned step, 0 when idle
	speed      float64 // Signed speed of the planned step, 0 when idle
	interval   uint32  // Microseconds from the last step to the planned step
	lastStep   uint32  // Time of the last executed step
	fromRest   bool    // Planned step starts a move from idle and fires immediately
	dir        int8    // Direction of the planned step
	lastDir    int8    // Direction of the last executed step, 0 at rest

	accel2    float64 // 2 * acceleration
	maxSpeed2 float64 // maxSpeed^2

	steps      uint32 // Total steps executed
	calibrated bool
}

// NewController creates the motion controller for one axis
func NewController(axis AxisID, config AxisConfig, actuator core.StepActuator) (*Controller, error) {
	if actuator == nil {
		return nil, errors.New("gauge: nil actuator for " + axis.String())
	}
	if !(config.MaxSpeed > 0) {
		return nil, errors.New("gauge: max speed must be positive for " + axis.String())
	}
	if !(config.Acceleration > 0) {
		return nil, errors.New("gauge: acceleration must be positive for " + axis.String())
	}

	if config.InvertDirection {
		actuator = core.InvertedActuator{Actuator: actuator}
	}

	return &Controller{
		axis:      axis,
		config:    config,
		actuator:  actuator,
		accel2:    2 * config.Acceleration,
		maxSpeed2: config.MaxSpeed * config.MaxSpeed,
	}, nil
}

// Axis returns the axis this controller drives
func (c *Controller) Axis() AxisID {
	return c.axis
}

// Config returns the axis configuration
func (c *Controller) Config() AxisConfig {
	return c.config
}

// Actuator returns the actuator steps are sent to
func (c *Controller) Actuator() core.StepActuator {
	return c.actuator
}

// MoveTo sets an absolute target. Only the plan changes; the motor is
// stepped by Tick.
func (c *Controller) MoveTo(target int32) {
	if target == c.target {
		return
	}
	c.target = target
	if c.speed == 0 {
		c.lastSpeed2 = 0
		c.fromRest = true
	}
	c.plan()
}

// MoveRelative sets a target relative to the current position
func (c *Controller) MoveRelative(delta int32) {
	c.MoveTo(c.position + delta)
}

// SetCurrentPosition redefines the current position without moving the
// motor. Only legal while the axis is at rest on its target.
func (c *Controller) SetCurrentPosition(position int32) error {
	if c.speed != 0 || c.position != c.target {
		return ErrAxisMoving
	}
	c.position = position
	c.target = position
	c.idle()
	return nil
}

// DistanceToGo returns target minus current position
func (c *Controller) DistanceToGo() int32 {
	return c.target - c.position
}

// CurrentPosition returns the position in steps from logical zero
func (c *Controller) CurrentPosition() int32 {
	return c.position
}

// TargetPosition returns the requested position
func (c *Controller) TargetPosition() int32 {
	return c.target
}

// Speed returns the signed speed of the planned step in steps/s
func (c *Controller) Speed() float64 {
	return c.speed
}

// IsRunning returns true while a step is planned
func (c *Controller) IsRunning() bool {
	return c.speed != 0
}

// Steps returns the number of steps executed since power-up
func (c *Controller) Steps() uint32 {
	return c.steps
}

// Calibrated reports whether homing has established logical zero
func (c *Controller) Calibrated() bool {
	return c.calibrated
}

func (c *Controller) markCalibrated() {
	c.calibrated = true
}

// Stop retargets to the nearest position the axis can stop at
func (c *Controller) Stop() {
	if c.lastSpeed2 == 0 {
		c.MoveTo(c.position)
		return
	}
	// Rounded up so the stop point is never inside the braking distance
	stopping := int32(math.Ceil(c.lastSpeed2/c.accel2 - restEpsilon))
	c.MoveTo(c.position + int32(c.lastDir)*stopping)
}

// Tick is the non-blocking advance primitive. When the planned step is due
// it fires exactly one step and plans the next one. Returns true if a step
// was taken. Safe to call when idle.
func (c *Controller) Tick(now uint32) bool {
	if c.speed == 0 {
		return false
	}
	if !c.fromRest && !core.Elapsed(now, c.lastStep, c.interval) {
		return false
	}
	c.fromRest = false

	dir := c.dir
	if dir > 0 {
		c.actuator.StepForward()
		c.position++
	} else {
		c.actuator.StepBackward()
		c.position--
	}
	if c.lastDir != 0 && c.lastDir != dir {
		core.RecordEvent(core.EvtReverse, uint8(c.axis), now, c.position, c.target)
	}
	c.lastDir = dir
	c.lastSpeed2 = c.speed2
	c.lastStep = now
	c.steps++

	c.plan()
	if c.speed == 0 {
		core.RecordEvent(core.EvtArrive, uint8(c.axis), now, c.position, int32(c.steps))
	}
	return true
}

// plan computes the speed and due time of the next step from the speed
// of the last one and the remaining distance.
func (c *Controller) plan() {
	distance := float64(int64(c.target) - int64(c.position))
	w2 := c.lastSpeed2
	dir := c.lastDir

	next2 := 0.0
	if w2 > 0 {
		ceiling := 0.0
		if distance*float64(dir) > 0 {
			ceiling = math.Min(c.maxSpeed2, c.accel2*math.Abs(distance))
		}
		next2 = math.Max(math.Min(w2+c.accel2, ceiling), w2-c.accel2)
	}

	// Residue of w2-2a that should be zero is rest, not a crawl step
	if next2 <= c.accel2*restEpsilon {
		next2 = 0
	}

	if next2 == 0 {
		// At rest after the last step; restart towards the target if needed
		c.lastSpeed2 = 0
		if distance == 0 {
			c.idle()
			return
		}
		dir = int8(sign(distance))
		next2 = math.Min(c.accel2, c.maxSpeed2)
	}

	v := math.Sqrt(next2)
	c.dir = dir
	c.speed2 = next2
	c.speed = float64(dir) * v
	c.interval = intervalFor(v)
}

func (c *Controller) idle() {
	c.speed = 0
	c.speed2 = 0
	c.interval = 0
	c.lastSpeed2 = 0
	c.dir = 0
	c.lastDir = 0
	c.fromRest = false
}

// intervalFor converts a speed in steps/s to microseconds per step
func intervalFor(v float64) uint32 {
	us := float64(core.TimerFreq)/v + 0.5
	if us >= math.MaxUint32 {
		return math.MaxUint32
	}
	if us < 1 {
		return 1
	}
	return uint32(us)
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
