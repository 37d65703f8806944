package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"gaugecluster/core"
	"gaugecluster/gauge"
	"gaugecluster/protocol"
)

// Cluster coordinates the gauges, the receive queue and the replies
type Cluster struct {
	config  *Config
	axes    [gauge.NumAxes]*gauge.Controller
	queue   *protocol.LineQueue
	out     io.Writer
	signals *Signals

	line []byte // Scratch buffer for the line being dispatched

	// Periodic status observer, called from the control loop
	observer     func([]Status)
	observeEvery uint32
	lastObserved uint32

	// Status
	booted      bool
	lastDropped uint32
	commands    uint32
	rejected    uint32
	writeErrors uint32
}

// New creates a cluster driving one actuator per gauge. Replies are
// written to out; a nil out discards them.
func New(cfg *Config, actuators [gauge.NumAxes]core.StepActuator, out io.Writer) (*Cluster, error) {
	if cfg == nil {
		return nil, errors.New("cluster: nil config")
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = protocol.QueueSize
	}

	c := &Cluster{
		config: cfg,
		queue:  protocol.NewLineQueue(queueSize),
		out:    out,
		line:   make([]byte, 0, protocol.LineMax),
	}

	for i := gauge.AxisID(0); i < gauge.NumAxes; i++ {
		if err := checkStepRate(i, cfg.Gauge(i).MaxSpeed, actuators[i]); err != nil {
			return nil, err
		}
		axis, err := gauge.NewController(i, cfg.Gauge(i).AxisConfig, actuators[i])
		if err != nil {
			return nil, err
		}
		c.axes[i] = axis
	}

	return c, nil
}

// checkStepRate rejects a max speed the actuator cannot keep up with
func checkStepRate(axis gauge.AxisID, maxSpeed float64, actuator core.StepActuator) error {
	d, ok := actuator.(core.Describer)
	if !ok {
		return nil
	}
	info := d.Info()
	if info.MaxStepRate > 0 && maxSpeed > float64(info.MaxStepRate) {
		return fmt.Errorf("%s: max speed %.0f exceeds %s limit of %d steps/s", axis, maxSpeed, info.Name, info.MaxStepRate)
	}
	return nil
}

// SetSignals attaches the ignition/illumination outputs enabled after boot
func (c *Cluster) SetSignals(s *Signals) {
	c.signals = s
}

// Queue returns the receive queue. The serial reader is its only producer.
func (c *Cluster) Queue() *protocol.LineQueue {
	return c.queue
}

// Axis returns the controller of one gauge
func (c *Cluster) Axis(id gauge.AxisID) *gauge.Controller {
	if id >= gauge.NumAxes {
		return nil
	}
	return c.axes[id]
}

// Config returns the active configuration
func (c *Cluster) Config() *Config {
	return c.config
}

// Booted reports whether homing has completed
func (c *Cluster) Booted() bool {
	return c.booted
}

// Boot homes every gauge, then switches on the cluster outputs and
// announces readiness on the serial link. Blocks until homing finishes or
// its iteration budget runs out.
func (c *Cluster) Boot(clock core.Clock) error {
	homing := gauge.NewHoming(c.axes[:], c.config.Sweep)
	if err := homing.Run(clock, c.config.HomingMaxIterations); err != nil {
		return fmt.Errorf("homing: %w", err)
	}
	core.RecordEvent(core.EvtBoot, 0, clock.Now(), int32(homing.Iterations()), 0)

	if c.config.ReleaseAfterBoot {
		for _, axis := range c.axes {
			if r, ok := axis.Actuator().(core.Releaser); ok {
				r.Release()
			}
		}
	}

	if c.signals != nil {
		if err := c.signals.Enable(); err != nil {
			return fmt.Errorf("enable outputs: %w", err)
		}
	}

	c.booted = true
	c.write(protocol.Banner)
	return nil
}

// Poll runs one control loop iteration: dispatch at most one complete line
// from the receive queue, then give every gauge one chance to step.
func (c *Cluster) Poll(now uint32) {
	if dropped := c.queue.Dropped(); dropped != c.lastDropped {
		c.lastDropped = dropped
		core.RecordEvent(core.EvtOverflow, 0, now, int32(dropped), 0)
		core.DebugAsync("[CLUSTER] receive overflow, dropped " + core.Itoa(int(dropped)))
	}

	line, err := c.queue.NextLine(c.line)
	switch {
	case err != nil:
		c.rejected++
		core.RecordEvent(core.EvtProtocolError, 0, now, int32(c.queue.Free()), 0)
		c.write(protocol.Usage)
	case line != nil:
		c.HandleLine(line)
		c.line = line[:0]
	}

	for _, axis := range c.axes {
		axis.Tick(now)
	}

	if c.observer != nil && core.Elapsed(now, c.lastObserved, c.observeEvery) {
		c.lastObserved = now
		c.observer(c.Snapshot())
	}
}

// Observe registers fn to receive a snapshot of every gauge at most once
// per everyUS microseconds. fn runs on the control loop and must not block.
func (c *Cluster) Observe(everyUS uint32, fn func([]Status)) {
	c.observer = fn
	c.observeEvery = everyUS
}

// Run polls until ctx is cancelled, yielding between iterations so the
// serial reader gets scheduled
func (c *Cluster) Run(ctx context.Context, clock core.Clock) error {
	delay := time.Duration(c.config.LoopDelayUS) * time.Microsecond
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c.Poll(clock.Now())

		if delay > 0 {
			time.Sleep(delay)
		} else {
			runtime.Gosched()
		}
	}
}

// HandleLine answers one received line, terminator included. The line is
// always echoed. A valid command is acknowledged with "o", applied, then
// closed with "k\n"; anything else gets the usage reply and changes
// nothing.
func (c *Cluster) HandleLine(line []byte) error {
	c.writeBytes(line)

	cmd, err := protocol.ParseCommand(line)
	if err != nil {
		c.rejected++
		core.RecordEvent(core.EvtProtocolError, 0, 0, int32(len(line)), 0)
		c.write(protocol.Usage)
		return err
	}

	c.write(protocol.AckOpen)
	c.Apply(cmd)
	c.write(protocol.AckClose)
	return nil
}

// Apply retargets the gauge a command refers to and returns the new
// target in steps
func (c *Cluster) Apply(cmd protocol.Command) int32 {
	var (
		axis  gauge.AxisID
		value = float64(cmd.Value)
	)

	switch cmd.Key {
	case protocol.KeyMPH:
		axis = gauge.AxisSpeed
	case protocol.KeyKMH:
		axis = gauge.AxisSpeed
		value *= c.config.KMHToMPH
	case protocol.KeyRPM:
		axis = gauge.AxisTach
	case protocol.KeyFuel:
		axis = gauge.AxisFuel
	default:
		return 0
	}

	ctl := c.axes[axis]
	target := ctl.Config().StepsFor(value)
	ctl.MoveTo(target)

	c.commands++
	core.RecordEvent(core.EvtCommand, uint8(axis), 0, target, cmd.Value)
	return target
}

// Status returns a snapshot of one gauge
func (c *Cluster) Status(id gauge.AxisID) Status {
	axis := c.axes[id]
	return Status{
		Axis:       id,
		Position:   axis.CurrentPosition(),
		Target:     axis.TargetPosition(),
		Speed:      axis.Speed(),
		Reading:    axis.Config().ValueFor(axis.CurrentPosition()),
		Calibrated: axis.Calibrated(),
	}
}

// Snapshot returns the status of every gauge
func (c *Cluster) Snapshot() []Status {
	statuses := make([]Status, 0, gauge.NumAxes)
	for i := gauge.AxisID(0); i < gauge.NumAxes; i++ {
		statuses = append(statuses, c.Status(i))
	}
	return statuses
}

// Counters returns the number of applied commands, rejected lines and
// failed reply writes
func (c *Cluster) Counters() (commands, rejected, writeErrors uint32) {
	return c.commands, c.rejected, c.writeErrors
}

func (c *Cluster) write(s string) {
	if c.out == nil {
		return
	}
	if _, err := io.WriteString(c.out, s); err != nil {
		c.writeErrors++
	}
}

func (c *Cluster) writeBytes(b []byte) {
	if c.out == nil {
		return
	}
	if _, err := c.out.Write(b); err != nil {
		c.writeErrors++
	}
}
