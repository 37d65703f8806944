package cluster

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gaugecluster/core"
	"gaugecluster/gauge"
	"gaugecluster/protocol"
	"gaugecluster/sim"
)

// writeLog keeps every Write call separately so reply framing can be checked
type writeLog struct {
	writes []string
	fail   bool
}

func (w *writeLog) Write(p []byte) (int, error) {
	if w.fail {
		return 0, errors.New("link down")
	}
	w.writes = append(w.writes, string(p))
	return len(p), nil
}

func (w *writeLog) reset() {
	w.writes = nil
}

// fakeGPIO records pin state
type fakeGPIO struct {
	outputs map[core.GPIOPin]bool
	levels  map[core.GPIOPin]bool
}

func newFakeGPIO() *fakeGPIO {
	return &fakeGPIO{outputs: map[core.GPIOPin]bool{}, levels: map[core.GPIOPin]bool{}}
}

func (g *fakeGPIO) ConfigureOutput(pin core.GPIOPin) error {
	g.outputs[pin] = true
	return nil
}

func (g *fakeGPIO) SetPin(pin core.GPIOPin, value bool) error {
	if !g.outputs[pin] {
		return errors.New("pin not configured")
	}
	g.levels[pin] = value
	return nil
}

func (g *fakeGPIO) GetPin(pin core.GPIOPin) (bool, error) {
	return g.levels[pin], nil
}

func testConfig() *Config {
	axis := func(scale float64, offset int32) GaugeConfig {
		return GaugeConfig{
			AxisConfig: gauge.AxisConfig{
				ScaleFactor:       scale,
				MaxSpeed:          600,
				Acceleration:      1200,
				ZeroOffsetSteps:   offset,
				HomingTravelSteps: 600,
			},
			Actuator: ActuatorConfig{Kind: ActuatorSim, SimTravel: 400},
		}
	}
	return &Config{
		Speed:               axis(1.785, 12),
		Tach:                axis(0.057, 20),
		Fuel:                axis(-1.5, 8),
		KMHToMPH:            0.62137,
		IgnitionPin:         14,
		IlluminationPin:     15,
		HomingMaxIterations: 1000000,
		QueueSize:           protocol.QueueSize,
	}
}

type rig struct {
	cluster *Cluster
	needles [gauge.NumAxes]*sim.Needle
	out     *writeLog
	clock   *sim.ManualClock
}

func newRig(t *testing.T, cfg *Config) *rig {
	t.Helper()
	r := &rig{out: &writeLog{}, clock: sim.NewManualClock(0, 50)}

	var actuators [gauge.NumAxes]core.StepActuator
	for i := gauge.AxisID(0); i < gauge.NumAxes; i++ {
		r.needles[i] = sim.NewNeedle(i.String(), 0, cfg.Gauge(i).Actuator.SimTravel, 150)
		actuators[i] = r.needles[i]
	}

	c, err := New(cfg, actuators, r.out)
	require.NoError(t, err)
	r.cluster = c
	return r
}

// settle polls until every gauge is at rest
func (r *rig) settle(t *testing.T) {
	t.Helper()
	for i := 0; i < 1000000; i++ {
		r.cluster.Poll(r.clock.Now())
		if r.cluster.Queue().IsEmpty() && r.idle() {
			return
		}
	}
	t.Fatal("cluster did not settle")
}

func (r *rig) idle() bool {
	for i := gauge.AxisID(0); i < gauge.NumAxes; i++ {
		if r.cluster.Axis(i).IsRunning() {
			return false
		}
	}
	return true
}

func (r *rig) targets() [gauge.NumAxes]int32 {
	var t [gauge.NumAxes]int32
	for i := gauge.AxisID(0); i < gauge.NumAxes; i++ {
		t[i] = r.cluster.Axis(i).TargetPosition()
	}
	return t
}

func TestNewRejectsBadAxis(t *testing.T) {
	cfg := testConfig()
	cfg.Tach.Acceleration = 0

	var actuators [gauge.NumAxes]core.StepActuator
	for i := range actuators {
		actuators[i] = sim.NewNeedle("x", 0, 10, 0)
	}
	_, err := New(cfg, actuators, nil)
	require.Error(t, err)

	_, err = New(nil, actuators, nil)
	require.Error(t, err)
}

func TestBootHomesAndAnnounces(t *testing.T) {
	r := newRig(t, testConfig())
	gpio := newFakeGPIO()

	signals, err := NewSignals(gpio, 14, 15)
	require.NoError(t, err)
	require.False(t, gpio.levels[14])
	r.cluster.SetSignals(signals)

	require.NoError(t, r.cluster.Boot(r.clock))
	require.True(t, r.cluster.Booted())
	require.Equal(t, []string{protocol.Banner}, r.out.writes)

	require.True(t, gpio.levels[14])
	require.True(t, gpio.levels[15])
	require.True(t, signals.Enabled())

	for i := gauge.AxisID(0); i < gauge.NumAxes; i++ {
		st := r.cluster.Status(i)
		require.True(t, st.Calibrated)
		require.Equal(t, int32(0), st.Position)
	}
	require.Equal(t, int32(12), r.needles[gauge.AxisSpeed].Position())
	require.Equal(t, int32(20), r.needles[gauge.AxisTach].Position())
	require.Equal(t, int32(400-8), r.needles[gauge.AxisFuel].Position())
	require.False(t, r.needles[gauge.AxisSpeed].Released())
}

func TestBootReleasesMotorsWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.ReleaseAfterBoot = true
	cfg.Fuel.InvertDirection = true
	r := newRig(t, cfg)

	require.NoError(t, r.cluster.Boot(r.clock))
	for i := gauge.AxisID(0); i < gauge.NumAxes; i++ {
		require.True(t, r.needles[i].Released(), "%s", i)
	}

	// The next command energizes the motor again
	r.cluster.Queue().Write([]byte("rpm=3000\n"))
	r.settle(t)
	require.False(t, r.needles[gauge.AxisTach].Released())
	require.Equal(t, int32(171), r.cluster.Axis(gauge.AxisTach).CurrentPosition())
}

// slowActuator reports a low step rate
type slowActuator struct{ sim.Needle }

func (a *slowActuator) Info() core.ActuatorInfo {
	return core.ActuatorInfo{Name: "slow", MaxStepRate: 100}
}

func TestNewRejectsSpeedAboveStepRate(t *testing.T) {
	cfg := testConfig()
	var actuators [gauge.NumAxes]core.StepActuator
	for i := range actuators {
		actuators[i] = sim.NewNeedle("n", 0, 400, 0)
	}
	actuators[gauge.AxisTach] = &slowActuator{}

	_, err := New(cfg, actuators, nil)
	require.ErrorContains(t, err, "tach")

	cfg.Tach.MaxSpeed = 100
	_, err = New(cfg, actuators, nil)
	require.NoError(t, err)
}

func TestBootTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.HomingMaxIterations = 5
	r := newRig(t, cfg)
	gpio := newFakeGPIO()
	signals, err := NewSignals(gpio, 14, 15)
	require.NoError(t, err)
	r.cluster.SetSignals(signals)

	err = r.cluster.Boot(r.clock)
	require.ErrorIs(t, err, gauge.ErrHomingTimeout)
	require.False(t, r.cluster.Booted())
	require.False(t, gpio.levels[14])
	require.Empty(t, r.out.writes)
}

func TestRPMCommand(t *testing.T) {
	r := newRig(t, testConfig())
	require.NoError(t, r.cluster.Boot(r.clock))
	r.out.reset()

	r.cluster.Queue().Write([]byte("rpm=3000\n"))
	r.settle(t)

	require.Equal(t, []string{"rpm=3000\n", "o", "k\n"}, r.out.writes)
	require.Equal(t, int32(171), r.cluster.Axis(gauge.AxisTach).CurrentPosition())
	require.Equal(t, int32(20+171), r.needles[gauge.AxisTach].Position())
}

func TestKMHCommand(t *testing.T) {
	r := newRig(t, testConfig())
	require.NoError(t, r.cluster.Boot(r.clock))

	r.cluster.Queue().Write([]byte("kmh=100\n"))
	r.settle(t)

	require.Equal(t, int32(111), r.cluster.Axis(gauge.AxisSpeed).TargetPosition())
	require.Equal(t, int32(111), r.cluster.Axis(gauge.AxisSpeed).CurrentPosition())
}

func TestEveryKeyConverges(t *testing.T) {
	r := newRig(t, testConfig())
	require.NoError(t, r.cluster.Boot(r.clock))

	r.cluster.Queue().Write([]byte("mph=80\nrpm=6000\nfuel=50\n"))
	r.settle(t)

	require.Equal(t, [gauge.NumAxes]int32{143, 342, -75}, r.targets())
	for i := gauge.AxisID(0); i < gauge.NumAxes; i++ {
		require.Equal(t, r.cluster.Axis(i).TargetPosition(), r.cluster.Axis(i).CurrentPosition(), i.String())
	}
	// Fuel reads backward from its stop at the top of the travel
	require.Equal(t, int32(400-8-75), r.needles[gauge.AxisFuel].Position())
}

func TestProtocolErrorsLeaveTargetsAlone(t *testing.T) {
	r := newRig(t, testConfig())
	require.NoError(t, r.cluster.Boot(r.clock))

	r.cluster.Queue().Write([]byte("rpm=1000\n"))
	r.settle(t)
	before := r.targets()
	r.out.reset()

	for _, line := range []string{"foo=5\n", "rpm5\n", "RPM=10\n", "\n"} {
		r.cluster.Queue().Write([]byte(line))
		r.cluster.Poll(r.clock.Now())
		require.Equal(t, []string{line, protocol.Usage}, r.out.writes, "line %q", line)
		require.Equal(t, before, r.targets(), "line %q", line)
		r.out.reset()
	}

	_, rejected, _ := r.cluster.Counters()
	require.Equal(t, uint32(4), rejected)
}

func TestGarbageValueIsZero(t *testing.T) {
	r := newRig(t, testConfig())
	require.NoError(t, r.cluster.Boot(r.clock))

	r.cluster.Queue().Write([]byte("rpm=3000\n"))
	r.settle(t)
	r.out.reset()

	r.cluster.Queue().Write([]byte("rpm=abc\r\n"))
	r.settle(t)

	require.Equal(t, []string{"rpm=abc\r\n", "o", "k\n"}, r.out.writes)
	require.Equal(t, int32(0), r.cluster.Axis(gauge.AxisTach).CurrentPosition())
}

func TestRepeatedCommandIsIdempotent(t *testing.T) {
	r := newRig(t, testConfig())
	require.NoError(t, r.cluster.Boot(r.clock))

	r.cluster.Queue().Write([]byte("mph=60\n"))
	r.settle(t)
	fwd, back := r.needles[gauge.AxisSpeed].StepCounts()

	for i := 0; i < 5; i++ {
		r.cluster.Queue().Write([]byte("mph=60\n"))
	}
	r.settle(t)

	fwd2, back2 := r.needles[gauge.AxisSpeed].StepCounts()
	require.Equal(t, fwd, fwd2)
	require.Equal(t, back, back2)
	require.Equal(t, int32(107), r.cluster.Axis(gauge.AxisSpeed).CurrentPosition())
}

func TestOneLinePerPoll(t *testing.T) {
	r := newRig(t, testConfig())
	r.cluster.Queue().Write([]byte("rpm=1\nrpm=2\n"))

	r.cluster.Poll(r.clock.Now())
	require.Equal(t, []string{"rpm=1\n", "o", "k\n"}, r.out.writes)

	r.cluster.Poll(r.clock.Now())
	require.Equal(t, []string{"rpm=1\n", "o", "k\n", "rpm=2\n", "o", "k\n"}, r.out.writes)

	r.cluster.Poll(r.clock.Now())
	require.Len(t, r.out.writes, 6)
}

func TestOverlongLineGetsUsage(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 16
	r := newRig(t, cfg)

	r.cluster.Queue().Write([]byte("rpm=1234567890123456789"))
	r.cluster.Poll(r.clock.Now())
	require.Equal(t, []string{protocol.Usage}, r.out.writes)

	// The rest of the line is dropped silently; the link recovers with
	// the next full line
	r.out.reset()
	r.cluster.Queue().Write([]byte("0\n"))
	r.cluster.Poll(r.clock.Now())
	require.Empty(t, r.out.writes)

	r.cluster.Queue().Write([]byte("rpm=100\n"))
	r.cluster.Poll(r.clock.Now())
	require.Equal(t, []string{"rpm=100\n", "o", "k\n"}, r.out.writes)
}

func TestLongLineDrawsOneUsageReply(t *testing.T) {
	r := newRig(t, testConfig())
	targets := r.targets()

	// Fed the way the serial reader does: only as fast as the queue drains
	line := []byte(strings.Repeat("9", 299) + "\n")
	for len(line) > 0 {
		n := r.cluster.Queue().Free()
		if n > len(line) {
			n = len(line)
		}
		r.cluster.Queue().Write(line[:n])
		line = line[n:]
		r.cluster.Poll(r.clock.Now())
	}
	for i := 0; i < 10; i++ {
		r.cluster.Poll(r.clock.Now())
	}

	require.Equal(t, []string{protocol.Usage}, r.out.writes)
	require.Equal(t, targets, r.targets())
	require.Zero(t, r.cluster.Queue().Dropped())
}

func TestWriteErrorsAreCounted(t *testing.T) {
	r := newRig(t, testConfig())
	r.out.fail = true

	require.NoError(t, r.cluster.HandleLine([]byte("rpm=100\n")))
	require.Equal(t, int32(6), r.cluster.Axis(gauge.AxisTach).TargetPosition())

	commands, _, writeErrors := r.cluster.Counters()
	require.Equal(t, uint32(1), commands)
	require.Equal(t, uint32(3), writeErrors)
}

func TestRunStopsOnCancel(t *testing.T) {
	r := newRig(t, testConfig())
	require.NoError(t, r.cluster.Boot(r.clock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.cluster.Run(ctx, r.clock)
	}()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestObserveSnapshots(t *testing.T) {
	r := newRig(t, testConfig())
	require.NoError(t, r.cluster.Boot(r.clock))

	var snapshots [][]Status
	r.cluster.Observe(10000, func(s []Status) {
		snapshots = append(snapshots, s)
	})

	r.cluster.Queue().Write([]byte("rpm=3000\n"))
	r.settle(t)

	require.NotEmpty(t, snapshots)
	last := snapshots[len(snapshots)-1]
	require.Len(t, last, int(gauge.NumAxes))
	require.Equal(t, gauge.AxisTach, last[gauge.AxisTach].Axis)
	require.Equal(t, int32(171), last[gauge.AxisTach].Target)
	require.InDelta(t, 3000, r.cluster.Status(gauge.AxisTach).Reading, 1e-6)
	require.True(t, last[gauge.AxisTach].Calibrated)
}
