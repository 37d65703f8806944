package gauge

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"gaugecluster/core"
	"gaugecluster/sim"
)

// stepRecord is one step seen by the recording actuator
type stepRecord struct {
	at    uint32
	dir   int
	speed float64 // Planned speed of the step when it fired
}

// recorder captures every step together with the time it was taken
type recorder struct {
	now   *uint32
	ctl   *Controller
	steps []stepRecord
}

func (r *recorder) StepForward()  { r.record(1) }
func (r *recorder) StepBackward() { r.record(-1) }

func (r *recorder) record(dir int) {
	speed := 0.0
	if r.ctl != nil {
		speed = r.ctl.Speed()
	}
	r.steps = append(r.steps, stepRecord{at: *r.now, dir: dir, speed: speed})
}

func testAxisConfig() AxisConfig {
	return AxisConfig{
		ScaleFactor:       0.057,
		MaxSpeed:          500,
		Acceleration:      1000,
		ZeroOffsetSteps:   20,
		HomingTravelSteps: 600,
		FullScale:         8000,
	}
}

func newRecorded(t *testing.T, cfg AxisConfig) (*Controller, *recorder, *uint32) {
	t.Helper()
	now := new(uint32)
	rec := &recorder{now: now}
	c, err := NewController(AxisTach, cfg, rec)
	require.NoError(t, err)
	rec.ctl = c
	return c, rec, now
}

// runToRest ticks the controller every stepUS microseconds until it is idle
func runToRest(t *testing.T, c *Controller, now *uint32, stepUS uint32) {
	t.Helper()
	for i := 0; i < 10000000; i++ {
		if !c.IsRunning() {
			return
		}
		c.Tick(*now)
		*now += stepUS
	}
	t.Fatalf("axis %s did not come to rest (pos=%d target=%d)", c.Axis(), c.CurrentPosition(), c.TargetPosition())
}

// tickUntil ticks the controller every stepUS microseconds until done
// reports true
func tickUntil(t *testing.T, c *Controller, now *uint32, stepUS uint32, done func() bool) {
	t.Helper()
	for i := 0; i < 10000000; i++ {
		if done() {
			return
		}
		c.Tick(*now)
		*now += stepUS
	}
	t.Fatalf("axis %s stuck at %d (target %d)", c.Axis(), c.CurrentPosition(), c.TargetPosition())
}

func TestNewControllerValidates(t *testing.T) {
	cfg := testAxisConfig()
	needle := sim.NewNeedle("tach", 0, 600, 0)

	_, err := NewController(AxisTach, cfg, nil)
	require.Error(t, err)

	bad := cfg
	bad.MaxSpeed = 0
	_, err = NewController(AxisTach, bad, needle)
	require.Error(t, err)

	bad = cfg
	bad.Acceleration = math.NaN()
	_, err = NewController(AxisTach, bad, needle)
	require.Error(t, err)

	c, err := NewController(AxisTach, cfg, needle)
	require.NoError(t, err)
	require.False(t, c.IsRunning())
	require.False(t, c.Calibrated())
	require.Equal(t, int32(0), c.DistanceToGo())
}

func TestControllerConverges(t *testing.T) {
	for _, target := range []int32{171, -90, 1, 599, 0} {
		c, rec, now := newRecorded(t, testAxisConfig())
		c.MoveTo(target)
		runToRest(t, c, now, 50)

		require.Equal(t, target, c.CurrentPosition(), "target %d", target)
		require.Equal(t, int32(0), c.DistanceToGo())
		require.Len(t, rec.steps, int(abs32(target)))
		require.Equal(t, uint32(len(rec.steps)), c.Steps())
	}
}

func TestControllerFirstStepFromRestIsImmediate(t *testing.T) {
	c, rec, now := newRecorded(t, testAxisConfig())
	*now = 12345

	c.MoveTo(10)
	require.True(t, c.IsRunning())
	require.True(t, c.Tick(*now))
	require.Len(t, rec.steps, 1)

	// Next step waits for its interval
	require.False(t, c.Tick(*now+1))
}

func TestControllerTickIdleIsNoop(t *testing.T) {
	c, rec, _ := newRecorded(t, testAxisConfig())
	for i := uint32(0); i < 100; i++ {
		require.False(t, c.Tick(i*1000))
	}
	require.Empty(t, rec.steps)
}

func TestControllerShortMovesNeverOvershoot(t *testing.T) {
	for target := int32(1); target <= 40; target++ {
		c, rec, now := newRecorded(t, testAxisConfig())
		c.MoveTo(target)
		runToRest(t, c, now, 10)

		pos := int32(0)
		for _, s := range rec.steps {
			pos += int32(s.dir)
			require.LessOrEqual(t, pos, target, "overshoot on move to %d", target)
			require.Equal(t, 1, s.dir, "reversal on move to %d", target)
		}
	}
}

func TestControllerRespectsLimits(t *testing.T) {
	cfg := testAxisConfig()
	c, rec, now := newRecorded(t, cfg)

	c.MoveTo(500)
	tickUntil(t, c, now, 20, func() bool { return c.CurrentPosition() >= 250 })
	c.MoveTo(-100)
	runToRest(t, c, now, 20)
	require.Equal(t, int32(-100), c.CurrentPosition())

	for i, s := range rec.steps {
		require.LessOrEqual(t, math.Abs(s.speed), cfg.MaxSpeed+1e-9, "step %d too fast", i)
		if i == 0 || rec.steps[i-1].dir != s.dir {
			continue
		}
		prev := rec.steps[i-1].speed
		delta := math.Abs(s.speed*s.speed - prev*prev)
		require.LessOrEqual(t, delta, 2*cfg.Acceleration+1e-6, "step %d speed change", i)

		// A step never fires before its interval
		minGap := uint32(float64(core.TimerFreq)/math.Abs(s.speed) + 0.5)
		require.GreaterOrEqual(t, s.at-rec.steps[i-1].at, minGap, "step %d early", i)
	}
}

func TestControllerReversalDeceleratesFirst(t *testing.T) {
	cfg := testAxisConfig()
	c, rec, now := newRecorded(t, cfg)

	c.MoveTo(400)
	tickUntil(t, c, now, 10, func() bool { return c.CurrentPosition() >= 200 })
	require.InDelta(t, cfg.MaxSpeed, math.Abs(c.Speed()), 1e-9)

	c.MoveTo(0)
	runToRest(t, c, now, 10)
	require.Equal(t, int32(0), c.CurrentPosition())

	// Past the reversal target the needle keeps going forward while braking
	reversals := 0
	crawl := math.Sqrt(2 * cfg.Acceleration)
	for i := 1; i < len(rec.steps); i++ {
		if rec.steps[i].dir == rec.steps[i-1].dir {
			continue
		}
		reversals++
		require.LessOrEqual(t, math.Abs(rec.steps[i-1].speed), crawl+1e-9)
		require.LessOrEqual(t, math.Abs(rec.steps[i].speed), crawl+1e-9)
		require.GreaterOrEqual(t, rec.steps[i].at-rec.steps[i-1].at, uint32(float64(core.TimerFreq)/crawl))
	}
	require.Equal(t, 1, reversals)
}

func TestControllerMoveToIsIdempotent(t *testing.T) {
	a, recA, nowA := newRecorded(t, testAxisConfig())
	b, recB, nowB := newRecorded(t, testAxisConfig())

	a.MoveTo(171)
	b.MoveTo(171)
	for i := 0; i < 200000 && (a.IsRunning() || b.IsRunning()); i++ {
		a.Tick(*nowA)
		b.Tick(*nowB)
		if i%97 == 0 {
			b.MoveTo(171)
		}
		*nowA += 25
		*nowB += 25
	}

	require.Equal(t, int32(171), a.CurrentPosition())
	require.Equal(t, a.CurrentPosition(), b.CurrentPosition())
	require.Equal(t, recA.steps, recB.steps)

	// Repeating the command at rest does not move the needle
	b.MoveTo(171)
	require.False(t, b.IsRunning())
}

func TestControllerHandlesClockWrap(t *testing.T) {
	c, _, now := newRecorded(t, testAxisConfig())
	*now = math.MaxUint32 - 100000

	c.MoveTo(300)
	runToRest(t, c, now, 50)
	require.Equal(t, int32(300), c.CurrentPosition())
	require.Less(t, *now, uint32(math.MaxUint32-100000))
}

func TestControllerSetCurrentPosition(t *testing.T) {
	c, _, now := newRecorded(t, testAxisConfig())

	c.MoveTo(50)
	require.ErrorIs(t, c.SetCurrentPosition(0), ErrAxisMoving)

	runToRest(t, c, now, 50)
	require.NoError(t, c.SetCurrentPosition(0))
	require.Equal(t, int32(0), c.CurrentPosition())
	require.Equal(t, int32(0), c.TargetPosition())
	require.False(t, c.IsRunning())
}

func TestControllerStopBrakes(t *testing.T) {
	cfg := testAxisConfig()
	c, rec, now := newRecorded(t, cfg)

	c.MoveTo(600)
	tickUntil(t, c, now, 10, func() bool { return c.CurrentPosition() >= 300 })
	c.Stop()
	require.Equal(t, int32(300+125), c.TargetPosition())
	runToRest(t, c, now, 10)

	// 500^2 / 2000 = 125 steps to stop from full speed, none of them back
	require.Equal(t, int32(300+125), c.CurrentPosition())
	for _, s := range rec.steps {
		require.Equal(t, 1, s.dir)
	}
}

func TestControllerStopFromAnySpeedNeverReverses(t *testing.T) {
	cfg := testAxisConfig()
	for at := int32(1); at <= 200; at += 7 {
		c, rec, now := newRecorded(t, cfg)
		c.MoveTo(1000)
		tickUntil(t, c, now, 10, func() bool { return c.CurrentPosition() >= at })
		c.Stop()
		runToRest(t, c, now, 10)

		require.Equal(t, c.TargetPosition(), c.CurrentPosition(), "stop at %d", at)
		for _, s := range rec.steps {
			require.Equal(t, 1, s.dir, "reverse step after stop at %d", at)
		}
	}
}

// Every move from rest must end idle on its target, whatever the
// distance and profile; float residue must not leave a crawl step planned.
func TestControllerComesToRestOnArrival(t *testing.T) {
	accels := []float64{100, 300, 800, 1000, 1200, 2500, 7000, 10000}
	maxSpeeds := []float64{50, 400, 600, 1500}

	for _, accel := range accels {
		for _, maxSpeed := range maxSpeeds {
			cfg := testAxisConfig()
			cfg.Acceleration = accel
			cfg.MaxSpeed = maxSpeed

			for d := int32(1); d <= 300; d++ {
				for _, dir := range []int32{1, -1} {
					c, _, now := newRecorded(t, cfg)
					c.MoveTo(dir * d)
					// Ticks a second apart fire one step each
					tickUntil(t, c, now, core.TimerFreq, func() bool { return c.DistanceToGo() == 0 })

					if c.IsRunning() {
						t.Fatalf("accel=%v max=%v d=%d: at target but still running (speed=%g)", accel, maxSpeed, dir*d, c.Speed())
					}
					// A late tick must not step past the target
					require.False(t, c.Tick(*now+math.MaxUint32/2))
					require.Equal(t, dir*d, c.CurrentPosition())
				}
			}
		}
	}
}

func TestControllerInvertDirection(t *testing.T) {
	cfg := testAxisConfig()
	cfg.InvertDirection = true
	needle := sim.NewNeedle("tach", -1000, 1000, 0)

	c, err := NewController(AxisTach, cfg, needle)
	require.NoError(t, err)

	c.MoveTo(25)
	now := uint32(0)
	runToRest(t, c, &now, 50)

	require.Equal(t, int32(25), c.CurrentPosition())
	require.Equal(t, int32(-25), needle.Position())
}

func TestAxisConfigConversions(t *testing.T) {
	speed := AxisConfig{ScaleFactor: 1.785}
	require.Equal(t, int32(111), speed.StepsFor(100*0.62137))
	require.Equal(t, int32(1), speed.ZeroSign())

	tach := AxisConfig{ScaleFactor: 0.057}
	require.Equal(t, int32(171), tach.StepsFor(3000))
	require.InDelta(t, 3000, tach.ValueFor(171), 1e-9)

	fuel := AxisConfig{ScaleFactor: -1.5}
	require.Equal(t, int32(-1), fuel.ZeroSign())
	require.Equal(t, int32(-150), fuel.StepsFor(100))
	// Half away from zero
	require.Equal(t, int32(-2), fuel.StepsFor(1))

	require.Equal(t, int32(math.MaxInt32), tach.StepsFor(1e300))
	require.Equal(t, int32(0), tach.StepsFor(math.NaN()))
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
