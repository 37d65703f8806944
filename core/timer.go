package core

// The control loop runs on a 1MHz (microsecond) clock.
// RP2040 exposes exactly that as its hardware timer.
const (
	TimerFreq = 1000000
)

// Clock provides the current time in microseconds.
// The value wraps every ~71 minutes; callers compare with unsigned
// differences (now - then), never with < or >.
type Clock interface {
	Now() uint32
}

// ClockFunc adapts a plain function to the Clock interface
type ClockFunc func() uint32

// Now implements Clock
func (f ClockFunc) Now() uint32 {
	return f()
}

// Elapsed reports whether at least interval ticks have passed since then.
// Correct across counter wraparound.
func Elapsed(now, then, interval uint32) bool {
	return now-then >= interval
}
