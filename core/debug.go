package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// Event captures a notable control-loop event for post-mortem analysis
type Event struct {
	Type   uint8  // Event type code
	Axis   uint8  // Axis index (speed, tach, fuel)
	Clock  uint32 // System clock at event
	Value1 int32  // Context-dependent value
	Value2 int32  // Context-dependent value
}

// Event type codes
const (
	EvtBoot          = 1 // Boot finished, Value1 = homing iterations
	EvtHomingPhase   = 2 // Homing entered a phase, Value1 = phase
	EvtCommand       = 3 // Telemetry command accepted, Value1 = target steps
	EvtProtocolError = 4 // Line rejected, Value1 = line length
	EvtReverse       = 5 // Axis reversed direction, Value1 = position
	EvtArrive        = 6 // Axis came to rest, Value1 = position
	EvtOverflow      = 7 // Receive bytes dropped, Value1 = total dropped
)

const (
	EventRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	// Event ring buffer (non-blocking, for post-mortem)
	eventRing     [EventRingSize]Event
	eventRingHead uint8       // Next write position
	eventsEnabled bool = true // Always capture events

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, glog, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts the async debug output goroutine
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go debugOutputWorker()
}

func debugOutputWorker() {
	for msg := range debugChan {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the platform-specific writer
// Blocks on the writer; use DebugAsync from the control loop
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message for async output (non-blocking)
// Drops the message if the channel is full or async output is not running
func DebugAsync(msg string) {
	if !debugEnabled || debugChan == nil {
		return
	}
	select {
	case debugChan <- msg:
	default:
	}
}

// RecordEvent captures an event in the ring buffer
// Always non-blocking; only the control loop may call it
func RecordEvent(eventType, axis uint8, clock uint32, value1, value2 int32) {
	if !eventsEnabled {
		return
	}
	idx := eventRingHead
	eventRing[idx] = Event{
		Type:   eventType,
		Axis:   axis,
		Clock:  clock,
		Value1: value1,
		Value2: value2,
	}
	eventRingHead = (idx + 1) % EventRingSize
}

// Events returns the recorded events, oldest first
func Events() []Event {
	out := make([]Event, 0, EventRingSize)
	start := eventRingHead
	for i := uint8(0); i < EventRingSize; i++ {
		evt := eventRing[(start+i)%EventRingSize]
		if evt.Type == 0 {
			continue // Empty slot
		}
		out = append(out, evt)
	}
	return out
}

// EventName returns a short printable name for an event type
func EventName(eventType uint8) string {
	switch eventType {
	case EvtBoot:
		return "BOOT"
	case EvtHomingPhase:
		return "HOMING"
	case EvtCommand:
		return "COMMAND"
	case EvtProtocolError:
		return "PROTO_ERR"
	case EvtReverse:
		return "REVERSE"
	case EvtArrive:
		return "ARRIVE"
	case EvtOverflow:
		return "OVERFLOW!"
	default:
		return "UNKNOWN"
	}
}

// DumpEvents outputs the event ring (call on shutdown/error)
func DumpEvents() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[EVENTS] === Event Ring Dump ===")
	for _, evt := range Events() {
		debugPrintln("[EVENTS] " + EventName(evt.Type) +
			" axis=" + itoa(int(evt.Axis)) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + itoa(int(evt.Value1)) +
			" v2=" + itoa(int(evt.Value2)))
	}
	debugPrintln("[EVENTS] === End Dump ===")
}

// ClearEvents clears the event ring
func ClearEvents() {
	for i := range eventRing {
		eventRing[i] = Event{}
	}
	eventRingHead = 0
}
