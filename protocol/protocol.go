// Package protocol implements the line-oriented telemetry protocol spoken
// over the cluster's serial link: newline-terminated key=value commands in,
// echoed lines and ok/usage replies out.
package protocol

// Version represents the firmware version
const Version = "0.3.0"

// Protocol constants
const (
	BaudRate     = 115200 // Serial link speed (ignored by USB CDC)
	QueueSize    = 256    // Receive ring capacity in bytes
	LineMax      = 64     // Longest line handed to the parser
	LineTerminal = '\n'
	Separator    = '='
)

// Replies. An accepted command is acknowledged as AckOpen, then the motion
// update, then AckClose, so the two halves can be told apart on the wire.
const (
	AckOpen  = "o"
	AckClose = "k\n"
	Usage    = "? [rpm|kmh|fuel|mph]=val\n"
	Banner   = "gauges ready\n"
)
