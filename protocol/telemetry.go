package protocol

import (
	"bytes"
	"errors"

	"gaugecluster/core"
)

// Key identifies the quantity a telemetry command sets
type Key uint8

const (
	KeyUnknown Key = iota
	KeyMPH         // vehicle speed, miles per hour
	KeyKMH         // vehicle speed, kilometres per hour
	KeyRPM         // engine speed
	KeyFuel        // fuel level, percent
)

// String returns the wire spelling of the key
func (k Key) String() string {
	switch k {
	case KeyMPH:
		return "mph"
	case KeyKMH:
		return "kmh"
	case KeyRPM:
		return "rpm"
	case KeyFuel:
		return "fuel"
	default:
		return "unknown"
	}
}

// Protocol errors. Every one of them is answered with the Usage reply and
// leaves all gauges untouched.
var (
	ErrMissingSeparator = errors.New("missing '=' separator")
	ErrUnknownKey       = errors.New("unknown key")
)

// Command is one parsed telemetry line
type Command struct {
	Key   Key
	Value int32
}

// LookupKey maps the text before '=' to a Key. Matching is case-sensitive.
func LookupKey(name []byte) Key {
	switch string(name) {
	case "mph":
		return KeyMPH
	case "kmh":
		return KeyKMH
	case "rpm":
		return KeyRPM
	case "fuel":
		return KeyFuel
	default:
		return KeyUnknown
	}
}

// ParseCommand parses a "key=value" line. The line terminator and a
// trailing carriage return are optional and ignored.
func ParseCommand(line []byte) (Command, error) {
	line = TrimTerminator(line)

	sep := bytes.IndexByte(line, Separator)
	if sep < 0 {
		return Command{}, ErrMissingSeparator
	}

	key := LookupKey(line[:sep])
	if key == KeyUnknown {
		return Command{}, ErrUnknownKey
	}

	return Command{Key: key, Value: ParseValue(line[sep+1:])}, nil
}

// ParseValue parses a command value. Garbage is not an error: digits are
// read up to the first non-digit and no digits at all means 0.
func ParseValue(text []byte) int32 {
	return core.Atoi(text)
}

// TrimTerminator strips a trailing "\n" and then a trailing "\r"
func TrimTerminator(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == LineTerminal {
		line = line[:n-1]
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}

// FormatCommand renders a command as a wire line, terminator included
func FormatCommand(key Key, value int32) []byte {
	line := make([]byte, 0, 16)
	line = append(line, key.String()...)
	line = append(line, Separator)
	line = append(line, core.Itoa(int(value))...)
	return append(line, LineTerminal)
}
