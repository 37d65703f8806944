package serial

import (
	"bufio"
	"io"

	"gaugecluster/protocol"
)

// Port represents a serial port interface
// This abstraction allows for different implementations:
// - Native serial (using github.com/tarm/serial)
// - Mock serial (for testing)
type Port interface {
	io.ReadWriteCloser

	// Flush discards data received but not yet read
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate (USB CDC ignores this)
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns the configuration the cluster firmware expects
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        protocol.BaudRate,
		ReadTimeout: 0,
	}
}

// Reply is one chunk of cluster output, classified
type Reply struct {
	Text  string
	OK    bool // Acknowledgement of an accepted command
	Usage bool // Command was rejected
	Ready bool // Boot banner
}

// ReadReplies splits the cluster's output into lines and hands each one to
// fn until r fails or reaches EOF. The acknowledgement arrives as "o" and
// "k\n" in separate writes, so it may be glued to the following echo; it is
// reported on its own.
func ReadReplies(r io.Reader, fn func(Reply)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fn(classify(scanner.Text() + "\n"))
	}
	return scanner.Err()
}

func classify(line string) Reply {
	switch line {
	case protocol.AckOpen + protocol.AckClose:
		return Reply{Text: line, OK: true}
	case protocol.Usage:
		return Reply{Text: line, Usage: true}
	case protocol.Banner:
		return Reply{Text: line, Ready: true}
	}
	return Reply{Text: line}
}
