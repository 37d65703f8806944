package serial

import (
	"errors"
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// tarmPort is a Port on a real serial device
type tarmPort struct {
	port   *serial.Port
	device string
}

// Open opens the cluster's serial device. A nil cfg is an error; use
// DefaultConfig for the firmware's settings.
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, errors.New("serial: nil config")
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	return &tarmPort{port: port, device: cfg.Device}, nil
}

func (p *tarmPort) Read(b []byte) (int, error)  { return p.port.Read(b) }
func (p *tarmPort) Write(b []byte) (int, error) { return p.port.Write(b) }
func (p *tarmPort) Close() error                { return p.port.Close() }

// Flush discards unread input, e.g. the echo of lines sent before boot
func (p *tarmPort) Flush() error {
	return p.port.Flush()
}

// String returns the device path
func (p *tarmPort) String() string {
	return p.device
}
