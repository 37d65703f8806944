package mcu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"gaugecluster/host/serial"
	"gaugecluster/protocol"
)

// Errors returned by command round trips
var (
	ErrNotConnected = errors.New("not connected to cluster")
	ErrRejected     = errors.New("cluster rejected command")
	ErrTimeout      = errors.New("no reply from cluster")
)

// MCU represents a connection to the gauge cluster microcontroller
type MCU struct {
	// Serial port
	port serial.Port

	// Writes come from the shell and the MQTT bridge
	writeMu sync.Mutex

	// Replies classified by the reader goroutine
	replies chan serial.Reply
	done    chan struct{}
	readErr error

	// Connection state
	connected bool
}

// NewMCU creates a new MCU instance (not yet connected)
func NewMCU() *MCU {
	return &MCU{
		connected: false,
	}
}

// Connect connects to the cluster via serial port
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects to the cluster with a custom serial config
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	// Open serial port
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	m.Attach(port)
	return nil
}

// Attach starts talking over an already open port
func (m *MCU) Attach(port serial.Port) {
	m.port = port
	m.replies = make(chan serial.Reply, 64)
	m.done = make(chan struct{})
	m.connected = true

	go m.readLoop()
}

// Close closes the connection to the cluster
func (m *MCU) Close() error {
	if !m.connected {
		return nil
	}
	m.connected = false
	return m.port.Close()
}

// Replies returns the stream of lines received from the cluster.
// The channel is closed when the port fails or is closed.
func (m *MCU) Replies() <-chan serial.Reply {
	return m.replies
}

// Err returns the error that ended the reader, if any
func (m *MCU) Err() error {
	select {
	case <-m.done:
		return m.readErr
	default:
		return nil
	}
}

// Write sends raw bytes to the cluster. Safe for concurrent use.
func (m *MCU) Write(p []byte) (int, error) {
	if !m.connected {
		return 0, ErrNotConnected
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.port.Write(p)
}

// SendCommand sends one telemetry command without waiting for the reply
func (m *MCU) SendCommand(key protocol.Key, value int32) error {
	_, err := m.Write(protocol.FormatCommand(key, value))
	return err
}

// Command sends a telemetry command and waits for the cluster to accept
// or reject it. Other replies received meanwhile are skipped.
func (m *MCU) Command(key protocol.Key, value int32, timeout time.Duration) error {
	if err := m.SendCommand(key, value); err != nil {
		return err
	}
	return m.await(timeout)
}

// WaitReady waits for the boot banner
func (m *MCU) WaitReady(timeout time.Duration) error {
	deadline := time.After(timeout)
	for {
		select {
		case r, ok := <-m.replies:
			if !ok {
				return m.closedErr()
			}
			if r.Ready {
				return nil
			}
		case <-deadline:
			return ErrTimeout
		}
	}
}

// IsConnected returns whether the port is open
func (m *MCU) IsConnected() bool {
	return m.connected
}

func (m *MCU) await(timeout time.Duration) error {
	deadline := time.After(timeout)
	for {
		select {
		case r, ok := <-m.replies:
			if !ok {
				return m.closedErr()
			}
			switch {
			case r.OK:
				return nil
			case r.Usage:
				return ErrRejected
			}
		case <-deadline:
			return ErrTimeout
		}
	}
}

func (m *MCU) closedErr() error {
	<-m.done
	if m.readErr != nil {
		return m.readErr
	}
	return ErrNotConnected
}

func (m *MCU) readLoop() {
	defer close(m.done)
	defer close(m.replies)

	err := serial.ReadReplies(m.port, func(r serial.Reply) {
		glog.V(2).Infof("RCV %q", r.Text)
		select {
		case m.replies <- r:
		default:
			glog.V(1).Infof("reply dropped, nobody listening: %q", r.Text)
		}
	})
	if err != nil {
		glog.Warningf("serial read: %v", err)
		m.readErr = err
	}
}
