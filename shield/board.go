// Package shield drives gauge motors through an Adafruit Motor Shield v2:
// a PCA9685 PWM controller on I2C whose outputs switch two dual H-bridges,
// one per stepper port.
package shield

import (
	"errors"
	"time"

	"gaugecluster/core"
)

// PCA9685 registers
const (
	regMode1    = 0x00
	regPrescale = 0xFE
	regLED0     = 0x06 // LED0_ON_L; each channel has 4 registers

	mode1Restart = 0x80
	mode1AI      = 0x20 // Register auto-increment
	mode1Sleep   = 0x10
	mode1AllCall = 0x01

	fullOnOff = 0x10 // Bit 4 of ON_H / OFF_H
)

// Board defaults
const (
	DefaultAddress   = 0x60
	DefaultFrequency = 1600 // PWM frequency in Hz
	BusFrequency     = 400000
	oscillatorHz     = 25000000
)

// Board is one motor shield
type Board struct {
	driver core.I2CDriver
	bus    core.I2CBusID
	addr   core.I2CAddress

	// Sleep waits for the oscillator to restart; replaceable in tests
	Sleep func(time.Duration)

	buf    [5]byte
	writes uint32
	ready  bool
}

// NewBoard creates a board on the given bus and address
func NewBoard(driver core.I2CDriver, bus core.I2CBusID, addr core.I2CAddress) *Board {
	return &Board{
		driver: driver,
		bus:    bus,
		addr:   addr,
		Sleep:  time.Sleep,
	}
}

// Init resets the PWM controller and sets its output frequency.
// The bus must be configured already.
func (b *Board) Init(frequencyHz uint32) error {
	if b.driver == nil {
		return errors.New("shield: no I2C driver")
	}
	if frequencyHz == 0 {
		frequencyHz = DefaultFrequency
	}

	if err := b.writeReg(regMode1, 0x00); err != nil {
		return err
	}

	old, err := b.driver.Read(b.bus, b.addr, []byte{regMode1}, 1)
	if err != nil {
		return err
	}
	if len(old) != 1 {
		return errors.New("shield: short MODE1 read")
	}
	mode := old[0] &^ mode1Restart

	// Prescale can only be written while the oscillator sleeps
	if err := b.writeReg(regMode1, mode|mode1Sleep); err != nil {
		return err
	}
	if err := b.writeReg(regPrescale, Prescale(frequencyHz)); err != nil {
		return err
	}
	if err := b.writeReg(regMode1, mode); err != nil {
		return err
	}
	b.Sleep(5 * time.Millisecond)
	if err := b.writeReg(regMode1, mode|mode1Restart|mode1AI|mode1AllCall); err != nil {
		return err
	}

	b.ready = true
	return nil
}

// Prescale returns the PCA9685 prescaler for an output frequency,
// clamped to the register's valid range
func Prescale(frequencyHz uint32) uint8 {
	if frequencyHz == 0 {
		return 0xFF
	}
	f := uint64(frequencyHz)
	p := (oscillatorHz+2048*f)/(4096*f) - 1
	switch {
	case p < 3 || p > 1<<32:
		return 3
	case p > 0xFF:
		return 0xFF
	}
	return uint8(p)
}

// SetPin drives a channel fully on or fully off
func (b *Board) SetPin(channel uint8, high bool) error {
	if high {
		return b.setChannel(channel, fullOnOff, 0)
	}
	return b.setChannel(channel, 0, fullOnOff)
}

// Writes returns the number of I2C transactions issued
func (b *Board) Writes() uint32 {
	return b.writes
}

// setChannel writes ON_H and OFF_H of a channel; the low bytes stay 0
func (b *Board) setChannel(channel uint8, onH, offH uint8) error {
	if channel > 15 {
		return errors.New("shield: channel out of range")
	}
	b.buf = [5]byte{regLED0 + 4*channel, 0, onH, 0, offH}
	b.writes++
	return b.driver.Write(b.bus, b.addr, b.buf[:])
}

func (b *Board) writeReg(reg, value uint8) error {
	b.writes++
	return b.driver.Write(b.bus, b.addr, []byte{reg, value})
}
