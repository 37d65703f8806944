//go:build rp2040

package main

import (
	"context"
	"machine"
	"time"

	"gaugecluster/cluster"
	"gaugecluster/cluster/config"
	"gaugecluster/core"
	"gaugecluster/protocol"
)

var (
	// Debug counters
	panics    uint32
	readErrs  uint32
	fullWaits uint32
)

func main() {
	// Disable the watchdog on boot to clear any previous state
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	InitUSB()
	clock := HardwareClock{}

	core.SetGPIODriver(&outputBank{})
	i2cDriver := NewRPI2CDriver()
	core.SetI2CDriver(i2cDriver)

	cfg := config.DefaultClusterConfig()
	if err := config.Validate(cfg); err != nil {
		haltBlinking(faultConfig)
	}

	actuators, err := buildActuators(cfg, core.MustI2C())
	if err != nil {
		haltBlinking(faultActuators)
	}

	c, err := cluster.New(cfg, actuators, usbWriter{})
	if err != nil {
		haltBlinking(faultCluster)
	}

	signals, err := cluster.NewSignals(core.MustGPIO(), core.GPIOPin(cfg.IgnitionPin), core.GPIOPin(cfg.IlluminationPin))
	if err != nil {
		haltBlinking(faultSignals)
	}
	c.SetSignals(signals)

	// Bytes arriving during homing wait in the queue until the loop starts
	go usbReaderLoop(c.Queue())

	if err := c.Boot(clock); err != nil {
		haltBlinking(faultBoot)
	}

	for {
		// Recover from panics in the control loop to keep the gauges alive
		func() {
			defer func() {
				if r := recover(); r != nil {
					panics++
				}
			}()
			c.Run(context.Background(), clock)
		}()
	}
}

// usbReaderLoop moves received bytes into the line queue. It is the only
// producer of the queue.
func usbReaderLoop(q *protocol.LineQueue) {
	defer func() {
		if r := recover(); r != nil {
			panics++
			time.Sleep(100 * time.Millisecond)
			go usbReaderLoop(q)
		}
	}()

	for {
		if USBAvailable() == 0 {
			time.Sleep(100 * time.Microsecond)
			continue
		}
		if q.Free() == 0 {
			// Leave the byte in the USB buffer until the loop catches up
			fullWaits++
			time.Sleep(100 * time.Microsecond)
			continue
		}
		b, err := USBRead()
		if err != nil {
			readErrs++
			time.Sleep(1 * time.Millisecond)
			continue
		}
		q.Push(b)
	}
}
