//go:build rp2040

package main

import (
	"machine"
	"time"
)

// Fault codes, shown as that many flashes followed by a pause
const (
	faultConfig = iota + 1
	faultActuators
	faultCluster
	faultSignals
	faultBoot
)

// haltBlinking flashes the on-board LED forever. Used when the cluster
// cannot boot; the gauges are left where they are.
func haltBlinking(code int) {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		for i := 0; i < code; i++ {
			led.High()
			time.Sleep(150 * time.Millisecond)
			led.Low()
			time.Sleep(250 * time.Millisecond)
		}
		time.Sleep(1500 * time.Millisecond)
	}
}
