//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"
)

// RP2040 timer peripheral: TIMERAWL is the low word of the free-running
// 1MHz counter and can be read without latching the high word.
const timerRAWLAddr = 0x40054000 + 0x0C

var timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerRAWLAddr)))

// HardwareClock implements core.Clock on the RP2040 timer
type HardwareClock struct{}

// Now implements core.Clock
func (HardwareClock) Now() uint32 {
	return timerRAWL.Get()
}
