//go:build tinygo

package pio

import "runtime/interrupt"

// engineLock guards state shared between callers and DMA completion
// callbacks, which run in interrupt context on hardware.
type engineLock struct {
	state interrupt.State
}

func (l *engineLock) lock()   { l.state = interrupt.Disable() }
func (l *engineLock) unlock() { interrupt.Restore(l.state) }
