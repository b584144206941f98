//go:build !tinygo

package pio

import "sync"

// engineLock guards state shared between callers and DMA completion
// callbacks. On regular Go callbacks run on another goroutine or inside a
// simulator step, so a mutex suffices.
type engineLock struct {
	mu sync.Mutex
}

func (l *engineLock) lock()   { l.mu.Lock() }
func (l *engineLock) unlock() { l.mu.Unlock() }
