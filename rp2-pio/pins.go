package pio

import (
	"fmt"
	"strconv"
	"sync"
)

// Pin is a GPIO number.
type Pin uint8

// NoPin marks an unused pin role.
const NoPin Pin = 0xff

func (p Pin) String() string {
	if p == NoPin {
		return "NoPin"
	}
	return "GPIO" + strconv.Itoa(int(p))
}

// PinRegistry tracks which pins are owned by any peripheral on the chip. The
// state machine pool claims a pin once no matter how many of its state
// machines share it.
type PinRegistry interface {
	// Valid reports whether p exists on this chip.
	Valid(p Pin) bool
	// Claim takes ownership of p, failing with ErrPinInUse if another
	// peripheral owns it.
	Claim(p Pin) error
	// Release gives p back.
	Release(p Pin)
}

// Registry is a PinRegistry for chips with up to 64 GPIOs.
type Registry struct {
	mu      sync.Mutex
	count   uint8
	claimed uint64
}

// NewRegistry returns a registry for GPIO0 through GPIO(count-1).
func NewRegistry(count uint8) *Registry {
	if count > 64 {
		panic("pio: too many pins")
	}
	return &Registry{count: count}
}

func (r *Registry) Valid(p Pin) bool { return p < Pin(r.count) }

func (r *Registry) Claim(p Pin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.Valid(p) {
		return argError("%s does not exist", p)
	}
	if r.claimed&(1<<p) != 0 {
		return fmt.Errorf("%w: %s", ErrPinInUse, p)
	}
	r.claimed |= 1 << p
	return nil
}

func (r *Registry) Release(p Pin) {
	r.mu.Lock()
	r.claimed &^= 1 << p
	r.mu.Unlock()
}

// Claimed reports whether p is currently claimed.
func (r *Registry) Claimed(p Pin) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.claimed&(1<<p) != 0
}

// pinRange is a consecutive set of pins used by one role.
type pinRange struct {
	first Pin
	count int
}

func (r pinRange) used() bool { return r.first != NoPin }

// mask returns the pins of r as a bitmask, wrapping at 32 like PINCTRL bases do.
func (r pinRange) mask() uint32 {
	if !r.used() {
		return 0
	}
	var m uint32
	for i := 0; i < r.count; i++ {
		m |= 1 << ((uint(r.first) + uint(i)) % 32)
	}
	return m
}

// pinRoles is the set of pins a state machine uses.
type pinRoles struct {
	out, in, set, sideset pinRange
	jmp                   Pin
}

func (c *Config) pinRoles() pinRoles {
	return pinRoles{
		out:     pinRange{c.FirstOutPin, c.OutPinCount},
		in:      pinRange{c.FirstInPin, c.InPinCount},
		set:     pinRange{c.FirstSetPin, c.SetPinCount},
		sideset: pinRange{c.FirstSidesetPin, c.SidesetPinCount},
		jmp:     c.JmpPin,
	}
}

// mask returns every pin used by any role.
func (r pinRoles) mask() uint32 {
	m := r.out.mask() | r.in.mask() | r.set.mask() | r.sideset.mask()
	if r.jmp != NoPin {
		m |= 1 << (r.jmp % 32)
	}
	return m
}

// validate checks counts and that every pin in use is routable to a PIO
// block. A nil reg skips the check that pins exist on the chip.
func (r pinRoles) validate(reg PinRegistry) error {
	checks := []struct {
		name     string
		rng      pinRange
		min, max int
	}{
		{"out", r.out, 1, 32},
		{"in", r.in, 1, 32},
		{"set", r.set, 1, 5},
		{"sideset", r.sideset, 1, 5},
	}
	for _, c := range checks {
		if c.rng.count < c.min || c.rng.count > c.max {
			return argError("%s pin count %d not in [%d,%d]", c.name, c.rng.count, c.min, c.max)
		}
		if !c.rng.used() {
			continue
		}
		for i := 0; i < c.rng.count; i++ {
			p := c.rng.first + Pin(i)
			if p >= 32 || (reg != nil && !reg.Valid(p)) {
				return argError("%s pin %s", c.name, p)
			}
		}
	}
	if r.jmp != NoPin && (r.jmp >= 32 || (reg != nil && !reg.Valid(r.jmp))) {
		return argError("jmp pin %s", r.jmp)
	}
	return nil
}
