package pio

import (
	"periph.io/x/conn/v3/physic"
)

// DefaultSystemClock is the RP2040 reset system clock.
const DefaultSystemClock = 125 * physic.MegaHertz

// CLKDIV fields.
const (
	clkdivIntPos  = 16
	clkdivFracPos = 8

	// maxClkDiv256 is the largest divisor, 65536, in 1/256 units.
	maxClkDiv256 = 65536 * 256
)

// ClkDiv is a 16.8 fixed point clock divisor.
type ClkDiv struct {
	Whole uint32 // 1..65536
	Frac  uint8
}

// ClkDivFromFrequency calculates the divisor that runs a state machine at freq
// or the nearest frequency below it. A freq of 0, or one at or above sysclk,
// runs the state machine at full speed.
func ClkDivFromFrequency(freq, sysclk physic.Frequency) (ClkDiv, error) {
	if freq < 0 || sysclk <= 0 {
		return ClkDiv{}, argError("frequency %s", freq)
	}
	if freq == 0 || freq >= sysclk {
		return ClkDiv{Whole: 1}, nil
	}
	//  freq = 256*sysclk / (256*whole + frac)
	//  256*whole + frac = 256*sysclk / freq
	// Work in millihertz so 256*sysclk fits in 64 bits.
	f := uint64(freq / physic.MilliHertz)
	if f == 0 {
		return ClkDiv{}, argError("frequency %s too low", freq)
	}
	sys256 := 256 * uint64(sysclk/physic.MilliHertz)
	div256 := sys256 / f
	if sys256%f != 0 {
		div256++
	}
	return splitClkdiv(div256, freq)
}

func splitClkdiv(div256 uint64, freq physic.Frequency) (ClkDiv, error) {
	if div256 > maxClkDiv256 {
		return ClkDiv{}, argError("frequency %s too low: clock divisor above 65536", freq)
	} else if div256 < 256 {
		div256 = 256
	}
	return ClkDiv{Whole: uint32(div256 / 256), Frac: uint8(div256 % 256)}, nil
}

// Frequency returns the state machine frequency the divisor produces from sysclk.
func (d ClkDiv) Frequency(sysclk physic.Frequency) physic.Frequency {
	div256 := uint64(d.Whole)*256 + uint64(d.Frac)
	if div256 == 0 {
		return 0
	}
	sys256 := 256 * uint64(sysclk/physic.MilliHertz)
	return physic.Frequency(sys256/div256) * physic.MilliHertz
}

// reg encodes the divisor for the CLKDIV register. A whole part of 65536
// is written as 0.
func (d ClkDiv) reg() uint32 {
	return (d.Whole&0xffff)<<clkdivIntPos | uint32(d.Frac)<<clkdivFracPos
}

func clkDivFromReg(reg uint32) ClkDiv {
	d := ClkDiv{Whole: reg >> clkdivIntPos, Frac: uint8(reg >> clkdivFracPos)}
	if d.Whole == 0 {
		d.Whole = 65536
	}
	return d
}
