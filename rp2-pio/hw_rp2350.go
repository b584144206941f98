//go:build rp2350

package pio

import (
	"device/rp"
)

const (
	rp2350ExtraReg = 1
	numDMAChannels = 16
)

// PIO2 is the third PIO block of the RP2350.
var PIO2 = &Block{hw: rp.PIO2, id: 2}

func chipBlocks() []Hardware { return []Hardware{PIO0, PIO1, PIO2} }

func (b *Block) RxFIFOAt(sm uint8, i int) uint32 {
	return b.regs().RXF_PUTGET[0][sm&3][i&3].Get()
}

func (b *Block) SetRxFIFOAt(sm uint8, i int, v uint32) {
	b.regs().RXF_PUTGET[0][sm&3][i&3].Set(v)
}

// SetGPIOBase configures the GPIO base for the PIO block, or which GPIO pin is
// seen as pin 0 inside the PIO. Can only be set to values of 0 or 16 and only
// sensible for use on RP2350B.
func (b *Block) SetGPIOBase(base uint32) {
	switch base {
	case 0, 16:
		b.hw.GPIOBASE.Set(base)
	default:
		panic("pio:invalid gpiobase")
	}
}
