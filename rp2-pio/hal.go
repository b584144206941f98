package pio

import (
	"encoding/binary"
	"math/bits"

	"periph.io/x/conn/v3/gpio"
)

// Hardware is the register-level view of one PIO block. Methods taking sm
// address one of the block's four state machines.
//
// The real implementation lives behind the rp2040/rp2350 build tags; piosim
// provides one for host tests.
type Hardware interface {
	// Version returns the PIO hardware version: 0 on RP2040, 1 on RP2350.
	Version() uint8
	// WriteInstr writes one word of instruction memory.
	WriteInstr(addr uint8, instr uint16)
	// SetConfig commits CLKDIV, EXECCTRL, SHIFTCTRL and PINCTRL.
	SetConfig(sm uint8, regs ConfigRegs)
	SetEnabled(sm uint8, enabled bool)
	Enabled(sm uint8) bool
	// Restart clears internal state such as shift counters.
	Restart(sm uint8)
	// ClkDivRestart zeroes the clock divider phase.
	ClkDivRestart(sm uint8)
	// ClearFIFOs drops the contents of both FIFOs.
	ClearFIFOs(sm uint8)
	// Exec immediately executes instr on the state machine.
	Exec(sm uint8, instr uint16)
	// Addr returns the current program counter.
	Addr(sm uint8) uint8
	// TxPut writes to the TX FIFO without checking for fullness.
	TxPut(sm uint8, v uint32)
	// RxGet reads from the RX FIFO without checking for emptiness.
	RxGet(sm uint8) uint32
	FStat() uint32
	FLevel() uint32
	FDebug() uint32
	// ClearFDebug clears the sticky FDEBUG flags set in mask.
	ClearFDebug(mask uint32)
	// RxFIFOAt and SetRxFIFOAt access the RX FIFO storage registers
	// directly. Only valid on version 1 with a put/get FIFO join.
	RxFIFOAt(sm uint8, i int) uint32
	SetRxFIFOAt(sm uint8, i int, v uint32)
	// ConfigurePin routes pin to this block and applies pull.
	ConfigurePin(pin Pin, pull gpio.Pull)
	// ResetPin returns pin to a floating input.
	ResetPin(pin Pin)
}

// FSTAT, FDEBUG and FLEVEL bit positions for state machine 0.
const (
	fstatTxEmpty = 24
	fstatTxFull  = 16
	fstatRxEmpty = 8
	fstatRxFull  = 0

	fdebugTxStall = 24
	fdebugTxOver  = 16
	fdebugRxUnder = 8
	fdebugRxStall = 0

	flevelTx = 0
	flevelRx = 4
)

// DMA hands out channels that move data between memory and state machine FIFOs.
type DMA interface {
	Claim() (DMAChannel, error)
}

// DMAChannel is a claimed DMA channel.
type DMAChannel interface {
	// Start begins t. The channel must not be busy.
	Start(t *Transfer)
	Busy() bool
	// Abort stops the running transfer immediately. The transfer's Done
	// callback is not called.
	Abort()
	// Release returns the channel to the controller.
	Release()
}

// Direction of a transfer relative to the state machine.
type Direction uint8

const (
	TX Direction = iota
	RX
)

func (d Direction) String() string {
	if d == RX {
		return "rx"
	}
	return "tx"
}

// Transfer describes a single DMA pass over Buf.
type Transfer struct {
	Block uint8
	SM    uint8
	Dir   Direction
	Buf   []byte
	// Stride is the element size in bytes: 1, 2 or 4.
	Stride int
	// Swap reverses the byte order of 2 and 4 byte elements.
	Swap bool
	// Lane is the byte offset inside an RX FIFO word where elements are read.
	Lane int
	// Done is called once the last element was moved, or with a non-nil
	// error when the channel failed.
	Done func(err error)
}

// Len returns the number of elements in the transfer.
func (t *Transfer) Len() int { return len(t.Buf) / t.Stride }

// Word returns element i as it appears on the bus when written to a TX FIFO.
// Narrow writes are replicated across the byte lanes of the word.
func (t *Transfer) Word(i int) uint32 {
	b := t.Buf[i*t.Stride:]
	switch t.Stride {
	case 1:
		return uint32(b[0]) * 0x01010101
	case 2:
		v := binary.LittleEndian.Uint16(b)
		if t.Swap {
			v = bits.ReverseBytes16(v)
		}
		return uint32(v) * 0x00010001
	default:
		v := binary.LittleEndian.Uint32(b)
		if t.Swap {
			v = bits.ReverseBytes32(v)
		}
		return v
	}
}

// Store writes the element found in RX FIFO word w into element i.
func (t *Transfer) Store(i int, w uint32) {
	b := t.Buf[i*t.Stride:]
	v := w >> (8 * uint(t.Lane))
	switch t.Stride {
	case 1:
		b[0] = byte(v)
	case 2:
		h := uint16(v)
		if t.Swap {
			h = bits.ReverseBytes16(h)
		}
		binary.LittleEndian.PutUint16(b, h)
	default:
		if t.Swap {
			v = bits.ReverseBytes32(v)
		}
		binary.LittleEndian.PutUint32(b, v)
	}
}
