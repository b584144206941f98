package pio

import "encoding/binary"

// InstrKind is a enum for the PIO instruction type. It only represents the kind of
// instruction. It cannot store the arguments.
type InstrKind uint8

const (
	InstrJMP InstrKind = iota
	InstrWAIT
	InstrIN
	InstrOUT
	InstrPUSH
	InstrPULL
	InstrMOV
	InstrIRQ
	InstrSET
	// InstrMOVRX is the version 1 `mov rxfifo[], isr` and `mov osr, rxfifo[]`.
	InstrMOVRX
)

const (
	_INSTR_BITS_JMP  = 0x0000
	_INSTR_BITS_WAIT = 0x2000
	_INSTR_BITS_IN   = 0x4000
	_INSTR_BITS_OUT  = 0x6000
	_INSTR_BITS_PUSH = 0x8000
	_INSTR_BITS_PULL = 0x8080
	_INSTR_BITS_MOV  = 0xa000
	_INSTR_BITS_IRQ  = 0xc000
	_INSTR_BITS_SET  = 0xe000

	// Bit mask for instruction code
	_INSTR_BITS_Msk = 0xe000
)

// Kind decodes the instruction class of instr.
func Kind(instr uint16) InstrKind {
	switch instr & _INSTR_BITS_Msk {
	case _INSTR_BITS_JMP:
		return InstrJMP
	case _INSTR_BITS_WAIT:
		return InstrWAIT
	case _INSTR_BITS_IN:
		return InstrIN
	case _INSTR_BITS_OUT:
		return InstrOUT
	case _INSTR_BITS_PUSH:
		if instr&0x10 != 0 {
			return InstrMOVRX
		}
		if instr&0x80 != 0 {
			return InstrPULL
		}
		return InstrPUSH
	case _INSTR_BITS_MOV:
		return InstrMOV
	case _INSTR_BITS_IRQ:
		return InstrIRQ
	}
	return InstrSET
}

type JmpCond uint8

const (
	// No condition, always jumps.
	JmpAlways JmpCond = iota
	// Jump if X is zero.
	JmpXZero
	// Jump if X is not zero, prior to decrement of X.
	JmpXNZeroDec
	// Jump if Y is zero.
	JmpYZero
	// Jump if Y is not zero, prior to decrement of Y.
	JmpYNZeroDec
	// Jump if X is not equal to Y.
	JmpXNotEqualY
	// Jump if EXECCTRL_JMP_PIN is high.
	JmpPinInput
	// Jump if the OSR has not reached the pull threshold.
	JmpOSRNotEmpty
)

type OutDest uint8

const (
	OutDestPins OutDest = iota
	OutDestX
	OutDestY
	OutDestNull
	OutDestPindirs
	OutDestPC
	OutDestISR
	OutDestExec
)

type InSrc uint8

const (
	InSrcPins InSrc = 0
	InSrcX    InSrc = 1
	InSrcY    InSrc = 2
	InSrcNull InSrc = 3
	InSrcISR  InSrc = 6
	InSrcOSR  InSrc = 7
)

type SetDest uint8

const (
	SetDestPins    SetDest = 0
	SetDestX       SetDest = 1
	SetDestY       SetDest = 2
	SetDestPindirs SetDest = 4
)

type MovDest uint8

const (
	MovDestPins    MovDest = 0
	MovDestX       MovDest = 1
	MovDestY       MovDest = 2
	MovDestPindirs MovDest = 3 // version 1 only
	MovDestExec    MovDest = 4
	MovDestPC      MovDest = 5
	MovDestISR     MovDest = 6
	MovDestOSR     MovDest = 7
)

type MovSrc uint8

const (
	MovSrcPins   MovSrc = 0
	MovSrcX      MovSrc = 1
	MovSrcY      MovSrc = 2
	MovSrcNull   MovSrc = 3
	MovSrcStatus MovSrc = 5
	MovSrcISR    MovSrc = 6
	MovSrcOSR    MovSrc = 7
)

// AssemblerV0 builds PIO instructions. SidesetBits is the number of
// delay/side-set bits reserved for side-set values.
//
// The version 1 additions (MovToRx, MovFromRx) are encoded here as well;
// loading them on version 0 hardware is undefined.
type AssemblerV0 struct {
	SidesetBits uint8
}

type instructionV0 struct {
	instr uint16
	asm   AssemblerV0
}

// Encode returns the 16-bit instruction word.
func (in instructionV0) Encode() uint16 { return in.instr }

// Side sets the side-set value of the instruction.
func (in instructionV0) Side(value uint8) instructionV0 {
	n := in.asm.SidesetBits
	in.instr |= uint16(value) << (13 - n) & 0x1f00
	return in
}

// Delay sets the number of delay cycles after the instruction.
func (in instructionV0) Delay(cycles uint8) instructionV0 {
	mask := uint16(0x1f) >> in.asm.SidesetBits
	in.instr |= (uint16(cycles) & mask) << 8
	return in
}

func (asm AssemblerV0) instr(bits uint16) instructionV0 {
	return instructionV0{instr: bits, asm: asm}
}

func (asm AssemblerV0) instrArgs(bits uint16, arg1 uint8, arg2 uint8) instructionV0 {
	return asm.instr(bits | uint16(arg1&7)<<5 | uint16(arg2&0x1f))
}

func (asm AssemblerV0) Jmp(addr uint8, cond JmpCond) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_JMP, uint8(cond), addr)
}

// WaitGPIO waits for the absolute GPIO pin to reach polarity.
func (asm AssemblerV0) WaitGPIO(polarity bool, pin uint8) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_WAIT, boolAsU8(polarity)<<2, pin)
}

// WaitPin waits for the pin at index (relative to IN base) to reach polarity.
func (asm AssemblerV0) WaitPin(polarity bool, index uint8) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_WAIT, boolAsU8(polarity)<<2|1, index)
}

func (asm AssemblerV0) WaitIRQ(polarity, relative bool, irq uint8) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_WAIT, boolAsU8(polarity)<<2|2, boolAsU8(relative)<<4|irq&7)
}

// In shifts bitCount bits from src into the ISR. A bitCount of 32 is encoded as 0.
func (asm AssemblerV0) In(src InSrc, bitCount uint8) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_IN, uint8(src), bitCount)
}

// Out shifts bitCount bits out of the OSR into dest. A bitCount of 32 is encoded as 0.
func (asm AssemblerV0) Out(dest OutDest, bitCount uint8) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_OUT, uint8(dest), bitCount)
}

func (asm AssemblerV0) Push(ifFull, block bool) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_PUSH, boolAsU8(ifFull)<<1|boolAsU8(block), 0)
}

func (asm AssemblerV0) Pull(ifEmpty, block bool) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_PULL, boolAsU8(ifEmpty)<<1|boolAsU8(block), 0)
}

func (asm AssemblerV0) Mov(dest MovDest, src MovSrc) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_MOV, uint8(dest), uint8(src)&7)
}

// MovInvert moves the bitwise complement of src.
func (asm AssemblerV0) MovInvert(dest MovDest, src MovSrc) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_MOV, uint8(dest), 1<<3|uint8(src)&7)
}

// MovReverse moves src with its bit order reversed.
func (asm AssemblerV0) MovReverse(dest MovDest, src MovSrc) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_MOV, uint8(dest), 2<<3|uint8(src)&7)
}

// MovToRx writes the ISR into an RX FIFO storage register (`mov rxfifo[], isr`).
// With byImmediate unset the register is selected by Y. Version 1 only.
func (asm AssemblerV0) MovToRx(byImmediate bool, index uint8) instructionV0 {
	return asm.instr(_INSTR_BITS_PUSH | 0x10 | uint16(boolAsU8(byImmediate))<<3 | uint16(index&3))
}

// MovFromRx reads an RX FIFO storage register into the OSR (`mov osr, rxfifo[]`).
// Version 1 only.
func (asm AssemblerV0) MovFromRx(byImmediate bool, index uint8) instructionV0 {
	return asm.instr(_INSTR_BITS_PULL | 0x10 | uint16(boolAsU8(byImmediate))<<3 | uint16(index&3))
}

func (asm AssemblerV0) IRQSet(relative bool, irq uint8) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_IRQ, 0, boolAsU8(relative)<<4|irq&7)
}

func (asm AssemblerV0) IRQWait(relative bool, irq uint8) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_IRQ, 1, boolAsU8(relative)<<4|irq&7)
}

func (asm AssemblerV0) IRQClear(relative bool, irq uint8) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_IRQ, 2, boolAsU8(relative)<<4|irq&7)
}

func (asm AssemblerV0) Set(dest SetDest, value uint8) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_SET, uint8(dest), value)
}

// Nop assembles to `mov y, y`.
func (asm AssemblerV0) Nop() instructionV0 {
	return asm.Mov(MovDestY, MovSrcY)
}

// ProgramBytes packs instructions into the little-endian byte form accepted
// by Config.Program, Config.Init and StateMachine.Run.
func ProgramBytes(instrs ...uint16) []byte {
	b := make([]byte, 2*len(instrs))
	for i, in := range instrs {
		binary.LittleEndian.PutUint16(b[2*i:], in)
	}
	return b
}

func programWords(b []byte) []uint16 {
	words := make([]uint16, len(b)/2)
	for i := range words {
		words[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return words
}

// relocate returns instr as it must be stored at a program loaded at offset.
func relocate(instr uint16, offset uint8) uint16 {
	if instr&_INSTR_BITS_Msk == _INSTR_BITS_JMP {
		return instr + uint16(offset)
	}
	return instr
}

// fifoUse reports whether instrs touch the TX FIFO (out, pull) and
// the RX FIFO (in, push).
func fifoUse(instrs []uint16) (tx, rx bool) {
	for _, in := range instrs {
		switch Kind(in) {
		case InstrOUT, InstrPULL:
			tx = true
		case InstrIN, InstrPUSH:
			rx = true
		}
	}
	return tx, rx
}

func boolAsU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
