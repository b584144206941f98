//go:build rp2040 || rp2350

package pio

import (
	"device/rp"
	"machine"
	"runtime"
	"runtime/volatile"
	"unsafe"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Block is a PIO peripheral of the chip. It implements Hardware.
type Block struct {
	// hw points to the PIO hardware registers.
	hw *rp.PIO0_Type
	id uint8
}

var _ Hardware = (*Block)(nil)

// RP2 PIO peripheral handles.
var (
	PIO0 = &Block{hw: rp.PIO0, id: 0}
	PIO1 = &Block{hw: rp.PIO1, id: 1}
)

// DefaultPoolConfig returns a PoolConfig for every PIO block and the DMA
// controller of the chip.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Blocks:      chipBlocks(),
		DMA:         DMAController,
		Pins:        NewRegistry(uint8(machine.NumberOfPins)),
		SystemClock: physic.Frequency(machine.CPUFrequency()) * physic.Hertz,
		Yield:       runtime.Gosched,
	}
}

func (b *Block) regs() *pioHW { return (*pioHW)(unsafe.Pointer(b.hw)) }

func (b *Block) smHW(index uint8) *statemachineHW {
	if index > 3 {
		panic(badStateMachineIndex)
	}
	return &b.regs().SM[index]
}

const (
	// This bit address is retroactively declared valid as the PIO hardware version
	// for RP2040 (which is 0) according to the RP2350 datasheet, but undefined in
	// its datasheet or SVD so we define it here for compatibility.
	pio0_SM0_DBG_CFGINFO_VERSION_Pos = 0x1C
)

// Version returns the version of the PIO hardware.
// 0 for RP2040, 1 for RP2350.
func (b *Block) Version() uint8 {
	return uint8(b.hw.DBG_CFGINFO.Get() >> pio0_SM0_DBG_CFGINFO_VERSION_Pos)
}

func (b *Block) WriteInstr(addr uint8, instr uint16) {
	// Instruction Memory registers are 32-bit, with only lower 16 used
	b.regs().INSTR_MEM[addr&0x1f].Set(uint32(instr))
}

func (b *Block) SetConfig(sm uint8, regs ConfigRegs) {
	hw := b.smHW(sm)
	hw.CLKDIV.Set(regs.ClkDiv)
	hw.EXECCTRL.Set(regs.ExecCtrl)
	hw.SHIFTCTRL.Set(regs.ShiftCtrl)
	hw.PINCTRL.Set(regs.PinCtrl)
}

func (b *Block) SetEnabled(sm uint8, enabled bool) {
	b.hw.CTRL.ReplaceBits(boolToBit(enabled), 0x1, sm)
}

func (b *Block) Enabled(sm uint8) bool {
	return b.hw.CTRL.HasBits(1 << (rp.PIO0_CTRL_SM_ENABLE_Pos + sm))
}

func (b *Block) Restart(sm uint8) {
	b.hw.CTRL.SetBits(1 << (rp.PIO0_CTRL_SM_RESTART_Pos + sm))
}

func (b *Block) ClkDivRestart(sm uint8) {
	b.hw.CTRL.SetBits(1 << (rp.PIO0_CTRL_CLKDIV_RESTART_Pos + sm))
}

func (b *Block) ClearFIFOs(sm uint8) {
	shiftctl := &b.smHW(sm).SHIFTCTRL
	// FIFOs are flushed when this bit is changed. Xoring twice returns bit to original state.
	xorBits(shiftctl, rp.PIO0_SM0_SHIFTCTRL_FJOIN_RX_Msk)
	xorBits(shiftctl, rp.PIO0_SM0_SHIFTCTRL_FJOIN_RX_Msk)
}

func (b *Block) Exec(sm uint8, instr uint16) {
	b.smHW(sm).INSTR.Set(uint32(instr))
}

func (b *Block) Addr(sm uint8) uint8 {
	return uint8(b.smHW(sm).ADDR.Get())
}

func (b *Block) TxPut(sm uint8, v uint32) { b.regs().TXF[sm&3].Set(v) }

func (b *Block) RxGet(sm uint8) uint32 { return b.regs().RXF[sm&3].Get() }

func (b *Block) FStat() uint32  { return b.hw.FSTAT.Get() }
func (b *Block) FLevel() uint32 { return b.hw.FLEVEL.Get() }
func (b *Block) FDebug() uint32 { return b.hw.FDEBUG.Get() }

// ClearFDebug clears flags by writing ones, as the register is write-1-to-clear.
func (b *Block) ClearFDebug(mask uint32) { b.hw.FDEBUG.Set(mask) }

func (b *Block) ConfigurePin(pin Pin, pull gpio.Pull) {
	machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinPIO0 + machine.PinMode(b.id)})
	pad := padReg(pin)
	switch pull {
	case gpio.PullUp:
		pad.ReplaceBits(rp.PADS_BANK0_GPIO0_PUE, rp.PADS_BANK0_GPIO0_PUE|rp.PADS_BANK0_GPIO0_PDE, 0)
	case gpio.PullDown:
		pad.ReplaceBits(rp.PADS_BANK0_GPIO0_PDE, rp.PADS_BANK0_GPIO0_PUE|rp.PADS_BANK0_GPIO0_PDE, 0)
	default:
		pad.ClearBits(rp.PADS_BANK0_GPIO0_PUE | rp.PADS_BANK0_GPIO0_PDE)
	}
}

func (b *Block) ResetPin(pin Pin) {
	machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinInput})
	padReg(pin).ClearBits(rp.PADS_BANK0_GPIO0_PUE | rp.PADS_BANK0_GPIO0_PDE)
}

// padReg returns the pad control register of pin.
func padReg(pin Pin) *volatile.Register32 {
	start := unsafe.Pointer(&rp.PADS_BANK0.GPIO0)
	return (*volatile.Register32)(unsafe.Add(start, uintptr(pin)*4))
}

type statemachineHW struct {
	CLKDIV    volatile.Register32 // 0xC8 for SM0
	EXECCTRL  volatile.Register32 // 0xCC for SM0
	SHIFTCTRL volatile.Register32 // 0xD0 for SM0
	ADDR      volatile.Register32 // 0xD4 for SM0
	INSTR     volatile.Register32 // 0xD8 for SM0
	PINCTRL   volatile.Register32 // 0xDC for SM0
}

// Programmable IO block
type pioHW struct {
	CTRL              volatile.Register32 // 0x0
	FSTAT             volatile.Register32 // 0x4
	FDEBUG            volatile.Register32 // 0x8
	FLEVEL            volatile.Register32 // 0xC
	TXF               [4]volatile.Register32
	RXF               [4]volatile.Register32
	IRQ               volatile.Register32                       // 0x30
	IRQ_FORCE         volatile.Register32                       // 0x34
	INPUT_SYNC_BYPASS volatile.Register32                       // 0x38
	DBG_PADOUT        volatile.Register32                       // 0x3C
	DBG_PADOE         volatile.Register32                       // 0x40
	DBG_CFGINFO       volatile.Register32                       // 0x44
	INSTR_MEM         [32]volatile.Register32                   // 0x48..0xC4
	SM                [4]statemachineHW                         // SM0=[0xC8..0xDC], .. 0x124
	RXF_PUTGET        [rp2350ExtraReg][4][4]volatile.Register32 // ----- | 0x128
	GPIOBASE          [rp2350ExtraReg]volatile.Register32       // ----- | 0x168
	INTR              volatile.Register32                       // 0x128 | 0x16C
	IRQ_INT           [2]irqINTHW                               // 0x12C..0x140 | 0x170..0x184
}

type irqINTHW struct {
	E volatile.Register32
	F volatile.Register32
	S volatile.Register32
}

const (
	sizeOK = unsafe.Sizeof(rp.PIO0_Type{}) == unsafe.Sizeof(pioHW{})
)

// Each peripheral register block is allocated 4kB of address space, with registers accessed using one of 4 methods,
// selected by address decode.
//   - Addr + 0x0000 : normal read write access
//   - Addr + 0x1000 : atomic XOR on write
//   - Addr + 0x2000 : atomic bitmask set on write
//   - Addr + 0x3000 : atomic bitmask clear on write
const regAliasXOR = 0x1000

//go:inline
func aliasReg(alias uintptr, reg *volatile.Register32) *volatile.Register32 {
	alias = uintptr(unsafe.Pointer(reg)) | alias
	return (*volatile.Register32)(unsafe.Pointer(alias))
}

func xorBits(reg *volatile.Register32, bits uint32) {
	aliasReg(regAliasXOR, reg).Set(bits)
}
