// Package piosim simulates RP2 PIO blocks and DMA channels closely enough
// to drive a pio.Pool on a host. State machines do not interpret their
// programs; each step an enabled state machine pulls one TX word, hands it
// to its attached Peripheral and pushes whatever the peripheral returns.
// Immediately executed instructions (JMP, SET) are interpreted.
//
// A Sim is not safe for concurrent use. Pass Sim.Step as the pool's Yield
// function so blocking calls advance the simulation.
package piosim

import (
	"errors"

	pio "github.com/tinygo-org/pioengine/rp2-pio"
	"periph.io/x/conn/v3/gpio"
)

// Config describes the simulated chip.
type Config struct {
	// Blocks is the number of PIO blocks. Defaults to 2.
	Blocks int
	// Version is the PIO hardware version: 0 for RP2040, 1 for RP2350.
	Version uint8
	// DMAChannels is the number of DMA channels; negative means no DMA
	// controller. Defaults to 12.
	DMAChannels int
}

// Sim is a simulated chip.
type Sim struct {
	blocks []*Block
	dma    *DMA
	steps  int
}

// New returns a simulated chip.
func New(cfg Config) *Sim {
	if cfg.Blocks == 0 {
		cfg.Blocks = 2
	}
	if cfg.DMAChannels == 0 {
		cfg.DMAChannels = 12
	}
	s := &Sim{}
	for i := 0; i < cfg.Blocks; i++ {
		b := &Block{sim: s, id: uint8(i), version: cfg.Version, pulls: make(map[pio.Pin]gpio.Pull)}
		for j := range b.sms {
			b.sms[j] = &sm{}
		}
		s.blocks = append(s.blocks, b)
	}
	if cfg.DMAChannels > 0 {
		s.dma = &DMA{sim: s, max: cfg.DMAChannels}
	}
	return s
}

// Hardware returns the blocks for pio.PoolConfig.Blocks.
func (s *Sim) Hardware() []pio.Hardware {
	hw := make([]pio.Hardware, len(s.blocks))
	for i, b := range s.blocks {
		hw[i] = b
	}
	return hw
}

// Block returns block i.
func (s *Sim) Block(i int) *Block { return s.blocks[i] }

// DMA returns the DMA controller, or nil when the chip has none.
func (s *Sim) DMA() *DMA { return s.dma }

// PoolConfig returns a pool configuration wired to the simulation.
func (s *Sim) PoolConfig() pio.PoolConfig {
	cfg := pio.PoolConfig{
		Blocks: s.Hardware(),
		Yield:  s.Step,
	}
	if s.dma != nil {
		cfg.DMA = s.dma
	}
	return cfg
}

// Steps returns how often Step ran.
func (s *Sim) Steps() int { return s.steps }

// Step advances the simulation by one cycle: every busy DMA channel moves
// one element, then every enabled state machine shifts one word.
func (s *Sim) Step() {
	s.steps++
	if s.dma != nil {
		s.dma.step()
	}
	for _, b := range s.blocks {
		for i := range b.sms {
			b.step(uint8(i))
		}
	}
}

// Run calls Step n times.
func (s *Sim) Run(n int) {
	for i := 0; i < n; i++ {
		s.Step()
	}
}

// Peripheral is what a state machine's pins are connected to. Shift is
// called once per step with the word pulled from the TX FIFO, ok being
// false when the FIFO was empty. A true push sends out to the RX FIFO.
type Peripheral interface {
	Shift(in uint32, ok bool) (out uint32, push bool)
}

// PeripheralFunc adapts a function to Peripheral.
type PeripheralFunc func(in uint32, ok bool) (uint32, bool)

func (f PeripheralFunc) Shift(in uint32, ok bool) (uint32, bool) { return f(in, ok) }

// Loopback returns every TX word on the RX FIFO.
type Loopback struct{}

func (Loopback) Shift(in uint32, ok bool) (uint32, bool) { return in, ok }

// Recorder keeps every TX word and pushes nothing.
type Recorder struct {
	Words []uint32
}

func (r *Recorder) Shift(in uint32, ok bool) (uint32, bool) {
	if ok {
		r.Words = append(r.Words, in)
	}
	return 0, false
}

// Counter pushes Next, Next+1, ... one word per step regardless of TX.
type Counter struct {
	Next uint32
}

func (c *Counter) Shift(uint32, bool) (uint32, bool) {
	v := c.Next
	c.Next++
	return v, true
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
)

// PINCTRL SET fields.
const (
	pinSetCountPos = 26
	pinSetBasePos  = 5
)

type sm struct {
	regs    pio.ConfigRegs
	enabled bool
	pc      uint8
	x, y    uint32
	tx, rx  []uint32
	rxRegs  [4]uint32
	// held is a word waiting for room in a full RX FIFO.
	held    uint32
	hasHeld bool
	periph  Peripheral
	exec    []uint16
}

// depths returns the TX and RX FIFO capacity for the join mode.
func (s *sm) depths() (tx, rx int) {
	switch s.regs.Join() {
	case pio.FifoTx:
		return 8, 0
	case pio.FifoRx:
		return 0, 8
	case pio.FifoTxPut, pio.FifoTxGet, pio.FifoPutGet:
		return 4, 0
	}
	return 4, 4
}

// Block is a simulated PIO block. It implements pio.Hardware.
type Block struct {
	sim     *Sim
	id      uint8
	version uint8
	instr   [32]uint16
	sms     [4]*sm
	fdebug  uint32

	pinOut, pinDir uint32
	pulls          map[pio.Pin]gpio.Pull
}

var _ pio.Hardware = (*Block)(nil)

// Attach connects p to state machine i. A state machine without a
// peripheral drains its TX FIFO and never pushes.
func (b *Block) Attach(i uint8, p Peripheral) { b.sms[i].periph = p }

// Executed returns the instructions executed immediately on state machine i.
func (b *Block) Executed(i uint8) []uint16 { return b.sms[i].exec }

// Instr returns the word at addr of instruction memory.
func (b *Block) Instr(addr uint8) uint16 { return b.instr[addr&0x1f] }

// Registers returns the configuration registers of state machine i.
func (b *Block) Registers(i uint8) pio.ConfigRegs { return b.sms[i].regs }

// X and Y return the scratch registers of state machine i.
func (b *Block) X(i uint8) uint32 { return b.sms[i].x }
func (b *Block) Y(i uint8) uint32 { return b.sms[i].y }

// Pins returns the output levels and directions driven by SET.
func (b *Block) Pins() (out, dir uint32) { return b.pinOut, b.pinDir }

// Pull reports the pull configured on pin and whether the pin is routed to
// this block.
func (b *Block) Pull(pin pio.Pin) (gpio.Pull, bool) {
	p, ok := b.pulls[pin]
	return p, ok
}

func (b *Block) Version() uint8 { return b.version }

func (b *Block) WriteInstr(addr uint8, instr uint16) { b.instr[addr&0x1f] = instr }

func (b *Block) SetConfig(i uint8, regs pio.ConfigRegs) {
	s := b.sms[i]
	if s.regs.Join() != regs.Join() {
		s.tx, s.rx = nil, nil
	}
	s.regs = regs
}

func (b *Block) SetEnabled(i uint8, enabled bool) { b.sms[i].enabled = enabled }

func (b *Block) Enabled(i uint8) bool { return b.sms[i].enabled }

func (b *Block) Restart(i uint8) {
	s := b.sms[i]
	s.x, s.y = 0, 0
	s.hasHeld = false
}

func (b *Block) ClkDivRestart(uint8) {}

func (b *Block) ClearFIFOs(i uint8) {
	s := b.sms[i]
	s.tx, s.rx = nil, nil
}

func (b *Block) Exec(i uint8, instr uint16) {
	s := b.sms[i]
	s.exec = append(s.exec, instr)
	switch pio.Kind(instr) {
	case pio.InstrJMP:
		// Only unconditional jumps are taken.
		if instr>>5&7 == uint16(pio.JmpAlways) {
			s.pc = uint8(instr & 0x1f)
		}
	case pio.InstrSET:
		data := uint32(instr & 0x1f)
		switch pio.SetDest(instr >> 5 & 7) {
		case pio.SetDestX:
			s.x = data
		case pio.SetDestY:
			s.y = data
		case pio.SetDestPins:
			b.pinOut = b.setPins(s, b.pinOut, data)
		case pio.SetDestPindirs:
			b.pinDir = b.setPins(s, b.pinDir, data)
		}
	}
}

func (b *Block) setPins(s *sm, cur, data uint32) uint32 {
	base := s.regs.PinCtrl >> pinSetBasePos & 0x1f
	count := s.regs.PinCtrl >> pinSetCountPos & 0x7
	for j := uint32(0); j < count; j++ {
		pin := (base + j) % 32
		cur &^= 1 << pin
		cur |= (data >> j & 1) << pin
	}
	return cur
}

func (b *Block) Addr(i uint8) uint8 { return b.sms[i].pc }

func (b *Block) TxPut(i uint8, v uint32) {
	s := b.sms[i]
	depth, _ := s.depths()
	if len(s.tx) >= depth {
		b.fdebug |= 1 << (fdebugTxOver + i)
		return
	}
	s.tx = append(s.tx, v)
}

func (b *Block) RxGet(i uint8) uint32 {
	s := b.sms[i]
	if len(s.rx) == 0 {
		b.fdebug |= 1 << (fdebugRxUnder + i)
		return 0
	}
	v := s.rx[0]
	s.rx = s.rx[1:]
	return v
}

func (b *Block) FStat() uint32 {
	var v uint32
	for i, s := range b.sms {
		txd, rxd := s.depths()
		if len(s.tx) == 0 {
			v |= 1 << (fstatTxEmpty + i)
		}
		if len(s.tx) >= txd {
			v |= 1 << (fstatTxFull + i)
		}
		if len(s.rx) == 0 {
			v |= 1 << (fstatRxEmpty + i)
		}
		if len(s.rx) >= rxd {
			v |= 1 << (fstatRxFull + i)
		}
	}
	return v
}

func (b *Block) FLevel() uint32 {
	var v uint32
	for i, s := range b.sms {
		v |= uint32(len(s.tx)&0xf) << (8 * i)
		v |= uint32(len(s.rx)&0xf) << (8*i + 4)
	}
	return v
}

func (b *Block) FDebug() uint32 { return b.fdebug }

func (b *Block) ClearFDebug(mask uint32) { b.fdebug &^= mask }

func (b *Block) RxFIFOAt(i uint8, j int) uint32 {
	if b.version < 1 {
		panic("piosim: RX FIFO registers not supported on version 0")
	}
	return b.sms[i].rxRegs[j&3]
}

func (b *Block) SetRxFIFOAt(i uint8, j int, v uint32) {
	if b.version < 1 {
		panic("piosim: RX FIFO registers not supported on version 0")
	}
	b.sms[i].rxRegs[j&3] = v
}

func (b *Block) ConfigurePin(pin pio.Pin, pull gpio.Pull) { b.pulls[pin] = pull }

func (b *Block) ResetPin(pin pio.Pin) {
	delete(b.pulls, pin)
	b.pinOut &^= 1 << (pin % 32)
	b.pinDir &^= 1 << (pin % 32)
}

// step runs state machine i for one cycle.
func (b *Block) step(i uint8) {
	s := b.sms[i]
	if !s.enabled {
		return
	}
	_, rxd := s.depths()
	if s.hasHeld {
		if len(s.rx) >= rxd {
			b.fdebug |= 1 << (fdebugRxStall + i)
			return
		}
		s.rx = append(s.rx, s.held)
		s.hasHeld = false
	}
	var in uint32
	ok := len(s.tx) > 0
	if ok {
		in = s.tx[0]
		s.tx = s.tx[1:]
	} else {
		b.fdebug |= 1 << (fdebugTxStall + i)
	}
	if s.periph != nil {
		out, push := s.periph.Shift(in, ok)
		if push {
			if len(s.rx) >= rxd {
				s.held, s.hasHeld = out, true
				b.fdebug |= 1 << (fdebugRxStall + i)
			} else {
				s.rx = append(s.rx, out)
			}
		}
	}
	target, wrap := s.regs.Wrap()
	if s.pc == wrap {
		s.pc = target
	} else {
		s.pc = (s.pc + 1) & 0x1f
	}
}

// ErrNoChannel is returned by Claim once every channel is in use.
var ErrNoChannel = errors.New("piosim: no DMA channel available")

// DMA is a simulated DMA controller. It implements pio.DMA.
type DMA struct {
	sim      *Sim
	max      int
	channels []*Channel
	fault    error
}

var _ pio.DMA = (*DMA)(nil)

// Claim returns a free channel.
func (d *DMA) Claim() (pio.DMAChannel, error) {
	for _, ch := range d.channels {
		if ch.released {
			ch.released = false
			return ch, nil
		}
	}
	if len(d.channels) >= d.max {
		return nil, ErrNoChannel
	}
	ch := &Channel{dma: d, id: len(d.channels)}
	d.channels = append(d.channels, ch)
	return ch, nil
}

// InUse returns the number of claimed channels.
func (d *DMA) InUse() int {
	n := 0
	for _, ch := range d.channels {
		if !ch.released {
			n++
		}
	}
	return n
}

// FailNext makes the next busy channel to step fail with err.
func (d *DMA) FailNext(err error) { d.fault = err }

func (d *DMA) step() {
	for _, ch := range append([]*Channel(nil), d.channels...) {
		ch.step()
	}
}

// Channel is a simulated DMA channel.
type Channel struct {
	dma      *DMA
	id       int
	cur      *pio.Transfer
	next     int
	released bool
	// Moved counts elements moved over the channel's lifetime.
	Moved int
}

var _ pio.DMAChannel = (*Channel)(nil)

func (ch *Channel) Start(t *pio.Transfer) {
	if ch.cur != nil {
		panic("piosim: DMA channel busy")
	}
	ch.cur, ch.next = t, 0
}

func (ch *Channel) Busy() bool { return ch.cur != nil }

func (ch *Channel) Abort() { ch.cur = nil }

func (ch *Channel) Release() {
	ch.cur = nil
	ch.released = true
}

func (ch *Channel) step() {
	t := ch.cur
	if t == nil {
		return
	}
	if err := ch.dma.fault; err != nil {
		ch.dma.fault = nil
		ch.finish(t, err)
		return
	}
	b := ch.dma.sim.blocks[t.Block]
	s := b.sms[t.SM]
	if ch.next < t.Len() {
		switch t.Dir {
		case pio.TX:
			depth, _ := s.depths()
			if len(s.tx) >= depth {
				return
			}
			b.TxPut(t.SM, t.Word(ch.next))
		case pio.RX:
			if len(s.rx) == 0 {
				return
			}
			t.Store(ch.next, b.RxGet(t.SM))
		}
		ch.next++
		ch.Moved++
	}
	if ch.next >= t.Len() {
		ch.finish(t, nil)
	}
}

// finish idles the channel before calling Done, which may start the next
// transfer.
func (ch *Channel) finish(t *pio.Transfer, err error) {
	ch.cur = nil
	if t.Done != nil {
		t.Done(err)
	}
}
