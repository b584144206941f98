package pio

import (
	"io"
	"log/slog"
	"math/bits"
	"runtime"
	"slices"
	"sync"

	"periph.io/x/conn/v3/physic"
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Blocks are the PIO blocks the pool manages, indexed by block id.
	Blocks []Hardware
	// DMA is used for blocking transfers when set and is required for
	// background transfers.
	DMA DMA
	// Pins is the chip wide pin ownership registry. Defaults to a
	// 30 pin Registry.
	Pins PinRegistry
	// SystemClock defaults to DefaultSystemClock.
	SystemClock physic.Frequency
	// Yield is called while blocking calls wait on hardware. Defaults to
	// runtime.Gosched.
	Yield func()
	// Logger defaults to discarding all output.
	Logger *slog.Logger
}

// Pool owns the PIO blocks of a chip: their instruction memory, state
// machine slots and the pins their state machines use. State machines
// reference blocks by index and return everything to the pool on Deinit.
type Pool struct {
	mu     sync.Mutex
	blocks []*block
	pinUse map[Pin]*pinUse

	dma    DMA
	pins   PinRegistry
	sysclk physic.Frequency
	yield  func()
	log    *slog.Logger
}

// block is one PIO block.
type block struct {
	hw      Hardware
	id      uint8
	version uint8
	// Bitmask of used instruction space. Each PIO has 32 slots for instructions.
	usedSpaceMask uint32
	// Bitmask of claimed state machines. Each PIO has 4 state machines.
	claimedSMMask uint8
	regions       []*region
}

// region is a loaded program, shared by every state machine running the
// same instructions in the block.
type region struct {
	block  *block
	offset uint8
	instrs []uint16
	refs   int
}

type pinUse struct {
	block     uint8
	refs      int
	exclusive bool
}

// NewPool takes ownership of the given blocks.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if len(cfg.Blocks) == 0 || len(cfg.Blocks) > 8 {
		return nil, argError("need 1 to 8 PIO blocks, got %d", len(cfg.Blocks))
	}
	p := &Pool{
		pinUse: make(map[Pin]*pinUse),
		dma:    cfg.DMA,
		pins:   cfg.Pins,
		sysclk: cfg.SystemClock,
		yield:  cfg.Yield,
		log:    cfg.Logger,
	}
	if p.pins == nil {
		p.pins = NewRegistry(30)
	}
	if p.sysclk == 0 {
		p.sysclk = DefaultSystemClock
	}
	if p.yield == nil {
		p.yield = runtime.Gosched
	}
	if p.log == nil {
		p.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	for i, hw := range cfg.Blocks {
		p.blocks = append(p.blocks, &block{hw: hw, id: uint8(i), version: hw.Version()})
	}
	return p, nil
}

// NumBlocks returns the number of PIO blocks in the pool.
func (p *Pool) NumBlocks() int { return len(p.blocks) }

// SystemClock returns the clock state machine frequencies derive from.
func (p *Pool) SystemClock() physic.Frequency { return p.sysclk }

// FreeSpace returns the number of unused instruction slots in block.
func (p *Pool) FreeSpace(blockID uint8) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.block(blockID).free()
}

// FreeStateMachines returns the number of unclaimed state machines in block.
func (p *Pool) FreeStateMachines(blockID uint8) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return 4 - bits.OnesCount8(p.block(blockID).claimedSMMask)
}

// ProgramRefs returns how many users share the program loaded at offset in
// block, 0 if nothing is loaded there.
func (p *Pool) ProgramRefs(blockID, offset uint8) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.block(blockID).regions {
		if r.offset == offset {
			return r.refs
		}
	}
	return 0
}

func (p *Pool) block(id uint8) *block {
	if int(id) >= len(p.blocks) {
		panic("pio: invalid block")
	}
	return p.blocks[id]
}

// Region describes a program in instruction memory. WrapTarget and Wrap are
// absolute addresses.
type Region struct {
	Block      uint8
	Offset     uint8
	Len        uint8
	WrapTarget uint8
	Wrap       uint8
}

// Load installs program in whichever block already holds identical
// instructions, or else in the block with the most free space. offset is
// AnyOffset or the exact address the program must start at. wrapTarget and
// wrap are relative to the program; a wrap of -1 means the last instruction.
// Programs loaded this way stay until Unload.
func (p *Pool) Load(program []byte, offset, wrapTarget, wrap int) (Region, error) {
	c := Config{Program: program, Offset: offset, WrapTarget: wrapTarget, Wrap: wrap}
	n, err := c.programLen()
	if err != nil {
		return Region{}, err
	}
	target, wrap, err := c.wraps(n)
	if err != nil {
		return Region{}, err
	}
	if offset != AnyOffset && (offset < 0 || offset+n > 32) {
		return Region{}, argError("offset %d for a %d instruction program", offset, n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.load(programWords(program), offset, func(*block) error { return nil })
	if err != nil {
		return Region{}, err
	}
	return Region{
		Block:      r.block.id,
		Offset:     r.offset,
		Len:        uint8(n),
		WrapTarget: r.offset + uint8(target),
		Wrap:       r.offset + uint8(wrap),
	}, nil
}

// Unload drops one reference to a program returned by Load.
func (p *Pool) Unload(rg Region) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.block(rg.Block)
	for _, r := range b.regions {
		if r.offset == rg.Offset {
			p.unref(r)
			return
		}
	}
}

// load finds or installs instrs in a block accepted by eligible.
// Must be called with p.mu held.
func (p *Pool) load(instrs []uint16, offset int, eligible func(*block) error) (*region, error) {
	ok := make([]bool, len(p.blocks))
	var firstErr error
	for i, b := range p.blocks {
		err := eligible(b)
		ok[i] = err == nil
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for i, b := range p.blocks {
		if !ok[i] {
			continue
		}
		if r := b.find(instrs, offset); r != nil {
			r.refs++
			p.log.Debug("pio: sharing program", "block", b.id, "offset", r.offset, "refs", r.refs)
			return r, nil
		}
	}
	var best *block
	var bestAt int
	for i, b := range p.blocks {
		if !ok[i] {
			continue
		}
		at := b.findOffsetForProgram(len(instrs), offset)
		if at < 0 {
			continue
		}
		if best == nil || b.free() > best.free() {
			best, bestAt = b, at
		}
	}
	switch {
	case best != nil:
	case !slices.Contains(ok, true):
		return nil, firstErr
	case offset == AnyOffset:
		return nil, ErrOutOfProgramSpace
	default:
		return nil, wrapf(ErrNoSpaceAtOffset, "%d", offset)
	}
	r := best.install(instrs, uint8(bestAt))
	p.log.Debug("pio: loaded program", "block", best.id, "offset", r.offset, "len", len(instrs))
	return r, nil
}

// unref drops a reference to r and frees its instruction memory when none remain.
func (p *Pool) unref(r *region) {
	r.refs--
	if r.refs > 0 {
		return
	}
	b := r.block
	b.clearProgramSection(r.offset, uint8(len(r.instrs)))
	b.regions = slices.DeleteFunc(b.regions, func(x *region) bool { return x == r })
	p.log.Debug("pio: freed program", "block", b.id, "offset", r.offset)
}

func (b *block) free() int { return 32 - bits.OnesCount32(b.usedSpaceMask) }

// find returns a region holding exactly instrs, at offset unless it is AnyOffset.
func (b *block) find(instrs []uint16, offset int) *region {
	for _, r := range b.regions {
		if (offset == AnyOffset || int(r.offset) == offset) && slices.Equal(r.instrs, instrs) {
			return r
		}
	}
	return nil
}

func (b *block) findOffsetForProgram(n int, origin int) int {
	programMask := uint32(1<<n - 1)
	if n == 32 {
		programMask = 0xffffffff
	}

	// Program has fixed offset (not relocatable)
	if origin >= 0 {
		if origin > 32-n {
			return -1
		}
		if b.usedSpaceMask&(programMask<<origin) != 0 {
			return -1
		}
		return origin
	}

	// work down from the top always
	for i := 32 - n; i >= 0; i-- {
		if b.usedSpaceMask&(programMask<<i) == 0 {
			return i
		}
	}
	return -1
}

func (b *block) install(instrs []uint16, offset uint8) *region {
	for i, instr := range instrs {
		b.hw.WriteInstr(offset+uint8(i), relocate(instr, offset))
	}
	programMask := uint32(1<<len(instrs) - 1)
	if len(instrs) == 32 {
		programMask = 0xffffffff
	}
	b.usedSpaceMask |= programMask << offset
	r := &region{block: b, offset: offset, instrs: slices.Clone(instrs), refs: 1}
	b.regions = append(b.regions, r)
	return r
}

// clearProgramSection fills a section of instruction memory with trap jumps
// so a state machine still pointed at it cannot run stale code.
func (b *block) clearProgramSection(offset, n uint8) {
	if int(offset)+int(n) > 32 {
		panic(badProgramBounds)
	}
	trap := AssemblerV0{}.Jmp(offset, JmpAlways).Encode()
	for i := offset; i < offset+n; i++ {
		b.hw.WriteInstr(i, trap)
	}
	b.usedSpaceMask &^= uint32(uint64(1)<<n-1) << offset
}

func (b *block) claimSM() uint8 {
	for i := uint8(0); i < 4; i++ {
		if b.claimedSMMask&(1<<i) == 0 {
			b.claimedSMMask |= 1 << i
			return i
		}
	}
	panic("pio: no free state machine")
}

// claim is what a state machine holds from the pool.
type claim struct {
	block  *block
	sm     uint8
	region *region
	pins   uint32
}

// allocate validates the pins of cfg, picks a block with a free state machine
// and room for the program, then claims slot, program region and pins.
func (p *Pool) allocate(cfg *Config) (*claim, error) {
	roles := cfg.pinRoles()
	if err := roles.validate(p.pins); err != nil {
		return nil, err
	}
	pins := roles.mask()
	exclusive := cfg.ExclusivePinUse

	p.mu.Lock()
	defer p.mu.Unlock()
	eligible := func(b *block) error {
		if b.claimedSMMask == 0xf {
			return ErrNoStateMachine
		}
		if cfg.PIOVersion > int(b.version) {
			return unsupported("program needs PIO version %d, block %d is %d", cfg.PIOVersion, b.id, b.version)
		}
		return p.pinsCompatible(b, pins, exclusive)
	}
	r, err := p.load(programWords(cfg.Program), cfg.Offset, eligible)
	if err != nil {
		return nil, err
	}
	b := r.block
	if err := p.claimPins(b, pins, exclusive); err != nil {
		p.unref(r)
		return nil, err
	}
	c := &claim{block: b, sm: b.claimSM(), region: r, pins: pins}
	p.log.Debug("pio: claimed state machine", "block", b.id, "sm", c.sm, "offset", r.offset)
	return c, nil
}

// release returns everything c holds.
func (p *Pool) release(c *claim) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unref(c.region)
	c.block.claimedSMMask &^= 1 << c.sm
	p.releasePins(c.block, c.pins)
	p.log.Debug("pio: released state machine", "block", c.block.id, "sm", c.sm)
}

// pinsCompatible reports whether the pins in mask can be used by a state
// machine in b. Pins already used by the pool may only be shared between
// non-exclusive users within one block.
func (p *Pool) pinsCompatible(b *block, mask uint32, exclusive bool) error {
	for m := mask; m != 0; m &= m - 1 {
		pin := Pin(bits.TrailingZeros32(m))
		u := p.pinUse[pin]
		if u == nil {
			continue
		}
		if exclusive || u.exclusive || u.block != b.id {
			return wrapf(ErrPinInUse, "%s", pin)
		}
	}
	return nil
}

func (p *Pool) claimPins(b *block, mask uint32, exclusive bool) error {
	var claimed uint32
	for m := mask; m != 0; m &= m - 1 {
		pin := Pin(bits.TrailingZeros32(m))
		if p.pinUse[pin] != nil {
			continue
		}
		if err := p.pins.Claim(pin); err != nil {
			for c := claimed; c != 0; c &= c - 1 {
				p.pins.Release(Pin(bits.TrailingZeros32(c)))
			}
			return err
		}
		claimed |= 1 << pin
	}
	for m := mask; m != 0; m &= m - 1 {
		pin := Pin(bits.TrailingZeros32(m))
		if u := p.pinUse[pin]; u != nil {
			u.refs++
			continue
		}
		p.pinUse[pin] = &pinUse{block: b.id, refs: 1, exclusive: exclusive}
	}
	return nil
}

func (p *Pool) releasePins(b *block, mask uint32) {
	for m := mask; m != 0; m &= m - 1 {
		pin := Pin(bits.TrailingZeros32(m))
		u := p.pinUse[pin]
		if u == nil {
			continue
		}
		u.refs--
		if u.refs > 0 {
			continue
		}
		delete(p.pinUse, pin)
		b.hw.ResetPin(pin)
		p.pins.Release(pin)
	}
}
