package pio

import (
	"log/slog"
	"math/bits"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// State is the lifecycle state of a StateMachine.
type State uint8

const (
	StateConstructed State = iota
	StateRunning
	StateStopped
	StateDeinited
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "deinited"
}

// StateMachine is a PIO state machine claimed from a Pool together with its
// program and pins.
type StateMachine struct {
	pool  *Pool
	claim *claim
	hw    Hardware
	index uint8
	cfg   Config
	regs  ConfigRegs
	state State
	log   *slog.Logger

	// lk guards tx and rx, which DMA completion callbacks also touch.
	lk     engineLock
	tx, rx path
}

// New claims a state machine from pool, loads cfg.Program, configures pins
// and registers and starts the state machine.
func New(pool *Pool, cfg Config) (*StateMachine, error) {
	if err := cfg.Validate(pool.blocks[0].version); err != nil {
		return nil, err
	}
	cfg.Program = append([]byte(nil), cfg.Program...)
	cfg.Init = append([]byte(nil), cfg.Init...)
	cfg.MayExec = append([]byte(nil), cfg.MayExec...)
	c, err := pool.allocate(&cfg)
	if err != nil {
		return nil, err
	}
	regs, err := cfg.Build(c.block.version, c.region.offset, pool.sysclk)
	if err != nil {
		pool.release(c)
		return nil, err
	}
	sm := &StateMachine{
		pool:  pool,
		claim: c,
		hw:    c.block.hw,
		index: c.sm,
		cfg:   cfg,
		regs:  regs,
		log:   pool.log.With("block", c.block.id, "sm", c.sm),
	}
	sm.tx.dir, sm.rx.dir = TX, RX

	roles := cfg.pinRoles()
	for m := roles.mask(); m != 0; m &= m - 1 {
		pin := Pin(bits.TrailingZeros32(m))
		pull := gpio.Float
		switch {
		case roles.in.mask()&(1<<pin) != 0:
			pull = cfg.InPull
		case roles.jmp == pin:
			pull = cfg.JmpPull
		}
		sm.hw.ConfigurePin(pin, pull)
	}

	// Halt the state machine to set sensible defaults
	sm.hw.SetEnabled(sm.index, false)
	sm.hw.SetConfig(sm.index, regs)
	sm.hw.ClearFIFOs(sm.index)
	const fdebugMask = uint32(1<<fdebugTxOver | 1<<fdebugRxUnder | 1<<fdebugTxStall | 1<<fdebugRxStall)
	sm.hw.ClearFDebug(fdebugMask << sm.index)
	sm.restart()
	sm.log.Debug("pio: state machine started", "offset", c.region.offset, "freq", sm.frequency())
	return sm, nil
}

func (sm *StateMachine) alive() error {
	if sm.state == StateDeinited {
		return ErrAlreadyDeinited
	}
	return nil
}

// Block returns the index of the PIO block running the state machine.
func (sm *StateMachine) Block() (uint8, error) {
	if err := sm.alive(); err != nil {
		return 0, err
	}
	return sm.claim.block.id, nil
}

// Index returns the index of the state machine within its block.
func (sm *StateMachine) Index() (uint8, error) {
	if err := sm.alive(); err != nil {
		return 0, err
	}
	return sm.index, nil
}

// State returns the lifecycle state.
func (sm *StateMachine) State() State { return sm.state }

// Offset returns the instruction address the program was loaded at.
func (sm *StateMachine) Offset() (uint8, error) {
	if err := sm.alive(); err != nil {
		return 0, err
	}
	return sm.claim.region.offset, nil
}

// Registers returns the committed configuration registers.
func (sm *StateMachine) Registers() ConfigRegs { return sm.regs }

// Config returns the configuration the state machine was built from.
func (sm *StateMachine) Config() Config {
	cfg := sm.cfg
	cfg.Program = append([]byte(nil), cfg.Program...)
	cfg.Init = append([]byte(nil), cfg.Init...)
	cfg.MayExec = append([]byte(nil), cfg.MayExec...)
	return cfg
}

// Restart resets the state machine to the start of its program, restores
// the initial pin states, runs the init program and enables it.
func (sm *StateMachine) Restart() error {
	if err := sm.alive(); err != nil {
		return err
	}
	sm.restart()
	return nil
}

func (sm *StateMachine) restart() {
	hw, i := sm.hw, sm.index
	hw.SetEnabled(i, false)
	// A JMP is 0x0000 plus the target address.
	hw.Exec(i, AssemblerV0{}.Jmp(sm.claim.region.offset, JmpAlways).Encode())
	hw.Restart(i)
	hw.ClkDivRestart(i)

	roles := sm.cfg.pinRoles()
	used := roles.mask()
	state := roles.out.place(sm.cfg.InitialOutPinState) |
		roles.set.place(sm.cfg.InitialSetPinState) |
		roles.sideset.place(sm.cfg.InitialSidesetPinState)
	dirs := roles.out.place(sm.cfg.InitialOutPinDirection) |
		roles.set.place(sm.cfg.InitialSetPinDirection) |
		roles.sideset.place(sm.cfg.InitialSidesetPinDirection)
	sm.setPinExec(SetDestPins, state, used)
	sm.setPinExec(SetDestPindirs, dirs, used)

	hw.SetConfig(i, sm.regs)
	for _, instr := range programWords(sm.cfg.Init) {
		hw.Exec(i, instr)
	}
	hw.SetEnabled(i, true)
	sm.state = StateRunning
}

// setPinExec drives pins one at a time by pointing SET at each pin in pinMask
// and executing a SET instruction, then restores the configuration.
func (sm *StateMachine) setPinExec(dest SetDest, valueMask, pinMask uint32) {
	tmp := sm.regs
	tmp.ExecCtrl &^= 1 << execOutStickyPos
	for m := pinMask; m != 0; m &= m - 1 {
		pin := bits.TrailingZeros32(m)
		tmp.PinCtrl = 1<<pinSetCountPos | uint32(pin)<<pinSetBasePos
		sm.hw.SetConfig(sm.index, tmp)
		value := 0x1 & uint8(valueMask>>pin)
		sm.hw.Exec(sm.index, AssemblerV0{}.Set(dest, value).Encode())
	}
	sm.hw.SetConfig(sm.index, sm.regs)
}

// Stop halts the state machine. Its program, pins and FIFO contents are kept
// and Restart resumes it.
func (sm *StateMachine) Stop() error {
	if err := sm.alive(); err != nil {
		return err
	}
	sm.hw.SetEnabled(sm.index, false)
	sm.state = StateStopped
	return nil
}

// Run executes each instruction in instrs immediately. It is rejected while a
// background transfer runs, since the instructions would interleave with the
// program at an unknown point in the stream.
func (sm *StateMachine) Run(instrs []byte) error {
	if err := sm.alive(); err != nil {
		return err
	}
	if len(instrs)%2 != 0 {
		return wrapf(ErrInvalidProgramSize, "%d bytes", len(instrs))
	}
	sm.lk.lock()
	active := sm.tx.active || sm.rx.active
	sm.lk.unlock()
	if active {
		return ErrBackgroundActive
	}
	for _, instr := range programWords(instrs) {
		sm.hw.Exec(sm.index, instr)
	}
	return nil
}

// Deinit stops any background transfer, halts the state machine and returns
// its slot, program reference and pins to the pool. Calling it again does
// nothing.
func (sm *StateMachine) Deinit() error {
	if sm.state == StateDeinited {
		return nil
	}
	sm.stopBackground(&sm.tx)
	sm.stopBackground(&sm.rx)
	sm.hw.SetEnabled(sm.index, false)
	sm.pool.release(sm.claim)
	sm.state = StateDeinited
	sm.log.Debug("pio: state machine deinitialized")
	return nil
}

// Frequency returns the actual state machine clock frequency, which can be
// below the requested one due to divisor granularity.
func (sm *StateMachine) Frequency() (physic.Frequency, error) {
	if err := sm.alive(); err != nil {
		return 0, err
	}
	return sm.frequency(), nil
}

func (sm *StateMachine) frequency() physic.Frequency {
	return clkDivFromReg(sm.regs.ClkDiv).Frequency(sm.pool.sysclk)
}

// SetFrequency changes the state machine clock. 0 runs at the system clock.
func (sm *StateMachine) SetFrequency(freq physic.Frequency) error {
	if err := sm.alive(); err != nil {
		return err
	}
	div, err := ClkDivFromFrequency(freq, sm.pool.sysclk)
	if err != nil {
		return err
	}
	enabled := sm.hw.Enabled(sm.index)
	sm.hw.SetEnabled(sm.index, false)
	sm.regs.ClkDiv = div.reg()
	sm.cfg.Frequency = freq
	sm.hw.SetConfig(sm.index, sm.regs)
	sm.hw.ClkDivRestart(sm.index)
	sm.hw.SetEnabled(sm.index, enabled)
	return nil
}

// PC returns the current program counter.
func (sm *StateMachine) PC() (uint8, error) {
	if err := sm.alive(); err != nil {
		return 0, err
	}
	return sm.hw.Addr(sm.index), nil
}

// TxStall reports whether the state machine stalled on an empty TX FIFO
// since the last ClearTxStall.
func (sm *StateMachine) TxStall() (bool, error) {
	if err := sm.alive(); err != nil {
		return false, err
	}
	return sm.hw.FDebug()&(1<<(fdebugTxStall+sm.index)) != 0, nil
}

// ClearTxStall clears the TX stall flag.
func (sm *StateMachine) ClearTxStall() error {
	if err := sm.alive(); err != nil {
		return err
	}
	sm.hw.ClearFDebug(1 << (fdebugTxStall + sm.index))
	return nil
}

// RxStall reports whether the state machine stalled on a full RX FIFO
// since the last ClearRxFIFO.
func (sm *StateMachine) RxStall() (bool, error) {
	if err := sm.alive(); err != nil {
		return false, err
	}
	return sm.hw.FDebug()&(1<<(fdebugRxStall+sm.index)) != 0, nil
}

// ClearRxFIFO drops unread RX FIFO words and clears the RX stall flag.
func (sm *StateMachine) ClearRxFIFO() error {
	if err := sm.alive(); err != nil {
		return err
	}
	for !sm.rxEmpty() {
		sm.hw.RxGet(sm.index)
	}
	sm.hw.ClearFDebug(1<<(fdebugRxStall+sm.index) | 1<<(fdebugRxUnder+sm.index))
	return nil
}

// InWaiting returns the number of words in the RX FIFO.
func (sm *StateMachine) InWaiting() (int, error) {
	if err := sm.alive(); err != nil {
		return 0, err
	}
	return sm.rxLevel(), nil
}

// TxLevel returns the number of words in the TX FIFO.
func (sm *StateMachine) TxLevel() (int, error) {
	if err := sm.alive(); err != nil {
		return 0, err
	}
	return sm.txLevel(), nil
}

func (sm *StateMachine) txFull() bool {
	return sm.hw.FStat()&(1<<(fstatTxFull+sm.index)) != 0
}

func (sm *StateMachine) txEmpty() bool {
	return sm.hw.FStat()&(1<<(fstatTxEmpty+sm.index)) != 0
}

func (sm *StateMachine) rxEmpty() bool {
	return sm.hw.FStat()&(1<<(fstatRxEmpty+sm.index)) != 0
}

func (sm *StateMachine) txLevel() int {
	return int(sm.hw.FLevel()>>(flevelTx+8*uint(sm.index))) & 0xf
}

func (sm *StateMachine) rxLevel() int {
	return int(sm.hw.FLevel()>>(flevelRx+8*uint(sm.index))) & 0xf
}

// place spreads the low bits of v over the pins of r.
func (r pinRange) place(v uint32) uint32 {
	if !r.used() {
		return 0
	}
	var m uint32
	for i := 0; i < r.count; i++ {
		if v&(1<<i) != 0 {
			m |= 1 << ((uint(r.first) + uint(i)) % 32)
		}
	}
	return m
}
