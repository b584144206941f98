package pio

import (
	"strconv"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// AnyOffset lets the loader choose where a program is placed.
const AnyOffset = -1

// FifoType selects how the TX and RX FIFOs are joined.
type FifoType uint8

const (
	// FifoAuto joins the FIFOs toward whichever direction the program uses.
	FifoAuto FifoType = iota
	// FifoTxRx keeps separate 4 deep TX and RX FIFOs.
	FifoTxRx
	// FifoTx joins both into an 8 deep TX FIFO.
	FifoTx
	// FifoRx joins both into an 8 deep RX FIFO.
	FifoRx
	// FifoTxPut keeps a TX FIFO and turns the RX FIFO into registers written
	// by `mov rxfifo[], isr`. Version 1 only.
	FifoTxPut
	// FifoTxGet keeps a TX FIFO and turns the RX FIFO into registers read
	// by `mov osr, rxfifo[]`. Version 1 only.
	FifoTxGet
	// FifoPutGet turns the RX FIFO into registers both written and read by
	// the state machine. Version 1 only.
	FifoPutGet
)

var fifoTypeNames = [...]string{"auto", "txrx", "tx", "rx", "txput", "txget", "putget"}

func (f FifoType) String() string {
	if int(f) < len(fifoTypeNames) {
		return fifoTypeNames[f]
	}
	return "FifoType(" + strconv.Itoa(int(f)) + ")"
}

// ParseFifoType parses the names used by pioasm's .fifo directive.
func ParseFifoType(s string) (FifoType, error) {
	for i, name := range fifoTypeNames {
		if s == name {
			return FifoType(i), nil
		}
	}
	return 0, argError("fifo type %q", s)
}

// MovStatusType selects what `mov x, status` reports.
type MovStatusType uint8

const (
	// MovStatusTxFIFO is all-ones while the TX level is below N.
	MovStatusTxFIFO MovStatusType = iota
	// MovStatusRxFIFO is all-ones while the RX level is below N.
	MovStatusRxFIFO
	// MovStatusIRQ is all-ones while IRQ flag N is set. Version 1 only.
	MovStatusIRQ
)

var movStatusNames = [...]string{"txfifo", "rxfifo", "irq"}

func (m MovStatusType) String() string {
	if int(m) < len(movStatusNames) {
		return movStatusNames[m]
	}
	return "MovStatusType(" + strconv.Itoa(int(m)) + ")"
}

// ParseMovStatusType parses "txfifo", "rxfifo" or "irq".
func ParseMovStatusType(s string) (MovStatusType, error) {
	for i, name := range movStatusNames {
		if s == name {
			return MovStatusType(i), nil
		}
	}
	return 0, argError("mov_status_type %q", s)
}

// Config describes a state machine and the program it runs. Start from
// DefaultConfig; the zero value is not a useful configuration.
type Config struct {
	// Program is the little-endian encoded program, 1 to 32 instructions.
	Program []byte
	// Init runs once, instruction by instruction, after every restart.
	Init []byte
	// MayExec lists instructions that may be handed to Run; they take
	// part in automatic FIFO join selection.
	MayExec []byte

	// Frequency of the state machine clock. 0 runs at the system clock.
	Frequency physic.Frequency

	// Offset is where the program must be loaded, or AnyOffset.
	Offset int
	// WrapTarget and Wrap are instruction indices relative to the start
	// of the program. A Wrap of -1 wraps after the last instruction.
	WrapTarget int
	Wrap       int

	FirstOutPin Pin
	OutPinCount int
	// InitialOutPinState and InitialOutPinDirection are bitmasks over the
	// out pins starting at bit 0.
	InitialOutPinState     uint32
	InitialOutPinDirection uint32

	FirstInPin Pin
	InPinCount int
	InPull     gpio.Pull

	FirstSetPin            Pin
	SetPinCount            int
	InitialSetPinState     uint32
	InitialSetPinDirection uint32

	FirstSidesetPin            Pin
	SidesetPinCount            int
	InitialSidesetPinState     uint32
	InitialSidesetPinDirection uint32
	// SidesetEnable reserves one extra delay bit that enables side-set per
	// instruction (`.side_set n opt`).
	SidesetEnable bool
	// SidesetPindirs makes side-set drive pin directions instead of values.
	SidesetPindirs bool

	JmpPin  Pin
	JmpPull gpio.Pull

	// ExclusivePinUse forbids sharing pins with other state machines.
	ExclusivePinUse bool

	AutoPull      bool
	PullThreshold int
	OutShiftRight bool

	AutoPush      bool
	PushThreshold int
	InShiftRight  bool

	// WaitForTxStall makes Write return only after the state machine
	// stalled on an empty TX FIFO, so every bit has left the OSR.
	WaitForTxStall bool
	// UserInterruptible lets a cancelled context end blocking calls early.
	UserInterruptible bool

	FifoType      FifoType
	MovStatusType MovStatusType
	MovStatusN    int

	// PIOVersion is the minimum PIO hardware version the program needs.
	PIOVersion int
}

// DefaultConfig returns a configuration with every pin unused and the
// remaining fields at their customary defaults.
func DefaultConfig() Config {
	return Config{
		Offset:                     AnyOffset,
		Wrap:                       -1,
		FirstOutPin:                NoPin,
		OutPinCount:                1,
		InitialOutPinDirection:     0xffffffff,
		FirstInPin:                 NoPin,
		InPinCount:                 1,
		InPull:                     gpio.Float,
		FirstSetPin:                NoPin,
		SetPinCount:                1,
		InitialSetPinDirection:     0x1f,
		FirstSidesetPin:            NoPin,
		SidesetPinCount:            1,
		InitialSidesetPinDirection: 0x1f,
		JmpPin:                     NoPin,
		JmpPull:                    gpio.Float,
		ExclusivePinUse:            true,
		PullThreshold:              32,
		OutShiftRight:              true,
		PushThreshold:              32,
		InShiftRight:               true,
		WaitForTxStall:             true,
		UserInterruptible:          true,
	}
}

// ConfigRegs holds the per state machine configuration registers.
type ConfigRegs struct {
	// Clock divisor register.
	//  Frequency = clock freq / (CLKDIV_INT + CLKDIV_FRAC / 256)
	ClkDiv uint32
	// Execution/behavioural settings.
	ExecCtrl uint32
	// Control behaviour of the input/output shift registers.
	ShiftCtrl uint32
	// State machine pin control.
	PinCtrl uint32
}

// EXECCTRL fields.
const (
	execSideEnPos     = 30
	execSidePindirPos = 29
	execJmpPinPos     = 24
	execOutStickyPos  = 17
	execWrapTopPos    = 12
	execWrapBottomPos = 7
	execWrapMsk       = 0x1f<<execWrapTopPos | 0x1f<<execWrapBottomPos

	// Version 0 has a 1-bit STATUS_SEL and a 4-bit STATUS_N.
	execStatusSelPosV0 = 4
	execStatusNMskV0   = 0xf
	// Version 1 widens both.
	execStatusSelPosV1 = 5
	execStatusNMskV1   = 0x1f
)

// SHIFTCTRL fields.
const (
	shiftFJoinRxPos    = 31
	shiftFJoinTxPos    = 30
	shiftPullThreshPos = 25
	shiftPushThreshPos = 20
	shiftOutDirPos     = 19
	shiftInDirPos      = 18
	shiftAutoPullPos   = 17
	shiftAutoPushPos   = 16
	shiftFJoinRxPutPos = 15
	shiftFJoinRxGetPos = 14
	shiftInCountMsk    = 0x1f
)

// PINCTRL fields.
const (
	pinSidesetCountPos = 29
	pinSetCountPos     = 26
	pinOutCountPos     = 20
	pinInBasePos       = 15
	pinSidesetBasePos  = 10
	pinSetBasePos      = 5
	pinOutBasePos      = 0
)

// programLen validates the program sizes and returns the number of
// instructions in Program.
func (c *Config) programLen() (int, error) {
	n := len(c.Program)
	if n < 2 || n > 64 || n%2 != 0 {
		return 0, fmtSize("program", n, 2)
	}
	if n := len(c.Init); n > 64 || n%2 != 0 {
		return 0, fmtSize("init", n, 0)
	}
	if n := len(c.MayExec); n > 64 || n%2 != 0 {
		return 0, fmtSize("may_exec", n, 0)
	}
	return n / 2, nil
}

func fmtSize(what string, n, min int) error {
	return wrapf(ErrInvalidProgramSize, "%s is %d bytes, want an even length in [%d,64]", what, n, min)
}

// wraps resolves WrapTarget and Wrap to instruction indices in [0, n-1].
func (c *Config) wraps(n int) (target, wrap int, err error) {
	target, wrap = c.WrapTarget, c.Wrap
	if wrap == -1 {
		wrap = n - 1
	}
	if target < 0 || target >= n {
		return 0, 0, argError("wrap_target %d not in [0,%d]", c.WrapTarget, n-1)
	}
	if wrap < 0 || wrap >= n {
		return 0, 0, argError("wrap %d not in [0,%d]", c.Wrap, n-1)
	}
	return target, wrap, nil
}

// fifoJoin resolves FifoAuto against the instructions the state machine may run.
func (c *Config) fifoJoin() FifoType {
	if c.FifoType != FifoAuto {
		return c.FifoType
	}
	tx, rx := fifoUse(append(programWords(c.Program), programWords(c.MayExec)...))
	switch {
	case !rx:
		return FifoTx
	case !tx:
		return FifoRx
	}
	return FifoTxRx
}

// Validate checks the configuration against PIO hardware version without
// touching hardware or pin ownership.
func (c *Config) Validate(version uint8) error {
	n, err := c.programLen()
	if err != nil {
		return err
	}
	if _, _, err := c.wraps(n); err != nil {
		return err
	}
	if c.Offset != AnyOffset && (c.Offset < 0 || c.Offset+n > 32) {
		return argError("offset %d for a %d instruction program", c.Offset, n)
	}
	if c.Frequency < 0 {
		return argError("frequency %s", c.Frequency)
	}
	if c.PIOVersion < 0 {
		return argError("pio_version %d", c.PIOVersion)
	}
	if c.PIOVersion > int(version) {
		return unsupported("program needs PIO version %d, hardware is %d", c.PIOVersion, version)
	}
	if err := c.pinRoles().validate(nil); err != nil {
		return err
	}
	if c.FirstSidesetPin != NoPin && c.SidesetEnable && c.SidesetPinCount+1 > 5 {
		return argError("sideset pin count %d leaves no room for the enable bit", c.SidesetPinCount)
	}
	if c.PullThreshold < 1 || c.PullThreshold > 32 {
		return argError("pull_threshold %d not in [1,32]", c.PullThreshold)
	}
	if c.PushThreshold < 1 || c.PushThreshold > 32 {
		return argError("push_threshold %d not in [1,32]", c.PushThreshold)
	}
	if c.FifoType > FifoPutGet {
		return argError("fifo type %d", c.FifoType)
	}
	if c.FifoType >= FifoTxPut && version < 1 {
		return unsupported("fifo type %s", c.FifoType)
	}
	if c.MovStatusType > MovStatusIRQ {
		return argError("mov_status_type %d", c.MovStatusType)
	}
	if c.MovStatusType == MovStatusIRQ && version < 1 {
		return unsupported("mov_status_type %s", c.MovStatusType)
	}
	maxN := execStatusNMskV0
	if version >= 1 {
		maxN = execStatusNMskV1
	}
	if c.MovStatusN < 0 || c.MovStatusN > maxN {
		return argError("mov_status_n %d not in [0,%d]", c.MovStatusN, maxN)
	}
	return nil
}

// Build validates c and computes the configuration registers for the program
// loaded at offset. It has no side effects; calling it again with the same
// arguments yields the same registers.
func (c *Config) Build(version uint8, offset uint8, sysclk physic.Frequency) (ConfigRegs, error) {
	if err := c.Validate(version); err != nil {
		return ConfigRegs{}, err
	}
	n, _ := c.programLen()
	target, wrap, _ := c.wraps(n)
	if int(offset)+n > 32 {
		panic(badProgramBounds)
	}
	div, err := ClkDivFromFrequency(c.Frequency, sysclk)
	if err != nil {
		return ConfigRegs{}, err
	}

	var regs ConfigRegs
	regs.ClkDiv = div.reg()

	// EXECCTRL
	exec := uint32(int(offset)+wrap)<<execWrapTopPos |
		uint32(int(offset)+target)<<execWrapBottomPos
	if c.FirstSidesetPin != NoPin {
		exec |= boolToBit(c.SidesetEnable)<<execSideEnPos |
			boolToBit(c.SidesetPindirs)<<execSidePindirPos
	}
	if c.JmpPin != NoPin {
		exec |= uint32(c.JmpPin) << execJmpPinPos
	}
	if version >= 1 {
		exec |= uint32(c.MovStatusType)<<execStatusSelPosV1 | uint32(c.MovStatusN)&execStatusNMskV1
	} else {
		exec |= uint32(c.MovStatusType)<<execStatusSelPosV0 | uint32(c.MovStatusN)&execStatusNMskV0
	}
	regs.ExecCtrl = exec

	// SHIFTCTRL. Thresholds of 32 are written as 0.
	shift := uint32(c.PullThreshold&0x1f)<<shiftPullThreshPos |
		uint32(c.PushThreshold&0x1f)<<shiftPushThreshPos |
		boolToBit(c.OutShiftRight)<<shiftOutDirPos |
		boolToBit(c.InShiftRight)<<shiftInDirPos |
		boolToBit(c.AutoPull)<<shiftAutoPullPos |
		boolToBit(c.AutoPush)<<shiftAutoPushPos
	switch c.fifoJoin() {
	case FifoTx:
		shift |= 1 << shiftFJoinTxPos
	case FifoRx:
		shift |= 1 << shiftFJoinRxPos
	case FifoTxPut:
		shift |= 1 << shiftFJoinRxPutPos
	case FifoTxGet:
		shift |= 1 << shiftFJoinRxGetPos
	case FifoPutGet:
		shift |= 1<<shiftFJoinRxPutPos | 1<<shiftFJoinRxGetPos
	}
	if version >= 1 && c.FirstInPin != NoPin {
		shift |= uint32(c.InPinCount) & shiftInCountMsk
	}
	regs.ShiftCtrl = shift

	// PINCTRL
	var pin uint32
	if c.FirstOutPin != NoPin {
		pin |= uint32(c.OutPinCount)<<pinOutCountPos | uint32(c.FirstOutPin)<<pinOutBasePos
	}
	if c.FirstSetPin != NoPin {
		pin |= uint32(c.SetPinCount)<<pinSetCountPos | uint32(c.FirstSetPin)<<pinSetBasePos
	}
	if c.FirstSidesetPin != NoPin {
		count := c.SidesetPinCount
		if c.SidesetEnable {
			count++
		}
		pin |= uint32(count)<<pinSidesetCountPos | uint32(c.FirstSidesetPin)<<pinSidesetBasePos
	}
	if c.FirstInPin != NoPin {
		pin |= uint32(c.FirstInPin) << pinInBasePos
	}
	regs.PinCtrl = pin
	return regs, nil
}

// PullThreshold decodes SHIFTCTRL.PULL_THRESH.
func (r ConfigRegs) PullThreshold() int { return thresh(r.ShiftCtrl >> shiftPullThreshPos) }

// PushThreshold decodes SHIFTCTRL.PUSH_THRESH.
func (r ConfigRegs) PushThreshold() int { return thresh(r.ShiftCtrl >> shiftPushThreshPos) }

func thresh(field uint32) int {
	if field&0x1f == 0 {
		return 32
	}
	return int(field & 0x1f)
}

// Wrap decodes the absolute wrap target and wrap addresses from EXECCTRL.
func (r ConfigRegs) Wrap() (target, wrap uint8) {
	return uint8(r.ExecCtrl>>execWrapBottomPos) & 0x1f, uint8(r.ExecCtrl>>execWrapTopPos) & 0x1f
}

// Join decodes the FIFO join mode from SHIFTCTRL.
func (r ConfigRegs) Join() FifoType {
	put := r.ShiftCtrl&(1<<shiftFJoinRxPutPos) != 0
	get := r.ShiftCtrl&(1<<shiftFJoinRxGetPos) != 0
	switch {
	case put && get:
		return FifoPutGet
	case put:
		return FifoTxPut
	case get:
		return FifoTxGet
	case r.ShiftCtrl&(1<<shiftFJoinTxPos) != 0:
		return FifoTx
	case r.ShiftCtrl&(1<<shiftFJoinRxPos) != 0:
		return FifoRx
	}
	return FifoTxRx
}

func boolToBit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
