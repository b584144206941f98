package pio

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3/physic"
)

func TestConfigProgramSize(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 31, 62, 63, 64, 65, 66} {
		cfg := DefaultConfig()
		cfg.Program = make([]byte, n)
		err := cfg.Validate(0)
		valid := n >= 2 && n <= 64 && n%2 == 0
		if valid && err != nil {
			t.Errorf("%d bytes: unexpected error %v", n, err)
		} else if !valid && !errors.Is(err, ErrInvalidProgramSize) {
			t.Errorf("%d bytes: got %v, want ErrInvalidProgramSize", n, err)
		}
	}
}

func TestConfigInitSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Program = make([]byte, 2)
	cfg.Init = make([]byte, 3)
	if err := cfg.Validate(0); !errors.Is(err, ErrInvalidProgramSize) {
		t.Errorf("odd init: got %v", err)
	}
	cfg.Init = nil
	cfg.MayExec = make([]byte, 66)
	if err := cfg.Validate(0); !errors.Is(err, ErrInvalidProgramSize) {
		t.Errorf("long may_exec: got %v", err)
	}
}

func TestConfigThresholds(t *testing.T) {
	tests := []struct {
		pull, push int
		ok         bool
	}{
		{1, 1, true},
		{32, 32, true},
		{0, 32, false},
		{33, 32, false},
		{32, 0, false},
		{32, 33, false},
	}
	for _, tc := range tests {
		cfg := DefaultConfig()
		cfg.Program = make([]byte, 2)
		cfg.PullThreshold, cfg.PushThreshold = tc.pull, tc.push
		err := cfg.Validate(0)
		if tc.ok && err != nil {
			t.Errorf("pull %d push %d: %v", tc.pull, tc.push, err)
		} else if !tc.ok && !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("pull %d push %d: got %v, want ErrInvalidArgument", tc.pull, tc.push, err)
		}
	}
}

func TestConfigPinCounts(t *testing.T) {
	tests := []struct {
		name string
		set  func(c *Config)
		ok   bool
	}{
		{"set 5", func(c *Config) { c.FirstSetPin, c.SetPinCount = 0, 5 }, true},
		{"set 6", func(c *Config) { c.FirstSetPin, c.SetPinCount = 0, 6 }, false},
		{"set 0", func(c *Config) { c.SetPinCount = 0 }, false},
		{"sideset 6", func(c *Config) { c.FirstSidesetPin, c.SidesetPinCount = 0, 6 }, false},
		{"out 0", func(c *Config) { c.OutPinCount = 0 }, false},
		{"in 32", func(c *Config) { c.FirstInPin, c.InPinCount = 0, 32 }, true},
		{"in 33", func(c *Config) { c.FirstInPin, c.InPinCount = 0, 33 }, false},
		{"jmp 40", func(c *Config) { c.JmpPin = 40 }, false},
		{"sideset enable 5", func(c *Config) {
			c.FirstSidesetPin, c.SidesetPinCount, c.SidesetEnable = 0, 5, true
		}, false},
	}
	for _, tc := range tests {
		cfg := DefaultConfig()
		cfg.Program = make([]byte, 2)
		tc.set(&cfg)
		err := cfg.Validate(0)
		if tc.ok && err != nil {
			t.Errorf("%s: %v", tc.name, err)
		} else if !tc.ok && !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s: got %v, want ErrInvalidArgument", tc.name, err)
		}
	}
}

func TestConfigWrap(t *testing.T) {
	tests := []struct {
		target, wrap int
		ok           bool
	}{
		{0, -1, true},
		{2, 2, true},
		{3, -1, false},
		{0, 3, false},
		{-1, 0, false},
	}
	for _, tc := range tests {
		cfg := DefaultConfig()
		cfg.Program = make([]byte, 6)
		cfg.WrapTarget, cfg.Wrap = tc.target, tc.wrap
		err := cfg.Validate(0)
		if tc.ok != (err == nil) {
			t.Errorf("wrap_target %d wrap %d: got %v", tc.target, tc.wrap, err)
		}
		if err != nil && !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("wrap_target %d wrap %d: got %v, want ErrInvalidArgument", tc.target, tc.wrap, err)
		}
	}
}

func TestConfigVersionFeatures(t *testing.T) {
	tests := []struct {
		name    string
		set     func(c *Config)
		version uint8
		want    error
	}{
		{"txput v0", func(c *Config) { c.FifoType = FifoTxPut }, 0, ErrUnsupportedFeature},
		{"txput v1", func(c *Config) { c.FifoType = FifoTxPut }, 1, nil},
		{"putget v0", func(c *Config) { c.FifoType = FifoPutGet }, 0, ErrUnsupportedFeature},
		{"rx v0", func(c *Config) { c.FifoType = FifoRx }, 0, nil},
		{"bad fifo", func(c *Config) { c.FifoType = 42 }, 1, ErrInvalidArgument},
		{"irq status v0", func(c *Config) { c.MovStatusType = MovStatusIRQ }, 0, ErrUnsupportedFeature},
		{"irq status v1", func(c *Config) { c.MovStatusType = MovStatusIRQ }, 1, nil},
		{"bad status", func(c *Config) { c.MovStatusType = 3 }, 1, ErrInvalidArgument},
		{"status n 15 v0", func(c *Config) { c.MovStatusN = 15 }, 0, nil},
		{"status n 16 v0", func(c *Config) { c.MovStatusN = 16 }, 0, ErrInvalidArgument},
		{"status n 31 v1", func(c *Config) { c.MovStatusN = 31 }, 1, nil},
		{"pio version 1 on v0", func(c *Config) { c.PIOVersion = 1 }, 0, ErrUnsupportedFeature},
	}
	for _, tc := range tests {
		cfg := DefaultConfig()
		cfg.Program = make([]byte, 2)
		tc.set(&cfg)
		err := cfg.Validate(tc.version)
		if tc.want == nil && err != nil {
			t.Errorf("%s: %v", tc.name, err)
		} else if tc.want != nil && !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestConfigBuild(t *testing.T) {
	asm := AssemblerV0{}
	cfg := DefaultConfig()
	cfg.Program = ProgramBytes(
		asm.Pull(false, true).Encode(),
		asm.Out(OutDestPins, 8).Encode(),
		asm.Jmp(0, JmpAlways).Encode(),
	)
	cfg.WrapTarget = 1
	cfg.FirstOutPin, cfg.OutPinCount = 2, 8
	cfg.FirstSidesetPin, cfg.SidesetPinCount, cfg.SidesetEnable = 10, 2, true
	cfg.JmpPin = 7
	cfg.PushThreshold = 8
	cfg.AutoPull = true
	cfg.Frequency = 62500 * physic.KiloHertz

	regs, err := cfg.Build(0, 4, DefaultSystemClock)
	if err != nil {
		t.Fatal(err)
	}
	if target, wrap := regs.Wrap(); target != 5 || wrap != 6 {
		t.Errorf("wrap: got %d..%d, want 5..6", target, wrap)
	}
	if got := regs.PullThreshold(); got != 32 {
		t.Errorf("pull threshold %d", got)
	}
	if regs.ShiftCtrl>>shiftPullThreshPos&0x1f != 0 {
		t.Errorf("pull threshold 32 not encoded as 0: %#x", regs.ShiftCtrl)
	}
	if got := regs.PushThreshold(); got != 8 {
		t.Errorf("push threshold %d", got)
	}
	if regs.ShiftCtrl&(1<<shiftAutoPullPos) == 0 {
		t.Error("autopull not set")
	}
	if got := regs.Join(); got != FifoTx {
		t.Errorf("auto join: got %s, want tx", got)
	}
	wantPin := uint32(8)<<pinOutCountPos | 2<<pinOutBasePos | 3<<pinSidesetCountPos | 10<<pinSidesetBasePos
	if regs.PinCtrl != wantPin {
		t.Errorf("pinctrl: got %#x, want %#x", regs.PinCtrl, wantPin)
	}
	if regs.ExecCtrl&(1<<execSideEnPos) == 0 || regs.ExecCtrl>>execJmpPinPos&0x1f != 7 {
		t.Errorf("execctrl: %#x", regs.ExecCtrl)
	}
	if d := clkDivFromReg(regs.ClkDiv); d != (ClkDiv{Whole: 2}) {
		t.Errorf("clkdiv: got %+v", d)
	}

	again, err := cfg.Build(0, 4, DefaultSystemClock)
	if err != nil || again != regs {
		t.Errorf("rebuild: got %+v, %v", again, err)
	}
}

func TestConfigFifoJoin(t *testing.T) {
	asm := AssemblerV0{}
	tests := []struct {
		name   string
		instrs []uint16
		want   FifoType
	}{
		{"out only", []uint16{asm.Out(OutDestPins, 1).Encode()}, FifoTx},
		{"in only", []uint16{asm.In(InSrcPins, 1).Encode(), asm.Push(false, true).Encode()}, FifoRx},
		{"both", []uint16{asm.Pull(false, true).Encode(), asm.Push(false, true).Encode()}, FifoTxRx},
		{"none", []uint16{asm.Nop().Encode()}, FifoTx},
	}
	for _, tc := range tests {
		cfg := DefaultConfig()
		cfg.Program = ProgramBytes(tc.instrs...)
		regs, err := cfg.Build(0, 0, DefaultSystemClock)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got := regs.Join(); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestParseFifoType(t *testing.T) {
	for i, name := range fifoTypeNames {
		got, err := ParseFifoType(name)
		if err != nil || got != FifoType(i) {
			t.Errorf("%q: got %v, %v", name, got, err)
		}
		if got.String() != name {
			t.Errorf("%q: String() = %q", name, got.String())
		}
	}
	if _, err := ParseFifoType("both"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unknown name: got %v", err)
	}
	if m, err := ParseMovStatusType("irq"); err != nil || m != MovStatusIRQ {
		t.Errorf("irq: got %v, %v", m, err)
	}
}
