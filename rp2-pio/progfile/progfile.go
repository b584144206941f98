// Package progfile reads and writes assembled PIO programs together with
// the settings the assembler derived from their directives.
package progfile

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	pio "github.com/tinygo-org/pioengine/rp2-pio"
	"periph.io/x/conn/v3/physic"
)

// Bundle is an assembled program. Pins are not part of a bundle; they are
// chosen when the program is started.
type Bundle struct {
	Name    string   `cbor:"name,omitempty"`
	Program []uint16 `cbor:"program"`
	Init    []uint16 `cbor:"init,omitempty"`
	MayExec []uint16 `cbor:"may_exec,omitempty"`

	WrapTarget int `cbor:"wrap_target"`
	// Wrap is -1 to wrap after the last instruction.
	Wrap int `cbor:"wrap"`
	// Origin is the offset the program must be loaded at, or -1.
	Origin int `cbor:"origin"`

	SidesetPinCount int  `cbor:"sideset_pin_count,omitempty"`
	SidesetEnable   bool `cbor:"sideset_enable,omitempty"`
	SidesetPindirs  bool `cbor:"sideset_pindirs,omitempty"`
	OutPinCount     int  `cbor:"out_pin_count,omitempty"`
	InPinCount      int  `cbor:"in_pin_count,omitempty"`
	SetPinCount     int  `cbor:"set_pin_count,omitempty"`

	FifoType      string `cbor:"fifo_type,omitempty"`
	MovStatusType string `cbor:"mov_status_type,omitempty"`
	MovStatusN    int    `cbor:"mov_status_n,omitempty"`
	PIOVersion    int    `cbor:"pio_version,omitempty"`
	// FrequencyHz is the suggested state machine clock, 0 for full speed.
	FrequencyHz int64 `cbor:"frequency,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	encMode, decMode = em, dm
}

// Encode returns the deterministic encoding of b.
func Encode(b Bundle) ([]byte, error) {
	data, err := encMode.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("progfile: failed to encode %q: %w", b.Name, err)
	}
	return data, nil
}

// Decode parses an encoded bundle. Absent fields keep their defaults.
func Decode(data []byte) (Bundle, error) {
	b := Bundle{Wrap: -1, Origin: -1}
	if err := decMode.Unmarshal(data, &b); err != nil {
		return Bundle{}, fmt.Errorf("progfile: failed to decode bundle: %w", err)
	}
	if len(b.Program) == 0 {
		return Bundle{}, fmt.Errorf("progfile: bundle %q has no program", b.Name)
	}
	return b, nil
}

// Read decodes a bundle from r.
func Read(r io.Reader) (Bundle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Bundle{}, err
	}
	return Decode(data)
}

// Write encodes b to w.
func Write(w io.Writer, b Bundle) error {
	data, err := Encode(b)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Config returns pio.DefaultConfig with the bundle's program and settings.
func (b Bundle) Config() (pio.Config, error) {
	cfg := pio.DefaultConfig()
	cfg.Program = pio.ProgramBytes(b.Program...)
	if len(b.Init) > 0 {
		cfg.Init = pio.ProgramBytes(b.Init...)
	}
	if len(b.MayExec) > 0 {
		cfg.MayExec = pio.ProgramBytes(b.MayExec...)
	}
	cfg.WrapTarget = b.WrapTarget
	cfg.Wrap = b.Wrap
	cfg.Offset = b.Origin
	setCount(&cfg.SidesetPinCount, b.SidesetPinCount)
	setCount(&cfg.OutPinCount, b.OutPinCount)
	setCount(&cfg.InPinCount, b.InPinCount)
	setCount(&cfg.SetPinCount, b.SetPinCount)
	cfg.SidesetEnable = b.SidesetEnable
	cfg.SidesetPindirs = b.SidesetPindirs
	if b.FifoType != "" {
		ft, err := pio.ParseFifoType(b.FifoType)
		if err != nil {
			return pio.Config{}, err
		}
		cfg.FifoType = ft
	}
	if b.MovStatusType != "" {
		mt, err := pio.ParseMovStatusType(b.MovStatusType)
		if err != nil {
			return pio.Config{}, err
		}
		cfg.MovStatusType = mt
	}
	cfg.MovStatusN = b.MovStatusN
	cfg.PIOVersion = b.PIOVersion
	if b.FrequencyHz < 0 {
		return pio.Config{}, fmt.Errorf("%w: frequency %d", pio.ErrInvalidArgument, b.FrequencyHz)
	}
	cfg.Frequency = physic.Frequency(b.FrequencyHz) * physic.Hertz
	return cfg, nil
}

func setCount(dst *int, n int) {
	if n != 0 {
		*dst = n
	}
}

// FromConfig returns the bundle describing cfg's program and settings.
func FromConfig(name string, cfg pio.Config) Bundle {
	return Bundle{
		Name:            name,
		Program:         words(cfg.Program),
		Init:            words(cfg.Init),
		MayExec:         words(cfg.MayExec),
		WrapTarget:      cfg.WrapTarget,
		Wrap:            cfg.Wrap,
		Origin:          cfg.Offset,
		SidesetPinCount: cfg.SidesetPinCount,
		SidesetEnable:   cfg.SidesetEnable,
		SidesetPindirs:  cfg.SidesetPindirs,
		OutPinCount:     cfg.OutPinCount,
		InPinCount:      cfg.InPinCount,
		SetPinCount:     cfg.SetPinCount,
		FifoType:        cfg.FifoType.String(),
		MovStatusType:   cfg.MovStatusType.String(),
		MovStatusN:      cfg.MovStatusN,
		PIOVersion:      cfg.PIOVersion,
		FrequencyHz:     int64(cfg.Frequency / physic.Hertz),
	}
}

func words(b []byte) []uint16 {
	if len(b) == 0 {
		return nil
	}
	w := make([]uint16, len(b)/2)
	for i := range w {
		w[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return w
}
