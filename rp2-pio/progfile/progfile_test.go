package progfile

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
	pio "github.com/tinygo-org/pioengine/rp2-pio"
	"periph.io/x/conn/v3/physic"
)

func TestConfigFromBundle(t *testing.T) {
	b := Bundle{
		Name:            "spi",
		Program:         []uint16{0x6101, 0x5101},
		Init:            []uint16{0xe081},
		WrapTarget:      0,
		Wrap:            -1,
		Origin:          4,
		SidesetPinCount: 1,
		FifoType:        "txget",
		MovStatusType:   "rxfifo",
		MovStatusN:      2,
		PIOVersion:      1,
		FrequencyHz:     4_000_000,
	}
	data, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	again, err := Encode(b)
	if err != nil || !bytes.Equal(data, again) {
		t.Errorf("encoding is not deterministic")
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := got.Config()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(cfg.Program, []byte{0x01, 0x61, 0x01, 0x51}) {
		t.Errorf("program % x", cfg.Program)
	}
	if !bytes.Equal(cfg.Init, []byte{0x81, 0xe0}) || cfg.MayExec != nil {
		t.Errorf("init % x, may_exec % x", cfg.Init, cfg.MayExec)
	}
	if cfg.Offset != 4 || cfg.Wrap != -1 || cfg.SidesetPinCount != 1 {
		t.Errorf("offset %d wrap %d sideset %d", cfg.Offset, cfg.Wrap, cfg.SidesetPinCount)
	}
	if cfg.FifoType != pio.FifoTxGet || cfg.MovStatusType != pio.MovStatusRxFIFO || cfg.MovStatusN != 2 {
		t.Errorf("fifo %s, mov status %s %d", cfg.FifoType, cfg.MovStatusType, cfg.MovStatusN)
	}
	if cfg.PIOVersion != 1 || cfg.Frequency != 4*physic.MegaHertz {
		t.Errorf("version %d, frequency %s", cfg.PIOVersion, cfg.Frequency)
	}
	// Fields left unset keep the defaults.
	if cfg.OutPinCount != 1 || cfg.PullThreshold != 32 || !cfg.WaitForTxStall {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestDecodeDefaults(t *testing.T) {
	data, err := cbor.Marshal(map[string]any{"program": []uint16{0xa042}})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if b.Wrap != -1 || b.Origin != -1 {
		t.Errorf("wrap %d, origin %d; want -1 when absent", b.Wrap, b.Origin)
	}
	cfg, err := b.Config()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Offset != pio.AnyOffset || cfg.FifoType != pio.FifoAuto {
		t.Errorf("offset %d, fifo %s", cfg.Offset, cfg.FifoType)
	}
}

func TestDecodeErrors(t *testing.T) {
	empty, _ := cbor.Marshal(map[string]any{"name": "x"})
	unknown, _ := cbor.Marshal(map[string]any{"program": []uint16{1}, "pins": 3})
	for name, data := range map[string][]byte{
		"no program":    empty,
		"unknown field": unknown,
		"garbage":       {0xff, 0x00},
	} {
		if _, err := Decode(data); err == nil {
			t.Errorf("%s: decoded", name)
		}
	}

	b := Bundle{Program: []uint16{1}, FifoType: "both"}
	if _, err := b.Config(); !errors.Is(err, pio.ErrInvalidArgument) {
		t.Errorf("bad fifo type: got %v", err)
	}
	b = Bundle{Program: []uint16{1}, FrequencyHz: -1}
	if _, err := b.Config(); !errors.Is(err, pio.ErrInvalidArgument) {
		t.Errorf("negative frequency: got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := pio.DefaultConfig()
	cfg.Program = pio.ProgramBytes(0x6101, 0x5101)
	cfg.FifoType = pio.FifoTx
	cfg.Frequency = 8 * physic.MegaHertz
	var buf bytes.Buffer
	if err := Write(&buf, FromConfig("ws", cfg)); err != nil {
		t.Fatal(err)
	}
	b, err := Read(&buf)
	if err != nil {
		t.Fatal(err)
	}
	got, err := b.Config()
	if err != nil {
		t.Fatal(err)
	}
	if b.Name != "ws" || !bytes.Equal(got.Program, cfg.Program) || got.FifoType != pio.FifoTx || got.Frequency != cfg.Frequency {
		t.Errorf("got %+v", b)
	}
	if got.Offset != pio.AnyOffset || got.Wrap != -1 {
		t.Errorf("offset %d, wrap %d", got.Offset, got.Wrap)
	}
}
