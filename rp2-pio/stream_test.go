package pio_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	pio "github.com/tinygo-org/pioengine/rp2-pio"
	"github.com/tinygo-org/pioengine/rp2-pio/piosim"
)

// dmaModes runs a test with and without a DMA controller.
var dmaModes = []struct {
	name string
	cfg  piosim.Config
}{
	{"dma", piosim.Config{}},
	{"cpu", piosim.Config{DMAChannels: -1}},
}

func TestWriteReadInto(t *testing.T) {
	for _, mode := range dmaModes {
		sim, pool := newPool(t, mode.cfg)
		sm := newSM(t, pool, echoProgram(), nil)
		attach(t, sim, sm, piosim.Loopback{})

		out := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
		in := make([]byte, len(out))
		err := sm.WriteReadInto(context.Background(), pio.Bytes(out), pio.Bytes(in), pio.Options{}, pio.Options{})
		if err != nil {
			t.Fatalf("%s: %v", mode.name, err)
		}
		if !bytes.Equal(in, out) {
			t.Errorf("%s: read % x, want % x", mode.name, in, out)
		}
		if stall, _ := sm.TxStall(); !stall {
			t.Errorf("%s: no TX stall after waiting for it", mode.name)
		}
	}
}

func TestWriteReadIntoSliceAndSwap(t *testing.T) {
	for _, mode := range dmaModes {
		sim, pool := newPool(t, mode.cfg)
		sm := newSM(t, pool, echoProgram(), nil)
		attach(t, sim, sm, piosim.Loopback{})

		out := []uint16{0x1234, 0xabcd, 0x5678, 0x9999}
		in := make([]uint16, 4)
		err := sm.WriteReadInto(context.Background(),
			pio.Halfwords(out), pio.Halfwords(in),
			pio.Options{Start: 1, End: -1, Swap: true}, pio.Options{End: 2})
		if err != nil {
			t.Fatalf("%s: %v", mode.name, err)
		}
		want := []uint16{0xcdab, 0x7856, 0, 0}
		for i := range want {
			if in[i] != want[i] {
				t.Errorf("%s: in[%d] = %#04x, want %#04x", mode.name, i, in[i], want[i])
			}
		}
	}
}

func TestMixedStrides(t *testing.T) {
	sim, pool := newPool(t, piosim.Config{})
	sm := newSM(t, pool, echoProgram(), func(c *pio.Config) { c.InShiftRight = false })
	attach(t, sim, sm, piosim.Loopback{})
	in := make([]uint32, 2)
	err := sm.WriteReadInto(context.Background(),
		pio.Bytes([]byte{0x5a, 0xa5}), pio.Words(in), pio.Options{}, pio.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if in[0] != 0x5a5a5a5a || in[1] != 0xa5a5a5a5 {
		t.Errorf("got %#x", in)
	}
}

func TestReadInto(t *testing.T) {
	for _, mode := range dmaModes {
		sim, pool := newPool(t, mode.cfg)
		sm := newSM(t, pool, echoProgram(), func(c *pio.Config) { c.InShiftRight = false })
		attach(t, sim, sm, &piosim.Counter{Next: 100})

		sim.Run(2)
		if n, _ := sm.InWaiting(); n != 2 {
			t.Errorf("%s: in_waiting %d, want 2", mode.name, n)
		}
		in := make([]uint32, 6)
		if err := sm.ReadInto(context.Background(), pio.Words(in), pio.Options{}); err != nil {
			t.Fatalf("%s: %v", mode.name, err)
		}
		for i, v := range in {
			if v != uint32(100+i) {
				t.Errorf("%s: in[%d] = %d, want %d; words already in the FIFO come first", mode.name, i, v, 100+i)
			}
		}
	}
}

func TestRxStall(t *testing.T) {
	sim, pool := newPool(t, piosim.Config{})
	sm := newSM(t, pool, echoProgram(), nil)
	attach(t, sim, sm, &piosim.Counter{})
	sim.Run(10)
	if n, _ := sm.InWaiting(); n != 4 {
		t.Errorf("in_waiting %d, want a full FIFO", n)
	}
	if stall, _ := sm.RxStall(); !stall {
		t.Error("no RX stall on a full FIFO")
	}
	if err := sm.ClearRxFIFO(); err != nil {
		t.Fatal(err)
	}
	if stall, _ := sm.RxStall(); stall {
		t.Error("RX stall not cleared")
	}
	if n, _ := sm.InWaiting(); n != 0 {
		t.Errorf("in_waiting %d after clear", n)
	}
}

func TestWriteWaitsForTxStall(t *testing.T) {
	for _, mode := range dmaModes {
		sim, pool := newPool(t, mode.cfg)
		sm := newSM(t, pool, outProgram(), nil)
		rec := &piosim.Recorder{}
		attach(t, sim, sm, rec)

		if err := sm.Write(context.Background(), pio.Bytes([]byte{1, 2, 3}), pio.Options{}); err != nil {
			t.Fatalf("%s: %v", mode.name, err)
		}
		if len(rec.Words) != 3 {
			t.Errorf("%s: %d words shifted out when Write returned", mode.name, len(rec.Words))
		}
		if n, _ := sm.TxLevel(); n != 0 {
			t.Errorf("%s: tx level %d", mode.name, n)
		}
		if err := sm.ClearTxStall(); err != nil {
			t.Fatal(err)
		}
		if stall, _ := sm.TxStall(); stall {
			t.Errorf("%s: TX stall not cleared", mode.name)
		}
	}
}

func TestInterrupt(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	tests := []struct {
		name    string
		dmaOnly bool
		run     func(t *testing.T, sim *piosim.Sim, pool *pio.Pool)
	}{
		{"blocking", false, func(t *testing.T, sim *piosim.Sim, pool *pio.Pool) {
			sm := newSM(t, pool, outProgram(), nil)
			rec := &piosim.Recorder{}
			attach(t, sim, sm, rec)
			if err := sm.Stop(); err != nil {
				t.Fatal(err)
			}
			if err := sm.Write(cancelled, pio.Bytes(make([]byte, 64)), pio.Options{}); err != nil {
				t.Errorf("interrupted write returned %v", err)
			}
			if err := sm.ReadInto(cancelled, pio.Bytes(make([]byte, 4)), pio.Options{}); err != nil {
				t.Errorf("interrupted read returned %v", err)
			}
			if d := sim.DMA(); d != nil && d.InUse() != 0 {
				t.Errorf("%d DMA channels held after interruption", d.InUse())
			}
			// A retry runs to completion.
			if err := sm.Restart(); err != nil {
				t.Fatal(err)
			}
			if err := sm.Write(context.Background(), pio.Bytes([]byte{7, 8, 9}), pio.Options{}); err != nil {
				t.Fatalf("retry: %v", err)
			}
			got := lowBytes(rec.Words)
			if len(got) < 3 || !bytes.Equal(got[len(got)-3:], []byte{7, 8, 9}) {
				t.Errorf("retry wrote % x", got)
			}
		}},
		{"uninterruptible", false, func(t *testing.T, sim *piosim.Sim, pool *pio.Pool) {
			sm := newSM(t, pool, outProgram(), func(c *pio.Config) { c.UserInterruptible = false })
			rec := &piosim.Recorder{}
			attach(t, sim, sm, rec)
			if err := sm.Write(cancelled, pio.Bytes([]byte{1, 2, 3}), pio.Options{}); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(lowBytes(rec.Words), []byte{1, 2, 3}) {
				t.Errorf("wrote % x, want the whole buffer", lowBytes(rec.Words))
			}
		}},
		{"background write wait", true, func(t *testing.T, sim *piosim.Sim, pool *pio.Pool) {
			sm := newSM(t, pool, outProgram(), nil)
			rec := &piosim.Recorder{}
			attach(t, sim, sm, rec)
			err := sm.BackgroundWrite(context.Background(), pio.Buffers{
				Once: pio.Bytes([]byte{1}),
				Loop: pio.Bytes([]byte{2}),
			})
			if err != nil {
				t.Fatal(err)
			}
			if err := sm.BackgroundWrite(cancelled, pio.Buffers{Loop: pio.Bytes([]byte{3})}); err != nil {
				t.Errorf("interrupted wait returned %v", err)
			}
			if n, err := sm.PendingWrite(); err != nil || n != 1 {
				t.Errorf("pending %d, %v; want the earlier loop buffer", n, err)
			}
			sim.Run(20)
			got := lowBytes(rec.Words)
			if len(got) < 3 || got[0] != 1 {
				t.Fatalf("wrote % x", got)
			}
			for _, b := range got[1:] {
				if b != 2 {
					t.Fatalf("replacement installed by an interrupted call: % x", got)
				}
			}
		}},
		{"background read wait", true, func(t *testing.T, sim *piosim.Sim, pool *pio.Pool) {
			sm := newSM(t, pool, echoProgram(), nil)
			attach(t, sim, sm, &piosim.Counter{Next: 1})
			first, loop, other := make([]uint32, 2), make([]uint32, 2), make([]uint32, 2)
			err := sm.BackgroundRead(context.Background(), pio.Buffers{
				Once: pio.Words(first),
				Loop: pio.Words(loop),
			})
			if err != nil {
				t.Fatal(err)
			}
			if err := sm.BackgroundRead(cancelled, pio.Buffers{Loop: pio.Words(other)}); err != nil {
				t.Errorf("interrupted wait returned %v", err)
			}
			if n, err := sm.PendingRead(); err != nil || n != 1 {
				t.Errorf("pending %d, %v; want the earlier loop buffer", n, err)
			}
			sim.Run(40)
			if loop[0] == 0 || other[0] != 0 {
				t.Errorf("loop %v, replacement %v", loop, other)
			}
		}},
	}
	for _, tc := range tests {
		for _, mode := range dmaModes {
			if tc.dmaOnly && mode.cfg.DMAChannels < 0 {
				continue
			}
			t.Run(tc.name+"/"+mode.name, func(t *testing.T) {
				sim, pool := newPool(t, mode.cfg)
				tc.run(t, sim, pool)
			})
		}
	}
}

func TestBlockingTransfersReturnChannels(t *testing.T) {
	sim, pool := newPool(t, piosim.Config{})
	ctx := context.Background()
	var sms []*pio.StateMachine
	for i := 0; i < 8; i++ {
		sm := newSM(t, pool, echoProgram(), nil)
		attach(t, sim, sm, piosim.Loopback{})
		sms = append(sms, sm)
	}
	for i, sm := range sms {
		in := make([]byte, 1)
		if err := sm.WriteReadInto(ctx, pio.Bytes([]byte{byte(i)}), pio.Bytes(in), pio.Options{}, pio.Options{}); err != nil {
			t.Fatalf("sm %d: %v", i, err)
		}
		if in[0] != byte(i) {
			t.Errorf("sm %d read %d", i, in[0])
		}
		if n := sim.DMA().InUse(); n != 0 {
			t.Errorf("sm %d: %d DMA channels held while idle", i, n)
		}
	}

	var held []pio.DMAChannel
	for {
		ch, err := sim.DMA().Claim()
		if err != nil {
			break
		}
		held = append(held, ch)
	}
	err := sms[0].Write(ctx, pio.Bytes([]byte{1}), pio.Options{})
	if !errors.Is(err, pio.ErrNoDMAChannel) || !errors.Is(err, pio.ErrResourceInUse) {
		t.Errorf("write without a free channel: got %v", err)
	}
	loop := pio.Buffers{Loop: pio.Bytes([]byte{1})}
	if err := sms[1].BackgroundWrite(ctx, loop); !errors.Is(err, pio.ErrNoDMAChannel) {
		t.Errorf("background write without a free channel: got %v", err)
	}
	held[0].Release()
	if err := sms[1].BackgroundWrite(ctx, loop); err != nil {
		t.Fatal(err)
	}
	if n := sim.DMA().InUse(); n != len(held) {
		t.Errorf("%d channels in use, want %d", n, len(held))
	}
	if err := sms[1].StopBackgroundWrite(); err != nil {
		t.Fatal(err)
	}
	if n := sim.DMA().InUse(); n != len(held)-1 {
		t.Errorf("%d channels in use after stop, want %d", n, len(held)-1)
	}
}

func TestTransferFailed(t *testing.T) {
	sim, pool := newPool(t, piosim.Config{})
	sm := newSM(t, pool, outProgram(), nil)
	sim.DMA().FailNext(errors.New("bus error"))
	err := sm.Write(context.Background(), pio.Bytes([]byte{1, 2}), pio.Options{})
	if !errors.Is(err, pio.ErrTransferFailed) {
		t.Errorf("got %v, want ErrTransferFailed", err)
	}
	if err := sm.Write(context.Background(), pio.Bytes([]byte{1, 2}), pio.Options{}); err != nil {
		t.Errorf("write after failure: %v", err)
	}
}

func TestBadBuffers(t *testing.T) {
	_, pool := newPool(t, piosim.Config{})
	sm := newSM(t, pool, outProgram(), nil)
	bad := pio.Buffer{Data: make([]byte, 3), Stride: 2}
	if err := sm.Write(context.Background(), bad, pio.Options{}); !errors.Is(err, pio.ErrInvalidArgument) {
		t.Errorf("odd halfword buffer: got %v", err)
	}
	if err := sm.Write(context.Background(), pio.Bytes(nil), pio.Options{}); err != nil {
		t.Errorf("empty write: %v", err)
	}
}

// words decodes the little-endian 32-bit elements of b.
func words(b pio.Buffer) []uint32 {
	w := make([]uint32, len(b.Data)/4)
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(b.Data[4*i:])
	}
	return w
}
