package pio

import (
	"encoding/binary"
	"io"
)

// rxFIFODepth is the number of RX FIFO storage registers per state machine.
const rxFIFODepth = 4

// RxFIFO exposes the RX FIFO storage registers of a state machine whose RX
// FIFO is joined as put or get registers. Each entry is a 32-bit word; the
// io.ReaderAt and io.WriterAt views address the same 16 bytes little-endian.
type RxFIFO struct {
	sm *StateMachine
}

var (
	_ io.ReaderAt = (*RxFIFO)(nil)
	_ io.WriterAt = (*RxFIFO)(nil)
)

// RxFIFO returns the register view of the RX FIFO, or nil unless the state
// machine runs with FifoTxPut or FifoTxGet.
func (sm *StateMachine) RxFIFO() *RxFIFO {
	if sm.state == StateDeinited {
		return nil
	}
	switch sm.regs.Join() {
	case FifoTxPut, FifoTxGet:
		return &RxFIFO{sm: sm}
	}
	return nil
}

// Len returns the number of entries.
func (f *RxFIFO) Len() int { return rxFIFODepth }

// Get returns entry i.
func (f *RxFIFO) Get(i int) (uint32, error) {
	if err := f.check(i); err != nil {
		return 0, err
	}
	return f.sm.hw.RxFIFOAt(f.sm.index, i), nil
}

// Set writes entry i.
func (f *RxFIFO) Set(i int, v uint32) error {
	if err := f.check(i); err != nil {
		return err
	}
	f.sm.hw.SetRxFIFOAt(f.sm.index, i, v)
	return nil
}

func (f *RxFIFO) check(i int) error {
	if err := f.sm.alive(); err != nil {
		return err
	}
	if i < 0 || i >= rxFIFODepth {
		return argError("rx fifo index %d not in [0,%d]", i, rxFIFODepth-1)
	}
	return nil
}

// ReadAt copies register bytes starting at off into p.
func (f *RxFIFO) ReadAt(p []byte, off int64) (int, error) {
	if err := f.sm.alive(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, argError("offset %d", off)
	}
	var all [4 * rxFIFODepth]byte
	for i := 0; i < rxFIFODepth; i++ {
		binary.LittleEndian.PutUint32(all[4*i:], f.sm.hw.RxFIFOAt(f.sm.index, i))
	}
	if off >= int64(len(all)) {
		return 0, io.EOF
	}
	n := copy(p, all[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt stores p into the registers starting at byte off. Partially
// covered registers keep their other bytes.
func (f *RxFIFO) WriteAt(p []byte, off int64) (int, error) {
	if err := f.sm.alive(); err != nil {
		return 0, err
	}
	if off < 0 || off+int64(len(p)) > 4*rxFIFODepth {
		return 0, argError("%d bytes at offset %d exceed the rx fifo", len(p), off)
	}
	first, last := int(off)/4, (int(off)+len(p)+3)/4
	for i := first; i < last; i++ {
		var w [4]byte
		binary.LittleEndian.PutUint32(w[:], f.sm.hw.RxFIFOAt(f.sm.index, i))
		lo := max(int(off), 4*i)
		hi := min(int(off)+len(p), 4*i+4)
		copy(w[lo-4*i:hi-4*i], p[lo-int(off):hi-int(off)])
		f.sm.hw.SetRxFIFOAt(f.sm.index, i, binary.LittleEndian.Uint32(w[:]))
	}
	return len(p), nil
}
