package pio

import (
	"context"
	"unsafe"
)

// Buffer is memory moved to or from a FIFO, one element of Stride bytes per
// FIFO word. Multi-byte elements are little-endian unless swapped.
type Buffer struct {
	Data []byte
	// Stride is the element size: 1, 2 or 4. 0 means 1.
	Stride int
}

// Bytes returns b as a buffer of 8-bit elements.
func Bytes(b []byte) Buffer { return Buffer{Data: b, Stride: 1} }

// Halfwords returns h as a buffer of 16-bit elements sharing h's memory.
func Halfwords(h []uint16) Buffer {
	if len(h) == 0 {
		return Buffer{Stride: 2}
	}
	return Buffer{Data: unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(h))), 2*len(h)), Stride: 2}
}

// Words returns w as a buffer of 32-bit elements sharing w's memory.
func Words(w []uint32) Buffer {
	if len(w) == 0 {
		return Buffer{Stride: 4}
	}
	return Buffer{Data: unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(w))), 4*len(w)), Stride: 4}
}

func (b Buffer) stride() int {
	if b.Stride == 0 {
		return 1
	}
	return b.Stride
}

// Len returns the number of elements in b.
func (b Buffer) Len() int { return len(b.Data) / b.stride() }

func (b Buffer) validate() error {
	switch s := b.stride(); s {
	case 1, 2, 4:
		if len(b.Data)%s != 0 {
			return argError("buffer of %d bytes is not a whole number of %d byte elements", len(b.Data), s)
		}
		return nil
	default:
		return argError("buffer elements must be 1, 2 or 4 bytes long, not %d", s)
	}
}

// Options selects the part of a buffer a blocking transfer uses.
type Options struct {
	// Start and End are element indices of the slice buffer[Start:End].
	// Negative values count back from the end of the buffer and out of
	// range values are clamped. An End of 0 means the end of the buffer.
	Start, End int
	// Swap reverses the byte order of 2 and 4 byte elements.
	Swap bool
}

// bounds normalizes Start and End for a buffer of n elements.
func (o Options) bounds(n int) (start, end int) {
	start, end = o.Start, o.End
	if end == 0 || end > n {
		end = n
	} else if end < 0 {
		end = max(end+n, 0)
	}
	if start < 0 {
		start = max(start+n, 0)
	}
	start = min(start, end)
	return start, end
}

// transfer builds the single pass over the selected part of buf, or nil
// when it is empty.
func (sm *StateMachine) transfer(dir Direction, buf Buffer, o Options) (*Transfer, error) {
	if err := buf.validate(); err != nil {
		return nil, err
	}
	stride := buf.stride()
	start, end := o.bounds(buf.Len())
	if start == end {
		return nil, nil
	}
	t := &Transfer{
		Block:  sm.claim.block.id,
		SM:     sm.index,
		Dir:    dir,
		Buf:    buf.Data[start*stride : end*stride],
		Stride: stride,
		Swap:   o.Swap,
	}
	if dir == RX {
		t.Lane = sm.rxLane(stride)
	}
	return t, nil
}

// rxLane returns where an element sits in an RX word. With right shifts
// input data is left aligned, so the upper bits are read.
func (sm *StateMachine) rxLane(stride int) int {
	if sm.cfg.InShiftRight {
		return 4 - stride
	}
	return 0
}

// interrupted reports whether ctx asks a blocking call to end early.
func (sm *StateMachine) interrupted(ctx context.Context) bool {
	return sm.cfg.UserInterruptible && ctx.Err() != nil
}

// Write writes the selected elements of buf to the TX FIFO and blocks until
// they were all taken. With WaitForTxStall it also waits until the state
// machine has shifted out every bit. When ctx is cancelled and the state
// machine is user interruptible, Write returns early without error.
func (sm *StateMachine) Write(ctx context.Context, buf Buffer, o Options) error {
	return sm.WriteReadInto(ctx, buf, Buffer{}, o, Options{})
}

// ReadInto fills the selected elements of buf from the RX FIFO, including
// words that arrived before the call.
func (sm *StateMachine) ReadInto(ctx context.Context, buf Buffer, o Options) error {
	return sm.WriteReadInto(ctx, Buffer{}, buf, Options{}, o)
}

// WriteReadInto writes out while reading into in; the two slices may differ
// in length and element size. It returns once both are done.
func (sm *StateMachine) WriteReadInto(ctx context.Context, out, in Buffer, outOpts, inOpts Options) error {
	if err := sm.alive(); err != nil {
		return err
	}
	tx, err := sm.transfer(TX, out, outOpts)
	if err != nil {
		return err
	}
	rx, err := sm.transfer(RX, in, inOpts)
	if err != nil {
		return err
	}
	if tx == nil && rx == nil {
		return nil
	}
	sm.lk.lock()
	err = sm.claimBlocking(&sm.tx, tx != nil)
	if err == nil {
		err = sm.claimBlocking(&sm.rx, rx != nil)
	}
	sm.lk.unlock()
	if err != nil {
		return err
	}

	waitStall := tx != nil && sm.cfg.WaitForTxStall
	if waitStall {
		sm.hw.ClearFDebug(1 << (fdebugTxStall + sm.index))
	}
	var done bool
	if sm.pool.dma != nil {
		done, err = sm.moveDMA(ctx, tx, rx)
	} else {
		done = sm.moveCPU(ctx, tx, rx)
	}
	if err != nil || !done {
		return err
	}
	if waitStall {
		sm.waitTxStall(ctx)
	}
	return nil
}

// claimBlocking checks that a blocking transfer may use p and hands out any
// failure left by an earlier background transfer. Called with sm.lk held.
func (sm *StateMachine) claimBlocking(p *path, use bool) error {
	if !use {
		return nil
	}
	if p.active {
		return ErrBackgroundActive
	}
	return p.takeErr()
}

// moveCPU feeds and drains the FIFOs by polling, yielding whenever no
// progress can be made. It returns false when interrupted.
func (sm *StateMachine) moveCPU(ctx context.Context, tx, rx *Transfer) bool {
	var txi, rxi, txn, rxn int
	if tx != nil {
		txn = tx.Len()
	}
	if rx != nil {
		rxn = rx.Len()
	}
	for txi < txn || rxi < rxn {
		stall := true
		if txi < txn && !sm.txFull() {
			sm.hw.TxPut(sm.index, tx.Word(txi))
			txi++
			stall = false
		}
		if rxi < rxn && !sm.rxEmpty() {
			rx.Store(rxi, sm.hw.RxGet(sm.index))
			rxi++
			stall = false
		}
		if stall {
			if sm.interrupted(ctx) {
				return false
			}
			// We stalled on this iteration, yield process.
			sm.pool.yield()
		}
	}
	return true
}

// moveDMA runs tx and rx on DMA channels claimed for the call and waits for
// both. The channels are released before it returns. It returns false when
// interrupted, after aborting the channels.
func (sm *StateMachine) moveDMA(ctx context.Context, tx, rx *Transfer) (bool, error) {
	type result struct {
		ch   DMAChannel
		t    *Transfer
		done bool
		err  error
	}
	var results []*result
	defer func() {
		for _, r := range results {
			r.ch.Release()
		}
	}()
	for _, t := range []*Transfer{tx, rx} {
		if t == nil {
			continue
		}
		ch, err := sm.claimChannel()
		if err != nil {
			return false, err
		}
		r := &result{ch: ch, t: t}
		t.Done = func(err error) {
			sm.lk.lock()
			r.done, r.err = true, err
			sm.lk.unlock()
		}
		results = append(results, r)
	}
	for _, r := range results {
		r.ch.Start(r.t)
	}
	for {
		sm.lk.lock()
		finished := true
		var err error
		for _, r := range results {
			finished = finished && r.done
			if r.err != nil && err == nil {
				err = r.err
			}
		}
		sm.lk.unlock()
		if err != nil {
			for _, r := range results {
				if !r.done {
					r.ch.Abort()
				}
			}
			sm.log.Warn("pio: blocking transfer failed", "err", err)
			return false, wrapf(ErrTransferFailed, "%v", err)
		}
		if finished {
			return true, nil
		}
		if sm.interrupted(ctx) {
			for _, r := range results {
				r.ch.Abort()
			}
			return false, nil
		}
		sm.pool.yield()
	}
}

// waitTxStall waits until the TX FIFO is empty and the state machine stalled
// pulling from it, so the last word has left the output shift register.
func (sm *StateMachine) waitTxStall(ctx context.Context) {
	stall := uint32(1) << (fdebugTxStall + sm.index)
	for !sm.txEmpty() || sm.hw.FDebug()&stall == 0 {
		if sm.interrupted(ctx) {
			return
		}
		sm.pool.yield()
	}
}

// claimChannel claims a DMA channel from the pool's controller.
func (sm *StateMachine) claimChannel() (DMAChannel, error) {
	if sm.pool.dma == nil {
		return nil, unsupported("no DMA controller")
	}
	ch, err := sm.pool.dma.Claim()
	if err != nil {
		return nil, wrapf(ErrNoDMAChannel, "%v", err)
	}
	return ch, nil
}
