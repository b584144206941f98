package pio

import (
	"context"
)

// Buffers is the descriptor set of a background transfer. Once is moved
// exactly one time, then Loop and Loop2 alternate until replaced. A nil
// Data field leaves the slot empty.
type Buffers struct {
	Once, Loop, Loop2 Buffer
	// Swap reverses the byte order of 2 and 4 byte elements.
	Swap bool
}

// path is the background state of one direction. ch is claimed while a
// background transfer runs and released once the path is idle.
type path struct {
	dir Direction
	ch  DMAChannel

	// Queued descriptors.
	once, loop, loop2 []byte
	stride            int
	swap              bool
	loopNext          int
	loopStarted       bool
	// pending counts queued buffers that have not started yet.
	pending int

	// active is set while a pass runs on ch. gen invalidates callbacks of
	// aborted passes.
	active bool
	gen    uint32

	last       []byte
	lastStride int
	hasLast    bool
	err        error
}

// pick returns the next buffer to run and advances the descriptor state.
func (p *path) pick() []byte {
	if p.once != nil {
		b := p.once
		p.once = nil
		p.pending--
		return b
	}
	b := p.loop
	if b == nil || (p.loopNext == 1 && p.loop2 != nil) {
		b = p.loop2
	}
	if b == nil {
		return nil
	}
	if p.loop != nil && p.loop2 != nil {
		p.loopNext ^= 1
	}
	if !p.loopStarted {
		p.loopStarted = true
		p.pending--
	}
	return b
}

func (p *path) clear() {
	p.once, p.loop, p.loop2 = nil, nil, nil
	p.pending = 0
	p.loopNext = 0
	p.loopStarted = false
}

func (p *path) takeErr() error {
	err := p.err
	p.err = nil
	if err != nil {
		return wrapf(ErrTransferFailed, "background %s: %v", p.dir, err)
	}
	return nil
}

// BackgroundWrite queues bufs for writing to the TX FIFO by DMA and returns
// while the transfer continues. If buffers from an earlier call have not
// started yet it first waits for them, so every queued buffer is written at
// least once. An empty bufs lets the running loop finish its current pass
// and then stop.
func (sm *StateMachine) BackgroundWrite(ctx context.Context, bufs Buffers) error {
	return sm.background(ctx, &sm.tx, bufs)
}

// BackgroundRead queues bufs for filling from the RX FIFO by DMA. See
// BackgroundWrite.
func (sm *StateMachine) BackgroundRead(ctx context.Context, bufs Buffers) error {
	return sm.background(ctx, &sm.rx, bufs)
}

func (sm *StateMachine) background(ctx context.Context, p *path, bufs Buffers) error {
	if err := sm.alive(); err != nil {
		return err
	}
	stride := 0
	for _, b := range []Buffer{bufs.Once, bufs.Loop, bufs.Loop2} {
		if len(b.Data) == 0 {
			continue
		}
		if err := b.validate(); err != nil {
			return err
		}
		if stride != 0 && b.stride() != stride {
			return wrapf(ErrMismatchedBufferStride, "%d and %d byte elements", stride, b.stride())
		}
		stride = b.stride()
	}
	if sm.pool.dma == nil {
		return unsupported("no DMA controller")
	}

	// Wait for earlier buffers to start.
	for {
		sm.lk.lock()
		pending := p.pending
		err := p.takeErr()
		sm.lk.unlock()
		if err != nil {
			return err
		}
		if pending == 0 {
			break
		}
		if sm.interrupted(ctx) {
			return nil
		}
		sm.pool.yield()
	}

	sm.lk.lock()
	defer sm.lk.unlock()
	if stride != 0 && !p.active && p.ch == nil {
		ch, err := sm.claimChannel()
		if err != nil {
			return err
		}
		p.ch = ch
	}
	p.clear()
	p.once, p.loop, p.loop2 = nonEmpty(bufs.Once), nonEmpty(bufs.Loop), nonEmpty(bufs.Loop2)
	if p.once != nil {
		p.pending++
	}
	if p.loop != nil || p.loop2 != nil {
		p.pending++
	}
	if stride != 0 {
		p.stride = stride
		p.swap = bufs.Swap
	}
	if p.pending == 0 {
		sm.log.Debug("pio: background stopping after current pass", "dir", p.dir)
		return nil
	}
	if !p.active {
		sm.startPass(p, p.pick())
	}
	return nil
}

func nonEmpty(b Buffer) []byte {
	if len(b.Data) == 0 {
		return nil
	}
	return b.Data
}

// startPass starts one DMA pass over buf. Called with sm.lk held.
func (sm *StateMachine) startPass(p *path, buf []byte) {
	p.active = true
	gen := p.gen
	t := &Transfer{
		Block:  sm.claim.block.id,
		SM:     sm.index,
		Dir:    p.dir,
		Buf:    buf,
		Stride: p.stride,
		Swap:   p.swap,
	}
	if p.dir == RX {
		t.Lane = sm.rxLane(p.stride)
	}
	stride := p.stride
	t.Done = func(err error) { sm.passDone(p, gen, buf, stride, err) }
	p.ch.Start(t)
}

// passDone is the DMA completion callback of a background pass.
func (sm *StateMachine) passDone(p *path, gen uint32, buf []byte, stride int, err error) {
	sm.lk.lock()
	defer sm.lk.unlock()
	if gen != p.gen || !p.active {
		return
	}
	if err != nil {
		p.err = err
		p.idle()
		sm.log.Warn("pio: background transfer failed", "dir", p.dir, "err", err)
		return
	}
	p.last, p.lastStride, p.hasLast = buf, stride, true
	next := p.pick()
	if next == nil {
		p.idle()
		sm.log.Debug("pio: background idle", "dir", p.dir)
		return
	}
	sm.startPass(p, next)
}

// StopBackgroundWrite aborts the background write immediately. Words already
// in the TX FIFO are left to drain.
func (sm *StateMachine) StopBackgroundWrite() error {
	if err := sm.alive(); err != nil {
		return err
	}
	sm.stopBackground(&sm.tx)
	return nil
}

// StopBackgroundRead aborts the background read immediately.
func (sm *StateMachine) StopBackgroundRead() error {
	if err := sm.alive(); err != nil {
		return err
	}
	sm.stopBackground(&sm.rx)
	return nil
}

func (sm *StateMachine) stopBackground(p *path) {
	sm.lk.lock()
	defer sm.lk.unlock()
	if p.active {
		p.ch.Abort()
		sm.log.Debug("pio: background aborted", "dir", p.dir)
	}
	p.gen++
	p.idle()
}

// idle clears the descriptors and returns the channel. Called with sm.lk
// held.
func (p *path) idle() {
	p.active = false
	p.clear()
	if p.ch != nil {
		p.ch.Release()
		p.ch = nil
	}
}

// Writing reports whether a background write is running.
func (sm *StateMachine) Writing() (bool, error) { return sm.activeOn(&sm.tx) }

// Reading reports whether a background read is running.
func (sm *StateMachine) Reading() (bool, error) { return sm.activeOn(&sm.rx) }

func (sm *StateMachine) activeOn(p *path) (bool, error) {
	if err := sm.alive(); err != nil {
		return false, err
	}
	sm.lk.lock()
	defer sm.lk.unlock()
	return p.active, nil
}

// PendingWrite returns the number of queued background write buffers that
// have not started. BackgroundWrite does not block when it is 0.
func (sm *StateMachine) PendingWrite() (int, error) { return sm.pendingOn(&sm.tx) }

// PendingRead is PendingWrite for background reads.
func (sm *StateMachine) PendingRead() (int, error) { return sm.pendingOn(&sm.rx) }

// Pending is an alias of PendingWrite.
func (sm *StateMachine) Pending() (int, error) { return sm.PendingWrite() }

func (sm *StateMachine) pendingOn(p *path) (int, error) {
	if err := sm.alive(); err != nil {
		return 0, err
	}
	sm.lk.lock()
	defer sm.lk.unlock()
	return p.pending, nil
}

// TakeLastWrite returns the buffer most recently emptied by background
// writes and clears it, so a second call before another pass completes
// returns an empty Buffer.
func (sm *StateMachine) TakeLastWrite() (Buffer, error) { return sm.takeLast(&sm.tx) }

// TakeLastRead returns the buffer most recently filled by background reads
// and clears it. See TakeLastWrite.
func (sm *StateMachine) TakeLastRead() (Buffer, error) { return sm.takeLast(&sm.rx) }

func (sm *StateMachine) takeLast(p *path) (Buffer, error) {
	if err := sm.alive(); err != nil {
		return Buffer{}, err
	}
	sm.lk.lock()
	defer sm.lk.unlock()
	if !p.hasLast {
		return Buffer{Stride: p.stride}, nil
	}
	b := Buffer{Data: p.last, Stride: p.lastStride}
	p.last, p.hasLast = nil, false
	return b, nil
}
