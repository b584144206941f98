//go:build rp2040 || rp2350

package pio

import (
	"device/rp"
	"errors"
	"math/bits"
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"
)

// DMAController hands out the chip's DMA channels. Channel completion is
// signalled on DMA_IRQ_0.
var DMAController = &dmaController{}

var (
	errDMAUnavail = errors.New("pio: no DMA channel available")
	errDMABus     = errors.New("pio: DMA bus error")
)

// Single DMA channel. See rp.DMA_Type.
type dmaChannelHW struct {
	READ_ADDR   volatile.Register32
	WRITE_ADDR  volatile.Register32
	TRANS_COUNT volatile.Register32
	CTRL_TRIG   volatile.Register32
	_           [12]volatile.Register32 // aliases
}

// DMA channels usable on the chip.
var dmaChannels = unsafe.Slice((*dmaChannelHW)(unsafe.Pointer(rp.DMA)), numDMAChannels)

type dmaController struct {
	reserved uint32
	started  bool
	intr     interrupt.Interrupt
	chans    [numDMAChannels]*dmaChannel
}

func (c *dmaController) Claim() (DMAChannel, error) {
	state := interrupt.Disable()
	defer interrupt.Restore(state)
	free := ^c.reserved & (1<<numDMAChannels - 1)
	if free == 0 {
		return nil, errDMAUnavail
	}
	// Hand out channels from the top to stay clear of statically
	// assigned low channels.
	n := uint8(31 - bits.LeadingZeros32(free))
	c.reserved |= 1 << n
	ch := &dmaChannel{ctl: c, hw: &dmaChannels[n], channel: n}
	c.chans[n] = ch
	if !c.started {
		c.started = true
		c.intr = interrupt.New(rp.IRQ_DMA_IRQ_0, dmaIRQ)
		c.intr.Enable()
	}
	rp.DMA.INTE0.SetBits(1 << n)
	return ch, nil
}

func dmaIRQ(interrupt.Interrupt) {
	c := DMAController
	// Acknowledge interrupt.
	status := rp.DMA.INTS0.Get()
	rp.DMA.INTS0.Set(status)
	for m := status; m != 0; m &= m - 1 {
		n := bits.TrailingZeros32(m)
		if ch := c.chans[n]; ch != nil {
			ch.complete()
		}
	}
}

type dmaChannel struct {
	ctl     *dmaController
	hw      *dmaChannelHW
	channel uint8
	cur     *Transfer
}

type dmaTxSize uint32

const (
	dmaTxSize8 dmaTxSize = iota
	dmaTxSize16
	dmaTxSize32
)

type dmaChannelConfig struct {
	CTRL uint32
}

// Start configures the channel for t and triggers it. The DREQ of a PIO
// FIFO is 8*block + 4*dir + sm on both chips.
func (ch *dmaChannel) Start(t *Transfer) {
	blk := chipBlocks()[t.Block].(*Block)
	dreq := uint32(t.Block)*8 + uint32(t.Dir)*4 + uint32(t.SM)
	size := dmaTxSize8
	switch t.Stride {
	case 2:
		size = dmaTxSize16
	case 4:
		size = dmaTxSize32
	}
	fifo := uintptr(unsafe.Pointer(&blk.regs().TXF[t.SM&3]))
	mem := uintptr(unsafe.Pointer(unsafe.SliceData(t.Buf)))

	var cc dmaChannelConfig
	cc.setTREQ_SEL(dreq)
	cc.setTransferDataSize(size)
	cc.setChainTo(uint32(ch.channel))
	cc.setBSwap(t.Swap && t.Stride > 1)
	cc.setEnable(true)
	hw := ch.hw
	if t.Dir == TX {
		cc.setReadIncrement(true)
		hw.READ_ADDR.Set(uint32(mem))
		hw.WRITE_ADDR.Set(uint32(fifo))
	} else {
		rx := uintptr(unsafe.Pointer(&blk.regs().RXF[t.SM&3])) + uintptr(t.Lane)
		cc.setWriteIncrement(true)
		hw.READ_ADDR.Set(uint32(rx))
		hw.WRITE_ADDR.Set(uint32(mem))
	}
	hw.TRANS_COUNT.Set(uint32(t.Len()))
	state := interrupt.Disable()
	ch.cur = t
	interrupt.Restore(state)
	// memfence
	hw.CTRL_TRIG.Set(cc.CTRL)
}

func (ch *dmaChannel) complete() {
	t := ch.cur
	ch.cur = nil
	if t == nil || t.Done == nil {
		return
	}
	var err error
	if ch.hw.CTRL_TRIG.Get()&rp.DMA_CH0_CTRL_TRIG_AHB_ERROR != 0 {
		err = errDMABus
	}
	t.Done(err)
}

func (ch *dmaChannel) Busy() bool {
	return ch.hw.CTRL_TRIG.Get()&rp.DMA_CH0_CTRL_TRIG_BUSY != 0
}

// Abort aborts the current transfer sequence on the channel and blocks until
// all in-flight transfers have been flushed through the address and data FIFOs.
// After this, it is safe to restart the channel.
func (ch *dmaChannel) Abort() {
	state := interrupt.Disable()
	ch.cur = nil
	interrupt.Restore(state)
	// Each bit corresponds to a channel. Writing a 1 aborts whatever transfer
	// sequence is in progress on that channel. The bit will remain high until
	// any in-flight transfers have been flushed through the address and data FIFOs.
	// After writing, this register must be polled until it returns all-zero.
	// Until this point, it is unsafe to restart the channel.
	chMask := uint32(1 << ch.channel)
	rp.DMA.CHAN_ABORT.Set(chMask)
	for rp.DMA.CHAN_ABORT.Get()&chMask != 0 {
	}
	rp.DMA.INTS0.Set(chMask)
}

func (ch *dmaChannel) Release() {
	ch.Abort()
	state := interrupt.Disable()
	defer interrupt.Restore(state)
	rp.DMA.INTE0.ClearBits(1 << ch.channel)
	ch.ctl.chans[ch.channel] = nil
	ch.ctl.reserved &^= 1 << ch.channel
}

// Select a Transfer Request signal. The channel uses the transfer request signal
// to pace its data transfer rate. Sources for TREQ signals are internal (TIMERS)
// or external (DREQ, a Data Request from the system). 0x0 to 0x3a -> select DREQ n as TREQ
func (cc *dmaChannelConfig) setTREQ_SEL(dreq uint32) {
	cc.CTRL = (cc.CTRL & ^uint32(rp.DMA_CH0_CTRL_TRIG_TREQ_SEL_Msk)) | (uint32(dreq) << rp.DMA_CH0_CTRL_TRIG_TREQ_SEL_Pos)
}

func (cc *dmaChannelConfig) setChainTo(chainTo uint32) {
	cc.CTRL = (cc.CTRL & ^uint32(rp.DMA_CH0_CTRL_TRIG_CHAIN_TO_Msk)) | (chainTo << rp.DMA_CH0_CTRL_TRIG_CHAIN_TO_Pos)
}

func (cc *dmaChannelConfig) setTransferDataSize(size dmaTxSize) {
	cc.CTRL = (cc.CTRL & ^uint32(rp.DMA_CH0_CTRL_TRIG_DATA_SIZE_Msk)) | (uint32(size) << rp.DMA_CH0_CTRL_TRIG_DATA_SIZE_Pos)
}

func (cc *dmaChannelConfig) setReadIncrement(incr bool) {
	setBitPos(&cc.CTRL, rp.DMA_CH0_CTRL_TRIG_INCR_READ_Pos, incr)
}

func (cc *dmaChannelConfig) setWriteIncrement(incr bool) {
	setBitPos(&cc.CTRL, rp.DMA_CH0_CTRL_TRIG_INCR_WRITE_Pos, incr)
}

func (cc *dmaChannelConfig) setBSwap(bswap bool) {
	setBitPos(&cc.CTRL, rp.DMA_CH0_CTRL_TRIG_BSWAP_Pos, bswap)
}

func (cc *dmaChannelConfig) setEnable(enable bool) {
	setBitPos(&cc.CTRL, rp.DMA_CH0_CTRL_TRIG_EN_Pos, enable)
}

func setBitPos(cc *uint32, pos uint32, bit bool) {
	if bit {
		*cc = *cc | (1 << pos)
	} else {
		*cc = *cc & ^(1 << pos) // unset bit.
	}
}
