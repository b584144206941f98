//go:build rp2040

package pio

const (
	rp2350ExtraReg = 0
	numDMAChannels = 12
)

func chipBlocks() []Hardware { return []Hardware{PIO0, PIO1} }

func (b *Block) RxFIFOAt(sm uint8, i int) uint32 {
	panic("pio: RX FIFO registers not supported on rp2040")
}

func (b *Block) SetRxFIFOAt(sm uint8, i int, v uint32) {
	panic("pio: RX FIFO registers not supported on rp2040")
}
