//go:build rp2040 || rp2350

// This example plays a sine wave on a PCM5102A DAC at 44.1 kHz, on both
// channels, refilling two buffers in turn while the other one plays.
// connect PCM5102A DIN to GPIO2
// connect PCM5102A BCK to GPIO3
// connect PCM5102A LCK to GPIO4
package main

import (
	"context"
	"time"

	pio "github.com/tinygo-org/pioengine/rp2-pio"
	"github.com/tinygo-org/pioengine/rp2-pio/piolib"
	"periph.io/x/conn/v3/physic"
)

const (
	i2sDataPin  = 2
	i2sClockPin = 3

	numSamples = 32
	numBlocks  = 5
)

// sine wave data
var sine = []int16{
	6392, 12539, 18204, 23169, 27244, 30272, 32137, 32767, 32137,
	30272, 27244, 23169, 18204, 12539, 6392, 0, -6393, -12540,
	-18205, -23170, -27245, -30273, -32138, -32767, -32138, -30273, -27245,
	-23170, -18205, -12540, -6393, -1,
}

func main() {
	time.Sleep(time.Millisecond * 500)

	pool, err := pio.NewPool(pio.DefaultPoolConfig())
	if err != nil {
		panic(err.Error())
	}
	i2s, err := piolib.NewI2S(pool, i2sDataPin, i2sClockPin, 44100*physic.Hertz)
	if err != nil {
		panic(err.Error())
	}

	a := make([]uint32, numSamples*numBlocks)
	b := make([]uint32, numSamples*numBlocks)
	fill(a, 1)
	fill(b, 1)
	ctx := context.Background()
	if err := i2s.Stream(ctx, a, b); err != nil {
		panic(err.Error())
	}
	// Alternate between full and half volume, one buffer at a time.
	shift := uint(0)
	for {
		played, err := i2s.Played()
		if err != nil {
			panic(err.Error())
		}
		if played == nil {
			time.Sleep(time.Millisecond)
			continue
		}
		shift ^= 1
		fill(played, shift)
	}
}

func fill(frames []uint32, shift uint) {
	for i := range frames {
		s := uint32(uint16(sine[i%numSamples] >> shift))
		frames[i] = s<<16 | s
	}
}
