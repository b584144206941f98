package piolib

import (
	"context"
	"errors"

	pio "github.com/tinygo-org/pioengine/rp2-pio"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"
)

var errUnsupportedMode = errors.New("piolib:unsupported SPI mode")

// SPIConfig configures an SPI controller. Frequency is the SCK frequency.
type SPIConfig struct {
	Frequency physic.Frequency
	SCK       pio.Pin
	SDO       pio.Pin
	SDI       pio.Pin
	// Mode is the SPI mode. Only modes 0 and 1 (CPOL=0) are supported.
	Mode uint8
}

// SPI is a full duplex 8 bit SPI controller.
type SPI struct {
	sm      *pio.StateMachine
	scratch []byte
}

var _ drivers.SPI = (*SPI)(nil)

// NewSPI claims a state machine from pool and starts an SPI controller on it.
func NewSPI(pool *pio.Pool, spicfg SPIConfig) (*SPI, error) {
	const nbits = 8
	// https://github.com/raspberrypi/pico-examples/blob/eca13acf57916a0bd5961028314006983894fc84/pio/spi/spi.pio#L46
	cfg := pio.DefaultConfig()
	switch spicfg.Mode {
	case 0:
		cfg.Program = spiCPHA0
	case 1:
		cfg.Program = spiCPHA1
	default:
		return nil, errUnsupportedMode
	}
	if spicfg.Frequency > 0 {
		cfg.Frequency = 4 * spicfg.Frequency
	}

	cfg.FirstOutPin = spicfg.SDO
	cfg.OutPinCount = 1
	cfg.FirstInPin = spicfg.SDI
	cfg.InPull = gpio.PullDown
	cfg.FirstSidesetPin = spicfg.SCK
	cfg.SidesetPinCount = 1

	cfg.OutShiftRight = false
	cfg.AutoPull = true
	cfg.PullThreshold = nbits
	cfg.InShiftRight = false
	cfg.AutoPush = true
	cfg.PushThreshold = nbits

	// MOSI, SCK output are low, MISO is input.
	cfg.InitialOutPinState = 0
	cfg.InitialOutPinDirection = 1
	cfg.InitialSidesetPinState = 0
	cfg.InitialSidesetPinDirection = 1

	sm, err := pio.New(pool, cfg)
	if err != nil {
		return nil, err
	}
	return &SPI{sm: sm}, nil
}

// Tx does a full duplex transfer. Either w or r may be nil; otherwise they
// must have the same length.
func (spi *SPI) Tx(w, r []byte) error {
	switch {
	case w == nil && r == nil:
		return nil
	case w == nil:
		// Clock out zeros while reading.
		w = spi.buffer(len(r))
		clear(w)
	case r == nil:
		// Every byte sent pushes one back, which must be drained.
		r = spi.buffer(len(w))
	case len(w) != len(r):
		return errSizeMismatch
	}
	return spi.sm.WriteReadInto(context.Background(), pio.Bytes(w), pio.Bytes(r), pio.Options{}, pio.Options{})
}

// Transfer writes b and returns the byte read at the same time.
func (spi *SPI) Transfer(b byte) (byte, error) {
	var buf [2]byte
	buf[0] = b
	err := spi.Tx(buf[:1], buf[1:])
	return buf[1], err
}

// Frequency returns the actual SCK frequency.
func (spi *SPI) Frequency() (physic.Frequency, error) {
	f, err := spi.sm.Frequency()
	return f / 4, err
}

// SetFrequency changes the SCK frequency.
func (spi *SPI) SetFrequency(freq physic.Frequency) error {
	return spi.sm.SetFrequency(4 * freq)
}

// Close releases the state machine and pins.
func (spi *SPI) Close() error {
	return spi.sm.Deinit()
}

func (spi *SPI) buffer(n int) []byte {
	if cap(spi.scratch) < n {
		spi.scratch = make([]byte, n)
	}
	return spi.scratch[:n]
}
