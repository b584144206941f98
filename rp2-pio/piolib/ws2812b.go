package piolib

import (
	"context"
	"image/color"

	pio "github.com/tinygo-org/pioengine/rp2-pio"
	"periph.io/x/conn/v3/physic"
)

// WS2812B is an RGB LED strip controller implementation, also known as NeoPixel.
type WS2812B struct {
	sm  *pio.StateMachine
	buf []uint32
}

// NewWS2812B starts a WS2812B driver on pin.
func NewWS2812B(pool *pio.Pool, pin pio.Pin) (*WS2812B, error) {
	// https://cdn-shop.adafruit.com/datasheets/WS2812B.pdf
	const bitrate = 800 * physic.KiloHertz
	cfg := pio.DefaultConfig()
	cfg.Program = ws2812bProgram
	cfg.Frequency = bitrate * (ws2812bT1 + ws2812bT2 + ws2812bT3)
	cfg.FirstSidesetPin = pin
	cfg.SidesetPinCount = 1
	cfg.InitialSidesetPinDirection = 1
	// We only use Tx FIFO, so we set the join to Tx.
	cfg.FifoType = pio.FifoTx
	cfg.OutShiftRight = false
	cfg.AutoPull = true
	cfg.PullThreshold = 24
	sm, err := pio.New(pool, cfg)
	if err != nil {
		return nil, err
	}
	return &WS2812B{sm: sm}, nil
}

// RawColor returns the strip encoding of an RGB color.
func RawColor(r, g, b uint8) uint32 {
	// Shift occurs to left for WS2812B to interpret correctly.
	return uint32(g)<<24 | uint32(r)<<16 | uint32(b)<<8
}

// WriteRaw writes raw GRB values to a strip of WS2812B LEDs and returns
// once the last bit was sent. Each uint32 is a WS2812B color which can be
// created with RawColor.
func (ws *WS2812B) WriteRaw(rawGRB []uint32) error {
	return ws.sm.Write(context.Background(), pio.Words(rawGRB), pio.Options{})
}

// WriteColors writes colors to the strip.
func (ws *WS2812B) WriteColors(colors []color.Color) error {
	if busy, err := ws.sm.Writing(); err != nil || busy {
		return busyErr(err)
	}
	ws.buf = ws.buf[:0]
	for _, c := range colors {
		r16, g16, b16, _ := c.RGBA()
		ws.buf = append(ws.buf, RawColor(uint8(r16>>8), uint8(g16>>8), uint8(b16>>8)))
	}
	return ws.WriteRaw(ws.buf)
}

// Show starts sending rawGRB in the background and returns immediately.
// rawGRB must not be modified until Busy reports false. Requires DMA.
func (ws *WS2812B) Show(rawGRB []uint32) error {
	if busy, err := ws.sm.Writing(); err != nil || busy {
		return busyErr(err)
	}
	return ws.sm.BackgroundWrite(context.Background(), pio.Buffers{Once: pio.Words(rawGRB)})
}

// Busy reports whether a Show is still in progress.
func (ws *WS2812B) Busy() bool {
	busy, _ := ws.sm.Writing()
	return busy
}

func busyErr(err error) error {
	if err != nil {
		return err
	}
	return errBusy
}

// Close stops the driver and releases its state machine and pin.
func (ws *WS2812B) Close() error {
	return ws.sm.Deinit()
}
