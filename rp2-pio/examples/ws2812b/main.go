//go:build rp2040 || rp2350

package main

import (
	"strconv"
	"time"

	pio "github.com/tinygo-org/pioengine/rp2-pio"
	"github.com/tinygo-org/pioengine/rp2-pio/piolib"
)

var ws2812Pin string

/*
This example package can be flashed, specifying the GPIO number via the -ldflags
flag like so:
tinygo flash -target=$TARGET_NAME -ldflags "-X main.ws2812Pin=$GPIO_NUMBER" ./examples/ws2812b/
*/
func main() {
	pinNum, err := strconv.Atoi(ws2812Pin)
	if err != nil {
		println("Invalid pin number: " + ws2812Pin)
		pinNum = 16
	}
	pool, err := pio.NewPool(pio.DefaultPoolConfig())
	if err != nil {
		panic(err.Error())
	}
	ws, err := piolib.NewWS2812B(pool, pio.Pin(pinNum))
	if err != nil {
		panic(err.Error())
	}
	const lightIntensity = 64
	rawred := piolib.RawColor(lightIntensity, 0, 0)
	rawgreen := piolib.RawColor(0, lightIntensity, 0)
	// Make Christmas lights of the first part of the strip, sent in the background.
	frame := make([]uint32, 15)
	for i := 1; i < len(frame); i++ {
		frame[i] = rawred
		if i%2 == 0 {
			frame[i] = rawgreen
		}
	}
	if err := ws.Show(frame); err != nil {
		panic(err.Error())
	}
	for ws.Busy() {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(time.Second)

	// And sweep the first LED.
	const sweepPeriod = time.Second / 4
	for {
		for channel := 0; channel < 3; channel++ {
			println("sweep", channel)
			for v := 0; v < 255; v++ {
				var rgb [3]uint8
				rgb[channel] = uint8(v)
				frame[0] = piolib.RawColor(rgb[0], rgb[1], rgb[2])
				if err := ws.WriteRaw(frame[:1]); err != nil {
					println(err.Error())
				}
				time.Sleep(sweepPeriod)
			}
			time.Sleep(time.Second)
		}
	}
}
