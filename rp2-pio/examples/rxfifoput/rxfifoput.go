//go:build rp2350

package main

import (
	"fmt"
	"time"

	pio "github.com/tinygo-org/pioengine/rp2-pio"
)

/*
RxFIFOPut is a simple example of a PIO counter demonstrating how to use the
FJOIN_RX_PUT mode introduced with the RP2350.

RxFIFOPut increments a counter in three PIO cycles. It is not possible for the
system to read from the RX FIFO fast enough to keep up with the PIO at this
speed, so the RX FIFO is used as a status buffer holding the current counter
value, read through StateMachine.RxFIFO.
*/
func main() {
	pool, err := pio.NewPool(pio.DefaultPoolConfig())
	if err != nil {
		panic(err.Error())
	}
	asm := pio.AssemblerV0{}
	cfg := pio.DefaultConfig()
	cfg.Program = pio.ProgramBytes(
		asm.MovInvert(pio.MovDestISR, pio.MovSrcX).Encode(),
		asm.MovToRx(true, 0).Encode(),
		asm.Jmp(0, pio.JmpXNZeroDec).Encode(),
	)
	// Enable FJOIN_RX_PUT mode
	cfg.FifoType = pio.FifoTxPut
	cfg.PIOVersion = 1
	sm, err := pio.New(pool, cfg)
	if err != nil {
		panic(err.Error())
	}
	fifo := sm.RxFIFO()
	for {
		var v [4]uint32
		for i := range v {
			v[i], _ = fifo.Get(i)
		}
		fmt.Printf("FIFO: %08x %08x %08x %08x\r\n", v[0], v[1], v[2], v[3])
		time.Sleep(5 * time.Second)
	}
}
