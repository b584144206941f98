//go:build rp2040 || rp2350

package main

import (
	"context"
	"machine"
	"time"

	pio "github.com/tinygo-org/pioengine/rp2-pio"
)

var asm = pio.AssemblerV0{}

// blink toggles a set pin, waiting for the half period pulled from the TX FIFO.
var blinkProgram = pio.ProgramBytes(
	asm.Pull(false, true).Encode(),
	asm.Out(pio.OutDestY, 32).Encode(),
	// wrap target
	asm.Mov(pio.MovDestX, pio.MovSrcY).Encode(),
	asm.Set(pio.SetDestPins, 1).Encode(),
	asm.Jmp(4, pio.JmpXNZeroDec).Encode(),
	asm.Mov(pio.MovDestX, pio.MovSrcY).Encode(),
	asm.Set(pio.SetDestPins, 0).Encode(),
	asm.Jmp(7, pio.JmpXNZeroDec).Encode(),
)

func main() {
	// Sleep to catch prints.
	time.Sleep(2 * time.Second)
	pool, err := pio.NewPool(pio.DefaultPoolConfig())
	if err != nil {
		panic(err.Error())
	}
	blinkPinForever(pool, pio.Pin(machine.LED), 3)
	blinkPinForever(pool, 6, 4)
	blinkPinForever(pool, 11, 1)
	select {}
}

func blinkPinForever(pool *pio.Pool, pin pio.Pin, freq uint32) {
	cfg := pio.DefaultConfig()
	cfg.Program = blinkProgram
	cfg.WrapTarget = 2
	cfg.FirstSetPin = pin
	cfg.InitialSetPinDirection = 1
	sm, err := pio.New(pool, cfg)
	if err != nil {
		panic(err.Error())
	}
	offset, _ := sm.Offset()
	println("Blinking", pin.String(), "at", freq, "Hz from offset", offset)
	clockFreq := machine.CPUFrequency()
	// Same program, so every state machine shares one copy.
	half := []uint32{clockFreq/(2*freq) - 3}
	if err := sm.Write(context.Background(), pio.Words(half), pio.Options{}); err != nil {
		panic(err.Error())
	}
}
