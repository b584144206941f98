// Package piolib implements peripherals on top of PIO state machines.
package piolib

import (
	"errors"

	pio "github.com/tinygo-org/pioengine/rp2-pio"
)

var (
	errBusy         = errors.New("piolib:busy")
	errSizeMismatch = errors.New("piolib:buffer size mismatch")
)

var (
	side1 = pio.AssemblerV0{SidesetBits: 1}
	side2 = pio.AssemblerV0{SidesetBits: 2}
	plain = pio.AssemblerV0{}
)

// SPI mode 0 and 2. SCK is side-set, data out and in are one pin each.
// Four state machine cycles per bit.
var spiCPHA0 = pio.ProgramBytes(
	side1.Out(pio.OutDestPins, 1).Side(0).Delay(1).Encode(),
	side1.In(pio.InSrcPins, 1).Side(1).Delay(1).Encode(),
)

// SPI mode 1 and 3.
var spiCPHA1 = pio.ProgramBytes(
	side1.Out(pio.OutDestX, 1).Side(0).Encode(),
	side1.Mov(pio.MovDestPins, pio.MovSrcX).Side(1).Delay(1).Encode(),
	side1.In(pio.InSrcPins, 1).Side(0).Encode(),
)

// WS2812B bit: T3 low, T1 high, then T2 high for a one or low for a zero.
const (
	ws2812bT1 = 2
	ws2812bT2 = 5
	ws2812bT3 = 3
)

var ws2812bProgram = pio.ProgramBytes(
	side1.Out(pio.OutDestX, 1).Side(0).Delay(ws2812bT3-1).Encode(),
	side1.Jmp(3, pio.JmpXZero).Side(1).Delay(ws2812bT1-1).Encode(),
	side1.Jmp(0, pio.JmpAlways).Side(1).Delay(ws2812bT2-1).Encode(),
	side1.Nop().Side(0).Delay(ws2812bT2-1).Encode(),
)

// I2S with BCLK on side-set bit 0 and LRCLK on bit 1, 16 bits per channel.
// The first instruction is the entry point.
var i2sProgram = pio.ProgramBytes(
	side2.Set(pio.SetDestX, 14).Side(0b11).Encode(),
	side2.Out(pio.OutDestPins, 1).Side(0b10).Encode(),
	side2.Jmp(1, pio.JmpXNZeroDec).Side(0b11).Encode(),
	side2.Out(pio.OutDestPins, 1).Side(0b00).Encode(),
	side2.Set(pio.SetDestX, 14).Side(0b01).Encode(),
	side2.Out(pio.OutDestPins, 1).Side(0b00).Encode(),
	side2.Jmp(5, pio.JmpXNZeroDec).Side(0b01).Encode(),
	side2.Out(pio.OutDestPins, 1).Side(0b10).Encode(),
)

// Pulsar emits count+1 pulses per word, four cycles each.
var pulsarProgram = pio.ProgramBytes(
	plain.Pull(false, true).Encode(),
	plain.Out(pio.OutDestX, 32).Encode(),
	plain.Set(pio.SetDestPins, 1).Delay(1).Encode(),
	plain.Set(pio.SetDestPins, 0).Encode(),
	plain.Jmp(2, pio.JmpXNZeroDec).Encode(),
)
