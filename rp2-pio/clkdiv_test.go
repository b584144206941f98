package pio

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3/physic"
)

func TestClkDivFromFrequency(t *testing.T) {
	tests := []struct {
		freq physic.Frequency
		want ClkDiv
	}{
		{0, ClkDiv{Whole: 1}},
		{DefaultSystemClock, ClkDiv{Whole: 1}},
		{2 * DefaultSystemClock, ClkDiv{Whole: 1}},
		{62500 * physic.KiloHertz, ClkDiv{Whole: 2}},
		{physic.MegaHertz, ClkDiv{Whole: 125}},
		{2 * physic.KiloHertz, ClkDiv{Whole: 62500}},
		// 256*125/48 = 666.67, rounded up so the result is not faster than asked.
		{48 * physic.MegaHertz, ClkDiv{Whole: 2, Frac: 155}},
	}
	for _, tc := range tests {
		got, err := ClkDivFromFrequency(tc.freq, DefaultSystemClock)
		if err != nil {
			t.Errorf("%s: %v", tc.freq, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %+v, want %+v", tc.freq, got, tc.want)
		}
		if tc.freq != 0 && got.Frequency(DefaultSystemClock) > tc.freq {
			t.Errorf("%s: actual frequency %s is above the request", tc.freq, got.Frequency(DefaultSystemClock))
		}
	}
}

func TestClkDivTooLow(t *testing.T) {
	for _, f := range []physic.Frequency{physic.KiloHertz, physic.Hertz, -physic.Hertz} {
		if _, err := ClkDivFromFrequency(f, DefaultSystemClock); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s: got %v, want ErrInvalidArgument", f, err)
		}
	}
}

func TestClkDivRegister(t *testing.T) {
	for _, d := range []ClkDiv{{1, 0}, {2, 155}, {65535, 255}, {65536, 0}} {
		if got := clkDivFromReg(d.reg()); got != d {
			t.Errorf("%+v: register round trip gave %+v", d, got)
		}
	}
	if got := (ClkDiv{Whole: 2}).Frequency(DefaultSystemClock); got != 62500*physic.KiloHertz {
		t.Errorf("frequency of divisor 2: %s", got)
	}
}
