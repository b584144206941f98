package piolib

import (
	"context"
	"time"

	pio "github.com/tinygo-org/pioengine/rp2-pio"
	"periph.io/x/conn/v3/physic"
)

// Pulsar implements a square-wave generator that pulses a determined amount of pulses.
type Pulsar struct {
	sm      *pio.StateMachine
	pattern []uint32
}

// NewPulsar returns a new Pulsar on pin emitting pulses of the given period.
func NewPulsar(pool *pio.Pool, pin pio.Pin, period time.Duration) (*Pulsar, error) {
	cfg := pio.DefaultConfig()
	cfg.Program = pulsarProgram
	cfg.FirstSetPin = pin
	cfg.SetPinCount = 1
	cfg.InitialSetPinDirection = 1
	cfg.FifoType = pio.FifoTx
	cfg.WaitForTxStall = false
	freq, err := pulsarClock(period)
	if err != nil {
		return nil, err
	}
	cfg.Frequency = freq
	sm, err := pio.New(pool, cfg)
	if err != nil {
		return nil, err
	}
	return &Pulsar{sm: sm}, nil
}

// Full pulse cycle is 4 instructions.
func pulsarClock(period time.Duration) (physic.Frequency, error) {
	if period <= 0 {
		return 0, pio.ErrInvalidArgument
	}
	return physic.Frequency(4 * int64(physic.Hertz) * int64(time.Second) / int64(period)), nil
}

// Queue adds pulse trains of counts[i] pulses each, blocking until all of
// them are queued. Zero counts are skipped.
func (p *Pulsar) Queue(ctx context.Context, counts ...uint32) error {
	words := make([]uint32, 0, len(counts))
	for _, c := range counts {
		if c != 0 {
			words = append(words, c-1)
		}
	}
	return p.sm.Write(ctx, pio.Words(words), pio.Options{})
}

// Queued returns amount of actions in the pulsar's queue.
func (p *Pulsar) Queued() (int, error) {
	return p.sm.TxLevel()
}

// Loop repeats the pulse trains in counts until StopLoop. Requires DMA.
func (p *Pulsar) Loop(ctx context.Context, counts []uint32) error {
	pattern := make([]uint32, 0, len(counts))
	for _, c := range counts {
		if c != 0 {
			pattern = append(pattern, c-1)
		}
	}
	if len(pattern) == 0 {
		return pio.ErrInvalidArgument
	}
	if err := p.sm.BackgroundWrite(ctx, pio.Buffers{Loop: pio.Words(pattern)}); err != nil {
		return err
	}
	p.pattern = pattern
	return nil
}

// StopLoop ends a Loop. Pulse trains already queued still run.
func (p *Pulsar) StopLoop() error {
	return p.sm.StopBackgroundWrite()
}

// SetPeriod sets the pulsar's square-wave period. Is safe to call while pulsar is running.
func (p *Pulsar) SetPeriod(period time.Duration) error {
	freq, err := pulsarClock(period)
	if err != nil {
		return err
	}
	return p.sm.SetFrequency(freq)
}

// Pause pauses the pulsar if disabled is true. If false unpauses the pulsar.
func (p *Pulsar) Pause(disabled bool) error {
	if disabled {
		return p.sm.Stop()
	}
	return p.sm.Restart()
}

// Close releases the state machine and pin.
func (p *Pulsar) Close() error {
	return p.sm.Deinit()
}
