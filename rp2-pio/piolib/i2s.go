package piolib

import (
	"context"
	"unsafe"

	pio "github.com/tinygo-org/pioengine/rp2-pio"
	"periph.io/x/conn/v3/physic"
)

// I2S is a 16 bit stereo I2S transmitter. Samples are uint32 frames with
// the left channel in the upper half.
type I2S struct {
	sm *pio.StateMachine
}

// NewI2S starts an I2S transmitter with data on data, BCLK on clockAndNext
// and LRCLK on clockAndNext+1.
func NewI2S(pool *pio.Pool, data, clockAndNext pio.Pin, sampleRate physic.Frequency) (*I2S, error) {
	// https://github.com/raspberrypi/pico-extras/blob/09c64d509f1d7a49ceabde699ed6c74c77e195a1/src/rp2_common/pico_audio_i2s/audio_i2s.pio#L48C4-L60C81
	cfg := pio.DefaultConfig()
	cfg.Program = i2sProgram
	cfg.Frequency = i2sClock(sampleRate)
	cfg.FirstOutPin = data
	cfg.OutPinCount = 1
	cfg.InitialOutPinDirection = 1
	cfg.FirstSidesetPin = clockAndNext
	cfg.SidesetPinCount = 2
	cfg.InitialSidesetPinDirection = 0b11
	cfg.FifoType = pio.FifoTx
	cfg.OutShiftRight = false
	cfg.AutoPull = true
	cfg.PullThreshold = 32
	sm, err := pio.New(pool, cfg)
	if err != nil {
		return nil, err
	}
	return &I2S{sm: sm}, nil
}

// 32 bits per stereo frame, two cycles per bit.
func i2sClock(sampleRate physic.Frequency) physic.Frequency {
	return sampleRate * 32 * 2
}

// SetSampleFrequency changes the sample rate.
func (i2s *I2S) SetSampleFrequency(freq physic.Frequency) error {
	return i2s.sm.SetFrequency(i2sClock(freq))
}

// SampleFrequency returns the actual sample rate.
func (i2s *I2S) SampleFrequency() (physic.Frequency, error) {
	f, err := i2s.sm.Frequency()
	return f / 64, err
}

// WriteStereo blocks until every frame was sent or ctx is done.
func (i2s *I2S) WriteStereo(ctx context.Context, frames []uint32) error {
	return i2s.sm.Write(ctx, pio.Words(frames), pio.Options{})
}

// WriteMono sends each sample on both channels.
func (i2s *I2S) WriteMono(ctx context.Context, samples []uint16) error {
	frames := make([]uint32, len(samples))
	for i, s := range samples {
		frames[i] = uint32(s)<<16 | uint32(s)
	}
	return i2s.WriteStereo(ctx, frames)
}

// Stream plays a and b alternately in the background until Stop. Use
// Played to learn which buffer finished so it can be refilled while the
// other one plays. A nil b repeats a.
func (i2s *I2S) Stream(ctx context.Context, a, b []uint32) error {
	bufs := pio.Buffers{Loop: pio.Words(a)}
	if b != nil {
		bufs.Loop2 = pio.Words(b)
	}
	return i2s.sm.BackgroundWrite(ctx, bufs)
}

// Played returns the buffer whose playback completed most recently, or nil
// when none completed since the last call.
func (i2s *I2S) Played() ([]uint32, error) {
	buf, err := i2s.sm.TakeLastWrite()
	if err != nil || buf.Data == nil {
		return nil, err
	}
	return wordsOf(buf.Data), nil
}

// wordsOf views memory handed out by pio.Words as words again.
func wordsOf(b []byte) []uint32 {
	return unsafe.Slice((*uint32)(unsafe.Pointer(unsafe.SliceData(b))), len(b)/4)
}

// Streaming reports whether a Stream is active.
func (i2s *I2S) Streaming() bool {
	writing, _ := i2s.sm.Writing()
	return writing
}

// Stop ends a Stream after the buffer being played.
func (i2s *I2S) Stop(ctx context.Context) error {
	return i2s.sm.BackgroundWrite(ctx, pio.Buffers{})
}

// Paused stops or resumes the clocks.
func (i2s *I2S) Paused(paused bool) error {
	if paused {
		return i2s.sm.Stop()
	}
	return i2s.sm.Restart()
}

// Close releases the state machine and pins.
func (i2s *I2S) Close() error {
	return i2s.sm.Deinit()
}
