package pio

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every error returned by this package matches one of these
// with errors.Is.
var (
	ErrInvalidArgument        = errors.New("pio: invalid argument")
	ErrInvalidProgramSize     = errors.New("pio: invalid program size")
	ErrResourceInUse          = errors.New("pio: resource in use")
	ErrUnsupportedFeature     = errors.New("pio: unsupported by this PIO version")
	ErrMismatchedBufferStride = errors.New("pio: mismatched data size")
	ErrTransferFailed         = errors.New("pio: transfer failed")
	ErrAlreadyDeinited        = errors.New("pio: state machine deinitialized")
)

// Refinements of ErrResourceInUse.
var (
	ErrOutOfProgramSpace = fmt.Errorf("%w: out of program space", ErrResourceInUse)
	ErrNoSpaceAtOffset   = fmt.Errorf("%w: program space unavailable at offset", ErrResourceInUse)
	ErrNoStateMachine    = fmt.Errorf("%w: no free state machine", ErrResourceInUse)
	ErrPinInUse          = fmt.Errorf("%w: pin in use", ErrResourceInUse)
	ErrBackgroundActive  = fmt.Errorf("%w: background transfer active", ErrResourceInUse)
	ErrNoDMAChannel      = fmt.Errorf("%w: no free DMA channel", ErrResourceInUse)
)

const (
	badStateMachineIndex = "invalid state machine index"
	badProgramBounds     = "invalid program bounds"
)

// wrapf annotates one of the sentinel errors above.
func wrapf(err error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{err}, args...)...)
}

func argError(format string, args ...any) error {
	return wrapf(ErrInvalidArgument, format, args...)
}

func unsupported(format string, args ...any) error {
	return wrapf(ErrUnsupportedFeature, format, args...)
}
