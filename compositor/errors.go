package compositor

import (
	"errors"
	"fmt"
)

// Error codes carried by a ProtocolError. The wl_surface values match
// the protocol's wl_surface.error enum.
const (
	ErrorInvalidScale     uint32 = 0
	ErrorInvalidTransform uint32 = 1
	ErrorInvalidSize      uint32 = 2
	ErrorInvalidOffset    uint32 = 3
	ErrorDefunctRole      uint32 = 4

	// ErrorInvalidDamage is not part of wl_surface.error. It is sent for
	// damage requests with a negative width or height.
	ErrorInvalidDamage uint32 = 16

	// ErrorRole is sent when a surface is given a second, different
	// role.
	ErrorRole uint32 = 17
)

// wl_subcompositor and wl_subsurface error codes.
const (
	ErrorBadSurface uint32 = 0
	ErrorBadParent  uint32 = 1
)

// wp_viewport error codes.
const (
	ErrorBadValue    uint32 = 0
	ErrorBadSize     uint32 = 1
	ErrorOutOfBuffer uint32 = 2
)

// ProtocolError is returned when a client request would put a surface
// into an invalid state. The request has no effect. The protocol layer
// is expected to report it to the client as a fatal error.
type ProtocolError struct {
	Object  string
	Code    uint32
	Message string
}

func protocolError(obj string, code uint32, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Object:  obj,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func (err *ProtocolError) Error() string {
	return fmt.Sprintf("%v error %v: %v", err.Object, err.Code, err.Message)
}

var (
	// ErrResourceExhausted is returned by texture allocators that ran
	// out of memory. The surface is skipped and retried on the next
	// repaint.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrIncompatible is returned by Texture.Update when a buffer can't
	// be uploaded into an existing texture.
	ErrIncompatible = errors.New("incompatible buffer")

	// ErrDeviceLost indicates that an output's backing device has gone
	// away or been reset.
	ErrDeviceLost = errors.New("device lost")

	// ErrRepaintInFlight is returned by Repaint if the output's previous
	// frame has not been presented yet.
	ErrRepaintInFlight = errors.New("repaint already in flight")

	// ErrTooManyOutputs is returned by AddOutput when every output slot
	// is in use.
	ErrTooManyOutputs = errors.New("too many outputs")
)

// ResetError is returned by Repaint when drawing or presenting failed.
// The output is left clean and unscheduled and will not be repainted
// until its device is reset with SetDevice.
type ResetError struct {
	Output *Output
	Err    error
}

func (err *ResetError) Error() string {
	return fmt.Sprintf("output %q needs reset: %v", err.Output.Name(), err.Err)
}

func (err *ResetError) Unwrap() error {
	return err.Err
}
