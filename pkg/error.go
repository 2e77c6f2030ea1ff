package pkg

import (
	"errors"
	"fmt"
)

// HFI transport errors.
var (
	// ErrQueueFull indicates a queue write was rejected for lack of space.
	// The caller may retry or abort; the stack never retries internally.
	ErrQueueFull = errors.New("queue full")

	// ErrTimeout indicates the firmware did not raise the response
	// interrupt in time. Firmware-side state is unknown afterwards.
	ErrTimeout = errors.New("response timeout")

	// ErrResponseMissing indicates the response interrupt fired but the
	// response queue was empty.
	ErrResponseMissing = errors.New("response missing")

	// ErrFirmwareRejected indicates the firmware answered with a non-zero
	// error code. See FirmwareRejectedError for the code.
	ErrFirmwareRejected = errors.New("firmware rejected message")

	// ErrCorruptHeader indicates a queued message declared a length the
	// reader cannot accept. See CorruptHeaderError.
	ErrCorruptHeader = errors.New("corrupt message header")
)

// Session and lifecycle errors.
var (
	// ErrInvalidState indicates an operation was attempted in the wrong
	// session state.
	ErrInvalidState = errors.New("invalid session state")

	// ErrNotOpen indicates the host has not been opened.
	ErrNotOpen = errors.New("not open")

	// ErrAlreadyOpen indicates the host is already open.
	ErrAlreadyOpen = errors.New("already open")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")
)

// FirmwareRejectedError carries the firmware-defined error code returned for
// a command. It matches ErrFirmwareRejected with errors.Is.
type FirmwareRejectedError struct {
	MessageID uint8  // Command the firmware rejected
	Seq       uint32 // Sequence number of the command
	Code      uint32 // Firmware error code
}

// Error implements error.
func (e *FirmwareRejectedError) Error() string {
	return fmt.Sprintf("%s: message %d seq %d code %d",
		ErrFirmwareRejected, e.MessageID, e.Seq, e.Code)
}

// Is reports whether target is ErrFirmwareRejected.
func (e *FirmwareRejectedError) Is(target error) bool {
	return target == ErrFirmwareRejected
}

// CorruptHeaderError describes a message whose declared length could not be
// accepted by the reader. The session cannot recover from it; guessing at a
// corrupted length is unsafe.
type CorruptHeaderError struct {
	Queue    int    // Queue the message was read from
	Index    uint32 // read_index at which the header was found
	Header   uint32 // Raw header word
	Declared int    // Declared length in dwords
	Capacity int    // Receive capacity in dwords
}

// Error implements error.
func (e *CorruptHeaderError) Error() string {
	return fmt.Sprintf("%s: queue %d index %d header 0x%08x declares %d dwords, capacity %d",
		ErrCorruptHeader, e.Queue, e.Index, e.Header, e.Declared, e.Capacity)
}

// Is reports whether target is ErrCorruptHeader.
func (e *CorruptHeaderError) Is(target error) bool {
	return target == ErrCorruptHeader
}

// StageError reports a failed bootstrap stage. The session stays failed
// until it is reset, whatever the underlying error.
type StageError struct {
	Stage string // Bootstrap step that failed
	Err   error  // Underlying transport or firmware error
}

// Error implements error.
func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err leaves the session unusable, so that the
// caller must power the GMU down and start over.
//
// Any error from a bootstrap stage (StageError) is fatal. Otherwise local
// backpressure (ErrQueueFull) and firmware rejections are not: a rejected
// runtime command such as TEST or a perf vote leaves a started session
// intact. Timeouts, missing responses and corrupt headers are fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var stage *StageError
	if errors.As(err, &stage) {
		return true
	}
	return !errors.Is(err, ErrQueueFull) && !errors.Is(err, ErrFirmwareRejected)
}
