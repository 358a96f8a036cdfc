package engine

import (
	"errors"
	"fmt"
)

// ResponseTimeoutError is returned when no R1/R7 byte arrived before the
// response deadline. DataSeen distinguishes a silent bus (card absent or
// not selected, DataSeen false) from a card that's driving MISO but never
// produces a valid response byte (DataSeen true); the latter usually
// means a framing problem worth logging loudly.
type ResponseTimeoutError struct {
	DataSeen bool
}

func (e *ResponseTimeoutError) Error() string {
	return fmt.Sprintf("sdspi: response timeout (data seen: %v)", e.DataSeen)
}

// DataTimeoutError is returned when a data start token didn't arrive
// before the per-block deadline. PartsDone records how many parts of a
// multi-part read had already completed, for callers that want to retry
// only the remainder.
type DataTimeoutError struct {
	PartsDone int
}

func (e *DataTimeoutError) Error() string {
	return fmt.Sprintf("sdspi: data timeout after %d part(s)", e.PartsDone)
}

var (
	// ErrExpectedStartToken is returned when a byte other than 0xFF or the
	// data start token (0xFE) appears while waiting for a block to begin.
	ErrExpectedStartToken = errors.New("sdspi: expected data start token")

	// ErrInvalidCRC is returned when a data block's trailing CRC-16/XMODEM
	// doesn't match what was computed over the block.
	ErrInvalidCRC = errors.New("sdspi: invalid data CRC")

	// ErrNotImplemented is returned by any attempt to run a write operation;
	// the engine only drives command and read transactions.
	ErrNotImplemented = errors.New("sdspi: operation not implemented")
)

// SpiError wraps a failure from the underlying Bus transport. The engine
// never inspects Err, only propagates it, so callers can type-assert back
// to whatever their Bus implementation returns.
type SpiError struct {
	Err error
}

func (e *SpiError) Error() string { return fmt.Sprintf("sdspi: spi transfer: %v", e.Err) }
func (e *SpiError) Unwrap() error { return e.Err }
