package sdspi

import (
	"errors"
	"fmt"

	"github.com/go-sdspi/sdspi/internal/engine"
)

var (
	// ErrCardNotPresent is returned by Init when the bus stays idle through
	// CMD0: no card selected, or nothing on the other end of the wires.
	ErrCardNotPresent = errors.New("sdspi: card not present or not responding")

	// ErrCardInitFailed is returned by Init for any bring-up failure other
	// than ErrCardNotPresent: a bad R1 or R7, the ACMD41 idle-polling loop
	// never observing the card leaving the idle state, or a failed CMD58,
	// CMD59 or CSD read.
	ErrCardInitFailed = errors.New("sdspi: card initialization failed")

	// ErrCheckPatternMismatch is returned by CMD8 when the card echoes back
	// a different check pattern than the one sent.
	ErrCheckPatternMismatch = errors.New("sdspi: CMD8 check pattern mismatch")

	// ErrVoltageNotSupported is returned by CMD8 when the card's R7 doesn't
	// accept the 2.7-3.6V range this driver always requests.
	ErrVoltageNotSupported = errors.New("sdspi: card does not support 2.7-3.6V operation")

	// ErrReadFailed wraps a failed ReadBlocks call; unwrap for the engine
	// error underneath (timeout, CRC, unexpected token).
	ErrReadFailed = errors.New("sdspi: block read failed")

	// ErrNotImplemented is returned by WriteBlocks. Re-exported from the
	// engine so callers never need to import the internal package.
	ErrNotImplemented = engine.ErrNotImplemented

	// ErrNotInitialized is returned by ReadBlocks/ReadAt/Capacity when
	// called before a successful Init.
	ErrNotInitialized = errors.New("sdspi: card not initialized")
)

// BadR1Error reports an R1 (or R7/R3) response whose flag bits weren't one
// of the values a given command expects.
type BadR1Error struct {
	Command uint8
	R1      byte
}

func (e *BadR1Error) Error() string {
	return fmt.Sprintf("sdspi: CMD%d: unexpected R1 response 0x%02x", e.Command, e.R1)
}
