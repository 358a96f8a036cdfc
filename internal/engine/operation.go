package engine

import "time"

// Kind selects which field of Operation is meaningful. Operation is a
// closed tagged union: Go has no enum-with-payload, so we flatten it into
// a struct with a discriminant, the same shape the rest of this engine
// uses for its own continuation state.
type Kind uint8

const (
	KindNone Kind = iota
	KindRead
	KindBusySignal
	KindWrite
)

// ReadOperation describes a data-read tail: one or more length-PartSize
// blocks, each wrapped in a start token and a CRC-16/XMODEM trailer.
// SkipPrefix lets a caller address into the middle of a multi-part read
// (e.g. an unaligned read straddling two physical sectors) without
// allocating a full-size intermediate buffer: bytes before the prefix are
// consumed and CRC-checked but never copied to Destination.
type ReadOperation struct {
	Destination  []byte
	Parts        int
	PartSize     int
	PreFetch     int
	CRCEnabled   bool
	SkipPrefix   int
	BlockTimeout time.Duration
}

// BusySignalOperation describes a busy-wait tail: the card holds MISO low
// (0x00 bytes) until it's ready, then releases it (any non-zero byte).
type BusySignalOperation struct {
	PreFetch int
}

// WriteOperation is reserved. The engine accepts it so callers can build
// one, but Run always fails it with ErrNotImplemented.
type WriteOperation struct{}

// Operation is the tail a command transaction drives after its R1/R7
// response: nothing further, a data read, a busy wait, or (reserved) a
// data write. Exactly one of Read, Busy, Write is meaningful, selected by
// Kind.
type Operation struct {
	Kind  Kind
	Read  ReadOperation
	Busy  BusySignalOperation
	Write WriteOperation
}

// None is a command with no tail beyond its response.
func None() Operation { return Operation{Kind: KindNone} }

// Read is a command whose response is followed by one or more data blocks.
func Read(op ReadOperation) Operation { return Operation{Kind: KindRead, Read: op} }

// BusySignal is a command whose response is followed by a busy wait.
func BusySignal(preFetch int) Operation {
	return Operation{Kind: KindBusySignal, Busy: BusySignalOperation{PreFetch: preFetch}}
}
