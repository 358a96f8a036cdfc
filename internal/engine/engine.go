// Package engine drives a single SD SPI command transaction: frame a
// command, clock it out, recognize its R1/R7 response, then optionally
// walk a data-read or busy-wait tail. It never allocates beyond the
// scratch buffer the caller supplies, and it never touches chip-select;
// that framing belongs to the card-level collaborator that owns a Run
// call start to finish.
package engine

import (
	"time"

	"github.com/go-sdspi/sdspi/internal/crc"
)

const startBlockToken = 0xFE

// phase is the engine's state tag. Continuation data for every phase
// lives as plain fields on Engine, gated by which phase is current.
type phase uint8

const (
	phaseSendCommand phase = iota
	phaseAwaitResponseStart
	phaseCopyResponse
	phaseAwaitBusyRelease
	phaseAwaitStartToken
	phaseReceiveData
	phaseReceiveCRC
	phaseWriteData
)

// Engine runs one command transaction at a time. Its zero value is not
// usable; construct one with New and reuse it across calls to Run. Run
// resets all continuation state at the start of every call.
type Engine struct {
	bus   Bus
	clock Clock

	// inputs for the in-progress call
	scratch          []byte
	command          [6]byte
	preFetchResponse int
	response         []byte
	responseTimeout  time.Duration
	op               Operation

	// phase tag plus its continuation data
	phase phase

	bytesSent int // phaseSendCommand

	responseDeadline time.Time // phaseAwaitResponseStart
	dataSeen         bool      // phaseAwaitResponseStart

	responseCopied int // phaseCopyResponse

	tokenDeadline time.Time // phaseAwaitStartToken, reset after each part's CRC
	partsDone     int       // phaseAwaitStartToken onward

	digest      crc.XModem // phaseReceiveData
	bytesInPart int        // phaseReceiveData

	expectedCRC     uint16 // phaseReceiveCRC
	crcHighByte     uint8
	haveCRCHighByte bool
}

// New constructs an Engine driving bus for SPI I/O and clock for deadlines.
func New(bus Bus, clock Clock) *Engine {
	return &Engine{bus: bus, clock: clock}
}

// Run drives one command transaction to completion: frame and send
// command into scratch, wait out preFetchResponse filler bytes, copy the
// R1/R7 response into response, then walk op's tail (if any). scratch must
// be at least large enough to hold a single command byte; Run grows its
// requested transfer length to whatever op needs but never exceeds
// len(scratch), splitting a large tail across as many SPI transfers as it
// takes.
func (e *Engine) Run(scratch []byte, command [6]byte, preFetchResponse int, response []byte, responseTimeout time.Duration, op Operation) error {
	e.reset(scratch, command, preFetchResponse, response, responseTimeout, op)

	var valid []byte
	for {
		done, err := e.interpret(valid)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		n := e.planTransferLen()
		e.primeBuffer(n)
		if err := e.bus.Transfer(e.scratch[:n]); err != nil {
			return &SpiError{Err: err}
		}
		valid = e.scratch[:n]
	}
}

func (e *Engine) reset(scratch []byte, command [6]byte, preFetchResponse int, response []byte, responseTimeout time.Duration, op Operation) {
	*e = Engine{
		bus:              e.bus,
		clock:            e.clock,
		scratch:          scratch,
		command:          command,
		preFetchResponse: preFetchResponse,
		response:         response,
		responseTimeout:  responseTimeout,
		op:               op,
		phase:            phaseSendCommand,
	}
}

// tailCost is the worst-case byte count of op's tail, used by the planner
// to size optimistic transfer requests.
func (e *Engine) tailCost() int {
	switch e.op.Kind {
	case KindRead:
		r := e.op.Read
		return (r.PreFetch + r.PartSize + 2) * r.Parts
	case KindBusySignal:
		return e.op.Busy.PreFetch
	default:
		return 0
	}
}
