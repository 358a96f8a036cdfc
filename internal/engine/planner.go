package engine

// planTransferLen computes how many bytes the next SPI transfer should
// move: an optimistic request for everything the current phase could
// possibly still need, clipped to the scratch buffer the caller gave us.
// It never returns zero: a phase that can't make progress on at least
// one byte is a planner bug, not a runtime condition.
func (e *Engine) planTransferLen() int {
	n := e.optimisticLen()
	if n > len(e.scratch) {
		n = len(e.scratch)
	}
	if n < 1 {
		panic("sdspi/engine: planner computed a zero-length transfer")
	}
	return n
}

// optimisticLen is the byte count the current phase would consume if the
// card responded as fast as physically possible: no idle 0xFF filler
// beyond what the caller already told us to expect (preFetchResponse,
// PreFetch) and no repeated polling passes.
func (e *Engine) optimisticLen() int {
	switch e.phase {
	case phaseSendCommand:
		return (6 - e.bytesSent) + e.preFetchResponse + len(e.response) + e.tailCost()

	case phaseAwaitResponseStart:
		return e.preFetchResponse + len(e.response) + e.tailCost()

	case phaseCopyResponse:
		return (len(e.response) - e.responseCopied) + e.tailCost()

	case phaseAwaitBusyRelease:
		return e.op.Busy.PreFetch

	case phaseAwaitStartToken:
		r := e.op.Read
		return (r.PreFetch + r.PartSize + 2) * (r.Parts - e.partsDone)

	case phaseReceiveData:
		r := e.op.Read
		remainingParts := r.Parts - e.partsDone - 1
		return (r.PartSize - e.bytesInPart) + 2 + (r.PreFetch+r.PartSize+2)*remainingParts

	case phaseReceiveCRC:
		r := e.op.Read
		remainingParts := r.Parts - e.partsDone - 1
		haveHigh := 0
		if e.haveCRCHighByte {
			haveHigh = 1
		}
		return (2 - haveHigh) + (r.PreFetch+r.PartSize+2)*remainingParts

	default:
		panic("sdspi/engine: planner hit an unhandled phase")
	}
}

// primeBuffer fills scratch[:n] with whatever the bus should clock out for
// the next transfer: the remaining command bytes while still sending the
// command, 0xFF idle filler everywhere else (the card only drives MISO
// meaningfully; our MOSI output during response/data phases is ignored).
func (e *Engine) primeBuffer(n int) {
	if e.phase == phaseSendCommand {
		copyLen := 6 - e.bytesSent
		if copyLen > n {
			copyLen = n
		}
		copy(e.scratch[:copyLen], e.command[e.bytesSent:e.bytesSent+copyLen])
		for i := copyLen; i < n; i++ {
			e.scratch[i] = 0xFF
		}
		return
	}
	for i := 0; i < n; i++ {
		e.scratch[i] = 0xFF
	}
}
