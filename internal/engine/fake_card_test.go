package engine

import "time"

// fakeClock is a manually-advanced Clock so deadline-dependent phases
// (response timeout, data timeout) can be driven deterministically instead
// of racing a real timer.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeBus is a scripted SPI transport: rather than modeling chip-select
// and command parsing byte by byte, it just hands back a pre-built "wire"
// of bytes the card would have driven onto MISO, one Transfer call's worth
// at a time, however the engine chooses to chunk its requests. Exhausting
// the wire yields 0xFF filler, the same idle level a deselected or
// not-yet-responding card drives.
//
// Each Transfer call also runs clockAdvance(n), letting a test simulate
// "the card takes this long to produce the next byte" without a real
// clock.
type fakeBus struct {
	wire          []byte
	pos           int
	transfers     [][]byte
	clockAdvance  func(n int)
	transferError error
}

func newFakeBus(wire []byte) *fakeBus {
	return &fakeBus{wire: wire}
}

func (b *fakeBus) Transfer(buf []byte) error {
	if b.transferError != nil {
		return b.transferError
	}
	got := make([]byte, len(buf))
	for i := range buf {
		if b.pos < len(b.wire) {
			got[i] = b.wire[b.pos]
			b.pos++
		} else {
			got[i] = 0xFF
		}
	}
	b.transfers = append(b.transfers, got)
	copy(buf, got)
	if b.clockAdvance != nil {
		b.clockAdvance(len(buf))
	}
	return nil
}

// withCommandPreamble prepends 6 don't-care bytes to rest, standing in for
// the bytes the bus returns while the engine is still clocking out the
// 6-byte command frame itself; the engine discards whatever MISO carries
// during that phase, so their value never matters.
func withCommandPreamble(rest []byte) []byte {
	wire := make([]byte, 6, 6+len(rest))
	for i := range wire {
		wire[i] = 0xFF
	}
	return append(wire, rest...)
}

// r1Wire builds the MISO byte stream for a command with idleBytes 0xFF
// filler bytes before a single R1 response byte.
func r1Wire(idleBytes int, r1 byte) []byte {
	wire := make([]byte, idleBytes+1)
	for i := 0; i < idleBytes; i++ {
		wire[i] = 0xFF
	}
	wire[idleBytes] = r1
	return wire
}

// readBlockWire appends a start token, a data block and its CRC-16/XMODEM
// trailer to wire, returning the extended slice. tokenIdle is the number
// of 0xFF bytes before the start token.
func readBlockWire(wire []byte, tokenIdle int, block []byte, crcHi, crcLo byte) []byte {
	for i := 0; i < tokenIdle; i++ {
		wire = append(wire, 0xFF)
	}
	wire = append(wire, startBlockToken)
	wire = append(wire, block...)
	wire = append(wire, crcHi, crcLo)
	return wire
}
