package sdspi

import (
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/go-sdspi/sdspi/internal/crc"
)

// fakeCard is a command-level SD-over-SPI emulator used to exercise Card's
// public API end to end. It implements both Bus (the SPI transport) and
// gpio.PinOut (chip select) on the same value so the chip-select line can
// gate the protocol state machine the way a real card's CS pin does:
// deselecting always aborts whatever command or data phase was in
// progress.
type fakeCard struct {
	storage []byte
	csd     [16]byte

	selected bool
	ready    bool
	sawCMD55 bool

	state  cardState
	cmdBuf [6]byte
	cmdLen int

	respBuf []byte
	respPos int

	queue      [][]byte
	sub        dataSubPhase
	payloadPos int
	crcHi      byte
	crcLo      byte

	pendingBusy   int
	busyRemaining int

	// badR1 forces command index badR1Cmd to answer with badR1Value instead
	// of its normal response, to exercise Card's BadR1Error path.
	badR1Cmd   int
	badR1Value byte

	// corruptNextCRC flips a bit of the next data block's trailing CRC-16,
	// independent of the block's actual content, to exercise the read-side
	// CRC mismatch path without having to desync the payload itself.
	corruptNextCRC bool

	// silent makes Transfer behave like an empty bus: MISO never leaves
	// 0xFF, as if nothing were wired to the host's SPI lines at all, to
	// exercise Card.Init's card-not-present path.
	silent bool
}

type cardState int

const (
	stateIdle cardState = iota
	stateSendingResponse
	stateSendingData
	stateBusy
)

type dataSubPhase int

const (
	subToken dataSubPhase = iota
	subPayload
	subCRCHi
	subCRCLo
)

func newFakeCard(blockCount int) *fakeCard {
	storage := make([]byte, blockCount*blockSize)
	for i := range storage {
		storage[i] = byte(i % 256)
	}
	return &fakeCard{storage: storage, csd: buildTestCSD(int64(blockCount)), badR1Cmd: -1}
}

func buildTestCSD(blockCount int64) [16]byte {
	var raw [16]byte
	setCSDBitsForTest(&raw, 127, 2, 1)
	setCSDBitsForTest(&raw, 69, 22, uint64(blockCount/1024-1))
	return raw
}

// Out implements gpio.PinOut: Low asserts chip select, High releases it.
// Releasing always drops whatever command or data phase was mid-flight,
// the same as power-cycling the card's view of the current transaction.
func (c *fakeCard) Out(level gpio.Level) error {
	c.selected = level == gpio.Low
	if !c.selected {
		c.cmdLen = 0
		c.state = stateIdle
		c.queue = nil
		c.pendingBusy = 0
	}
	return nil
}

func (c *fakeCard) String() string                       { return "fakeCard" }
func (c *fakeCard) Halt() error                           { return nil }
func (c *fakeCard) Name() string                          { return "fakeCardCS" }
func (c *fakeCard) Number() int                           { return -1 }
func (c *fakeCard) Function() string                      { return "" }
func (c *fakeCard) PWM(gpio.Duty, physic.Frequency) error { return nil }

// Transfer implements Bus: it runs the emulator's state machine one byte at
// a time over buf, overwriting each byte in place with the card's reply.
func (c *fakeCard) Transfer(buf []byte) error {
	for i, b := range buf {
		buf[i] = c.step(b)
	}
	return nil
}

func (c *fakeCard) step(in byte) byte {
	if c.silent || !c.selected {
		return 0xFF
	}

	switch c.state {
	case stateBusy:
		if c.busyRemaining > 0 {
			c.busyRemaining--
			return 0x00
		}
		c.state = stateIdle
		return 0xFF

	case stateSendingResponse:
		if c.respPos < len(c.respBuf) {
			b := c.respBuf[c.respPos]
			c.respPos++
			return b
		}
		switch {
		case c.pendingBusy > 0:
			c.busyRemaining = c.pendingBusy - 1
			c.pendingBusy = 0
			c.state = stateBusy
			return 0x00
		case len(c.queue) > 0:
			c.state = stateSendingData
			c.sub = subToken
			return c.sendDataByte()
		default:
			c.state = stateIdle
			return 0xFF
		}

	case stateSendingData:
		return c.sendDataByte()

	default: // stateIdle
		return c.receiveCommandByte(in)
	}
}

func (c *fakeCard) receiveCommandByte(b byte) byte {
	if c.cmdLen == 0 && b&0xC0 != 0x40 {
		return 0xFF
	}
	c.cmdBuf[c.cmdLen] = b
	c.cmdLen++
	if c.cmdLen < 6 {
		return 0xFF
	}
	c.cmdLen = 0
	c.execute()
	c.state = stateSendingResponse
	c.respPos = 0
	return 0xFF
}

func (c *fakeCard) execute() {
	idx := int(c.cmdBuf[0] & 0x3F)
	arg := uint32(c.cmdBuf[1])<<24 | uint32(c.cmdBuf[2])<<16 | uint32(c.cmdBuf[3])<<8 | uint32(c.cmdBuf[4])

	isACMD := c.sawCMD55
	c.sawCMD55 = false

	if idx == c.badR1Cmd {
		c.respBuf = []byte{c.badR1Value}
		return
	}

	switch {
	case isACMD && idx == 41:
		c.ready = true
		c.respBuf = []byte{0x00}

	case idx == 0:
		c.ready = false
		c.respBuf = []byte{0x01}

	case idx == 8:
		c.respBuf = []byte{0x01, 0x00, 0x00, byte(arg>>8) & 0x0F, byte(arg)}

	case idx == 55:
		c.sawCMD55 = true
		r1 := byte(0x01)
		if c.ready {
			r1 = 0x00
		}
		c.respBuf = []byte{r1}

	case idx == 58:
		r1 := byte(0x01)
		ocr := uint32(0x00FF8000)
		if c.ready {
			r1 = 0x00
			ocr = 0xC0FF8000 // powered up, CCS=1: block-addressed (SDHC)
		}
		c.respBuf = []byte{r1, byte(ocr >> 24), byte(ocr >> 16), byte(ocr >> 8), byte(ocr)}

	case idx == 59:
		c.respBuf = []byte{0x00}

	case idx == 9:
		c.respBuf = []byte{0x00}
		c.queue = [][]byte{c.csd[:]}

	case idx == 17:
		c.respBuf = []byte{0x00}
		c.queue = c.blocksFrom(arg, 1)

	case idx == 18:
		c.respBuf = []byte{0x00}
		c.queue = c.blocksFrom(arg, c.blockCount()-int(arg))

	case idx == 12:
		c.respBuf = []byte{0xFF, 0x00} // turnaround byte, then R1=0x00
		c.queue = nil
		c.pendingBusy = 2

	default:
		c.respBuf = []byte{0x04} // illegal command
	}
}

func (c *fakeCard) blockCount() int { return len(c.storage) / blockSize }

func (c *fakeCard) blocksFrom(start uint32, n int) [][]byte {
	if n <= 0 {
		return nil
	}
	blocks := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		off := (int(start) + i) * blockSize
		blocks = append(blocks, c.storage[off:off+blockSize])
	}
	return blocks
}

// sendDataByte streams the head of queue: a start token, its payload bytes,
// then the CRC-16/XMODEM trailer computed over exactly that payload, using
// this module's own CRC engine.
func (c *fakeCard) sendDataByte() byte {
	switch c.sub {
	case subToken:
		c.sub = subPayload
		c.payloadPos = 0
		return 0xFE

	case subPayload:
		cur := c.queue[0]
		b := cur[c.payloadPos]
		c.payloadPos++
		if c.payloadPos >= len(cur) {
			sum := crc.Sum16(cur)
			if c.corruptNextCRC {
				sum ^= 0x0001
				c.corruptNextCRC = false
			}
			c.crcHi, c.crcLo = byte(sum>>8), byte(sum)
			c.sub = subCRCHi
		}
		return b

	case subCRCHi:
		c.sub = subCRCLo
		return c.crcHi

	default: // subCRCLo
		c.queue = c.queue[1:]
		c.sub = subToken
		if len(c.queue) == 0 {
			c.state = stateIdle
		}
		return c.crcLo
	}
}

// fakeClock is a manually-advanced Clock, mirroring internal/engine's own
// test clock, for tests that need to force a timeout deterministically.
type fakeClock struct{ now time.Time }

func newFakeClock() *fakeClock               { return &fakeClock{now: time.Unix(0, 0)} }
func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }
