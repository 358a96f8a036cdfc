package sdspi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/gpio"
	log "github.com/sirupsen/logrus"

	"github.com/go-sdspi/sdspi/internal/engine"
)

const (
	blockSize          = 512
	checkPattern       = 0xAA
	maxACMD41Attempts  = 1000
	acmd41PollInterval = time.Millisecond
	scratchSize        = 1 + blockSize + 2 + 8 // prefetch + block + crc + headroom
)

// Card drives a single SD card over an SPI bus with a dedicated
// chip-select pin. The zero value is not usable; build one with New.
type Card struct {
	bus   Bus
	cs    gpio.PinOut
	clock Clock
	eng   *engine.Engine

	logger *slog.Logger

	preFetch        int
	dataPreFetch    int
	responseTimeout time.Duration
	blockTimeout    time.Duration

	scratch [scratchSize]byte

	blockAddressed bool // true once OCR confirms SDHC/SDXC (CCS=1)
	csd            CSD
	initialized    bool
}

// Option configures a Card at construction time.
type Option func(*Card)

// WithLogger sets the structured logger used for bring-up and capacity
// events. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Card) { c.logger = l }
}

// WithPreFetch sets how many idle bytes the transfer planner assumes it
// can read in the same SPI transaction as a command's R1 byte. Defaults
// to 1; raise it if the card is known to respond slower.
func WithPreFetch(n int) Option {
	return func(c *Card) { c.preFetch = n }
}

// WithDataPreFetch sets how many idle bytes the transfer planner assumes it
// can read in the same SPI transaction as a data block's start token, for
// every CMD9/CMD17/CMD18 read this Card issues. Defaults to 2; raise it if
// the card is known to take longer to begin a block than to answer R1.
func WithDataPreFetch(n int) Option {
	return func(c *Card) { c.dataPreFetch = n }
}

// WithResponseTimeout bounds how long Card waits for an R1/R7 byte.
// Defaults to 100ms.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Card) { c.responseTimeout = d }
}

// WithBlockTimeout bounds how long Card waits for a data block's start
// token once a read's R1 byte has arrived. Defaults to 200ms, generous
// enough for a card doing a read-ahead or running from a cold cache.
func WithBlockTimeout(d time.Duration) Option {
	return func(c *Card) { c.blockTimeout = d }
}

// New constructs a Card over bus, toggling cs low for the duration of each
// command transaction. clock supplies deadlines; pass nil to use the
// system clock.
func New(bus Bus, cs gpio.PinOut, clock Clock, opts ...Option) *Card {
	if clock == nil {
		clock = systemClock{}
	}
	c := &Card{
		bus:             bus,
		cs:              cs,
		clock:           clock,
		logger:          slog.Default(),
		preFetch:        1,
		dataPreFetch:    2,
		responseTimeout: 100 * time.Millisecond,
		blockTimeout:    200 * time.Millisecond,
	}
	c.eng = engine.New(bus, clock)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// command runs one transaction: select the card, frame and send index/arg,
// copy its response into response, walk op's tail, deselect, and clock out
// the trailing 0xFF byte the SD SPI protocol requires after CS goes high.
func (c *Card) command(index uint8, arg uint32, response []byte, op engine.Operation) error {
	if err := c.cs.Out(gpio.Low); err != nil {
		return fmt.Errorf("sdspi: chip select low: %w", err)
	}

	frame := engine.FrameCommand(index, arg)
	err := c.eng.Run(c.scratch[:], frame, c.preFetch, response, c.responseTimeout, op)

	if csErr := c.cs.Out(gpio.High); csErr != nil && err == nil {
		err = fmt.Errorf("sdspi: chip select high: %w", csErr)
	}
	var trailer [1]byte
	trailer[0] = 0xFF
	if txErr := c.bus.Transfer(trailer[:]); txErr != nil && err == nil {
		err = fmt.Errorf("sdspi: spi transfer: %w", txErr)
	}
	return err
}

// Init brings the card out of reset and into a known, addressable state:
// at least 74 idle clocks with CS high, CMD0 (GO_IDLE_STATE), CMD8
// (SEND_IF_COND, establishing this is a 2.7-3.6V host), the CMD55+ACMD41
// polling loop (SD_SEND_OP_COND), CMD58 (READ_OCR, to learn block vs byte
// addressing) and CMD59 (CRC_ON_OFF, enabling data CRC checking). It also
// reads the CSD register (CMD9) to learn the card's capacity.
func (c *Card) Init(ctx context.Context) error {
	if err := c.cs.Out(gpio.High); err != nil {
		return fmt.Errorf("sdspi: chip select high: %w", err)
	}
	idle := make([]byte, 10) // >= 74 clocks
	for i := range idle {
		idle[i] = 0xFF
	}
	if err := c.bus.Transfer(idle); err != nil {
		return fmt.Errorf("sdspi: power-up clocks: %w", err)
	}

	if err := c.cmd0(); err != nil {
		return wrapInitError(err)
	}
	if err := c.cmd8(); err != nil {
		return wrapInitError(err)
	}

	if err := c.initACMD41Loop(ctx); err != nil {
		return wrapInitError(err)
	}

	ccs, err := c.cmd58()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCardInitFailed, err)
	}
	c.blockAddressed = ccs

	if err := c.cmd59(true); err != nil {
		return fmt.Errorf("%w: %w", ErrCardInitFailed, err)
	}

	csd, err := c.readCSD()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCardInitFailed, err)
	}
	c.csd = csd
	c.initialized = true

	c.logger.Info("sd card initialized",
		"blockAddressed", c.blockAddressed,
		"blockSize", c.csd.BlockSize,
		"blockCount", c.csd.BlockCount,
		"capacityBytes", c.csd.Capacity(),
	)
	return nil
}

func (c *Card) cmd0() error {
	var r1 [1]byte
	if err := c.command(0, 0, r1[:], engine.None()); err != nil {
		return err
	}
	if r1[0] != 0x01 {
		return &BadR1Error{Command: 0, R1: r1[0]}
	}
	log.Debugf("sdspi: CMD0 -> r1=0x%02x", r1[0])
	return nil
}

// cmd8's R7 response is the R1 byte immediately followed by 4 more raw
// bytes with no start token or CRC framing, unlike a data read, so it
// rides on the engine's plain response copy rather than a Read operation.
func (c *Card) cmd8() error {
	arg := uint32(0b0001<<8) | checkPattern // voltage range 2.7-3.6V, our check pattern
	var r7 [5]byte
	if err := c.command(8, arg, r7[:], engine.None()); err != nil {
		return err
	}
	r1, tail := r7[0], r7[1:]
	if r1 != 0x01 {
		return &BadR1Error{Command: 8, R1: r1}
	}
	if tail[3] != checkPattern {
		return ErrCheckPatternMismatch
	}
	if tail[2]&0x0F != 0b0001 {
		return ErrVoltageNotSupported
	}
	log.Debugf("sdspi: CMD8 -> r1=0x%02x r7=% x", r1, tail)
	return nil
}

// initACMD41Loop is CMD55 followed by ACMD41(HCS=1) repeated until the
// card reports it has left the idle state (R1 bit 0 clears), or until
// either the context is cancelled or a generous attempt cap is hit.
func (c *Card) initACMD41Loop(ctx context.Context) error {
	for attempt := 0; attempt < maxACMD41Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var cmd55R1 [1]byte
		if err := c.command(55, 0, cmd55R1[:], engine.None()); err != nil {
			return err
		}
		if cmd55R1[0]&0xFE != 0 {
			return &BadR1Error{Command: 55, R1: cmd55R1[0]}
		}

		var acmd41R1 [1]byte
		if err := c.command(41, 1<<30, acmd41R1[:], engine.None()); err != nil {
			return err
		}
		if acmd41R1[0]&0xFE != 0 {
			return &BadR1Error{Command: 41, R1: acmd41R1[0]}
		}
		if acmd41R1[0]&0x01 == 0 {
			log.Debugf("sdspi: ACMD41 left idle state after %d attempt(s)", attempt+1)
			return nil
		}

		time.Sleep(acmd41PollInterval)
	}
	return fmt.Errorf("ACMD41 did not leave idle state after %d attempts", maxACMD41Attempts)
}

// wrapInitError maps a CMD0/CMD8/ACMD41 bring-up failure onto the sentinel
// a caller would want to errors.Is against: a response timeout that never
// saw the card drive MISO at all (DataSeen false) means nothing answered,
// while any other failure (a timeout with DataSeen true, a bad R1, a
// context cancellation) means a card answered but never finished bringing
// itself up.
func wrapInitError(err error) error {
	var timeout *engine.ResponseTimeoutError
	if errors.As(err, &timeout) && !timeout.DataSeen {
		return fmt.Errorf("%w: %w", ErrCardNotPresent, err)
	}
	return fmt.Errorf("%w: %w", ErrCardInitFailed, err)
}

// cmd58 reads the OCR and reports whether the card identified itself as
// high-capacity (CCS=1, block addressing) rather than standard-capacity
// (CCS=0, byte addressing).
func (c *Card) cmd58() (blockAddressed bool, err error) {
	var resp [5]byte
	if err = c.command(58, 0, resp[:], engine.None()); err != nil {
		return false, err
	}
	r1, ocrBytes := resp[0], resp[1:]
	if r1&0xFE != 0 {
		return false, &BadR1Error{Command: 58, R1: r1}
	}
	ocr := uint32(ocrBytes[0])<<24 | uint32(ocrBytes[1])<<16 | uint32(ocrBytes[2])<<8 | uint32(ocrBytes[3])
	poweredUp := ocr&(1<<31) != 0
	ccs := ocr&(1<<30) != 0
	log.Debugf("sdspi: CMD58 -> ocr=0x%08x poweredUp=%v ccs=%v", ocr, poweredUp, ccs)
	return ccs, nil
}

func (c *Card) cmd59(crcOn bool) error {
	var arg uint32
	if crcOn {
		arg = 1
	}
	var r1 [1]byte
	if err := c.command(59, arg, r1[:], engine.None()); err != nil {
		return err
	}
	if r1[0]&0xFE != 0 {
		return &BadR1Error{Command: 59, R1: r1[0]}
	}
	return nil
}

func (c *Card) readCSD() (CSD, error) {
	var r1 [1]byte
	var raw [16]byte
	err := c.command(9, 0, r1[:], engine.Read(engine.ReadOperation{
		Destination:  raw[:],
		Parts:        1,
		PartSize:     16,
		PreFetch:     c.dataPreFetch,
		CRCEnabled:   true,
		BlockTimeout: c.blockTimeout,
	}))
	if err != nil {
		return CSD{}, err
	}
	if r1[0] != 0 {
		return CSD{}, &BadR1Error{Command: 9, R1: r1[0]}
	}
	return decodeCSD(raw)
}

// Capacity returns the card's decoded CSD, valid only after a successful
// Init.
func (c *Card) Capacity() (CSD, error) {
	if !c.initialized {
		return CSD{}, ErrNotInitialized
	}
	return c.csd, nil
}

// ReadBlocks reads count blocks of blockSize bytes starting at block index
// start into dest, which must be at least count*512 bytes. A single block
// uses CMD17 (READ_SINGLE_BLOCK); more than one uses CMD18
// (READ_MULTIPLE_BLOCK) followed by CMD12 (STOP_TRANSMISSION).
func (c *Card) ReadBlocks(ctx context.Context, start int64, count int, dest []byte) error {
	if len(dest) < count*blockSize {
		return fmt.Errorf("sdspi: destination too small: need %d bytes, have %d", count*blockSize, len(dest))
	}
	return c.ReadAt(ctx, start*blockSize, dest[:count*blockSize])
}

// WriteBlocks is not implemented: block writes need a host-side write CRC
// and a data-response-token decode this driver doesn't drive yet.
func (c *Card) WriteBlocks(ctx context.Context, start int64, count int, data []byte) error {
	return ErrNotImplemented
}
