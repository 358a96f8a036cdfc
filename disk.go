package sdspi

import (
	"context"
	"fmt"

	"github.com/go-sdspi/sdspi/internal/engine"
)

// Disk is a byte-addressable view of a block device: reads and writes may
// start at any byte offset and carry any length, and the device handles
// the block alignment underneath. The device's length never changes.
type Disk interface {
	ReadAt(ctx context.Context, offset int64, buf []byte) error
	WriteAt(ctx context.Context, offset int64, data []byte) error
}

var _ Disk = (*Card)(nil)

// ReadAt reads len(buf) bytes starting at byte offset into buf. The
// offset and length need not be block-aligned: the leading partial block
// is consumed through the engine's skip-prefix path and the trailing
// partial block is clipped, so no staging buffer is needed on either
// side. Every block touched is still CRC-checked in full.
func (c *Card) ReadAt(ctx context.Context, offset int64, buf []byte) error {
	if !c.initialized {
		return ErrNotInitialized
	}
	if offset < 0 {
		return fmt.Errorf("sdspi: negative read offset %d", offset)
	}
	if len(buf) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	firstBlock := offset / blockSize
	skip := int(offset % blockSize)
	parts := (skip + len(buf) + blockSize - 1) / blockSize

	addr := firstBlock
	if !c.blockAddressed {
		addr *= blockSize
	}

	op := engine.ReadOperation{
		Destination:  buf,
		Parts:        parts,
		PartSize:     blockSize,
		PreFetch:     c.dataPreFetch,
		CRCEnabled:   true,
		SkipPrefix:   skip,
		BlockTimeout: c.blockTimeout,
	}

	if parts == 1 {
		var r1 [1]byte
		if err := c.command(17, uint32(addr), r1[:], engine.Read(op)); err != nil {
			return fmt.Errorf("%w: %w", ErrReadFailed, err)
		}
		if r1[0] != 0 {
			return fmt.Errorf("%w: %w", ErrReadFailed, &BadR1Error{Command: 17, R1: r1[0]})
		}
		return nil
	}

	var r1 [1]byte
	if err := c.command(18, uint32(addr), r1[:], engine.Read(op)); err != nil {
		return fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	if r1[0] != 0 {
		return fmt.Errorf("%w: %w", ErrReadFailed, &BadR1Error{Command: 18, R1: r1[0]})
	}

	var stopR1 [1]byte
	// CMD12's R1 arrives after one throwaway "stuff" byte, then the card
	// may hold MISO low while it finishes the aborted stream.
	if err := c.command(12, 0, stopR1[:], engine.BusySignal(1)); err != nil {
		return fmt.Errorf("%w: CMD12: %w", ErrReadFailed, err)
	}
	if stopR1[0] != 0 {
		return fmt.Errorf("%w: %w", ErrReadFailed, &BadR1Error{Command: 12, R1: stopR1[0]})
	}
	return nil
}

// WriteAt is not implemented, for the same reason WriteBlocks isn't.
func (c *Card) WriteAt(ctx context.Context, offset int64, data []byte) error {
	return ErrNotImplemented
}
