package engine

import "github.com/go-sdspi/sdspi/internal/crc"

// FrameCommand builds the 6-byte SD SPI command frame for a command index
// (0-63) and argument: byte 0 is the start/transmission bits plus the
// command index, bytes 1-4 are the big-endian argument, byte 5 is
// CRC-7/MMC over bytes 0-4 with the end bit set.
func FrameCommand(index uint8, argument uint32) [6]byte {
	var frame [6]byte
	frame[0] = 0b0100_0000 | (index & 0x3F)
	frame[1] = byte(argument >> 24)
	frame[2] = byte(argument >> 16)
	frame[3] = byte(argument >> 8)
	frame[4] = byte(argument)
	frame[5] = (crc.MMC(frame[:5]) << 1) | 0x01
	return frame
}
