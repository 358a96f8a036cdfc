package sdspi

import (
	"periph.io/x/conn/v3/spi"

	"github.com/go-sdspi/sdspi/internal/engine"
)

// Bus is the full-duplex byte transport the command engine drives: one
// call transfers len(buf) bytes, overwriting buf in place with whatever
// the card drove back. Implementations must not reorder or buffer across
// calls.
type Bus = engine.Bus

// PeriphBus adapts a periph.io/x/conn/v3/spi.Conn, already configured for
// mode 0, MSB-first and the card's negotiated clock rate, to Bus.
type PeriphBus struct {
	Conn spi.Conn
}

// Transfer clocks buf out and reads the same length back into buf. periph
// SPI connections accept the same slice as both write and read buffer for
// exactly this in-place full-duplex shape.
func (b *PeriphBus) Transfer(buf []byte) error {
	return b.Conn.Tx(buf, buf)
}
