// Package sdspi implements host-side access to SD/SDHC/SDXC cards over a
// raw SPI bus: the command framing and CRC checksums the cards expect, the
// bring-up sequence that gets a card from reset to a known, addressable
// state, and block reads against it once it's there.
//
// The protocol-level command transaction engine (command framing,
// response recognition, and data-block transfer planning) lives in
// internal/engine and has no SPI or GPIO dependency of its own; this
// package supplies the Bus and Clock it needs and owns chip-select timing
// around each transaction.
package sdspi
