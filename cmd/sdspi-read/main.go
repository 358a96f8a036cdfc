// Command sdspi-read initializes an SD card over a real SPI port and dumps
// a range of blocks to stdout, for bring-up testing on real hardware.
package main

import (
	"context"
	"flag"
	"os"

	log "github.com/sirupsen/logrus"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/go-sdspi/sdspi"
)

func main() {
	log.SetLevel(log.DebugLevel)

	spiName := flag.String("spi", "", "SPI port name (e.g. /dev/spidev0.0), empty for the first available")
	csName := flag.String("cs", "", "chip-select GPIO pin name (e.g. GPIO24)")
	startBlock := flag.Int64("start", 0, "first block to read")
	count := flag.Int("count", 1, "number of 512-byte blocks to read")
	flag.Parse()

	if *csName == "" {
		log.Fatal("sdspi-read: -cs is required")
	}

	if _, err := host.Init(); err != nil {
		log.Fatalf("sdspi-read: host init: %v", err)
	}

	port, err := spireg.Open(*spiName)
	if err != nil {
		log.Fatalf("sdspi-read: open spi port: %v", err)
	}
	defer port.Close()

	conn, err := port.Connect(400*physic.KiloHertz, 0, 8)
	if err != nil {
		log.Fatalf("sdspi-read: connect spi: %v", err)
	}

	cs := gpioreg.ByName(*csName)
	if cs == nil {
		log.Fatalf("sdspi-read: unknown chip-select pin %q", *csName)
	}

	card := sdspi.New(&sdspi.PeriphBus{Conn: conn}, cs, nil)

	ctx := context.Background()
	if err := card.Init(ctx); err != nil {
		log.Fatalf("sdspi-read: init: %v", err)
	}

	csd, err := card.Capacity()
	if err != nil {
		log.Fatalf("sdspi-read: capacity: %v", err)
	}
	log.Infof("sdspi-read: %d blocks x %d bytes (%d bytes total)", csd.BlockCount, csd.BlockSize, csd.Capacity())

	buf := make([]byte, *count*512)
	if err := card.ReadBlocks(ctx, *startBlock, *count, buf); err != nil {
		log.Fatalf("sdspi-read: read blocks %d..%d: %v", *startBlock, *startBlock+int64(*count), err)
	}

	if _, err := os.Stdout.Write(buf); err != nil {
		log.Fatalf("sdspi-read: write stdout: %v", err)
	}
}
