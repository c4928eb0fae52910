// Package mcp3xxx emulates the Microchip MCP3xxx family of SPI analog to digital
// converters at the bit level, so code that clocks the chip's command protocol
// gets the same answers it would from real silicon.
//
// A Chip is driven one clock at a time with Transfer, or through the periph.io
// SPI port returned by NewPort:
//
//	chip, err := mcp3xxx.New(mcp3xxx.MCP3002)
//	chip.SetVoltage(1, 1.65)
//	port := mcp3xxx.NewPort("SPI0.0", chip)
//	conn, err := port.Connect(physic.MegaHertz, spi.Mode0, 8)
package mcp3xxx

import (
	"fmt"
	"math/bits"

	"go.uber.org/multierr"
)

const DefaultVref = 3.3

// Config describes a chip variant. All variants share the same protocol and
// differ only in these parameters.
type Config struct {
	Name        string
	Vref        float64
	Channels    int
	ChannelBits int
	Bits        int
}

var (
	MCP3002 = Config{Name: "MCP3002", Vref: DefaultVref, Channels: 2, ChannelBits: 1, Bits: 10}
	MCP3202 = Config{Name: "MCP3202", Vref: DefaultVref, Channels: 2, ChannelBits: 1, Bits: 12}
	MCP3004 = Config{Name: "MCP3004", Vref: DefaultVref, Channels: 4, ChannelBits: 3, Bits: 10}
	MCP3008 = Config{Name: "MCP3008", Vref: DefaultVref, Channels: 8, ChannelBits: 3, Bits: 10}
	MCP3204 = Config{Name: "MCP3204", Vref: DefaultVref, Channels: 4, ChannelBits: 3, Bits: 12}
	MCP3208 = Config{Name: "MCP3208", Vref: DefaultVref, Channels: 8, ChannelBits: 3, Bits: 12}
)

// WithVref returns a copy of c using the given reference voltage.
func (c Config) WithVref(vref float64) Config {
	c.Vref = vref
	return c
}

// WordBits is the number of bits clocked out for one result.
func (c Config) WordBits() int {
	return c.Bits + 2
}

func (c Config) Validate() error {
	var err error
	if !(c.Vref > 0) {
		err = multierr.Append(err, fmt.Errorf("reference voltage must be positive, got %v", c.Vref))
	}
	if c.Channels <= 0 {
		err = multierr.Append(err, fmt.Errorf("channel count must be positive, got %d", c.Channels))
	}
	if c.ChannelBits <= 0 {
		err = multierr.Append(err, fmt.Errorf("channel address width must be positive, got %d", c.ChannelBits))
	} else if c.Channels > 0 && bits.Len(uint(c.Channels-1)) > c.ChannelBits {
		err = multierr.Append(err, fmt.Errorf("%d channels cannot be addressed with %d bits", c.Channels, c.ChannelBits))
	}
	// the result word is shifted through a uint32
	if c.Bits <= 0 || c.Bits > 30 {
		err = multierr.Append(err, fmt.Errorf("resolution must be between 1 and 30 bits, got %d", c.Bits))
	}
	return err
}
