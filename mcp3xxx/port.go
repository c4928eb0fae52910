package mcp3xxx

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

var ErrClosed = errors.New("mcp3xxx: port closed")

// Port exposes a Chip as a periph.io SPI port. Each Tx asserts chip select for
// its duration, so every transaction starts from Reset.
type Port struct {
	name string
	chip *Chip

	mu       sync.Mutex
	maxSpeed physic.Frequency
	closed   bool
}

var _ spi.PortCloser = (*Port)(nil)

func NewPort(name string, chip *Chip) *Port {
	return &Port{name: name, chip: chip}
}

func (p *Port) String() string {
	return p.name
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Port) LimitSpeed(f physic.Frequency) error {
	if f <= 0 {
		return fmt.Errorf("mcp3xxx: invalid speed %s", f)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxSpeed = f
	return nil
}

func (p *Port) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if bits != 8 {
		return nil, fmt.Errorf("mcp3xxx: %d bits per word not supported", bits)
	}
	if mode&spi.HalfDuplex != 0 {
		return nil, errors.New("mcp3xxx: half duplex not supported")
	}
	if p.maxSpeed > 0 && f > p.maxSpeed {
		f = p.maxSpeed
	}
	return &Conn{port: p, freq: f, lsbFirst: mode&spi.LSBFirst != 0}, nil
}

func (p *Port) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Conn is a connection to an emulated chip.
type Conn struct {
	port     *Port
	freq     physic.Frequency
	lsbFirst bool

	mu     sync.Mutex
	keepCS bool
}

var _ spi.Conn = (*Conn)(nil)

func (c *Conn) String() string {
	return fmt.Sprintf("%s@%s", c.port.name, c.freq)
}

func (c *Conn) Duplex() conn.Duplex {
	return conn.Full
}

func (c *Conn) Halt() error {
	return nil
}

func (c *Conn) Tx(w, r []byte) error {
	return c.TxPackets([]spi.Packet{{W: w, R: r}})
}

func (c *Conn) TxPackets(packets []spi.Packet) error {
	if c.port.isClosed() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range packets {
		if p.BitsPerWord != 0 && p.BitsPerWord != 8 {
			return fmt.Errorf("mcp3xxx: %d bits per word not supported", p.BitsPerWord)
		}
		if len(p.R) != 0 && len(p.R) != len(p.W) {
			return fmt.Errorf("mcp3xxx: read buffer length %d does not match write length %d", len(p.R), len(p.W))
		}
		if !c.keepCS {
			c.port.chip.Reset()
		}
		for i, b := range p.W {
			var in byte
			for j := 0; j < 8; j++ {
				shift := uint(7 - j)
				if c.lsbFirst {
					shift = uint(j)
				}
				if c.port.chip.Transfer(b>>shift&1 == 1) {
					in |= 1 << shift
				}
			}
			if len(p.R) != 0 {
				p.R[i] = in
			}
		}
		c.keepCS = p.KeepCS
	}
	return nil
}
