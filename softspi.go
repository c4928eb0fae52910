package main

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"gobot.io/x/gobot/v2/drivers/gpio"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/spi"
)

type DigitalIO interface {
	gpio.DigitalWriter
	gpio.DigitalReader
}

// SoftSPI is a mode 0 SPI master bit-banged over four GPIO lines, the way a
// program without a hardware SPI block talks to an MCP3002.
type SoftSPI struct {
	io                     DigitalIO
	clock, mosi, miso, sel string

	mu sync.Mutex
}

var _ spi.Conn = (*SoftSPI)(nil)

func NewSoftSPI(io DigitalIO, clock, mosi, miso, sel int) (*SoftSPI, error) {
	s := &SoftSPI{
		io:    io,
		clock: strconv.Itoa(clock),
		mosi:  strconv.Itoa(mosi),
		miso:  strconv.Itoa(miso),
		sel:   strconv.Itoa(sel),
	}
	if err := s.io.DigitalWrite(s.sel, 1); err != nil {
		return nil, err
	}
	if err := s.io.DigitalWrite(s.clock, 0); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SoftSPI) String() string {
	return fmt.Sprintf("softspi(clk=%v mosi=%v miso=%v cs=%v)", s.clock, s.mosi, s.miso, s.sel)
}

func (s *SoftSPI) Duplex() conn.Duplex {
	return conn.Full
}

func (s *SoftSPI) Halt() error {
	return nil
}

func (s *SoftSPI) Tx(w, r []byte) error {
	return s.TxPackets([]spi.Packet{{W: w, R: r}})
}

func (s *SoftSPI) TxPackets(packets []spi.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.io.DigitalWrite(s.sel, 0); err != nil {
		return errors.Wrap(err, "asserting chip select")
	}
	for _, p := range packets {
		if len(p.R) != 0 && len(p.R) != len(p.W) {
			return errors.Errorf("read buffer length %d does not match write length %d", len(p.R), len(p.W))
		}
		for i, b := range p.W {
			in, err := s.clockByte(b)
			if err != nil {
				return err
			}
			if len(p.R) != 0 {
				p.R[i] = in
			}
		}
	}
	return errors.Wrap(s.io.DigitalWrite(s.sel, 1), "releasing chip select")
}

func (s *SoftSPI) clockByte(out byte) (byte, error) {
	var in byte
	for j := 7; j >= 0; j-- {
		if err := s.io.DigitalWrite(s.mosi, out>>uint(j)&1); err != nil {
			return 0, err
		}
		v, err := s.io.DigitalRead(s.miso)
		if err != nil {
			return 0, err
		}
		if v != 0 {
			in |= 1 << uint(j)
		}
		if err := s.io.DigitalWrite(s.clock, 1); err != nil {
			return 0, err
		}
		if err := s.io.DigitalWrite(s.clock, 0); err != nil {
			return 0, err
		}
	}
	return in, nil
}
