package mcp3xxx

import (
	"fmt"

	"periph.io/x/conn/v3/spi"
)

// Reader is the host side of the protocol: it issues conversions over any SPI
// connection wired to an MCP3xxx, real or emulated.
type Reader struct {
	conn   spi.Conn
	config Config
}

func NewReader(conn spi.Conn, config Config) *Reader {
	return &Reader{conn: conn, config: config}
}

// Frame builds the command for one conversion, padded with leading zeros to a
// whole number of bytes. The response occupies the last WordBits bits.
func Frame(config Config, differential bool, ch int) []byte {
	total := 2 + config.ChannelBits + config.WordBits()
	n := (total + 7) / 8
	pad := n*8 - total

	cmd := []bool{true, !differential}
	for i := config.ChannelBits - 1; i >= 0; i-- {
		cmd = append(cmd, (ch>>uint(i))&1 == 1)
	}

	frame := make([]byte, n)
	for i, b := range cmd {
		pos := pad + i
		if b {
			frame[pos/8] |= 0x80 >> uint(pos%8)
		}
	}
	return frame
}

// Word extracts the signed response code from a frame read back from the chip.
func Word(config Config, rx []byte) int {
	n := config.WordBits()
	total := len(rx) * 8
	word := make([]bool, n)
	for i := 0; i < n; i++ {
		pos := total - n + i
		word[i] = rx[pos/8]&(0x80>>uint(pos%8)) != 0
	}
	return signExtend(decode(word), n)
}

func (r *Reader) read(differential bool, ch int) (int, error) {
	if ch < 0 || ch >= r.config.Channels {
		return 0, fmt.Errorf("%w: %d", ErrChannelRange, ch)
	}
	w := Frame(r.config, differential, ch)
	rx := make([]byte, len(w))
	if err := r.conn.Tx(w, rx); err != nil {
		return 0, fmt.Errorf("mcp3xxx: reading channel %d: %w", ch, err)
	}
	return Word(r.config, rx), nil
}

// Read returns the raw single ended code of channel ch.
func (r *Reader) Read(ch int) (int, error) {
	return r.read(false, ch)
}

// ReadDifferential returns the raw code of ch measured against ch^1.
func (r *Reader) ReadDifferential(ch int) (int, error) {
	return r.read(true, ch)
}

// Value returns the single ended reading of ch as a fraction in [0, 1].
func (r *Reader) Value(ch int) (float64, error) {
	code, err := r.Read(ch)
	if err != nil {
		return 0, err
	}
	return Unscale(code, r.config.Bits), nil
}

func (r *Reader) Voltage(ch int) (float64, error) {
	value, err := r.Value(ch)
	if err != nil {
		return 0, err
	}
	return value * r.config.Vref, nil
}
