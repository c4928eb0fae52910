package mcp3xxx

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sync"

	"go.uber.org/atomic"
)

type State int

const (
	StateIdle State = iota
	StateModeSelect
	StateSingleEnded
	StateDifferential
	StateResult
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateModeSelect:
		return "mode-select"
	case StateSingleEnded:
		return "single-ended"
	case StateDifferential:
		return "differential"
	case StateResult:
		return "result"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrChannelRange   = errors.New("channel out of range")
	ErrInvalidVoltage = errors.New("voltage is not a number")
)

// Chip is one emulated converter. The protocol side is meant to be clocked by a
// single driver; channel voltages may be set from any goroutine.
type Chip struct {
	config   Config
	channels []*atomic.Float64

	mu    sync.Mutex
	state State
	rx    []bool
	tx    []bool
}

func New(config Config) (*Chip, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("mcp3xxx: invalid %s config: %w", config.Name, err)
	}
	channels := make([]*atomic.Float64, config.Channels)
	for i := range channels {
		channels[i] = atomic.NewFloat64(0)
	}
	return &Chip{
		config:   config,
		channels: channels,
		state:    StateIdle,
	}, nil
}

func (c *Chip) Config() Config {
	return c.config
}

// SetVoltage sets the analog input of channel ch. Out of range voltages are
// accepted and clamped at conversion time. NaN is rejected.
func (c *Chip) SetVoltage(ch int, v float64) error {
	if ch < 0 || ch >= len(c.channels) {
		return fmt.Errorf("%w: %d", ErrChannelRange, ch)
	}
	if math.IsNaN(v) {
		return fmt.Errorf("%w: channel %d", ErrInvalidVoltage, ch)
	}
	c.channels[ch].Store(v)
	return nil
}

func (c *Chip) Voltage(ch int) (float64, error) {
	if ch < 0 || ch >= len(c.channels) {
		return 0, fmt.Errorf("%w: %d", ErrChannelRange, ch)
	}
	return c.channels[ch].Load(), nil
}

// Reset starts a new transaction, as when chip select is asserted.
func (c *Chip) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
	c.rx = c.rx[:0]
	c.tx = c.tx[:0]
}

// Latch appends a received bit to the input accumulator without advancing
// the protocol. OnBit must follow.
func (c *Chip) Latch(bit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rx = append(c.rx, bit)
}

// OnBit advances the protocol after a bit has been latched.
func (c *Chip) OnBit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onBit()
}

// Receive latches one bit and advances the protocol.
func (c *Chip) Receive(bit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rx = append(c.rx, bit)
	c.onBit()
}

// Transmit pops the next output bit. ok is false when nothing is pending, in
// which case the line reads low.
func (c *Chip) Transmit() (bit bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transmit()
}

// Transfer performs one full clock: the pending output bit is shifted out,
// then in is shifted in and the protocol advances.
func (c *Chip) Transfer(in bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, _ := c.transmit()
	c.rx = append(c.rx, in)
	c.onBit()
	return out
}

func (c *Chip) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Received returns a copy of the input accumulator.
func (c *Chip) Received() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.rx...)
}

// Pending returns a copy of the output bits not yet transmitted.
func (c *Chip) Pending() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.tx...)
}

// Result computes the code the chip reports for channel ch. In differential
// mode ch is measured against its pair ch^1.
func (c *Chip) Result(differential bool, ch int) (int, error) {
	if ch < 0 || ch >= len(c.channels) {
		return 0, fmt.Errorf("%w: %d", ErrChannelRange, ch)
	}
	var v float64
	if differential {
		neg := ch ^ 1
		if neg >= len(c.channels) {
			return 0, fmt.Errorf("%w: %d has no differential pair", ErrChannelRange, ch)
		}
		v = c.channels[ch].Load() - c.channels[neg].Load()
	} else {
		v = c.channels[ch].Load()
	}
	v = clamp(v, 0, c.config.Vref)
	return Scale(v, c.config.Vref, c.config.Bits), nil
}

func (c *Chip) transmit() (bool, bool) {
	if len(c.tx) == 0 {
		return false, false
	}
	bit := c.tx[0]
	c.tx = c.tx[1:]
	return bit, true
}

func (c *Chip) transition(s State) {
	c.state = s
	c.rx = c.rx[:0]
}

func (c *Chip) tail() bool {
	return len(c.rx) > 0 && c.rx[len(c.rx)-1]
}

func (c *Chip) addressMask() int {
	return 1<<bits.Len(uint(c.config.Channels-1)) - 1
}

func (c *Chip) onBit() {
	switch c.state {
	case StateIdle:
		if c.tail() {
			c.transition(StateModeSelect)
		}
	case StateModeSelect:
		if len(c.rx) == 0 {
			return
		}
		if c.tail() {
			c.transition(StateSingleEnded)
		} else {
			c.transition(StateDifferential)
		}
	case StateSingleEnded, StateDifferential:
		if len(c.rx) == c.config.ChannelBits {
			// unused high address bits are don't care, as on the MCP3004
			ch := decode(c.rx) & c.addressMask()
			result, err := c.Result(c.state == StateDifferential, ch)
			if err != nil {
				panic(fmt.Sprintf("mcp3xxx: %s addressed by driver: %v", c.config.Name, err))
			}
			c.tx = append(c.tx[:0], encode(result, c.config.WordBits())...)
			c.transition(StateResult)
		}
	case StateResult:
		if len(c.tx) == 0 {
			c.transition(StateIdle)
		}
	default:
		panic(fmt.Sprintf("mcp3xxx: unreachable protocol state %v", c.state))
	}
}
