package mcp3xxx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMCP3002(t *testing.T, voltages ...float64) *Chip {
	t.Helper()
	chip, err := New(MCP3002)
	require.NoError(t, err)
	for ch, v := range voltages {
		require.NoError(t, chip.SetVoltage(ch, v))
	}
	return chip
}

// clock drives one transaction and returns the word shifted out after the
// address bits.
func clock(t *testing.T, chip *Chip, differential bool, ch int) int {
	t.Helper()
	cfg := chip.Config()
	chip.Reset()
	chip.Transfer(true)
	chip.Transfer(!differential)
	for i := cfg.ChannelBits - 1; i >= 0; i-- {
		chip.Transfer((ch>>uint(i))&1 == 1)
	}
	require.Equal(t, StateResult, chip.State())
	require.Len(t, chip.Pending(), cfg.WordBits())

	word := make([]bool, cfg.WordBits())
	for i := range word {
		word[i] = chip.Transfer(false)
	}
	return signExtend(decode(word), cfg.WordBits())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"zero vref", MCP3002.WithVref(0)},
		{"negative vref", MCP3002.WithVref(-3.3)},
		{"no channels", Config{Name: "x", Vref: 3.3, Channels: 0, ChannelBits: 1, Bits: 10}},
		{"no address bits", Config{Name: "x", Vref: 3.3, Channels: 2, ChannelBits: 0, Bits: 10}},
		{"too few address bits", Config{Name: "x", Vref: 3.3, Channels: 8, ChannelBits: 2, Bits: 10}},
		{"no resolution", Config{Name: "x", Vref: 3.3, Channels: 2, ChannelBits: 1, Bits: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			assert.Error(t, err)
		})
	}
}

func TestPresetsAreValid(t *testing.T) {
	for _, cfg := range []Config{MCP3002, MCP3202, MCP3004, MCP3008, MCP3204, MCP3208} {
		assert.NoError(t, cfg.Validate(), cfg.Name)
	}
}

func TestSingleEndedFullScaleAndZero(t *testing.T) {
	chip := newMCP3002(t, 3.3, 0.0)

	code, err := chip.Result(false, 0)
	require.NoError(t, err)
	assert.Equal(t, 1023, code)

	code, err = chip.Result(false, 1)
	require.NoError(t, err)
	assert.Equal(t, -1024, code)
}

func TestDifferentialFullScale(t *testing.T) {
	chip := newMCP3002(t, 3.3, 0.0)

	code, err := chip.Result(true, 0)
	require.NoError(t, err)
	assert.Equal(t, 1023, code)

	// 0.0 - 3.3 clamps to zero
	code, err = chip.Result(true, 1)
	require.NoError(t, err)
	assert.Equal(t, -1024, code)
}

// expectedCode is the datasheet transfer function written out directly:
// round((v/ref)*(2^(bits+1)-1) - 2^bits) after clamping v to [0, ref].
func expectedCode(v, ref float64, bits int) int {
	v = math.Min(ref, math.Max(0, v))
	full := math.Exp2(float64(bits))
	return int(math.Round(v/ref*(2*full-1) - full))
}

func TestSingleEndedTransferFunction(t *testing.T) {
	chip := newMCP3002(t)
	for _, v := range []float64{0, 0.1, 0.5, 1.0, 2.2, 3.0, 3.29, 3.3} {
		for ch := 0; ch < 2; ch++ {
			require.NoError(t, chip.SetVoltage(ch, v))
			code, err := chip.Result(false, ch)
			require.NoError(t, err)
			assert.Equal(t, expectedCode(v, 3.3, 10), code, "v=%v ch=%d", v, ch)
		}
	}

	tests := []struct {
		v    float64
		code int
	}{
		{0, -1024},
		{0.5, -714},
		{1.65, -1},
		{3.3, 1023},
	}
	for _, tt := range tests {
		require.NoError(t, chip.SetVoltage(0, tt.v))
		code, err := chip.Result(false, 0)
		require.NoError(t, err)
		assert.Equal(t, tt.code, code, "v=%v", tt.v)
	}
}

func TestDifferentialPairsByXOR(t *testing.T) {
	chip, err := New(MCP3008)
	require.NoError(t, err)
	voltages := []float64{2.5, 0.5, 1.0, 3.0, 0.2, 0.2, 3.3, 1.1}
	for ch, v := range voltages {
		require.NoError(t, chip.SetVoltage(ch, v))
	}
	for k := 0; k < 4; k++ {
		even, odd := 2*k, 2*k+1
		code, err := chip.Result(true, even)
		require.NoError(t, err)
		assert.Equal(t, expectedCode(voltages[even]-voltages[odd], 3.3, 10), code)

		code, err = chip.Result(true, odd)
		require.NoError(t, err)
		assert.Equal(t, expectedCode(voltages[odd]-voltages[even], 3.3, 10), code)
	}
}

func TestClampingMatchesNearestBound(t *testing.T) {
	chip := newMCP3002(t)
	tests := []struct {
		v, bound float64
	}{
		{-1, 0},
		{-0.001, 0},
		{3.31, 3.3},
		{12, 3.3},
	}
	for _, tt := range tests {
		require.NoError(t, chip.SetVoltage(0, tt.v))
		got, err := chip.Result(false, 0)
		require.NoError(t, err)
		require.NoError(t, chip.SetVoltage(0, tt.bound))
		want, err := chip.Result(false, 0)
		require.NoError(t, err)
		assert.Equal(t, want, got, "v=%v", tt.v)
	}
}

func TestNaNVoltage(t *testing.T) {
	chip := newMCP3002(t, 1.2)
	assert.ErrorIs(t, chip.SetVoltage(0, math.NaN()), ErrInvalidVoltage)
	v, err := chip.Voltage(0)
	require.NoError(t, err)
	assert.Equal(t, 1.2, v)

	assert.Equal(t, 0.0, clamp(math.NaN(), 0, 3.3))

	// Inf - Inf is NaN and still converts deterministically
	require.NoError(t, chip.SetVoltage(0, math.Inf(1)))
	require.NoError(t, chip.SetVoltage(1, math.Inf(1)))
	code, err := chip.Result(true, 0)
	require.NoError(t, err)
	assert.Equal(t, -1024, code)
	code, err = chip.Result(false, 0)
	require.NoError(t, err)
	assert.Equal(t, 1023, code)
}

func TestResultChannelRange(t *testing.T) {
	chip := newMCP3002(t)
	_, err := chip.Result(false, 2)
	assert.ErrorIs(t, err, ErrChannelRange)
	_, err = chip.Result(true, -1)
	assert.ErrorIs(t, err, ErrChannelRange)
	assert.ErrorIs(t, chip.SetVoltage(5, 1), ErrChannelRange)
}

func TestIdleIgnoresZeroBits(t *testing.T) {
	chip := newMCP3002(t)
	chip.Reset()
	for i := 0; i < 5; i++ {
		chip.Receive(false)
		assert.Equal(t, StateIdle, chip.State())
	}
	chip.Receive(true)
	assert.Equal(t, StateModeSelect, chip.State())
	assert.Empty(t, chip.Received())
}

func TestLatchThenOnBit(t *testing.T) {
	chip := newMCP3002(t, 3.3, 0)
	chip.Reset()
	for _, b := range []bool{true, true} {
		chip.Latch(b)
		chip.OnBit()
	}
	assert.Equal(t, StateSingleEnded, chip.State())
	chip.Latch(false)
	chip.OnBit()
	assert.Equal(t, StateResult, chip.State())
	assert.Empty(t, chip.Received())
	assert.Len(t, chip.Pending(), 12)
}

func TestStateTransitions(t *testing.T) {
	chip := newMCP3002(t)
	chip.Reset()
	chip.Receive(true)
	assert.Equal(t, StateModeSelect, chip.State())
	chip.Receive(false)
	assert.Equal(t, StateDifferential, chip.State())
	assert.Empty(t, chip.Received())

	chip.Reset()
	chip.Receive(true)
	chip.Receive(true)
	assert.Equal(t, StateSingleEnded, chip.State())
}

func TestFullTransactionReturnsToIdle(t *testing.T) {
	for _, cfg := range []Config{MCP3002, MCP3202, MCP3004, MCP3008} {
		chip, err := New(cfg)
		require.NoError(t, err)
		for ch := 0; ch < cfg.Channels; ch++ {
			require.NoError(t, chip.SetVoltage(ch, float64(ch)*0.4))
		}
		for _, differential := range []bool{false, true} {
			for ch := 0; ch < cfg.Channels; ch++ {
				want, err := chip.Result(differential, ch)
				require.NoError(t, err)

				got := clock(t, chip, differential, ch)
				assert.Equal(t, want, got, "%s diff=%v ch=%d", cfg.Name, differential, ch)
				assert.Equal(t, StateIdle, chip.State())
				assert.Empty(t, chip.Received())
				assert.Empty(t, chip.Pending())
			}
		}
	}
}

func TestWordIsMostSignificantBitFirst(t *testing.T) {
	chip := newMCP3002(t, 3.3, 0)
	chip.Reset()
	chip.Receive(true)
	chip.Receive(true)
	chip.Receive(false)

	// 1023 in 12 bits
	want := []bool{false, false, true, true, true, true, true, true, true, true, true, true}
	assert.Equal(t, want, chip.Pending())

	bit, ok := chip.Transmit()
	assert.True(t, ok)
	assert.False(t, bit)
}

func TestTransmitWhenEmpty(t *testing.T) {
	chip := newMCP3002(t)
	bit, ok := chip.Transmit()
	assert.False(t, ok)
	assert.False(t, bit)
}

func TestResetAbortsTransaction(t *testing.T) {
	chip := newMCP3002(t, 1, 1)
	chip.Reset()
	chip.Receive(true)
	chip.Receive(true)
	chip.Receive(true)
	require.Equal(t, StateResult, chip.State())

	chip.Reset()
	assert.Equal(t, StateIdle, chip.State())
	assert.Empty(t, chip.Received())
	assert.Empty(t, chip.Pending())
}

func TestUnusedAddressBitsAreIgnored(t *testing.T) {
	chip, err := New(MCP3004)
	require.NoError(t, err)
	require.NoError(t, chip.SetVoltage(1, 3.3))

	// D2 set, addresses channel 1 on a four channel part
	got := clock(t, chip, false, 5)
	assert.Equal(t, 1023, got)
}

func TestUnreachableStatePanics(t *testing.T) {
	chip := newMCP3002(t)
	chip.state = State(42)
	assert.Panics(t, func() { chip.Receive(true) })
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "mode-select", StateModeSelect.String())
	assert.Equal(t, "result", StateResult.String())
	assert.Equal(t, "State(9)", State(9).String())
}
