package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

const benchYAML = `
program: none
pollInterval: 50ms
circuit:
  name: Test bench
  leds:
    - {x: 112, y: 70, name: LED 1, pin: 23}
  servos:
    - {x: 154, y: 148, length: 90, name: Servo, pin: 17, min_angle: 0, max_angle: 180}
  mcp3002s:
    - {x: 100, y: 160, name: ADC, clock_pin: 11, mosi_pin: 10, miso_pin: 9, select_pin: 8}
pid:
  proportionalGain: 5
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestConfigDefaults(t *testing.T) {
	c := &Config{}
	require.NoError(t, c.load(newViper()))

	assert.Equal(t, "Virtual GPIO", c.Circuit.Name)
	assert.Equal(t, 500, c.Circuit.Width)
	assert.Equal(t, "potservo", c.Program)
	assert.Equal(t, "0.0.0.0:3000", c.Listen)
	assert.False(t, c.Redis.Enabled)

	tunables := c.Tunables()
	assert.Equal(t, 20.0, tunables.ProportionalGain)
	assert.Equal(t, 0.5, tunables.IntegralGain)
	assert.Equal(t, 10*time.Millisecond, tunables.PollInterval)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, benchYAML)
	c, err := LoadConfig([]string{"--config", path, "--listen", "127.0.0.1:0"})
	require.NoError(t, err)

	assert.Equal(t, "none", c.Program)
	assert.Equal(t, "127.0.0.1:0", c.Listen)
	assert.Equal(t, "Test bench", c.Circuit.Name)
	require.Len(t, c.Circuit.LEDs, 1)
	assert.Equal(t, 23, c.Circuit.LEDs[0].Pin)
	require.Len(t, c.Circuit.Servos, 1)
	assert.Equal(t, 180.0, c.Circuit.Servos[0].MaxAngle)
	require.Len(t, c.Circuit.MCP3002s, 1)
	assert.Equal(t, 8, c.Circuit.MCP3002s[0].SelectPin)
	assert.Equal(t, 3.3, c.Circuit.MCP3002s[0].MaxVoltage)

	tunables := c.Tunables()
	assert.Equal(t, 5.0, tunables.ProportionalGain)
	assert.Equal(t, 0.5, tunables.IntegralGain)
	assert.Equal(t, 50*time.Millisecond, tunables.PollInterval)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)

	path := writeConfig(t, `
circuit:
  leds:
    - {name: a, pin: 4}
    - {name: b, pin: 4}
`)
	_, err = LoadConfig([]string{"--config", path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pin 4 already used by a")

	_, err = LoadConfig([]string{"--bogus"})
	assert.Error(t, err)
}

func TestTunablesReloadNotifiesListeners(t *testing.T) {
	c := &Config{}
	v := newViper()
	require.NoError(t, c.load(v))

	var got []Tunables
	c.OnChange(func(tunables Tunables) { got = append(got, tunables) })

	v.Set("pollInterval", "25ms")
	v.Set("pid.integralGain", 1.5)
	c.loadTunables(v)

	require.Len(t, got, 1)
	assert.Equal(t, 25*time.Millisecond, got[0].PollInterval)
	assert.Equal(t, 1.5, got[0].IntegralGain)
	assert.Equal(t, got[0], c.Tunables())
}

func TestLoadConfigWatchesPollInterval(t *testing.T) {
	path := writeConfig(t, benchYAML)
	c, err := LoadConfig([]string{"--config", path})
	require.NoError(t, err)

	var notified atomic.Duration
	c.OnChange(func(tunables Tunables) { notified.Store(tunables.PollInterval) })

	updated := strings.Replace(benchYAML, "pollInterval: 50ms", "pollInterval: 20ms", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))

	// an editor may truncate before writing, so wait for the final value
	assert.Eventually(t, func() bool {
		return c.Tunables().PollInterval == 20*time.Millisecond &&
			notified.Load() == 20*time.Millisecond
	}, 5*time.Second, 20*time.Millisecond)
}
