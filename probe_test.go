package main

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedVoltage struct {
	volts []float64
	err   error
}

func (f *fixedVoltage) Voltage(ch int) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.volts[ch], nil
}

func TestThermistorRoundTrip(t *testing.T) {
	assert.InDelta(t, 10000, NTC10K.Resistance(zeroCelsius+25), 1e-6)
	for _, tempK := range []float64{250, 293.15, 350} {
		assert.InDelta(t, tempK, NTC10K.Temperature(NTC10K.Resistance(tempK)), 1e-9)
	}
	assert.Greater(t, NTC10K.Resistance(273.15), NTC10K.Resistance(323.15))
}

func TestProbeReadsDivider(t *testing.T) {
	adc := &fixedVoltage{volts: []float64{ProbeVoltage(3.3, 21), 0}}
	probe := NewProbe("p", "Room", 0, adc, 3.3, probeResistor, 1)

	tempC, err := probe.ReadTempC()
	require.NoError(t, err)
	assert.InDelta(t, 21, tempC, 1e-9)
	assert.True(t, probe.ReadConnected())

	// a 25C divider sits at half the supply
	assert.InDelta(t, 1.65, ProbeVoltage(3.3, 25), 1e-9)
}

func TestProbeSmoothing(t *testing.T) {
	adc := &fixedVoltage{volts: []float64{ProbeVoltage(3.3, 20)}}
	probe := NewProbe("p", "Room", 0, adc, 3.3, probeResistor, 2)

	_, err := probe.ReadTempC()
	require.NoError(t, err)
	adc.volts[0] = ProbeVoltage(3.3, 30)
	tempC, err := probe.ReadTempC()
	require.NoError(t, err)
	assert.InDelta(t, 25, tempC, 1e-9)

	tempC, err = probe.ReadTempC()
	require.NoError(t, err)
	assert.InDelta(t, 30, tempC, 1e-9)
}

func TestProbeDisconnected(t *testing.T) {
	adc := &fixedVoltage{volts: []float64{0}}
	probe := NewProbe("p", "Room", 0, adc, 3.3, probeResistor, 0)
	_, err := probe.ReadTempK()
	assert.Error(t, err)
	assert.False(t, probe.ReadConnected())

	adc.volts[0] = 3.3
	_, err = probe.ReadTempK()
	assert.Error(t, err)

	adc.err = errors.New("bus fault")
	_, err = probe.ReadTempK()
	assert.EqualError(t, err, "bus fault")
}

func TestProbeSetTemp(t *testing.T) {
	probe := NewProbe("p", "Room", 0, &fixedVoltage{}, 3.3, probeResistor, 1)
	assert.Equal(t, 0.0, probe.GetSetTempC())
	probe.SetTempC(22)
	assert.InDelta(t, 22+zeroCelsius, probe.GetSetTempK(), 1e-9)
	assert.InDelta(t, 22, probe.GetSetTempC(), 1e-9)
}
