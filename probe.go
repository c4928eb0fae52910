package main

import (
	"math"
	"sync"

	"github.com/pkg/errors"
)

const zeroCelsius = 273.15

// Thermistor is an NTC thermistor described by the Beta equation.
type Thermistor struct {
	R0   float64 // resistance at T0
	T0   float64 // kelvin
	Beta float64
}

var NTC10K = Thermistor{R0: 10000, T0: zeroCelsius + 25, Beta: 3950}

func (t Thermistor) Resistance(tempK float64) float64 {
	return t.R0 * math.Exp(t.Beta*(1/tempK-1/t.T0))
}

func (t Thermistor) Temperature(resistance float64) float64 {
	return 1 / (1/t.T0 + math.Log(resistance/t.R0)/t.Beta)
}

// DividerVoltage is the voltage across the fixed resistor of a divider with
// the thermistor on the supply side.
func DividerVoltage(nominal, resistorValue, resistance float64) float64 {
	return nominal * resistorValue / (resistance + resistorValue)
}

// VoltageReader is anything that samples a voltage on an ADC channel.
type VoltageReader interface {
	Voltage(ch int) (float64, error)
}

type Probe struct {
	Id   string
	Name string

	channel         int
	adc             VoltageReader
	nominalVoltage  float64
	resistorValue   float64
	thermistor      Thermistor
	smoothingWindow int

	mu           sync.Mutex
	setTempK     float64
	lastReadings []float64
}

func NewProbe(id string,
	name string,
	channel int,
	adc VoltageReader,
	nominalVoltage float64,
	resistorValue float64,
	smoothingWindow int) *Probe {
	if smoothingWindow < 1 {
		smoothingWindow = 1
	}
	return &Probe{
		Id:              id,
		Name:            name,
		channel:         channel,
		adc:             adc,
		nominalVoltage:  nominalVoltage,
		resistorValue:   resistorValue,
		thermistor:      NTC10K,
		smoothingWindow: smoothingWindow,
		lastReadings:    []float64{},
	}
}

// ReadTempK samples the probe and returns the mean of the last
// smoothingWindow readings.
func (p *Probe) ReadTempK() (float64, error) {
	voltage, err := p.adc.Voltage(p.channel)
	if err != nil {
		return 0.0, err
	}
	if voltage <= 0 || voltage >= p.nominalVoltage {
		return 0.0, errors.Errorf("probe %v disconnected (%.3fV)", p.Id, voltage)
	}

	resistance := p.resistorValue * (p.nominalVoltage/voltage - 1.0)
	temperature := p.thermistor.Temperature(resistance)

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.lastReadings) < p.smoothingWindow {
		p.lastReadings = append(p.lastReadings, temperature)
	} else {
		p.lastReadings = append(p.lastReadings[1:], temperature)
	}
	total := 0.0
	for _, reading := range p.lastReadings {
		total += reading
	}
	return total / float64(len(p.lastReadings)), nil
}

func (p *Probe) ReadTempC() (float64, error) {
	temperature, err := p.ReadTempK()
	if err != nil {
		return 0.0, err
	}
	return temperature - zeroCelsius, nil
}

func (p *Probe) SetTempK(tempK float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setTempK = tempK
}

func (p *Probe) SetTempC(tempC float64) {
	p.SetTempK(tempC + zeroCelsius)
}

func (p *Probe) GetSetTempK() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setTempK
}

func (p *Probe) GetSetTempC() float64 {
	setTempK := p.GetSetTempK()
	if setTempK == 0.0 {
		return 0.0
	}
	return setTempK - zeroCelsius
}

func (p *Probe) ReadConnected() bool {
	temperature, err := p.ReadTempK()
	if err != nil {
		return false
	}
	return temperature >= 230.0 && temperature <= 400.0
}
