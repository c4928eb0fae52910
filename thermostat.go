package main

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.einride.tech/pid"
	"gobot.io/x/gobot/v2"
	"gobot.io/x/gobot/v2/drivers/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/loofkid/copernicus-go/mcp3xxx"
)

const (
	probeChannel      = 0
	probeResistor     = 10000.0
	minSetTempC       = 10.0
	maxSetTempC       = 30.0
	alarmMarginC      = 5.0
	thermostatPeriod  = 2 * time.Second
	thermostatProcess = 200 * time.Millisecond
)

// Room is a lumped thermal model of the space the thermostat heats. It feeds
// a thermistor divider on one ADC channel.
type Room struct {
	AmbientC    float64
	HeaterPower float64 // degrees per second with the heater on
	Loss        float64 // fraction of the difference to ambient lost per second

	mu    sync.Mutex
	tempC float64
}

func NewRoom(startC float64) *Room {
	return &Room{AmbientC: 15, HeaterPower: 0.5, Loss: 0.02, tempC: startC}
}

func (r *Room) TempC() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tempC
}

func (r *Room) Step(dt time.Duration, heating bool) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := dt.Seconds()
	loss := r.Loss * (r.tempC - r.AmbientC) * s
	if heating {
		r.tempC += r.HeaterPower * s
	}
	r.tempC -= loss
	return r.tempC
}

// ProbeVoltage is what the thermistor divider presents at tempC.
func ProbeVoltage(nominal, tempC float64) float64 {
	return DividerVoltage(nominal, probeResistor, NTC10K.Resistance(tempC+zeroCelsius))
}

func setTempFromValue(value float64) float64 {
	return minSetTempC + (maxSetTempC-minSetTempC)*math.Min(1, math.Max(0, value))
}

// heaterPercent mirrors the smoker controller: full power while far below the
// target, PID once close.
func heaterPercent(controller *pid.Controller, setTempC, currentTempC float64, interval time.Duration) float64 {
	if setTempC-currentTempC > 10 {
		return 100
	}
	controller.Update(pid.ControllerInput{
		ReferenceSignal:  setTempC,
		ActualSignal:     currentTempC,
		SamplingInterval: interval,
	})
	output := controller.State.ControlSignal
	return math.Min(100, math.Max(0, output))
}

// Thermostat heats a simulated room to the temperature set on the slider.
// The first LED is the heater, the first servo a dial, the first buzzer an
// over-temperature alarm and the first button toggles heating.
type Thermostat struct {
	circuit *Circuit
	config  *Config
	adc     *ADC
	reader  *mcp3xxx.Reader
	probe   *Probe
	room    *Room

	heater    *gpio.LedDriver
	heaterPin *Pin
	dial      *gpio.ServoDriver
	alarm     *gpio.BuzzerDriver
	toggle    *gpio.ButtonDriver
	dutyCycle *DutyCycle
	pid       pid.Controller

	mu      sync.Mutex
	enabled bool
	tickers []*time.Ticker
}

func NewThermostat(c *Circuit, config *Config) (*Program, error) {
	t, err := newThermostat(c, config)
	if err != nil {
		return nil, err
	}
	return t.Program(), nil
}

func newThermostat(c *Circuit, config *Config) (*Thermostat, error) {
	if len(c.ADCs) == 0 || len(c.LEDs) == 0 {
		return nil, errors.New("thermostat needs an mcp3002 and a heater led")
	}
	adc := c.ADCs[0]

	conn, err := adc.Port.Connect(physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		return nil, err
	}
	reader := mcp3xxx.NewReader(conn, adc.Chip.Config())

	t := &Thermostat{
		circuit:   c,
		config:    config,
		adc:       adc,
		reader:    reader,
		probe:     NewProbe("probe-0", "Room", probeChannel, reader, adc.NominalVoltage, probeResistor, 5),
		room:      NewRoom(18),
		heater:    gpio.NewLedDriver(c.Board, pinName(c.Config.LEDs[0].Pin)),
		heaterPin: c.Board.Pin(c.Config.LEDs[0].Pin),
		dutyCycle: NewDutyCycle(thermostatPeriod, 0),
		enabled:   true,
	}
	if len(c.Servos) > 0 {
		t.dial = gpio.NewServoDriver(c.Board, pinName(c.Config.Servos[0].Pin))
	}
	if len(c.Buzzers) > 0 {
		t.alarm = gpio.NewBuzzerDriver(c.Board, pinName(c.Config.Buzzers[0].Pin))
	}
	if len(c.Buttons) > 0 {
		// pull-up wiring, released reads high
		t.toggle = gpio.NewButtonDriver(c.Board, pinName(c.Config.Buttons[0].Pin), gpio.WithButtonDefaultState(1))
	}
	return t, nil
}

func (t *Thermostat) Devices() []gobot.Device {
	devices := []gobot.Device{t.heater}
	if t.dial != nil {
		devices = append(devices, t.dial)
	}
	if t.alarm != nil {
		devices = append(devices, t.alarm)
	}
	if t.toggle != nil {
		devices = append(devices, t.toggle)
	}
	return devices
}

func (t *Thermostat) Program() *Program {
	return &Program{
		Name:    "thermostat",
		Devices: t.Devices(),
		Work:    t.Work,
		Stop:    t.Stop,
	}
}

func (t *Thermostat) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Thermostat) Toggle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = !t.enabled
	log.Printf("Heating enabled: %v\n", t.enabled)
	return t.enabled
}

func (t *Thermostat) Work() {
	if t.toggle != nil {
		if err := t.toggle.On(gpio.ButtonPush, func(data interface{}) {
			t.Toggle()
		}); err != nil {
			log.Println(err)
		}
	}

	t.dutyCycle.Start(func() {
		if err := t.heater.On(); err != nil {
			log.Println(err)
		}
	}, func() {
		if err := t.heater.Off(); err != nil {
			log.Println(err)
		}
	})

	// the room is the outside world: it follows the heater pin and drives
	// the probe channel
	t.driveProbe(t.room.TempC())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.tickers = append(t.tickers,
		gobot.Every(thermostatProcess, func() {
			t.driveProbe(t.room.Step(thermostatProcess, t.heaterPin.High()))
		}),
		gobot.Every(thermostatProcess, t.control),
	)
}

func (t *Thermostat) driveProbe(tempC float64) {
	if err := t.circuit.SetVoltage(t.adc.Name(), probeChannel, ProbeVoltage(t.adc.NominalVoltage, tempC)); err != nil {
		log.Println(err)
	}
}

func (t *Thermostat) control() {
	value, err := t.reader.Value(sliderChannel)
	if err != nil {
		log.Println(err)
		return
	}
	t.probe.SetTempC(setTempFromValue(value))

	if !t.probe.ReadConnected() {
		log.Printf("Probe %v not connected, heater off\n", t.probe.Id)
		t.dutyCycle.SetDutyCyclePercent(0)
		return
	}
	currentTempC, err := t.probe.ReadTempC()
	if err != nil {
		log.Println(err)
		t.dutyCycle.SetDutyCyclePercent(0)
		return
	}
	setTempC := t.probe.GetSetTempC()

	tunables := t.config.Tunables()
	t.pid.Config = pid.ControllerConfig{
		ProportionalGain: tunables.ProportionalGain,
		IntegralGain:     tunables.IntegralGain,
		DerivativeGain:   tunables.DerivativeGain,
	}

	if t.Enabled() {
		t.dutyCycle.SetDutyCyclePercent(heaterPercent(&t.pid, setTempC, currentTempC, thermostatProcess))
	} else {
		t.dutyCycle.SetDutyCyclePercent(0)
	}

	if t.dial != nil {
		angle := (currentTempC - minSetTempC) / (maxSetTempC - minSetTempC) * 180
		if err := t.dial.Move(uint8(math.Min(180, math.Max(0, angle)))); err != nil {
			log.Println(err)
		}
	}
	if t.alarm != nil {
		if currentTempC > setTempC+alarmMarginC {
			err = t.alarm.On()
		} else {
			err = t.alarm.Off()
		}
		if err != nil {
			log.Println(err)
		}
	}
}

func (t *Thermostat) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ticker := range t.tickers {
		ticker.Stop()
	}
	t.tickers = nil
	t.dutyCycle.Stop()
}
