package main

import (
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/loofkid/copernicus-go/mcp3xxx"
)

// The slider on the sheet drives this channel.
const sliderChannel = 1

// ADC is an MCP3002 on the board. Programs reach it either by bit-banging its
// pins or through Port.
type ADC struct {
	config         MCP3002Config
	NominalVoltage float64
	Chip           *mcp3xxx.Chip
	Port           *mcp3xxx.Port

	clock, mosi, miso, sel *Pin

	mu     sync.Mutex
	slider float64
}

func NewADC(board *Board, config MCP3002Config) (*ADC, error) {
	chip, err := mcp3xxx.New(mcp3xxx.MCP3002.WithVref(config.MaxVoltage))
	if err != nil {
		return nil, errors.Wrapf(err, "adc %v", config.Name)
	}
	a := &ADC{
		config:         config,
		NominalVoltage: config.MaxVoltage,
		Chip:           chip,
		Port:           mcp3xxx.NewPort("SPI-"+strings.ReplaceAll(config.Name, " ", "-"), chip),
		clock:          board.Pin(config.ClockPin),
		mosi:           board.Pin(config.MosiPin),
		miso:           board.Pin(config.MisoPin),
		sel:            board.Pin(config.SelectPin),
	}
	a.sel.Drive(true)
	a.sel.OnChange(a.selectChanged)
	a.clock.OnChange(a.clockChanged)
	return a, nil
}

func (a *ADC) Name() string { return a.config.Name }

func (a *ADC) selected() bool {
	return !a.sel.High()
}

func (a *ADC) selectChanged(level float64) {
	if level < 0.5 {
		a.Chip.Reset()
		a.miso.Drive(false)
	}
}

// clockChanged implements SPI mode 0: data in on the rising edge, data out on
// the falling edge.
func (a *ADC) clockChanged(level float64) {
	if !a.selected() {
		return
	}
	if level >= 0.5 {
		a.Chip.Receive(a.mosi.High())
		return
	}
	bit, _ := a.Chip.Transmit()
	a.miso.Drive(bit)
}

func (a *ADC) SetVoltage(ch int, v float64) error {
	return a.Chip.SetVoltage(ch, v)
}

// SetSlider moves the slider to percent of full scale.
func (a *ADC) SetSlider(percent float64) error {
	if percent < 0 || percent > 100 {
		return errors.Errorf("slider position %v out of range", percent)
	}
	a.mu.Lock()
	a.slider = percent
	a.mu.Unlock()
	return a.Chip.SetVoltage(sliderChannel, percent/100*a.NominalVoltage)
}

func (a *ADC) Snapshot() DeviceState {
	cfg := a.Chip.Config()
	channels := make([]float64, cfg.Channels)
	for ch := range channels {
		channels[ch], _ = a.Chip.Voltage(ch)
	}
	a.mu.Lock()
	slider := a.slider
	a.mu.Unlock()
	return DeviceState{
		Name:     a.config.Name,
		Kind:     KindMCP3002,
		X:        a.config.X,
		Y:        a.config.Y,
		State:    a.Chip.State().String(),
		Channels: channels,
		Slider:   slider,
	}
}
