package main

import (
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gobot.io/x/gobot/v2"

	"github.com/loofkid/copernicus-go/mcp3xxx"
)

func (c *CircuitConfig) applyDefaults() {
	if c.Name == "" {
		c.Name = "Virtual GPIO"
	}
	if c.Width == 0 {
		c.Width = 500
	}
	if c.Height == 0 {
		c.Height = 500
	}
	for i := range c.Buzzers {
		if c.Buzzers[i].Frequency == 0 {
			c.Buzzers[i].Frequency = 440
		}
	}
	for i := range c.Servos {
		if c.Servos[i].MinAngle == 0 && c.Servos[i].MaxAngle == 0 {
			c.Servos[i].MinAngle = -90
			c.Servos[i].MaxAngle = 90
		}
	}
	for i := range c.MCP3002s {
		if c.MCP3002s[i].MaxVoltage == 0 {
			c.MCP3002s[i].MaxVoltage = mcp3xxx.DefaultVref
		}
	}
}

func (c *CircuitConfig) Validate() error {
	var err error
	names := map[string]bool{}
	pins := map[int]string{}
	// clock, mosi and miso may be shared by every MCP3002 on one bus
	busLines := map[int]string{}

	name := func(n string) {
		if n == "" {
			err = multierr.Append(err, errors.New("device without a name"))
		} else if names[n] {
			err = multierr.Append(err, errors.Errorf("duplicate device name %q", n))
		}
		names[n] = true
	}
	pin := func(n string, p int) bool {
		if p < 0 {
			err = multierr.Append(err, errors.Errorf("%v: invalid pin %d", n, p))
			return false
		}
		if owner, ok := pins[p]; ok {
			err = multierr.Append(err, errors.Errorf("%v: pin %d already used by %v", n, p, owner))
			return false
		}
		pins[p] = n
		return true
	}
	claim := func(n string, pinNumbers ...int) {
		name(n)
		for _, p := range pinNumbers {
			pin(n, p)
		}
	}
	claimBus := func(n string, line string, p int) {
		if role, ok := busLines[p]; ok {
			if role != line {
				err = multierr.Append(err, errors.Errorf("%v: pin %d is the bus %v line, not %v", n, p, role, line))
			}
			return
		}
		if pin(n, p) {
			busLines[p] = line
		}
	}

	for _, d := range c.LEDs {
		claim(d.Name, d.Pin)
	}
	for _, d := range c.Buttons {
		claim(d.Name, d.Pin)
	}
	for _, d := range c.Buzzers {
		claim(d.Name, d.Pin)
	}
	for _, d := range c.Servos {
		claim(d.Name, d.Pin)
		if d.MaxAngle <= d.MinAngle {
			err = multierr.Append(err, errors.Errorf("%v: max_angle must exceed min_angle", d.Name))
		}
	}
	for _, d := range c.MCP3002s {
		claim(d.Name, d.SelectPin)
		claimBus(d.Name, "clock", d.ClockPin)
		claimBus(d.Name, "mosi", d.MosiPin)
		claimBus(d.Name, "miso", d.MisoPin)
		if d.MaxVoltage <= 0 {
			err = multierr.Append(err, errors.Errorf("%v: max_voltage must be positive", d.Name))
		}
	}
	if c.Width <= 0 || c.Height <= 0 {
		err = multierr.Append(err, errors.Errorf("invalid sheet size %dx%d", c.Width, c.Height))
	}
	return err
}

// Circuit is the simulated board and everything placed on it. It is built once
// and handed to whatever needs it.
type Circuit struct {
	Config  CircuitConfig
	Board   *Board
	LEDs    []*LED
	Buttons []*Button
	Buzzers []*Buzzer
	Servos  []*Servo
	ADCs    []*ADC

	db       *DB
	recorder Recorder
	outputs  []Output
	devices  map[string]Device
	updates  []func(DeviceState)

	pollMu       sync.Mutex
	poller       *time.Ticker
	pollInterval time.Duration
}

func NewCircuit(config CircuitConfig, db *DB, recorder Recorder) (*Circuit, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid circuit")
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	c := &Circuit{
		Config:   config,
		Board:    NewBoard(config.Name),
		db:       db,
		recorder: recorder,
		devices:  map[string]Device{},
	}

	for _, cfg := range config.LEDs {
		led := NewLED(c.Board, cfg)
		c.LEDs = append(c.LEDs, led)
		c.add(led)
	}
	for _, cfg := range config.Buzzers {
		buzzer := NewBuzzer(c.Board, cfg)
		c.Buzzers = append(c.Buzzers, buzzer)
		c.add(buzzer)
	}
	for _, cfg := range config.Servos {
		servo := NewServo(c.Board, cfg)
		c.Servos = append(c.Servos, servo)
		c.add(servo)
	}
	for _, cfg := range config.Buttons {
		button := NewButton(c.Board, cfg)
		c.Buttons = append(c.Buttons, button)
		c.add(button)
	}
	for _, cfg := range config.MCP3002s {
		adc, err := NewADC(c.Board, cfg)
		if err != nil {
			return nil, err
		}
		c.ADCs = append(c.ADCs, adc)
		c.add(adc)
	}

	for _, d := range c.devices {
		if err := c.db.WriteState(d.Snapshot()); err != nil {
			return nil, errors.Wrapf(err, "storing %v", d.Name())
		}
	}

	return c, nil
}

func (c *Circuit) add(d Device) {
	c.devices[d.Name()] = d
	if o, ok := d.(Output); ok {
		c.outputs = append(c.outputs, o)
	}
}

// OnUpdate registers f to receive every stored state change.
func (c *Circuit) OnUpdate(f func(DeviceState)) {
	c.updates = append(c.updates, f)
}

func (c *Circuit) Device(name string) (Device, error) {
	d, ok := c.devices[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownDevice, name)
	}
	return d, nil
}

func (c *Circuit) Button(name string) (*Button, error) {
	d, err := c.Device(name)
	if err != nil {
		return nil, err
	}
	b, ok := d.(*Button)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDevice, "%v is not a button", name)
	}
	return b, nil
}

func (c *Circuit) ADC(name string) (*ADC, error) {
	d, err := c.Device(name)
	if err != nil {
		return nil, err
	}
	a, ok := d.(*ADC)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDevice, "%v is not an ADC", name)
	}
	return a, nil
}

// Refresh polls every output and publishes the ones that changed.
func (c *Circuit) Refresh() {
	for _, o := range c.outputs {
		if state, changed := o.Refresh(); changed {
			c.publish(state)
		}
	}
}

func (c *Circuit) publish(state DeviceState) {
	if err := c.db.WriteState(state); err != nil {
		log.Printf("Storing %v: %v\n", state.Name, err)
	}
	for key, value := range seriesKeys(state) {
		if err := c.recorder.Record(key, value); err != nil {
			log.Printf("Recording %v: %v\n", key, err)
		}
	}
	for _, f := range c.updates {
		f(state)
	}
}

// History returns, for each series the device records, its average and the
// samples taken within since.
func (c *Circuit) History(name string, since time.Duration) (map[string]interface{}, error) {
	state, err := c.db.State(name)
	if err != nil {
		return nil, err
	}
	history := map[string]interface{}{}
	for key := range seriesKeys(state) {
		entries, err := c.recorder.GetRecentEntries(key, since)
		if err != nil {
			return nil, errors.Wrapf(err, "history of %v", name)
		}
		history[key] = map[string]interface{}{
			"average": c.recorder.GetAvg(key),
			"entries": entries,
		}
	}
	return history, nil
}

func (c *Circuit) Press(name string) error {
	b, err := c.Button(name)
	if err != nil {
		return err
	}
	b.Press()
	c.publish(b.Snapshot())
	return nil
}

func (c *Circuit) Release(name string) error {
	b, err := c.Button(name)
	if err != nil {
		return err
	}
	b.Release()
	c.publish(b.Snapshot())
	return nil
}

func (c *Circuit) SetVoltage(name string, ch int, v float64) error {
	a, err := c.ADC(name)
	if err != nil {
		return err
	}
	if err := a.SetVoltage(ch, v); err != nil {
		return err
	}
	c.publish(a.Snapshot())
	return nil
}

func (c *Circuit) SetSlider(name string, percent float64) error {
	a, err := c.ADC(name)
	if err != nil {
		return err
	}
	if err := a.SetSlider(percent); err != nil {
		return err
	}
	c.publish(a.Snapshot())
	return nil
}

// Start begins polling the outputs every interval, the way the board window
// redraws. Calling it again with a different interval restarts the loop.
func (c *Circuit) Start(interval time.Duration) {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	if c.poller != nil {
		if interval == c.pollInterval {
			return
		}
		c.poller.Stop()
	}
	c.pollInterval = interval
	c.poller = gobot.Every(interval, c.Refresh)
}

// PollInterval is zero while the circuit is stopped.
func (c *Circuit) PollInterval() time.Duration {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	return c.pollInterval
}

func (c *Circuit) Stop() {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	if c.poller != nil {
		c.poller.Stop()
		c.poller = nil
	}
	c.pollInterval = 0
}
