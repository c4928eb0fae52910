package main

import (
	"math"
	"sync"
)

const (
	KindLED     = "led"
	KindButton  = "button"
	KindBuzzer  = "buzzer"
	KindServo   = "servo"
	KindMCP3002 = "mcp3002"
)

// DeviceState is what the board UI needs to draw a device.
type DeviceState struct {
	Name       string      `json:"name"`
	Kind       string      `json:"kind"`
	X          int         `json:"x"`
	Y          int         `json:"y"`
	State      string      `json:"state,omitempty"`
	Brightness float64     `json:"brightness,omitempty"`
	Frequency  float64     `json:"frequency,omitempty"`
	Angle      float64     `json:"angle,omitempty"`
	Line       *[4]float64 `json:"line,omitempty"`
	Channels   []float64   `json:"channels,omitempty"`
	Slider     float64     `json:"slider,omitempty"`
}

type Device interface {
	Name() string
	Snapshot() DeviceState
}

// Output devices are polled for changes by the circuit.
type Output interface {
	Device
	Refresh() (DeviceState, bool)
}

// changeTracker remembers the last state handed out by Refresh.
type changeTracker struct {
	mu       sync.Mutex
	previous *DeviceState
}

func (c *changeTracker) changed(s DeviceState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.previous != nil && equalState(*c.previous, s) {
		return false
	}
	c.previous = &s
	return true
}

func equalState(a, b DeviceState) bool {
	if a.State != b.State || a.Brightness != b.Brightness || a.Angle != b.Angle {
		return false
	}
	if (a.Line == nil) != (b.Line == nil) || (a.Line != nil && *a.Line != *b.Line) {
		return false
	}
	return true
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

type LED struct {
	config LEDConfig
	pin    *Pin
	changeTracker
}

func NewLED(board *Board, config LEDConfig) *LED {
	return &LED{config: config, pin: board.Pin(config.Pin)}
}

func (l *LED) Name() string { return l.config.Name }

func (l *LED) Snapshot() DeviceState {
	s := DeviceState{Name: l.config.Name, Kind: KindLED, X: l.config.X, Y: l.config.Y}
	level, pwm := l.pin.State()
	if pwm {
		s.State = onOff(level > 0)
		s.Brightness = level
	} else {
		s.State = onOff(level >= 0.5)
	}
	return s
}

func (l *LED) Refresh() (DeviceState, bool) {
	s := l.Snapshot()
	return s, l.changed(s)
}

type Buzzer struct {
	config BuzzerConfig
	pin    *Pin
	changeTracker
}

func NewBuzzer(board *Board, config BuzzerConfig) *Buzzer {
	return &Buzzer{config: config, pin: board.Pin(config.Pin)}
}

func (b *Buzzer) Name() string { return b.config.Name }

func (b *Buzzer) Snapshot() DeviceState {
	return DeviceState{
		Name:      b.config.Name,
		Kind:      KindBuzzer,
		X:         b.config.X,
		Y:         b.config.Y,
		State:     onOff(b.pin.High()),
		Frequency: b.config.Frequency,
	}
}

func (b *Buzzer) Refresh() (DeviceState, bool) {
	s := b.Snapshot()
	return s, b.changed(s)
}

// Button is wired to a pull-up: released reads high, pressed reads low.
type Button struct {
	config ButtonConfig
	pin    *Pin

	mu      sync.Mutex
	pressed bool
}

func NewButton(board *Board, config ButtonConfig) *Button {
	b := &Button{config: config, pin: board.Pin(config.Pin)}
	b.pin.Drive(true)
	return b
}

func (b *Button) Name() string { return b.config.Name }

func (b *Button) Press() {
	b.mu.Lock()
	b.pressed = true
	b.mu.Unlock()
	b.pin.Drive(false)
}

func (b *Button) Release() {
	b.mu.Lock()
	b.pressed = false
	b.mu.Unlock()
	b.pin.Drive(true)
}

func (b *Button) Snapshot() DeviceState {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := "released"
	if b.pressed {
		state = "pressed"
	}
	return DeviceState{Name: b.config.Name, Kind: KindButton, X: b.config.X, Y: b.config.Y, State: state}
}

type Servo struct {
	config ServoConfig
	pin    *Pin
	changeTracker
}

func NewServo(board *Board, config ServoConfig) *Servo {
	return &Servo{config: config, pin: board.Pin(config.Pin)}
}

func (s *Servo) Name() string { return s.config.Name }

// Angle converts the pin's pulse width to degrees. An undriven pin rests the
// arm at the minimum angle.
func (s *Servo) Angle() float64 {
	duty := s.pin.Level()
	if duty == 0 {
		return s.config.MinAngle
	}
	return (duty-servoMinDuty)/(servoMaxDuty-servoMinDuty)*(s.config.MaxAngle-s.config.MinAngle) + s.config.MinAngle
}

// Line returns the arm as a segment starting at the servo's position.
func (s *Servo) Line(angle float64) [4]float64 {
	rad := angle / 180 * math.Pi
	x, y := float64(s.config.X), float64(s.config.Y)
	return [4]float64{x, y, x - math.Cos(rad)*s.config.Length, y - math.Sin(rad)*s.config.Length}
}

func (s *Servo) Snapshot() DeviceState {
	angle := s.Angle()
	line := s.Line(angle)
	return DeviceState{
		Name:  s.config.Name,
		Kind:  KindServo,
		X:     s.config.X,
		Y:     s.config.Y,
		Angle: angle,
		Line:  &line,
	}
}

func (s *Servo) Refresh() (DeviceState, bool) {
	state := s.Snapshot()
	return state, s.changed(state)
}
