package main

import (
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"gobot.io/x/gobot/v2"
)

// Servo pulses are 1-2ms in a 20ms frame.
const (
	servoMinDuty = 0.05
	servoMaxDuty = 0.10
)

// Pin is one simulated GPIO line. Its level is 0 or 1 for digital use, or the
// duty cycle in [0, 1] when driven as PWM.
type Pin struct {
	Number int

	mu        sync.Mutex
	level     float64
	pwm       bool
	listeners []func(level float64)
}

func (p *Pin) Level() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// State returns the level and whether it is a PWM duty cycle.
func (p *Pin) State() (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level, p.pwm
}

func (p *Pin) High() bool {
	return p.Level() >= 0.5
}

// OnChange registers f to be called, on the writer's goroutine, whenever the
// level changes.
func (p *Pin) OnChange(f func(level float64)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, f)
}

func (p *Pin) set(level float64, pwm bool) {
	p.mu.Lock()
	changed := p.level != level || p.pwm != pwm
	p.level = level
	p.pwm = pwm
	listeners := p.listeners
	p.mu.Unlock()

	if changed {
		for _, f := range listeners {
			f(level)
		}
	}
}

func (p *Pin) Drive(high bool) {
	if high {
		p.set(1, false)
	} else {
		p.set(0, false)
	}
}

// Board is a gobot adaptor backed by simulated pins, so stock gobot GPIO drivers
// run against it unchanged.
type Board struct {
	name string

	mu   sync.Mutex
	pins map[int]*Pin
}

var _ gobot.Connection = (*Board)(nil)

func NewBoard(name string) *Board {
	return &Board{
		name: name,
		pins: map[int]*Pin{},
	}
}

func (b *Board) Name() string { return b.name }

func (b *Board) SetName(n string) { b.name = n }

func (b *Board) Connect() error { return nil }

func (b *Board) Finalize() error { return nil }

// Pin returns the pin with the given number, creating it low if needed.
func (b *Board) Pin(n int) *Pin {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pins[n]
	if !ok {
		p = &Pin{Number: n}
		b.pins[n] = p
	}
	return p
}

func (b *Board) lookup(pin string) (*Pin, error) {
	n, err := strconv.Atoi(pin)
	if err != nil || n < 0 {
		return nil, errors.Errorf("invalid pin %q", pin)
	}
	return b.Pin(n), nil
}

func (b *Board) DigitalWrite(pin string, val byte) error {
	p, err := b.lookup(pin)
	if err != nil {
		return err
	}
	p.Drive(val != 0)
	return nil
}

func (b *Board) DigitalRead(pin string) (int, error) {
	p, err := b.lookup(pin)
	if err != nil {
		return 0, err
	}
	if p.High() {
		return 1, nil
	}
	return 0, nil
}

func (b *Board) PwmWrite(pin string, level byte) error {
	p, err := b.lookup(pin)
	if err != nil {
		return err
	}
	p.set(float64(level)/255, true)
	return nil
}

func (b *Board) ServoWrite(pin string, angle byte) error {
	if angle > 180 {
		return errors.Errorf("servo angle %d out of range", angle)
	}
	p, err := b.lookup(pin)
	if err != nil {
		return err
	}
	p.set(servoMinDuty+float64(angle)/180*(servoMaxDuty-servoMinDuty), true)
	return nil
}
