package main

import (
	"sync"
	"time"
)

// DutyCycle switches an output on for a fraction of every period.
type DutyCycle struct {
	mu               sync.Mutex
	period           time.Duration
	dutyCycle        time.Duration
	dutyCyclePercent float64
	state            bool
	timer            *time.Timer
	stopped          bool
}

func NewDutyCycle(period time.Duration, dutyCyclePercent float64) *DutyCycle {
	dutyCycle := time.Duration((dutyCyclePercent / 100.0) * float64(period))
	return &DutyCycle{
		period:           period,
		dutyCycle:        dutyCycle,
		dutyCyclePercent: dutyCyclePercent,
	}
}

func (d *DutyCycle) SetPeriod(period time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.period = period
	d.dutyCycle = time.Duration((d.dutyCyclePercent / 100.0) * float64(period))
}

func (d *DutyCycle) GetPeriod() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.period
}

func (d *DutyCycle) GetDutyCycle() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dutyCycle
}

func (d *DutyCycle) GetDutyCyclePercent() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dutyCyclePercent
}

// SetDutyCyclePercent takes effect from the next period. Values outside
// [0, 100] are clamped.
func (d *DutyCycle) SetDutyCyclePercent(percent float64) {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dutyCyclePercent = percent
	d.dutyCycle = time.Duration((percent / 100.0) * float64(d.period))
}

func (d *DutyCycle) Start(onFunc func(), offFunc func()) {
	var cycle func()
	cycle = func() {
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			return
		}
		on, period := d.dutyCycle, d.period
		d.state = on > 0
		d.mu.Unlock()

		if on == 0 {
			offFunc()
			d.schedule(period, cycle)
			return
		}
		onFunc()
		if on >= period {
			d.schedule(period, cycle)
			return
		}
		d.schedule(on, func() {
			d.mu.Lock()
			if d.stopped {
				d.mu.Unlock()
				return
			}
			d.state = false
			d.mu.Unlock()
			offFunc()
			d.schedule(period-on, cycle)
		})
	}
	cycle()
}

func (d *DutyCycle) schedule(after time.Duration, f func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.stopped {
		d.timer = time.AfterFunc(after, f)
	}
}

func (d *DutyCycle) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.state = false
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *DutyCycle) GetState() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
