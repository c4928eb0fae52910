package main

import (
	"log"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gobot.io/x/gobot/v2"
	"gobot.io/x/gobot/v2/drivers/gpio"

	"github.com/loofkid/copernicus-go/mcp3xxx"
)

// Program is code written against the GPIO and SPI abstractions that runs on
// the board unmodified. Devices are started by the robot before Work runs.
type Program struct {
	Name    string
	Devices []gobot.Device
	Work    func()
	Stop    func()
}

type programFactory func(c *Circuit, config *Config) (*Program, error)

var programs = map[string]programFactory{
	"potservo":   NewPotServo,
	"thermostat": NewThermostat,
}

func NewProgram(name string, c *Circuit, config *Config) (*Program, error) {
	if name == "" || name == "none" {
		return &Program{Name: "none", Work: func() {}, Stop: func() {}}, nil
	}
	factory, ok := programs[name]
	if !ok {
		return nil, errors.Errorf("unknown program %q", name)
	}
	return factory(c, config)
}

func pinName(n int) string {
	return strconv.Itoa(n)
}

// NewPotServo turns the first servo to follow the potentiometer on the first
// MCP3002, read by bit-banging its pins.
func NewPotServo(c *Circuit, _ *Config) (*Program, error) {
	if len(c.ADCs) == 0 || len(c.Servos) == 0 {
		return nil, errors.New("potservo needs an mcp3002 and a servo")
	}
	adc := c.Config.MCP3002s[0]
	bus, err := NewSoftSPI(c.Board, adc.ClockPin, adc.MosiPin, adc.MisoPin, adc.SelectPin)
	if err != nil {
		return nil, err
	}
	pot := mcp3xxx.NewReader(bus, c.ADCs[0].Chip.Config())
	servo := gpio.NewServoDriver(c.Board, pinName(c.Config.Servos[0].Pin))

	var ticker *time.Ticker
	return &Program{
		Name:    "potservo",
		Devices: []gobot.Device{servo},
		Work: func() {
			if err := servo.Move(0); err != nil {
				log.Println(err)
			}
			ticker = gobot.Every(100*time.Millisecond, func() {
				value, err := pot.Value(sliderChannel)
				if err != nil {
					log.Println(err)
					return
				}
				if err := servo.Move(potAngle(value)); err != nil {
					log.Println(err)
				}
			})
		},
		Stop: func() {
			if ticker != nil {
				ticker.Stop()
			}
		},
	}, nil
}

func potAngle(value float64) uint8 {
	angle := 159 * value
	if angle < 0 {
		return 0
	}
	if angle > 180 {
		return 180
	}
	return uint8(angle)
}
