package main

import (
	"log"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type LEDConfig struct {
	X    int    `mapstructure:"x"`
	Y    int    `mapstructure:"y"`
	Name string `mapstructure:"name"`
	Pin  int    `mapstructure:"pin"`
}

type ButtonConfig struct {
	X    int    `mapstructure:"x"`
	Y    int    `mapstructure:"y"`
	Name string `mapstructure:"name"`
	Pin  int    `mapstructure:"pin"`
}

type BuzzerConfig struct {
	X         int     `mapstructure:"x"`
	Y         int     `mapstructure:"y"`
	Name      string  `mapstructure:"name"`
	Pin       int     `mapstructure:"pin"`
	Frequency float64 `mapstructure:"frequency"`
}

type ServoConfig struct {
	X        int     `mapstructure:"x"`
	Y        int     `mapstructure:"y"`
	Name     string  `mapstructure:"name"`
	Pin      int     `mapstructure:"pin"`
	Length   float64 `mapstructure:"length"`
	MinAngle float64 `mapstructure:"min_angle"`
	MaxAngle float64 `mapstructure:"max_angle"`
}

type MCP3002Config struct {
	X          int     `mapstructure:"x"`
	Y          int     `mapstructure:"y"`
	Name       string  `mapstructure:"name"`
	ClockPin   int     `mapstructure:"clock_pin"`
	MosiPin    int     `mapstructure:"mosi_pin"`
	MisoPin    int     `mapstructure:"miso_pin"`
	SelectPin  int     `mapstructure:"select_pin"`
	MaxVoltage float64 `mapstructure:"max_voltage"`
}

// CircuitConfig describes the board sheet and where each device sits on it.
type CircuitConfig struct {
	Name     string          `mapstructure:"name"`
	Sheet    string          `mapstructure:"sheet"`
	Width    int             `mapstructure:"width"`
	Height   int             `mapstructure:"height"`
	LEDs     []LEDConfig     `mapstructure:"leds"`
	Buttons  []ButtonConfig  `mapstructure:"buttons"`
	Buzzers  []BuzzerConfig  `mapstructure:"buzzers"`
	Servos   []ServoConfig   `mapstructure:"servos"`
	MCP3002s []MCP3002Config `mapstructure:"mcp3002s"`
}

// Tunables may change while the board is running.
type Tunables struct {
	ProportionalGain float64
	IntegralGain     float64
	DerivativeGain   float64
	PollInterval     time.Duration
}

type Config struct {
	Circuit CircuitConfig
	Redis   struct {
		Enabled  bool
		Host     string
		Port     string
		Password string
	}
	Program     string
	Listen      string
	LogLocation string

	mu        sync.RWMutex
	tunables  Tunables
	listeners []func(Tunables)
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("circuit.name", "Virtual GPIO")
	v.SetDefault("circuit.width", 500)
	v.SetDefault("circuit.height", 500)

	v.SetDefault("pid.proportionalGain", 20.0)
	v.SetDefault("pid.integralGain", 0.5)
	v.SetDefault("pid.derivativeGain", 0.0)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")

	v.SetDefault("program", "potservo")
	v.SetDefault("pollInterval", 10*time.Millisecond)
	v.SetDefault("listen", "0.0.0.0:3000")
	v.SetDefault("logLocation", "/var/log/copernicus/")

	return v
}

func LoadConfig(args []string) (*Config, error) {
	flags := pflag.NewFlagSet("copernicus", pflag.ContinueOnError)
	configFile := flags.String("config", "", "circuit configuration file")
	flags.String("listen", "", "address of the board UI server")
	flags.String("program", "", "program to run against the board (potservo, thermostat, none)")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	v := newViper()
	for _, name := range []string{"listen", "program"} {
		if flags.Changed(name) {
			if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
				return nil, err
			}
		}
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("/opt/copernicus/")
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
	}

	err := v.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; defaults describe an empty board
		} else {
			return nil, errors.Wrap(err, "reading config")
		}
	}

	config := &Config{}
	if err := config.load(v); err != nil {
		return nil, err
	}

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			log.Printf("Config %v changed, reloading tunables\n", e.Name)
			config.loadTunables(v)
		})
		v.WatchConfig()
	}

	return config, nil
}

func (c *Config) load(v *viper.Viper) error {
	c.Circuit.Name = v.GetString("circuit.name")
	c.Circuit.Sheet = v.GetString("circuit.sheet")
	c.Circuit.Width = v.GetInt("circuit.width")
	c.Circuit.Height = v.GetInt("circuit.height")

	devices := map[string]interface{}{
		"circuit.leds":     &c.Circuit.LEDs,
		"circuit.buttons":  &c.Circuit.Buttons,
		"circuit.buzzers":  &c.Circuit.Buzzers,
		"circuit.servos":   &c.Circuit.Servos,
		"circuit.mcp3002s": &c.Circuit.MCP3002s,
	}
	for key, target := range devices {
		if err := v.UnmarshalKey(key, target); err != nil {
			return errors.Wrapf(err, "decoding %v", key)
		}
	}
	c.Circuit.applyDefaults()

	c.Redis.Enabled = v.GetBool("redis.enabled")
	c.Redis.Host = v.GetString("redis.host")
	c.Redis.Port = v.GetString("redis.port")
	c.Redis.Password = v.GetString("redis.password")

	c.Program = v.GetString("program")
	c.Listen = v.GetString("listen")
	c.LogLocation = v.GetString("logLocation")

	c.loadTunables(v)

	return c.Circuit.Validate()
}

// OnChange registers f to be called with the new tunables after every reload.
func (c *Config) OnChange(f func(Tunables)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, f)
}

func (c *Config) loadTunables(v *viper.Viper) {
	c.mu.Lock()
	c.tunables.ProportionalGain = v.GetFloat64("pid.proportionalGain")
	c.tunables.IntegralGain = v.GetFloat64("pid.integralGain")
	c.tunables.DerivativeGain = v.GetFloat64("pid.derivativeGain")
	c.tunables.PollInterval = v.GetDuration("pollInterval")
	if c.tunables.PollInterval <= 0 {
		c.tunables.PollInterval = 10 * time.Millisecond
	}
	tunables := c.tunables
	listeners := c.listeners
	c.mu.Unlock()

	for _, f := range listeners {
		f(tunables)
	}
}

func (c *Config) Tunables() Tunables {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tunables
}
