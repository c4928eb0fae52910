package main

import (
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"gobot.io/x/gobot/v2"
	"gopkg.in/natefinch/lumberjack.v2"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

func main() {
	config, err := LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	os.MkdirAll(config.LogLocation, 0755)

	logger := &lumberjack.Logger{
		Filename:   strings.TrimSuffix(config.LogLocation, "/") + "/copernicus.log",
		MaxSize:    200, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	defer logger.Close()

	mw := io.MultiWriter(os.Stdout, logger)
	log.SetOutput(mw)

	db, err := NewDB()
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	var recorder Recorder
	if config.Redis.Enabled {
		recorder = NewRedis(config.Redis.Host, config.Redis.Port, &config.Redis.Password)
	}

	circuit, err := NewCircuit(config.Circuit, db, recorder)
	if err != nil {
		log.Fatal(err)
	}

	for i, adc := range circuit.ADCs {
		port := adc.Port
		err := spireg.Register(port.String(), nil, i, func() (spi.PortCloser, error) {
			return port, nil
		})
		if err != nil {
			log.Fatal(err)
		}
	}

	program, err := NewProgram(config.Program, circuit, config)
	if err != nil {
		log.Fatal(err)
	}
	defer program.Stop()
	defer circuit.Stop()

	work := func() {
		handler := NewHandler(circuit, db)

		circuit.Start(config.Tunables().PollInterval)
		config.OnChange(func(t Tunables) {
			circuit.Start(t.PollInterval)
		})

		log.Printf("Running %v on %v\n", program.Name, circuit.Config.Name)
		go program.Work()

		go func() {
			log.Printf("Listening on http://%v\n", config.Listen)
			log.Fatal(http.ListenAndServe(config.Listen, handler))
		}()
	}

	robot := gobot.NewRobot("copernicus",
		[]gobot.Connection{circuit.Board},
		program.Devices,
		work,
	)

	if err := robot.Start(); err != nil {
		log.Fatal(err)
	}
}
