// Copyright 2021 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/coreos/go-systemd/daemon"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"

	config "github.com/TheCacophonyProject/go-config"

	"github.com/TheCacophonyProject/mlx90640-recorder/acquire"
	"github.com/TheCacophonyProject/mlx90640-recorder/i2cbus"
	"github.com/TheCacophonyProject/mlx90640-recorder/output"
)

// watchdogKickMs is how often blocking bus waits tell systemd we are alive.
const watchdogKickMs = 1000

var version = "<not set>"

type Args struct {
	ConfigFile string `arg:"-c,--config" help:"path to configuration file"`
	ConfigDir  string `arg:"--config-dir" help:"path to device configuration directory"`
	Quick      bool   `arg:"-q,--quick" help:"don't cycle sensor power on startup"`
	Timestamps bool   `arg:"-t,--timestamps" help:"include timestamps in log output"`
	Simulate   bool   `arg:"--simulate" help:"read simulated sensors instead of the I2C bus"`
}

func (Args) Version() string {
	return version
}

func procArgs() Args {
	var args Args
	args.ConfigFile = "/etc/mlx90640d.yaml"
	args.ConfigDir = config.DefaultConfigDir
	arg.MustParse(&args)
	return args
}

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err)
	}
}

func runMain() error {
	args := procArgs()
	if !args.Timestamps {
		log.SetFlags(0) // Removes default timestamp flag
	}

	log.Printf("version: %s", version)
	conf, err := ParseConfigFile(args.ConfigFile)
	if err != nil {
		return err
	}
	if args.Simulate {
		conf.Simulate = true
	}
	logConfig(conf)

	devConf, err := loadDeviceConfig(args.ConfigDir)
	if err != nil {
		if !conf.Simulate {
			return err
		}
		log.Printf("no device config, acquiring all day: %v", err)
		devConf = &deviceConfig{}
	}

	ctrl, closeCtrl, err := openController(conf, args.Quick)
	if err != nil {
		return err
	}
	defer closeCtrl()

	bus := i2cbus.New(ctrl, nil)
	bus.SetWatchdog(func() { daemon.SdNotify(false, "WATCHDOG=1") }, watchdogKickMs)
	if conf.BusSpeed > 0 {
		if err := bus.SetSpeed(conf.BusSpeed); err != nil {
			log.Printf("failed to set bus speed: %v", err)
		}
	}
	if conf.RefreshRate > 0 {
		for _, addr := range conf.Addresses {
			if err := setRefreshRate(bus, addr, conf.RefreshRate); err != nil {
				log.Printf("sensor 0x%02x: failed to set refresh rate: %v", addr, err)
			}
		}
	}

	sched := acquire.New(bus, nil, acquire.Config{
		Addresses:    conf.Addresses,
		MaxErrors:    conf.MaxErrors,
		ResetTimeout: conf.ResetTimeout,
		Emissivity:   conf.Emissivity,
		BothSubpages: conf.BothSubpages,
	})

	snap := output.NewSnapshotter(conf.OutputDir)
	sinks, err := openSinks(conf, snap)
	if err != nil {
		return err
	}
	pub := output.NewPublisher(conf.MaxFPS, sinks...)
	defer pub.Close()
	sched.SetListener(pub)

	a := &acquisition{
		bus:    bus,
		sched:  sched,
		pub:    pub,
		snap:   snap,
		win:    devConf.Window,
		sleep:  time.Sleep,
		notify: func(state string) { daemon.SdNotify(false, state) },
	}

	reqs := make(chan request)
	if _, err := startService(reqs); err != nil {
		if !conf.Simulate {
			return err
		}
		log.Printf("dbus service not started: %v", err)
	}

	done := make(chan struct{})
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Printf("received %v, stopping", sig)
		close(done)
	}()

	daemon.SdNotify(false, "READY=1")
	log.Printf("acquiring from %d sensors", len(conf.Addresses))
	a.run(conf.TickInterval, reqs, done)
	return nil
}

// openSinks returns the configured image outputs.
func openSinks(conf *Config, snap *output.Snapshotter) ([]output.Sink, error) {
	fps := int(conf.MaxFPS)
	if conf.RefreshRate > 0 && (fps == 0 || int(conf.RefreshRate) < fps) {
		fps = int(conf.RefreshRate)
	}
	sinks := []output.Sink{snap}
	if conf.FrameOutput != "" {
		sinks = append(sinks, output.NewSocketSink(conf.FrameOutput, output.Header(fps, len(conf.Addresses))))
	}
	if conf.Serial.Port != "" {
		s, err := output.OpenSerialSink(conf.Serial.Port, conf.Serial.Baud)
		if err != nil {
			return nil, fmt.Errorf("opening serial output: %w", err)
		}
		sinks = append(sinks, s)
	}
	if conf.MQTT.Broker != "" {
		s, err := output.NewMQTTSink(conf.MQTT)
		if err != nil {
			return nil, fmt.Errorf("connecting to mqtt broker: %w", err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// openController returns the bus peripheral, real or simulated, and a
// function that releases it.
func openController(conf *Config, quick bool) (i2cbus.Controller, func(), error) {
	if conf.Simulate {
		log.Print("using simulated sensors")
		return newSimulator(conf.Addresses), func() {}, nil
	}

	log.Print("host initialisation")
	if _, err := host.Init(); err != nil {
		return nil, nil, err
	}

	if !quick {
		if err := cycleSensorPower(conf.PowerPin); err != nil {
			return nil, nil, err
		}
	}

	log.Printf("opening I2C bus %q", conf.I2CBus)
	bus, err := i2creg.Open(conf.I2CBus)
	if err != nil {
		return nil, nil, err
	}
	ctrl := i2cbus.NewTxController(bus)
	return ctrl, func() {
		ctrl.Close()
		bus.Close()
	}, nil
}

func logConfig(conf *Config) {
	log.Printf("I2C bus: %s at %d Hz", conf.I2CBus, conf.BusSpeed)
	log.Printf("power pin: %s", conf.PowerPin)
	log.Printf("sensor addresses: % x", conf.Addresses)
	log.Printf("frame output: %s", conf.FrameOutput)
	log.Printf("max fps: %.1f", conf.MaxFPS)
	if conf.Serial.Port != "" {
		log.Printf("serial output: %s at %d baud", conf.Serial.Port, conf.Serial.Baud)
	}
	if conf.MQTT.Broker != "" {
		log.Printf("mqtt output: %s topic %s", conf.MQTT.Broker, conf.MQTT.Topic)
	}
}

func cycleSensorPower(pinName string) error {
	if pinName == "" {
		return nil
	}

	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return fmt.Errorf("unknown power pin %q", pinName)
	}

	log.Print("turning sensor power off")
	if err := pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to set sensor power pin low: %v", err)
	}
	time.Sleep(time.Second)

	log.Print("turning sensor power on")
	if err := pin.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to set sensor power pin high: %v", err)
	}

	log.Print("waiting for sensor startup")
	time.Sleep(2 * time.Second)
	log.Print("sensors should be ready")
	return nil
}
