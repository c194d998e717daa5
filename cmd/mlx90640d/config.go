// Copyright 2021 The Cacophony Project. All rights reserved.
// Use of this source code is governed by the Apache License Version 2.0;
// see the LICENSE file for further details.

package main

import (
	"errors"
	"fmt"
	"io/ioutil"
	"time"

	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/window"
	yaml "gopkg.in/yaml.v2"

	"github.com/TheCacophonyProject/mlx90640-recorder/output"
)

type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type Config struct {
	I2CBus       string            `yaml:"i2c-bus"`
	BusSpeed     uint32            `yaml:"bus-speed"`
	PowerPin     string            `yaml:"power-pin"`
	Addresses    []uint8           `yaml:"addresses"`
	MaxErrors    int               `yaml:"max-errors"`
	ResetTimeout time.Duration     `yaml:"reset-timeout"`
	TickInterval time.Duration     `yaml:"tick-interval"`
	RefreshRate  float64           `yaml:"refresh-rate"`
	Emissivity   float64           `yaml:"emissivity"`
	BothSubpages bool              `yaml:"both-subpages"`
	FrameOutput  string            `yaml:"frame-output"`
	OutputDir    string            `yaml:"output-dir"`
	MaxFPS       float64           `yaml:"max-fps"`
	Serial       SerialConfig      `yaml:"serial"`
	MQTT         output.MQTTConfig `yaml:"mqtt"`
	Simulate     bool              `yaml:"simulate"`
}

func defaultConfig() Config {
	return Config{
		I2CBus:       "1",
		BusSpeed:     400000,
		PowerPin:     "GPIO23",
		Addresses:    []uint8{0x33},
		MaxErrors:    11,
		ResetTimeout: 5 * time.Second,
		TickInterval: time.Millisecond,
		Emissivity:   0.95,
		FrameOutput:  "/var/run/mlx90640-frames",
		OutputDir:    "/var/spool/mlx90640",
		MaxFPS:       8,
		Serial:       SerialConfig{Baud: 115200},
		MQTT: output.MQTTConfig{
			Topic:    "mlx90640/images",
			ClientID: "mlx90640d",
		},
	}
}

func ParseConfigFile(filename string) (*Config, error) {
	buf, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseConfig(buf)
}

func ParseConfig(buf []byte) (*Config, error) {
	conf := defaultConfig()
	if err := yaml.Unmarshal(buf, &conf); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (conf *Config) Validate() error {
	seen := make(map[uint8]bool)
	for _, addr := range conf.Addresses {
		if addr == 0 || addr > 0x77 {
			return fmt.Errorf("invalid sensor address 0x%02x", addr)
		}
		if seen[addr] {
			return fmt.Errorf("sensor address 0x%02x listed twice", addr)
		}
		seen[addr] = true
	}
	if conf.TickInterval <= 0 {
		return errors.New("tick-interval must be positive")
	}
	if conf.Emissivity <= 0 || conf.Emissivity > 1 {
		return errors.New("emissivity must be in (0, 1]")
	}
	if conf.MaxFPS < 0 {
		return errors.New("max-fps can't be negative")
	}
	if conf.RefreshRate < 0 || conf.RefreshRate > 64 {
		return errors.New("refresh-rate must be between 0 and 64")
	}
	if conf.Serial.Port != "" && conf.Serial.Baud <= 0 {
		return errors.New("serial baud must be positive")
	}
	if conf.MQTT.Broker != "" && conf.MQTT.Topic == "" {
		return errors.New("mqtt topic is required")
	}
	return nil
}

// deviceConfig is the part of the shared device configuration this
// daemon uses.
type deviceConfig struct {
	ID     int
	Name   string
	Window *window.Window
}

func loadDeviceConfig(configDir string) (*deviceConfig, error) {
	conf, err := goconfig.New(configDir)
	if err != nil {
		return nil, err
	}

	var device goconfig.Device
	if err := conf.Unmarshal(goconfig.DeviceKey, &device); err != nil {
		return nil, err
	}
	windowLocation := goconfig.DefaultWindowLocation()
	if err := conf.Unmarshal(goconfig.LocationKey, &windowLocation); err != nil {
		return nil, err
	}
	windows := goconfig.DefaultWindows()
	if err := conf.Unmarshal(goconfig.WindowsKey, &windows); err != nil {
		return nil, err
	}

	w, err := window.New(
		windows.StartRecording,
		windows.StopRecording,
		float64(windowLocation.Latitude),
		float64(windowLocation.Longitude))
	if err != nil {
		return nil, err
	}
	return &deviceConfig{
		ID:     device.ID,
		Name:   device.Name,
		Window: w,
	}, nil
}
