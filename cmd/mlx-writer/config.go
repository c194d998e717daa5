// mlx90640-recorder - acquire calibrated thermal images from MLX90640 sensors
//  Copyright (C) 2021, The Cacophony Project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.


package main

import (
	goconfig "github.com/TheCacophonyProject/go-config"
)

const (
	defaultFrameInput = "/var/run/mlx90640-frames"
	defaultOutputDir  = "/var/spool/mlx90640-raw"
)

type Config struct {
	DeviceID   int
	DeviceName string
	FrameInput string
	OutputDir  string
}

func ParseConfig(configFolder string) (*Config, error) {
	configRW, err := goconfig.New(configFolder)
	if err != nil {
		return nil, err
	}

	var deviceConfig goconfig.Device
	if err := configRW.Unmarshal(goconfig.DeviceKey, &deviceConfig); err != nil {
		return nil, err
	}

	return &Config{
		DeviceID:   deviceConfig.ID,
		DeviceName: deviceConfig.Name,
		FrameInput: defaultFrameInput,
		OutputDir:  defaultOutputDir,
	}, nil
}
