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


//go:build tinygo

package i2cbus

import (
	"machine"

	"tinygo.org/x/drivers"
)

var _ drivers.I2C = (*machine.I2C)(nil)

// NewMachineController configures an on-chip I2C peripheral at hz and
// wraps it. Bus speed changes go through its SetBaudRate.
func NewMachineController(i2c *machine.I2C, sda, scl machine.Pin, hz uint32) (*TxController, error) {
	err := i2c.Configure(machine.I2CConfig{
		Frequency: hz,
		SDA:       sda,
		SCL:       scl,
	})
	if err != nil {
		return nil, err
	}
	return NewTxController(i2c), nil
}
