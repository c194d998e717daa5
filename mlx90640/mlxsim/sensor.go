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

// Package mlxsim simulates an MLX90640 on an i2csim bus.
package mlxsim

import (
	"github.com/TheCacophonyProject/mlx90640-recorder/i2cbus/i2csim"
	"github.com/TheCacophonyProject/mlx90640-recorder/mlx90640"
)

// Sensor is the register map of a simulated MLX90640.
type Sensor struct {
	*i2csim.Regs

	freeRun bool
	frames  [2][]uint16
	subpage int
	cleared bool
}

// New returns a sensor holding ee in its EEPROM, with the default
// control register and no data ready.
func New(ee []uint16) *Sensor {
	s := &Sensor{Regs: i2csim.NewRegs()}
	s.Set(mlx90640.EEPROMReg, ee...)
	s.Set(mlx90640.ControlReg, mlx90640.DefaultControl)
	s.Set(mlx90640.StatusReg, 0)
	s.OnWrite = s.written
	s.OnRead = s.reading
	return s
}

// PushSubpage loads words into RAM and flags them as new data for
// subpage sub.
func (s *Sensor) PushSubpage(sub int, words []uint16) {
	s.Set(mlx90640.RAMReg, words...)
	s.subpage = sub & 1
	s.Set(mlx90640.StatusReg, mlx90640.StatusNewData|uint16(s.subpage))
}

// FreeRun makes the sensor measure continuously, alternating between
// the two frames. A new subpage is ready whenever the status is polled
// after the previous one was acknowledged.
func (s *Sensor) FreeRun(sub0, sub1 []uint16) {
	s.freeRun = true
	s.frames = [2][]uint16{sub0, sub1}
	s.PushSubpage(1, sub1)
}

// Status returns the status register.
func (s *Sensor) Status() uint16 {
	return s.Get(mlx90640.StatusReg)
}

func (s *Sensor) written(reg, val uint16) {
	if reg == mlx90640.StatusReg && val&mlx90640.StatusNewData == 0 {
		s.cleared = true
	}
}

func (s *Sensor) reading(reg uint16) {
	if reg != mlx90640.StatusReg || !s.freeRun || !s.cleared {
		return
	}
	s.cleared = false
	next := s.subpage ^ 1
	s.PushSubpage(next, s.frames[next])
}
