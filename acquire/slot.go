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

package acquire

import (
	"fmt"

	"github.com/TheCacophonyProject/mlx90640-recorder/mlx90640"
)

// SlotError records why a slot's last operation failed.
type SlotError struct {
	Addr uint8
	Op   string
	Err  error
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("sensor 0x%02x: %s: %v", e.Addr, e.Op, e.Err)
}

func (e *SlotError) Unwrap() error {
	return e.Err
}

// slot is one configured sensor.
type slot struct {
	addr      uint8
	active    bool
	errors    int
	lastErr   error
	lastImage uint32

	params  *mlx90640.Params
	control uint16

	frame    mlx90640.Frame
	image    mlx90640.Image
	hasImage bool
}

func newSlot(addr uint8) *slot {
	return &slot{addr: addr, active: true}
}

// forget drops everything learnt from the device.
func (s *slot) forget() {
	s.params = nil
	s.control = mlx90640.DefaultControl
	s.hasImage = false
	s.errors = 0
	s.lastErr = nil
}

// SlotStats describes a slot for status reports.
type SlotStats struct {
	Addr       uint8
	Active     bool
	Calibrated bool
	Errors     int
	LastImage  uint32
	LastError  string
}

func (s *slot) stats() SlotStats {
	st := SlotStats{
		Addr:       s.addr,
		Active:     s.active,
		Calibrated: s.params != nil,
		Errors:     s.errors,
		LastImage:  s.lastImage,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
