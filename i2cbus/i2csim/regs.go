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

package i2csim

import "github.com/TheCacophonyProject/mlx90640-recorder/i2cbus"

// Regs is a device with a 16 bit register pointer and 16 bit big endian
// registers. The first two bytes of a write set the pointer, following
// pairs are stored at it. Reads return words from the pointer on. The
// pointer increments after every word.
type Regs struct {
	words map[uint16]uint16

	// OnWrite, when set, is called after each register write.
	OnWrite func(reg, val uint16)
	// OnRead, when set, is called before each register is read.
	OnRead func(reg uint16)

	ptr     uint16
	written int
	hi      byte
	lowNext bool
}

func NewRegs() *Regs {
	return &Regs{words: make(map[uint16]uint16)}
}

// Set stores words starting at reg.
func (r *Regs) Set(reg uint16, words ...uint16) {
	for i, w := range words {
		r.words[reg+uint16(i)] = w
	}
}

// Get returns the word at reg.
func (r *Regs) Get(reg uint16) uint16 {
	return r.words[reg]
}

func (r *Regs) Start(dir i2cbus.Direction) {
	r.written = 0
	r.lowNext = false
}

func (r *Regs) WriteByte(b byte) bool {
	switch r.written {
	case 0:
		r.ptr = uint16(b) << 8
	case 1:
		r.ptr |= uint16(b)
	default:
		if r.written%2 == 0 {
			r.hi = b
		} else {
			reg := r.ptr
			val := uint16(r.hi)<<8 | uint16(b)
			r.words[reg] = val
			r.ptr++
			if r.OnWrite != nil {
				r.OnWrite(reg, val)
			}
		}
	}
	r.written++
	return true
}

func (r *Regs) ReadByte() byte {
	if !r.lowNext && r.OnRead != nil {
		r.OnRead(r.ptr)
	}
	w := r.words[r.ptr]
	if !r.lowNext {
		r.lowNext = true
		return byte(w >> 8)
	}
	r.lowNext = false
	r.ptr++
	return byte(w)
}

func (r *Regs) Stop() {}
