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

// Package i2csim is an in-memory I2C peripheral implementing
// i2cbus.Controller, with devices attached by address.
package i2csim

import (
	"errors"

	"github.com/TheCacophonyProject/mlx90640-recorder/i2cbus"
)

// Device is a byte level target on the simulated bus.
type Device interface {
	// Start is called on START and repeated START.
	Start(dir i2cbus.Direction)
	// WriteByte receives a byte and reports whether it was acknowledged.
	WriteByte(b byte) bool
	ReadByte() byte
	Stop()
}

var errNoDMA = errors.New("i2csim: no DMA transfer pending")

type dmaReq struct {
	addr uint8
	dir  i2cbus.Direction
	buf  []byte
	done func(error)
}

// Sim is a simulated I2C peripheral.
type Sim struct {
	devices map[uint8]Device

	// Hang stops the peripheral from ever raising a flag or completing
	// a DMA transfer, like a bus held low by a device.
	Hang bool
	// AutoDMA completes DMA transfers inside StartDMA. Otherwise they
	// stay pending until Fire or FailDMA.
	AutoDMA bool

	Resets    int
	Speed     uint32
	DMAStarts int

	dev    Device
	dir    i2cbus.Direction
	n      int
	pos    int
	reload bool
	flags  i2cbus.Flags
	dma    *dmaReq
}

// New returns a simulator with no devices attached.
func New() *Sim {
	return &Sim{
		devices: make(map[uint8]Device),
		AutoDMA: true,
	}
}

// Attach puts dev on the bus at addr.
func (s *Sim) Attach(addr uint8, dev Device) {
	s.devices[addr] = dev
}

// Remove takes the device at addr off the bus.
func (s *Sim) Remove(addr uint8) {
	delete(s.devices, addr)
}

// Pending reports whether a DMA transfer is waiting to be fired.
func (s *Sim) Pending() bool {
	return s.dma != nil
}

func (s *Sim) Begin(addr uint8, dir i2cbus.Direction, n int, reload bool) error {
	if n > i2cbus.MaxChunk {
		return i2cbus.ErrTooLong
	}
	s.dir, s.n, s.pos, s.reload = dir, n, 0, reload
	s.flags = 0
	if s.Hang {
		return nil
	}
	dev, ok := s.devices[addr]
	if !ok {
		s.dev = nil
		s.flags = i2cbus.FlagNACK
		return nil
	}
	s.dev = dev
	dev.Start(dir)
	s.flags = s.progress()
	return nil
}

func (s *Sim) Reload(n int, reload bool) error {
	if n > i2cbus.MaxChunk {
		return i2cbus.ErrTooLong
	}
	s.n, s.pos, s.reload = n, 0, reload
	if s.Hang {
		s.flags = 0
		return nil
	}
	s.flags = s.progress()
	return nil
}

func (s *Sim) progress() i2cbus.Flags {
	switch {
	case s.pos < s.n && s.dir == i2cbus.Read:
		return i2cbus.FlagRXNE
	case s.pos < s.n:
		return i2cbus.FlagTXIS
	case s.reload:
		return i2cbus.FlagTCR
	}
	return i2cbus.FlagTC
}

func (s *Sim) Flags() i2cbus.Flags {
	return s.flags
}

func (s *Sim) WriteByte(b byte) {
	if s.dev == nil || s.Hang {
		return
	}
	s.pos++
	if !s.dev.WriteByte(b) {
		s.flags = i2cbus.FlagNACK
		return
	}
	s.flags = s.progress()
}

func (s *Sim) ReadByte() byte {
	if s.dev == nil || s.Hang {
		return 0xFF
	}
	s.pos++
	b := s.dev.ReadByte()
	s.flags = s.progress()
	return b
}

func (s *Sim) Stop() {
	if s.dev != nil {
		s.dev.Stop()
		s.dev = nil
	}
	if s.Hang {
		return
	}
	s.flags = i2cbus.FlagSTOP
}

func (s *Sim) Reset() error {
	s.Resets++
	s.dev = nil
	s.dma = nil
	s.flags = 0
	return nil
}

func (s *Sim) SetSpeed(hz uint32) error {
	s.Speed = hz
	return nil
}

func (s *Sim) StartDMA(addr uint8, dir i2cbus.Direction, buf []byte, done func(error)) error {
	s.DMAStarts++
	s.dma = &dmaReq{addr: addr, dir: dir, buf: buf, done: done}
	if s.AutoDMA && !s.Hang {
		return s.Fire()
	}
	return nil
}

// Fire runs the pending DMA transfer against its device and signals
// completion.
func (s *Sim) Fire() error {
	req := s.dma
	if req == nil {
		return errNoDMA
	}
	s.dma = nil
	dev, ok := s.devices[req.addr]
	if !ok {
		s.dev = nil
		req.done(i2cbus.ErrNack)
		return nil
	}
	dev.Start(req.dir)
	for i := range req.buf {
		if req.dir == i2cbus.Read {
			req.buf[i] = dev.ReadByte()
		} else if !dev.WriteByte(req.buf[i]) {
			dev.Stop()
			req.done(i2cbus.ErrNack)
			return nil
		}
	}
	dev.Stop()
	s.dev = nil
	req.done(nil)
	return nil
}

// FailDMA completes the pending DMA transfer with err.
func (s *Sim) FailDMA(err error) error {
	req := s.dma
	if req == nil {
		return errNoDMA
	}
	s.dma = nil
	req.done(err)
	return nil
}
