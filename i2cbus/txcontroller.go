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

package i2cbus

import (
	"errors"
	"sync"

	"gopkg.in/tomb.v2"
	"periph.io/x/periph/conn/physic"
	"tinygo.org/x/drivers"
)

var errNoSpeed = errors.New("i2cbus: bus does not support speed changes")

// speedSetter is a periph bus.
type speedSetter interface {
	SetSpeed(f physic.Frequency) error
}

// baudSetter is a TinyGo machine.I2C.
type baudSetter interface {
	SetBaudRate(br uint32) error
}

type dmaJob struct {
	addr uint8
	w    []byte
	r    []byte
	done func(error)
}

// TxController adapts a transaction oriented bus, such as a Linux i2c-dev
// bus opened with periph, to the Controller interface. Byte level calls
// are buffered and turned into Tx calls; a register pointer written
// without STOP is sent together with the following read. DMA transfers
// run on a worker goroutine which calls done when the Tx returns.
type TxController struct {
	bus drivers.I2C

	// mu serialises Tx calls between the caller and the DMA worker.
	mu sync.Mutex

	addr    uint8
	dir     Direction
	n       int
	pos     int
	reload  bool
	flags   Flags
	pending []byte
	ptr     []byte
	nread   int
	rbuf    []byte

	t    tomb.Tomb
	jobs chan dmaJob
}

// NewTxController wraps bus and starts its DMA worker. Call Close to stop
// the worker.
func NewTxController(bus drivers.I2C) *TxController {
	c := &TxController{
		bus:  bus,
		jobs: make(chan dmaJob, 1),
	}
	c.t.Go(c.worker)
	return c
}

// Close stops the DMA worker.
func (c *TxController) Close() error {
	c.t.Kill(nil)
	return c.t.Wait()
}

func (c *TxController) worker() error {
	for {
		select {
		case <-c.t.Dying():
			return nil
		case job := <-c.jobs:
			c.mu.Lock()
			err := c.bus.Tx(uint16(job.addr), job.w, job.r)
			c.mu.Unlock()
			job.done(err)
		}
	}
}

func (c *TxController) tx(addr uint8, w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bus.Tx(uint16(addr), w, r)
}

// flush sends a buffered write that was never followed by a read.
func (c *TxController) flush() error {
	if c.pending == nil {
		return nil
	}
	w := c.pending
	c.pending = nil
	return c.tx(c.addr, w, nil)
}

// takePointer returns the buffered write if it is addressed to addr, so
// it can be sent in front of a read.
func (c *TxController) takePointer(addr uint8) ([]byte, error) {
	if c.pending == nil {
		return nil, nil
	}
	if c.addr != addr {
		return nil, c.flush()
	}
	w := c.pending
	c.pending = nil
	return w, nil
}

func (c *TxController) Begin(addr uint8, dir Direction, n int, reload bool) error {
	if n > MaxChunk {
		return ErrTooLong
	}
	c.flags = 0
	if dir == Write {
		if err := c.flush(); err != nil {
			c.flags = FlagNACK
			return nil
		}
		c.addr, c.dir, c.n, c.pos, c.reload = addr, dir, n, 0, reload
		c.pending = make([]byte, 0, n)
		c.flags = c.writeFlags()
		return nil
	}
	ptr, err := c.takePointer(addr)
	c.addr, c.dir, c.n, c.pos, c.reload = addr, dir, n, 0, reload
	c.ptr = ptr
	c.nread = 0
	if err != nil {
		c.flags = FlagNACK
		return nil
	}
	c.readChunk(ptr)
	return nil
}

func (c *TxController) Reload(n int, reload bool) error {
	if n > MaxChunk {
		return ErrTooLong
	}
	c.n, c.pos, c.reload = n, 0, reload
	if c.dir == Write {
		c.flags = c.writeFlags()
		return nil
	}
	// Sensor registers auto-increment by word, so continue from the
	// pointer plus what was already read.
	var ptr []byte
	if len(c.ptr) == 2 {
		reg := uint16(c.ptr[0])<<8 | uint16(c.ptr[1])
		reg += uint16(c.nread / 2)
		ptr = []byte{byte(reg >> 8), byte(reg)}
	}
	c.readChunk(ptr)
	return nil
}

func (c *TxController) readChunk(ptr []byte) {
	c.rbuf = make([]byte, c.n)
	if err := c.tx(c.addr, ptr, c.rbuf); err != nil {
		c.flags = FlagNACK
		return
	}
	c.flags = c.readFlags()
}

func (c *TxController) writeFlags() Flags {
	if c.pos < c.n {
		return FlagTXIS
	}
	if c.reload {
		return FlagTCR
	}
	return FlagTC
}

func (c *TxController) readFlags() Flags {
	if c.pos < c.n {
		return FlagRXNE
	}
	if c.reload {
		return FlagTCR
	}
	return FlagTC
}

func (c *TxController) Flags() Flags {
	return c.flags
}

func (c *TxController) WriteByte(b byte) {
	if c.dir != Write || c.pos >= c.n {
		return
	}
	c.pending = append(c.pending, b)
	c.pos++
	c.flags = c.writeFlags()
}

func (c *TxController) ReadByte() byte {
	if c.dir != Read || c.pos >= c.n {
		return 0
	}
	b := c.rbuf[c.pos]
	c.pos++
	c.nread++
	c.flags = c.readFlags()
	return b
}

func (c *TxController) Stop() {
	err := c.flush()
	c.flags = FlagSTOP
	if err != nil {
		c.flags |= FlagNACK
	}
}

func (c *TxController) Reset() error {
	c.pending = nil
	c.ptr = nil
	c.rbuf = nil
	c.flags = 0
	return nil
}

func (c *TxController) SetSpeed(hz uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch s := c.bus.(type) {
	case speedSetter:
		return s.SetSpeed(physic.Frequency(hz) * physic.Hertz)
	case baudSetter:
		return s.SetBaudRate(hz)
	}
	return errNoSpeed
}

// StartDMA queues buf for the worker. A register pointer left pending by
// a write without STOP is sent ahead of a read.
func (c *TxController) StartDMA(addr uint8, dir Direction, buf []byte, done func(error)) error {
	job := dmaJob{addr: addr, done: done}
	if dir == Read {
		ptr, err := c.takePointer(addr)
		if err != nil {
			return err
		}
		job.w, job.r = ptr, buf
	} else {
		if err := c.flush(); err != nil {
			return err
		}
		job.w = buf
	}
	select {
	case c.jobs <- job:
		return nil
	default:
		return ErrBusy
	}
}
