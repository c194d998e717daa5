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
	"runtime"
	"sync/atomic"
)

const (
	// DefaultTimeout bounds every blocking transfer, in milliseconds.
	DefaultTimeout = 25
	// DefaultDMATimeout is how long a DMA transfer may stay outstanding
	// before DMAResult gives up on it, in milliseconds.
	DefaultDMATimeout = 500
	// MaxDMAWords is the largest DMA transfer accepted.
	MaxDMAWords = 1024

	// Chunks are kept word aligned so no 16 bit value straddles a reload.
	wordChunk = MaxChunk &^ 1
)

const (
	dmaPending uint32 = iota
	dmaDone
	dmaFailed
)

// dmaTx is one outstanding DMA transaction. The completion callback only
// touches its own dmaTx, so a transaction abandoned after a timeout or
// reset can never disturb the one that replaced it.
type dmaTx struct {
	seq   uint32
	op    string
	addr  uint8
	dir   Direction
	start uint32
	raw   []byte
	words []uint16
	err   error
	state uint32
}

// complete runs in interrupt context: swap the bytes, record the outcome
// and publish it. Nothing else.
func (tx *dmaTx) complete(err error) {
	if err == nil && tx.dir == Read {
		getWords(tx.words, tx.raw)
	}
	tx.err = err
	if err != nil {
		atomic.StoreUint32(&tx.state, dmaFailed)
		return
	}
	atomic.StoreUint32(&tx.state, dmaDone)
}

// Bus drives one physical I2C peripheral. It is not safe for concurrent
// use; all calls must come from the one goroutine that polls it.
type Bus struct {
	ctrl  Controller
	clock Clock

	// Timeout and DMATimeout are in milliseconds.
	Timeout    uint32
	DMATimeout uint32

	kick       func()
	kickPeriod uint32
	lastKick   uint32

	seq uint32
	tx  *dmaTx
}

// New returns a Bus using ctrl for register access and clock for timeouts.
func New(ctrl Controller, clock Clock) *Bus {
	if clock == nil {
		clock = SystemClock()
	}
	return &Bus{
		ctrl:       ctrl,
		clock:      clock,
		Timeout:    DefaultTimeout,
		DMATimeout: DefaultDMATimeout,
	}
}

// SetWatchdog makes blocking loops call kick at most once every
// periodMs milliseconds.
func (b *Bus) SetWatchdog(kick func(), periodMs uint32) {
	b.kick = kick
	b.kickPeriod = periodMs
	b.lastKick = b.clock()
}

func (b *Bus) feedWatchdog() {
	if b.kick == nil {
		return
	}
	now := b.clock()
	if Elapsed(now, b.lastKick) >= b.kickPeriod {
		b.lastKick = now
		b.kick()
	}
}

// Busy reports whether a DMA transaction is outstanding.
func (b *Bus) Busy() bool {
	return b.tx != nil
}

// Now returns the bus clock's current reading.
func (b *Bus) Now() uint32 {
	return b.clock()
}

// Write sends words to addr and finishes with a STOP. With no words it
// only addresses the device, which detects whether it is present.
func (b *Bus) Write(addr uint8, words []uint16) error {
	if b.Busy() {
		return &BusError{Op: "write", Addr: addr, Err: ErrBusy}
	}
	buf := make([]byte, 2*len(words))
	putWords(buf, words)
	if err := b.transfer(addr, Write, buf, true); err != nil {
		return &BusError{Op: "write", Addr: addr, Err: err}
	}
	return nil
}

// ReadBlocking reads n words from addr.
func (b *Bus) ReadBlocking(addr uint8, n int) ([]uint16, error) {
	if b.Busy() {
		return nil, &BusError{Op: "read", Addr: addr, Err: ErrBusy}
	}
	if n < 0 {
		return nil, &BusError{Op: "read", Addr: addr, Err: ErrLength}
	}
	buf := make([]byte, 2*n)
	if err := b.transfer(addr, Read, buf, true); err != nil {
		return nil, &BusError{Op: "read", Addr: addr, Err: err}
	}
	words := make([]uint16, n)
	getWords(words, buf)
	return words, nil
}

// ReadReg16 reads n words starting at the 16 bit register reg. The
// pointer write and the read are joined by a repeated START.
func (b *Bus) ReadReg16(addr uint8, reg uint16, n int) ([]uint16, error) {
	if b.Busy() {
		return nil, &BusError{Op: "read reg", Addr: addr, Err: ErrBusy}
	}
	if n < 0 {
		return nil, &BusError{Op: "read reg", Addr: addr, Err: ErrLength}
	}
	if err := b.setPointer(addr, reg); err != nil {
		return nil, &BusError{Op: "read reg", Addr: addr, Err: err}
	}
	buf := make([]byte, 2*n)
	if err := b.transfer(addr, Read, buf, true); err != nil {
		return nil, &BusError{Op: "read reg", Addr: addr, Err: err}
	}
	words := make([]uint16, n)
	getWords(words, buf)
	return words, nil
}

// ReadReg16DMA writes the register pointer and then starts a DMA read of
// n words, returning as soon as the read is armed. The result is
// collected with DMAResult. ErrBusy is returned, and nothing else
// happens, while a previous DMA transaction is outstanding.
func (b *Bus) ReadReg16DMA(addr uint8, reg uint16, n int) error {
	if b.Busy() {
		return &BusError{Op: "read reg dma", Addr: addr, Err: ErrBusy}
	}
	if n <= 0 {
		return &BusError{Op: "read reg dma", Addr: addr, Err: ErrLength}
	}
	if n > MaxDMAWords {
		return &BusError{Op: "read reg dma", Addr: addr, Err: ErrTooLong}
	}
	if err := b.setPointer(addr, reg); err != nil {
		return &BusError{Op: "read reg dma", Addr: addr, Err: err}
	}
	tx := b.newTx("read reg dma", addr, Read, make([]byte, 2*n))
	tx.words = make([]uint16, n)
	return b.startDMA(tx)
}

// WriteDMA starts a DMA write of words to addr.
func (b *Bus) WriteDMA(addr uint8, words []uint16) error {
	if b.Busy() {
		return &BusError{Op: "write dma", Addr: addr, Err: ErrBusy}
	}
	if len(words) == 0 {
		return &BusError{Op: "write dma", Addr: addr, Err: ErrLength}
	}
	if len(words) > MaxDMAWords {
		return &BusError{Op: "write dma", Addr: addr, Err: ErrTooLong}
	}
	raw := make([]byte, 2*len(words))
	putWords(raw, words)
	return b.startDMA(b.newTx("write dma", addr, Write, raw))
}

func (b *Bus) newTx(op string, addr uint8, dir Direction, raw []byte) *dmaTx {
	b.seq++
	return &dmaTx{
		seq:   b.seq,
		op:    op,
		addr:  addr,
		dir:   dir,
		start: b.clock(),
		raw:   raw,
	}
}

func (b *Bus) startDMA(tx *dmaTx) error {
	// Busy before starting: the controller may complete synchronously.
	b.tx = tx
	if err := b.ctrl.StartDMA(tx.addr, tx.dir, tx.raw, tx.complete); err != nil {
		b.tx = nil
		return &BusError{Op: tx.op, Addr: tx.addr, Err: err}
	}
	return nil
}

// DMAResult polls the outstanding DMA transaction. done is false while
// nothing has finished (or nothing was started). Once done is true the
// bus is idle again; words holds the data of a read and err is set when
// the transfer failed or timed out.
func (b *Bus) DMAResult() (words []uint16, done bool, err error) {
	tx := b.tx
	if tx == nil {
		return nil, false, nil
	}
	switch atomic.LoadUint32(&tx.state) {
	case dmaDone:
		b.tx = nil
		return tx.words, true, nil
	case dmaFailed:
		b.tx = nil
		return nil, true, &BusError{Op: tx.op, Addr: tx.addr, Err: tx.err}
	}
	if Elapsed(b.clock(), tx.start) > b.DMATimeout {
		b.tx = nil
		return nil, true, &BusError{Op: tx.op, Addr: tx.addr, Err: ErrTimeout}
	}
	return nil, false, nil
}

// Reset re-initialises the peripheral, abandoning any transfer in flight.
func (b *Bus) Reset() error {
	b.tx = nil
	return b.ctrl.Reset()
}

// SetSpeed changes the bus clock frequency.
func (b *Bus) SetSpeed(hz uint32) error {
	if b.Busy() {
		return &BusError{Op: "set speed", Err: ErrBusy}
	}
	return b.ctrl.SetSpeed(hz)
}

func (b *Bus) setPointer(addr uint8, reg uint16) error {
	return b.transfer(addr, Write, []byte{byte(reg >> 8), byte(reg)}, false)
}

// transfer moves buf in word aligned chunks, chaining reloads until
// nothing remains. Without stop the transfer ends at TC so a repeated
// START can follow.
func (b *Bus) transfer(addr uint8, dir Direction, buf []byte, stop bool) error {
	start := b.clock()
	remaining := len(buf)
	chunk := min(remaining, wordChunk)
	if err := b.ctrl.Begin(addr, dir, chunk, remaining > chunk); err != nil {
		return err
	}
	want := FlagTXIS
	if dir == Read {
		want = FlagRXNE
	}
	pos := 0
	for remaining > 0 {
		for i := 0; i < chunk; i++ {
			if err := b.waitFlag(start, want); err != nil {
				b.ctrl.Stop()
				return err
			}
			if dir == Read {
				buf[pos] = b.ctrl.ReadByte()
			} else {
				b.ctrl.WriteByte(buf[pos])
			}
			pos++
		}
		remaining -= chunk
		if remaining == 0 {
			break
		}
		if err := b.waitFlag(start, FlagTCR); err != nil {
			b.ctrl.Stop()
			return err
		}
		chunk = min(remaining, wordChunk)
		if err := b.ctrl.Reload(chunk, remaining > chunk); err != nil {
			b.ctrl.Stop()
			return err
		}
	}
	if err := b.waitFlag(start, FlagTC); err != nil {
		b.ctrl.Stop()
		return err
	}
	if !stop {
		return nil
	}
	b.ctrl.Stop()
	return b.waitFlag(start, FlagSTOP)
}

// waitFlag spins until one of want is raised, an error flag is raised or
// the transfer's time budget runs out.
func (b *Bus) waitFlag(start uint32, want Flags) error {
	for {
		f := b.ctrl.Flags()
		if err := flagsErr(f); err != nil {
			return err
		}
		if f&want != 0 {
			return nil
		}
		if Elapsed(b.clock(), start) > b.Timeout {
			return ErrTimeout
		}
		b.feedWatchdog()
		runtime.Gosched()
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
