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

// Package acquire multiplexes one I2C bus across several MLX90640
// sensors. A Scheduler is advanced by calling Tick from a single
// goroutine; it never blocks for longer than one bounded register access.
package acquire

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/TheCacophonyProject/mlx90640-recorder/i2cbus"
	"github.com/TheCacophonyProject/mlx90640-recorder/loglimiter"
	"github.com/TheCacophonyProject/mlx90640-recorder/mlx90640"
)

const (
	DefaultMaxErrors    = 11
	DefaultResetTimeout = 5 * time.Second
)

var ErrNoSlot = errors.New("acquire: no such slot")

// Bus is the transport the scheduler drives.
type Bus interface {
	Write(addr uint8, words []uint16) error
	ReadReg16(addr uint8, reg uint16, n int) ([]uint16, error)
	ReadReg16DMA(addr uint8, reg uint16, n int) error
	DMAResult() (words []uint16, done bool, err error)
	Reset() error
}

// ImageListener is told about every image as soon as it is
// reconstructed. The image is owned by the scheduler and is overwritten
// by the next one from the same slot.
type ImageListener interface {
	ImageReady(slot int, addr uint8, img *mlx90640.Image)
}

type Config struct {
	Addresses []uint8
	// MaxErrors is how many consecutive errors a slot may have before it
	// is deactivated.
	MaxErrors int
	// ResetTimeout is how long to go without a fresh image before the
	// bus is reset.
	ResetTimeout time.Duration
	Emissivity   float64
	// BothSubpages reconstructs subpage 0 as well as subpage 1.
	BothSubpages bool
}

// Scheduler runs the acquisition state machine.
type Scheduler struct {
	bus      Bus
	clock    i2cbus.Clock
	recon    mlx90640.Reconstructor
	listener ImageListener
	logs     *loglimiter.LogLimiter

	maxErrors    int
	resetTimeout uint32
	bothSubpages bool

	slots    []*slot
	state    State
	resumeTo State
	cur      int
	waitPage int
	readPage int
	// pending is the address the outstanding DMA read was issued to.
	pending uint8
	// lastFresh is when the bus last made progress.
	lastFresh uint32
	resets    int
}

// New returns a scheduler in the NotInit state with one active slot per
// configured address.
func New(bus Bus, clock i2cbus.Clock, conf Config) *Scheduler {
	if clock == nil {
		clock = i2cbus.SystemClock()
	}
	if conf.MaxErrors <= 0 {
		conf.MaxErrors = DefaultMaxErrors
	}
	if conf.ResetTimeout <= 0 {
		conf.ResetTimeout = DefaultResetTimeout
	}
	recon := mlx90640.DefaultReconstructor
	if conf.Emissivity > 0 {
		recon.Emissivity = conf.Emissivity
	}
	s := &Scheduler{
		bus:          bus,
		clock:        clock,
		recon:        recon,
		logs:         loglimiter.New(time.Minute),
		maxErrors:    conf.MaxErrors,
		resetTimeout: uint32(conf.ResetTimeout / time.Millisecond),
		bothSubpages: conf.BothSubpages,
		waitPage:     1,
	}
	for _, addr := range conf.Addresses {
		sl := newSlot(addr)
		sl.forget()
		s.slots = append(s.slots, sl)
	}
	s.lastFresh = clock()
	return s
}

// SetListener registers l to receive images. Pass nil to stop.
func (s *Scheduler) SetListener(l ImageListener) {
	s.listener = l
}

// Tick advances the state machine by at most one transition.
func (s *Scheduler) Tick() {
	if s.state == Relax || s.ActiveCount() == 0 {
		return
	}
	now := s.clock()
	if i2cbus.Elapsed(now, s.lastFresh) > s.resetTimeout {
		s.resetBus(now)
		return
	}
	if !s.slots[s.cur].active {
		s.moveOn()
		return
	}

	switch s.state {
	case NotInit:
		s.startCalibration()
	case WaitParams:
		s.pollCalibration(now)
	case WaitSubpage:
		s.pollStatus()
	case ReadSubpage:
		s.pollSubpage(now)
	}
}

func (s *Scheduler) startCalibration() {
	sl := s.slots[s.cur]
	if err := s.bus.ReadReg16DMA(sl.addr, mlx90640.EEPROMReg, mlx90640.EEPROMWords); err != nil {
		s.fault(sl, "read calibration", err)
		return
	}
	s.pending = sl.addr
	s.state = WaitParams
}

func (s *Scheduler) pollCalibration(now uint32) {
	sl := s.slots[s.cur]
	words, done, err := s.bus.DMAResult()
	if !done {
		return
	}
	s.state = NotInit
	if sl.addr != s.pending {
		return
	}
	if err != nil {
		s.fault(sl, "read calibration", err)
		return
	}
	params, err := mlx90640.Decode(words)
	if err != nil {
		s.deactivate(sl, &SlotError{Addr: sl.addr, Op: "decode calibration", Err: err})
		s.nextCalibration()
		return
	}
	if err := params.CheckDeviatingPixels(); err != nil {
		log.Printf("sensor 0x%02x: %v", sl.addr, err)
	}
	sl.params = params
	sl.errors = 0
	sl.control = mlx90640.DefaultControl
	if ctrl, err := mlx90640.ReadControl(s.bus, sl.addr); err != nil {
		s.logs.KeyPrintf(slotKey(sl), "sensor 0x%02x: reading control register: %v, assuming 0x%04x",
			sl.addr, err, mlx90640.DefaultControl)
	} else {
		sl.control = ctrl
	}
	log.Printf("sensor 0x%02x calibrated, control 0x%04x (%g Hz)", sl.addr, sl.control,
		mlx90640.RefreshRateHz(mlx90640.RefreshRate(sl.control)))
	s.lastFresh = now
	s.nextCalibration()
}

// nextCalibration moves to the next active slot still needing
// calibration, or starts acquiring once there is none.
func (s *Scheduler) nextCalibration() {
	n := len(s.slots)
	for i := 1; i <= n; i++ {
		idx := (s.cur + i) % n
		sl := s.slots[idx]
		if sl.active && sl.params == nil {
			s.cur = idx
			s.state = NotInit
			return
		}
	}
	if first := s.firstActive(); first >= 0 {
		s.cur = first
		s.waitPage = 1
		s.state = WaitSubpage
	}
}

func (s *Scheduler) pollStatus() {
	sl := s.slots[s.cur]
	if sl.params == nil {
		s.state = NotInit
		return
	}
	ready, sub, err := mlx90640.ReadStatus(s.bus, sl.addr)
	if err != nil {
		s.fault(sl, "read status", err)
		return
	}
	if !ready {
		return
	}
	// Acknowledge whatever arrived so the sensor moves on.
	if err := mlx90640.ClearStatus(s.bus, sl.addr); err != nil {
		s.fault(sl, "clear status", err)
		return
	}
	if sub != s.waitPage {
		return
	}
	if sub == 0 && !s.bothSubpages {
		s.advance()
		return
	}
	if err := s.bus.ReadReg16DMA(sl.addr, mlx90640.RAMReg, mlx90640.FrameWords); err != nil {
		s.fault(sl, "read subpage", err)
		return
	}
	s.pending = sl.addr
	s.readPage = sub
	s.state = ReadSubpage
}

func (s *Scheduler) pollSubpage(now uint32) {
	sl := s.slots[s.cur]
	words, done, err := s.bus.DMAResult()
	if !done {
		return
	}
	s.state = WaitSubpage
	if sl.addr != s.pending || sl.params == nil {
		// The slot was repointed while the read was in flight.
		return
	}
	if err != nil {
		s.fault(sl, "read subpage", err)
		return
	}
	copy(sl.frame.Words[:], words)
	sl.frame.Control = sl.control
	sl.frame.Subpage = s.readPage
	s.recon.Reconstruct(sl.params, &sl.frame, &sl.image.Pixels)
	sl.image.Timestamp = now
	sl.lastImage = now
	sl.hasImage = true
	sl.errors = 0
	s.lastFresh = now
	if s.listener != nil {
		s.listener.ImageReady(s.cur, sl.addr, &sl.image)
	}
	s.advance()
}

// advance moves to the next active slot, flipping the awaited subpage
// each time the round wraps.
func (s *Scheduler) advance() {
	n := len(s.slots)
	for i := 1; i <= n; i++ {
		idx := (s.cur + i) % n
		if !s.slots[idx].active {
			continue
		}
		if s.cur+i >= n {
			s.waitPage = 1 - s.waitPage
		}
		s.cur = idx
		return
	}
}

// moveOn leaves a slot that is no longer active.
func (s *Scheduler) moveOn() {
	switch s.state {
	case NotInit, WaitParams:
		s.state = NotInit
		s.nextCalibration()
	default:
		s.state = WaitSubpage
		s.advance()
	}
}

func (s *Scheduler) fault(sl *slot, op string, err error) {
	sl.errors++
	sl.lastErr = &SlotError{Addr: sl.addr, Op: op, Err: err}
	s.logs.KeyPrintf(slotKey(sl), "%v", sl.lastErr)
	if sl.errors > s.maxErrors {
		s.deactivate(sl, fmt.Errorf("%d consecutive errors, last: %w", sl.errors, sl.lastErr))
		s.moveOn()
	}
}

func (s *Scheduler) deactivate(sl *slot, reason error) {
	sl.active = false
	sl.lastErr = reason
	s.logs.Reset(slotKey(sl))
	log.Printf("sensor 0x%02x deactivated: %v", sl.addr, reason)
}

func (s *Scheduler) resetBus(now uint32) {
	s.resets++
	log.Printf("no fresh image for %dms, resetting bus", i2cbus.Elapsed(now, s.lastFresh))
	if err := s.bus.Reset(); err != nil {
		log.Printf("bus reset failed: %v", err)
	}
	s.lastFresh = now
	s.state = rewind(s.state)
}

// rewind returns the state that reissues the transfer st has in flight.
func rewind(st State) State {
	switch st {
	case WaitParams:
		return NotInit
	case ReadSubpage:
		return WaitSubpage
	}
	return st
}

// abort abandons any transfer in flight in state st.
func (s *Scheduler) abort(st State) State {
	if st != WaitParams && st != ReadSubpage {
		return st
	}
	if err := s.bus.Reset(); err != nil {
		log.Printf("bus reset failed: %v", err)
	}
	return rewind(st)
}

func slotKey(sl *slot) string {
	return fmt.Sprintf("0x%02x", sl.addr)
}

func (s *Scheduler) firstActive() int {
	for i, sl := range s.slots {
		if sl.active {
			return i
		}
	}
	return -1
}

// Pause freezes the scheduler; Resume continues from the same point.
// A transfer in flight is abandoned and reissued on Resume, so the bus
// is idle while paused.
func (s *Scheduler) Pause() {
	if s.state != Relax {
		s.resumeTo = s.abort(s.state)
		s.state = Relax
	}
}

// Stop freezes the scheduler and discards all calibration, so Resume
// starts again by reading every sensor's EEPROM.
func (s *Scheduler) Stop() {
	if err := s.bus.Reset(); err != nil {
		log.Printf("bus reset failed: %v", err)
	}
	for _, sl := range s.slots {
		sl.params = nil
	}
	s.state = Relax
	s.resumeTo = NotInit
	if first := s.firstActive(); first >= 0 {
		s.cur = first
	}
	s.waitPage = 1
}

func (s *Scheduler) Resume() {
	if s.state != Relax {
		return
	}
	s.state = s.resumeTo
	s.lastFresh = s.clock()
}

// Rescan reactivates every slot and recalibrates them all.
func (s *Scheduler) Rescan() {
	if err := s.bus.Reset(); err != nil {
		log.Printf("bus reset failed: %v", err)
	}
	for _, sl := range s.slots {
		sl.active = true
		sl.forget()
		s.logs.Reset(slotKey(sl))
	}
	s.cur = 0
	s.waitPage = 1
	s.lastFresh = s.clock()
	if s.state == Relax {
		s.resumeTo = NotInit
	} else {
		s.state = NotInit
	}
}

// SetAddress points slot at a different device address. The slot is
// reactivated and will be calibrated again.
func (s *Scheduler) SetAddress(slot int, addr uint8) error {
	if slot < 0 || slot >= len(s.slots) {
		return ErrNoSlot
	}
	if addr == 0 || addr > 0x7F {
		return fmt.Errorf("acquire: invalid address 0x%02x", addr)
	}
	sl := s.slots[slot]
	if slot == s.cur {
		// The transfer in flight belongs to the old address.
		if s.state == Relax {
			s.resumeTo = s.abort(s.resumeTo)
		} else {
			s.state = s.abort(s.state)
		}
	}
	sl.addr = addr
	sl.active = true
	sl.forget()
	return nil
}

// State returns the current state.
func (s *Scheduler) State() State {
	return s.state
}

// NumSlots returns the number of configured slots.
func (s *Scheduler) NumSlots() int {
	return len(s.slots)
}

func (s *Scheduler) ActiveCount() int {
	n := 0
	for _, sl := range s.slots {
		if sl.active {
			n++
		}
	}
	return n
}

// ActiveIDs returns the addresses of the active slots.
func (s *Scheduler) ActiveIDs() []uint8 {
	ids := []uint8{}
	for _, sl := range s.slots {
		if sl.active {
			ids = append(ids, sl.addr)
		}
	}
	return ids
}

// Image returns the latest image of slot. It is updated in place.
func (s *Scheduler) Image(slot int) (*mlx90640.Image, bool) {
	if slot < 0 || slot >= len(s.slots) || !s.slots[slot].hasImage {
		return nil, false
	}
	return &s.slots[slot].image, true
}

// LastImageTime returns the clock reading at slot's latest image, or 0.
func (s *Scheduler) LastImageTime(slot int) uint32 {
	if slot < 0 || slot >= len(s.slots) {
		return 0
	}
	return s.slots[slot].lastImage
}

// Params returns the calibration of slot, if it has been read.
func (s *Scheduler) Params(slot int) (*mlx90640.Params, bool) {
	if slot < 0 || slot >= len(s.slots) || s.slots[slot].params == nil {
		return nil, false
	}
	return s.slots[slot].params, true
}

// Stats reports on every slot and the number of bus resets.
func (s *Scheduler) Stats() ([]SlotStats, int) {
	stats := make([]SlotStats, len(s.slots))
	for i, sl := range s.slots {
		stats[i] = sl.stats()
	}
	return stats, s.resets
}
