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

package mlx90640

import (
	"errors"
	"fmt"
	"time"
)

// Bus is the blocking part of a word oriented I2C bus.
type Bus interface {
	Write(addr uint8, words []uint16) error
	ReadReg16(addr uint8, reg uint16, n int) ([]uint16, error)
}

// Control register fields.
const (
	refreshShift    = 7
	refreshMask     = 0x7 << refreshShift
	resolutionShift = 10
	resolutionMask  = 0x3 << resolutionShift
	chessBit        = 1 << 12
)

var refreshRates = [8]float64{0.5, 1, 2, 4, 8, 16, 32, 64}

// RefreshRate returns the refresh rate code (0 to 7) in ctrl.
func RefreshRate(ctrl uint16) uint8 {
	return uint8(bits(ctrl, refreshShift, 3))
}

// RefreshRateHz converts a refresh rate code to subpages per second.
func RefreshRateHz(code uint8) float64 {
	return refreshRates[code&7]
}

// RefreshRateCode returns the code for the slowest rate not below hz.
func RefreshRateCode(hz float64) (uint8, error) {
	for code, r := range refreshRates {
		if r >= hz {
			return uint8(code), nil
		}
	}
	return 0, fmt.Errorf("mlx90640: refresh rate %g Hz too high", hz)
}

func SetRefreshRate(ctrl uint16, code uint8) uint16 {
	return ctrl&^refreshMask | uint16(code&7)<<refreshShift
}

// Resolution returns the ADC resolution code: 0 is 16 bit, 3 is 19 bit.
func Resolution(ctrl uint16) uint8 {
	return uint8(bits(ctrl, resolutionShift, 2))
}

func SetResolution(ctrl uint16, code uint8) uint16 {
	return ctrl&^resolutionMask | uint16(code&3)<<resolutionShift
}

// ChessMode reports whether subpages follow the chess pattern rather
// than interleaved rows.
func ChessMode(ctrl uint16) bool {
	return ctrl&chessBit != 0
}

func SetChessMode(ctrl uint16) uint16 {
	return ctrl | chessBit
}

func SetInterleavedMode(ctrl uint16) uint16 {
	return ctrl &^ chessBit
}

func readWord(bus Bus, addr uint8, reg uint16) (uint16, error) {
	w, err := bus.ReadReg16(addr, reg, 1)
	if err != nil {
		return 0, err
	}
	return w[0], nil
}

// ReadControl reads the control register of the sensor at addr.
func ReadControl(bus Bus, addr uint8) (uint16, error) {
	return readWord(bus, addr, ControlReg)
}

func WriteControl(bus Bus, addr uint8, ctrl uint16) error {
	return bus.Write(addr, []uint16{ControlReg, ctrl})
}

// ReadStatus returns whether new data is ready and which subpage it is.
func ReadStatus(bus Bus, addr uint8) (ready bool, subpage int, err error) {
	w, err := readWord(bus, addr, StatusReg)
	if err != nil {
		return false, 0, err
	}
	return w&StatusNewData != 0, int(w & StatusSubpage), nil
}

// ClearStatus acknowledges the current subpage.
func ClearStatus(bus Bus, addr uint8) error {
	return bus.Write(addr, []uint16{StatusReg, StatusClear})
}

// ReadParams reads and decodes the calibration EEPROM with blocking
// reads.
func ReadParams(bus Bus, addr uint8) (*Params, error) {
	ee, err := bus.ReadReg16(addr, EEPROMReg, EEPROMWords)
	if err != nil {
		return nil, err
	}
	return Decode(ee)
}

// ErrAddressNotWritten is returned when an address change does not
// read back.
var ErrAddressNotWritten = errors.New("mlx90640: address change did not verify")

// ChangeAddress programs a new I2C address into the sensor's EEPROM. The
// cell is erased and rewritten, keeping its upper byte, with the write
// time given to sleep after each step. The sensor answers at the new
// address only after a power cycle.
func ChangeAddress(bus Bus, from, to uint8, sleep func(time.Duration)) error {
	if to == 0 || to > 0x7F {
		return fmt.Errorf("mlx90640: invalid address 0x%02x", to)
	}
	if sleep == nil {
		sleep = time.Sleep
	}
	old, err := readWord(bus, from, AddressReg)
	if err != nil {
		return err
	}
	if err := bus.Write(from, []uint16{AddressReg, 0}); err != nil {
		return err
	}
	sleep(10 * time.Millisecond)
	val := old&0xFF00 | uint16(to)
	if err := bus.Write(from, []uint16{AddressReg, val}); err != nil {
		return err
	}
	sleep(10 * time.Millisecond)
	got, err := readWord(bus, from, AddressReg)
	if err != nil {
		return err
	}
	if got != val {
		return ErrAddressNotWritten
	}
	return nil
}
