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

// Package mlx90640 decodes the calibration EEPROM of a Melexis MLX90640
// far infrared array and turns raw subpage frames into temperatures.
package mlx90640

const (
	Width  = 32
	Height = 24
	Pixels = Width * Height

	DefaultAddress = 0x33

	// EEPROMReg is the first of EEPROMWords calibration words.
	EEPROMReg   uint16 = 0x2400
	EEPROMWords        = 832
	// RAMReg is the first of FrameWords measurement words.
	RAMReg     uint16 = 0x0400
	FrameWords        = 832

	StatusReg  uint16 = 0x8000
	ControlReg uint16 = 0x800D
	// AddressReg holds the device's I2C address in its low byte.
	AddressReg uint16 = 0x240F

	StatusNewData uint16 = 0x0008
	StatusSubpage uint16 = 0x0007
	// StatusClear acknowledges new data and starts the next measurement.
	StatusClear   uint16 = 0x0030

	// DefaultControl is the control register value after power up: 2 Hz,
	// 18 bit ADC, chess pattern.
	DefaultControl uint16 = 0x1901
)

// Offsets of service words within a frame.
const (
	ramVbe  = 768
	ramCP0  = 776
	ramGain = 778
	ramPTAT = 800
	ramCP1  = 808
	ramVdd  = 810
)

// Offsets of calibration words within the EEPROM.
const (
	eeCalMode   = 10
	eeOccScale  = 16
	eeOffsetRef = 17
	eeOccRow    = 18
	eeOccColumn = 24
	eeAccScale  = 32
	eeAlphaRef  = 33
	eeAccRow    = 34
	eeAccColumn = 40
	eeGain      = 48
	eeVPTAT25   = 49
	eePTAT      = 50
	eeVdd       = 51
	eeKv        = 52
	eeILChess   = 53
	eeKtaRCEven = 54
	eeKtaRCOdd  = 55
	eeScales    = 56
	eeCPAlpha   = 57
	eeCPOffset  = 58
	eeCPK       = 59
	eeKsTaTgc   = 60
	eeKsTo12    = 61
	eeKsTo34    = 62
	eeCT        = 63
	eePixels    = 64
)

// bits returns the width bit wide field of v starting at bit shift.
func bits(v uint16, shift, width uint) int {
	return int(v>>shift) & (1<<width - 1)
}

// signExtend interprets the low width bits of v as two's complement.
func signExtend(v int, width uint) int {
	if v >= 1<<(width-1) {
		v -= 1 << width
	}
	return v
}

// sbits is signExtend(bits(v, shift, width), width).
func sbits(v uint16, shift, width uint) int {
	return signExtend(bits(v, shift, width), width)
}
