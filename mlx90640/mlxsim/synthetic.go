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

package mlxsim

import "github.com/TheCacophonyProject/mlx90640-recorder/mlx90640"

// The values below describe a plausible sensor: Vdd 3.3 V, ambient about
// 25 °C and pixel offsets of -100.
const (
	pixelOffset = -100
	ramVbe      = 768
	ramCP0      = 776
	ramGain     = 778
	ramPTAT     = 800
	ramCP1      = 808
	ramVdd      = 810
)

// EEPROM returns a calibration dump with the given gain.
func EEPROM(gainEE int16) []uint16 {
	ee := make([]uint16, mlx90640.EEPROMWords)
	ee[10] = 0x0000 // calibrated in chess mode
	ee[16] = 0x4000 // alphaPTAT 9, offset scales 0
	ee[17] = uint16(0xFFFF + pixelOffset + 1)
	ee[32] = 0x7000
	ee[33] = 0x3000
	ee[48] = uint16(gainEE)
	ee[49] = 12483
	ee[50] = 0x0190
	ee[51] = 0x9C5C
	ee[52] = 0x2222
	ee[53] = 0x0000
	ee[54] = 0x6868
	ee[55] = 0x6868
	ee[56] = 0x2470
	ee[57] = 0x01A0
	ee[58] = 0x03C4
	ee[59] = 0x4040
	ee[60] = 0xF020
	ee[61] = 0x9797
	ee[62] = 0x9797
	ee[63] = 0x2889
	for px := 0; px < mlx90640.Pixels; px++ {
		ee[64+px] = 0x0002
	}
	return ee
}

// Frame returns RAM contents for a sensor calibrated with EEPROM(gainEE).
// warm adds to every pixel's raw value, plus a small gradient across
// each row, so larger values read hotter.
func Frame(gainEE int16, warm int) []uint16 {
	words := make([]uint16, mlx90640.FrameWords)
	for px := 0; px < mlx90640.Pixels; px++ {
		raw := pixelOffset + warm + px%mlx90640.Width/2
		words[px] = uint16(int16(raw))
	}
	words[ramVbe] = 12000
	words[ramPTAT] = 1000
	words[ramCP0] = uint16(0xFFC4) // -60
	words[ramCP1] = uint16(0xFFC4)
	words[ramGain] = uint16(gainEE)
	words[ramVdd] = 0xCB80
	return words
}
