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
	"math"
)

// ErrCorruptEEPROM is returned by Decode when the calibration words hold
// values a working sensor never reports, usually because the device is
// absent and the bus read all ones or zeros.
var ErrCorruptEEPROM = errors.New("mlx90640: corrupt calibration EEPROM")

const scaleAlpha = 0.000001

// Params are the calibration parameters of one sensor.
type Params struct {
	KVdd  int16
	Vdd25 int16

	KvPTAT    float64
	KtPTAT    float64
	VPTAT25   int16
	AlphaPTAT float64

	GainEE int16
	Tgc    float64
	KsTa   float64

	ResolutionEE      uint8
	CalibrationModeEE uint8
	ILChessC          [3]float64

	// KsTo and CT describe the temperature ranges. CT holds each range's
	// lower bound in °C.
	KsTo [5]float64
	CT   [5]int16

	CPAlpha  [2]float64
	CPOffset [2]int16
	CPKta    float64
	CPKv     float64

	// Per pixel coefficients are stored as integers, to be divided by
	// 2^scale.
	AlphaScale uint8
	Alpha      [Pixels]uint16
	Offset     [Pixels]int16
	KtaScale   uint8
	Kta        [Pixels]int8
	// Kv is indexed by quadrant: row parity * 2 + column parity.
	KvScale uint8
	Kv      [4]int8

	// Deviating pixels are recorded but not masked when reconstructing.
	BrokenPixels  []uint16
	OutlierPixels []uint16
}

// Decode extracts calibration parameters from an EEPROM dump.
func Decode(ee []uint16) (*Params, error) {
	if len(ee) != EEPROMWords {
		return nil, fmt.Errorf("mlx90640: EEPROM dump has %d words, want %d", len(ee), EEPROMWords)
	}
	p := &Params{}
	p.decodeVdd(ee)
	p.decodePTAT(ee)
	p.GainEE = int16(ee[eeGain])
	if p.GainEE == 0 || p.KVdd == 0 || p.KtPTAT == 0 {
		return nil, ErrCorruptEEPROM
	}
	p.Tgc = float64(sbits(ee[eeKsTaTgc], 0, 8)) / 32
	p.ResolutionEE = uint8(bits(ee[eeScales], 12, 2))
	p.KsTa = float64(sbits(ee[eeKsTaTgc], 8, 8)) / 8192
	p.decodeKsTo(ee)
	p.decodeCP(ee)
	p.decodeAlpha(ee)
	p.decodeOffset(ee)
	p.decodeKta(ee)
	p.decodeKv(ee)
	p.decodeILChess(ee)
	p.decodeDeviating(ee)
	return p, nil
}

func (p *Params) decodeVdd(ee []uint16) {
	p.KVdd = int16(sbits(ee[eeVdd], 8, 8) * 32)
	p.Vdd25 = int16((bits(ee[eeVdd], 0, 8)-256)*32 - 8192)
}

func (p *Params) decodePTAT(ee []uint16) {
	p.KvPTAT = float64(sbits(ee[eePTAT], 10, 6)) / 4096
	p.KtPTAT = float64(sbits(ee[eePTAT], 0, 10)) / 8
	p.VPTAT25 = int16(ee[eeVPTAT25])
	p.AlphaPTAT = float64(bits(ee[eeOccScale], 12, 4))/4 + 8
}

func (p *Params) decodeKsTo(ee []uint16) {
	w := ee[eeCT]
	step := int16(bits(w, 12, 2) * 10)
	p.CT[0] = -40
	p.CT[1] = 0
	p.CT[2] = int16(bits(w, 4, 4)) * step
	p.CT[3] = p.CT[2] + int16(bits(w, 8, 4))*step
	p.CT[4] = 400

	scale := float64(int(1) << uint(bits(w, 0, 4)+8))
	p.KsTo[0] = float64(sbits(ee[eeKsTo12], 0, 8)) / scale
	p.KsTo[1] = float64(sbits(ee[eeKsTo12], 8, 8)) / scale
	p.KsTo[2] = float64(sbits(ee[eeKsTo34], 0, 8)) / scale
	p.KsTo[3] = float64(sbits(ee[eeKsTo34], 8, 8)) / scale
	p.KsTo[4] = -0.0002
}

func (p *Params) decodeCP(ee []uint16) {
	alphaScale := bits(ee[eeAccScale], 12, 4) + 27

	p.CPOffset[0] = int16(sbits(ee[eeCPOffset], 0, 10))
	p.CPOffset[1] = int16(sbits(ee[eeCPOffset], 10, 6)) + p.CPOffset[0]

	p.CPAlpha[0] = float64(sbits(ee[eeCPAlpha], 0, 10)) / pow2(alphaScale)
	p.CPAlpha[1] = (1 + float64(sbits(ee[eeCPAlpha], 10, 6))/128) * p.CPAlpha[0]

	p.CPKta = float64(sbits(ee[eeCPK], 0, 8)) / pow2(bits(ee[eeScales], 4, 4)+8)
	p.CPKv = float64(sbits(ee[eeCPK], 8, 8)) / pow2(bits(ee[eeScales], 8, 4))
}

// nibbles unpacks n signed 4 bit values, four per word, low nibble first.
func nibbles(words []uint16, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = sbits(words[i/4], uint(4*(i%4)), 4)
	}
	return out
}

func (p *Params) decodeAlpha(ee []uint16) {
	scales := ee[eeAccScale]
	remScale := uint(bits(scales, 0, 4))
	colScale := uint(bits(scales, 4, 4))
	rowScale := uint(bits(scales, 8, 4))
	alphaScale := bits(scales, 12, 4) + 30
	ref := int(ee[eeAlphaRef])

	accRow := nibbles(ee[eeAccRow:], Height)
	accColumn := nibbles(ee[eeAccColumn:], Width)
	cpTerm := p.Tgc * (p.CPAlpha[0] + p.CPAlpha[1]) / 2

	var alpha [Pixels]float64
	max := math.Inf(-1)
	for i := 0; i < Height; i++ {
		for j := 0; j < Width; j++ {
			px := Width*i + j
			a := sbits(ee[eePixels+px], 4, 6) << remScale
			a += ref + accRow[i]<<rowScale + accColumn[j]<<colScale
			v := float64(a)/pow2(alphaScale) - cpTerm
			alpha[px] = scaleAlpha / v
			if alpha[px] > max {
				max = alpha[px]
			}
		}
	}

	p.AlphaScale = normScale(max, 32767.4)
	for i, a := range alpha {
		p.Alpha[i] = uint16(a*pow2(int(p.AlphaScale)) + 0.5)
	}
}

func (p *Params) decodeOffset(ee []uint16) {
	scales := ee[eeOccScale]
	remScale := uint(bits(scales, 0, 4))
	colScale := uint(bits(scales, 4, 4))
	rowScale := uint(bits(scales, 8, 4))
	ref := int(int16(ee[eeOffsetRef]))

	occRow := nibbles(ee[eeOccRow:], Height)
	occColumn := nibbles(ee[eeOccColumn:], Width)
	for i := 0; i < Height; i++ {
		for j := 0; j < Width; j++ {
			px := Width*i + j
			o := sbits(ee[eePixels+px], 10, 6) << remScale
			p.Offset[px] = int16(ref + occRow[i]<<rowScale + occColumn[j]<<colScale + o)
		}
	}
}

// quadrant of a pixel: row parity in bit 1, column parity in bit 0.
func quadrant(px int) int {
	return 2*(px/Width%2) + px%2
}

func (p *Params) decodeKta(ee []uint16) {
	rc := [4]int{
		int(int8(ee[eeKtaRCEven] >> 8)),
		int(int8(ee[eeKtaRCOdd] >> 8)),
		int(int8(ee[eeKtaRCEven])),
		int(int8(ee[eeKtaRCOdd])),
	}
	scale1 := bits(ee[eeScales], 4, 4) + 8
	scale2 := uint(bits(ee[eeScales], 0, 4))

	var kta [Pixels]float64
	max := 0.0
	for px := range kta {
		k := sbits(ee[eePixels+px], 1, 3)<<scale2 + rc[quadrant(px)]
		kta[px] = float64(k) / pow2(scale1)
		max = math.Max(max, math.Abs(kta[px]))
	}

	p.KtaScale = normScale(max, 63.4)
	for i, k := range kta {
		p.Kta[i] = int8(roundAway(k * pow2(int(p.KtaScale))))
	}
}

func (p *Params) decodeKv(ee []uint16) {
	w := ee[eeKv]
	kv := [4]float64{
		float64(sbits(w, 12, 4)),
		float64(sbits(w, 4, 4)),
		float64(sbits(w, 8, 4)),
		float64(sbits(w, 0, 4)),
	}
	scale := bits(ee[eeScales], 8, 4)

	max := 0.0
	for i := range kv {
		kv[i] /= pow2(scale)
		max = math.Max(max, math.Abs(kv[i]))
	}
	p.KvScale = normScale(max, 63.4)
	for i, k := range kv {
		p.Kv[i] = int8(roundAway(k * pow2(int(p.KvScale))))
	}
}

func (p *Params) decodeILChess(ee []uint16) {
	p.CalibrationModeEE = uint8(bits(ee[eeCalMode], 11, 1)<<7) ^ 0x80

	w := ee[eeILChess]
	p.ILChessC[0] = float64(sbits(w, 0, 6)) / 16
	p.ILChessC[1] = float64(sbits(w, 6, 5)) / 2
	p.ILChessC[2] = float64(sbits(w, 11, 5)) / 8
}

func (p *Params) decodeDeviating(ee []uint16) {
	p.BrokenPixels = nil
	p.OutlierPixels = nil
	for px := 0; px < Pixels; px++ {
		w := ee[eePixels+px]
		if w == 0 {
			p.BrokenPixels = append(p.BrokenPixels, uint16(px))
		} else if w&1 != 0 {
			p.OutlierPixels = append(p.OutlierPixels, uint16(px))
		}
	}
}

// normScale returns how many doublings bring max up to limit.
func normScale(max, limit float64) uint8 {
	var scale uint8
	for max > 0 && max < limit && scale < 63 {
		max *= 2
		scale++
	}
	return scale
}

func roundAway(v float64) float64 {
	if v < 0 {
		return v - 0.5
	}
	return v + 0.5
}

func pow2(n int) float64 {
	return math.Ldexp(1, n)
}
