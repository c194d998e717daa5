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

import "math"

const kelvin = 273.15

// Frame is one subpage as read from the sensor's RAM, together with the
// control register in force and the subpage it belongs to.
type Frame struct {
	Words   [FrameWords]uint16
	Control uint16
	Subpage int
}

// Image is a temperature map in °C, row major, with the millisecond
// timestamp at which it was completed.
type Image struct {
	Pixels    [Pixels]float32
	Timestamp uint32
}

// Reconstructor converts frames to temperatures.
type Reconstructor struct {
	Emissivity float64
	// TaShift is subtracted from the ambient temperature to estimate the
	// reflected temperature.
	TaShift float64
}

// DefaultReconstructor suits a sensor in open air.
var DefaultReconstructor = Reconstructor{Emissivity: 0.95, TaShift: 8}

// Reconstruct writes the pixels of f's subpage into dst using the
// default reconstructor. Pixels of the other subpage are left alone, so
// feeding both subpages into one buffer yields a full image.
func Reconstruct(p *Params, f *Frame, dst *[Pixels]float32) {
	DefaultReconstructor.Reconstruct(p, f, dst)
}

func signed(w uint16) float64 {
	return float64(int16(w))
}

// Vdd returns the supply voltage in volts.
func (p *Params) Vdd(f *Frame) float64 {
	resRAM := bits(f.Control, 10, 2)
	correction := pow2(int(p.ResolutionEE)) / pow2(resRAM)
	return (correction*signed(f.Words[ramVdd])-float64(p.Vdd25))/float64(p.KVdd) + 3.3
}

// Ta returns the sensor's ambient temperature in °C.
func (p *Params) Ta(f *Frame) float64 {
	return p.ta(f, p.Vdd(f))
}

func (p *Params) ta(f *Frame, vdd float64) float64 {
	ptat := signed(f.Words[ramPTAT])
	vbe := signed(f.Words[ramVbe])
	art := ptat / (ptat*p.AlphaPTAT + vbe) * pow2(18)
	ta := art/(1+p.KvPTAT*(vdd-3.3)) - float64(p.VPTAT25)
	return ta/p.KtPTAT + 25
}

func pow4(v float64) float64 {
	v *= v
	return v * v
}

func root4(v float64) float64 {
	return math.Sqrt(math.Sqrt(v))
}

// patterns returns the interleaved and chess subpage of pixel px.
func patterns(px int) (il, chess int) {
	il = px / Width % 2
	chess = il ^ px%2
	return il, chess
}

// Reconstruct writes the temperature of every pixel belonging to f's
// subpage into dst. Results may be NaN for pixels whose raw values make
// the radiometric equation unsolvable.
func (r Reconstructor) Reconstruct(p *Params, f *Frame, dst *[Pixels]float32) {
	w := &f.Words
	vdd := p.Vdd(f)
	ta := p.ta(f, vdd)
	dTa := ta - 25
	dVdd := vdd - 3.3

	ta4 := pow4(ta + kelvin)
	tr4 := pow4(ta - r.TaShift + kelvin)
	taTr := tr4 - (tr4-ta4)/r.Emissivity

	ktaScale := pow2(int(p.KtaScale))
	kvScale := pow2(int(p.KvScale))
	alphaScale := pow2(int(p.AlphaScale))

	var alphaCorr [4]float64
	alphaCorr[0] = 1 / (1 + p.KsTo[0]*40)
	alphaCorr[1] = 1
	alphaCorr[2] = 1 + p.KsTo[1]*float64(p.CT[2])
	alphaCorr[3] = alphaCorr[2] * (1 + p.KsTo[2]*float64(p.CT[3]-p.CT[2]))

	gain := float64(p.GainEE) / signed(w[ramGain])

	mode := uint8(bits(f.Control, 12, 1) << 7)
	cpScale := (1 + p.CPKta*dTa) * (1 + p.CPKv*dVdd)
	var cp [2]float64
	cp[0] = gain*signed(w[ramCP0]) - float64(p.CPOffset[0])*cpScale
	if mode == p.CalibrationModeEE {
		cp[1] = gain*signed(w[ramCP1]) - float64(p.CPOffset[1])*cpScale
	} else {
		cp[1] = gain*signed(w[ramCP1]) - (float64(p.CPOffset[1])+p.ILChessC[0])*cpScale
	}
	cpSub := cp[f.Subpage&1]

	for px := 0; px < Pixels; px++ {
		il, chess := patterns(px)
		pattern := il
		if mode != 0 {
			pattern = chess
		}
		if pattern != f.Subpage {
			continue
		}

		kta := float64(p.Kta[px]) / ktaScale
		kv := float64(p.Kv[quadrant(px)]) / kvScale
		ir := gain * signed(w[px])
		ir -= float64(p.Offset[px]) * (1 + kta*dTa) * (1 + kv*dVdd)
		if mode != p.CalibrationModeEE {
			conv := float64(((px+2)/4 - (px+3)/4 + (px+1)/4 - px/4) * (1 - 2*il))
			ir += p.ILChessC[2]*float64(2*il-1) - p.ILChessC[1]*conv
		}
		ir -= p.Tgc * cpSub
		ir /= r.Emissivity

		alpha := scaleAlpha * alphaScale / float64(p.Alpha[px])
		alpha *= 1 + p.KsTa*dTa

		sx := alpha * alpha * alpha * (ir + alpha*taTr)
		sx = root4(sx) * p.KsTo[1]
		to := root4(ir/(alpha*(1-p.KsTo[1]*kelvin)+sx)+taTr) - kelvin

		if to >= float64(p.CT[0]) {
			rng := tempRange(p, to)
			to = root4(ir/(alpha*alphaCorr[rng]*(1+p.KsTo[rng]*(to-float64(p.CT[rng]))))+taTr) - kelvin
		}
		dst[px] = float32(to)
	}
}

// tempRange returns the calibration range containing to.
func tempRange(p *Params, to float64) int {
	switch {
	case to < float64(p.CT[1]):
		return 0
	case to < float64(p.CT[2]):
		return 1
	case to < float64(p.CT[3]):
		return 2
	}
	return 3
}
