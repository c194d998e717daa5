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

package mlx90640_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCacophonyProject/mlx90640-recorder/mlx90640"
	"github.com/TheCacophonyProject/mlx90640-recorder/mlx90640/mlxsim"
)

func makeFrame(words []uint16, ctrl uint16, subpage int) *mlx90640.Frame {
	f := &mlx90640.Frame{Control: ctrl, Subpage: subpage}
	copy(f.Words[:], words)
	return f
}

func decodeSynthetic(t *testing.T) *mlx90640.Params {
	p, err := mlx90640.Decode(mlxsim.EEPROM(100))
	require.NoError(t, err)
	return p
}

func TestVddAndTa(t *testing.T) {
	p := decodeSynthetic(t)
	f := makeFrame(mlxsim.Frame(100, 0), mlx90640.DefaultControl, 0)

	assert.InDelta(t, 3.3, p.Vdd(f), 1e-9)
	assert.InDelta(t, 25.0, p.Ta(f), 0.01)
}

func TestReconstructSubpageParity(t *testing.T) {
	p := decodeSynthetic(t)
	words := mlxsim.Frame(100, 20)

	var img0, img1 [mlx90640.Pixels]float32
	mlx90640.Reconstruct(p, makeFrame(words, mlx90640.DefaultControl, 0), &img0)
	mlx90640.Reconstruct(p, makeFrame(words, mlx90640.DefaultControl, 1), &img1)

	for px := 0; px < mlx90640.Pixels; px++ {
		row, col := px/mlx90640.Width, px%mlx90640.Width
		chess := (row + col) % 2
		if chess == 0 {
			require.NotZero(t, img0[px], "pixel %d", px)
			require.Zero(t, img1[px], "pixel %d", px)
		} else {
			require.Zero(t, img0[px], "pixel %d", px)
			require.NotZero(t, img1[px], "pixel %d", px)
		}
	}
}

func TestReconstructTemperatures(t *testing.T) {
	p := decodeSynthetic(t)
	words := mlxsim.Frame(100, 20)

	var img [mlx90640.Pixels]float32
	mlx90640.Reconstruct(p, makeFrame(words, mlx90640.DefaultControl, 0), &img)
	mlx90640.Reconstruct(p, makeFrame(words, mlx90640.DefaultControl, 1), &img)

	for px, v := range img {
		require.False(t, math.IsNaN(float64(v)), "pixel %d", px)
		require.True(t, v > 20 && v < 40, "pixel %d is %f", px, v)
	}
	// Raw values grow across each row.
	assert.True(t, img[31] > img[1])
	assert.True(t, img[30] > img[0])

	var cold [mlx90640.Pixels]float32
	mlx90640.Reconstruct(p, makeFrame(mlxsim.Frame(100, 0), mlx90640.DefaultControl, 0), &cold)
	assert.True(t, img[0] > cold[0])
	assert.InDelta(t, 25.4, cold[0], 0.5)
}

func TestReconstructInterleaved(t *testing.T) {
	p := decodeSynthetic(t)
	ctrl := mlx90640.SetInterleavedMode(mlx90640.DefaultControl)

	var img [mlx90640.Pixels]float32
	mlx90640.Reconstruct(p, makeFrame(mlxsim.Frame(100, 20), ctrl, 1), &img)
	for px, v := range img {
		if (px/mlx90640.Width)%2 == 1 {
			require.NotZero(t, v, "pixel %d", px)
		} else {
			require.Zero(t, v, "pixel %d", px)
		}
	}
}

func TestReconstructEmissivity(t *testing.T) {
	p := decodeSynthetic(t)
	f := makeFrame(mlxsim.Frame(100, 20), mlx90640.DefaultControl, 0)

	var dull, shiny [mlx90640.Pixels]float32
	mlx90640.Reconstructor{Emissivity: 0.95, TaShift: 8}.Reconstruct(p, f, &dull)
	mlx90640.Reconstructor{Emissivity: 1, TaShift: 8}.Reconstruct(p, f, &shiny)
	assert.NotEqual(t, dull[0], shiny[0])
}

func TestReconstructNaN(t *testing.T) {
	p := decodeSynthetic(t)
	words := mlxsim.Frame(100, 20)
	words[0] = 0x8000

	var img [mlx90640.Pixels]float32
	assert.NotPanics(t, func() {
		mlx90640.Reconstruct(p, makeFrame(words, mlx90640.DefaultControl, 0), &img)
	})
	assert.True(t, math.IsNaN(float64(img[0])))
	assert.False(t, math.IsNaN(float64(img[2])))
}

func TestOutliersAreNotMasked(t *testing.T) {
	ee := mlxsim.EEPROM(100)
	ee[64+2] = 0x0003
	withOutlier, err := mlx90640.Decode(ee)
	require.NoError(t, err)
	require.Equal(t, []uint16{2}, withOutlier.OutlierPixels)
	p := decodeSynthetic(t)

	f := makeFrame(mlxsim.Frame(100, 20), mlx90640.DefaultControl, 0)
	var a, b [mlx90640.Pixels]float32
	mlx90640.Reconstruct(p, f, &a)
	mlx90640.Reconstruct(withOutlier, f, &b)
	assert.Equal(t, a, b)
}

// solveTo is the radiometric equation with emissivity 1, no reflected
// temperature shift and KsTo of the basic range zero.
func solveTo(ir, alpha, ta4 float64) float64 {
	return math.Sqrt(math.Sqrt(ir/alpha+ta4)) - 273.15
}

func TestReconstructTemperatureRanges(t *testing.T) {
	p := decodeSynthetic(t)
	p.Tgc = 0
	p.KsTa = 0
	p.Offset = [mlx90640.Pixels]int16{}
	p.Kta = [mlx90640.Pixels]int8{}
	p.Kv = [4]int8{}
	p.KsTo = [5]float64{-0.01, 0, 0.002, -0.001, -0.0002}
	p.CT = [5]int16{-40, 0, 100, 200, 400}
	p.AlphaScale = 12
	for px := range p.Alpha {
		p.Alpha[px] = 20480
	}
	alpha := 1e-6 * 4096 / 20480.0

	words := mlxsim.Frame(100, 0)
	// Chess mode subpage 1 pixels, raw values chosen for each range.
	raws := map[int]int16{1: -1500, 3: -700, 5: 1000, 7: 3000, 9: 12000}
	for px, raw := range raws {
		words[px] = uint16(raw)
	}
	f := makeFrame(words, mlx90640.DefaultControl, 1)
	ta := p.Ta(f)
	ta4 := math.Pow(ta+273.15, 4)

	var dst [mlx90640.Pixels]float32
	mlx90640.Reconstructor{Emissivity: 1}.Reconstruct(p, f, &dst)

	to := func(px int) float64 { return solveTo(float64(raws[px]), alpha, ta4) }

	// Below the lowest breakpoint nothing is re-solved.
	require.Less(t, to(1), -40.0)
	assert.InDelta(t, to(1), float64(dst[1]), 1e-3)

	require.True(t, to(3) >= -40 && to(3) < 0, "%f", to(3))
	corr := 1 / (1 - 0.01*40) * (1 - 0.01*(to(3)+40))
	assert.InDelta(t, solveTo(-700, alpha*corr, ta4), float64(dst[3]), 1e-3)

	require.True(t, to(5) >= 0 && to(5) < 100, "%f", to(5))
	assert.InDelta(t, to(5), float64(dst[5]), 1e-3)

	require.True(t, to(7) >= 100 && to(7) < 200, "%f", to(7))
	corr = 1 + 0.002*(to(7)-100)
	assert.InDelta(t, solveTo(3000, alpha*corr, ta4), float64(dst[7]), 1e-3)

	require.True(t, to(9) >= 200, "%f", to(9))
	corr = (1 + 0.002*100) * (1 - 0.001*(to(9)-200))
	assert.InDelta(t, solveTo(12000, alpha*corr, ta4), float64(dst[9]), 1e-3)
}
