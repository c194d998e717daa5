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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBits(t *testing.T) {
	assert.Equal(t, 0xD, bits(0xABCD, 0, 4))
	assert.Equal(t, 0xBC, bits(0xABCD, 4, 8))
	assert.Equal(t, 0x2, bits(0xABCD, 14, 2))
	assert.Equal(t, 0x3FF, bits(0xFFFF, 0, 10))
}

func TestSignExtendBoundary(t *testing.T) {
	for _, width := range []uint{4, 5, 6, 8, 10} {
		half := 1 << (width - 1)
		full := 1 << width
		assert.Equal(t, half-1, signExtend(half-1, width), "width %d", width)
		assert.Equal(t, -half, signExtend(half, width), "width %d", width)
		assert.Equal(t, -1, signExtend(full-1, width), "width %d", width)
		assert.Equal(t, 0, signExtend(0, width), "width %d", width)
	}
}

func TestSbits(t *testing.T) {
	// 0x03C4: low 10 bits are 964, which is -60.
	assert.Equal(t, -60, sbits(0x03C4, 0, 10))
	assert.Equal(t, 0, sbits(0x03C4, 10, 6))
	assert.Equal(t, -100, sbits(0x9C5C, 8, 8))
}

func TestQuadrant(t *testing.T) {
	assert.Equal(t, 0, quadrant(0))
	assert.Equal(t, 1, quadrant(1))
	assert.Equal(t, 2, quadrant(Width))
	assert.Equal(t, 3, quadrant(Width+1))
	assert.Equal(t, 0, quadrant(2*Width))
}

func TestNormScale(t *testing.T) {
	assert.Equal(t, uint8(9), normScale(0.125, 63.4))
	assert.Equal(t, uint8(0), normScale(100, 63.4))
	assert.Equal(t, uint8(0), normScale(0, 63.4))
	assert.Equal(t, uint8(0), normScale(-1, 63.4))
}

func TestAdjacent(t *testing.T) {
	assert.True(t, adjacent(40, 41))
	assert.True(t, adjacent(40, 40+Width))
	assert.True(t, adjacent(40+Width+1, 40))
	assert.True(t, adjacent(40, 40+Width-1))
	assert.False(t, adjacent(40, 42))
	assert.False(t, adjacent(40, 40+2*Width))
}
