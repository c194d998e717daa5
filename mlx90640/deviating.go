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

import "errors"

var (
	ErrTooManyBroken    = errors.New("mlx90640: more than 4 broken pixels")
	ErrTooManyOutliers  = errors.New("mlx90640: more than 4 outlier pixels")
	ErrTooManyDeviating = errors.New("mlx90640: more than 4 deviating pixels")
	ErrAdjacentPixels   = errors.New("mlx90640: adjacent deviating pixels")
)

// CheckDeviatingPixels reports whether the sensor's broken and outlier
// pixels are within the limits the manufacturer guarantees. It is a
// diagnostic only: Reconstruct never masks these pixels.
func (p *Params) CheckDeviatingPixels() error {
	broken, outliers := p.BrokenPixels, p.OutlierPixels
	switch {
	case len(broken) > 4:
		return ErrTooManyBroken
	case len(outliers) > 4:
		return ErrTooManyOutliers
	case len(broken)+len(outliers) > 4:
		return ErrTooManyDeviating
	}
	if anyAdjacent(broken, broken, true) || anyAdjacent(outliers, outliers, true) ||
		anyAdjacent(broken, outliers, false) {
		return ErrAdjacentPixels
	}
	return nil
}

// anyAdjacent compares every pixel of a with every pixel of b. When a and
// b are the same list each pair is compared once.
func anyAdjacent(a, b []uint16, same bool) bool {
	for i := range a {
		j := 0
		if same {
			j = i + 1
		}
		for ; j < len(b); j++ {
			if adjacent(a[i], b[j]) {
				return true
			}
		}
	}
	return false
}

// adjacent reports whether two pixels touch horizontally, vertically or
// diagonally in the vendor's linear index space.
func adjacent(p1, p2 uint16) bool {
	d := int(p1) - int(p2)
	if d < 0 {
		d = -d
	}
	return d < 2 || (d > Width-2 && d < Width+2)
}
