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

import "time"

// Clock returns a free running millisecond counter. It is allowed to
// wrap; intervals are always computed with unsigned subtraction.
type Clock func() uint32

// SystemClock returns a Clock counting milliseconds since it was created.
func SystemClock() Clock {
	start := time.Now()
	return func() uint32 {
		return uint32(time.Since(start) / time.Millisecond)
	}
}

// Elapsed returns the milliseconds from since to now, tolerating a
// wrapped counter.
func Elapsed(now, since uint32) uint32 {
	return now - since
}
