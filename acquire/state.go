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

package acquire

import "fmt"

type State int

const (
	// NotInit: the current slot's calibration is about to be read.
	NotInit State = iota
	// WaitParams: a calibration read is in flight.
	WaitParams
	// WaitSubpage: polling the current slot for a new subpage.
	WaitSubpage
	// ReadSubpage: a subpage read is in flight.
	ReadSubpage
	// Relax: paused or stopped.
	Relax
)

var stateNames = [...]string{"not-init", "wait-params", "wait-subpage", "read-subpage", "relax"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}
