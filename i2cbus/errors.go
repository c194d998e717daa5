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

import (
	"errors"
	"fmt"
)

var (
	ErrBusy        = errors.New("i2cbus: busy")
	ErrNack        = errors.New("i2cbus: no acknowledge")
	ErrTimeout     = errors.New("i2cbus: timeout")
	ErrArbitration = errors.New("i2cbus: arbitration lost")
	ErrBus         = errors.New("i2cbus: bus error")
	ErrTooLong     = errors.New("i2cbus: transfer too long")
	ErrLength      = errors.New("i2cbus: invalid transfer length")
)

// BusError describes a failed transaction. It wraps one of the sentinel
// errors above (or an error from the controller).
type BusError struct {
	Op   string
	Addr uint8
	Err  error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("%s 0x%02x: %v", e.Op, e.Addr, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}

func flagsErr(f Flags) error {
	switch {
	case f&FlagNACK != 0:
		return ErrNack
	case f&FlagARLO != 0:
		return ErrArbitration
	case f&FlagBERR != 0:
		return ErrBus
	}
	return nil
}
