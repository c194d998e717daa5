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


// Package output delivers reconstructed images to the rest of the
// device: a unix socket stream, a serial link, MQTT summaries and PNG
// snapshots.
package output

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/TheCacophonyProject/mlx90640-recorder/headers"
	"github.com/TheCacophonyProject/mlx90640-recorder/mlx90640"
)

const (
	Brand       = "Melexis"
	Model       = "MLX90640"
	PixelFormat = "float32le"

	// PreambleSize is the per-frame prefix: slot, address, two reserved
	// bytes and the little endian millisecond timestamp.
	PreambleSize = 8
	FrameSize    = PreambleSize + mlx90640.Pixels*4
)

var errShortFrame = errors.New("output: short frame")

// Frame is one image with the sensor it came from.
type Frame struct {
	Slot  int
	Addr  uint8
	Image mlx90640.Image
}

// Header returns the stream header describing frames from sensors
// devices arriving at fps in total.
func Header(fps, sensors int) *headers.HeaderInfo {
	return headers.New(Brand, Model, mlx90640.Width, mlx90640.Height, fps, FrameSize).
		WithFormat(PixelFormat, sensors)
}

// EncodeFrame writes f into dst, which must hold FrameSize bytes.
func EncodeFrame(dst []byte, f *Frame) error {
	if len(dst) < FrameSize {
		return errShortFrame
	}
	dst[0] = byte(f.Slot)
	dst[1] = f.Addr
	dst[2], dst[3] = 0, 0
	binary.LittleEndian.PutUint32(dst[4:], f.Image.Timestamp)
	b := dst[PreambleSize:]
	for i, v := range f.Image.Pixels {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return nil
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(src []byte, f *Frame) error {
	if len(src) < FrameSize {
		return fmt.Errorf("%w: %d bytes", errShortFrame, len(src))
	}
	f.Slot = int(src[0])
	f.Addr = src[1]
	f.Image.Timestamp = binary.LittleEndian.Uint32(src[4:])
	b := src[PreambleSize:]
	for i := range f.Image.Pixels {
		f.Image.Pixels[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return nil
}

// Sink receives frames from a Publisher.
type Sink interface {
	Name() string
	Send(f *Frame) error
	Close() error
}
