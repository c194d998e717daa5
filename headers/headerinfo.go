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


package headers

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"gopkg.in/yaml.v1"
)

// Header keys.
const (
	XResolution = "ResX"
	YResolution = "ResY"
	FPS         = "FPS"
	FrameSize   = "FrameSize"
	Model       = "Model"
	Brand       = "Brand"
	PixelFormat = "PixelFormat"
	Sensors     = "Sensors"
)

// HeaderInfo describes the frames that follow it on a frame stream.
type HeaderInfo struct {
	resX        int
	resY        int
	fps         int
	framesize   int
	brand       string
	model       string
	pixelFormat string
	sensors     int
}

// New returns the header for a stream of framesize byte frames of
// resX by resY pixels, produced by sensors devices at fps.
func New(brand, model string, resX, resY, fps, framesize int) *HeaderInfo {
	return &HeaderInfo{
		resX:      resX,
		resY:      resY,
		fps:       fps,
		framesize: framesize,
		brand:     brand,
		model:     model,
		sensors:   1,
	}
}

// WithFormat sets the pixel encoding and the number of sensors sharing
// the stream.
func (h *HeaderInfo) WithFormat(pixelFormat string, sensors int) *HeaderInfo {
	h.pixelFormat = pixelFormat
	h.sensors = sensors
	return h
}

func (h *HeaderInfo) ResX() int {
	return h.resX
}

func (h *HeaderInfo) ResY() int {
	return h.resY
}

func (h *HeaderInfo) FPS() int {
	return h.fps
}

// FrameSize returns the number of bytes in each frame, including the
// per-frame preamble.
func (h *HeaderInfo) FrameSize() int {
	return h.framesize
}

func (h *HeaderInfo) Model() string {
	return h.model
}

func (h *HeaderInfo) Brand() string {
	return h.brand
}

// PixelFormat names the pixel encoding, e.g. "float32le".
func (h *HeaderInfo) PixelFormat() string {
	return h.pixelFormat
}

// Sensors returns how many sensors are multiplexed onto the stream.
func (h *HeaderInfo) Sensors() int {
	return h.sensors
}

// WriteHeaderInfo writes h as a YAML block terminated by an empty line.
func WriteHeaderInfo(w io.Writer, h *HeaderInfo) error {
	buf, err := yaml.Marshal(map[string]interface{}{
		XResolution: h.resX,
		YResolution: h.resY,
		FPS:         h.fps,
		FrameSize:   h.framesize,
		Brand:       h.brand,
		Model:       h.model,
		PixelFormat: h.pixelFormat,
		Sensors:     h.sensors,
	})
	if err != nil {
		return err
	}
	_, err = w.Write(append(buf, '\n'))
	return err
}

func ReadHeaderInfo(reader *bufio.Reader) (*HeaderInfo, error) {
	var buf bytes.Buffer
	for {
		line, err := reader.ReadString(byte('\n'))
		if err != nil {
			return nil, err
		}
		if strings.Trim(line, " ") == "\n" {
			break
		}
		buf.WriteString(line)
	}
	h := make(map[string]interface{})
	err := yaml.Unmarshal(buf.Bytes(), &h)
	if err != nil {
		return nil, err
	}

	return &HeaderInfo{
		resX:        toInt(h[XResolution]),
		resY:        toInt(h[YResolution]),
		fps:         toInt(h[FPS]),
		framesize:   toInt(h[FrameSize]),
		brand:       toStr(h[Brand]),
		model:       toStr(h[Model]),
		pixelFormat: toStr(h[PixelFormat]),
		sensors:     toInt(h[Sensors]),
	}, nil
}

func toInt(v interface{}) int {
	out, ok := v.(int)
	if !ok {
		return 0
	}
	return out
}

func toStr(v interface{}) string {
	out, ok := v.(string)
	if !ok {
		return ""
	}
	return out
}
