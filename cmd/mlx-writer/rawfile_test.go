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


package main

import (
	"bytes"
	"encoding/binary"
	"io"
	"io/ioutil"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheCacophonyProject/go-cptv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCacophonyProject/mlx90640-recorder/headers"
	"github.com/TheCacophonyProject/mlx90640-recorder/output"
)

func writeStream(t *testing.T, frames []*output.Frame) *bytes.Buffer {
	var stream bytes.Buffer
	require.NoError(t, headers.WriteHeaderInfo(&stream, output.Header(4, 2)))
	buf := make([]byte, output.FrameSize)
	for _, f := range frames {
		require.NoError(t, output.EncodeFrame(buf, f))
		stream.Write(buf)
	}
	return &stream
}

func readOnlyFile(t *testing.T, dir string) *bytes.Reader {
	files, err := filepath.Glob(filepath.Join(dir, "*.mlxraw"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := ioutil.ReadFile(files[0])
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestHandleConn(t *testing.T) {
	dir := t.TempDir()
	conf := &Config{DeviceID: 42, DeviceName: "test-device", OutputDir: dir}

	var frames []*output.Frame
	for i := 0; i < 3; i++ {
		f := &output.Frame{Slot: i % 2, Addr: 0x33 + uint8(i%2)}
		f.Image.Timestamp = uint32(1000 * i)
		f.Image.Pixels[0] = float32(20 + i)
		f.Image.Pixels[767] = -12.5
		frames = append(frames, f)
	}

	err := handleConn(writeStream(t, frames), conf)
	assert.Equal(t, io.EOF, err)

	r := readOnlyFile(t, dir)
	magic := make([]byte, 6)
	_, err = io.ReadFull(r, magic)
	require.NoError(t, err)
	assert.Equal(t, []byte("MLXR\x01H"), magic)

	header, err := cptv.ReadFields(r)
	require.NoError(t, err)
	model, err := header.String(cptv.Model)
	require.NoError(t, err)
	assert.Equal(t, "MLX90640", model)
	name, err := header.String(cptv.DeviceName)
	require.NoError(t, err)
	assert.Equal(t, "test-device", name)
	resX, err := header.Uint32(cptv.XResolution)
	require.NoError(t, err)
	assert.Equal(t, uint32(32), resX)
	resY, err := header.Uint32(cptv.YResolution)
	require.NoError(t, err)
	assert.Equal(t, uint32(24), resY)

	for _, want := range frames {
		section, err := r.ReadByte()
		require.NoError(t, err)
		assert.Equal(t, byte('F'), section)
		fields, err := cptv.ReadFields(r)
		require.NoError(t, err)

		offset, err := fields.Uint32(cptv.TimeOn)
		require.NoError(t, err)
		assert.Equal(t, want.Image.Timestamp, offset)
		slot, err := fields.Uint8(slotField)
		require.NoError(t, err)
		assert.Equal(t, uint8(want.Slot), slot)
		addr, err := fields.Uint8(addrField)
		require.NoError(t, err)
		assert.Equal(t, want.Addr, addr)
		width, err := fields.Uint8(cptv.BitWidth)
		require.NoError(t, err)
		assert.Equal(t, uint8(32), width)
		size, err := fields.Uint32(cptv.FrameSize)
		require.NoError(t, err)
		require.Equal(t, uint32(pixelBytes), size)

		payload := make([]byte, size)
		_, err = io.ReadFull(r, payload)
		require.NoError(t, err)
		for i, v := range want.Image.Pixels {
			got := math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
			require.Equal(t, v, got, "pixel %d", i)
		}
	}
	assert.Equal(t, 0, r.Len())
}

func TestHandleConnWrongFormat(t *testing.T) {
	dir := t.TempDir()
	conf := &Config{OutputDir: dir}
	var stream bytes.Buffer
	h := headers.New(output.Brand, output.Model, 32, 24, 4, output.FrameSize).WithFormat("uint16be", 1)
	require.NoError(t, headers.WriteHeaderInfo(&stream, h))
	stream.Write(make([]byte, output.FrameSize))

	err := handleConn(&stream, conf)
	assert.Error(t, err)
	files, _ := filepath.Glob(filepath.Join(dir, "*"))
	assert.Empty(t, files)
}

func TestHandleConnPartialFrame(t *testing.T) {
	conf := &Config{OutputDir: t.TempDir()}
	var stream bytes.Buffer
	require.NoError(t, headers.WriteHeaderInfo(&stream, output.Header(4, 1)))
	stream.Write(make([]byte, output.FrameSize/2))

	err := handleConn(&stream, conf)
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestHandleConnBadHeader(t *testing.T) {
	conf := &Config{OutputDir: t.TempDir()}
	err := handleConn(bytes.NewBufferString("Model: MLX90640\n\n"), conf)
	assert.Error(t, err)
}

func TestNextFileName(t *testing.T) {
	ts := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, filepath.Join("/out", "2021_03_04T05_06_07.mlxraw"), nextFileName("/out", ts))
}
