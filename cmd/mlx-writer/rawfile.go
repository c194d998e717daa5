// Copyright 2021 The Cacophony Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/TheCacophonyProject/go-cptv"

	"github.com/TheCacophonyProject/mlx90640-recorder/headers"
	"github.com/TheCacophonyProject/mlx90640-recorder/mlx90640"
	"github.com/TheCacophonyProject/mlx90640-recorder/output"
)

const (
	rawMagic        = "MLXR"
	rawVersion byte = 0x01

	headerSection = 'H'
	frameSection  = 'F'

	// Frame fields not defined by cptv.
	slotField = 's'
	addrField = 'a'

	pixelBytes = mlx90640.Pixels * 4
	// bufferFrames is how many frames are held before hitting storage.
	bufferFrames = 256
)

// rawFile is an MLXR file: the magic and version, a header section of
// cptv fields, then one section per image. A frame section carries the
// sensor timestamp, slot and address as fields, followed by the pixels
// as little endian float32 °C.
type rawFile struct {
	f      *os.File
	w      *bufio.Writer
	pixels []byte
}

func createRawFile(conf *Config, t time.Time, h *headers.HeaderInfo) (*rawFile, error) {
	name := nextFileName(conf.OutputDir, t)
	log.Println("writing to", name)
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	rf := &rawFile{
		f:      f,
		w:      bufio.NewWriterSize(f, bufferFrames*h.FrameSize()),
		pixels: make([]byte, pixelBytes),
	}
	if err := rf.writeHeader(conf, t, h); err != nil {
		f.Close()
		return nil, err
	}
	return rf, nil
}

func (rf *rawFile) writeHeader(conf *Config, t time.Time, h *headers.HeaderInfo) error {
	fields := cptv.NewFieldWriter()
	fields.Timestamp(cptv.Timestamp, t)
	if err := fields.String(cptv.Model, h.Model()); err != nil {
		return err
	}
	if err := fields.String(cptv.Brand, h.Brand()); err != nil {
		return err
	}
	fields.Uint8(cptv.FPS, uint8(h.FPS()))
	fields.Uint32(cptv.XResolution, uint32(h.ResX()))
	fields.Uint32(cptv.YResolution, uint32(h.ResY()))
	fields.Uint8(cptv.Compression, 0)
	if err := fields.String(cptv.DeviceName, conf.DeviceName); err != nil {
		return err
	}
	fields.Uint32(cptv.DeviceID, uint32(conf.DeviceID))

	if _, err := rf.w.WriteString(rawMagic); err != nil {
		return err
	}
	if err := rf.w.WriteByte(rawVersion); err != nil {
		return err
	}
	return rf.section(headerSection, fields, nil)
}

func (rf *rawFile) writeFrame(fr *output.Frame) error {
	fields := cptv.NewFieldWriter()
	fields.Uint32(cptv.TimeOn, fr.Image.Timestamp)
	fields.Uint8(slotField, uint8(fr.Slot))
	fields.Uint8(addrField, fr.Addr)
	fields.Uint8(cptv.BitWidth, 32)
	fields.Uint32(cptv.FrameSize, pixelBytes)

	for i, v := range fr.Image.Pixels {
		binary.LittleEndian.PutUint32(rf.pixels[i*4:], math.Float32bits(v))
	}
	return rf.section(frameSection, fields, rf.pixels)
}

func (rf *rawFile) section(kind byte, fields *cptv.FieldWriter, payload []byte) error {
	data, n := fields.Bytes()
	if _, err := rf.w.Write([]byte{kind, byte(n)}); err != nil {
		return err
	}
	if _, err := rf.w.Write(data); err != nil {
		return err
	}
	_, err := rf.w.Write(payload)
	return err
}

func (rf *rawFile) Close() error {
	if err := rf.w.Flush(); err != nil {
		rf.f.Close()
		return err
	}
	return rf.f.Close()
}

func nextFileName(outDir string, t time.Time) string {
	name := fmt.Sprintf("%s.mlxraw", t.Format("2006_01_02T15_04_05"))
	return filepath.Join(outDir, name)
}
