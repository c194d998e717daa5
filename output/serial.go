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


package output

import (
	"io"

	"go.bug.st/serial"
)

// SerialSync starts every frame sent over a serial link.
var SerialSync = []byte{0xAA, 0x55}

// SerialSink sends raw frames over a serial port, each prefixed with
// SerialSync so the receiver can find frame boundaries.
type SerialSink struct {
	name string
	port io.WriteCloser
	buf  []byte
}

// OpenSerialSink opens portName at baud, 8N1.
func OpenSerialSink(portName string, baud int) (*SerialSink, error) {
	p, err := serial.Open(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	return newSerialSink(portName, p), nil
}

func newSerialSink(name string, port io.WriteCloser) *SerialSink {
	buf := make([]byte, len(SerialSync)+FrameSize)
	copy(buf, SerialSync)
	return &SerialSink{name: name, port: port, buf: buf}
}

func (s *SerialSink) Name() string {
	return "serial " + s.name
}

func (s *SerialSink) Send(f *Frame) error {
	if err := EncodeFrame(s.buf[len(SerialSync):], f); err != nil {
		return err
	}
	_, err := s.port.Write(s.buf)
	return err
}

func (s *SerialSink) Close() error {
	return s.port.Close()
}
