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
	"net"

	"github.com/TheCacophonyProject/mlx90640-recorder/headers"
)

// SocketSink streams frames to a unix socket, preceded by a header each
// time the connection is made. A failed connection is redialled on the
// next frame.
type SocketSink struct {
	path   string
	header *headers.HeaderInfo
	conn   net.Conn
	buf    []byte
}

func NewSocketSink(path string, header *headers.HeaderInfo) *SocketSink {
	return &SocketSink{
		path:   path,
		header: header,
		buf:    make([]byte, FrameSize),
	}
}

func (s *SocketSink) Name() string {
	return "socket " + s.path
}

func (s *SocketSink) connect() error {
	conn, err := net.Dial("unix", s.path)
	if err != nil {
		return err
	}
	if err := headers.WriteHeaderInfo(conn, s.header); err != nil {
		conn.Close()
		return err
	}
	s.conn = conn
	return nil
}

func (s *SocketSink) Send(f *Frame) error {
	if s.conn == nil {
		if err := s.connect(); err != nil {
			return err
		}
	}
	if err := EncodeFrame(s.buf, f); err != nil {
		return err
	}
	if _, err := s.conn.Write(s.buf); err != nil {
		s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func (s *SocketSink) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
